/*
NAME
  mfu_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mfu

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func timedUnit(seq, sample, offset uint32, priority, dep byte, data []byte) []byte {
	buf := make([]byte, timedHeaderLen, timedHeaderLen+len(data))
	binary.BigEndian.PutUint32(buf[0:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], sample)
	binary.BigEndian.PutUint32(buf[8:12], offset)
	buf[12] = priority
	buf[13] = dep
	return append(buf, data...)
}

func TestReadTimedNonAggregated(t *testing.T) {
	unit := timedUnit(1, 2, 3, 4, 5, []byte("payload"))

	p, err := Read(unit, true, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Timed == nil {
		t.Fatal("Timed = nil, want populated")
	}
	if p.Timed.SampleNumber != 2 {
		t.Errorf("SampleNumber = %d, want 2", p.Timed.SampleNumber)
	}
	if !bytes.Equal(p.Timed.Data, []byte("payload")) {
		t.Errorf("Data = %q, want %q", p.Timed.Data, "payload")
	}
	if p.TimedAggregated != nil || p.Aggregated != nil || p.Default != nil {
		t.Errorf("unexpected populated fields: %+v", p)
	}
}

func TestReadTimedAggregated(t *testing.T) {
	u1 := timedUnit(1, 1, 0, 0, 0, []byte("a"))
	u2 := timedUnit(1, 2, 0, 0, 0, []byte("bb"))

	var data []byte
	for _, u := range [][]byte{u1, u2} {
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(u)))
		data = append(data, lenBuf...)
		data = append(data, u...)
	}

	p, err := Read(data, true, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(p.TimedAggregated) != 2 {
		t.Fatalf("TimedAggregated has %d entries, want 2", len(p.TimedAggregated))
	}
	if p.TimedAggregated[0].SampleNumber != 1 || p.TimedAggregated[1].SampleNumber != 2 {
		t.Errorf("sample numbers = %d, %d, want 1, 2", p.TimedAggregated[0].SampleNumber, p.TimedAggregated[1].SampleNumber)
	}
	if !bytes.Equal(p.TimedAggregated[0].Data, []byte("a")) {
		t.Errorf("TimedAggregated[0].Data = %q, want %q", p.TimedAggregated[0].Data, "a")
	}
	if !bytes.Equal(p.TimedAggregated[1].Data, []byte("bb")) {
		t.Errorf("TimedAggregated[1].Data = %q, want %q", p.TimedAggregated[1].Data, "bb")
	}
}

func TestReadNonTimedNonAggregated(t *testing.T) {
	data := make([]byte, 4)
	binary.BigEndian.PutUint32(data, 0xDEADBEEF)
	data = append(data, []byte("item-bytes")...)

	p, err := Read(data, false, false)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Default == nil {
		t.Fatal("Default = nil, want populated")
	}
	if p.Default.ItemID != 0xDEADBEEF {
		t.Errorf("ItemID = 0x%x, want 0xdeadbeef", p.Default.ItemID)
	}
	if !bytes.Equal(p.Default.Data, []byte("item-bytes")) {
		t.Errorf("Data = %q, want %q", p.Default.Data, "item-bytes")
	}
}

func TestReadNonTimedAggregated(t *testing.T) {
	item := func(id uint32, data []byte) []byte {
		buf := make([]byte, 4, 4+len(data))
		binary.BigEndian.PutUint32(buf, id)
		return append(buf, data...)
	}
	u1 := item(1, []byte("one"))
	u2 := item(2, []byte("two"))

	var data []byte
	for _, u := range [][]byte{u1, u2} {
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(u)))
		data = append(data, lenBuf...)
		data = append(data, u...)
	}

	p, err := Read(data, false, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(p.Aggregated) != 2 {
		t.Fatalf("Aggregated has %d entries, want 2", len(p.Aggregated))
	}
	if p.Aggregated[0].ItemID != 1 || p.Aggregated[1].ItemID != 2 {
		t.Errorf("item ids = %d, %d, want 1, 2", p.Aggregated[0].ItemID, p.Aggregated[1].ItemID)
	}
	if !bytes.Equal(p.Aggregated[0].Data, []byte("one")) {
		t.Errorf("Aggregated[0].Data = %q, want %q", p.Aggregated[0].Data, "one")
	}
}

func TestReadRejectsTruncatedTimedUnit(t *testing.T) {
	_, err := Read(make([]byte, timedHeaderLen-1), true, false)
	if err != ErrTruncated {
		t.Errorf("Read() error = %v, want ErrTruncated", err)
	}
}

func TestReadRejectsShortUnitLenInAggregate(t *testing.T) {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, timedHeaderLen-1) // below the minimum unit length
	_, err := Read(data, true, true)
	if err != ErrTruncated {
		t.Errorf("Read() error = %v, want ErrTruncated", err)
	}
}
