/*
NAME
  mpegts_test.go

DESCRIPTION
  mpegts_test.go contains testing for functionality found in mpegts.go.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mts

import (
	"bytes"
	"testing"
)

// TestBytes checks that Packet.Bytes() correctly produces a []byte
// representation of a Packet.
func TestBytes(t *testing.T) {
	const payloadLen, payloadChar, stuffingChar = 120, 0x11, 0xff
	const stuffingLen = PacketSize - payloadLen - 12

	tests := []struct {
		packet         Packet
		expectedHeader []byte
	}{
		{
			packet: Packet{
				PUSI: true,
				PID:  1,
				RAI:  true,
				CC:   4,
				AFC:  hasPayload | hasAdaptationField,
				PCRF: true,
				PCR:  1,
			},
			expectedHeader: []byte{
				0x47,                               // Sync byte.
				0x40,                               // TEI=0, PUSI=1, TP=0, PID=00000.
				0x01,                               // PID(Cont)=00000001.
				0x34,                               // TSC=00, AFC=11(adaptation followed by payload), CC=0100(4).
				byte(7 + stuffingLen),              // AFL=.
				0x50,                               // DI=0,RAI=1,ESPI=0,PCRF=1,OPCRF=0,SPF=0,TPDF=0, AFEF=0.
				0x00, 0x00, 0x00, 0x00, 0x80, 0x00, // PCR.
			},
		},
	}

	for testNum, test := range tests {
		// Construct payload.
		payload := make([]byte, 0, payloadLen)
		for i := 0; i < payloadLen; i++ {
			payload = append(payload, payloadChar)
		}

		// Fill the packet payload.
		test.packet.FillPayload(payload)

		// Create expected packet data and copy in expected header.
		expected := make([]byte, len(test.expectedHeader), PacketSize)
		copy(expected, test.expectedHeader)

		// Append stuffing.
		for i := 0; i < stuffingLen; i++ {
			expected = append(expected, stuffingChar)
		}

		// Append payload to expected bytes.
		expected = append(expected, payload...)

		// Compare got with expected.
		got := test.packet.Bytes(nil)
		if !bytes.Equal(got, expected) {
			t.Errorf("did not get expected result for test: %v.\n Got: %v\n Want: %v\n", testNum, got, expected)
		}
	}
}

// TestFindPid checks that FindPid can correctly extract the first instance
// of a PID from an MPEG-TS stream.
func TestFindPid(t *testing.T) {
	const targetPacketNum, numOfPackets, targetPid, stdPid = 6, 15, 1, 0

	// Prepare the stream of packets.
	var stream []byte
	for i := 0; i < numOfPackets; i++ {
		pid := uint16(stdPid)
		if i == targetPacketNum {
			pid = targetPid
		}

		p := Packet{
			PID: pid,
			AFC: hasPayload | hasAdaptationField,
		}
		p.FillPayload([]byte{byte(i)})
		stream = append(stream, p.Bytes(nil)...)
	}

	// Try to find the targetPid in the stream.
	got, i, err := FindPid(stream, targetPid)
	if err != nil {
		t.Fatalf("unexpected error finding PID: %v\n", err)
	}

	// Check the payload is the one we wrote for the target packet: the
	// first byte following the 4-byte header and AFC-controlled fields.
	var p Packet
	p.PID = targetPid
	p.AFC = hasPayload | hasAdaptationField
	p.FillPayload([]byte{byte(targetPacketNum)})
	want := p.Bytes(nil)
	if !bytes.Equal(got, want) {
		t.Errorf("found packet = %x, want %x", got, want)
	}

	// Check the index.
	gotIdx := i / PacketSize
	if gotIdx != targetPacketNum {
		t.Errorf("index of found packet is not correct.\nGot: %v, want: %v\n", gotIdx, targetPacketNum)
	}
}

// TestFindPat checks that FindPat locates the packet carrying PatPid.
func TestFindPat(t *testing.T) {
	var stream []byte
	for i := 0; i < 3; i++ {
		p := Packet{PID: uint16(100 + i), AFC: hasPayload}
		p.FillPayload([]byte{0})
		stream = append(stream, p.Bytes(nil)...)
	}
	pat := Packet{PID: PatPid, AFC: hasPayload}
	pat.FillPayload([]byte{1})
	stream = append(stream, pat.Bytes(nil)...)

	got, i, err := FindPat(stream)
	if err != nil {
		t.Fatalf("FindPat: %v", err)
	}
	if i/PacketSize != 3 {
		t.Errorf("FindPat index = %d, want 3", i/PacketSize)
	}
	if !bytes.Equal(got, pat.Bytes(nil)) {
		t.Errorf("FindPat packet does not match written PAT packet")
	}
}

// TestFindPmt checks that FindPmt locates the packet carrying PmtPid.
func TestFindPmt(t *testing.T) {
	var stream []byte
	pmt := Packet{PID: PmtPid, AFC: hasPayload}
	pmt.FillPayload([]byte{1})
	stream = append(stream, pmt.Bytes(nil)...)
	for i := 0; i < 3; i++ {
		p := Packet{PID: uint16(100 + i), AFC: hasPayload}
		p.FillPayload([]byte{0})
		stream = append(stream, p.Bytes(nil)...)
	}

	got, i, err := FindPmt(stream)
	if err != nil {
		t.Fatalf("FindPmt: %v", err)
	}
	if i != 0 {
		t.Errorf("FindPmt index = %d, want 0", i)
	}
	if !bytes.Equal(got, pmt.Bytes(nil)) {
		t.Errorf("FindPmt packet does not match written PMT packet")
	}
}

// TestFindPidTooShort checks that FindPid rejects input shorter than a
// single packet.
func TestFindPidTooShort(t *testing.T) {
	_, _, err := FindPid(make([]byte, PacketSize-1), PatPid)
	if err != ErrInvalidLen {
		t.Errorf("FindPid error = %v, want ErrInvalidLen", err)
	}
}

// TestFindPidNotFound checks that FindPid reports an error when no packet
// in the stream carries the requested PID.
func TestFindPidNotFound(t *testing.T) {
	p := Packet{PID: 5, AFC: hasPayload}
	p.FillPayload([]byte{0})
	stream := p.Bytes(nil)

	_, _, err := FindPid(stream, 6)
	if err == nil {
		t.Fatal("expected an error when the PID is absent from the stream")
	}
}
