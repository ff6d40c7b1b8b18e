/*
NAME
  descriptor_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package si

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// descriptorBytes wraps a body with its tag and length field, sized the way
// ReadDescriptor expects for that tag's range: a 1-byte length for
// tag<=0x3FFF, 2-byte for tag<=0x6FFF, 4-byte for tag<=0x7FFF, 1-byte again
// for tag<=0xEFFF, and 2-byte otherwise.
func descriptorBytes(tag DescriptorTag, body []byte) []byte {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(tag))
	switch {
	case tag <= 0x3FFF:
		data = append(data, byte(len(body)))
	case tag <= 0x6FFF:
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(body)))
		data = append(data, lenBuf...)
	case tag <= 0x7FFF:
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(body)))
		data = append(data, lenBuf...)
	case tag <= 0xEFFF:
		data = append(data, byte(len(body)))
	default:
		lenBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(lenBuf, uint16(len(body)))
		data = append(data, lenBuf...)
	}
	return append(data, body...)
}

func TestReadDescriptorMpuTimestamp(t *testing.T) {
	var body []byte
	entry := func(seq uint32, pt uint64) []byte {
		b := make([]byte, 12)
		binary.BigEndian.PutUint32(b, seq)
		binary.BigEndian.PutUint64(b[4:], pt)
		return b
	}
	body = append(body, entry(1, 1000)...)
	body = append(body, entry(2, 2000)...)

	d, rest, err := ReadDescriptor(descriptorBytes(TagMpuTimestamp, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.MpuTimestamp == nil {
		t.Fatal("MpuTimestamp = nil, want populated")
	}
	if len(d.MpuTimestamp.Timestamps) != 2 {
		t.Fatalf("Timestamps has %d entries, want 2", len(d.MpuTimestamp.Timestamps))
	}
	if d.MpuTimestamp.Timestamps[0].MPUSequenceNumber != 1 || d.MpuTimestamp.Timestamps[1].MPUPresentationTime != 2000 {
		t.Errorf("Timestamps = %+v, unexpected values", d.MpuTimestamp.Timestamps)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMpuExtendedTimestampMinimal(t *testing.T) {
	head := byte(0x00) // ptsOffsetType=0, timescaleFlag=false
	ts := make([]byte, 8)
	binary.BigEndian.PutUint32(ts, 7)  // MPUSequenceNumber
	ts[4] = 0x00                       // leap indicator bits
	binary.BigEndian.PutUint16(ts[5:], 42)
	ts[7] = 1 // NumOfAU
	offset := []byte{0x00, 0x64}       // PTSDTSOffset only, since ptsOffsetType != 2

	body := append([]byte{head}, ts...)
	body = append(body, offset...)

	d, rest, err := ReadDescriptor(descriptorBytes(TagMpuExtendedTimestamp, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.MpuExtendedTimestamp == nil {
		t.Fatal("MpuExtendedTimestamp = nil, want populated")
	}
	ext := d.MpuExtendedTimestamp
	if ext.Timescale != nil {
		t.Errorf("Timescale = %v, want nil", ext.Timescale)
	}
	if len(ext.Timestamps) != 1 {
		t.Fatalf("Timestamps has %d entries, want 1", len(ext.Timestamps))
	}
	if ext.Timestamps[0].MPUSequenceNumber != 7 || ext.Timestamps[0].NumOfAU != 1 {
		t.Errorf("Timestamps[0] = %+v, unexpected values", ext.Timestamps[0])
	}
	if len(ext.Timestamps[0].Offsets) != 1 || ext.Timestamps[0].Offsets[0].PTSDTSOffset != 0x64 {
		t.Errorf("Offsets = %+v, want one offset of 0x64", ext.Timestamps[0].Offsets)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMpuExtendedTimestampWithTimescaleAndExplicitOffset(t *testing.T) {
	head := byte(0x05) // ptsOffsetType=2, timescaleFlag=true
	timescale := make([]byte, 4)
	binary.BigEndian.PutUint32(timescale, 90000)

	ts := make([]byte, 8)
	binary.BigEndian.PutUint32(ts, 9)
	ts[7] = 1 // NumOfAU

	offset := make([]byte, 4) // PTSDTSOffset + explicit PTSOffset, since ptsOffsetType == 2
	binary.BigEndian.PutUint16(offset[0:], 100)
	binary.BigEndian.PutUint16(offset[2:], 200)

	body := append([]byte{head}, timescale...)
	body = append(body, ts...)
	body = append(body, offset...)

	d, _, err := ReadDescriptor(descriptorBytes(TagMpuExtendedTimestamp, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	ext := d.MpuExtendedTimestamp
	if ext.Timescale == nil || *ext.Timescale != 90000 {
		t.Fatalf("Timescale = %v, want 90000", ext.Timescale)
	}
	if len(ext.Timestamps) != 1 || len(ext.Timestamps[0].Offsets) != 1 {
		t.Fatalf("Timestamps = %+v, want one timestamp with one offset", ext.Timestamps)
	}
	off := ext.Timestamps[0].Offsets[0]
	if off.PTSDTSOffset != 100 || off.PTSOffset != 200 {
		t.Errorf("offset = %+v, want PTSDTSOffset=100 PTSOffset=200", off)
	}
}

func TestReadDescriptorMhShortEvent(t *testing.T) {
	body := []byte{'j', 'p', 'n'}
	body = append(body, byte(len("Title")))
	body = append(body, "Title"...)
	body = append(body, byte(len("Summary")))
	body = append(body, "Summary"...)

	d, rest, err := ReadDescriptor(descriptorBytes(TagMhShortEvent, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.MhShortEvent == nil {
		t.Fatal("MhShortEvent = nil, want populated")
	}
	if d.MhShortEvent.ISO639LanguageCode != ([3]byte{'j', 'p', 'n'}) {
		t.Errorf("ISO639LanguageCode = %s, want jpn", d.MhShortEvent.ISO639LanguageCode)
	}
	if string(d.MhShortEvent.EventName) != "Title" {
		t.Errorf("EventName = %q, want %q", d.MhShortEvent.EventName, "Title")
	}
	if string(d.MhShortEvent.Text) != "Summary" {
		t.Errorf("Text = %q, want %q", d.MhShortEvent.Text, "Summary")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMhExtendedEvent(t *testing.T) {
	item := []byte{byte(len("D"))}
	item = append(item, "D"...)
	itemLen := make([]byte, 2)
	binary.BigEndian.PutUint16(itemLen, uint16(len("Item1")))
	item = append(item, itemLen...)
	item = append(item, "Item1"...)

	itemsLen := make([]byte, 2)
	binary.BigEndian.PutUint16(itemsLen, uint16(len(item)))

	textLen := make([]byte, 2)
	binary.BigEndian.PutUint16(textLen, uint16(len("Text")))

	body := []byte{0x12} // descriptor_number=1, last_descriptor_number=2
	body = append(body, 'j', 'p', 'n')
	body = append(body, itemsLen...)
	body = append(body, item...)
	body = append(body, textLen...)
	body = append(body, "Text"...)

	d, rest, err := ReadDescriptor(descriptorBytes(TagMhExtendedEvent, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	e := d.MhExtendedEvent
	if e == nil {
		t.Fatal("MhExtendedEvent = nil, want populated")
	}
	if e.DescriptorNumber != 1 || e.LastDescriptorNumber != 2 {
		t.Errorf("DescriptorNumber/LastDescriptorNumber = %d/%d, want 1/2", e.DescriptorNumber, e.LastDescriptorNumber)
	}
	if len(e.Items) != 1 || string(e.Items[0].ItemDescription) != "D" || string(e.Items[0].Item) != "Item1" {
		t.Errorf("Items = %+v, unexpected contents", e.Items)
	}
	if string(e.Text) != "Text" {
		t.Errorf("Text = %q, want %q", e.Text, "Text")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMhBroadcasterName(t *testing.T) {
	d, rest, err := ReadDescriptor(descriptorBytes(TagMhBroadcasterName, []byte("BCast")))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.MhBroadcasterName == nil || string(d.MhBroadcasterName.Name) != "BCast" {
		t.Errorf("MhBroadcasterName = %+v, want Name %q", d.MhBroadcasterName, "BCast")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMhService(t *testing.T) {
	body := []byte{0x01} // service_type
	body = append(body, byte(len("Prov")))
	body = append(body, "Prov"...)
	body = append(body, byte(len("Name")))
	body = append(body, "Name"...)

	d, rest, err := ReadDescriptor(descriptorBytes(TagMhService, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	s := d.MhService
	if s == nil {
		t.Fatal("MhService = nil, want populated")
	}
	if s.ServiceType != 0x01 {
		t.Errorf("ServiceType = 0x%x, want 0x01", s.ServiceType)
	}
	if string(s.ServiceProviderName) != "Prov" || string(s.ServiceName) != "Name" {
		t.Errorf("ServiceProviderName/ServiceName = %q/%q, want %q/%q", s.ServiceProviderName, s.ServiceName, "Prov", "Name")
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorMhBroadcastID(t *testing.T) {
	body := make([]byte, 7)
	binary.BigEndian.PutUint16(body[0:], 0x0001) // original_network_id
	binary.BigEndian.PutUint16(body[2:], 0x0002) // tlv_stream_id
	binary.BigEndian.PutUint16(body[4:], 0x0003) // event_id
	body[6] = 0x04                               // broadcaster_id

	d, rest, err := ReadDescriptor(descriptorBytes(TagMhBroadcastID, body))
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	id := d.MhBroadcastID
	if id == nil {
		t.Fatal("MhBroadcastID = nil, want populated")
	}
	if id.OriginalNetworkID != 1 || id.TLVStreamID != 2 || id.EventID != 3 || id.BroadcasterID != 4 {
		t.Errorf("MhBroadcastID = %+v, unexpected values", id)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorUnknownTag(t *testing.T) {
	data := descriptorBytes(0x1234, []byte{0xAA, 0xBB})
	d, rest, err := ReadDescriptor(data)
	if err != nil {
		t.Fatalf("ReadDescriptor: %v", err)
	}
	if d.UnknownTag != 0x1234 {
		t.Errorf("UnknownTag = 0x%x, want 0x1234", d.UnknownTag)
	}
	if !bytes.Equal(d.UnknownData, []byte{0xAA, 0xBB}) {
		t.Errorf("UnknownData = %x, want aabb", d.UnknownData)
	}
	if len(rest) != 0 {
		t.Errorf("rest = %d bytes, want 0", len(rest))
	}
}

func TestReadDescriptorRejectsTruncatedBody(t *testing.T) {
	data := []byte{0x80, 0x18, 0x05, 'a', 'b'} // claims length 5 but only 2 bytes follow
	if _, _, err := ReadDescriptor(data); err != ErrTruncated {
		t.Errorf("ReadDescriptor() error = %v, want ErrTruncated", err)
	}
}

func TestReadDescriptorLoopDecodesMultipleDescriptors(t *testing.T) {
	data := descriptorBytes(TagMhBroadcasterName, []byte("BCast"))
	serviceBody := []byte{0x01}
	serviceBody = append(serviceBody, byte(len("Prov")))
	serviceBody = append(serviceBody, "Prov"...)
	serviceBody = append(serviceBody, byte(len("Name")))
	serviceBody = append(serviceBody, "Name"...)
	data = append(data, descriptorBytes(TagMhService, serviceBody)...)

	descs, err := ReadDescriptorLoop(data)
	if err != nil {
		t.Fatalf("ReadDescriptorLoop: %v", err)
	}
	if len(descs) != 2 {
		t.Fatalf("ReadDescriptorLoop returned %d descriptors, want 2", len(descs))
	}
	if descs[0].MhBroadcasterName == nil || descs[1].MhService == nil {
		t.Errorf("descs = %+v, unexpected shapes", descs)
	}
}
