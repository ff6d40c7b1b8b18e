/*
NAME
  hcfb_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package hcfb

import (
	"bytes"
	"encoding/binary"
	"net"
	"testing"
)

func TestReadNoCompressedHeader(t *testing.T) {
	mmtp := []byte("mmtp-packet-bytes")
	head := make([]byte, 2)
	binary.BigEndian.PutUint16(head, uint16(0x123)<<4|0x5) // contextID 0x123, seq 5
	data := append(head, byte(TypeNoCompressedHeader))
	data = append(data, mmtp...)

	p, rest, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.ContextID != 0x123 {
		t.Errorf("ContextID = 0x%x, want 0x123", p.ContextID)
	}
	if p.SequenceNumber != 5 {
		t.Errorf("SequenceNumber = %d, want 5", p.SequenceNumber)
	}
	if p.Type != TypeNoCompressedHeader {
		t.Errorf("Type = %v, want TypeNoCompressedHeader", p.Type)
	}
	if p.IPv6 != nil {
		t.Errorf("IPv6 = %v, want nil", p.IPv6)
	}
	if !bytes.Equal(rest, mmtp) {
		t.Errorf("rest = %q, want %q", rest, mmtp)
	}
}

func TestReadPartialIPv6UDP(t *testing.T) {
	mmtp := []byte("payload")
	src := net.ParseIP("2001:db8::1").To16()
	dst := net.ParseIP("2001:db8::2").To16()

	head := make([]byte, 2)
	binary.BigEndian.PutUint16(head, uint16(1)<<4|0x2)
	data := append(head, byte(TypePartialIPv6UDP))

	word := make([]byte, 4)
	binary.BigEndian.PutUint32(word, uint32(6)<<28|uint32(0x12)<<20|0x00ABCDE)
	data = append(data, word...)
	data = append(data, 0x11, 64) // next_header, hop_limit
	data = append(data, src...)
	data = append(data, dst...)
	ports := make([]byte, 4)
	binary.BigEndian.PutUint16(ports[0:2], 1234)
	binary.BigEndian.PutUint16(ports[2:4], 5678)
	data = append(data, ports...)
	data = append(data, mmtp...)

	p, rest, err := Read(data)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if p.Type != TypePartialIPv6UDP {
		t.Fatalf("Type = %v, want TypePartialIPv6UDP", p.Type)
	}
	if p.IPv6 == nil {
		t.Fatal("IPv6 = nil, want populated")
	}
	if p.IPv6.TrafficClass != 0x12 {
		t.Errorf("TrafficClass = 0x%x, want 0x12", p.IPv6.TrafficClass)
	}
	if p.IPv6.NextHeader != 0x11 {
		t.Errorf("NextHeader = 0x%x, want 0x11", p.IPv6.NextHeader)
	}
	if p.IPv6.HopLimit != 64 {
		t.Errorf("HopLimit = %d, want 64", p.IPv6.HopLimit)
	}
	if !p.IPv6.SourceAddress.Equal(net.IP(src)) {
		t.Errorf("SourceAddress = %v, want %v", p.IPv6.SourceAddress, net.IP(src))
	}
	if !p.IPv6.DestinationAddress.Equal(net.IP(dst)) {
		t.Errorf("DestinationAddress = %v, want %v", p.IPv6.DestinationAddress, net.IP(dst))
	}
	if p.IPv6.SourcePort != 1234 || p.IPv6.DestinationPort != 5678 {
		t.Errorf("ports = %d, %d, want 1234, 5678", p.IPv6.SourcePort, p.IPv6.DestinationPort)
	}
	if !bytes.Equal(rest, mmtp) {
		t.Errorf("rest = %q, want %q", rest, mmtp)
	}
}

func TestReadRejectsWrongIPVersionInPartialIPv6UDP(t *testing.T) {
	head := make([]byte, 2)
	data := append(head, byte(TypePartialIPv6UDP))
	body := make([]byte, 4+1+1+16+16+2+2)
	body[0] = 4 << 4 // IP version 4, not 6
	data = append(data, body...)

	if _, _, err := Read(data); err == nil {
		t.Fatal("expected an error for a non-IPv6 version field")
	}
}

func TestReadRejectsUnsupportedType(t *testing.T) {
	data := []byte{0x00, 0x01, byte(TypeIPv4HeaderIdentifier)}
	_, _, err := Read(data)
	if err == nil {
		t.Fatal("expected an error for an unsupported header type")
	}
}

func TestReadRejectsTruncatedInput(t *testing.T) {
	if _, _, err := Read([]byte{0x00}); err == nil {
		t.Fatal("expected an error for a truncated context/sequence field")
	}
	if _, _, err := Read([]byte{0x00, 0x01}); err == nil {
		t.Fatal("expected an error for a missing header type byte")
	}
}
