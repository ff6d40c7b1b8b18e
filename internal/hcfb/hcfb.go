/*
NAME
  hcfb.go - reads the header-compressed IP/UDP envelope (HCFB) carried
  inside a CompressedIP TLV frame.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hcfb decodes the header-compressed IP/UDP wrapper used to carry
// MMTP packets inside a CompressedIP TLV payload. The core treats it purely
// as an envelope; address fields are parsed but never consumed downstream.
package hcfb

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
)

// HeaderType identifies the shape of the compressed header that follows.
type HeaderType byte

const (
	TypePartialIPv4UDP         HeaderType = 0x20
	TypeIPv4HeaderIdentifier   HeaderType = 0x21
	TypePartialIPv6UDP         HeaderType = 0x60
	TypeNoCompressedHeader     HeaderType = 0x61
)

// ErrUnsupportedHeader is returned for a recognized but unimplemented header
// type; only PartialIPv6UDP and NoCompressedHeader are needed by the core.
var ErrUnsupportedHeader = errors.New("hcfb: unsupported header type")

// PartialIPv6UDPHeader carries the fields of a compressed IPv6/UDP header.
type PartialIPv6UDPHeader struct {
	TrafficClass      byte
	FlowLabel         uint32
	NextHeader        byte
	HopLimit          byte
	SourceAddress     net.IP
	DestinationAddress net.IP
	SourcePort        uint16
	DestinationPort   uint16
}

// Packet is a decoded HCFB envelope.
type Packet struct {
	ContextID      uint16 // 12 bits
	SequenceNumber byte   // 4 bits
	Type           HeaderType
	IPv6           *PartialIPv6UDPHeader // set only when Type == TypePartialIPv6UDP
}

// Read decodes one HCFB packet from the head of data, returning the decoded
// packet and the remaining bytes (the MMTP packet that follows).
func Read(data []byte) (*Packet, []byte, error) {
	if len(data) < 2 {
		return nil, nil, errors.New("hcfb: truncated head")
	}
	head := binary.BigEndian.Uint16(data)
	p := &Packet{
		ContextID:      head >> 4,
		SequenceNumber: byte(head & 0x0F),
	}
	data = data[2:]

	if len(data) < 1 {
		return nil, nil, errors.New("hcfb: truncated header type")
	}
	p.Type = HeaderType(data[0])
	data = data[1:]

	switch p.Type {
	case TypePartialIPv6UDP:
		hdr, rest, err := readPartialIPv6UDP(data)
		if err != nil {
			return nil, nil, err
		}
		p.IPv6 = hdr
		return p, rest, nil
	case TypeNoCompressedHeader:
		return p, data, nil
	default:
		return nil, nil, errors.Wrapf(ErrUnsupportedHeader, "type 0x%02x", byte(p.Type))
	}
}

func readPartialIPv6UDP(data []byte) (*PartialIPv6UDPHeader, []byte, error) {
	const fixedLen = 4 + 1 + 1 + 16 + 16 + 2 + 2
	if len(data) < fixedLen {
		return nil, nil, errors.New("hcfb: truncated partial IPv6/UDP header")
	}

	word := binary.BigEndian.Uint32(data)
	version := byte(word >> 28)
	if version != 6 {
		return nil, nil, errors.Errorf("hcfb: unexpected IP version %d", version)
	}
	h := &PartialIPv6UDPHeader{
		TrafficClass: byte((word >> 20) & 0xFF),
		FlowLabel:    word & 0x000FFFFF,
	}
	data = data[4:]

	h.NextHeader = data[0]
	h.HopLimit = data[1]
	data = data[2:]

	h.SourceAddress = append(net.IP(nil), data[:16]...)
	data = data[16:]
	h.DestinationAddress = append(net.IP(nil), data[:16]...)
	data = data[16:]

	h.SourcePort = binary.BigEndian.Uint16(data)
	h.DestinationPort = binary.BigEndian.Uint16(data[2:])
	data = data[4:]

	return h, data, nil
}
