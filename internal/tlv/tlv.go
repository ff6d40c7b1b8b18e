/*
NAME
  tlv.go - reads the TLV (Type-Length-Value) framing used as the wire
  envelope for ARIB STD-B60 broadcast over IP.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tlv reads TLV-framed packets from an ARIB STD-B60 byte stream.
package tlv

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// SyncByte is the synchronization octet that precedes every TLV frame.
const SyncByte = 0x7F

// PacketType identifies the payload carried by a TLV frame.
type PacketType byte

// Recognized TLV packet types. Unrecognized types are not an error; Read
// reports them by returning a nil packet.
const (
	TypeIPv4                      PacketType = 0x01
	TypeIPv6                      PacketType = 0x02
	TypeCompressedIP              PacketType = 0x03
	TypeTransmissionControlSignal PacketType = 0xFE
	TypeNull                      PacketType = 0xFF
)

func (t PacketType) known() bool {
	switch t {
	case TypeIPv4, TypeIPv6, TypeCompressedIP, TypeTransmissionControlSignal, TypeNull:
		return true
	default:
		return false
	}
}

// Packet is a single TLV frame.
type Packet struct {
	Type PacketType
	Data []byte
}

// ErrTruncated wraps an error that occurred after a sync byte was found but
// before a complete frame could be read.
var ErrTruncated = errors.New("tlv: truncated input")

// truncated wraps cause with ErrTruncated so callers can test for it with
// errors.Is while retaining the underlying I/O error's context.
func truncated(cause error) error {
	return errors.Wrap(ErrTruncated, cause.Error())
}

// Reader reads successive TLV packets from an underlying byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// Read consumes bytes up to and including the next sync byte, then decodes
// one TLV frame. It returns (nil, nil) when the packet_type is not
// recognized (the frame is still fully consumed); callers should treat that
// as "ignore this frame", not an error. It returns io.EOF when the
// underlying stream is exhausted before a sync byte is found.
func (r *Reader) Read() (*Packet, error) {
	if err := r.syncToHead(); err != nil {
		return nil, err
	}

	typeByte, err := r.r.ReadByte()
	if err != nil {
		return nil, truncated(err)
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(r.r, lenBuf[:]); err != nil {
		return nil, truncated(err)
	}
	length := uint16(lenBuf[0])<<8 | uint16(lenBuf[1])

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, truncated(err)
	}

	pt := PacketType(typeByte)
	if !pt.known() {
		return nil, nil
	}

	return &Packet{Type: pt, Data: data}, nil
}

// syncToHead discards bytes until (and including) the next sync byte.
func (r *Reader) syncToHead() error {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return err
		}
		if b == SyncByte {
			return nil
		}
	}
}
