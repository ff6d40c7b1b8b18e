/*
NAME
  demux_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package demux

import (
	"bytes"
	"io"
	"testing"

	"github.com/siketyan/chibitv/internal/descramble"
	"github.com/siketyan/chibitv/internal/tlv"
)

// tlvFrame hand-encodes one TLV frame: sync byte, type, big-endian length,
// payload, mirroring the wire format internal/tlv decodes.
func tlvFrame(pt tlv.PacketType, data []byte) []byte {
	length := len(data)
	return append([]byte{tlv.SyncByte, byte(pt), byte(length >> 8), byte(length)}, data...)
}

func newTestDemuxer(r io.Reader) *Demuxer {
	return New(r, new(descramble.Descrambler), nil)
}

func TestReadReturnsEOFWhenExhausted(t *testing.T) {
	d := newTestDemuxer(bytes.NewReader(nil))
	_, err := d.Read()
	if err != io.EOF {
		t.Errorf("Read() error = %v, want io.EOF", err)
	}
}

func TestReadIgnoresUnrecognizedTlvType(t *testing.T) {
	d := newTestDemuxer(bytes.NewReader(tlvFrame(tlv.PacketType(0xAB), []byte{0x01})))
	packets, err := d.Read()
	if err != nil || packets != nil {
		t.Errorf("Read() = %v, %v, want nil, nil for an unrecognized tlv packet type", packets, err)
	}
}

func TestReadIgnoresNonCompressedIPType(t *testing.T) {
	d := newTestDemuxer(bytes.NewReader(tlvFrame(tlv.TypeNull, nil)))
	packets, err := d.Read()
	if err != nil || packets != nil {
		t.Errorf("Read() = %v, %v, want nil, nil for a non-CompressedIP tlv frame", packets, err)
	}
}

func TestReadSkipsTruncatedEcmCandidate(t *testing.T) {
	// ecmHeader present but not enough trailing bytes for a full ECM: Read
	// must bail out before ever touching the descrambler.
	payload := append(append([]byte{}, ecmHeader...), 0x00, 0x01)
	d := newTestDemuxer(bytes.NewReader(tlvFrame(tlv.TypeCompressedIP, payload)))
	packets, err := d.Read()
	if err != nil || packets != nil {
		t.Errorf("Read() = %v, %v, want nil, nil for a truncated ecm candidate", packets, err)
	}
}

func TestReadWarnsOnUnsupportedHcfbHeader(t *testing.T) {
	var warnings []string
	warn := func(msg string) { warnings = append(warnings, msg) }

	// Two bytes of HCFB context/sequence, then an unsupported header type.
	payload := []byte{0x00, 0x01, 0x99}
	d := New(bytes.NewReader(tlvFrame(tlv.TypeCompressedIP, payload)), new(descramble.Descrambler), warn)

	packets, err := d.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if packets != nil {
		t.Errorf("packets = %v, want nil", packets)
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one warning about the unsupported header", warnings)
	}
}

func TestClearDropsStreamState(t *testing.T) {
	d := newTestDemuxer(bytes.NewReader(nil))
	d.streams[7] = newStream(7)

	d.Clear()

	if len(d.streams) != 0 {
		t.Errorf("streams = %v, want empty after Clear", d.streams)
	}
}
