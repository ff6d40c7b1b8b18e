/*
NAME
  mmtp.go - decodes MMTP (MPEG Media Transport Protocol) packets and the
  MPU fragments they carry.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mmtp decodes MMTP packets and their MPU-fragment / signaling-
// message payloads, and provides the per-packet-id Defragmenter.
package mmtp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// PayloadType selects how an MMTP packet's payload is interpreted.
type PayloadType byte

const (
	PayloadMPU            PayloadType = 0x00
	PayloadGenericObject  PayloadType = 0x01
	PayloadControlMessage PayloadType = 0x02
	PayloadFECRepairSymbol PayloadType = 0x03
)

// FECType is the forward-error-correction mode of an MMTP packet.
type FECType byte

const (
	FECNonProtected           FECType = 0
	FECSourcePacketProtected  FECType = 1
	FECRepairPacketProtected  FECType = 2
)

// ExtensionHeader is the optional per-packet extension carried between the
// sequence-number fields and the payload.
type ExtensionHeader struct {
	HeaderType uint16
	Data       []byte
}

// Packet is a decoded MMTP packet (the payload unit of the MMT transport).
type Packet struct {
	FECType               FECType
	RAPFlag               bool
	PayloadType           PayloadType
	PacketID              uint16
	DeliveryTimestamp     uint32
	PacketSequenceNumber  uint32
	PacketCounter         *uint32
	ExtensionHeader       *ExtensionHeader
	Payload               []byte
}

// ErrTruncated indicates the buffer ended before a complete packet, header,
// or fragment could be decoded.
var ErrTruncated = errors.New("mmtp: truncated input")

// Read decodes one MMTP packet from data.
func Read(data []byte) (*Packet, error) {
	if len(data) < 12 {
		return nil, ErrTruncated
	}

	b0 := data[0]
	version := b0 >> 6
	if version != 0 {
		return nil, errors.Errorf("mmtp: unsupported version %d", version)
	}
	packetCounterFlag := b0&0x20 != 0
	fecType := FECType((b0 >> 3) & 0x03)
	extensionHeaderFlag := b0&0x02 != 0
	rapFlag := b0&0x01 != 0

	payloadType := PayloadType(data[1] & 0x3F)

	p := &Packet{
		FECType:     fecType,
		RAPFlag:     rapFlag,
		PayloadType: payloadType,
	}

	data = data[2:]
	p.PacketID = binary.BigEndian.Uint16(data)
	data = data[2:]
	p.DeliveryTimestamp = binary.BigEndian.Uint32(data)
	data = data[4:]
	p.PacketSequenceNumber = binary.BigEndian.Uint32(data)
	data = data[4:]

	if packetCounterFlag {
		if len(data) < 4 {
			return nil, ErrTruncated
		}
		v := binary.BigEndian.Uint32(data)
		p.PacketCounter = &v
		data = data[4:]
	}

	if extensionHeaderFlag {
		if len(data) < 4 {
			return nil, ErrTruncated
		}
		headerType := binary.BigEndian.Uint16(data)
		dataLength := binary.BigEndian.Uint16(data[2:])
		data = data[4:]
		if len(data) < int(dataLength) {
			return nil, ErrTruncated
		}
		p.ExtensionHeader = &ExtensionHeader{
			HeaderType: headerType,
			Data:       data[:dataLength],
		}
		data = data[dataLength:]
	}

	p.Payload = data
	return p, nil
}

// FragmentType identifies the role of an MPU fragment.
type FragmentType byte

const (
	FragmentMPUMetadata          FragmentType = 0
	FragmentMovieFragmentMetadata FragmentType = 1
	FragmentMFU                 FragmentType = 2
)

// FragmentationIndicator identifies where a fragment sits in a
// defragmentable sequence.
type FragmentationIndicator byte

const (
	NotFragmented FragmentationIndicator = 0b00
	FragmentHead  FragmentationIndicator = 0b01
	FragmentBody  FragmentationIndicator = 0b10
	FragmentTail  FragmentationIndicator = 0b11
)

// MPUFragment is a decoded MPU fragment (the payload of an MMTP packet with
// PayloadType == PayloadMPU).
type MPUFragment struct {
	FragmentType           FragmentType
	TimedFlag              bool
	FragmentationIndicator FragmentationIndicator
	AggregationFlag        bool
	FragmentCounter        byte
	MPUSequenceNumber      uint32
	Payload                []byte
}

// ReadMPUFragment decodes an MPU fragment from an MMTP packet's payload.
func ReadMPUFragment(data []byte) (*MPUFragment, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	payloadLength := binary.BigEndian.Uint16(data)
	data = data[2:]

	if len(data) < 6 {
		return nil, ErrTruncated
	}
	head := data[0]
	f := &MPUFragment{
		FragmentType:           FragmentType(head >> 4),
		TimedFlag:              head&0x08 != 0,
		FragmentationIndicator: FragmentationIndicator((head >> 1) & 0x03),
		AggregationFlag:        head&0x01 != 0,
		FragmentCounter:        data[1],
		MPUSequenceNumber:      binary.BigEndian.Uint32(data[2:6]),
	}
	data = data[6:]

	// payloadLength counts fragment_type..mpu_sequence_number (6 bytes) plus payload.
	if payloadLength < 6 {
		return nil, errors.New("mmtp: mpu fragment payload_length too small")
	}
	remaining := int(payloadLength) - 6
	if len(data) < remaining {
		return nil, ErrTruncated
	}
	f.Payload = data[:remaining]
	return f, nil
}

// SignalingMessagePayload is the body carried by a SignalingMessage: either
// a single opaque buffer or a sequence of aggregated buffers.
type SignalingMessagePayload struct {
	Aggregated [][]byte // non-nil when the aggregation flag was set
	Single     []byte   // valid when Aggregated == nil
}

// SignalingMessage is a decoded control-message fragment.
type SignalingMessage struct {
	FragmentationIndicator FragmentationIndicator
	FragmentCounter        byte
	Payload                SignalingMessagePayload
}

// ReadSignalingMessage decodes a signaling message from an MMTP packet's
// payload (PayloadType == PayloadControlMessage).
func ReadSignalingMessage(data []byte) (*SignalingMessage, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	head := data[0]
	m := &SignalingMessage{
		FragmentationIndicator: FragmentationIndicator(head >> 6),
		FragmentCounter:        data[1],
	}
	lengthExtensionFlag := head&0x02 != 0
	aggregationFlag := head&0x01 != 0
	data = data[2:]

	if !aggregationFlag {
		m.Payload.Single = data
		return m, nil
	}

	var msgs [][]byte
	for len(data) > 0 {
		var msgLen int
		if lengthExtensionFlag {
			if len(data) < 4 {
				return nil, ErrTruncated
			}
			msgLen = int(binary.BigEndian.Uint32(data))
			data = data[4:]
		} else {
			if len(data) < 2 {
				return nil, ErrTruncated
			}
			msgLen = int(binary.BigEndian.Uint16(data))
			data = data[2:]
		}
		if len(data) < msgLen {
			return nil, ErrTruncated
		}
		msgs = append(msgs, data[:msgLen])
		data = data[msgLen:]
	}
	m.Payload.Aggregated = msgs
	return m, nil
}
