/*
NAME
  descriptor.go - decodes MMT/ARIB signaling descriptors.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package si decodes MMT signaling messages, tables, and descriptors: the
// Pa/M2Section message wrappers, the Plt/Mpt/MhEit/MhBit/MhSdt/MhSit table
// family, and the descriptors nested inside them.
package si

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// DescriptorTag identifies the shape of a Descriptor.
type DescriptorTag uint16

const (
	TagMpuTimestamp         DescriptorTag = 0x0001
	TagMpuExtendedTimestamp DescriptorTag = 0x8026
	TagMhBroadcasterName    DescriptorTag = 0x8018
	TagMhService            DescriptorTag = 0x8019
	TagMhShortEvent         DescriptorTag = 0xF001
	TagMhExtendedEvent      DescriptorTag = 0xF002
	TagMhBroadcastID        DescriptorTag = 0xF005
)

// MpuTimestamp is one entry of an MpuTimestampDescriptor: the NTP-format
// presentation time for one MPU sequence number.
type MpuTimestamp struct {
	MPUSequenceNumber       uint32
	MPUPresentationTime     uint64 // 32.32 fixed-point NTP timestamp
}

// MpuTimestampDescriptor carries presentation times for a run of MPUs.
type MpuTimestampDescriptor struct {
	Timestamps []MpuTimestamp
}

// MpuTimestampOffset is the per-access-unit offset pair used by
// MpuExtendedTimestamp.
type MpuTimestampOffset struct {
	PTSDTSOffset uint16
	PTSOffset    uint16
}

// MpuExtendedTimestamp carries per-access-unit decode/presentation offsets
// for one MPU sequence number.
type MpuExtendedTimestamp struct {
	MPUSequenceNumber                uint32
	MPUPresentationTimeLeapIndicator byte
	MPUDecodingTimeOffset            uint16
	NumOfAU                          byte
	Offsets                          []MpuTimestampOffset
}

// MpuExtendedTimestampDescriptor carries extended timestamp data for a run
// of MPUs, keyed by the timescale used to interpret every offset within.
type MpuExtendedTimestampDescriptor struct {
	PTSOffsetType byte
	Timescale     *uint32
	Timestamps    []MpuExtendedTimestamp
}

// MhShortEventDescriptor carries a short event title and summary.
type MhShortEventDescriptor struct {
	ISO639LanguageCode [3]byte
	EventName          []byte
	Text               []byte
}

// ExtendedEventItem is one (description, item) pair of an extended event.
type ExtendedEventItem struct {
	ItemDescription []byte
	Item            []byte
}

// MhExtendedEventDescriptor carries one fragment of an event's extended
// description; descriptor_number/last_descriptor_number identify the
// fragment's position so the registry can merge the full run.
type MhExtendedEventDescriptor struct {
	DescriptorNumber     byte
	LastDescriptorNumber byte
	ISO639LanguageCode   [3]byte
	Items                []ExtendedEventItem
	Text                 []byte
}

// MhBroadcasterNameDescriptor carries a broadcaster's display name.
type MhBroadcasterNameDescriptor struct {
	Name []byte
}

// MhServiceDescriptor carries a service's type, provider name, and name.
type MhServiceDescriptor struct {
	ServiceType         byte
	ServiceProviderName []byte
	ServiceName         []byte
}

// MhBroadcastIDDescriptor identifies the broadcaster owning a service.
type MhBroadcastIDDescriptor struct {
	OriginalNetworkID uint16
	TLVStreamID       uint16
	EventID           uint16
	BroadcasterID     byte
}

// Descriptor is a decoded descriptor: exactly one of the typed fields is
// populated, or Unknown holds the raw tag and bytes for an unrecognized one.
type Descriptor struct {
	MpuTimestamp         *MpuTimestampDescriptor
	MpuExtendedTimestamp *MpuExtendedTimestampDescriptor
	MhBroadcasterName    *MhBroadcasterNameDescriptor
	MhService            *MhServiceDescriptor
	MhShortEvent         *MhShortEventDescriptor
	MhExtendedEvent      *MhExtendedEventDescriptor
	MhBroadcastID        *MhBroadcastIDDescriptor
	UnknownTag           DescriptorTag
	UnknownData          []byte
}

// ErrTruncated indicates the buffer ended before a complete descriptor (or
// field within one) could be decoded.
var ErrTruncated = errors.New("si: truncated input")

// ReadDescriptor decodes one descriptor from the head of data, returning
// the descriptor and the remaining bytes.
func ReadDescriptor(data []byte) (*Descriptor, []byte, error) {
	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	tag := DescriptorTag(binary.BigEndian.Uint16(data))
	data = data[2:]

	var length int
	switch {
	case tag <= 0x3FFF:
		if len(data) < 1 {
			return nil, nil, ErrTruncated
		}
		length = int(data[0])
		data = data[1:]
	case tag <= 0x6FFF:
		if len(data) < 2 {
			return nil, nil, ErrTruncated
		}
		length = int(binary.BigEndian.Uint16(data))
		data = data[2:]
	case tag <= 0x7FFF:
		if len(data) < 4 {
			return nil, nil, ErrTruncated
		}
		length = int(binary.BigEndian.Uint32(data))
		data = data[4:]
	case tag <= 0xEFFF:
		if len(data) < 1 {
			return nil, nil, ErrTruncated
		}
		length = int(data[0])
		data = data[1:]
	default:
		if len(data) < 2 {
			return nil, nil, ErrTruncated
		}
		length = int(binary.BigEndian.Uint16(data))
		data = data[2:]
	}

	if len(data) < length {
		return nil, nil, ErrTruncated
	}
	body := data[:length]
	rest := data[length:]

	d, err := decodeDescriptorBody(tag, body)
	if err != nil {
		return nil, nil, err
	}
	return d, rest, nil
}

func decodeDescriptorBody(tag DescriptorTag, body []byte) (*Descriptor, error) {
	switch tag {
	case TagMpuTimestamp:
		v, err := readMpuTimestampDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MpuTimestamp: v}, nil
	case TagMpuExtendedTimestamp:
		v, err := readMpuExtendedTimestampDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MpuExtendedTimestamp: v}, nil
	case TagMhBroadcasterName:
		return &Descriptor{MhBroadcasterName: &MhBroadcasterNameDescriptor{Name: append([]byte(nil), body...)}}, nil
	case TagMhService:
		v, err := readMhServiceDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MhService: v}, nil
	case TagMhShortEvent:
		v, err := readMhShortEventDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MhShortEvent: v}, nil
	case TagMhExtendedEvent:
		v, err := readMhExtendedEventDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MhExtendedEvent: v}, nil
	case TagMhBroadcastID:
		v, err := readMhBroadcastIDDescriptor(body)
		if err != nil {
			return nil, err
		}
		return &Descriptor{MhBroadcastID: v}, nil
	default:
		return &Descriptor{UnknownTag: tag, UnknownData: append([]byte(nil), body...)}, nil
	}
}

func readMpuTimestampDescriptor(data []byte) (*MpuTimestampDescriptor, error) {
	var ts []MpuTimestamp
	for len(data) > 0 {
		if len(data) < 12 {
			return nil, ErrTruncated
		}
		ts = append(ts, MpuTimestamp{
			MPUSequenceNumber:   binary.BigEndian.Uint32(data),
			MPUPresentationTime: binary.BigEndian.Uint64(data[4:]),
		})
		data = data[12:]
	}
	return &MpuTimestampDescriptor{Timestamps: ts}, nil
}

func readMpuExtendedTimestampDescriptor(data []byte) (*MpuExtendedTimestampDescriptor, error) {
	if len(data) < 1 {
		return nil, ErrTruncated
	}
	head := data[0]
	ptsOffsetType := (head & 0b0000_0110) >> 1
	timescaleFlag := head&0b0000_0001 == 1
	data = data[1:]

	d := &MpuExtendedTimestampDescriptor{PTSOffsetType: ptsOffsetType}

	if timescaleFlag {
		if len(data) < 4 {
			return nil, ErrTruncated
		}
		v := binary.BigEndian.Uint32(data)
		d.Timescale = &v
		data = data[4:]
	}

	var defaultPTSOffset *uint16
	if ptsOffsetType == 1 {
		if len(data) < 2 {
			return nil, ErrTruncated
		}
		v := binary.BigEndian.Uint16(data)
		defaultPTSOffset = &v
		data = data[2:]
	}

	for len(data) > 0 {
		ts, rest, err := readMpuExtendedTimestamp(data, ptsOffsetType, defaultPTSOffset)
		if err != nil {
			return nil, err
		}
		d.Timestamps = append(d.Timestamps, *ts)
		data = rest
	}
	return d, nil
}

func readMpuExtendedTimestamp(data []byte, ptsOffsetType byte, defaultPTSOffset *uint16) (*MpuExtendedTimestamp, []byte, error) {
	if len(data) < 8 {
		return nil, nil, ErrTruncated
	}
	ts := &MpuExtendedTimestamp{
		MPUSequenceNumber:                binary.BigEndian.Uint32(data),
		MPUPresentationTimeLeapIndicator: (data[4] & 0b1100_0000) >> 6,
		MPUDecodingTimeOffset:            binary.BigEndian.Uint16(data[5:]),
		NumOfAU:                          data[7],
	}
	data = data[8:]

	for i := byte(0); i < ts.NumOfAU; i++ {
		off, rest, err := readMpuTimestampOffset(data, ptsOffsetType, defaultPTSOffset)
		if err != nil {
			return nil, nil, err
		}
		ts.Offsets = append(ts.Offsets, *off)
		data = rest
	}
	return ts, data, nil
}

func readMpuTimestampOffset(data []byte, ptsOffsetType byte, defaultPTSOffset *uint16) (*MpuTimestampOffset, []byte, error) {
	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	off := &MpuTimestampOffset{PTSDTSOffset: binary.BigEndian.Uint16(data)}
	data = data[2:]

	if ptsOffsetType == 2 {
		if len(data) < 2 {
			return nil, nil, ErrTruncated
		}
		off.PTSOffset = binary.BigEndian.Uint16(data)
		data = data[2:]
	} else if defaultPTSOffset != nil {
		off.PTSOffset = *defaultPTSOffset
	}
	return off, data, nil
}

func readMhShortEventDescriptor(data []byte) (*MhShortEventDescriptor, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	d := &MhShortEventDescriptor{}
	copy(d.ISO639LanguageCode[:], data[:3])
	data = data[3:]

	nameLen := int(data[0])
	data = data[1:]
	if len(data) < nameLen {
		return nil, ErrTruncated
	}
	d.EventName = append([]byte(nil), data[:nameLen]...)
	data = data[nameLen:]

	if len(data) < 1 {
		return nil, ErrTruncated
	}
	textLen := int(data[0])
	data = data[1:]
	if len(data) < textLen {
		return nil, ErrTruncated
	}
	d.Text = append([]byte(nil), data[:textLen]...)
	return d, nil
}

func readExtendedEventItem(data []byte) (*ExtendedEventItem, []byte, error) {
	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	descLen := int(data[0])
	data = data[1:]
	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	item := &ExtendedEventItem{ItemDescription: append([]byte(nil), data[:descLen]...)}
	data = data[descLen:]

	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	itemLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < itemLen {
		return nil, nil, ErrTruncated
	}
	item.Item = append([]byte(nil), data[:itemLen]...)
	return item, data[itemLen:], nil
}

func readMhExtendedEventDescriptor(data []byte) (*MhExtendedEventDescriptor, error) {
	if len(data) < 4 {
		return nil, ErrTruncated
	}
	head := data[0]
	d := &MhExtendedEventDescriptor{
		DescriptorNumber:     (head & 0xF0) >> 4,
		LastDescriptorNumber: head & 0x0F,
	}
	data = data[1:]
	copy(d.ISO639LanguageCode[:], data[:3])
	data = data[3:]

	if len(data) < 2 {
		return nil, ErrTruncated
	}
	itemsLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < itemsLen {
		return nil, ErrTruncated
	}
	items, rest := data[:itemsLen], data[itemsLen:]
	for len(items) > 0 {
		item, next, err := readExtendedEventItem(items)
		if err != nil {
			return nil, err
		}
		d.Items = append(d.Items, *item)
		items = next
	}
	data = rest

	if len(data) < 2 {
		return nil, ErrTruncated
	}
	textLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < textLen {
		return nil, ErrTruncated
	}
	d.Text = append([]byte(nil), data[:textLen]...)
	return d, nil
}

func readMhServiceDescriptor(data []byte) (*MhServiceDescriptor, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	d := &MhServiceDescriptor{ServiceType: data[0]}
	data = data[1:]

	providerLen := int(data[0])
	data = data[1:]
	if len(data) < providerLen {
		return nil, ErrTruncated
	}
	d.ServiceProviderName = append([]byte(nil), data[:providerLen]...)
	data = data[providerLen:]

	if len(data) < 1 {
		return nil, ErrTruncated
	}
	nameLen := int(data[0])
	data = data[1:]
	if len(data) < nameLen {
		return nil, ErrTruncated
	}
	d.ServiceName = append([]byte(nil), data[:nameLen]...)
	return d, nil
}

func readMhBroadcastIDDescriptor(data []byte) (*MhBroadcastIDDescriptor, error) {
	if len(data) < 7 {
		return nil, ErrTruncated
	}
	return &MhBroadcastIDDescriptor{
		OriginalNetworkID: binary.BigEndian.Uint16(data),
		TLVStreamID:       binary.BigEndian.Uint16(data[2:]),
		EventID:           binary.BigEndian.Uint16(data[4:]),
		BroadcasterID:     data[6],
	}, nil
}

// ReadDescriptorLoop decodes descriptors until data is exhausted.
func ReadDescriptorLoop(data []byte) ([]Descriptor, error) {
	var out []Descriptor
	for len(data) > 0 {
		d, rest, err := ReadDescriptor(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
		data = rest
	}
	return out, nil
}
