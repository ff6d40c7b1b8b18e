/*
NAME
  mfu.go - decodes MFU (Media Fragment Unit) payloads carried inside an MPU
  fragment of type Mfu.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package mfu decodes MFU payloads into one or more access-unit byte
// buffers, tagged with the MPU sample metadata needed for timestamping.
package mfu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// TimedData is one timed access unit.
type TimedData struct {
	MovieFragmentSequenceNumber uint32
	SampleNumber                uint32
	Offset                      uint32
	Priority                    byte
	DependencyCounter           byte
	Data                        []byte
}

// NonTimedData is one non-timed (item-addressed) access unit.
type NonTimedData struct {
	ItemID uint32
	Data   []byte
}

// Payload is the decoded MFU payload: exactly one of TimedAggregated,
// Timed, Aggregated, or Default is populated.
type Payload struct {
	TimedAggregated []TimedData
	Timed           *TimedData
	Aggregated      []NonTimedData
	Default         *NonTimedData
}

// ErrTruncated indicates the buffer ended before a complete access unit
// could be decoded.
var ErrTruncated = errors.New("mfu: truncated input")

const timedHeaderLen = 14 // 4+4+4+1+1

// Read decodes an MFU payload, dispatching on the timed/aggregation flags
// carried by the owning MPU fragment.
func Read(data []byte, timed, aggregated bool) (*Payload, error) {
	switch {
	case timed && !aggregated:
		td, err := readTimedData(data, len(data))
		if err != nil {
			return nil, err
		}
		return &Payload{Timed: td}, nil

	case timed && aggregated:
		var out []TimedData
		for len(data) > 0 {
			if len(data) < 2 {
				return nil, ErrTruncated
			}
			unitLen := int(binary.BigEndian.Uint16(data))
			data = data[2:]
			if unitLen < timedHeaderLen || len(data) < unitLen {
				return nil, ErrTruncated
			}
			td, err := readTimedData(data[:unitLen], unitLen)
			if err != nil {
				return nil, err
			}
			out = append(out, *td)
			data = data[unitLen:]
		}
		return &Payload{TimedAggregated: out}, nil

	case !timed && !aggregated:
		if len(data) < 4 {
			return nil, ErrTruncated
		}
		ntd := &NonTimedData{
			ItemID: binary.BigEndian.Uint32(data),
			Data:   data[4:],
		}
		return &Payload{Default: ntd}, nil

	default: // !timed && aggregated
		var out []NonTimedData
		for len(data) > 0 {
			if len(data) < 2 {
				return nil, ErrTruncated
			}
			unitLen := int(binary.BigEndian.Uint16(data))
			data = data[2:]
			if unitLen < 4 || len(data) < unitLen {
				return nil, ErrTruncated
			}
			out = append(out, NonTimedData{
				ItemID: binary.BigEndian.Uint32(data),
				Data:   data[4:unitLen],
			})
			data = data[unitLen:]
		}
		return &Payload{Aggregated: out}, nil
	}
}

func readTimedData(data []byte, unitLen int) (*TimedData, error) {
	if len(data) < timedHeaderLen {
		return nil, ErrTruncated
	}
	return &TimedData{
		MovieFragmentSequenceNumber: binary.BigEndian.Uint32(data[0:4]),
		SampleNumber:                binary.BigEndian.Uint32(data[4:8]),
		Offset:                      binary.BigEndian.Uint32(data[8:12]),
		Priority:                    data[12],
		DependencyCounter:           data[13],
		Data:                        data[14:unitLen],
	}, nil
}
