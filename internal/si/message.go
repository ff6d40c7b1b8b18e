/*
NAME
  message.go - decodes the Pa and M2Section signaling-message wrappers
  carried by a control-message MMTP packet.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package si

import (
	"encoding/binary"
)

// MessageID identifies the shape of a signaling Message.
type MessageID uint16

const (
	MessageIDPa        MessageID = 0x0000
	MessageIDM2Section MessageID = 0x8000
)

// PaMessage aggregates every table carried in one PA message's table loop.
type PaMessage struct {
	Version byte
	Tables  []Table
}

func readPaMessage(data []byte) (*PaMessage, error) {
	if len(data) < 5 {
		return nil, ErrTruncated
	}
	m := &PaMessage{Version: data[0]}
	length := binary.BigEndian.Uint32(data[1:])
	data = data[5:]

	if len(data) < int(length) {
		return nil, ErrTruncated
	}
	body := data[:length]

	if len(body) < 1 {
		return nil, ErrTruncated
	}
	numberOfTables := int(body[0])
	body = body[1:]

	// The fixed-size table directory (table_id/table_version/table_length
	// per entry) precedes the concatenated table bodies; the directory
	// itself is redundant with each table's self-describing length, so
	// only its size needs to be skipped.
	const tableMetaLen = 4
	if len(body) < numberOfTables*tableMetaLen {
		return nil, ErrTruncated
	}
	body = body[numberOfTables*tableMetaLen:]

	// A PA message commonly packs more than one table (a Plt alongside an
	// Mpt is the normal case), so keep decoding until the body is exhausted.
	for len(body) > 0 {
		t, rest, err := ReadTable(body)
		if err != nil {
			return nil, err
		}
		m.Tables = append(m.Tables, *t)
		body = rest
	}

	return m, nil
}

// M2SectionMessage wraps exactly one section-coded table.
type M2SectionMessage struct {
	Version byte
	Table   Table
}

func readM2SectionMessage(data []byte) (*M2SectionMessage, error) {
	if len(data) < 3 {
		return nil, ErrTruncated
	}
	m := &M2SectionMessage{Version: data[0]}
	length := binary.BigEndian.Uint16(data[1:])
	data = data[3:]

	if len(data) < int(length) {
		return nil, ErrTruncated
	}
	body := data[:length]

	t, _, err := ReadTable(body)
	if err != nil {
		return nil, err
	}
	m.Table = *t
	return m, nil
}

// Message is a decoded signaling message: exactly one of Pa or M2Section
// is populated, or Unknown holds the raw message_id and bytes for an
// unrecognized one.
type Message struct {
	Pa         *PaMessage
	M2Section  *M2SectionMessage
	UnknownID  MessageID
	UnknownData []byte
}

// ReadMessage decodes one signaling message from data.
func ReadMessage(data []byte) (*Message, error) {
	if len(data) < 2 {
		return nil, ErrTruncated
	}
	id := MessageID(binary.BigEndian.Uint16(data))
	data = data[2:]

	switch id {
	case MessageIDPa:
		m, err := readPaMessage(data)
		if err != nil {
			return nil, err
		}
		return &Message{Pa: m}, nil
	case MessageIDM2Section:
		m, err := readM2SectionMessage(data)
		if err != nil {
			return nil, err
		}
		return &Message{M2Section: m}, nil
	default:
		return &Message{UnknownID: id, UnknownData: append([]byte(nil), data...)}, nil
	}
}
