/*
NAME
  hevcframe.go - splits a stream of raw HEVC NAL units into access units at
  Access Unit Delimiter boundaries.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package hevcframe locates HEVC access-unit boundaries in a byte stream by
// scanning for the Access Unit Delimiter NAL unit (nal_unit_type == 35),
// the only boundary signal this pipeline currently looks for.
package hevcframe

import "encoding/binary"

const nalAUD = 35

// Parser accumulates pushed bytes until the next access unit's boundary is
// found, then yields everything before it.
type Parser struct {
	buf []byte
}

// Push appends buf to the accumulator and returns the previous access unit
// once a new one's AUD is found within it; otherwise it returns (nil,
// false) and buf is retained for the next call.
func (p *Parser) Push(buf []byte) ([]byte, bool) {
	idx, found := findNextFrame(buf)
	if !found {
		p.buf = append(p.buf, buf...)
		return nil, false
	}

	remaining := len(p.buf)
	if remaining == 0 && idx == 0 {
		// Nothing precedes this AUD yet; don't emit an empty access unit.
		p.buf = append(p.buf, buf...)
		return nil, false
	}

	p.buf = append(p.buf, buf...)
	out := p.buf[:remaining+idx]
	p.buf = append([]byte(nil), p.buf[remaining+idx:]...)
	return out, true
}

// findNextFrame scans buf for the start code and header of an Access Unit
// Delimiter NAL unit, returning the index of the first byte of its start
// code (3- or 4-byte form) within buf.
func findNextFrame(buf []byte) (int, bool) {
	state := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

	for i, b := range buf {
		state = [8]byte{state[1], state[2], state[3], state[4], state[5], state[6], state[7], b}

		if state[2] != 0x00 || state[3] != 0x00 || state[4] != 0x01 {
			continue
		}

		ty := (state[5] & 0x7E) >> 1
		layerID := (binary.BigEndian.Uint64(state[:]) >> 11) & 0x3F
		if layerID > 0 {
			continue
		}

		if ty == nalAUD {
			if state[1] == 0 {
				return i - 6, true
			}
			return i - 5, true
		}
	}

	return 0, false
}
