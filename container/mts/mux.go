/*
NAME
  mux.go - packetizes access units carrying explicit per-unit timestamps
  into an MPEG-TS program, re-emitting PAT/PMT on a fixed interval.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package mts

import (
	"fmt"
	"io"
	"sync"

	"github.com/siketyan/chibitv/container/mts/pes"
	"github.com/siketyan/chibitv/container/mts/psi"
	"github.com/ausocean/utils/logging"
)

// programNumber is the sole program carried by a mux's PAT; multi-program
// transport streams are not needed here.
const programNumber = 0x0001

// patPmtInterval is the minimum gap, in seconds of decoding time, between
// re-emissions of the PAT and PMT.
const patPmtInterval = 0.1

// muxStream tracks one elementary stream's continuity counter plus, once
// AddStream has been called for it, the PMT entry describing it.
type muxStream struct {
	cc         byte
	streamID   byte
	streamType byte
	descs      []psi.Descriptor
	hasES      bool
}

func (s *muxStream) nextCC() byte {
	cc := s.cc
	s.cc = (s.cc + 1) & 0xf
	return cc
}

// Muxer packetizes PES-wrapped access units, one elementary stream per PID,
// into MPEG-TS and writes the result to an io.Writer. It is safe for
// concurrent use across streams sharing one Muxer.
type Muxer struct {
	mu sync.Mutex

	dst io.Writer
	log logging.Logger

	streams      map[uint16]*muxStream
	lastPatPmtTs *float64

	tsSpace  [PacketSize]byte
	pesSpace [pes.MaxPesSize]byte
}

// NewMuxer returns a Muxer with only the PAT and PMT infrastructure PIDs
// registered; call AddStream for each elementary stream before writing.
func NewMuxer(dst io.Writer, log logging.Logger) *Muxer {
	return &Muxer{
		dst: dst,
		log: log,
		streams: map[uint16]*muxStream{
			PatPid: {},
			PmtPid: {},
		},
	}
}

// AddStream registers an elementary stream at pid, with the PES stream_id
// and PMT stream_type it should be announced under, plus any PMT
// descriptors (e.g. a registration descriptor) to attach to it.
func (m *Muxer) AddStream(pid uint16, streamID, streamType byte, descs []psi.Descriptor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[pid] = &muxStream{streamID: streamID, streamType: streamType, descs: descs, hasES: true}
}

// Clear resets the mux to its just-constructed state: every elementary
// stream is forgotten and the PAT/PMT interval timer restarts.
func (m *Muxer) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = map[uint16]*muxStream{
		PatPid: {},
		PmtPid: {},
	}
	m.lastPatPmtTs = nil
}

// WritePES packetizes one access unit as a PES payload on pid, splitting it
// across as many TS packets as required, and (per the PAT/PMT interval)
// precedes it with a fresh PAT and PMT. dts and pts are presentation-clock
// seconds; either, both, or neither may be present, though an access unit
// with neither can never trigger a PAT/PMT refresh.
func (m *Muxer) WritePES(pid uint16, data []byte, dts, pts *float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dts != nil && (m.lastPatPmtTs == nil || *dts-*m.lastPatPmtTs >= patPmtInterval) {
		if err := m.writePatPmt(); err != nil {
			return fmt.Errorf("mts: write pat/pmt: %w", err)
		}
		ts := *dts
		m.lastPatPmtTs = &ts
	}

	stream, ok := m.streams[pid]
	if !ok || !stream.hasES {
		return fmt.Errorf("mts: write pes: pid %d has no registered stream", pid)
	}

	headerLength := byte(0)
	pdi := byte(0)
	var ptsTicks, dtsTicks uint64
	switch {
	case dts != nil && pts != nil:
		pdi = 3
		headerLength = 10
		dtsTicks = timestampTicks(*dts)
		ptsTicks = timestampTicks(*pts)
	case pts != nil:
		pdi = 2
		headerLength = 5
		ptsTicks = timestampTicks(*pts)
	}

	pesPkt := pes.Packet{
		StreamID:     stream.streamID,
		PDI:          pdi,
		PTS:          ptsTicks,
		DTS:          dtsTicks,
		Data:         data,
		HeaderLength: headerLength,
	}
	buf := pesPkt.Bytes(m.pesSpace[:pes.MaxPesSize])

	pusi := true
	for len(buf) != 0 {
		pkt := Packet{
			PUSI: pusi,
			PID:  pid,
			RAI:  pusi,
			CC:   stream.nextCC(),
			AFC:  hasPayload | hasAdaptationField,
		}
		n := pkt.FillPayload(buf)
		buf = buf[n:]
		if _, err := m.dst.Write(pkt.Bytes(m.tsSpace[:PacketSize])); err != nil {
			return fmt.Errorf("mts: write ts packet: %w", err)
		}
		pusi = false
	}

	return nil
}

// timestampTicks converts a presentation-clock offset in seconds to the
// 90kHz ticks a PES timestamp field carries, wrapping at the 33-bit range a
// PTS/DTS field holds.
func timestampTicks(seconds float64) uint64 {
	const maxTimestamp = 1 << 33
	return uint64(seconds*90000) % maxTimestamp
}

// writePatPmt emits one PAT packet followed by one PMT packet describing
// every elementary stream added via AddStream so far.
func (m *Muxer) writePatPmt() error {
	pat := psi.NewPATPSI()
	patPkt := Packet{
		PUSI:    true,
		PID:     PatPid,
		CC:      m.streams[PatPid].nextCC(),
		AFC:     hasPayload,
		Payload: psi.AddPadding(pat.Bytes()),
	}
	if _, err := m.dst.Write(patPkt.Bytes(m.tsSpace[:PacketSize])); err != nil {
		return fmt.Errorf("write pat: %w", err)
	}

	pmt := m.buildPMT()
	pmtPkt := Packet{
		PUSI:    true,
		PID:     PmtPid,
		CC:      m.streams[PmtPid].nextCC(),
		AFC:     hasPayload,
		Payload: psi.AddPadding(pmt.Bytes()),
	}
	if _, err := m.dst.Write(pmtPkt.Bytes(m.tsSpace[:PacketSize])); err != nil {
		return fmt.Errorf("write pmt: %w", err)
	}

	m.log.Debug("wrote pat/pmt", "streams", len(m.streams)-2)
	return nil
}

// buildPMT assembles a PMT section describing every registered elementary
// stream, in ascending PID order, with a correctly computed SectionLen.
func (m *Muxer) buildPMT() *psi.PSI {
	var entries []*psi.StreamSpecificData
	for pid := uint16(0); pid < 0x1FFF; pid++ {
		s, ok := m.streams[pid]
		if !ok || !s.hasES {
			continue
		}
		descLen := 0
		for _, d := range s.descs {
			descLen += 2 + len(d.Data)
		}
		entries = append(entries, &psi.StreamSpecificData{
			StreamType:    s.streamType,
			PID:           pid,
			StreamInfoLen: uint16(descLen),
			Descriptors:   s.descs,
		})
	}

	pmt := &psi.PMT{
		ProgramClockPID: pmtPcrPid(entries),
		ProgramInfoLen:  0,
	}
	if len(entries) > 0 {
		pmt.StreamSpecificData = entries[0]
		pmt.ExtraStreams = entries[1:]
	} else {
		pmt.StreamSpecificData = &psi.StreamSpecificData{}
	}

	sectionLen := psi.TSSDefLen + psi.PMTDefLen
	for _, e := range entries {
		sectionLen += psi.ESSDataLen + int(e.StreamInfoLen)
	}
	sectionLen += crcSize

	return &psi.PSI{
		PointerField:    0x00,
		TableID:         0x02,
		SyntaxIndicator: true,
		SectionLen:      uint16(sectionLen),
		SyntaxSection: &psi.SyntaxSection{
			TableIDExt:   programNumber,
			Version:      0,
			CurrentNext:  true,
			Section:      0,
			LastSection:  0,
			SpecificData: pmt,
		},
	}
}

// pmtPcrPid picks a PCR PID for the PMT: the first registered stream's PID,
// falling back to a reserved marker (0x1FFF, "not present") when no stream
// has been added yet.
func pmtPcrPid(entries []*psi.StreamSpecificData) uint16 {
	if len(entries) == 0 {
		return 0x1FFF
	}
	return entries[0].PID
}

const crcSize = 4
