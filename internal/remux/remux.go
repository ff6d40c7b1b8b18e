/*
NAME
  remux.go - drives a Demuxer/Muxer pair: maps MMT assets onto TS PIDs,
  feeds access units through, and keeps a Registry current from the
  signaling tables it observes along the way.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package remux ties a demux.Demuxer to a mts.Muxer: it assigns the
// elementary streams an MMT package table describes to fixed TS PIDs,
// forwards access units between the two, and folds MH-BIT/MH-SDT/MH-EIT
// signaling into a registry.Registry, signaling the current event's
// change as it crosses an event's time window.
package remux

import (
	"io"
	"time"

	"github.com/siketyan/chibitv/container/mts"
	"github.com/siketyan/chibitv/container/mts/pes"
	"github.com/siketyan/chibitv/container/mts/psi"
	"github.com/siketyan/chibitv/internal/demux"
	"github.com/siketyan/chibitv/internal/registry"
	"github.com/siketyan/chibitv/internal/si"

	"github.com/ausocean/utils/logging"
)

// Fixed PIDs the mux announces the two elementary stream kinds under.
// A single-program, single-video, single-audio layout needs nothing
// dynamic here.
const (
	videoPid uint16 = 0x1011
	audioPid uint16 = 0x1100
)

// PES stream_id values, distinct from the PMT stream_type values carried
// alongside them: per ISO/IEC 13818-1 these identify "the first video
// stream" and "the first audio stream" of a program.
const (
	videoStreamID byte = 0xE0
	audioStreamID byte = 0xC0
)

var (
	assetTypeHEVC = [4]byte{'h', 'e', 'v', '1'}
	assetTypeAAC  = [4]byte{'m', 'p', '4', 'a'}
)

// Signal is published when the current event for the service being
// remuxed changes, so a caller can update whatever tracks "what's on
// now" without polling the registry.
type Signal struct {
	EventID uint16
}

// Remuxer reads access units and signaling tables from a Demuxer,
// forwards access units to a Muxer under the PIDs it has assigned their
// carrying assets, and records signaling tables into a Registry.
type Remuxer struct {
	demux    *demux.Demuxer
	mux      *mts.Muxer
	registry *registry.Registry
	signalCh chan<- Signal
	log      logging.Logger

	hasVideo, hasAudio bool
	assetTypes         map[uint16][4]byte
	currentEventID     *uint16
}

// New returns a Remuxer reading from d, writing packetized output
// through m, and recording signaling tables into reg. Event-change
// notifications are sent on signalCh, which New does not close.
func New(d *demux.Demuxer, m *mts.Muxer, reg *registry.Registry, signalCh chan<- Signal, log logging.Logger) *Remuxer {
	return &Remuxer{
		demux:      d,
		mux:        m,
		registry:   reg,
		signalCh:   signalCh,
		log:        log,
		assetTypes: make(map[uint16][4]byte),
	}
}

// Clear discards the current asset-to-PID assignment and Demuxer state,
// as required before retuning to a different service.
func (r *Remuxer) Clear() {
	r.demux.Clear()
	r.mux.Clear()
	r.hasVideo, r.hasAudio = false, false
	r.assetTypes = make(map[uint16][4]byte)
	r.currentEventID = nil
}

// Run reads and forwards packets until stop is closed or the underlying
// byte source is exhausted, at which point it returns nil. Any other
// read error ends the run and is returned to the caller.
func (r *Remuxer) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		packets, err := r.demux.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		for _, p := range packets {
			if err := r.readPacket(p); err != nil {
				r.log.Error("remux: read packet", "error", err)
			}
		}
	}
}

func (r *Remuxer) readPacket(p demux.Packet) error {
	switch {
	case p.Mfu != nil:
		return r.readMfu(p.PacketID, p.Mfu)
	case p.Message != nil:
		return r.readMessage(p.Message)
	default:
		return nil
	}
}

// readMfu looks up the TS PID assigned to packetID's asset and, if one
// has been assigned, packetizes the access unit onto it. An access unit
// from an asset not yet (or never) mapped is silently dropped: this
// happens for packet ids the package table didn't describe as video or
// audio.
func (r *Remuxer) readMfu(packetID uint16, mfu *demux.MfuPacket) error {
	pid, ok := r.pidFor(packetID)
	if !ok {
		return nil
	}
	return r.mux.WritePES(pid, mfu.Data, mfu.DTS, mfu.PTS)
}

// pidFor resolves packetID to the TS PID its asset was assigned, if
// readMpt has recorded its asset type. The asset types are kept in
// r.assetTypes until Clear resets them.
func (r *Remuxer) pidFor(packetID uint16) (uint16, bool) {
	switch r.assetTypes[packetID] {
	case assetTypeHEVC:
		return videoPid, true
	case assetTypeAAC:
		return audioPid, true
	default:
		return 0, false
	}
}

func (r *Remuxer) readMessage(m *si.Message) error {
	switch {
	case m.Pa != nil:
		for _, t := range m.Pa.Tables {
			if t.Mpt != nil {
				r.readMpt(t.Mpt)
			}
		}
	case m.M2Section != nil:
		r.readTable(&m.M2Section.Table)
	}
	return nil
}

// readMpt assigns the video and audio assets described by an MMT
// package table to their fixed PIDs. Once a table has mapped any asset,
// later package tables are ignored for PID assignment: first-MPT-wins,
// matching how the underlying stream layout never changes within a
// tuned service.
func (r *Remuxer) readMpt(mpt *si.Mpt) {
	if r.hasVideo || r.hasAudio {
		return
	}

	for _, asset := range mpt.Assets {
		if len(asset.Locations) == 0 {
			continue
		}
		loc := asset.Locations[len(asset.Locations)-1]
		switch loc.Type {
		case si.LocationNone, si.LocationIPv4, si.LocationIPv6:
		default:
			continue
		}

		switch asset.AssetType {
		case assetTypeHEVC:
			if r.hasVideo {
				r.log.Warning("remux: ignoring additional video asset")
				continue
			}
			r.hasVideo = true
			r.assetTypes[loc.PacketID] = assetTypeHEVC
			r.mux.AddStream(videoPid, videoStreamID, pes.H265SID, []psi.Descriptor{
				{Tag: 0x05, Data: []byte("HEVC"), Len: 4},
			})
		case assetTypeAAC:
			if r.hasAudio {
				r.log.Warning("remux: ignoring additional audio asset")
				continue
			}
			r.hasAudio = true
			r.assetTypes[loc.PacketID] = assetTypeAAC
			r.mux.AddStream(audioPid, audioStreamID, pes.AACLATMSID, nil)
		}
	}
}

func (r *Remuxer) readTable(t *si.Table) {
	switch {
	case t.MhEit != nil:
		r.readMhEit(t.MhEit)
	case t.MhBit != nil:
		r.readMhBit(t.MhBit)
	case t.MhSdt != nil:
		r.readMhSdt(t.MhSdt)
	}
}

func (r *Remuxer) readMhEit(eit *si.MhEit) {
	now := time.Now()
	for _, ev := range eit.Events {
		r.registry.PutEvent(eit.ServiceID, ev)

		if ev.StartTime == nil || ev.Duration == nil {
			continue
		}
		end := ev.StartTime.Add(*ev.Duration)
		if now.Before(*ev.StartTime) || !now.Before(end) {
			continue
		}
		if r.currentEventID != nil && *r.currentEventID == ev.EventID {
			continue
		}

		id := ev.EventID
		r.currentEventID = &id
		if r.signalCh != nil {
			r.signalCh <- Signal{EventID: id}
		}
	}
}

func (r *Remuxer) readMhBit(bit *si.MhBit) {
	for _, b := range bit.Broadcasters {
		r.registry.PutBroadcaster(b)
	}
}

func (r *Remuxer) readMhSdt(sdt *si.MhSdt) {
	for _, s := range sdt.Services {
		r.registry.PutService(sdt.TLVStreamID, s)
	}
}
