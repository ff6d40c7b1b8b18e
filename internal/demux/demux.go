/*
NAME
  demux.go - the MMT demultiplexer read loop: TLV framing through MPU/MFU
  access units and signaling messages, with per-packet-id timestamp state.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package demux drives the ingest read loop: one call reads one TLV frame,
// threading it through HCFB/MMTP decoding, ECM extraction, defragmentation,
// descrambling, and MFU access-unit emission, tracking the per-packet-id
// state the MMT wire format requires (defragmenter phase, MPU sequence
// tracking, the 64-entry timestamp windows, and the HEVC framer buffer).
package demux

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/siketyan/chibitv/internal/descramble"
	"github.com/siketyan/chibitv/internal/hcfb"
	"github.com/siketyan/chibitv/internal/hevcframe"
	"github.com/siketyan/chibitv/internal/mfu"
	"github.com/siketyan/chibitv/internal/mmtp"
	"github.com/siketyan/chibitv/internal/si"
	"github.com/siketyan/chibitv/internal/tlv"
)

// ecmHeader is the sentinel byte sequence used to locate an ECM inside a
// CompressedIP TLV payload. This is a provisional scan: a faithful
// implementation would match the MMTP packet id against a
// signaling-described ECM stream instead.
var ecmHeader = []byte{0x00, 0x00, 0x93, 0x2D, 0x1E, 0x01}

const ecmLen = 148

// maxTimestampEntries bounds the per-stream timestamp/ext-timestamp
// windows; the oldest (lowest MPU sequence number) entry is evicted first.
const maxTimestampEntries = 64

var (
	assetTypeHEVC = [4]byte{'h', 'e', 'v', '1'}
	assetTypeAAC  = [4]byte{'m', 'p', '4', 'a'}
)

// MfuPacket is one emitted access unit, staged with its presentation and
// decode timestamps (in seconds) when they could be derived.
type MfuPacket struct {
	DTS  *float64
	PTS  *float64
	Data []byte
}

// Packet is one unit of output from Read: exactly one of Mfu or Message
// is populated.
type Packet struct {
	PacketID uint16
	Mfu      *MfuPacket
	Message  *si.Message
}

// dtsPts is a staged decode/presentation timestamp pair, cleared once
// consumed by the next emitted access unit.
type dtsPts struct {
	dts float64
	pts float64
}

// stream is the per-packet-id state the demultiplexer tracks across MMTP
// packets. It is owned exclusively by the Demuxer that created it.
type stream struct {
	packetID        uint16
	defrag          *mmtp.Defragmenter
	lastMPUSequence uint32
	auCount         int
	timescale       *uint32
	timestamps      map[uint32]uint64
	extTimestamps   map[uint32]si.MpuExtendedTimestamp
	assetType       *[4]byte
	hevcParser      hevcframe.Parser
	staged          *dtsPts
}

func newStream(packetID uint16) *stream {
	return &stream{
		packetID:      packetID,
		defrag:        mmtp.NewDefragmenter(),
		timestamps:    make(map[uint32]uint64),
		extTimestamps: make(map[uint32]si.MpuExtendedTimestamp),
	}
}

// Demuxer reads TLV frames from a byte source, descrambles MPU payloads,
// and emits access units and signaling messages per packet id.
type Demuxer struct {
	reader      *tlv.Reader
	descrambler *descramble.Descrambler
	streams     map[uint16]*stream

	warn func(string)
}

// New returns a Demuxer reading from r, descrambling with d. warn (if
// non-nil) receives human-readable recoverable-condition messages.
func New(r io.Reader, d *descramble.Descrambler, warn func(string)) *Demuxer {
	return &Demuxer{
		reader:      tlv.NewReader(r),
		descrambler: d,
		streams:     make(map[uint16]*stream),
		warn:        warn,
	}
}

// Clear drops all per-packet-id state and the descrambler's current key,
// as required when a pipeline restarts after a channel change.
func (d *Demuxer) Clear() {
	d.streams = make(map[uint16]*stream)
	d.descrambler.Clear()
}

func (d *Demuxer) logWarn(msg string) {
	if d.warn != nil {
		d.warn(msg)
	}
}

// Read consumes one TLV frame and returns the packets it produced (zero or
// more). It returns io.EOF once the underlying byte source is exhausted.
func (d *Demuxer) Read() ([]Packet, error) {
	tlvPacket, err := d.reader.Read()
	if err != nil {
		return nil, err
	}
	if tlvPacket == nil {
		// Unrecognized TLV packet type; nothing to do this frame.
		return nil, nil
	}
	if tlvPacket.Type != tlv.TypeCompressedIP {
		return nil, nil
	}

	if ecmIndex := bytes.Index(tlvPacket.Data, ecmHeader); ecmIndex >= 0 {
		start := ecmIndex + 2
		if start+ecmLen > len(tlvPacket.Data) {
			return nil, nil
		}
		var ecm [ecmLen]byte
		copy(ecm[:], tlvPacket.Data[start:start+ecmLen])
		if err := d.descrambler.PushEcm(ecm); err != nil {
			return nil, errors.Wrap(err, "demux: push ecm")
		}
		return nil, nil
	}

	_, rest, err := hcfb.Read(tlvPacket.Data)
	if err != nil {
		d.logWarn("demux: " + err.Error())
		return nil, nil
	}

	mmtpPacket, err := mmtp.Read(rest)
	if err != nil {
		d.logWarn("demux: " + err.Error())
		return nil, nil
	}

	st, ok := d.streams[mmtpPacket.PacketID]
	if !ok {
		st = newStream(mmtpPacket.PacketID)
		d.streams[mmtpPacket.PacketID] = st
	}

	switch mmtpPacket.PayloadType {
	case mmtp.PayloadMPU:
		return d.readMPU(st, mmtpPacket)
	case mmtp.PayloadControlMessage:
		return d.readSignaling(st, mmtpPacket)
	default:
		return nil, nil
	}
}

func (d *Demuxer) readMPU(st *stream, packet *mmtp.Packet) ([]Packet, error) {
	fragment, err := mmtp.ReadMPUFragment(packet.Payload)
	if err != nil {
		d.logWarn("demux: " + err.Error())
		return nil, nil
	}
	if fragment.FragmentType != mmtp.FragmentMFU {
		return nil, nil
	}
	if fragment.FragmentationIndicator != mmtp.NotFragmented && fragment.AggregationFlag {
		panic("demux: mpu fragment is both aggregated and fragmented")
	}

	switch {
	case st.defrag.State() == mmtp.StateInit && !packet.RAPFlag:
		return nil, nil
	case st.defrag.State() == mmtp.StateInit:
		st.lastMPUSequence = fragment.MPUSequenceNumber
	case fragment.MPUSequenceNumber == st.lastMPUSequence+1:
		st.lastMPUSequence = fragment.MPUSequenceNumber
		st.auCount = 0
	case fragment.MPUSequenceNumber != st.lastMPUSequence:
		d.logWarn("demux: mpu sequence number jump")
		st.lastMPUSequence = fragment.MPUSequenceNumber
		st.auCount = 0
	}

	st.defrag.Sync(packet.PacketSequenceNumber, d.warn)

	if err := d.descrambler.Descramble(packet, fragment.Payload); err != nil {
		return nil, errors.Wrap(err, "demux: descramble payload")
	}

	return d.readMfuAccessUnits(st, fragment)
}

func (d *Demuxer) readMfuAccessUnits(st *stream, fragment *mmtp.MPUFragment) ([]Packet, error) {
	payload, err := mfu.Read(fragment.Payload, fragment.TimedFlag, fragment.AggregationFlag)
	if err != nil {
		d.logWarn("demux: " + err.Error())
		return nil, nil
	}

	var units [][]byte
	switch {
	case payload.TimedAggregated != nil:
		for _, td := range payload.TimedAggregated {
			units = append(units, td.Data)
		}
	case payload.Timed != nil:
		if out, ok := st.defrag.Push(fragment.FragmentationIndicator, payload.Timed.Data, d.warn); ok {
			units = append(units, out)
		}
	case payload.Aggregated != nil:
		for _, ntd := range payload.Aggregated {
			units = append(units, ntd.Data)
		}
	case payload.Default != nil:
		if out, ok := st.defrag.Push(fragment.FragmentationIndicator, payload.Default.Data, d.warn); ok {
			units = append(units, out)
		}
	}

	timestamp, haveTimestamp := st.timestamps[fragment.MPUSequenceNumber]
	extTimestamp, haveExt := st.extTimestamps[fragment.MPUSequenceNumber]

	var packets []Packet
	for _, unit := range units {
		if st.staged == nil && haveTimestamp && haveExt && st.timescale != nil {
			if int(st.auCount) >= int(extTimestamp.NumOfAU) {
				// Desynchronized: dropping rather than emitting with an
				// out-of-range offset.
				continue
			}
			dts, pts := deriveTimestamps(timestamp, &extTimestamp, *st.timescale, st.auCount)
			st.staged = &dtsPts{dts: dts, pts: pts}
			st.auCount++
		}

		wrapped, ok := wrapAccessUnit(st, unit)
		if !ok {
			continue
		}

		mp := &MfuPacket{Data: wrapped}
		if st.staged != nil {
			dts, pts := st.staged.dts, st.staged.pts
			mp.DTS, mp.PTS = &dts, &pts
			st.staged = nil
		}
		packets = append(packets, Packet{PacketID: st.packetID, Mfu: mp})
	}
	return packets, nil
}

// deriveTimestamps computes (dts, pts) in seconds for the access unit at
// index auIndex within the MPU's offset array, per the STD-B60 formula:
// DTS(m) = presentation_time - decoding_time_offset/S + Σ_{l<m} pts_offset(l)/S
// PTS(m) = DTS(m) + pts_dts_offset(m)/S
func deriveTimestamps(ntpTimestamp uint64, ext *si.MpuExtendedTimestamp, timescale uint32, auIndex int) (dts, pts float64) {
	S := float64(timescale)
	presentationTime := float64(ntpTimestamp>>32) + float64(ntpTimestamp&0xFFFFFFFF)/4294967296.0

	dtsSec := presentationTime - float64(ext.MPUDecodingTimeOffset)/S
	for i := 0; i < auIndex; i++ {
		dtsSec += float64(ext.Offsets[i].PTSOffset) / S
	}
	ptsSec := dtsSec + float64(ext.Offsets[auIndex].PTSDTSOffset)/S
	return dtsSec, ptsSec
}

// wrapAccessUnit applies the asset-type-specific wire wrapping: length-
// prefix stripping plus Annex-B start code for HEVC, or a LATM/LOAS
// synchronization header for AAC. An unrecognized or unset asset type
// drops the access unit.
func wrapAccessUnit(st *stream, data []byte) ([]byte, bool) {
	if st.assetType == nil {
		return nil, false
	}

	switch *st.assetType {
	case assetTypeHEVC:
		if len(data) < 4 {
			return nil, false
		}
		size := binary.BigEndian.Uint32(data)
		nal := data[4:]
		if int(size) != len(nal) {
			return nil, false
		}
		framed := make([]byte, 0, 3+len(nal))
		framed = append(framed, 0x00, 0x00, 0x01)
		framed = append(framed, nal...)
		return st.hevcParser.Push(framed)

	case assetTypeAAC:
		size := len(data)
		header := []byte{0x56, 0xE0 | byte(size>>8), byte(size & 0xFF)}
		return append(header, data...), true

	default:
		return nil, false
	}
}

func (d *Demuxer) readSignaling(st *stream, packet *mmtp.Packet) ([]Packet, error) {
	msg, err := mmtp.ReadSignalingMessage(packet.Payload)
	if err != nil {
		d.logWarn("demux: " + err.Error())
		return nil, nil
	}

	st.defrag.Sync(packet.PacketSequenceNumber, d.warn)

	var assembled [][]byte
	if msg.Payload.Aggregated != nil {
		for _, p := range msg.Payload.Aggregated {
			if out, ok := st.defrag.Push(msg.FragmentationIndicator, p, d.warn); ok {
				assembled = append(assembled, out)
			}
		}
	} else if out, ok := st.defrag.Push(msg.FragmentationIndicator, msg.Payload.Single, d.warn); ok {
		assembled = append(assembled, out)
	}

	var packets []Packet
	for _, data := range assembled {
		m, err := si.ReadMessage(data)
		if err != nil {
			d.logWarn("demux: " + err.Error())
			continue
		}
		d.applyMpt(m)
		packets = append(packets, Packet{PacketID: st.packetID, Message: m})
	}
	return packets, nil
}

// applyMpt scans a decoded message for Mpt tables and, for each asset,
// updates the target stream's asset_type and timestamp windows. The
// target stream is identified by the last location in the asset's
// location list, per the MPU descriptor binding convention.
func (d *Demuxer) applyMpt(m *si.Message) {
	if m.Pa == nil {
		return
	}
	for _, table := range m.Pa.Tables {
		if table.Mpt == nil {
			continue
		}
		for _, asset := range table.Mpt.Assets {
			if len(asset.Locations) == 0 {
				continue
			}
			loc := asset.Locations[len(asset.Locations)-1]

			var packetID uint16
			switch loc.Type {
			case si.LocationNone, si.LocationIPv4, si.LocationIPv6:
				packetID = loc.PacketID
			default:
				continue
			}

			target, ok := d.streams[packetID]
			if !ok {
				continue
			}

			assetType := asset.AssetType
			target.assetType = &assetType

			for _, desc := range asset.AssetDescriptors {
				switch {
				case desc.MpuTimestamp != nil:
					for _, ts := range desc.MpuTimestamp.Timestamps {
						target.timestamps[ts.MPUSequenceNumber] = ts.MPUPresentationTime
					}
				case desc.MpuExtendedTimestamp != nil:
					if desc.MpuExtendedTimestamp.Timescale != nil {
						target.timescale = desc.MpuExtendedTimestamp.Timescale
					}
					for _, ts := range desc.MpuExtendedTimestamp.Timestamps {
						target.extTimestamps[ts.MPUSequenceNumber] = ts
					}
				}
			}

			evictOldest(target.timestamps, maxTimestampEntries)
			evictOldestExt(target.extTimestamps, maxTimestampEntries)
		}
	}
}

func evictOldest(m map[uint32]uint64, max int) {
	for len(m) > max {
		var min uint32
		first := true
		for k := range m {
			if first || k < min {
				min, first = k, false
			}
		}
		delete(m, min)
	}
}

func evictOldestExt(m map[uint32]si.MpuExtendedTimestamp, max int) {
	for len(m) > max {
		var min uint32
		first := true
		for k := range m {
			if first || k < min {
				min, first = k, false
			}
		}
		delete(m, min)
	}
}
