/*
NAME
  table.go - decodes MMT/ARIB signaling tables: Plt, Mpt, MhEit, MhBit,
  MhSdt, MhSit, and their nested location/asset/event/service records.

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
	"net"
	"time"

	"github.com/pkg/errors"
)

// LocationType identifies the shape of an MmtGeneralLocation or
// IpDeliveryLocation.
type LocationType byte

const (
	LocationNone   LocationType = 0x00
	LocationIPv4   LocationType = 0x01
	LocationIPv6   LocationType = 0x02
	LocationM2TS   LocationType = 0x03
	LocationM2IPv6 LocationType = 0x04
	LocationURL    LocationType = 0x05
)

// MmtGeneralLocation addresses an MMT package, asset, or IP delivery; only
// one of its fields is populated, selected by Type.
type MmtGeneralLocation struct {
	Type LocationType

	PacketID          uint16 // None, Ipv4, Ipv6
	SourceAddress     net.IP // Ipv4, Ipv6, M2Ipv6
	DestinationAddress net.IP // Ipv4, Ipv6, M2Ipv6
	DestinationPort   uint16 // Ipv4, Ipv6, M2Ipv6
	NetworkID         uint16 // M2ts
	M2TransportStreamID uint16 // M2ts
	M2PID             uint16 // M2ts, M2Ipv6
	URL               []byte // Url
}

// ReadMmtGeneralLocation decodes an MmtGeneralLocation from the head of
// data, returning the remaining bytes.
func ReadMmtGeneralLocation(data []byte) (*MmtGeneralLocation, []byte, error) {
	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	t := LocationType(data[0])
	data = data[1:]

	loc := &MmtGeneralLocation{Type: t}
	switch t {
	case LocationNone:
		if len(data) < 2 {
			return nil, nil, ErrTruncated
		}
		loc.PacketID = binary.BigEndian.Uint16(data)
		data = data[2:]
	case LocationIPv4:
		if len(data) < 12 {
			return nil, nil, ErrTruncated
		}
		loc.SourceAddress = net.IPv4(data[0], data[1], data[2], data[3])
		loc.DestinationAddress = net.IPv4(data[4], data[5], data[6], data[7])
		loc.DestinationPort = binary.BigEndian.Uint16(data[8:])
		loc.PacketID = binary.BigEndian.Uint16(data[10:])
		data = data[12:]
	case LocationIPv6:
		if len(data) < 36 {
			return nil, nil, ErrTruncated
		}
		loc.SourceAddress = append(net.IP(nil), data[:16]...)
		loc.DestinationAddress = append(net.IP(nil), data[16:32]...)
		loc.DestinationPort = binary.BigEndian.Uint16(data[32:])
		loc.PacketID = binary.BigEndian.Uint16(data[34:])
		data = data[36:]
	case LocationM2TS:
		if len(data) < 6 {
			return nil, nil, ErrTruncated
		}
		loc.NetworkID = binary.BigEndian.Uint16(data)
		loc.M2TransportStreamID = binary.BigEndian.Uint16(data[2:])
		loc.M2PID = binary.BigEndian.Uint16(data[4:]) & 0x1FFF
		data = data[6:]
	case LocationM2IPv6:
		if len(data) < 34 {
			return nil, nil, ErrTruncated
		}
		loc.SourceAddress = append(net.IP(nil), data[:16]...)
		loc.DestinationAddress = append(net.IP(nil), data[16:32]...)
		loc.DestinationPort = binary.BigEndian.Uint16(data[32:])
		// m2_pid is the u16 following the destination port; mask as with
		// M2ts.
		if len(data) < 36 {
			return nil, nil, ErrTruncated
		}
		loc.M2PID = binary.BigEndian.Uint16(data[34:]) & 0x1FFF
		data = data[36:]
	case LocationURL:
		if len(data) < 1 {
			return nil, nil, ErrTruncated
		}
		urlLen := int(data[0])
		data = data[1:]
		if len(data) < urlLen {
			return nil, nil, ErrTruncated
		}
		loc.URL = append([]byte(nil), data[:urlLen]...)
		data = data[urlLen:]
	default:
		return nil, nil, errors.Errorf("si: unknown mmt_general_location type 0x%02x", byte(t))
	}
	return loc, data, nil
}

// IpDeliveryLocation addresses an IP-delivered transport file; only one of
// its fields is populated, selected by Type.
type IpDeliveryLocation struct {
	Type LocationType

	SourceAddress      net.IP
	DestinationAddress net.IP
	DestinationPort    uint16
	URL                []byte
}

// ReadIpDeliveryLocation decodes an IpDeliveryLocation from the head of
// data, returning the remaining bytes.
func ReadIpDeliveryLocation(data []byte) (*IpDeliveryLocation, []byte, error) {
	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	t := LocationType(data[0])
	data = data[1:]

	loc := &IpDeliveryLocation{Type: t}
	switch t {
	case LocationIPv4:
		if len(data) < 10 {
			return nil, nil, ErrTruncated
		}
		loc.SourceAddress = net.IPv4(data[0], data[1], data[2], data[3])
		loc.DestinationAddress = net.IPv4(data[4], data[5], data[6], data[7])
		loc.DestinationPort = binary.BigEndian.Uint16(data[8:])
		data = data[10:]
	case LocationIPv6:
		if len(data) < 34 {
			return nil, nil, ErrTruncated
		}
		loc.SourceAddress = append(net.IP(nil), data[:16]...)
		loc.DestinationAddress = append(net.IP(nil), data[16:32]...)
		loc.DestinationPort = binary.BigEndian.Uint16(data[32:])
		data = data[34:]
	case LocationURL:
		if len(data) < 1 {
			return nil, nil, ErrTruncated
		}
		urlLen := int(data[0])
		data = data[1:]
		if len(data) < urlLen {
			return nil, nil, ErrTruncated
		}
		loc.URL = append([]byte(nil), data[:urlLen]...)
		data = data[urlLen:]
	default:
		return nil, nil, errors.Errorf("si: unexpected ip_delivery_location type 0x%02x", byte(t))
	}
	return loc, data, nil
}

// MmtIpDelivery is one IP-delivery entry of a Plt.
type MmtIpDelivery struct {
	TransportFileID uint32
	Location        IpDeliveryLocation
	Descriptors     []Descriptor
}

func readMmtIpDelivery(data []byte) (*MmtIpDelivery, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrTruncated
	}
	d := &MmtIpDelivery{TransportFileID: binary.BigEndian.Uint32(data)}
	data = data[4:]

	loc, rest, err := ReadIpDeliveryLocation(data)
	if err != nil {
		return nil, nil, err
	}
	d.Location = *loc
	data = rest

	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	descLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:descLen])
	if err != nil {
		return nil, nil, err
	}
	d.Descriptors = descs
	return d, data[descLen:], nil
}

// Package is one entry of a Plt's package list.
type Package struct {
	MMTPackageID []byte
	Location     MmtGeneralLocation
}

// Plt is the Package List Table: the root index of MMT packages and the
// IP-delivery locations carrying their transport files.
type Plt struct {
	Version      byte
	Packages     []Package
	IPDeliveries []MmtIpDelivery
}

// readPlt decodes a Plt from the head of data and returns the bytes
// following it; a Plt is self-terminating via its explicit package/IP-
// delivery counts, so no external length bound is needed to know where it
// ends.
func readPlt(data []byte) (*Plt, []byte, error) {
	if len(data) < 3 {
		return nil, nil, ErrTruncated
	}
	p := &Plt{Version: data[0]}
	// byte[1:3] is a length field that is not load-bearing for decoding
	// here; the package/IP-delivery counts below are authoritative.
	data = data[3:]

	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	numPackages := int(data[0])
	data = data[1:]
	for i := 0; i < numPackages; i++ {
		if len(data) < 1 {
			return nil, nil, ErrTruncated
		}
		idLen := int(data[0])
		data = data[1:]
		if len(data) < idLen {
			return nil, nil, ErrTruncated
		}
		id := append([]byte(nil), data[:idLen]...)
		data = data[idLen:]

		loc, rest, err := ReadMmtGeneralLocation(data)
		if err != nil {
			return nil, nil, err
		}
		data = rest
		p.Packages = append(p.Packages, Package{MMTPackageID: id, Location: *loc})
	}

	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	numIPDeliveries := int(data[0])
	data = data[1:]
	for i := 0; i < numIPDeliveries; i++ {
		d, rest, err := readMmtIpDelivery(data)
		if err != nil {
			return nil, nil, err
		}
		p.IPDeliveries = append(p.IPDeliveries, *d)
		data = rest
	}

	return p, data, nil
}

// MmtAsset is one asset entry of an Mpt: an elementary stream plus its
// delivery locations and descriptors.
type MmtAsset struct {
	IdentifierType          byte
	AssetIDScheme           [4]byte
	AssetID                 []byte
	AssetType               [4]byte
	AssetClockRelationFlag  bool
	Locations               []MmtGeneralLocation
	AssetDescriptors        []Descriptor
}

func readMmtAsset(data []byte) (*MmtAsset, []byte, error) {
	if len(data) < 5 {
		return nil, nil, ErrTruncated
	}
	a := &MmtAsset{IdentifierType: data[0]}
	copy(a.AssetIDScheme[:], data[1:5])
	data = data[5:]

	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	idLen := int(data[0])
	data = data[1:]
	if len(data) < idLen {
		return nil, nil, ErrTruncated
	}
	a.AssetID = append([]byte(nil), data[:idLen]...)
	data = data[idLen:]

	if len(data) < 5 {
		return nil, nil, ErrTruncated
	}
	copy(a.AssetType[:], data[:4])
	a.AssetClockRelationFlag = data[4]&0x01 == 1
	data = data[5:]

	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	locCount := int(data[0])
	data = data[1:]
	for i := 0; i < locCount; i++ {
		loc, rest, err := ReadMmtGeneralLocation(data)
		if err != nil {
			return nil, nil, err
		}
		a.Locations = append(a.Locations, *loc)
		data = rest
	}

	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	descLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:descLen])
	if err != nil {
		return nil, nil, err
	}
	a.AssetDescriptors = descs
	return a, data[descLen:], nil
}

// MptMode selects how an Mpt's package_id addresses its package.
type MptMode byte

const (
	MptModeOrdered   MptMode = 0b00
	MptModeAfterZero MptMode = 0b01
	MptModeArbitrary MptMode = 0b10
)

// Mpt is the MMT Package Table: the asset list for one MMT package.
type Mpt struct {
	Version       byte
	Mode          MptMode
	MMTPackageID  []byte
	MMTDescriptors []byte
	Assets        []MmtAsset
}

// readMpt decodes an Mpt from the head of data and returns the bytes
// following it; an Mpt is self-terminating via its explicit asset count, so
// no external length bound is needed to know where it ends.
func readMpt(data []byte) (*Mpt, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrTruncated
	}
	// byte[0:2] is the section length, redundant with the asset count below.
	data = data[2:]

	m := &Mpt{Mode: MptMode(data[0] & 0x03)}
	data = data[1:]

	idLen := int(data[0])
	data = data[1:]
	if len(data) < idLen {
		return nil, nil, ErrTruncated
	}
	m.MMTPackageID = append([]byte(nil), data[:idLen]...)
	data = data[idLen:]

	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	descLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	m.MMTDescriptors = append([]byte(nil), data[:descLen]...)
	data = data[descLen:]

	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	numAssets := int(data[0])
	data = data[1:]
	for i := 0; i < numAssets; i++ {
		a, rest, err := readMmtAsset(data)
		if err != nil {
			return nil, nil, err
		}
		m.Assets = append(m.Assets, *a)
		data = rest
	}

	return m, data, nil
}

// EventRunningStatus is the running_status field of an EventInformation.
type EventRunningStatus byte

const (
	EventUndefined      EventRunningStatus = 0
	EventInNonOperation EventRunningStatus = 1
	EventWillStartSoon  EventRunningStatus = 2
	EventOutOfOperation EventRunningStatus = 3
	EventInOperation    EventRunningStatus = 4
)

// EventInformation is one programme entry of an MhEit.
type EventInformation struct {
	EventID       uint16
	StartTime     *time.Time // nil when undefined (all-ones)
	Duration      *time.Duration
	RunningStatus EventRunningStatus
	FreeCAMode    bool
	Descriptors   []Descriptor
}

func readEventInformation(data []byte) (*EventInformation, []byte, error) {
	if len(data) < 12 {
		return nil, nil, ErrTruncated
	}
	e := &EventInformation{EventID: binary.BigEndian.Uint16(data)}
	data = data[2:]

	e.StartTime = parseStartTime(data[:5])
	data = data[5:]
	e.Duration = parseDuration(data[:3])
	data = data[3:]

	head := binary.BigEndian.Uint16(data)
	e.RunningStatus = EventRunningStatus((head & 0xE000) >> 13)
	e.FreeCAMode = head&0x1000 != 0
	descLen := int(head & 0x0FFF)
	data = data[2:]

	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:descLen])
	if err != nil {
		return nil, nil, err
	}
	e.Descriptors = descs
	return e, data[descLen:], nil
}

// mjdEpoch is the Gregorian date corresponding to Modified Julian Day 0
// (1858-11-17), used to convert ARIB's MJD-encoded start_time field.
var mjdEpoch = time.Date(1858, time.November, 17, 0, 0, 0, 0, time.UTC)

// parseStartTime decodes ARIB's 5-byte MJD+BCD start_time field. The
// all-ones sentinel means "undefined" and yields a nil result.
func parseStartTime(b []byte) *time.Time {
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF && b[4] == 0xFF {
		return nil
	}
	mjd := binary.BigEndian.Uint16(b[:2])
	date := mjdEpoch.AddDate(0, 0, int(mjd))

	hour := parseBCD(b[2])
	minute := parseBCD(b[3])
	second := parseBCD(b[4])

	t := time.Date(date.Year(), date.Month(), date.Day(), int(hour), int(minute), int(second), 0, time.UTC)
	return &t
}

// parseDuration decodes ARIB's 3-byte BCD duration field (hours, minutes,
// seconds). The all-ones sentinel means "undefined" and yields a nil
// result.
func parseDuration(b []byte) *time.Duration {
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF {
		return nil
	}
	hours := time.Duration(parseBCD(b[0])) * time.Hour
	minutes := time.Duration(parseBCD(b[1])) * time.Minute
	seconds := time.Duration(parseBCD(b[2])) * time.Second
	d := hours + minutes + seconds
	return &d
}

func parseBCD(b byte) byte {
	return (b>>4)*10 + (b & 0x0F)
}

// MhEit is the MH Event Information Table.
type MhEit struct {
	SectionSyntaxIndicator   bool
	SectionLength            uint16
	ServiceID                uint16
	VersionNumber            byte
	CurrentNextIndicator     bool
	SectionNumber            byte
	LastSectionNumber        byte
	TLVStreamID              uint16
	OriginalNetworkID        uint16
	SegmentLastSectionNumber byte
	LastTableID              byte
	Events                   []EventInformation
	CRC32                    uint32
}

func readMhEit(data []byte) (*MhEit, error) {
	if len(data) < 14 {
		return nil, ErrTruncated
	}
	head := binary.BigEndian.Uint16(data)
	e := &MhEit{
		SectionSyntaxIndicator: head&0x8000 != 0,
		SectionLength:          head & 0x0FFF,
		ServiceID:              binary.BigEndian.Uint16(data[2:]),
	}
	data = data[4:]

	b := data[0]
	e.VersionNumber = (b & 0b0011_1110) >> 1
	e.CurrentNextIndicator = b&0b0000_0001 != 0
	e.SectionNumber = data[1]
	e.LastSectionNumber = data[2]
	e.TLVStreamID = binary.BigEndian.Uint16(data[3:])
	e.OriginalNetworkID = binary.BigEndian.Uint16(data[5:])
	e.SegmentLastSectionNumber = data[7]
	e.LastTableID = data[8]
	data = data[9:]

	for len(data) > 4 {
		ev, rest, err := readEventInformation(data)
		if err != nil {
			return nil, err
		}
		e.Events = append(e.Events, *ev)
		data = rest
	}

	if len(data) < 4 {
		return nil, ErrTruncated
	}
	e.CRC32 = binary.BigEndian.Uint32(data)
	return e, nil
}

// BroadcasterInformation is one broadcaster entry of an MhBit.
type BroadcasterInformation struct {
	BroadcasterID byte
	Descriptors   []Descriptor
}

func readBroadcasterInformation(data []byte) (*BroadcasterInformation, []byte, error) {
	if len(data) < 3 {
		return nil, nil, ErrTruncated
	}
	b := &BroadcasterInformation{BroadcasterID: data[0]}
	descLen := int(binary.BigEndian.Uint16(data[1:]) & 0x0FFF)
	data = data[3:]

	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:descLen])
	if err != nil {
		return nil, nil, err
	}
	b.Descriptors = descs
	return b, data[descLen:], nil
}

// MhBit is the MH Broadcaster Information Table.
type MhBit struct {
	SectionSyntaxIndicator  bool
	SectionLength           uint16
	OriginalNetworkID       uint16
	VersionNumber           byte
	CurrentNextIndicator    bool
	SectionNumber           byte
	LastSectionNumber       byte
	BroadcastViewPropriety  bool
	Descriptors             []Descriptor
	Broadcasters            []BroadcasterInformation
	CRC32                   uint32
}

func readMhBit(data []byte) (*MhBit, error) {
	if len(data) < 9 {
		return nil, ErrTruncated
	}
	head := binary.BigEndian.Uint16(data)
	b := &MhBit{
		SectionSyntaxIndicator: head&0x8000 != 0,
		SectionLength:          head & 0x0FFF,
		OriginalNetworkID:      binary.BigEndian.Uint16(data[2:]),
	}
	data = data[4:]

	h := data[0]
	b.VersionNumber = (h & 0b0011_1110) >> 1
	b.CurrentNextIndicator = h&0b0000_0001 != 0
	b.SectionNumber = data[1]
	b.LastSectionNumber = data[2]
	data = data[3:]

	if len(data) < 2 {
		return nil, ErrTruncated
	}
	head = binary.BigEndian.Uint16(data)
	b.BroadcastViewPropriety = head&0x1000 != 0
	firstDescLen := int(head & 0x0FFF)
	data = data[2:]

	if len(data) < firstDescLen {
		return nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:firstDescLen])
	if err != nil {
		return nil, err
	}
	b.Descriptors = descs
	data = data[firstDescLen:]

	for len(data) > 4 {
		bi, rest, err := readBroadcasterInformation(data)
		if err != nil {
			return nil, err
		}
		b.Broadcasters = append(b.Broadcasters, *bi)
		data = rest
	}

	if len(data) < 4 {
		return nil, ErrTruncated
	}
	b.CRC32 = binary.BigEndian.Uint32(data)
	return b, nil
}

// ServiceInformation is one service entry of an MhSdt.
type ServiceInformation struct {
	ServiceID                uint16
	EITUserDefinedFlags      byte
	EITScheduleFlag          bool
	EITPresentFollowingFlag  bool
	RunningStatus            byte
	FreeCAMode               bool
	Descriptors              []Descriptor
}

func readServiceInformation(data []byte) (*ServiceInformation, []byte, error) {
	if len(data) < 5 {
		return nil, nil, ErrTruncated
	}
	s := &ServiceInformation{ServiceID: binary.BigEndian.Uint16(data)}
	data = data[2:]

	h := data[0]
	s.EITUserDefinedFlags = (h & 0b0001_1100) >> 2
	s.EITScheduleFlag = h&0b0000_0010 != 0
	s.EITPresentFollowingFlag = h&0b0000_0001 != 0
	data = data[1:]

	head := binary.BigEndian.Uint16(data)
	s.RunningStatus = byte((head & 0xE000) >> 13)
	s.FreeCAMode = head&0x1000 != 0
	descLen := int(head & 0x0FFF)
	data = data[2:]

	if len(data) < descLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:descLen])
	if err != nil {
		return nil, nil, err
	}
	s.Descriptors = descs
	return s, data[descLen:], nil
}

// MhSdt is the MH Service Description Table.
type MhSdt struct {
	SectionSyntaxIndicator bool
	SectionLength          uint16
	TLVStreamID            uint16
	VersionNumber          byte
	CurrentNextIndicator   bool
	SectionNumber          byte
	LastSectionNumber      byte
	OriginalNetworkID      uint16
	Services               []ServiceInformation
	CRC32                  uint32
}

func readMhSdt(data []byte) (*MhSdt, error) {
	if len(data) < 11 {
		return nil, ErrTruncated
	}
	head := binary.BigEndian.Uint16(data)
	s := &MhSdt{
		SectionSyntaxIndicator: head&0x8000 != 0,
		SectionLength:          head & 0x0FFF,
		TLVStreamID:            binary.BigEndian.Uint16(data[2:]),
	}
	data = data[4:]

	h := data[0]
	s.VersionNumber = (h & 0b0011_1110) >> 1
	s.CurrentNextIndicator = h&0b0000_0001 != 0
	s.SectionNumber = data[1]
	s.LastSectionNumber = data[2]
	s.OriginalNetworkID = binary.BigEndian.Uint16(data[3:])
	data = data[6:] // ... + reserved_future_use byte

	for len(data) > 4 {
		svc, rest, err := readServiceInformation(data)
		if err != nil {
			return nil, err
		}
		s.Services = append(s.Services, *svc)
		data = rest
	}

	if len(data) < 4 {
		return nil, ErrTruncated
	}
	s.CRC32 = binary.BigEndian.Uint32(data)
	return s, nil
}

// SelectionInformation is one selection entry of an MhSit.
type SelectionInformation struct {
	ServiceID     uint16
	RunningStatus byte
	Descriptors   []Descriptor
}

func readSelectionInformation(data []byte) (*SelectionInformation, []byte, error) {
	if len(data) < 4 {
		return nil, nil, ErrTruncated
	}
	s := &SelectionInformation{ServiceID: binary.BigEndian.Uint16(data)}
	head := binary.BigEndian.Uint16(data[2:])
	s.RunningStatus = byte((head & 0x7000) >> 12)
	loopLen := int(head & 0x0FFF)
	data = data[4:]

	if len(data) < loopLen {
		return nil, nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:loopLen])
	if err != nil {
		return nil, nil, err
	}
	s.Descriptors = descs
	return s, data[loopLen:], nil
}

// MhSit is the MH Selection Information Table.
type MhSit struct {
	SectionSyntaxIndicator bool
	SectionLength          uint16
	VersionNumber          byte
	CurrentNextIndicator   bool
	SectionNumber          byte
	LastSectionNumber      byte
	Descriptors            []Descriptor
	Selections             []SelectionInformation
	CRC32                  uint32
}

func readMhSit(data []byte) (*MhSit, error) {
	if len(data) < 9 {
		return nil, ErrTruncated
	}
	head := binary.BigEndian.Uint16(data)
	s := &MhSit{
		SectionSyntaxIndicator: head&0x8000 != 0,
		SectionLength:          head & 0x0FFF,
	}
	data = data[4:] // ... + reserved_future_use u16

	h := data[0]
	s.VersionNumber = (h & 0b0011_1110) >> 1
	s.CurrentNextIndicator = h&0b0000_0001 != 0
	s.SectionNumber = data[1]
	s.LastSectionNumber = data[2]
	data = data[3:]

	if len(data) < 2 {
		return nil, ErrTruncated
	}
	head = binary.BigEndian.Uint16(data)
	loopLen := int(head & 0x0FFF)
	data = data[2:]

	if len(data) < loopLen {
		return nil, ErrTruncated
	}
	descs, err := ReadDescriptorLoop(data[:loopLen])
	if err != nil {
		return nil, err
	}
	s.Descriptors = descs
	data = data[loopLen:]

	for len(data) > 4 {
		sel, rest, err := readSelectionInformation(data)
		if err != nil {
			return nil, err
		}
		s.Selections = append(s.Selections, *sel)
		data = rest
	}

	if len(data) < 4 {
		return nil, ErrTruncated
	}
	s.CRC32 = binary.BigEndian.Uint32(data)
	return s, nil
}

// Table IDs dispatched by ReadTable.
const (
	tableIDMpt             = 0x20
	tableIDPlt             = 0x80
	tableIDMhEit           = 0x8B
	tableIDMhEitSchedStart = 0x8C
	tableIDMhEitSchedEnd   = 0x9B
	tableIDMhBit           = 0x9D
	tableIDMhSdt           = 0x9F
	tableIDMhSdtOther      = 0xA0
	tableIDMhSit           = 0xA8
)

// Table is a decoded signaling table: exactly one of the typed fields is
// populated, or Unknown holds the raw table_id and bytes for an
// unrecognized one.
type Table struct {
	Mpt   *Mpt
	Plt   *Plt
	MhEit *MhEit
	MhBit *MhBit
	MhSdt *MhSdt
	MhSit *MhSit

	UnknownTableID byte
	UnknownData    []byte
}

// boundBySectionLength reads the two-byte section_length header shared by
// MhEit/MhBit/MhSdt/MhSit (the low 12 bits of a big-endian uint16, counting
// the bytes following that header up to and including the trailing CRC-32),
// and splits data into exactly that table's bytes and whatever follows.
// Without this, the section-scoped loops in those readers (which stop only
// when 4 bytes remain) would run past their own table into the next one.
func boundBySectionLength(data []byte) (body, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, ErrTruncated
	}
	sectionLength := int(binary.BigEndian.Uint16(data) & 0x0FFF)
	total := 2 + sectionLength
	if len(data) < total {
		return nil, nil, ErrTruncated
	}
	return data[:total], data[total:], nil
}

// ReadTable decodes one table from the head of data, dispatching on its
// leading table_id byte, and returns the bytes following it so callers can
// keep decoding further tables packed into the same message.
func ReadTable(data []byte) (*Table, []byte, error) {
	if len(data) < 1 {
		return nil, nil, ErrTruncated
	}
	tableID := data[0]
	data = data[1:]

	switch {
	case tableID == tableIDMpt:
		v, rest, err := readMpt(data)
		if err != nil {
			return nil, nil, err
		}
		return &Table{Mpt: v}, rest, nil
	case tableID == tableIDPlt:
		v, rest, err := readPlt(data)
		if err != nil {
			return nil, nil, err
		}
		return &Table{Plt: v}, rest, nil
	case tableID == tableIDMhEit || (tableID >= tableIDMhEitSchedStart && tableID <= tableIDMhEitSchedEnd):
		body, rest, err := boundBySectionLength(data)
		if err != nil {
			return nil, nil, err
		}
		v, err := readMhEit(body)
		if err != nil {
			return nil, nil, err
		}
		return &Table{MhEit: v}, rest, nil
	case tableID == tableIDMhBit:
		body, rest, err := boundBySectionLength(data)
		if err != nil {
			return nil, nil, err
		}
		v, err := readMhBit(body)
		if err != nil {
			return nil, nil, err
		}
		return &Table{MhBit: v}, rest, nil
	case tableID == tableIDMhSdt || tableID == tableIDMhSdtOther:
		body, rest, err := boundBySectionLength(data)
		if err != nil {
			return nil, nil, err
		}
		v, err := readMhSdt(body)
		if err != nil {
			return nil, nil, err
		}
		return &Table{MhSdt: v}, rest, nil
	case tableID == tableIDMhSit:
		body, rest, err := boundBySectionLength(data)
		if err != nil {
			return nil, nil, err
		}
		v, err := readMhSit(body)
		if err != nil {
			return nil, nil, err
		}
		return &Table{MhSit: v}, rest, nil
	default:
		return &Table{UnknownTableID: tableID, UnknownData: append([]byte(nil), data...)}, nil, nil
	}
}
