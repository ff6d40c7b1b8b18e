/*
NAME
  cas.go - APDU commands and responses implemented by a CAS (Conditional
  Access System) smart-card module, and the high-level API to drive one
  over PC/SC.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package cas talks to an ISDB conditional-access smart card over PC/SC,
// encoding the three APDU commands the descrambling pipeline needs
// (initial setting condition, ECM reception, scrambling key protection
// setting) and decoding their responses.
package cas

import (
	"encoding/binary"

	"github.com/ebfe/scard"
	"github.com/pkg/errors"
)

// claCAS is the class byte shared by every command this module issues.
const claCAS = 0x90

const (
	insInitialSettingCondition      = 0x30
	insEcmReception                 = 0x34
	insScramblingKeyProtectionSetting = 0xA0
)

// ErrCardError is returned when the card's status word reports failure.
var ErrCardError = errors.New("cas: card returned an error status")

// ErrTruncated indicates a response APDU ended before a complete record
// could be decoded.
var ErrTruncated = errors.New("cas: truncated response")

// buildAPDU encodes a command APDU with payload and a trailing Le of 0x00
// (meaning "return whatever the card has", per ISO/IEC 7816-4 case 4
// short-form coding).
func buildAPDU(ins byte, data []byte) []byte {
	buf := make([]byte, 0, 5+len(data))
	buf = append(buf, claCAS, ins, 0x00, 0x01)
	if len(data) > 0 {
		buf = append(buf, byte(len(data)))
		buf = append(buf, data...)
	}
	buf = append(buf, 0x00)
	return buf
}

// parseAPDUResponse splits the trailing two-byte status word from a
// response APDU, returning the payload when the status word reports
// success (SW1 == 0x90, SW2 == 0x00).
func parseAPDUResponse(resp []byte) ([]byte, error) {
	if len(resp) < 2 {
		return nil, ErrTruncated
	}
	payload, sw := resp[:len(resp)-2], resp[len(resp)-2:]
	if sw[0] != 0x90 || sw[1] != 0x00 {
		return nil, errors.Wrapf(ErrCardError, "sw1=0x%02x sw2=0x%02x", sw[0], sw[1])
	}
	return payload, nil
}

// EncryptionFlag is the ODD/EVEN scrambling state of an MMTP packet's
// payload, carried in its MMT-scrambling extension header.
type EncryptionFlag byte

const (
	Unscrambled    EncryptionFlag = 0x00
	EncryptionFlagReserved EncryptionFlag = 0x01
	Even           EncryptionFlag = 0x02
	Odd            EncryptionFlag = 0x03
)

// KindOfCASModule identifies the category of CAS module reported by an
// InitialSettingConditionResponse.
type KindOfCASModule byte

// KindGeneral is the only kind this pipeline has been observed to handle.
const KindGeneral KindOfCASModule = 0x02

// InitialSettingConditionResponse is the decoded reply to the initial
// setting condition command, identifying the card and its ARIB
// capabilities.
type InitialSettingConditionResponse struct {
	UnitLength            byte
	CASModuleInstruction  uint16
	ReturnCode            uint16
	CASystemID            uint16
	CASModuleID           [6]byte
	KindOfCASModule       KindOfCASModule
	MessageDivisionLength byte
	SystemManagementIDs   []uint16
}

func readInitialSettingConditionResponse(payload []byte) (*InitialSettingConditionResponse, error) {
	if len(payload) < 14 {
		return nil, ErrTruncated
	}
	if payload[0] != 0x00 {
		return nil, errors.Errorf("cas: unexpected protocol unit number 0x%02x", payload[0])
	}
	r := &InitialSettingConditionResponse{
		UnitLength:           payload[1],
		CASModuleInstruction: binary.BigEndian.Uint16(payload[2:]),
		ReturnCode:           binary.BigEndian.Uint16(payload[4:]),
		CASystemID:           binary.BigEndian.Uint16(payload[6:]),
	}
	copy(r.CASModuleID[:], payload[8:14])
	payload = payload[14:]

	if len(payload) < 3 {
		return nil, ErrTruncated
	}
	r.KindOfCASModule = KindOfCASModule(payload[0])
	r.MessageDivisionLength = payload[1]
	numIDs := int(payload[2])
	payload = payload[3:]

	if len(payload) < numIDs*2 {
		return nil, ErrTruncated
	}
	for i := 0; i < numIDs; i++ {
		r.SystemManagementIDs = append(r.SystemManagementIDs, binary.BigEndian.Uint16(payload[i*2:]))
	}
	return r, nil
}

// EcmReceptionResponse is the decoded reply to an ECM reception command:
// the scrambling key material (Ks, covering both the even and odd halves)
// keyed to the broadcaster that issued the ECM.
type EcmReceptionResponse struct {
	UnitLength              byte
	CASModuleInstruction    uint16
	ReturnCode              uint16
	Ks                      [32]byte
	BroadcasterIdentifier   byte
	ExtensionResponseData   []byte
}

func readEcmReceptionResponse(payload []byte) (*EcmReceptionResponse, error) {
	if len(payload) < 40 {
		return nil, ErrTruncated
	}
	if payload[0] != 0x00 {
		return nil, errors.Errorf("cas: unexpected protocol unit number 0x%02x", payload[0])
	}
	r := &EcmReceptionResponse{
		UnitLength:           payload[1],
		CASModuleInstruction: binary.BigEndian.Uint16(payload[2:]),
		ReturnCode:           binary.BigEndian.Uint16(payload[4:]),
	}
	copy(r.Ks[:], payload[6:38])
	r.BroadcasterIdentifier = payload[38]
	r.ExtensionResponseData = append([]byte(nil), payload[39:]...)
	return r, nil
}

// ScramblingKeyProtectionSettingResponse is the decoded reply to a
// scrambling key protection setting command.
type ScramblingKeyProtectionSettingResponse struct {
	UnitNumber            byte
	CASModuleDirection    uint16
	ReturnCode            uint16
	SettingResponseData   []byte
}

func readScramblingKeyProtectionSettingResponse(payload []byte) (*ScramblingKeyProtectionSettingResponse, error) {
	if len(payload) < 6 {
		return nil, ErrTruncated
	}
	if payload[0] != 0x00 {
		return nil, errors.Errorf("cas: unexpected protocol unit number 0x%02x", payload[0])
	}
	r := &ScramblingKeyProtectionSettingResponse{
		UnitNumber:         payload[1],
		CASModuleDirection: binary.BigEndian.Uint16(payload[2:]),
		ReturnCode:         binary.BigEndian.Uint16(payload[4:]),
	}
	r.SettingResponseData = append([]byte(nil), payload[6:]...)
	return r, nil
}

// Module is a CAS module reached over a PC/SC smart-card reader.
type Module struct {
	ctx  *scard.Context
	card *scard.Card
}

// Open establishes a PC/SC context and connects to the first available
// reader, which is expected to hold the broadcast's B-CAS (or equivalent)
// smart card.
func Open() (*Module, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, errors.Wrap(err, "cas: establish pc/sc context")
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, errors.Wrap(err, "cas: list readers")
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, errors.New("cas: no smart-card reader found")
	}

	card, err := ctx.Connect(readers[0], scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, errors.Wrapf(err, "cas: connect to reader %q", readers[0])
	}

	return &Module{ctx: ctx, card: card}, nil
}

// Close disconnects from the card and releases the PC/SC context.
func (m *Module) Close() error {
	if err := m.card.Disconnect(scard.LeaveCard); err != nil {
		return errors.Wrap(err, "cas: disconnect")
	}
	return errors.Wrap(m.ctx.Release(), "cas: release context")
}

func (m *Module) transmit(ins byte, data []byte) ([]byte, error) {
	resp, err := m.card.Transmit(buildAPDU(ins, data))
	if err != nil {
		return nil, errors.Wrap(err, "cas: transmit apdu")
	}
	return parseAPDUResponse(resp)
}

// InitialSettingCondition queries the card's identity and capabilities.
// It must be issued once, before any ECM is presented.
func (m *Module) InitialSettingCondition() (*InitialSettingConditionResponse, error) {
	payload, err := m.transmit(insInitialSettingCondition, nil)
	if err != nil {
		return nil, err
	}
	return readInitialSettingConditionResponse(payload)
}

// EcmReception presents one ECM (Entitlement Control Message) to the card
// and returns the scrambling key material it derives in response.
func (m *Module) EcmReception(ecm []byte) (*EcmReceptionResponse, error) {
	payload, err := m.transmit(insEcmReception, ecm)
	if err != nil {
		return nil, err
	}
	return readEcmReceptionResponse(payload)
}

// ScramblingKeyProtectionSetting configures the card's key-protection mode
// ahead of descrambling.
func (m *Module) ScramblingKeyProtectionSetting(settingData []byte) (*ScramblingKeyProtectionSettingResponse, error) {
	payload, err := m.transmit(insScramblingKeyProtectionSetting, settingData)
	if err != nil {
		return nil, err
	}
	return readScramblingKeyProtectionSettingResponse(payload)
}
