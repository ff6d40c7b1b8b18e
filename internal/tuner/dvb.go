/*
NAME
  dvb.go - a Tuner backed by a Linux DVB adapter's frontend, demux, and
  dvr device nodes, driven directly through the DVBv5 (S2API) ioctls.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package tuner

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/internal/channel"
)

// DVB frontend property commands, from linux/dvb/frontend.h. Only the
// handful ISDB-S tuning needs are named.
const (
	dtvFrequency      = 3
	dtvDeliverySystem = 17
	dtvStreamID       = 42
	dtvTune           = 1
	dtvClear          = 2
)

// feDeliverySystem values, from the fe_delivery_system enum.
const feSysISDBS = 9

// DVB ioctl request numbers, computed from the _IOW('o', nr, size)
// encoding in linux/dvb/frontend.h and linux/dvb/dmx.h. x/sys/unix has
// no DVB subpackage, so these are derived directly from the kernel
// headers rather than sourced from a dependency.
const (
	dvbIOCMagic = 0x6F // 'o'

	feSetProperty   = (1 << 30) | (16 << 16) | (dvbIOCMagic << 8) | 82
	dmxSetPESFilter = (1 << 30) | (20 << 16) | (dvbIOCMagic << 8) | 44
)

// dtvPropertySize is sizeof(struct dtv_property): a packed 4-byte cmd,
// 12 bytes reserved, a 56-byte union (we only ever populate its leading
// 4-byte data field), and a 4-byte result - 76 bytes total.
const dtvPropertySize = 76

// dmx_output_t/dmx_input_t/dmx_pes_type_t values used for a full-TS
// passthrough PES filter, from linux/dvb/dmx.h.
const (
	dmxInFrontend = 0
	dmxOutTSTap   = 2
	dmxPESOther   = 20
)

// dmxPESFilterParams mirrors struct dmx_pes_filter_params: a u16 pid,
// 2 bytes of alignment padding, then three 4-byte enums and a u32 flags
// field.
type dmxPESFilterParams struct {
	Pid     uint16
	_       uint16
	Input   int32
	Output  int32
	PesType int32
	Flags   uint32
}

// DvbTuner tunes a Linux DVB adapter to an ISDB-S channel and reads the
// resulting full transport stream from its dvr device node.
type DvbTuner struct {
	baseTuner

	adapterNum, frontendNum uint8
	feFd, demuxFd           int
}

func devicePath(adapter, num uint8, kind string) string {
	return fmt.Sprintf("/dev/dvb/adapter%d/%s%d", adapter, kind, num)
}

// NewDvbTuner opens the frontend and demux device nodes for the given
// adapter/frontend pair. The dvr device is opened fresh on each Open
// call.
func NewDvbTuner(adapterNum, frontendNum uint8, log logging.Logger) (*DvbTuner, error) {
	feFd, err := unix.Open(devicePath(adapterNum, frontendNum, "frontend"), unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tuner: open frontend: %w", err)
	}

	demuxFd, err := unix.Open(devicePath(adapterNum, frontendNum, "demux"), unix.O_RDWR, 0)
	if err != nil {
		unix.Close(feFd)
		return nil, fmt.Errorf("tuner: open demux: %w", err)
	}

	return &DvbTuner{
		baseTuner:   baseTuner{log: log},
		adapterNum:  adapterNum,
		frontendNum: frontendNum,
		feFd:        feFd,
		demuxFd:     demuxFd,
	}, nil
}

// Open opens a fresh handle to the dvr device node, which streams
// whatever PES filter was last set on the demux device.
func (t *DvbTuner) Open() (io.Reader, error) {
	f, err := os.Open(devicePath(t.adapterNum, t.frontendNum, "dvr"))
	if err != nil {
		return nil, fmt.Errorf("tuner: open dvr: %w", err)
	}
	return f, nil
}

// Tune sets the frontend to ch's delivery system and frequency/stream
// id, then configures the demux for full-transport-stream passthrough.
func (t *DvbTuner) Tune(ch channel.Channel) error {
	if ch.IsdbS == nil {
		return fmt.Errorf("tuner: dvb tuner only supports ISDB-S channels, got %q", ch.Name)
	}

	if t.log != nil {
		t.log.Info("tuner: tuning", "frequency", ch.IsdbS.Frequency, "streamID", ch.IsdbS.StreamID)
	}

	if err := t.setProperty(dtvClear, 0); err != nil {
		return err
	}
	if err := t.setProperty(dtvDeliverySystem, feSysISDBS); err != nil {
		return err
	}
	if err := t.setProperty(dtvFrequency, ch.IsdbS.Frequency); err != nil {
		return err
	}
	if err := t.setProperty(dtvStreamID, ch.IsdbS.StreamID); err != nil {
		return err
	}
	if err := t.setProperty(dtvTune, 0); err != nil {
		return err
	}

	return t.setPESFilter()
}

// setProperty issues a single-element FE_SET_PROPERTY ioctl.
func (t *DvbTuner) setProperty(cmd uint32, data uint32) error {
	buf := make([]byte, dtvPropertySize)
	binary.LittleEndian.PutUint32(buf[0:], cmd)
	binary.LittleEndian.PutUint32(buf[16:], data)

	props := struct {
		Num   uint32
		_     uint32
		Props uintptr
	}{
		Num:   1,
		Props: uintptr(unsafe.Pointer(&buf[0])),
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.feFd), feSetProperty, uintptr(unsafe.Pointer(&props))); errno != 0 {
		return fmt.Errorf("tuner: fe_set_property cmd %d: %w", cmd, errno)
	}
	return nil
}

// setPESFilter configures the demux to pass the entire transport stream
// (PID 0x2000, the "select all PIDs" sentinel) through to the dvr
// device unfiltered.
func (t *DvbTuner) setPESFilter() error {
	params := dmxPESFilterParams{
		Pid:     0x2000,
		Input:   dmxInFrontend,
		Output:  dmxOutTSTap,
		PesType: dmxPESOther,
		Flags:   0,
	}

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(t.demuxFd), dmxSetPESFilter, uintptr(unsafe.Pointer(&params))); errno != 0 {
		return fmt.Errorf("tuner: dmx_set_pes_filter: %w", errno)
	}
	return nil
}
