/*
NAME
  tuner.go - sources of raw transport-stream bytes: a Tuner opens a byte
  stream and, if it supports it, retunes to a given channel.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package tuner sources raw MMT/TLV transport-stream bytes, either from a
// DVB frontend/demux/dvr device trio or a plain byte stream such as
// stdin, and exposes the ability to retune a source to a given channel
// where that is meaningful.
package tuner

import (
	"fmt"
	"io"
	"os"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/internal/channel"
	"github.com/siketyan/chibitv/internal/config"
)

// Tuner sources raw transport-stream bytes.
type Tuner interface {
	// Open returns a reader of raw transport-stream bytes. Each call may
	// open a fresh underlying device; callers should close it (if it is
	// an io.Closer) once done.
	Open() (io.Reader, error)

	// Tune retunes the source to ch. Sources that never retune (e.g. a
	// fixed byte stream) implement this as a no-op warning.
	Tune(ch channel.Channel) error
}

// baseTuner provides the default, warn-and-succeed Tune behaviour for
// tuners that don't support tuning at all.
type baseTuner struct {
	log logging.Logger
}

func (b baseTuner) Tune(channel.Channel) error {
	if b.log != nil {
		b.log.Warning("tuner: this tuner does not support tuning")
	}
	return nil
}

// StdinTuner reads a transport stream already present on stdin; it never
// retunes.
type StdinTuner struct {
	baseTuner
	r io.Reader
}

// NewStdinTuner returns a Tuner reading from r (typically os.Stdin).
func NewStdinTuner(r io.Reader, log logging.Logger) *StdinTuner {
	return &StdinTuner{baseTuner: baseTuner{log: log}, r: r}
}

func (t *StdinTuner) Open() (io.Reader, error) {
	return t.r, nil
}

// Tuners is the set of configured tuners, keyed by the id used to
// reference them from a stream.
type Tuners struct {
	tuners map[uint32]Tuner
}

// NewTuners returns an empty Tuners set.
func NewTuners() *Tuners {
	return &Tuners{tuners: make(map[uint32]Tuner)}
}

// Get returns the tuner registered under id, if any.
func (t *Tuners) Get(id uint32) (Tuner, bool) {
	tu, ok := t.tuners[id]
	return tu, ok
}

// Add registers tuner under id, replacing whatever was there before.
func (t *Tuners) Add(id uint32, tuner Tuner) {
	t.tuners[id] = tuner
}

// AddFromConfig builds and registers the tuner described by cfg under id.
func (t *Tuners) AddFromConfig(id uint32, cfg config.TunerConfig, log logging.Logger) error {
	switch cfg.Type {
	case config.TunerTypeStdin:
		t.Add(id, NewStdinTuner(os.Stdin, log))
	case config.TunerTypeDVB:
		dvb, err := NewDvbTuner(cfg.AdapterNum, cfg.FrontendNum, log)
		if err != nil {
			return fmt.Errorf("tuner: add dvb tuner: %w", err)
		}
		t.Add(id, dvb)
	default:
		return fmt.Errorf("tuner: unknown tuner type %q", cfg.Type)
	}
	return nil
}
