/*
NAME
  stream.go - supervises one tuner's remux pipeline: start/stop, channel
  changes, and the current service/event it believes it is tuned to.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package stream supervises one tuner's read-demux-remux pipeline,
// fanning its packetized output out to subscribers and tracking which
// service and event it is currently tuned to.
package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/container/mts"
	"github.com/siketyan/chibitv/internal/channel"
	"github.com/siketyan/chibitv/internal/demux"
	"github.com/siketyan/chibitv/internal/descramble"
	"github.com/siketyan/chibitv/internal/registry"
	"github.com/siketyan/chibitv/internal/remux"
	"github.com/siketyan/chibitv/internal/tuner"
)

// Stream supervises the pipeline reading one tuner's transport stream,
// descrambling and remuxing it, and publishing the result to Subscribe
// callers. Its tuner and underlying reader are opened once and held for
// the Stream's lifetime; SetChannel retunes the hardware in place rather
// than reopening it.
type Stream struct {
	tuner    tuner.Tuner
	remuxer  *remux.Remuxer
	registry *registry.Registry
	hub      *Hub
	log      logging.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	serviceID *uint16
	eventID   *uint16
}

// Open builds the demux/mux/remux pipeline for t, reading its device
// once, and starts a background goroutine tracking event changes. The
// pipeline is not yet running; call Run or SetChannel to start it.
func Open(t tuner.Tuner, reg *registry.Registry, descrambler *descramble.Descrambler, log logging.Logger) (*Stream, error) {
	r, err := t.Open()
	if err != nil {
		return nil, fmt.Errorf("stream: open tuner: %w", err)
	}

	hub := NewHub()
	d := demux.New(r, descrambler, func(msg string) { log.Warning(msg) })
	m := mts.NewMuxer(hub, log)
	signalCh := make(chan remux.Signal, 8)
	rx := remux.New(d, m, reg, signalCh, log)

	s := &Stream{tuner: t, remuxer: rx, registry: reg, hub: hub, log: log}
	go s.watchSignals(signalCh)
	return s, nil
}

func (s *Stream) watchSignals(signalCh <-chan remux.Signal) {
	for sig := range signalCh {
		id := sig.EventID
		s.mu.Lock()
		s.eventID = &id
		s.mu.Unlock()
	}
}

// Run starts the pipeline's read loop if it is not already running.
func (s *Stream) Run() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.remuxer.Run(ctx.Done()); err != nil {
			s.log.Error("stream: pipeline stopped", "error", err.Error())
		}
	}()
}

// stop halts the running pipeline, if any, and waits for it to exit.
func (s *Stream) stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}

// SetChannel stops the running pipeline, clears its per-channel state,
// retunes the hardware to ch, records serviceID as the service now
// expected on it, and restarts the pipeline.
func (s *Stream) SetChannel(serviceID uint16, ch channel.Channel) error {
	s.stop()
	s.remuxer.Clear()

	if err := s.tuner.Tune(ch); err != nil {
		return fmt.Errorf("stream: tune: %w", err)
	}

	s.mu.Lock()
	s.serviceID = &serviceID
	s.eventID = nil
	s.mu.Unlock()

	s.Run()
	return nil
}

// ServiceID returns the service id last set via SetChannel, if any.
func (s *Stream) ServiceID() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serviceID == nil {
		return 0, false
	}
	return *s.serviceID, true
}

// EventID returns the event id currently believed to be airing, if any.
func (s *Stream) EventID() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventID == nil {
		return 0, false
	}
	return *s.eventID, true
}

// Subscribe registers for a copy of every packetized chunk this stream
// emits from now on. Call the returned function to stop receiving them.
func (s *Stream) Subscribe() (<-chan []byte, func()) {
	id, ch := s.hub.Subscribe()
	return ch, func() { s.hub.Unsubscribe(id) }
}

// Streams is the set of open Streams, keyed by the id a caller uses to
// address them (typically the tuner id driving each one).
type Streams struct {
	mu      sync.RWMutex
	streams map[uint32]*Stream
}

// NewStreams returns an empty Streams set.
func NewStreams() *Streams {
	return &Streams{streams: make(map[uint32]*Stream)}
}

// Get returns the Stream registered under id, if any.
func (s *Streams) Get(id uint32) (*Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return st, ok
}

// Add registers st under id.
func (s *Streams) Add(id uint32, st *Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[id] = st
}

// IDs returns every registered stream id, in ascending order.
func (s *Streams) IDs() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint32, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
