/*
NAME
  workspace.go - the composition root tying the channel list, registry,
  and open streams together behind the operations the HTTP surface needs.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package stream

import (
	"errors"
	"fmt"

	"github.com/siketyan/chibitv/internal/channel"
	"github.com/siketyan/chibitv/internal/registry"
)

// ErrorKind classifies why a Workspace operation failed, so an HTTP
// handler can pick the right status code without string-matching.
type ErrorKind int

const (
	ErrInternal ErrorKind = iota
	ErrChannelNotFound
	ErrServiceNotFound
	ErrStreamNotFound
)

// WorkspaceError reports a classified Workspace failure.
type WorkspaceError struct {
	Kind ErrorKind
	msg  string
}

func (e *WorkspaceError) Error() string { return e.msg }

func newError(kind ErrorKind, format string, args ...any) error {
	return &WorkspaceError{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Workspace exposes the operations chibitv's HTTP surface needs:
// enumerating channels and services, inspecting what a stream is
// currently tuned to, retuning it, and subscribing to its output.
type Workspace struct {
	registry *registry.Registry
	channels []channel.Channel
	streams  *Streams
}

// NewWorkspace returns a Workspace over the given channel list, EPG
// registry, and open stream set.
func NewWorkspace(channels []channel.Channel, reg *registry.Registry, streams *Streams) *Workspace {
	return &Workspace{registry: reg, channels: channels, streams: streams}
}

// Channels returns the configured channel list.
func (w *Workspace) Channels() []channel.Channel {
	return w.channels
}

// Registry returns the EPG registry backing this workspace.
func (w *Workspace) Registry() *registry.Registry {
	return w.registry
}

// GetCurrentEvent resolves streamID's tracked service id against the
// registry and returns the service plus whichever event it believes is
// currently airing, if any.
func (w *Workspace) GetCurrentEvent(streamID uint32) (registry.Service, *registry.Event, error) {
	st, ok := w.streams.Get(streamID)
	if !ok {
		return registry.Service{}, nil, newError(ErrStreamNotFound, "stream %d not found", streamID)
	}

	serviceID, ok := st.ServiceID()
	if !ok {
		return registry.Service{}, nil, newError(ErrServiceNotFound, "stream %d is not tuned to a service", streamID)
	}

	service, ok := w.registry.Service(serviceID)
	if !ok {
		return registry.Service{}, nil, newError(ErrServiceNotFound, "service %d not found", serviceID)
	}

	var event *registry.Event
	if eventID, ok := st.EventID(); ok {
		if e, ok := service.Event(eventID); ok {
			event = &e
		}
	}
	return *service, event, nil
}

// SetChannel retunes streamID to whichever channel carries serviceID,
// resolved by matching the service's TLV stream id against a
// configured channel's stream id.
func (w *Workspace) SetChannel(streamID uint32, serviceID uint16) error {
	st, ok := w.streams.Get(streamID)
	if !ok {
		return newError(ErrStreamNotFound, "stream %d not found", streamID)
	}

	service, ok := w.registry.Service(serviceID)
	if !ok {
		return newError(ErrServiceNotFound, "service %d not found", serviceID)
	}

	ch, ok := w.channelForStreamID(service.TLVStreamID)
	if !ok {
		return newError(ErrChannelNotFound, "no configured channel carries tlv stream %d", service.TLVStreamID)
	}

	if err := st.SetChannel(serviceID, ch); err != nil {
		return newError(ErrInternal, "set channel: %s", err)
	}
	return nil
}

func (w *Workspace) channelForStreamID(tlvStreamID uint16) (channel.Channel, bool) {
	for _, ch := range w.channels {
		if ch.IsdbS != nil && uint16(ch.IsdbS.StreamID) == tlvStreamID {
			return ch, true
		}
	}
	return channel.Channel{}, false
}

// GetM2tsStream subscribes to streamID's packetized output.
func (w *Workspace) GetM2tsStream(streamID uint32) (<-chan []byte, func(), error) {
	st, ok := w.streams.Get(streamID)
	if !ok {
		return nil, nil, newError(ErrStreamNotFound, "stream %d not found", streamID)
	}
	ch, cancel := st.Subscribe()
	return ch, cancel, nil
}

// AsWorkspaceError unwraps err into a *WorkspaceError, if it is one.
func AsWorkspaceError(err error) (*WorkspaceError, bool) {
	var werr *WorkspaceError
	ok := errors.As(err, &werr)
	return werr, ok
}
