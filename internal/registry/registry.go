/*
NAME
  registry.go - holds the broadcaster, service, and event directory learned
  from MH-BIT/MH-SDT/MH-EIT signaling tables.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package registry accumulates the EPG directory (broadcasters, services,
// and their events) a tuned stream's signaling tables describe, as a
// concurrent-safe store callers can query at any time.
package registry

import (
	"sync"
	"time"

	"github.com/siketyan/chibitv/internal/si"
)

// Broadcaster is one entry of an MH-BIT, keyed by its broadcaster_id.
type Broadcaster struct {
	ID   byte
	Name string
}

// Event is one programme entry of a service's MH-EIT, assembled from
// whichever short-event and extended-event descriptor fragments have been
// seen for it so far.
type Event struct {
	ID           uint16
	StartTime    *time.Time
	Duration     *time.Duration
	LanguageCode string
	Name         string

	// Description holds the paginated extended-event text: one []{heading,
	// text} slice per descriptor_number, sized to last_descriptor_number+1
	// the first time that count is learned.
	Description [][]DescriptionItem
}

// DescriptionItem is one (heading, text) pair of an event's extended
// description.
type DescriptionItem struct {
	Heading string
	Text    string
}

// Service is one entry of an MH-SDT, keyed by its service_id, holding the
// events collected for it by a run of MH-EIT sections.
type Service struct {
	ID           uint16
	Name         string
	ProviderName string
	TLVStreamID  uint16

	mu     sync.RWMutex
	events map[uint16]*Event
}

// Events returns a snapshot of every event currently known for the service.
func (s *Service) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, *e)
	}
	return out
}

// Event returns a copy of the event with the given id, if known.
func (s *Service) Event(eventID uint16) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[eventID]
	if !ok {
		return Event{}, false
	}
	return *e, true
}

// Registry is the concurrent-safe broadcaster/service/event directory built
// up as MH-BIT/MH-SDT/MH-EIT sections arrive. Create one with New; the zero
// value has no maps and cannot be written to.
type Registry struct {
	mu           sync.RWMutex
	broadcasters map[byte]*Broadcaster
	services     map[uint16]*Service
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		broadcasters: make(map[byte]*Broadcaster),
		services:     make(map[uint16]*Service),
	}
}

// Broadcasters returns a snapshot of every broadcaster currently known.
func (r *Registry) Broadcasters() []Broadcaster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Broadcaster, 0, len(r.broadcasters))
	for _, b := range r.broadcasters {
		out = append(out, *b)
	}
	return out
}

// Services returns a snapshot of every service currently known.
func (r *Registry) Services() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, *s)
	}
	return out
}

// Service returns the service with the given id, if known.
func (r *Registry) Service(serviceID uint16) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[serviceID]
	return s, ok
}

// EventsByService returns a snapshot of every event known for serviceID, or
// nil if the service itself is unknown.
func (r *Registry) EventsByService(serviceID uint16) []Event {
	s, ok := r.Service(serviceID)
	if !ok {
		return nil
	}
	return s.Events()
}

// Event returns the event with the given id within serviceID, if both are
// known.
func (r *Registry) Event(serviceID, eventID uint16) (Event, bool) {
	s, ok := r.Service(serviceID)
	if !ok {
		return Event{}, false
	}
	return s.Event(eventID)
}

// PutBroadcaster records a broadcaster the first time its id is seen; a
// broadcaster without a name descriptor, or one already known, is ignored.
func (r *Registry) PutBroadcaster(info si.BroadcasterInformation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.broadcasters[info.BroadcasterID]; ok {
		return
	}

	var name string
	var found bool
	for _, d := range info.Descriptors {
		if d.MhBroadcasterName != nil {
			name = string(d.MhBroadcasterName.Name)
			found = true
			break
		}
	}
	if !found {
		return
	}

	r.broadcasters[info.BroadcasterID] = &Broadcaster{ID: info.BroadcasterID, Name: name}
}

// PutService records a service the first time its id is seen, skipping any
// service whose MH-service descriptor reports a service_type other than TV
// (1), or one already known.
func (r *Registry) PutService(tlvStreamID uint16, info si.ServiceInformation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[info.ServiceID]; ok {
		return
	}

	var desc *si.MhServiceDescriptor
	for _, d := range info.Descriptors {
		if d.MhService != nil {
			desc = d.MhService
			break
		}
	}
	if desc == nil || desc.ServiceType != 1 {
		return
	}

	r.services[info.ServiceID] = &Service{
		ID:           info.ServiceID,
		Name:         string(desc.ServiceName),
		ProviderName: string(desc.ServiceProviderName),
		TLVStreamID:  tlvStreamID,
		events:       make(map[uint16]*Event),
	}
}

// PutEvent merges one MH-EIT entry's short-event and extended-event
// descriptor data into serviceID's running record for the event, creating
// it if this is the first sighting. Services not yet known from an MH-SDT
// are ignored.
func (r *Registry) PutEvent(serviceID uint16, info si.EventInformation) {
	r.mu.RLock()
	service, ok := r.services[serviceID]
	r.mu.RUnlock()
	if !ok {
		return
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	previous := service.events[info.EventID]
	event := &Event{ID: info.EventID, StartTime: info.StartTime, Duration: info.Duration}
	if previous != nil {
		event.LanguageCode = previous.LanguageCode
		event.Name = previous.Name
		event.Description = previous.Description
	}

	for _, d := range info.Descriptors {
		switch {
		case d.MhShortEvent != nil:
			event.LanguageCode = string(d.MhShortEvent.ISO639LanguageCode[:])
			event.Name = string(d.MhShortEvent.EventName)
		case d.MhExtendedEvent != nil:
			applyExtendedEvent(event, d.MhExtendedEvent)
		}
	}

	service.events[info.EventID] = event
}

// applyExtendedEvent writes one extended-event descriptor fragment into its
// slot of event.Description, resizing the slice only when the fragment
// count it reports has changed.
func applyExtendedEvent(event *Event, d *si.MhExtendedEventDescriptor) {
	count := int(d.LastDescriptorNumber) + 1
	if len(event.Description) != count {
		event.Description = make([][]DescriptionItem, count)
	}

	idx := int(d.DescriptorNumber)
	if idx >= len(event.Description) {
		return
	}

	items := make([]DescriptionItem, len(d.Items))
	for i, it := range d.Items {
		items[i] = DescriptionItem{
			Heading: string(it.ItemDescription),
			Text:    string(it.Item),
		}
	}
	event.Description[idx] = items
}
