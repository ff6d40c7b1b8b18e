/*
NAME
  registry_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package registry

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/siketyan/chibitv/internal/si"
)

func TestPutServiceSkipsNonTVTypes(t *testing.T) {
	r := New()
	r.PutService(1, si.ServiceInformation{
		ServiceID: 1,
		Descriptors: []si.Descriptor{
			{MhService: &si.MhServiceDescriptor{ServiceType: 2, ServiceName: []byte("radio")}},
		},
	})
	if _, ok := r.Service(1); ok {
		t.Fatalf("expected non-TV service to be skipped")
	}
}

func TestPutServiceFirstSightingWins(t *testing.T) {
	r := New()
	r.PutService(7, si.ServiceInformation{
		ServiceID: 1,
		Descriptors: []si.Descriptor{
			{MhService: &si.MhServiceDescriptor{ServiceType: 1, ServiceName: []byte("first"), ServiceProviderName: []byte("prov")}},
		},
	})
	r.PutService(7, si.ServiceInformation{
		ServiceID: 1,
		Descriptors: []si.Descriptor{
			{MhService: &si.MhServiceDescriptor{ServiceType: 1, ServiceName: []byte("second")}},
		},
	})

	svc, ok := r.Service(1)
	if !ok {
		t.Fatalf("expected service 1 to be known")
	}
	if svc.Name != "first" {
		t.Errorf("Name = %q, want %q (first sighting should win)", svc.Name, "first")
	}
	if svc.TLVStreamID != 7 {
		t.Errorf("TLVStreamID = %d, want 7", svc.TLVStreamID)
	}
}

func TestPutEventIgnoresUnknownService(t *testing.T) {
	r := New()
	r.PutEvent(1, si.EventInformation{EventID: 1})
	if got := r.EventsByService(1); got != nil {
		t.Fatalf("EventsByService = %v, want nil", got)
	}
}

func TestPutEventMergesShortAndExtended(t *testing.T) {
	r := New()
	r.PutService(0, si.ServiceInformation{
		ServiceID:   5,
		Descriptors: []si.Descriptor{{MhService: &si.MhServiceDescriptor{ServiceType: 1}}},
	})

	start := time.Date(2026, 7, 30, 20, 0, 0, 0, time.UTC)
	dur := time.Hour
	r.PutEvent(5, si.EventInformation{
		EventID:   10,
		StartTime: &start,
		Duration:  &dur,
		Descriptors: []si.Descriptor{
			{MhShortEvent: &si.MhShortEventDescriptor{
				ISO639LanguageCode: [3]byte{'j', 'p', 'n'},
				EventName:          []byte("News"),
			}},
		},
	})
	r.PutEvent(5, si.EventInformation{
		EventID:   10,
		StartTime: &start,
		Duration:  &dur,
		Descriptors: []si.Descriptor{
			{MhExtendedEvent: &si.MhExtendedEventDescriptor{
				DescriptorNumber:     0,
				LastDescriptorNumber: 1,
				Items: []si.ExtendedEventItem{
					{ItemDescription: []byte("headline"), Item: []byte("breaking")},
				},
			}},
			{MhExtendedEvent: &si.MhExtendedEventDescriptor{
				DescriptorNumber:     1,
				LastDescriptorNumber: 1,
				Items: []si.ExtendedEventItem{
					{ItemDescription: []byte("detail"), Item: []byte("more")},
				},
			}},
		},
	})

	ev, ok := r.Event(5, 10)
	if !ok {
		t.Fatalf("expected event 10 to be known")
	}

	want := Event{
		ID:           10,
		StartTime:    &start,
		Duration:     &dur,
		LanguageCode: "jpn",
		Name:         "News",
		Description: [][]DescriptionItem{
			{{Heading: "headline", Text: "breaking"}},
			{{Heading: "detail", Text: "more"}},
		},
	}
	if diff := cmp.Diff(want, ev, cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("merged event mismatch (-want +got):\n%s", diff)
	}
}

func TestPutBroadcasterRequiresName(t *testing.T) {
	r := New()
	r.PutBroadcaster(si.BroadcasterInformation{BroadcasterID: 1})
	if _, ok := findBroadcaster(r.Broadcasters(), 1); ok {
		t.Fatalf("expected broadcaster without a name descriptor to be skipped")
	}

	r.PutBroadcaster(si.BroadcasterInformation{
		BroadcasterID: 2,
		Descriptors:   []si.Descriptor{{MhBroadcasterName: &si.MhBroadcasterNameDescriptor{Name: []byte("NHK")}}},
	})
	got, ok := findBroadcaster(r.Broadcasters(), 2)
	if !ok || got.Name != "NHK" {
		t.Errorf("Broadcasters() = %+v, want broadcaster 2 named NHK", r.Broadcasters())
	}
}

func findBroadcaster(bs []Broadcaster, id byte) (Broadcaster, bool) {
	for _, b := range bs {
		if b.ID == id {
			return b, true
		}
	}
	return Broadcaster{}, false
}
