/*
NAME
  server_test.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/internal/channel"
	"github.com/siketyan/chibitv/internal/descramble"
	"github.com/siketyan/chibitv/internal/registry"
	"github.com/siketyan/chibitv/internal/si"
	"github.com/siketyan/chibitv/internal/stream"
	"github.com/siketyan/chibitv/internal/tuner"
)

func testLog() logging.Logger {
	return logging.New(logging.Info, bytes.NewBuffer(nil), true)
}

func testWorkspace(t *testing.T) *stream.Workspace {
	t.Helper()
	reg := registry.New()
	reg.PutService(2, si.ServiceInformation{
		ServiceID: 5,
		Descriptors: []si.Descriptor{
			{MhService: &si.MhServiceDescriptor{ServiceType: 1, ServiceName: []byte("NHK"), ServiceProviderName: []byte("NHK")}},
		},
	})

	channels := []channel.Channel{{ID: 0, Name: "NHK", IsdbS: &channel.IsdbS{Frequency: 1318000, StreamID: 2}}}

	streams := stream.NewStreams()
	tu := tuner.NewStdinTuner(bytes.NewBuffer(nil), testLog())
	st, err := stream.Open(tu, reg, new(descramble.Descrambler), testLog())
	if err != nil {
		t.Fatalf("stream.Open: %v", err)
	}
	streams.Add(0, st)

	return stream.NewWorkspace(channels, reg, streams)
}

func TestHandleChannels(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	req := httptest.NewRequest(http.MethodGet, "/api/channels", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []channelDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "NHK" {
		t.Errorf("channels = %+v, want one channel named NHK", got)
	}
}

func TestHandleServices(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	req := httptest.NewRequest(http.MethodGet, "/api/services", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var got []serviceDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != 5 {
		t.Errorf("services = %+v, want one service with id 5", got)
	}
}

func TestHandleGetStreamNotTuned(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	req := httptest.NewRequest(http.MethodGet, "/api/streams/0", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (stream not yet tuned to a service)", rec.Code)
	}
}

func TestHandleGetStreamUnknownID(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	req := httptest.NewRequest(http.MethodGet, "/api/streams/999", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSetStreamThenGetStream(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	body, _ := json.Marshal(setChannelRequest{ServiceID: 5})
	req := httptest.NewRequest(http.MethodPatch, "/api/streams/0", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("PATCH status = %d, want 204, body: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/streams/0", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200, body: %s", rec.Code, rec.Body.String())
	}
	var got currentDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Service.ID != 5 {
		t.Errorf("Service.ID = %d, want 5", got.Service.ID)
	}
}

func TestHandleSetStreamInvalidBody(t *testing.T) {
	s := New(testWorkspace(t), testLog())

	req := httptest.NewRequest(http.MethodPatch, "/api/streams/0", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
