/*
NAME
  server.go - the HTTP surface over a Workspace: channel/service/event
  listings, per-stream tuning state, and the live stream.ts byte feed.

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package server exposes a stream.Workspace over HTTP: listing channels,
// services, and events; inspecting and changing what a stream is tuned
// to; and streaming a tuned service's packetized output.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ausocean/utils/logging"

	"github.com/siketyan/chibitv/internal/registry"
	"github.com/siketyan/chibitv/internal/stream"
)

// channelDTO is one entry of GET /api/channels.
type channelDTO struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// serviceDTO is one entry of GET /api/services.
type serviceDTO struct {
	ID           uint16 `json:"id"`
	Name         string `json:"name"`
	ProviderName string `json:"provider_name"`
}

// descriptionDTO is one heading/body pair of an event's extended
// description.
type descriptionDTO struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// eventDTO is one entry of GET /api/services/{id}/events.
type eventDTO struct {
	ID          uint16           `json:"id"`
	Title       string           `json:"title"`
	Description []descriptionDTO `json:"description"`
	StartTime   *time.Time       `json:"start_time"`
	EndTime     *time.Time       `json:"end_time"`
}

// currentDTO is the body of GET /api/streams/{id}.
type currentDTO struct {
	Service serviceDTO `json:"service"`
	Event   *eventDTO  `json:"event"`
}

// setChannelRequest is the body of PATCH /api/streams/{id}.
type setChannelRequest struct {
	ServiceID uint16 `json:"service_id"`
}

// Server serves the HTTP API over a Workspace.
type Server struct {
	workspace *stream.Workspace
	log       logging.Logger
	router    *mux.Router
}

// New builds a Server's route table over ws.
func New(ws *stream.Workspace, log logging.Logger) *Server {
	s := &Server{workspace: ws, log: log, router: mux.NewRouter()}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	api.HandleFunc("/services", s.handleServices).Methods(http.MethodGet)
	api.HandleFunc("/services/{id}/events", s.handleServiceEvents).Methods(http.MethodGet)
	api.HandleFunc("/streams/{id}", s.handleGetStream).Methods(http.MethodGet)
	api.HandleFunc("/streams/{id}", s.handleSetStream).Methods(http.MethodPatch)
	api.HandleFunc("/streams/{id}/stream.ts", s.handleStreamTS).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.workspace.Channels()
	out := make([]channelDTO, len(channels))
	for i, c := range channels {
		out[i] = channelDTO{ID: c.ID, Name: c.Name}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services := s.workspace.Registry().Services()
	out := make([]serviceDTO, len(services))
	for i, svc := range services {
		out[i] = serviceDTO{ID: svc.ID, Name: svc.Name, ProviderName: svc.ProviderName}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleServiceEvents(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint16(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid service id", http.StatusBadRequest)
		return
	}

	events := s.workspace.Registry().EventsByService(id)
	out := make([]eventDTO, len(events))
	for i, ev := range events {
		out[i] = eventDTOFrom(ev)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint32(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	service, event, err := s.workspace.GetCurrentEvent(id)
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}

	body := currentDTO{Service: serviceDTO{ID: service.ID, Name: service.Name, ProviderName: service.ProviderName}}
	if event != nil {
		dto := eventDTOFrom(*event)
		body.Event = &dto
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleSetStream(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint32(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	var body setChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.workspace.SetChannel(id, body.ServiceID); err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStreamTS(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint32(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}

	ch, cancel, err := s.workspace.GetM2tsStream(id)
	if err != nil {
		s.writeWorkspaceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "video/mp2t")
	flusher, _ := w.(http.Flusher)

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(chunk); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeWorkspaceError(w http.ResponseWriter, err error) {
	werr, ok := stream.AsWorkspaceError(err)
	if !ok {
		s.log.Error("server: unexpected error", "error", err.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	switch werr.Kind {
	case stream.ErrChannelNotFound, stream.ErrServiceNotFound, stream.ErrStreamNotFound:
		http.Error(w, werr.Error(), http.StatusNotFound)
	default:
		s.log.Error("server: internal error", "error", werr.Error())
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func eventDTOFrom(ev registry.Event) eventDTO {
	dto := eventDTO{ID: ev.ID, Title: ev.Name, StartTime: ev.StartTime}
	if ev.StartTime != nil && ev.Duration != nil {
		end := ev.StartTime.Add(*ev.Duration)
		dto.EndTime = &end
	}
	for _, page := range ev.Description {
		for _, item := range page {
			dto.Description = append(dto.Description, descriptionDTO{Name: item.Heading, Content: item.Text})
		}
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	return uint16(v), err
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	return uint32(v), err
}
