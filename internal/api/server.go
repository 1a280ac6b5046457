/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package api is a thin HTTP/JSON driver over the scan results store and
// lifecycle controller: read endpoints for results/stats/history/top-ports,
// lifecycle endpoints for start/stop/status, and a live outcome stream.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/example/portscanner/internal/controller"
	"github.com/example/portscanner/internal/hoststats"
	"github.com/example/portscanner/internal/logger"
	"github.com/example/portscanner/internal/storage"
	"github.com/example/portscanner/pkg/swagger"
)

var ErrMissingPorts = errors.New("ports field is required to start a scan")

// Server is the thin JSON driver described in the package comment.
type Server struct {
	Store      *storage.Store
	Controller *controller.Controller
	Logger     logger.Logger

	router *mux.Router
	hub    *streamHub
}

// New wires routes onto a fresh router. Call Handler to get an http.Handler.
func New(store *storage.Store, ctrl *controller.Controller, log logger.Logger) *Server {
	s := &Server{
		Store:      store,
		Controller: ctrl,
		Logger:     log,
		router:     mux.NewRouter(),
		hub:        newStreamHub(),
	}

	s.routes()

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub exposes the outcome broadcaster so the caller can feed it live
// probe outcomes (see cmd/scanner wiring).
func (s *Server) Hub() *streamHub {
	return s.hub
}

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/results", s.handleResults).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/scan-history", s.handleScanHistory).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/top-ports", s.handleTopPorts).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/scan/start", s.handleScanStart).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/scan/stop", s.handleScanStop).Methods(http.MethodPost)
	s.router.HandleFunc("/api/v1/scan/status", s.handleScanStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/events", s.handleEventsStream)
	// doc.json is registered before the /swagger/ prefix: mux matches routes
	// in registration order, so the prefix route would otherwise shadow it.
	s.router.HandleFunc("/swagger/doc.json", s.handleSwaggerJSON).Methods(http.MethodGet)
	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))
}

func (s *Server) handleSwaggerJSON(w http.ResponseWriter, _ *http.Request) {
	data, err := swagger.GetSwaggerJSON()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResults serves a paginated, filtered read of open_ports_detail.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.ResultFilter{
		IPLike: q.Get("ip"),
		IPType: q.Get("ip_type"),
		Limit:  atoiOr(q.Get("limit"), 100),
		Offset: atoiOr(q.Get("offset"), 0),
	}

	if port := q.Get("port"); port != "" {
		filter.Port = uint16(atoiOr(port, 0))
	}

	if round := q.Get("round"); round != "" {
		filter.Round = int64(atoiOr(round, 0))
	}

	results, err := s.Store.Results(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if results == nil {
		results = []storage.OpenPortDetail{}
	}

	writeJSON(w, http.StatusOK, results)
}

type statsResponse struct {
	storage.Stats
	Host hoststats.Snapshot `json:"host"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Stats: *stats,
		Host:  hoststats.Collect(r.Context()),
	})
}

func (s *Server) handleScanHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Store.ScanHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTopPorts(w http.ResponseWriter, r *http.Request) {
	round, err := s.Store.GetCurrentRound(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	limit := atoiOr(r.URL.Query().Get("limit"), 20)

	ports, err := s.Store.TopPorts(r.Context(), round, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, ports)
}

// scanStartRequest is the wire shape for POST /api/v1/scan/start.
type scanStartRequest struct {
	StartIP     string `json:"start_ip"`
	EndIP       string `json:"end_ip"`
	Ports       string `json:"ports"`
	TimeoutMS   int    `json:"timeout_ms"`
	Concurrency int    `json:"concurrency"`
	ProbeMode   string `json:"probe_mode"`
	SkipPrivate bool   `json:"skip_private"`
	LoopMode    bool   `json:"loop_mode"`
}

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	var req scanStartRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if req.Ports == "" {
		writeError(w, http.StatusBadRequest, ErrMissingPorts)
		return
	}

	scanID, err := s.Controller.Start(r.Context(), controller.StartRequest{
		StartIP:     req.StartIP,
		EndIP:       req.EndIP,
		Ports:       req.Ports,
		TimeoutMS:   req.TimeoutMS,
		Concurrency: req.Concurrency,
		ProbeMode:   req.ProbeMode,
		SkipPrivate: req.SkipPrivate,
		LoopMode:    req.LoopMode,
	})
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"scan_id": scanID})
}

func (s *Server) handleScanStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Controller.Stop(r.Context()); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Controller.Status(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}

	return v
}
