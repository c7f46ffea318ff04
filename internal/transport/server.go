// Package transport is the HTTP binding described in SPEC_FULL.md §4.11:
// it exposes the Logger, metric service, Dumper, configstore and debug
// event hub over a plain net/http ServeMux. It owns no domain logic of
// its own, only request decoding and status-code translation.
package transport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/memfault/bort/internal/capability"
	"github.com/memfault/bort/internal/dumper"
	"github.com/memfault/bort/internal/eventhub"
	"github.com/memfault/bort/internal/logger"
	"github.com/memfault/bort/internal/metricservice"
	"github.com/memfault/bort/internal/reportwriter"
	"github.com/memfault/bort/internal/telemetry"
)

// Server binds the daemon's domain façades to HTTP handlers.
type Server struct {
	logger  *logger.Logger
	metrics *metricservice.Service
	dumper  *dumper.Dumper
	hub     *eventhub.Hub
	minter  *capability.Minter
	tel     *telemetry.Metrics
}

// NewServer wires a Server. minter may be nil, in which case
// reload_config is open to any caller (development mode).
func NewServer(l *logger.Logger, ms *metricservice.Service, d *dumper.Dumper, hub *eventhub.Hub, minter *capability.Minter, tel *telemetry.Metrics) *Server {
	return &Server{logger: l, metrics: ms, dumper: d, hub: hub, minter: minter, tel: tel}
}

// RegisterRoutes registers every bort endpoint on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/log", s.handleLog(false))
	mux.HandleFunc("POST /v1/log_internal", s.handleLog(true))
	mux.HandleFunc("POST /v1/trigger_dump", s.handleTriggerDump)
	mux.HandleFunc("POST /v1/reload_config", s.handleReloadConfig)
	mux.HandleFunc("POST /v1/add_value", s.handleAddValue)
	mux.HandleFunc("POST /v1/finish_report", s.handleFinishReport)

	mux.HandleFunc("GET /healthz", s.tel.HealthHandler())
	mux.Handle("GET /metrics", telemetry.PrometheusHandler())
	mux.HandleFunc("/ws/health", s.tel.HealthWSHandler())
	mux.HandleFunc("/v1/events", s.hub.HandleWebSocket)
}

type logRequest struct {
	TimestampNs int64  `json:"timestampNs"`
	Type        string `json:"type"`
	Blob        string `json:"blob"`
}

func (s *Server) handleLog(internal bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req logRequest
		if err := decodeJSON(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.TimestampNs == 0 {
			req.TimestampNs = time.Now().UnixNano()
		}
		s.logger.Log(req.TimestampNs, req.Type, req.Blob, internal)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleTriggerDump(w http.ResponseWriter, r *http.Request) {
	s.dumper.TriggerDump()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.requireCapability(r); err != nil {
		writePermissionDenied(w)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	if err := s.logger.ReloadConfig(string(body)); err != nil {
		slog.Error("transport: reload_config failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// requireCapability enforces the control-capability bearer token on
// reload_config when a Minter is configured (spec §7's Permission class).
func (s *Server) requireCapability(r *http.Request) error {
	if s.minter == nil {
		return nil
	}
	auth := r.Header.Get("Authorization")
	token := strings.TrimPrefix(auth, "Bearer ")
	if token == auth {
		token = ""
	}
	if err := s.minter.Verify(token); err != nil {
		if errors.Is(err, capability.ErrPermissionDenied) {
			return err
		}
		return capability.ErrPermissionDenied
	}
	return nil
}

func (s *Server) handleAddValue(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}
	s.metrics.AddValue(body)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleFinishReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	report, err := s.metrics.FinishReport(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if report == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.hub.Publish(eventhub.ReportFinished)

	body, err = reportwriter.LowResJSON(report)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// writePermissionDenied writes the security error class body for a
// reload_config call lacking a valid control capability (spec §7).
func writePermissionDenied(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: "permission_denied"})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
