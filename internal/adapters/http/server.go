// Package http exposes a read-only status surface for a running
// verification campaign: node states, the live run report, health, and
// Prometheus metrics.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hdlforge/crucible/internal/runtime"
	"github.com/hdlforge/crucible/pkg/domain"
)

// StatusSource is the orchestrator surface the server reads from.
type StatusSource interface {
	Snapshot() []*domain.Node
	Report() *runtime.RunReport
}

// Server serves campaign status over HTTP.
type Server struct {
	source StatusSource
	logger *slog.Logger
}

// NewHandler builds the chi router for the status server. gatherer may be nil
// when metrics are disabled.
func NewHandler(source StatusSource, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	s := &Server{source: source, logger: logger}

	r := chi.NewRouter()
	r.Get("/healthz", s.getHealth)
	r.Get("/nodes", s.getNodes)
	r.Get("/nodes/{nodeID}", s.getNode)
	r.Get("/report", s.getReport)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) getNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Snapshot())
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "nodeID")
	for _, n := range s.source.Snapshot() {
		if n.ID == id {
			s.writeJSON(w, n)
			return
		}
	}
	http.Error(w, "node not found", http.StatusNotFound)
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.source.Report())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("status response encode failed", "err", err)
	}
}
