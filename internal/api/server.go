// Package api provides the node's read-only HTTP status API.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/domain"
	"github.com/agentmesh-network/agentmesh/internal/health"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// Network is the view of the transport the API needs.
type Network interface {
	Peers() []domain.Peer
	PeerCount() int
	Addrs() []string
}

// Options wires the server's collaborators. Journal and Checker may be nil.
type Options struct {
	NodeID         string
	PublicKey      string
	Version        string
	Controller     *admission.Controller
	Network        Network
	Journal        domain.AdmissionJournal
	Checker        *health.Checker
	CORSOrigins    []string
	MetricsEnabled bool
	Logger         *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	opts    Options
	started time.Time
	log     *zap.Logger
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{opts: opts, started: time.Now(), log: log}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Peers   uint64 `json:"peers"`
	Uptime  uint64 `json:"uptime"` // seconds
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/admission", s.handleAdmission)
		r.Get("/admission/events", s.handleEvents)
		r.Get("/peers", s.handlePeers)
	})

	if s.opts.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.opts.Checker != nil && !s.opts.Checker.IsHealthy() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  status,
		Version: s.opts.Version,
		Peers:   uint64(s.peerCount()),
		Uptime:  uint64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"node_id":        s.opts.NodeID,
		"version":        s.opts.Version,
		"uptime_seconds": uint64(time.Since(s.started).Seconds()),
		"peers":          s.peerCount(),
	}
	if s.opts.PublicKey != "" {
		resp["public_key"] = s.opts.PublicKey
	}
	if s.opts.Network != nil {
		resp["addresses"] = s.opts.Network.Addrs()
	}
	if s.opts.Controller != nil {
		resp["connections"] = s.opts.Controller.Total().CurrentCount()
		resp["max_connections"] = s.opts.Controller.Total().Max()
	}
	if s.opts.Checker != nil {
		resp["health"] = s.opts.Checker.Statuses()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdmission(w http.ResponseWriter, r *http.Request) {
	if s.opts.Controller == nil {
		writeError(w, http.StatusServiceUnavailable, "admission controller not running")
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Controller.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		writeError(w, http.StatusNotFound, "admission journal disabled")
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := s.opts.Journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Warn("journal query failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	if events == nil {
		events = []domain.AdmissionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := []domain.Peer{}
	if s.opts.Network != nil {
		peers = s.opts.Network.Peers()
	}
	writeJSON(w, http.StatusOK, map[string]any{"peers": peers})
}

func (s *Server) peerCount() int {
	if s.opts.Network == nil {
		return 0
	}
	return s.opts.Network.PeerCount()
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for the configured origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, o := range s.opts.CORSOrigins {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
