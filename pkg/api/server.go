package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/lanlink/pkg/control"
	"github.com/cuemby/lanlink/pkg/health"
	"github.com/cuemby/lanlink/pkg/log"
	"github.com/cuemby/lanlink/pkg/metrics"
	"github.com/cuemby/lanlink/pkg/nat"
	"github.com/cuemby/lanlink/pkg/supervisor"
	"github.com/cuemby/lanlink/pkg/types"
	"github.com/rs/zerolog"
)

// Controller is the worker control surface served over HTTP
type Controller interface {
	Start(name string, params supervisor.Params) (bool, error)
	Stop(name string) (bool, error)
	WorkerStatus(name string) (types.WorkerStatus, error)
	Health(ctx context.Context, name string) (health.Result, error)

	EdgeStatus(ctx context.Context) (bool, error)
	VirtualAddress(ctx context.Context) (string, error)
	CurrentGroup(ctx context.Context) (string, error)
	Members(ctx context.Context) ([]types.Member, error)

	DetectNAT(ctx context.Context) (*nat.Result, error)

	Runs(worker string, limit int) ([]*types.RunRecord, error)
	NATHistory(limit int) ([]*types.NATRecord, error)
}

// Server is the local HTTP control surface
type Server struct {
	ctrl   Controller
	mux    *http.ServeMux
	logger zerolog.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewServer registers every route against ctrl
func NewServer(ctrl Controller) *Server {
	s := &Server{
		ctrl:   ctrl,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}

	s.handle("POST /v1/workers/{name}/start", s.startWorker)
	s.handle("POST /v1/workers/{name}/stop", s.stopWorker)
	s.handle("GET /v1/workers/{name}", s.workerStatus)
	s.handle("GET /v1/workers/{name}/health", s.workerHealth)

	s.handle("GET /v1/edge/status", s.edgeStatus)
	s.handle("GET /v1/edge/address", s.edgeAddress)
	s.handle("GET /v1/edge/members", s.edgeMembers)
	s.handle("GET /v1/edge/group", s.edgeGroup)

	s.handle("POST /v1/nat/detect", s.detectNAT)

	s.handle("GET /v1/history/runs", s.runHistory)
	s.handle("GET /v1/history/nat", s.natHistory)

	s.mux.Handle("GET /health", metrics.HealthHandler())
	s.mux.Handle("GET /ready", metrics.ReadyHandler())
	s.mux.Handle("GET /livez", metrics.LivenessHandler())
	s.mux.Handle("GET /metrics", metrics.Handler())

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Shutdown
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on an existing listener. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	server := &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("API server listening")
	if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// Response is the envelope of every /v1 reply
type Response struct {
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NATResult is the wire form of a NAT classification
type NATResult struct {
	Type      string `json:"type"`
	Mapped    string `json:"mapped,omitempty"`
	Secondary string `json:"secondary,omitempty"`
	Rebound   string `json:"rebound,omitempty"`
}

func newNATResult(r *nat.Result) NATResult {
	out := NATResult{Type: r.Type.String()}
	if r.Primary != nil {
		out.Mapped = r.Primary.String()
	}
	if r.Secondary != nil {
		out.Secondary = r.Secondary.String()
	}
	if r.Rebound != nil {
		out.Rebound = r.Rebound.String()
	}
	return out
}

type handlerFunc func(r *http.Request) (any, error)

// handle wraps a handler with the envelope and request metrics
func (s *Server) handle(pattern string, fn handlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()

		result, err := fn(r)
		status := http.StatusOK
		resp := Response{Result: result}
		if err != nil {
			status = statusFor(err)
			resp = Response{Error: err.Error()}
			s.logger.Debug().
				Str("route", pattern).
				Int("status", status).
				Err(err).
				Msg("Request failed")
		}

		writeJSON(w, status, resp)

		metrics.APIRequestsTotal.WithLabelValues(pattern, http.StatusText(status)).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, pattern)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, supervisor.ErrUnknownWorker):
		return http.StatusNotFound
	case errors.Is(err, supervisor.ErrMissingParam), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, supervisor.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, supervisor.ErrEdgeUnresponsive),
		errors.Is(err, supervisor.ErrNoMemberServer),
		errors.Is(err, supervisor.ErrNoServer):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, control.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
