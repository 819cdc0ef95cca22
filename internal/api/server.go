package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"zkbind/internal/backend"
	"zkbind/internal/logger"
	"zkbind/internal/orchestrator"
	"zkbind/internal/response"
	"zkbind/internal/service"
)

const (
	// maxRequestSize is the maximum aggregation request size in bytes.
	maxRequestSize = 4 << 20 // 4 MB

	// requestIDHeader carries the per-request identifier.
	requestIDHeader = "X-Request-Id"
)

// Server is the HTTP API server.
type Server struct {
	addr     string           // addr is the HTTP listen address
	service  *service.Service // service runs the aggregation pipeline
	timeout  time.Duration    // timeout bounds one request, zero for none
	server   *http.Server     // server is the underlying HTTP server
	listener net.Listener     // listener is bound by Start
}

// New creates a new HTTP API server.
func New(addr string, svc *service.Service, timeout time.Duration) *Server {
	return &Server{
		addr:    addr,
		service: svc,
		timeout: timeout,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("POST /prove", s.handleProve)
	mux.HandleFunc("GET /health", s.handleHealth)

	return withRequestID(mux)
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleExecute handles POST /execute requests.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	s.process(w, r, service.Request{Mode: orchestrator.ModeExecute})
}

// handleProve handles POST /prove?network=&proof= requests.
func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	target, err := backend.ParseTarget(valueOr(query.Get("network"), backend.TargetLocal.String()))
	if err != nil {
		writeError(w, http.StatusBadRequest, service.KindMalformedInput, err.Error())
		return
	}

	encoding, err := backend.ParseEncoding(valueOr(query.Get("proof"), backend.EncodingCompressed.String()))
	if err != nil {
		writeError(w, http.StatusBadRequest, service.KindMalformedInput, err.Error())
		return
	}

	s.process(w, r, service.Request{Mode: orchestrator.ModeProve, Target: target, Encoding: encoding})
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}

	targets := make([]string, 0, len(backend.Targets))
	for _, t := range backend.Targets {
		if s.service.Orchestrator().Available(t) {
			targets = append(targets, t.String())
		}
	}
	body["targets"] = targets

	// On-chain key digest of the local tier, set up on first use.
	vk, err := s.service.Orchestrator().VerifyingKey(r.Context(), backend.TargetLocal)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, service.Classify(err), "local backend unavailable")
		return
	}
	body["vk_hash"] = response.KeyHash(vk, backend.EncodingGroth16)

	stats, err := s.service.Stats()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, service.KindInternal, "replay registry unavailable")
		return
	}

	if stats != nil {
		body["replay"] = stats
	}

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) process(w http.ResponseWriter, r *http.Request, req service.Request) {
	start := time.Now()
	log := logger.With("request_id", requestID(r.Context()), "mode", req.Mode.String())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, service.KindMalformedInput, "failed to read body")
		return
	}

	if len(body) > maxRequestSize {
		writeError(w, http.StatusRequestEntityTooLarge, service.KindMalformedInput, "request too large")
		return
	}

	ctx := r.Context()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.service.HandleJSON(ctx, body, req)
	if err != nil {
		kind := service.Classify(err)
		log.Warn("request failed", "kind", kind, "error", err, logger.Timed(start))
		writeError(w, statusFor(kind), kind, err.Error())

		return
	}

	log.Info("request served", "target", req.Target.String(), "encoding", req.Encoding.String(), logger.Timed(start))
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps a pipeline error kind to an HTTP status.
func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindMalformedInput:
		return http.StatusBadRequest
	case service.KindBinding:
		return http.StatusUnprocessableEntity
	case service.KindReplay:
		return http.StatusConflict
	case service.KindUnavailable:
		return http.StatusServiceUnavailable
	case service.KindBackend:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type requestIDKey struct{}

// withRequestID tags each request with a fresh UUID, echoed in the response.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}

	return v
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, kind service.Kind, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
		"kind":  string(kind),
	})
}
