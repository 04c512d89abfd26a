package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"metatx/config"
	"metatx/core"
	"metatx/crypto"
	"metatx/indexer"
	"metatx/observability"
)

const (
	requestIDHeader   = "X-Request-Id"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
	sweepInterval     = time.Minute
)

// ExecutedLister serves forwarder_listExecuted.
type ExecutedLister interface {
	ListBySigner(ctx context.Context, signer crypto.AccountID, limit int) ([]indexer.ExecutedEnvelope, error)
}

// Config tunes the server.
type Config struct {
	RateLimitPerSecond float64
	RateLimitBurst     int
	MaxBodyBytes       int64
	Auth               AuthConfig
}

// ConfigFromRPC builds a server config from the [rpc] section. secret is the
// HMAC secret resolved from the environment.
func ConfigFromRPC(c config.RPC, secret string) Config {
	return Config{
		RateLimitPerSecond: c.RateLimitPerSecond,
		RateLimitBurst:     c.RateLimitBurst,
		MaxBodyBytes:       c.MaxBodyBytes,
		Auth: AuthConfig{
			HMACSecret: secret,
			Issuer:     c.JWTIssuer,
			Audience:   c.JWTAudience,
		},
	}
}

// Option configures a Server.
type Option func(*Server)

// WithIndexer enables forwarder_listExecuted.
func WithIndexer(lister ExecutedLister) Option {
	return func(s *Server) { s.indexer = lister }
}

// WithHub enables the /ws event stream.
func WithHub(hub *Hub) Option {
	return func(s *Server) { s.hub = hub }
}

// WithLogger overrides the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Server exposes the node over JSON-RPC. Envelopes submitted through
// forwarder_execute are relayed from the relayer account.
type Server struct {
	node    *core.Node
	relayer crypto.AccountID
	cfg     Config
	auth    *Authenticator
	limiter *rateLimiter
	indexer ExecutedLister
	hub     *Hub
	logger  *slog.Logger
	metrics interface {
		Observe(method, kind string, duration time.Duration)
		RecordThrottle(reason string)
	}
}

// NewServer returns a server for node.
func NewServer(node *core.Node, relayer crypto.AccountID, cfg Config, opts ...Option) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	s := &Server{
		node:    node,
		relayer: relayer,
		cfg:     cfg,
		auth:    NewAuthenticator(cfg.Auth),
		limiter: newRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		logger:  slog.Default().With(slog.String("component", "rpc")),
		metrics: observability.ModuleMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler serving JSON-RPC on POST /, the event
// stream on /ws, health on /healthz and Prometheus metrics on /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleEventsWS)
	r.Post("/", s.handle)
	return otelhttp.NewHandler(r, "metatx-rpc")
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("JSON-RPC server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ticker.C:
			s.limiter.sweep()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("rpc: shutdown: %w", err)
			}
			return nil
		}
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

// handle decodes one JSON-RPC request and routes it to its method.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	defer func() {
		_ = reader.Close()
	}()
	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, nil)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	source := clientSource(r)
	if !s.limiter.allow(source) {
		s.metrics.RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, req.ID, codeRateLimited, "rate limit exceeded", source)
		return
	}

	m, ok := methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if len(m.scopes) > 0 {
		if err := s.auth.Authorize(r, m.scopes...); err != nil {
			s.metrics.RecordThrottle("auth")
			status, code := http.StatusUnauthorized, codeUnauthorized
			if errors.Is(err, errInsufficientScope) {
				status, code = http.StatusForbidden, codeForbidden
			}
			writeError(w, status, req.ID, code, err.Error(), nil)
			return
		}
	}

	started := time.Now()
	result, rpcErr := m.handler(s, r.Context(), req)
	kind := ""
	if rpcErr != nil {
		kind = "invalid"
		if data, ok := rpcErr.err.Data.(ErrorData); ok {
			kind = data.Kind
		}
	}
	s.metrics.Observe(req.Method, kind, time.Since(started))

	if rpcErr != nil {
		s.logger.Debug("request failed",
			slog.String("method", req.Method),
			slog.String("requestId", w.Header().Get(requestIDHeader)),
			slog.String("kind", kind),
			slog.String("error", rpcErr.err.Message))
		writeError(w, rpcErr.status, req.ID, rpcErr.err.Code, rpcErr.err.Message, rpcErr.err.Data)
		return
	}
	writeResult(w, req.ID, result)
}
