// Package server exposes the gateway's HTTP API: thin adapters over the
// upstream tool client, the result interpreters, and capability discovery.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mrecos/mcp-gateway/internal/audit"
	"github.com/mrecos/mcp-gateway/internal/auth"
	"github.com/mrecos/mcp-gateway/internal/cache"
	"github.com/mrecos/mcp-gateway/internal/config"
	"github.com/mrecos/mcp-gateway/internal/discovery"
	"github.com/mrecos/mcp-gateway/internal/interpret"
	"github.com/mrecos/mcp-gateway/internal/limiter"
	"github.com/mrecos/mcp-gateway/internal/mcp"
)

var errUpstreamDisabled = errors.New("upstream not configured (demo mode)")

var apiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "mcp_gateway",
	Subsystem: "api",
	Name:      "request_duration_seconds",
	Help:      "Duration of gateway API requests.",
}, []string{"route", "status"})

// ToolInvoker is the upstream surface the handlers depend on.
type ToolInvoker interface {
	ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error)
	Endpoint() string
}

// Server represents the gateway HTTP API server.
type Server struct {
	cfg      config.Config
	router   chi.Router
	invoker  ToolInvoker
	signer   *auth.Signer
	cache    *cache.ToolCache
	limiter  *limiter.Limiter
	auditLog *audit.Logger

	capsMu sync.RWMutex
	caps   discovery.Capabilities
}

// New constructs a server with all dependencies wired. A nil invoker puts the
// gateway in demo mode: routes respond but tool calls are disabled.
func New(cfg config.Config, invoker ToolInvoker, signer *auth.Signer, toolCache *cache.ToolCache, limit *limiter.Limiter, auditLog *audit.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		invoker:  invoker,
		signer:   signer,
		cache:    toolCache,
		limiter:  limit,
		auditLog: auditLog,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(150 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Get("/tools", s.handleListTools)
		r.Get("/tools/discover", s.handleDiscover)
		r.Post("/search", s.handleSearch)
		r.Post("/analyze", s.handleAnalyze)
		r.Post("/execute-sql", s.handleExecuteSQL)
		r.Post("/agent", s.handleAgent)
		r.Get("/status", s.handleStatus)
		r.Post("/session", s.handleSession)
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.router = r
	return s
}

// Handler exposes the HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run starts the HTTP server until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.Address,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---- middleware ----

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := s.clientID(r)
		if err := s.limiter.Allow(r.Context(), client); err != nil {
			status := http.StatusTooManyRequests
			if !errors.Is(err, limiter.ErrRateLimited) {
				status = http.StatusInternalServerError
			}
			s.writeFailure(w, r, status, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID identifies the caller for rate limiting and auditing: the subject
// of a valid session token when one is presented, the remote address
// otherwise.
func (s *Server) clientID(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if s.signer.Enabled() && strings.HasPrefix(strings.ToLower(header), "bearer ") {
		if subject, err := s.signer.Verify(strings.TrimSpace(header[7:])); err == nil {
			return subject
		}
	}
	return r.RemoteAddr
}

// ---- tool resolution ----

// listTools serves the tools list, from cache when fresh.
func (s *Server) listTools(ctx context.Context) ([]mcp.ToolDescriptor, bool, error) {
	if tools, ok := s.cache.Get(); ok {
		return tools, true, nil
	}
	if s.invoker == nil {
		return nil, false, errUpstreamDisabled
	}
	tools, err := s.invoker.ListTools(ctx)
	if err != nil {
		return nil, false, err
	}
	s.cache.Set(tools)
	return tools, false, nil
}

// toolFor resolves the tool bound to a capability, refreshing discovery once
// when the bucket is empty.
func (s *Server) toolFor(ctx context.Context, capability discovery.Capability) (string, error) {
	s.capsMu.RLock()
	name, ok := s.caps.ToolFor(capability)
	s.capsMu.RUnlock()
	if ok {
		return name, nil
	}

	tools, _, err := s.listTools(ctx)
	if err != nil {
		return "", err
	}
	caps := discovery.Classify(tools)

	s.capsMu.Lock()
	s.caps = caps
	s.capsMu.Unlock()

	if name, ok := caps.ToolFor(capability); ok {
		return name, nil
	}
	return "", fmt.Errorf("no %s tool discovered on upstream server", capability)
}

func (s *Server) callTool(ctx context.Context, capability discovery.Capability, arguments map[string]any) (string, json.RawMessage, error) {
	if s.invoker == nil {
		return "", nil, errUpstreamDisabled
	}
	name, err := s.toolFor(ctx, capability)
	if err != nil {
		return "", nil, err
	}
	raw, err := s.invoker.CallTool(ctx, name, arguments)
	return name, raw, err
}

// ---- handlers ----

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	tools, cached, err := s.listTools(r.Context())
	if err != nil {
		s.fail(w, r, "tools", "", "", start, err)
		return
	}

	s.ok(w, r, audit.Entry{Route: "tools", Cached: cached, Duration: time.Since(start)}, map[string]any{
		"tools": tools,
		"count": len(tools),
	})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	tools, cached, err := s.listTools(r.Context())
	if err != nil {
		s.fail(w, r, "discover", "", "", start, err)
		return
	}

	caps := discovery.Classify(tools)
	s.capsMu.Lock()
	s.caps = caps
	s.capsMu.Unlock()

	s.ok(w, r, audit.Entry{Route: "discover", Cached: cached, Duration: time.Since(start)}, map[string]any{
		"capabilities": caps,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Query == "" {
		s.writeFailure(w, r, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}

	tool, raw, err := s.callTool(r.Context(), discovery.CapabilitySearch, map[string]any{
		"query": req.Query,
		"limit": req.Limit,
	})
	if err != nil {
		s.fail(w, r, "search", tool, req.Query, start, err)
		return
	}

	s.ok(w, r, audit.Entry{Route: "search", Tool: tool, Query: req.Query, Duration: time.Since(start)}, map[string]any{
		"results":          parseSearchDocuments(raw),
		"query":            req.Query,
		"tool_used":        tool,
		"raw_mcp_response": raw,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Message == "" {
		s.writeFailure(w, r, http.StatusBadRequest, "message is required")
		return
	}

	tool, raw, err := s.callTool(r.Context(), discovery.CapabilityAnalysis, map[string]any{
		"message": req.Message,
	})
	if err != nil {
		s.fail(w, r, "analyze", tool, req.Message, start, err)
		return
	}

	s.ok(w, r, audit.Entry{Route: "analyze", Tool: tool, Query: req.Message, Duration: time.Since(start)}, map[string]any{
		"results":          interpret.AnalystResult(raw, req.Message),
		"message":          req.Message,
		"tool_used":        tool,
		"raw_mcp_response": raw,
	})
}

func (s *Server) handleExecuteSQL(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		SQL string `json:"sql"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.SQL == "" {
		s.writeFailure(w, r, http.StatusBadRequest, "sql query is required")
		return
	}

	tool, raw, err := s.callTool(r.Context(), discovery.CapabilityExecution, map[string]any{
		"sql": req.SQL,
	})
	if err != nil {
		s.fail(w, r, "execute-sql", tool, req.SQL, start, err)
		return
	}

	s.ok(w, r, audit.Entry{Route: "execute-sql", Tool: tool, Query: req.SQL, Duration: time.Since(start)}, map[string]any{
		"results":          interpret.SQLResult(raw, req.SQL),
		"sql_query":        req.SQL,
		"tool_used":        tool,
		"raw_mcp_response": raw,
	})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.Message == "" {
		s.writeFailure(w, r, http.StatusBadRequest, "message is required")
		return
	}

	// Agent tools take the prompt under "text", not "message".
	tool, raw, err := s.callTool(r.Context(), discovery.CapabilityAgent, map[string]any{
		"text": req.Message,
	})
	if err != nil {
		s.fail(w, r, "agent", tool, req.Message, start, err)
		return
	}

	s.ok(w, r, audit.Entry{Route: "agent", Tool: tool, Query: req.Message, Duration: time.Since(start)}, map[string]any{
		"results":          interpret.AgentResult(raw, req.Message),
		"message":          req.Message,
		"tool_used":        tool,
		"raw_mcp_response": raw,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	timestamp := time.Now().UTC().Format(time.RFC3339)

	if s.invoker == nil {
		s.writeJSON(w, "status", http.StatusServiceUnavailable, time.Since(start), map[string]any{
			"connected": false,
			"error":     errUpstreamDisabled.Error(),
			"timestamp": timestamp,
		})
		return
	}

	// Probe upstream directly; status must not be satisfied from cache.
	tools, err := s.invoker.ListTools(r.Context())
	if err != nil {
		s.auditLog.Log(audit.Entry{
			RequestID: middleware.GetReqID(r.Context()),
			Client:    s.clientID(r),
			Route:     "status",
			Duration:  time.Since(start),
			Error:     err.Error(),
		})
		s.writeJSON(w, "status", upstreamStatus(err), time.Since(start), map[string]any{
			"connected": false,
			"error":     err.Error(),
			"timestamp": timestamp,
		})
		return
	}

	s.writeJSON(w, "status", http.StatusOK, time.Since(start), map[string]any{
		"connected":       true,
		"server_url":      s.invoker.Endpoint(),
		"tools_available": len(tools),
		"timestamp":       timestamp,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req struct {
		User string `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, r, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if req.User == "" {
		s.writeFailure(w, r, http.StatusBadRequest, "user is required")
		return
	}

	token, err := s.signer.Issue(req.User)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, auth.ErrDisabled) {
			status = http.StatusServiceUnavailable
		}
		s.writeFailure(w, r, status, err.Error())
		return
	}

	s.ok(w, r, audit.Entry{Route: "session", Client: req.User, Duration: time.Since(start)}, map[string]any{
		"token": token,
	})
}

// ---- response plumbing ----

func (s *Server) ok(w http.ResponseWriter, r *http.Request, entry audit.Entry, payload map[string]any) {
	entry.RequestID = middleware.GetReqID(r.Context())
	if entry.Client == "" {
		entry.Client = s.clientID(r)
	}
	s.auditLog.Log(entry)

	payload["success"] = true
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	s.writeJSON(w, entry.Route, http.StatusOK, entry.Duration, payload)
}

// fail maps an upstream error to a failure envelope, auditing the attempt.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, route, tool, query string, start time.Time, err error) {
	s.auditLog.Log(audit.Entry{
		RequestID: middleware.GetReqID(r.Context()),
		Client:    s.clientID(r),
		Route:     route,
		Tool:      tool,
		Query:     query,
		Duration:  time.Since(start),
		Error:     err.Error(),
	})

	s.writeJSON(w, route, upstreamStatus(err), time.Since(start), map[string]any{
		"success":   false,
		"error":     err.Error(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, r.URL.Path, status, 0, map[string]any{
		"success":   false,
		"error":     msg,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, route string, status int, elapsed time.Duration, payload any) {
	apiDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(elapsed.Seconds())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	w.Write(data)
}

// upstreamStatus converts client errors into HTTP statuses: gateway timeouts
// pass through as 504, everything else upstream-related is 502, demo mode and
// missing tools are the caller's problem to configure.
func upstreamStatus(err error) int {
	if errors.Is(err, errUpstreamDisabled) {
		return http.StatusServiceUnavailable
	}
	var transport *mcp.TransportError
	if errors.As(err, &transport) && transport.IsGatewayTimeout() {
		return http.StatusGatewayTimeout
	}
	var remote *mcp.RemoteError
	var proto *mcp.ProtocolError
	if errors.As(err, &transport) || errors.As(err, &remote) || errors.As(err, &proto) {
		return http.StatusBadGateway
	}
	return http.StatusBadRequest
}
