package mcp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultTimeout = 120 * time.Second
	dataPrefix     = "data: "
	maxErrorBody   = 64 * 1024
	maxEventLine   = 2 * 1024 * 1024
)

var (
	rpcDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mcp_gateway",
		Subsystem: "upstream",
		Name:      "rpc_duration_seconds",
		Help:      "Duration of JSON-RPC calls to the upstream tool server.",
	}, []string{"method"})
	rpcErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcp_gateway",
		Subsystem: "upstream",
		Name:      "rpc_errors_total",
		Help:      "JSON-RPC calls that ended in an error, by kind.",
	}, []string{"method", "kind"})
)

// Config captures client construction parameters.
type Config struct {
	// ServerURL is the upstream JSON-RPC endpoint.
	ServerURL string
	// AuthToken is sent as a bearer token on every request.
	AuthToken string
	// Timeout bounds a single request/response exchange. Defaults to 120s;
	// streaming keeps the connection alive within that window.
	Timeout time.Duration
	// InsecureTLS disables certificate verification. Opt-in only, never a
	// default; meant for test endpoints with self-signed certificates.
	InsecureTLS bool
}

// Client issues JSON-RPC calls over HTTP to a remote tool server and
// normalizes the result regardless of transport framing (a single JSON
// document or a chunked event stream).
//
// One pooled http.Client is shared across calls from the same instance.
// No retries are performed; callers wanting resilience wrap calls externally.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	nextID   atomic.Int64
}

// New validates the configuration and builds a client.
func New(cfg Config) (*Client, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("parse server_url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.InsecureTLS {
		httpClient.Transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}} // #nosec G402
	}

	return &Client{
		endpoint: cfg.ServerURL,
		token:    cfg.AuthToken,
		http:     httpClient,
	}, nil
}

// Endpoint returns the configured upstream URL.
func (c *Client) Endpoint() string { return c.endpoint }

// ListTools invokes tools/list and returns the advertised tool descriptors.
// An absent tools field yields an empty slice, not an error.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.rpc(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("tools/list result: %v", err)}
	}
	if out.Tools == nil {
		return []ToolDescriptor{}, nil
	}
	return out.Tools, nil
}

// CallTool invokes tools/call for the named tool and returns the unwrapped
// result payload.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (json.RawMessage, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	return c.rpc(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
}

// rpc performs one JSON-RPC exchange: build the envelope, POST it, detect the
// response framing, and unwrap result or error.
func (c *Client) rpc(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if params == nil {
		params = map[string]any{}
	}

	payload, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	rpcDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		rpcErrors.WithLabelValues(method, "transport").Inc()
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		rpcErrors.WithLabelValues(method, "transport").Inc()
		return nil, &TransportError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var envelope map[string]json.RawMessage
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		envelope, err = readEventStream(resp.Body)
	} else {
		err = json.NewDecoder(resp.Body).Decode(&envelope)
		if err != nil {
			err = &ProtocolError{Reason: fmt.Sprintf("decode body: %v", err)}
		}
	}
	if err != nil {
		rpcErrors.WithLabelValues(method, "protocol").Inc()
		return nil, err
	}

	if result, ok := envelope["result"]; ok {
		return result, nil
	}
	if remote, ok := envelope["error"]; ok {
		rpcErrors.WithLabelValues(method, "remote").Inc()
		return nil, &RemoteError{Payload: remote}
	}
	rpcErrors.WithLabelValues(method, "protocol").Inc()
	return nil, &ProtocolError{Reason: "unrecognized response shape"}
}

// readEventStream scans an SSE body line by line and keeps the last data
// event that parses as a JSON object. Heartbeats and partial events are
// discarded; a stream with no parseable payload is a protocol error.
func readEventStream(r io.Reader) (map[string]json.RawMessage, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)

	var last map[string]json.RawMessage
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line[len(dataPrefix):]), &obj); err != nil {
			continue
		}
		if obj != nil {
			last = obj
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &TransportError{Err: err}
	}
	if last == nil {
		return nil, &ProtocolError{Reason: "no valid payload in stream"}
	}
	return last, nil
}
