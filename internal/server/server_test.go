package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mrecos/mcp-gateway/internal/audit"
	"github.com/mrecos/mcp-gateway/internal/auth"
	"github.com/mrecos/mcp-gateway/internal/cache"
	"github.com/mrecos/mcp-gateway/internal/config"
	"github.com/mrecos/mcp-gateway/internal/limiter"
	"github.com/mrecos/mcp-gateway/internal/mcp"
)

type fakeInvoker struct {
	tools     []mcp.ToolDescriptor
	listErr   error
	callErr   error
	result    json.RawMessage
	listCalls int
	lastTool  string
	lastArgs  map[string]any
}

func (f *fakeInvoker) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeInvoker) CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	f.lastTool = name
	f.lastArgs = args
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeInvoker) Endpoint() string { return "https://upstream.example.com/mcp" }

func descriptor(name, description string, props ...string) mcp.ToolDescriptor {
	properties := map[string]json.RawMessage{}
	for _, p := range props {
		properties[p] = json.RawMessage(`{"type":"string"}`)
	}
	return mcp.ToolDescriptor{Name: name, Description: description, InputSchema: mcp.InputSchema{Properties: properties}}
}

func allTools() []mcp.ToolDescriptor {
	return []mcp.ToolDescriptor{
		descriptor("doc_search", "search filings", "query", "columns"),
		descriptor("revenue_analyst", "semantic model questions", "message"),
		descriptor("sql_exec", "run sql", "sql"),
		descriptor("filing_agent", "agent runs", "text"),
	}
}

func newTestServer(t *testing.T, invoker ToolInvoker) *Server {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	toolCache, err := cache.New(cache.Config{Enabled: false})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	signer := auth.New(config.SessionConfig{SecretKey: "test-secret", TTL: time.Hour})
	return New(cfg, invoker, signer, toolCache, limiter.New(limiter.Config{}), audit.New(false, nil))
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Buffer
	if body == "" {
		reader = bytes.NewBufferString("{}")
	} else {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("response not JSON (%d): %s", w.Code, w.Body.String())
	}
	return w, decoded
}

func TestListToolsEnvelope(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{tools: allTools()})
	w, resp := doJSON(t, s, "GET", "/api/tools", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["success"] != true {
		t.Error("success != true")
	}
	if resp["count"] != float64(4) {
		t.Errorf("count = %v", resp["count"])
	}
	if _, ok := resp["timestamp"].(string); !ok {
		t.Error("missing timestamp")
	}
}

func TestListToolsUpstreamFailure(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{listErr: &mcp.TransportError{Status: 500, Body: "boom"}})
	w, resp := doJSON(t, s, "GET", "/api/tools", "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["success"] != false {
		t.Error("success != false")
	}
	if resp["error"] == "" {
		t.Error("missing error")
	}
}

func TestGatewayTimeoutPassesThrough(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{listErr: &mcp.TransportError{Status: http.StatusGatewayTimeout, Body: "lb timeout"}})
	w, _ := doJSON(t, s, "GET", "/api/tools", "")
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", w.Code)
	}
}

func TestDiscoverClassifies(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{tools: allTools()})
	w, resp := doJSON(t, s, "GET", "/api/tools/discover", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	caps, ok := resp["capabilities"].(map[string]any)
	if !ok {
		t.Fatalf("capabilities = %v", resp["capabilities"])
	}
	search, ok := caps["search"].(map[string]any)
	if !ok || search["name"] != "doc_search" {
		t.Errorf("search capability = %v", caps["search"])
	}
	if caps["execution"] == nil {
		t.Error("execution capability missing")
	}
}

func TestSearchThreadsDiscoveredTool(t *testing.T) {
	invoker := &fakeInvoker{
		tools:  allTools(),
		result: json.RawMessage(`{"content":[{"type":"text","text":"{\"results\":[{\"CONTEXTUALIZED_CHUNK\":\"chunk one\"}]}"}]}`),
	}
	s := newTestServer(t, invoker)
	w, resp := doJSON(t, s, "POST", "/api/search", `{"query":"revenue"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, resp["error"])
	}
	if invoker.lastTool != "doc_search" {
		t.Errorf("tool used = %q", invoker.lastTool)
	}
	if invoker.lastArgs["query"] != "revenue" || invoker.lastArgs["limit"] != 10 {
		t.Errorf("args = %v", invoker.lastArgs)
	}
	results, ok := resp["results"].([]any)
	if !ok || len(results) != 1 {
		t.Fatalf("results = %v", resp["results"])
	}
	hit := results[0].(map[string]any)
	if hit["CONTEXTUALIZED_CHUNK"] != "chunk one" {
		t.Errorf("chunk = %v", hit)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{tools: allTools()})
	w, resp := doJSON(t, s, "POST", "/api/search", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["success"] != false {
		t.Error("success != false")
	}
}

func TestExecuteSQLInterprets(t *testing.T) {
	inner := `{"result_set":{"resultSetMetaData":{"numRows":1,"rowType":[{"name":"name"},{"name":"val"}]},"data":[["a",1]]}}`
	content, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": inner}},
	})
	invoker := &fakeInvoker{tools: allTools(), result: content}
	s := newTestServer(t, invoker)

	w, resp := doJSON(t, s, "POST", "/api/execute-sql", `{"sql":"SELECT name, val FROM t"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, resp["error"])
	}
	if invoker.lastTool != "sql_exec" {
		t.Errorf("tool used = %q", invoker.lastTool)
	}
	results := resp["results"].(map[string]any)
	rows := results["execution_results"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	row := rows[0].(map[string]any)
	if row["name"] != "a" || row["val"] != float64(1) {
		t.Errorf("row = %v", row)
	}
}

func TestAgentUsesTextArgument(t *testing.T) {
	invoker := &fakeInvoker{
		tools:  allTools(),
		result: json.RawMessage(`{"content":[{"type":"text","text":"the answer"}]}`),
	}
	s := newTestServer(t, invoker)

	w, resp := doJSON(t, s, "POST", "/api/agent", `{"message":"what happened"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, resp["error"])
	}
	if invoker.lastArgs["text"] != "what happened" {
		t.Errorf("agent args = %v", invoker.lastArgs)
	}
	results := resp["results"].(map[string]any)
	if results["response"] != "the answer" {
		t.Errorf("response = %v", results["response"])
	}
}

func TestRemoteErrorSurfacesAsFailure(t *testing.T) {
	invoker := &fakeInvoker{tools: allTools(), callErr: &mcp.RemoteError{Payload: json.RawMessage(`"X"`)}}
	s := newTestServer(t, invoker)

	w, resp := doJSON(t, s, "POST", "/api/analyze", `{"message":"m"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["success"] != false {
		t.Error("success != false")
	}
}

func TestStatusConnected(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{tools: allTools()})
	w, resp := doJSON(t, s, "GET", "/api/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["connected"] != true {
		t.Error("connected != true")
	}
	if resp["tools_available"] != float64(4) {
		t.Errorf("tools_available = %v", resp["tools_available"])
	}
	if resp["server_url"] != "https://upstream.example.com/mcp" {
		t.Errorf("server_url = %v", resp["server_url"])
	}
}

func TestStatusDisconnected(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{listErr: &mcp.TransportError{Err: context.DeadlineExceeded}})
	w, resp := doJSON(t, s, "GET", "/api/status", "")

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["connected"] != false {
		t.Error("connected != false")
	}
}

func TestDemoModeWithoutInvoker(t *testing.T) {
	s := newTestServer(t, nil)
	w, resp := doJSON(t, s, "GET", "/api/tools", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if resp["success"] != false {
		t.Error("success != false")
	}
}

func TestSessionIssueAndReuse(t *testing.T) {
	s := newTestServer(t, &fakeInvoker{tools: allTools()})
	w, resp := doJSON(t, s, "POST", "/api/session", `{"user":"analyst-ui"}`)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	token, ok := resp["token"].(string)
	if !ok || token == "" {
		t.Fatalf("token = %v", resp["token"])
	}

	req := httptest.NewRequest("GET", "/api/tools", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated request status = %d", rec.Code)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	cfg, _ := config.Load("")
	toolCache, _ := cache.New(cache.Config{Enabled: false})
	limit := limiter.New(limiter.Config{Enabled: true, RequestsPerSecond: 1, Burst: 1, Window: time.Minute})
	s := New(cfg, &fakeInvoker{tools: allTools()}, auth.New(config.SessionConfig{}), toolCache, limit, audit.New(false, nil))

	first := httptest.NewRequest("GET", "/api/tools", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w1, first)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d", w1.Code)
	}

	second := httptest.NewRequest("GET", "/api/tools", nil)
	second.RemoteAddr = "10.0.0.1:1234"
	w2 := httptest.NewRecorder()
	s.Handler().ServeHTTP(w2, second)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
}

func TestToolsListServedFromCache(t *testing.T) {
	cfg, _ := config.Load("")
	toolCache, err := cache.New(cache.Config{Enabled: true, TTL: time.Minute})
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	invoker := &fakeInvoker{tools: allTools()}
	s := New(cfg, invoker, auth.New(config.SessionConfig{}), toolCache, limiter.New(limiter.Config{}), audit.New(false, nil))

	doJSON(t, s, "GET", "/api/tools", "")
	doJSON(t, s, "GET", "/api/tools", "")
	if invoker.listCalls != 1 {
		t.Errorf("upstream list calls = %d, want 1 (second served from cache)", invoker.listCalls)
	}
}
