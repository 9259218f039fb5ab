// ABOUTME: Tests for the MCP Streamable HTTP endpoint and JSON-RPC dispatch
// ABOUTME: Covers initialize, tools/list, tools/call, notifications, and stateful sessions

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tavola/tavola-gateway/internal/tools"
)

func newTestRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(nil)

	err := r.Register(tools.Descriptor{
		Name:        "greet",
		Description: "Greet a caller by name",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`),
	}, func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"greeting": "hello " + in.Name})
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err = r.Register(tools.Descriptor{
		Name:        "fail",
		Description: "Always fails",
		InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
	}, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("internal boom")
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	r.Freeze()
	return r
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Registry == nil {
		cfg.Registry = newTestRegistry(t)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

// post sends a JSON-RPC request body to /mcp and returns the recorder.
func post(t *testing.T, srv *Server, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestInitialize(t *testing.T) {
	srv := newTestServer(t, Config{ServerName: "tavola-gateway", ServerVersion: "1.2.3"})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != "2025-03-26" {
		t.Errorf("protocolVersion = %v, want echo of client version", result["protocolVersion"])
	}
	info := result["serverInfo"].(map[string]any)
	if info["name"] != "tavola-gateway" || info["version"] != "1.2.3" {
		t.Errorf("unexpected serverInfo: %v", info)
	}
	if w.Header().Get("Mcp-Session-Id") != "" {
		t.Error("stateless server must not issue a session id")
	}
}

func TestInitializeUnsupportedVersionNegotiates(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"1999-01-01"}}`, nil)
	resp := decodeResponse(t, w)
	result := resp.Result.(map[string]any)
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("protocolVersion = %v, want %s", result["protocolVersion"], latestProtocolVersion)
	}
}

func TestToolsList(t *testing.T) {
	srv := newTestServer(t, Config{})

	// Run twice: the descriptor set must be stable across calls.
	var previous string
	for i := 0; i < 2; i++ {
		w := post(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		resp := decodeResponse(t, w)
		if resp.Error != nil {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}

		raw, _ := json.Marshal(resp.Result)
		var result MCPListToolsResult
		if err := json.Unmarshal(raw, &result); err != nil {
			t.Fatalf("decoding result: %v", err)
		}
		if len(result.Tools) != 2 {
			t.Fatalf("got %d tools, want 2", len(result.Tools))
		}
		if result.Tools[0].Name != "fail" || result.Tools[1].Name != "greet" {
			t.Errorf("tools not sorted by name: %s, %s", result.Tools[0].Name, result.Tools[1].Name)
		}
		for _, tool := range result.Tools {
			if len(tool.InputSchema) == 0 {
				t.Errorf("tool %q missing input schema", tool.Name)
			}
		}

		if previous != "" && previous != string(raw) {
			t.Error("tools/list result changed between identical calls")
		}
		previous = string(raw)
	}
}

func TestToolsCall(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"greet","arguments":{"name":"ada"}}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.IsError {
		t.Error("IsError = true on success")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "hello ada") {
		t.Errorf("unexpected content: %+v", result.Content)
	}
}

func TestToolsCallUnknownTool(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nonexistent"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for unknown tools", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestToolsCallInvalidArguments(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"greet","arguments":{"name":7}}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("expected invalid-params error, got %+v", resp.Error)
	}
}

func TestToolsCallHandlerFailure(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"fail"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("handler failure should be an isError result, got protocol error %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	text := result.Content[0].Text
	if strings.Contains(text, "internal boom") {
		t.Errorf("internal detail leaked: %q", text)
	}
	if !strings.Contains(text, "correlation_id=") {
		t.Errorf("expected correlation id in %q", text)
	}
}

func TestNotificationAccepted(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("notification response has body: %q", w.Body.String())
	}
}

func TestMalformedJSON(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestWrongJSONRPCVersion(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, Config{})

	big := strings.Repeat("x", MaxRequestBodySize+10)
	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"pad":"`+big+`"}}`, nil)
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestUnsupportedProtocolVersionHeader(t *testing.T) {
	srv := newTestServer(t, Config{})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		map[string]string{"Mcp-Protocol-Version": "1990-01-01"})
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid-request error, got %+v", resp.Error)
	}
}

func TestGetNotSupported(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestStatefulSessionFlow(t *testing.T) {
	srv := newTestServer(t, Config{Stateful: true, SessionIdleTTL: time.Minute})

	// Non-initialize before initialize is rejected inside a 200 envelope.
	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest || resp.Error.Message != "not initialized" {
		t.Fatalf("expected not-initialized error, got %+v", resp.Error)
	}

	// Initialize mints a session.
	w = post(t, srv, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("expected Mcp-Session-Id header")
	}

	// The session unlocks other methods.
	w = post(t, srv, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	resp = decodeResponse(t, w)
	if resp.Error != nil {
		t.Fatalf("unexpected error with valid session: %+v", resp.Error)
	}

	// DELETE terminates it.
	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec := httptest.NewRecorder()
	srv.handleMCP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d, want 204", rec.Code)
	}

	// Terminated sessions are gone.
	w = post(t, srv, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`,
		map[string]string{"Mcp-Session-Id": sessionID})
	resp = decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Message != "not initialized" {
		t.Errorf("expected not-initialized after termination, got %+v", resp.Error)
	}
}

func TestStatefulUnknownSession(t *testing.T) {
	srv := newTestServer(t, Config{Stateful: true})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"greet"}}`,
		map[string]string{"Mcp-Session-Id": "no-such-session"})
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Message != "not initialized" {
		t.Errorf("expected not-initialized error, got %+v", resp.Error)
	}
}

func TestDeleteInStatelessMode(t *testing.T) {
	srv := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("Mcp-Session-Id", "anything")
	w := httptest.NewRecorder()
	srv.handleMCP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestSessionIdleEviction(t *testing.T) {
	store := newSessionStore()
	sess := store.create("2025-06-18")

	if evicted := store.evictIdle(time.Hour); len(evicted) != 0 {
		t.Fatalf("fresh session evicted: %v", evicted)
	}

	store.mu.Lock()
	store.sessions[sess.id].lastSeen = time.Now().Add(-2 * time.Hour)
	store.mu.Unlock()

	evicted := store.evictIdle(time.Hour)
	if len(evicted) != 1 || evicted[0] != sess.id {
		t.Fatalf("expected %s evicted, got %v", sess.id, evicted)
	}
	if store.touch(sess.id) != nil {
		t.Error("evicted session still reachable")
	}
}

func TestStatefulNotificationWithoutSession(t *testing.T) {
	srv := newTestServer(t, Config{Stateful: true})

	// A notification must never be answered, not even with the
	// not-initialized protocol error.
	w := post(t, srv, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("notification received a response body: %q", w.Body.String())
	}
}

func TestToolsCallTimesOut(t *testing.T) {
	r := tools.NewRegistry(nil)
	r.SetInvokeTimeout(50 * time.Millisecond)
	err := r.Register(tools.Descriptor{
		Name:        "hang",
		Description: "Waits for its context",
	}, func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.Freeze()
	srv := newTestServer(t, Config{Registry: r})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"hang"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Error == nil || resp.Error.Code != JSONRPCInternalError {
		t.Fatalf("expected internal error, got %+v", resp.Error)
	}
	if resp.Error.Message != "tool execution timed out" {
		t.Errorf("message = %q, want timeout message", resp.Error.Message)
	}
}

func TestStatefulSessionSerializesCalls(t *testing.T) {
	r := tools.NewRegistry(nil)
	var inFlight, overlapped atomic.Int32
	err := r.Register(tools.Descriptor{Name: "slow"}, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(1)
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return json.RawMessage(`{}`), nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	r.Freeze()
	srv := newTestServer(t, Config{Stateful: true, Registry: r})

	w := post(t, srv, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18"}}`, nil)
	sessionID := w.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("expected Mcp-Session-Id header")
	}
	headers := map[string]string{"Mcp-Session-Id": sessionID}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			post(t, srv, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"slow"}}`, headers)
		}()
	}
	wg.Wait()

	if overlapped.Load() != 0 {
		t.Error("two envelopes on one session ran handlers concurrently")
	}
}
