// ABOUTME: MCP-compatible HTTP server implementing the Streamable HTTP transport
// ABOUTME: Dispatches JSON-RPC 2.0 initialize, tools/list, and tools/call to the tool registry

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tavola/tavola-gateway/internal/tools"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-06-18": true,
}

// latestProtocolVersion is the version we advertise when the client asks for
// one we don't support.
const latestProtocolVersion = "2025-06-18"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// defaultSessionIdleTTL applies when stateful mode is enabled without an
// explicit idle TTL.
const defaultSessionIdleTTL = 30 * time.Minute

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPInitializeParams are the params for initialize.
type MCPInitializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// session tracks one stateful MCP client session.
type session struct {
	id              string
	protocolVersion string
	createdAt       time.Time
	lastSeen        time.Time

	// mu serializes envelope handling on this session: two requests
	// carrying the same Mcp-Session-Id never run handlers concurrently.
	mu sync.Mutex
}

// sessionStore manages active sessions in memory.
type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(protocolVersion string) *session {
	now := time.Now()
	sess := &session{
		id:              uuid.New().String(),
		protocolVersion: protocolVersion,
		createdAt:       now,
		lastSeen:        now,
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// touch refreshes the session's idle clock and returns the session, or nil
// when it does not exist.
func (s *sessionStore) touch(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.lastSeen = time.Now()
	return sess
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	return existed
}

// evictIdle removes sessions idle longer than ttl and returns their ids.
func (s *sessionStore) evictIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (s *sessionStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Config holds configuration for the MCP server.
type Config struct {
	Registry *tools.Registry
	Logger   *slog.Logger
	// Stateful enables session tracking: initialize issues an Mcp-Session-Id
	// and other methods require one. Off by default.
	Stateful bool
	// SessionIdleTTL is how long a stateful session survives without
	// traffic before the janitor evicts it.
	SessionIdleTTL time.Duration
	// ServerName and ServerVersion appear in initialize responses.
	ServerName    string
	ServerVersion string
}

// Server implements MCP-compatible HTTP endpoints for external agents.
// Conforms to the MCP Streamable HTTP transport specification.
type Server struct {
	registry      *tools.Registry
	logger        *slog.Logger
	stateful      bool
	idleTTL       time.Duration
	serverName    string
	serverVersion string
	sessions      *sessionStore
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	idleTTL := cfg.SessionIdleTTL
	if idleTTL <= 0 {
		idleTTL = defaultSessionIdleTTL
	}

	name := cfg.ServerName
	if name == "" {
		name = "tavola-gateway"
	}
	version := cfg.ServerVersion
	if version == "" {
		version = "0.0.0"
	}

	return &Server{
		registry:      cfg.Registry,
		logger:        logger.With("component", "mcp"),
		stateful:      cfg.Stateful,
		idleTTL:       idleTTL,
		serverName:    name,
		serverVersion: version,
		sessions:      newSessionStore(),
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// StartJanitor launches the idle-session eviction loop. It runs until the
// context is cancelled. No-op in stateless mode.
func (s *Server) StartJanitor(ctx context.Context) {
	if !s.stateful {
		return
	}

	interval := s.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range s.sessions.evictIdle(s.idleTTL) {
					s.logger.Info("session evicted after idle timeout", "session_id", id)
				}
			}
		}
	}()
}

// handleMCP is the single MCP endpoint supporting POST and DELETE per the
// Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		// Server-initiated SSE streams (GET) are not supported.
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.stateful {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	if !s.sessions.delete(sessionID) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.logger.Info("session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Notifications are accepted and dropped: HTTP 202, no body. JSON-RPC
	// forbids responding to a notification, so no session or version fault
	// can be reported here either.
	if isNotification {
		if s.stateful {
			if id := r.Header.Get("Mcp-Session-Id"); id != "" {
				s.sessions.touch(id)
			}
		}
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Per spec the header is optional on initialize; elsewhere an unknown
	// version is a protocol error.
	if !isInitialize {
		if v := r.Header.Get("Mcp-Protocol-Version"); v != "" && !supportedProtocolVersions[v] {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "unsupported protocol version", nil)
			return
		}
	}

	// Stateful mode: every non-initialize request must present a live
	// session. The session lock is held across dispatch so envelopes on one
	// session execute one at a time.
	if s.stateful && !isInitialize {
		sess := s.sessions.touch(r.Header.Get("Mcp-Session-Id"))
		if sess == nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "not initialized", nil)
			return
		}
		sess.mu.Lock()
		defer sess.mu.Unlock()
	}

	s.logger.Debug("request", "method", req.Method)

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(w, r, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	var params MCPInitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	// Echo the client's version when we support it, otherwise offer ours.
	negotiated := latestProtocolVersion
	if supportedProtocolVersions[params.ProtocolVersion] {
		negotiated = params.ProtocolVersion
	}

	if s.stateful {
		sess := s.sessions.create(negotiated)
		w.Header().Set("Mcp-Session-Id", sess.id)
		s.logger.Info("session created",
			"session_id", sess.id,
			"protocol_version", negotiated,
			"active_sessions", s.sessions.count(),
		)
	}

	result := map[string]any{
		"protocolVersion": negotiated,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    s.serverName,
			"version": s.serverVersion,
		},
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	descriptors := s.registry.List()
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(descriptors)),
	}
	for i, d := range descriptors {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		result.Tools[i] = MCPToolInfo{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		}
	}

	s.logger.Debug("tools/list", "count", len(result.Tools))
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall handles tools/call requests.
func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	result, err := s.registry.Invoke(r.Context(), params.Name, params.Arguments)
	if err != nil {
		s.handleToolError(w, req.ID, params.Name, err)
		return
	}

	s.logger.Debug("tools/call complete", "tool_name", params.Name)
	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(result)}},
	})
}

// handleToolError maps tool invocation failures onto the wire. Registry-level
// failures become JSON-RPC errors; handler failures become isError tool
// results so clients see them as tool output rather than protocol faults.
// Either way the HTTP status stays 200.
func (s *Server) handleToolError(w http.ResponseWriter, id json.RawMessage, toolName string, err error) {
	var handlerErr *tools.HandlerError
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, "tool not found", nil)
	case errors.Is(err, tools.ErrInvalidArguments):
		s.sendJSONRPCError(w, id, JSONRPCInvalidParams, err.Error(), nil)
	case errors.As(err, &handlerErr):
		s.sendJSONRPCResult(w, id, MCPCallToolResult{
			Content: []MCPContent{{Type: "text", Text: handlerErr.Error()}},
			IsError: true,
		})
	case errors.Is(err, context.DeadlineExceeded):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution timed out", nil)
	case errors.Is(err, context.Canceled):
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "request cancelled", nil)
	default:
		s.logger.Warn("tool invocation failed", "tool_name", toolName, "error", err)
		s.sendJSONRPCError(w, id, JSONRPCInternalError, "tool execution failed", nil)
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
