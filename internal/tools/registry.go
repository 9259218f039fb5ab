// ABOUTME: Thread-safe registry mapping tool names to handlers and argument schemas
// ABOUTME: Validates arguments before invocation and normalizes handler failures

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultInvokeTimeout bounds a single handler invocation unless the registry
// is configured otherwise.
const DefaultInvokeTimeout = 30 * time.Second

// Registry errors
var (
	// ErrUnknownTool indicates the named tool is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments indicates the supplied arguments failed schema validation.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrToolCollision indicates a tool name is already registered.
	ErrToolCollision = errors.New("tool name collision")
	// ErrRegistryFrozen indicates registration was attempted after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Descriptor describes one callable tool. Immutable once registered.
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Handler executes a tool call with schema-validated arguments.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// HandlerError wraps a failure from the underlying tool handler. The caller
// sees Message plus a correlation ID for server-side log lookup; the cause
// stays in the logs.
type HandlerError struct {
	CorrelationID string
	Message       string
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s (correlation_id=%s)", e.Message, e.CorrelationID)
}

// publicError marks a handler error whose message is safe to show callers.
type publicError struct {
	msg string
}

func (e *publicError) Error() string { return e.msg }

// Publicf builds a handler error whose message is returned to the caller
// verbatim. Use it for domain-level failures like "restaurant not found";
// anything else surfaces as a generic failure plus correlation ID.
func Publicf(format string, args ...any) error {
	return &publicError{msg: fmt.Sprintf(format, args...)}
}

// tool pairs a descriptor with its handler and parsed schema.
type tool struct {
	descriptor Descriptor
	handler    Handler
	schema     *argSchema
}

// Registry maintains the set of registered tools. Registration happens at
// startup; Freeze makes the set immutable before the server accepts traffic.
type Registry struct {
	mu            sync.RWMutex
	tools         map[string]*tool
	frozen        bool
	invokeTimeout time.Duration
	logger        *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:         make(map[string]*tool),
		invokeTimeout: DefaultInvokeTimeout,
		logger:        logger.With("component", "tools"),
	}
}

// SetInvokeTimeout overrides the per-invocation handler timeout. Values
// <= 0 are ignored. Call during startup wiring, before traffic.
func (r *Registry) SetInvokeTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.invokeTimeout = d
	r.mu.Unlock()
}

// Register adds a tool. The input schema is parsed eagerly so malformed
// schemas fail at startup, not at call time.
func (r *Registry) Register(d Descriptor, h Handler) error {
	if d.Name == "" {
		return errors.New("tool name is required")
	}
	if h == nil {
		return errors.New("tool handler is required")
	}

	schema, err := parseArgSchema(d.InputSchema)
	if err != nil {
		return fmt.Errorf("parsing schema for %q: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrToolCollision, d.Name)
	}

	r.tools[d.Name] = &tool{descriptor: d, handler: h, schema: schema}
	r.logger.Debug("tool registered", "name", d.Name)
	return nil
}

// Freeze makes the registry immutable. Called once startup wiring is done.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	r.logger.Info("tool registry frozen", "tool_count", len(r.tools))
}

// List returns all registered descriptors. Order is unspecified; the full
// set is always included.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.descriptor)
	}
	return out
}

// Invoke resolves the named tool, validates the arguments against its schema,
// and runs the handler under the registry's invocation timeout.
//
// Error contract: ErrUnknownTool for unregistered names, ErrInvalidArguments
// when the arguments fail schema validation (the handler is never called),
// context.DeadlineExceeded or context.Canceled when the invocation is cut
// short, and *HandlerError for anything the handler itself returns.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	timeout := r.invokeTimeout
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	if err := t.schema.validate(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result json.RawMessage
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := t.handler(ctx, args)
		done <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// A handler that ignores its context keeps its goroutine until it
		// returns, but the worker is released here.
		r.logger.Error("tool handler did not return in time",
			"tool", name,
			"timeout", timeout,
		)
		return nil, ctx.Err()
	}

	if out.err != nil {
		if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
			return nil, out.err
		}

		correlationID := uuid.New().String()
		r.logger.Error("tool handler failed",
			"tool", name,
			"correlation_id", correlationID,
			"error", out.err,
		)

		message := "tool execution failed"
		var pub *publicError
		if errors.As(out.err, &pub) {
			message = pub.msg
		}
		return nil, &HandlerError{CorrelationID: correlationID, Message: message}
	}

	return out.result, nil
}
