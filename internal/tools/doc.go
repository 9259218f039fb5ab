// Package tools holds the gateway's tool registry and the restaurant tool set.
//
// # Registry
//
// Tools are registered at startup and the registry is frozen before the
// server accepts traffic; descriptors are immutable thereafter. Invoke
// validates arguments against the tool's declared schema before the handler
// runs, so handlers never see schema-invalid input.
//
// # Error contract
//
// Invoke returns ErrUnknownTool for unregistered names, ErrInvalidArguments
// for schema violations, and *HandlerError for handler failures. A
// HandlerError carries a correlation ID for log lookup and a message that
// is generic unless the handler marked it caller-safe with Publicf.
//
// Each invocation is bounded by the registry's invoke timeout; when it
// expires the caller gets context.DeadlineExceeded even if the handler
// never checks its context.
package tools
