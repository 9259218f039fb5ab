// ABOUTME: Authenticated identity for tracking callers through request handlers
// ABOUTME: Provides WithIdentity/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Identity holds the authenticated caller information extracted from a request.
// This is populated by the auth gate and can be retrieved from context in handlers.
type Identity struct {
	CallerID string // application id (appid/azp) or subject for non-application principals
	Subject  string // sub claim
	TenantID string // tid claim, empty for non-tenant issuers
}

// identityKey is the key type for storing Identity in context.Context.
type identityKey struct{}

// WithIdentity returns a new context with the Identity attached.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext retrieves the Identity from the context, returning nil if not present.
func FromContext(ctx context.Context) *Identity {
	val := ctx.Value(identityKey{})
	if val == nil {
		return nil
	}
	id, ok := val.(*Identity)
	if !ok {
		return nil
	}
	return id
}
