// Package keyset resolves JWT key IDs to the identity provider's public keys.
//
// # Overview
//
// The Resolver owns the cached signing key set for the whole process. It is
// initialized by WarmUp before the gateway accepts traffic, refreshed on a
// TTL, and refreshed at most once per unknown key ID (with a cooldown) when
// a token arrives carrying a kid the cache has never seen.
//
// # Failure behavior
//
// Fetch failures are transient: the resolver retries with backoff, then
// serves the previous key set for a bounded staleness window. Past that
// window resolution fails closed with ErrUnavailable and token verification
// denies the request.
//
// Concurrent refreshes coalesce into a single outstanding fetch via
// singleflight, so a burst of unresolved tokens cannot stampede the
// provider's key endpoint.
package keyset
