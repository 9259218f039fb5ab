// Package gateway wires the tavola-gateway components into a running server.
//
// New builds the full chain from config: SQLite store, frozen tool
// registry, MCP server, and (with enforcement on) the JWKS resolver,
// token validator, claims authorizer, and auth gate guarding /mcp. The
// protected-resource metadata document and /healthz sit outside the gate;
// the metadata route only exists when enforcement is enabled.
//
// Run seeds the store, warms the signing-key cache before the listener
// opens, then serves until the context is canceled and drains with a
// bounded grace period.
package gateway
