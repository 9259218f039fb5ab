// Package config handles configuration loading for tavola-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  tenant_id: "${TENANT_ID}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  clock_skew: "2m"
//	  key_cache_ttl: "1h"
//	  key_stale_for: "24h"
//	sessions:
//	  idle_ttl: "30m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  public_url: "https://gateway.example.com"   # protected-resource identifier
//	  tool_timeout: "30s"                         # per-invocation handler bound
//
// Authentication:
//
//	auth:
//	  enforce: true
//	  tenant_id: "${TENANT_ID}"       # derives issuer and jwks_url when set
//	  audiences: ["api://tavola-gateway"]
//	  allowed_callers: ["<agent application id>"]
//	  scopes: ["user_impersonation"]  # advertised in metadata, never enforced
//
// Sessions:
//
//	sessions:
//	  stateful: false
//	  idle_ttl: "30m"
//
// Database:
//
//	database:
//	  path: "/var/lib/tavola/gateway.db"
//	  seed_path: ""                   # optional seed.toml fixture
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - database.path presence
//   - tool_timeout positive
//   - clock skew within the 5 minute cap
//   - stale window at least as long as the cache TTL
//   - with enforce set: public_url, issuer, JWKS URL, and non-empty
//     audience and caller allowlists
//
// Enforcement misconfiguration is fatal at startup; the gateway never
// falls back to serving unauthenticated when auth.enforce is set.
package config
