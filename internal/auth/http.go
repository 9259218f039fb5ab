// ABOUTME: HTTP auth gate middleware protecting the MCP endpoint
// ABOUTME: Validates bearer tokens, authorizes claims, and returns uniform 401s on denial

package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// unauthorizedBody is the single response body for every denial. Keeping it
// identical for all reasons avoids leaking which check failed.
const unauthorizedBody = `{"error":"unauthorized"}`

// Gate intercepts requests to protected endpoints. It validates the bearer
// token, authorizes the claims, and forwards the caller identity via context.
type Gate struct {
	validator   *Validator
	authorizer  *Authorizer
	metadataURL string
	enforce     bool
	logger      *slog.Logger
}

// GateConfig holds configuration for a Gate.
type GateConfig struct {
	Validator  *Validator
	Authorizer *Authorizer
	// MetadataURL is advertised in the WWW-Authenticate header so clients
	// without a token can discover how to obtain one.
	MetadataURL string
	// Enforce controls whether the gate checks requests at all. When false
	// every request passes through without an identity.
	Enforce bool
	Logger  *slog.Logger
}

// NewGate creates an auth gate.
func NewGate(cfg GateConfig) (*Gate, error) {
	if cfg.Enforce && (cfg.Validator == nil || cfg.Authorizer == nil) {
		return nil, errors.New("validator and authorizer required when enforcement is enabled")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		validator:   cfg.Validator,
		authorizer:  cfg.Authorizer,
		metadataURL: cfg.MetadataURL,
		enforce:     cfg.Enforce,
		logger:      logger.With("component", "authgate"),
	}, nil
}

// Middleware wraps a handler with the auth gate. Denied requests receive the
// same generic unauthorized response regardless of which check failed; the
// concrete reason is logged internally only.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.enforce {
			next.ServeHTTP(w, r)
			return
		}

		decision, identity := g.gate(r)
		if !decision.Allowed {
			g.logger.Info("request denied",
				"reason", string(decision.Reason),
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
			g.writeUnauthorized(w)
			return
		}

		g.logger.Debug("request allowed", "caller_id", decision.CallerID, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// gate runs token extraction, validation, and authorization for one request.
func (g *Gate) gate(r *http.Request) (Decision, *Identity) {
	raw, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return deny(ReasonMissingToken), nil
	}

	claims, err := g.validator.Validate(r.Context(), raw)
	if err != nil {
		return deny(validationReason(err)), nil
	}

	decision := g.authorizer.Authorize(claims)
	if !decision.Allowed {
		return decision, nil
	}

	return decision, &Identity{
		CallerID: decision.CallerID,
		Subject:  claims.Subject,
		TenantID: claims.TenantID,
	}
}

// writeUnauthorized sends the uniform 401 response. The WWW-Authenticate
// header points clients at the protected-resource metadata per RFC 9728.
func (g *Gate) writeUnauthorized(w http.ResponseWriter) {
	if g.metadataURL != "" {
		w.Header().Set("WWW-Authenticate",
			fmt.Sprintf(`Bearer resource_metadata=%q`, g.metadataURL))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintln(w, unauthorizedBody)
}

// validationReason maps a token validation error to a denial reason.
func validationReason(err error) Reason {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return ReasonExpired
	case errors.Is(err, ErrSignatureInvalid):
		return ReasonSignatureInvalid
	case errors.Is(err, ErrKeyUnresolvable):
		return ReasonSignatureInvalid
	default:
		return ReasonMalformedToken
	}
}

// extractBearerToken extracts a bearer token from the Authorization header.
func extractBearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
