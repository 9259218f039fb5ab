// ABOUTME: Bearer token validation against the identity provider's signing keys
// ABOUTME: Verifies algorithm, signature, and validity window, then extracts claims

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tavola/tavola-gateway/internal/keyset"
)

// Token validation errors
var (
	ErrMalformedToken       = errors.New("malformed token")
	ErrSignatureInvalid     = errors.New("token signature invalid")
	ErrTokenExpired         = errors.New("token outside validity window")
	ErrKeyUnresolvable      = errors.New("token signing key unresolvable")
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")
)

// MaxClockSkew caps the configurable leeway for exp/nbf checks.
const MaxClockSkew = 5 * time.Minute

// allowedAlgorithms is the explicit signing algorithm allow-list.
// Restricting to asymmetric algorithms defends against algorithm-confusion
// attacks (e.g. an HS256 token signed with the public key as the secret).
var allowedAlgorithms = map[string]bool{
	"RS256": true,
	"RS384": true,
	"RS512": true,
	"ES256": true,
	"ES384": true,
	"ES512": true,
}

// KeyResolver resolves a token's key ID to a verification key.
type KeyResolver interface {
	Resolve(ctx context.Context, kid string) (any, error)
}

// Validator validates raw bearer tokens and extracts their claims.
type Validator struct {
	resolver  KeyResolver
	clockSkew time.Duration
}

// NewValidator creates a token validator. clockSkew is clamped to MaxClockSkew.
func NewValidator(resolver KeyResolver, clockSkew time.Duration) (*Validator, error) {
	if resolver == nil {
		return nil, errors.New("key resolver is required")
	}
	if clockSkew < 0 {
		return nil, errors.New("clock skew must not be negative")
	}
	if clockSkew > MaxClockSkew {
		clockSkew = MaxClockSkew
	}
	return &Validator{resolver: resolver, clockSkew: clockSkew}, nil
}

// Validate verifies the raw token and returns its claims.
//
// The header is parsed first to obtain the algorithm and key ID; tokens with
// an algorithm off the allow-list are rejected before any key lookup.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	unverified, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	alg, _ := unverified.Header["alg"].(string)
	if !allowedAlgorithms[alg] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}

	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid header", ErrMalformedToken)
	}

	key, err := v.resolver.Resolve(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnresolvable, err)
	}

	token, err := jwt.Parse(raw,
		func(t *jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{alg}),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected claims type", ErrMalformedToken)
	}

	return extractClaims(mapClaims)
}

// extractClaims builds a Claims struct from verified JWT map claims.
func extractClaims(mc jwt.MapClaims) (*Claims, error) {
	claims := &Claims{}

	iss, err := mc.GetIssuer()
	if err != nil || iss == "" {
		return nil, fmt.Errorf("%w: missing iss claim", ErrMalformedToken)
	}
	claims.Issuer = iss

	aud, err := mc.GetAudience()
	if err != nil || len(aud) == 0 {
		return nil, fmt.Errorf("%w: missing aud claim", ErrMalformedToken)
	}
	claims.Audience = aud

	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}

	// appid is the v1 application id claim, azp its v2 equivalent.
	if appid, ok := mc["appid"].(string); ok && appid != "" {
		claims.AppID = appid
	} else if azp, ok := mc["azp"].(string); ok && azp != "" {
		claims.AppID = azp
	}

	if tid, ok := mc["tid"].(string); ok {
		claims.TenantID = tid
	}

	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Time
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Time
	}

	return claims, nil
}

// ensure the concrete resolver satisfies the interface
var _ KeyResolver = (*keyset.Resolver)(nil)
