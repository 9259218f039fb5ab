// ABOUTME: Claims-based authorization over validated bearer tokens
// ABOUTME: Runs an ordered chain of named checks and yields an allow/deny decision

package auth

import (
	"errors"
	"time"
)

// Claims holds the token claims the gateway authorizes on.
type Claims struct {
	Issuer    string
	Audience  []string
	Subject   string
	AppID     string // appid (v1) or azp (v2) claim
	TenantID  string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// CallerID returns the caller application identifier, falling back to the
// subject for non-application principals.
func (c *Claims) CallerID() string {
	if c.AppID != "" {
		return c.AppID
	}
	return c.Subject
}

// Reason identifies why a request was denied. Reasons are logged internally
// and never surfaced to the caller.
type Reason string

// Denial reasons
const (
	ReasonMissingToken     Reason = "missing-token"
	ReasonMalformedToken   Reason = "malformed-token"
	ReasonExpired          Reason = "expired"
	ReasonSignatureInvalid Reason = "signature-invalid"
	ReasonIssuerMismatch   Reason = "issuer-mismatch"
	ReasonAudienceMismatch Reason = "audience-mismatch"
	ReasonCallerNotAllowed Reason = "caller-not-allowed"
)

// Decision is the result of gating a request.
type Decision struct {
	Allowed  bool
	CallerID string // set when allowed
	Reason   Reason // set when denied
}

// allow builds an allowed decision for the given caller.
func allow(callerID string) Decision {
	return Decision{Allowed: true, CallerID: callerID}
}

// deny builds a denied decision with the given reason.
func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// claimCheck is one named predicate over validated claims.
// An empty Reason means the check passed.
type claimCheck struct {
	name  string
	check func(*Claims) Reason
}

// AuthorizerConfig holds configuration for an Authorizer.
type AuthorizerConfig struct {
	// Issuer is the exact expected iss value for the configured tenant.
	Issuer string
	// Audiences is the set of acceptable aud values (the gateway's own
	// identifier, often in more than one equivalent form).
	Audiences []string
	// AllowedCallers is the set of caller application identifiers permitted
	// to invoke the gateway. Size >= 1; never assumed to be exactly one
	// or two entries.
	AllowedCallers []string
}

// Authorizer applies policy checks over extracted claims.
// Checks run in order and short-circuit at the first failure.
type Authorizer struct {
	issuer    string
	audiences map[string]struct{}
	callers   map[string]struct{}
	checks    []claimCheck
}

// NewAuthorizer creates an authorizer from the configured policy sets.
func NewAuthorizer(cfg AuthorizerConfig) (*Authorizer, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if len(cfg.Audiences) == 0 {
		return nil, errors.New("at least one audience is required")
	}
	if len(cfg.AllowedCallers) == 0 {
		return nil, errors.New("at least one allowed caller is required")
	}

	a := &Authorizer{
		issuer:    cfg.Issuer,
		audiences: make(map[string]struct{}, len(cfg.Audiences)),
		callers:   make(map[string]struct{}, len(cfg.AllowedCallers)),
	}
	for _, aud := range cfg.Audiences {
		a.audiences[aud] = struct{}{}
	}
	for _, caller := range cfg.AllowedCallers {
		a.callers[caller] = struct{}{}
	}

	a.checks = []claimCheck{
		{name: "issuer", check: a.checkIssuer},
		{name: "audience", check: a.checkAudience},
		{name: "caller", check: a.checkCaller},
	}
	return a, nil
}

// Authorize runs the check chain over the claims. The decision's reason
// reflects the first failing check.
func (a *Authorizer) Authorize(claims *Claims) Decision {
	for _, c := range a.checks {
		if reason := c.check(claims); reason != "" {
			return deny(reason)
		}
	}
	return allow(claims.CallerID())
}

func (a *Authorizer) checkIssuer(claims *Claims) Reason {
	if claims.Issuer != a.issuer {
		return ReasonIssuerMismatch
	}
	return ""
}

func (a *Authorizer) checkAudience(claims *Claims) Reason {
	for _, aud := range claims.Audience {
		if _, ok := a.audiences[aud]; ok {
			return ""
		}
	}
	return ReasonAudienceMismatch
}

func (a *Authorizer) checkCaller(claims *Claims) Reason {
	if _, ok := a.callers[claims.CallerID()]; ok {
		return ""
	}
	return ReasonCallerNotAllowed
}
