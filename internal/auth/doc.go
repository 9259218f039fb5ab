// Package auth implements the gateway's authentication and authorization.
//
// # Pipeline
//
// Every protected request passes through three stages:
//
//  1. Validator — cryptographic token validation: algorithm allow-list,
//     signature verification against the resolved signing key, and
//     exp/nbf checks with a bounded clock-skew leeway.
//  2. Authorizer — policy checks over the validated claims, run in order
//     with short-circuit on first failure: issuer match, audience
//     intersection with the configured audience set, and caller membership
//     in the configured caller allowlist.
//  3. Gate — the HTTP middleware tying the two together. Denials are
//     indistinguishable on the wire: one generic 401 body for every reason,
//     with the reason recorded in server logs only.
//
// # Caller identity
//
// The caller identifier is the appid claim (azp on v2 tokens), falling back
// to sub for non-application principals. The allowlist is a true set: the
// design never assumes exactly one or exactly two callers.
//
// On success the resolved Identity travels to handlers via WithIdentity and
// FromContext.
package auth
