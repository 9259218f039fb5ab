// ABOUTME: Signing-key resolver that fetches and caches the identity provider's JWKS
// ABOUTME: Coalesces concurrent refreshes and serves a bounded-staleness cache on fetch failure

package keyset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver errors
var (
	// ErrKeyNotFound indicates the key ID is not present in the provider's JWKS.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrUnavailable indicates the JWKS could not be fetched and the cache is
	// too stale to trust. Verification must fail closed.
	ErrUnavailable = errors.New("signing keys unavailable")
)

const (
	// fetchTimeout bounds a single JWKS fetch attempt.
	fetchTimeout = 10 * time.Second
	// fetchAttempts is the number of tries per refresh before giving up.
	fetchAttempts = 3
	// fetchBackoff is the initial delay between fetch attempts.
	fetchBackoff = 250 * time.Millisecond
	// missCooldown limits forced refreshes for a kid that stays unknown,
	// so a flood of tokens with a bogus kid cannot hammer the provider.
	missCooldown = 30 * time.Second
)

// Config holds configuration for a Resolver.
type Config struct {
	JWKSURL  string
	CacheTTL time.Duration
	// StaleFor is how long a previously fetched key set may keep serving
	// after refreshes start failing. Past this window resolution fails closed.
	StaleFor   time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Resolver fetches the identity provider's JWKS and resolves key IDs to
// verification keys. It is safe for concurrent use.
type Resolver struct {
	jwksURL    string
	cacheTTL   time.Duration
	staleFor   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	// group coalesces concurrent refreshes into a single outstanding fetch
	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]any // kid -> *rsa.PublicKey or *ecdsa.PublicKey
	fetchedAt time.Time
	misses    map[string]time.Time // kid -> last forced refresh that still missed
}

// NewResolver creates a resolver for the given JWKS endpoint.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.JWKSURL == "" {
		return nil, errors.New("jwks url is required")
	}
	if cfg.CacheTTL <= 0 {
		return nil, errors.New("cache ttl must be positive")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	staleFor := cfg.StaleFor
	if staleFor < cfg.CacheTTL {
		staleFor = cfg.CacheTTL
	}

	return &Resolver{
		jwksURL:    cfg.JWKSURL,
		cacheTTL:   cfg.CacheTTL,
		staleFor:   staleFor,
		httpClient: httpClient,
		logger:     logger.With("component", "keyset"),
		keys:       make(map[string]any),
		misses:     make(map[string]time.Time),
	}, nil
}

// WarmUp performs the initial JWKS fetch. The gateway must not accept
// traffic against an empty key cache, so startup calls this before listening.
func (r *Resolver) WarmUp(ctx context.Context) error {
	if err := r.refresh(ctx, time.Time{}); err != nil {
		return fmt.Errorf("warming up key cache: %w", err)
	}
	return nil
}

// Resolve returns the verification key for the given key ID.
//
// Cache misses trigger at most one coalesced refresh followed by a single
// retry of the lookup. A kid that stays unknown after a refresh is remembered
// for a cooldown period and fails fast without another fetch.
func (r *Resolver) Resolve(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, fmt.Errorf("%w: empty key id", ErrKeyNotFound)
	}

	r.mu.RLock()
	key, ok := r.keys[kid]
	seen := r.fetchedAt
	age := time.Since(r.fetchedAt)
	lastMiss, missed := r.misses[kid]
	r.mu.RUnlock()

	if ok && age < r.cacheTTL {
		return key, nil
	}

	// Known key, expired cache: try to refresh but fall back to the cached
	// key within the staleness window.
	if ok {
		if err := r.refresh(ctx, seen); err != nil {
			if age < r.staleFor {
				r.logger.Warn("serving stale signing key", "kid", kid, "age", age, "error", err)
				return key, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return r.lookup(kid)
	}

	// Unknown key: at most one forced refresh per cooldown.
	if missed && time.Since(lastMiss) < missCooldown {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}

	if err := r.refresh(ctx, seen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	key, err := r.lookup(kid)
	if err != nil {
		r.mu.Lock()
		r.misses[kid] = time.Now()
		r.mu.Unlock()
	}
	return key, err
}

// lookup reads a key from the cache without triggering a refresh.
func (r *Resolver) lookup(kid string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// refresh fetches the JWKS and swaps the cache. Concurrent callers coalesce
// into a single outstanding fetch via singleflight. seen is the fetchedAt
// the caller observed; if the cache was refreshed since, the fetch is skipped.
func (r *Resolver) refresh(ctx context.Context, seen time.Time) error {
	_, err, _ := r.group.Do("jwks", func() (any, error) {
		// Another caller may have refreshed while we waited for the flight.
		r.mu.RLock()
		refreshed := r.fetchedAt.After(seen)
		r.mu.RUnlock()
		if refreshed {
			return nil, nil
		}

		keys, err := r.fetch(ctx)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.keys = keys
		r.fetchedAt = time.Now()
		r.misses = make(map[string]time.Time)
		r.mu.Unlock()

		r.logger.Debug("signing keys refreshed", "count", len(keys))
		return nil, nil
	})
	return err
}

// fetch retrieves and parses the JWKS with bounded retries and backoff.
func (r *Resolver) fetch(ctx context.Context) (map[string]any, error) {
	var lastErr error
	backoff := fetchBackoff

	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		keys, err := r.fetchOnce(ctx)
		if err == nil {
			return keys, nil
		}
		lastErr = err
		r.logger.Warn("jwks fetch failed", "attempt", attempt+1, "error", err)
	}

	return nil, lastErr
}

// fetchOnce performs a single JWKS fetch attempt.
func (r *Resolver) fetchOnce(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building jwks request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading jwks response: %w", err)
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parsing jwks: %w", err)
	}

	keys := make(map[string]any, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.KeyID == "" {
			continue
		}
		key, err := jwk.publicKey()
		if err != nil {
			// Skip keys we cannot use; the provider may publish types
			// we never verify with.
			r.logger.Debug("skipping unusable jwk", "kid", jwk.KeyID, "kty", jwk.KeyType, "error", err)
			continue
		}
		keys[jwk.KeyID] = key
	}

	if len(keys) == 0 {
		return nil, errors.New("jwks contained no usable keys")
	}
	return keys, nil
}
