package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

const defaultJWKSTTL = 15 * time.Minute

// KeySource resolves a verification key by key id.
type KeySource interface {
	GetKey(ctx context.Context, kid string) (jwk.Key, error)
}

// JWKSCache fetches a JSON Web Key Set over HTTP and keeps it for ttl. An
// unknown kid forces one refresh so rotated keys are picked up early.
type JWKSCache struct {
	url        string
	ttl        time.Duration
	httpClient *http.Client

	mu        sync.RWMutex
	set       jwk.Set
	expiresAt time.Time

	// refreshMu serializes fetches so a burst of misses makes one request.
	refreshMu sync.Mutex
}

var _ KeySource = (*JWKSCache)(nil)

func NewJWKSCache(url string, ttl time.Duration, httpClient *http.Client) *JWKSCache {
	if ttl <= 0 {
		ttl = defaultJWKSTTL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSCache{url: url, ttl: ttl, httpClient: httpClient}
}

func (c *JWKSCache) lookup(kid string, now time.Time) (jwk.Key, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.set == nil {
		return nil, false, false
	}
	key, ok := c.set.LookupKeyID(kid)
	return key, ok, now.Before(c.expiresAt)
}

func (c *JWKSCache) GetKey(ctx context.Context, kid string) (jwk.Key, error) {
	if key, ok, fresh := c.lookup(kid, time.Now()); ok && fresh {
		return key, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited.
	if key, ok, fresh := c.lookup(kid, time.Now()); ok && fresh {
		return key, nil
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok, _ := c.lookup(kid, time.Now()); ok {
		return key, nil
	}
	return nil, fmt.Errorf("kid %q: %w", kid, ErrJWKSKeyNotFound)
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	log := logger.GetLogger().Named("jwks")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create JWKS request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS from %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read JWKS response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	c.mu.Lock()
	c.set = set
	c.expiresAt = time.Now().Add(c.ttl)
	c.mu.Unlock()

	log.Infow("JWKS refreshed", "url", c.url, "keys", set.Len())
	return nil
}
