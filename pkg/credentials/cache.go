package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// expiryMargin is subtracted from a token's exp claim so a token is never
// handed out moments before the remote rejects it.
const expiryMargin = 30 * time.Second

// CachingTokenSource wraps another source with a short-lived cache keyed on
// the token's own exp claim. Tokens that are not JWTs (or carry no exp) are
// never cached, so the wrapped source's observable behavior is preserved.
type CachingTokenSource struct {
	source TokenSource

	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

// NewCachingTokenSource wraps source with caching.
func NewCachingTokenSource(source TokenSource) *CachingTokenSource {
	return &CachingTokenSource{
		source: source,
		now:    time.Now,
	}
}

// Token returns the cached token while it remains valid, refreshing from the
// wrapped source otherwise.
func (c *CachingTokenSource) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	token, err := c.source.Token(ctx)
	if err != nil {
		return "", err
	}

	c.token = ""
	c.expiry = time.Time{}
	if exp, ok := tokenExpiry(token); ok {
		expiry := exp.Add(-expiryMargin)
		if c.now().Before(expiry) {
			c.token = token
			c.expiry = expiry
		}
	}

	return token, nil
}

// tokenExpiry reads the exp claim without verifying the signature. The token
// is opaque to this codebase; expiry is the only claim consulted.
func tokenExpiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
