package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// JWKSFetcher resolves public keys from a JWKS URL. The key set is cached and
// refreshed in the background; an unknown kid forces one refresh.
type JWKSFetcher struct {
	cache *jwk.Cache
	url   string
}

// NewJWKSFetcher registers url with a jwk cache bound to ctx. The first fetch
// happens here so misconfiguration fails at startup.
func NewJWKSFetcher(ctx context.Context, url string, minRefresh time.Duration) (*JWKSFetcher, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(url, jwk.WithMinRefreshInterval(minRefresh)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS url: %w", err)
	}
	if _, err := cache.Refresh(ctx, url); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return &JWKSFetcher{cache: cache, url: url}, nil
}

// FetchPublicKey implements KeyFetcher
func (f *JWKSFetcher) FetchPublicKey(ctx context.Context, kid string) (any, error) {
	set, err := f.cache.Get(ctx, f.url)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		// Key rotated since the last refresh
		set, err = f.cache.Refresh(ctx, f.url)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		if key, ok = set.LookupKeyID(kid); !ok {
			return nil, fmt.Errorf("key %q not found in JWKS", kid)
		}
	}

	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, fmt.Errorf("failed to convert JWK %q: %w", kid, err)
	}
	return raw, nil
}
