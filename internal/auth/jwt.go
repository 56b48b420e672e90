// Package auth verifies the bearer tokens issued by the identity provider.
// HS256 tokens are checked against the shared secret; RS256/ES256 tokens are
// checked against the provider's JWKS.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Algorithm constants for JWT signing methods
const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
	AlgorithmES256 = "ES256"
)

var (
	// ErrInvalidToken wraps every verification failure
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingSubject is returned for tokens without a user id
	ErrMissingSubject = errors.New("missing 'sub' claim")
	// ErrNoVerificationKey is returned when neither a secret nor a JWKS is configured
	ErrNoVerificationKey = errors.New("no token verification key configured")
)

// Claims are the token claims the vote service reads
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// KeyFetcher resolves the public key for an asymmetric token's kid.
// Returns any to support both RSA and ECDSA keys.
type KeyFetcher interface {
	FetchPublicKey(ctx context.Context, kid string) (any, error)
}

// Config configures a Verifier
type Config struct {
	// Keys resolves RS256/ES256 keys. Optional when only HS256 is used.
	Keys KeyFetcher
	// Secret verifies HS256 tokens. Optional when only JWKS is used.
	Secret   []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Verifier checks token signatures and claims
type Verifier struct {
	keys     KeyFetcher
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
}

// NewVerifier creates a verifier. At least one of Secret and Keys must be set.
func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Secret) == 0 && cfg.Keys == nil {
		return nil, ErrNoVerificationKey
	}
	return &Verifier{
		keys:     cfg.Keys,
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
	}, nil
}

// Verify validates the token's signature, expiry, issuer and audience and
// returns its claims. A "Bearer " prefix is accepted.
//
// Algorithm confusion is blocked by the header: a token carrying a kid must be
// asymmetric, and HS256 is only accepted without a kid.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	tokenString = stripBearerPrefix(tokenString)

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{AlgorithmHS256, AlgorithmRS256, AlgorithmES256}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if kid != "" {
				return nil, errors.New("HS256 tokens with kid must use asymmetric verification")
			}
			if len(v.secret) == 0 {
				return nil, errors.New("HS256 verification not configured")
			}
			return v.secret, nil
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			if v.keys == nil {
				return nil, errors.New("asymmetric verification not configured")
			}
			if kid == "" {
				return nil, errors.New("asymmetric token is missing kid")
			}
			return v.keys.FetchPublicKey(ctx, kid)
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingSubject)
	}
	return claims, nil
}

// stripBearerPrefix removes the "Bearer " prefix from a token string
func stripBearerPrefix(tokenString string) string {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	return strings.TrimSpace(tokenString)
}
