package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"Sutian/internal/auth"
)

// genjwks generates an ES256 keypair for local development of JWKS token
// verification. The public half is written as a JWKS document that JWKS_URL can
// point at; the private half can mint test tokens.
//
// Usage:
//
//	go run ./cmd/genjwks -out dev-jwks.json -key dev-private-jwk.json
//	go run ./cmd/genjwks -key dev-private-jwk.json -token <user-uuid>
func main() {
	outPath := flag.String("out", "dev-jwks.json", "where to write the public JWKS")
	keyPath := flag.String("key", "dev-private-jwk.json", "private JWK file (written when generating, read with -token)")
	kid := flag.String("kid", "sutian-dev-key", "key id")
	subject := flag.String("token", "", "mint a token for this user id with an existing private key")
	issuer := flag.String("issuer", "", "iss claim for minted tokens")
	audience := flag.String("audience", "authenticated", "aud claim for minted tokens")
	ttl := flag.Duration("ttl", 24*time.Hour, "lifetime of minted tokens")
	flag.Parse()

	if *subject != "" {
		token, err := mintToken(*keyPath, *subject, *issuer, *audience, *ttl)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(token)
		return
	}

	if err := generate(*outPath, *keyPath, *kid); err != nil {
		log.Fatalf("Failed to generate keypair: %v", err)
	}
	fmt.Printf("ES256 keypair generated.\n  public JWKS: %s\n  private key: %s (keep it out of version control)\n", *outPath, *keyPath)
}

func generate(outPath, keyPath, kid string) error {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	private, err := jwk.FromRaw(privateKey)
	if err != nil {
		return fmt.Errorf("create JWK from private key: %w", err)
	}
	for k, v := range map[string]any{
		jwk.KeyIDKey:     kid,
		jwk.AlgorithmKey: auth.AlgorithmES256,
		jwk.KeyUsageKey:  "sig",
	} {
		if err := private.Set(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}

	public, err := private.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(public); err != nil {
		return fmt.Errorf("build JWKS: %w", err)
	}

	privateJSON, err := json.MarshalIndent(private, "", "  ")
	if err != nil {
		return err
	}
	publicJSON, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}

	if err := os.WriteFile(keyPath, privateJSON, 0o600); err != nil {
		return err
	}
	return os.WriteFile(outPath, publicJSON, 0o644)
}

func mintToken(keyPath, subject, issuer, audience string, ttl time.Duration) (string, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return "", err
	}
	key, err := jwk.ParseKey(data)
	if err != nil {
		return "", fmt.Errorf("parse private JWK: %w", err)
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return "", fmt.Errorf("convert private JWK: %w", err)
	}
	privateKey, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return "", fmt.Errorf("private JWK is %T, want an EC private key", raw)
	}

	now := time.Now()
	claims := &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: "authenticated",
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = key.KeyID()
	return token.SignedString(privateKey)
}
