package realtime

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type JWKS struct {
	Keys []JSONWebKey `json:"keys"`
}

type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`

	// RSA fields
	N string `json:"n"`
	E string `json:"e"`

	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// Authenticator validates dashboard tokens with a shared HS256 secret,
// a JWKS document, or both.
type Authenticator struct {
	secret []byte

	mu   sync.RWMutex
	jwks *JWKS
}

func NewAuthenticator(secret string, jwks *JWKS) *Authenticator {
	a := &Authenticator{jwks: jwks}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// SetJWKS swaps the key set, e.g. after a refresh
func (a *Authenticator) SetJWKS(jwks *JWKS) {
	a.mu.Lock()
	a.jwks = jwks
	a.mu.Unlock()
}

func FetchJWKS(ctx context.Context, jwksURL string) (*JWKS, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, err
	}
	return &jwks, nil
}

// VerifyToken parses and validates a token, returning its claims
func (a *Authenticator) VerifyToken(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, a.keyFunc,
		jwt.WithValidMethods([]string{"HS256", "RS256", "ES256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if token.Method.Alg() == "HS256" {
		if a.secret == nil {
			return nil, errors.New("HS256 tokens not accepted")
		}
		return a.secret, nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("missing kid")
	}

	a.mu.RLock()
	jwks := a.jwks
	a.mu.RUnlock()
	if jwks == nil {
		return nil, fmt.Errorf("JWKS not loaded")
	}

	for _, key := range jwks.Keys {
		if key.Kid != kid {
			continue
		}
		switch token.Method.Alg() {
		case "RS256":
			return key.RSAPublicKey()
		case "ES256":
			return key.ECDSAPublicKey()
		default:
			return nil, fmt.Errorf("unsupported alg: %s", token.Method.Alg())
		}
	}

	return nil, fmt.Errorf("key not found")
}

func (j *JSONWebKey) RSAPublicKey() (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, err
	}

	e := 0
	for _, b := range eBytes {
		e = e<<8 + int(b)
	}

	pub := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}
	return pub, nil
}

func (j *JSONWebKey) ECDSAPublicKey() (*ecdsa.PublicKey, error) {
	if j.Kty != "EC" || j.Crv != "P-256" {
		return nil, fmt.Errorf("unsupported EC key type or curve")
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(j.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(j.Y)
	if err != nil {
		return nil, err
	}

	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}
	return pub, nil
}

func claimString(claims jwt.MapClaims, key string) string {
	if val, ok := claims[key].(string); ok {
		return val
	}
	return ""
}
