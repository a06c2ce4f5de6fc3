package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the payload carried in every access token. Ver pins the
// token to the client's token_version; bumping the version on any client
// update is the only revocation mechanism.
type TokenClaims struct {
	Scope string `json:"scope"`
	Ver   int    `json:"ver"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access tokens with a shared secret.
type TokenCodec struct {
	secretKey []byte
	method    jwt.SigningMethod
	expiry    time.Duration
}

// NewTokenCodec builds a codec for the configured HMAC algorithm.
func NewTokenCodec(secretKey, algorithm string, expiry time.Duration) (*TokenCodec, error) {
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}
	return &TokenCodec{
		secretKey: []byte(secretKey),
		method:    method,
		expiry:    expiry,
	}, nil
}

// Expiry returns the configured token lifetime.
func (c *TokenCodec) Expiry() time.Duration {
	return c.expiry
}

// Sign issues a token for the client with sub, scope, ver, iat, and exp claims.
func (c *TokenCodec) Sign(clientID, scopes string, tokenVersion int, now time.Time) (string, error) {
	claims := TokenClaims{
		Scope: scopes,
		Ver:   tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.expiry)),
		},
	}
	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secretKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses the token, checking signature, algorithm, and expiry.
func (c *TokenCodec) Verify(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return c.secretKey, nil },
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	return claims, nil
}
