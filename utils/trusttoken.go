package utils

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TrustClaims is the claim set of an inter-service trust token. Tokens are
// minted per call, not per session, so the TTL stays in the minutes range.
type TrustClaims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// IssueTrustToken signs {identity, expiry} with the identity's own shared
// secret.
func IssueTrustToken(identity string, secret []byte, ttl time.Duration) (string, error) {
	claims := &TrustClaims{
		Identity: identity,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateTrustToken verifies a token in two steps: the claimed identity is
// read without verification, that identity's secret is looked up out of
// band, and the signature and expiry are then checked against it. Each
// worker has a distinct secret, so one leaked secret cannot forge tokens for
// another identity. All failures collapse to ok=false; callers never learn
// whether the signature, the expiry or the identity was the problem.
func ValidateTrustToken(tokenString string, lookupSecret func(identity string) ([]byte, bool)) (string, bool) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	unverified := &TrustClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, unverified); err != nil {
		return "", false
	}
	if unverified.Identity == "" {
		return "", false
	}

	secret, found := lookupSecret(unverified.Identity)
	if !found {
		return "", false
	}

	token, err := parser.ParseWithClaims(tokenString, &TrustClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}

	claims, ok := token.Claims.(*TrustClaims)
	if !ok || claims.Identity != unverified.Identity {
		return "", false
	}
	return claims.Identity, true
}
