package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func secretTable(secrets map[string][]byte) func(string) ([]byte, bool) {
	return func(identity string) ([]byte, bool) {
		s, ok := secrets[identity]
		return s, ok
	}
}

func TestTrustTokenRoundTrip(t *testing.T) {
	secret := []byte("worker-7-signing-secret")
	token, err := IssueTrustToken("7", secret, time.Minute)
	require.NoError(t, err)

	identity, ok := ValidateTrustToken(token, secretTable(map[string][]byte{"7": secret}))
	require.True(t, ok)
	assert.Equal(t, "7", identity)
}

func TestTrustTokenWrongSecret(t *testing.T) {
	token, err := IssueTrustToken("7", []byte("worker-7-secret"), time.Minute)
	require.NoError(t, err)

	// The claimed identity resolves, but to a different secret.
	_, ok := ValidateTrustToken(token, secretTable(map[string][]byte{"7": []byte("worker-9-secret")}))
	assert.False(t, ok)
}

func TestTrustTokenUnknownIdentity(t *testing.T) {
	token, err := IssueTrustToken("42", []byte("some-secret"), time.Minute)
	require.NoError(t, err)

	_, ok := ValidateTrustToken(token, secretTable(map[string][]byte{"7": []byte("other")}))
	assert.False(t, ok)
}

func TestTrustTokenExpired(t *testing.T) {
	secret := []byte("worker-7-secret")
	token, err := IssueTrustToken("7", secret, -time.Minute)
	require.NoError(t, err)

	_, ok := ValidateTrustToken(token, secretTable(map[string][]byte{"7": secret}))
	assert.False(t, ok)
}

func TestTrustTokenGarbage(t *testing.T) {
	lookups := 0
	_, ok := ValidateTrustToken("not.a.jwt", func(string) ([]byte, bool) {
		lookups++
		return []byte("secret"), true
	})
	assert.False(t, ok)
	assert.Zero(t, lookups, "malformed tokens must fail before any secret lookup")
}
