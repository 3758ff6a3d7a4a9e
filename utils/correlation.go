package utils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	// KeyLength is sized so guessing a live (campaign, target) pair across a
	// campaign's validity window is infeasible: 62^8 per key, and both keys
	// must match together.
	KeyLength = 8

	keyCharset     = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxKeyAttempts = 100
)

// ErrKeySpaceExhausted is returned when collision retries run out. With an
// 8-char key this only happens if the caller's existing set is absurdly
// large or the entropy source is broken.
var ErrKeySpaceExhausted = errors.New("could not generate a unique correlation key")

func randomKey() (string, error) {
	buf := make([]byte, KeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = keyCharset[int(b)%len(keyCharset)]
	}
	return string(buf), nil
}

func newKey(existing map[string]struct{}) (string, error) {
	for i := 0; i < maxKeyAttempts; i++ {
		key, err := randomKey()
		if err != nil {
			return "", err
		}
		if _, taken := existing[key]; !taken {
			return key, nil
		}
	}
	return "", ErrKeySpaceExhausted
}

// NewCampaignKey returns a fresh campaign key absent from existing (the set
// of keys held by currently-running campaigns). The set is caller-supplied;
// there is no shared generator state, so concurrent calls with disjoint sets
// are safe.
func NewCampaignKey(existing map[string]struct{}) (string, error) {
	return newKey(existing)
}

// NewTargetKey returns a fresh target key absent from existing (one
// campaign's target-key set).
func NewTargetKey(existing map[string]struct{}) (string, error) {
	return newKey(existing)
}

func isKey(s string) bool {
	if len(s) != KeyLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !strings.ContainsRune(keyCharset, rune(s[i])) {
			return false
		}
	}
	return true
}

// EncodeURLParams produces the opaque query fragment embedded in lure links
// and tracking pixels. Both keys travel concatenated in "ref"; "s" and "v"
// are per-link random noise so the parameter space cannot be enumerated from
// a single captured URL.
func EncodeURLParams(campaignKey, targetKey string) string {
	nonce := make([]byte, 6)
	_, _ = rand.Read(nonce)

	v := url.Values{}
	v.Set("ref", campaignKey+targetKey)
	v.Set("s", uuid.NewString())
	v.Set("v", hex.EncodeToString(nonce))
	return v.Encode()
}

// SplitRef splits a combined ref value back into its key pair. Input is
// attacker-controlled: any malformed, truncated or oversized value yields
// ok=false, never a panic.
func SplitRef(ref string) (campaignKey, targetKey string, ok bool) {
	if len(ref) != 2*KeyLength {
		return "", "", false
	}
	campaignKey, targetKey = ref[:KeyLength], ref[KeyLength:]
	if !isKey(campaignKey) || !isKey(targetKey) {
		return "", "", false
	}
	return campaignKey, targetKey, true
}

// DecodeURLParams parses a raw query string back into its key pair. The decoy
// params are ignored entirely; only ref carries state.
func DecodeURLParams(raw string) (campaignKey, targetKey string, ok bool) {
	vals, err := url.ParseQuery(raw)
	if err != nil {
		return "", "", false
	}
	return SplitRef(vals.Get("ref"))
}
