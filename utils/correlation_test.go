package utils

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCampaignKeyAvoidsExisting(t *testing.T) {
	existing := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		key, err := NewCampaignKey(existing)
		require.NoError(t, err)
		assert.Len(t, key, KeyLength)
		_, dup := existing[key]
		assert.False(t, dup, "generated key collided with existing set")
		existing[key] = struct{}{}
	}
}

func TestKeyCharset(t *testing.T) {
	key, err := NewTargetKey(nil)
	require.NoError(t, err)
	for _, r := range key {
		assert.True(t, strings.ContainsRune(keyCharset, r), "unexpected rune %q", r)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	params := EncodeURLParams("abcd1234", "WXYZ9876")

	campaignKey, targetKey, ok := DecodeURLParams(params)
	require.True(t, ok)
	assert.Equal(t, "abcd1234", campaignKey)
	assert.Equal(t, "WXYZ9876", targetKey)
}

func TestEncodeIncludesDecoys(t *testing.T) {
	vals, err := url.ParseQuery(EncodeURLParams("abcd1234", "WXYZ9876"))
	require.NoError(t, err)
	assert.NotEmpty(t, vals.Get("s"))
	assert.NotEmpty(t, vals.Get("v"))
}

func TestDecodeURLParamsMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"missing ref", "s=foo&v=bar"},
		{"ref too short", "ref=abcd1234"},
		{"ref too long", "ref=abcd1234WXYZ9876extra"},
		{"bad charset", "ref=abcd1234WXYZ98!6"},
		{"unparseable query", "ref=%zz"},
		{"whitespace in ref", "ref=abcd1234WXYZ 876"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, ok := DecodeURLParams(tc.raw)
			assert.False(t, ok)
		})
	}
}

func TestSplitRef(t *testing.T) {
	ck, tk, ok := SplitRef("abcd1234WXYZ9876")
	require.True(t, ok)
	assert.Equal(t, "abcd1234", ck)
	assert.Equal(t, "WXYZ9876", tk)

	_, _, ok = SplitRef("short")
	assert.False(t, ok)
	_, _, ok = SplitRef("abcd1234WXYZ98-6")
	assert.False(t, ok)
}

func TestLureAndPixelURLs(t *testing.T) {
	lure := LureURL("https://track.example.com/", "abcd1234", "WXYZ9876")
	assert.True(t, strings.HasPrefix(lure, "https://track.example.com/lure?"))

	pixel := TrackingPixelURL("https://track.example.com", "abcd1234", "WXYZ9876")
	assert.True(t, strings.HasPrefix(pixel, "https://track.example.com/t/px.png?"))

	u, err := url.Parse(pixel)
	require.NoError(t, err)
	ck, tk, ok := DecodeURLParams(u.RawQuery)
	require.True(t, ok)
	assert.Equal(t, "abcd1234", ck)
	assert.Equal(t, "WXYZ9876", tk)
}

func TestInjectTrackingPixel(t *testing.T) {
	out := InjectTrackingPixel("<p>hello</p>", "https://t.example/t/px.png?ref=x")
	assert.Contains(t, out, "<p>hello</p>")
	assert.Contains(t, out, `src="https://t.example/t/px.png?ref=x"`)
}
