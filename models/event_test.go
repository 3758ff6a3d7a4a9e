package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	kind, err := ParseEventKind("click")
	require.NoError(t, err)
	assert.Equal(t, EventClick, kind)

	_, err = ParseEventKind("explode")
	assert.Error(t, err)

	// The marker kind is internal; the wire may not claim it.
	_, err = ParseEventKind("complete")
	assert.Error(t, err)
}

func TestDecodeEventPayload(t *testing.T) {
	payload, err := DecodeEventPayload(EventSubmit, json.RawMessage(`{"fields":{"username":"ada"}}`))
	require.NoError(t, err)
	sub, ok := payload.(*SubmitPayload)
	require.True(t, ok)
	assert.Equal(t, "ada", sub.Fields["username"])
}

func TestDecodeEventPayloadWrongShape(t *testing.T) {
	// A submit payload claimed as an open event has unknown fields.
	_, err := DecodeEventPayload(EventOpen, json.RawMessage(`{"fields":{"username":"ada"}}`))
	assert.Error(t, err)
}

func TestDecodeEventPayloadEmpty(t *testing.T) {
	payload, err := DecodeEventPayload(EventOpen, nil)
	require.NoError(t, err)
	open, ok := payload.(*OpenPayload)
	require.True(t, ok)
	assert.Empty(t, open.UserAgent)
}

func TestDecodeEventPayloadUnknownKind(t *testing.T) {
	_, err := DecodeEventPayload(EventKind("bogus"), nil)
	assert.Error(t, err)
}
