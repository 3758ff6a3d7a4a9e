package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventKind is the taxonomy of observable target interactions.
type EventKind string

const (
	EventSend   EventKind = "send"
	EventFail   EventKind = "fail"
	EventOpen   EventKind = "open"
	EventClick  EventKind = "click"
	EventSubmit EventKind = "submit"
	EventReport EventKind = "report"

	// EventComplete is the campaign-level marker written on stop/completion.
	// It carries no target key and bypasses per-target dedup.
	EventComplete EventKind = "complete"
)

// ParseEventKind validates an event_type field from the wire.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(s); k {
	case EventSend, EventFail, EventOpen, EventClick, EventSubmit, EventReport:
		return k, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Event is one observed interaction, normalized for the reporting store.
// Append-only; the correlator guarantees at most one row per
// (campaign_key, target_key, kind).
type Event struct {
	gorm.Model
	CampaignID  int       `gorm:"index" json:"campaign_id"`
	CampaignKey string    `gorm:"not null;index" json:"campaign_key"`
	TargetKey   string    `gorm:"index" json:"target_key"`
	Kind        string    `gorm:"not null" json:"kind"`
	Payload     string    `gorm:"type:jsonb" json:"payload"`
	UserID      int       `json:"user_id"`
	OrgID       int       `json:"org_id"`
	OccurredAt  time.Time `gorm:"not null" json:"occurred_at"`
}

// Per-kind payload schemas. Inbound payloads arrive as raw JSON and are
// decoded against the claimed kind at the HTTP boundary; a payload that
// doesn't match its kind is a validation error, not a crash.

type SendPayload struct {
	Email string `json:"email"`
}

type FailPayload struct {
	Reason string `json:"reason"`
}

type OpenPayload struct {
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

type ClickPayload struct {
	UserAgent string `json:"user_agent"`
	IP        string `json:"ip"`
}

type SubmitPayload struct {
	Fields map[string]string `json:"fields"`
}

type ReportPayload struct {
	Source string `json:"source"`
}

// DecodeEventPayload parses raw into the schema for kind. A nil/empty raw
// yields the kind's zero payload, matching senders that omit the field.
func DecodeEventPayload(kind EventKind, raw json.RawMessage) (interface{}, error) {
	decode := func(v interface{}) (interface{}, error) {
		if len(raw) == 0 {
			return v, nil
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return nil, fmt.Errorf("payload does not match event type %s: %w", kind, err)
		}
		return v, nil
	}

	switch kind {
	case EventSend:
		return decode(&SendPayload{})
	case EventFail:
		return decode(&FailPayload{})
	case EventOpen:
		return decode(&OpenPayload{})
	case EventClick:
		return decode(&ClickPayload{})
	case EventSubmit:
		return decode(&SubmitPayload{})
	case EventReport:
		return decode(&ReportPayload{})
	}
	return nil, fmt.Errorf("unknown event type %q", kind)
}
