// Package reporting carries validated events to the external reporting
// collaborator. The correlator has already enforced at-most-once semantics
// by the time a record reaches a Recorder; a failed or timed-out write means
// the event is lost, never retried into a duplicate.
package reporting

import (
	"context"
	"time"

	"phishgrid/models"
)

// Record is one normalized event bound for the reporting store.
type Record struct {
	CampaignID  int              `json:"campaign_id"`
	CampaignKey string           `json:"ref_key"`
	TargetKey   string           `json:"ref_id"`
	Kind        models.EventKind `json:"event_type"`
	Payload     interface{}      `json:"payload,omitempty"`
	UserID      int              `json:"user_id"`
	OrgID       int              `json:"org_id"`
	OccurredAt  time.Time        `json:"-"`
}

// Recorder is the reporting collaborator boundary.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}
