package reporting

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"

	"phishgrid/models"
)

// GormRecorder writes records straight into the events table when the
// reporting store is colocated instead of called back over HTTP.
type GormRecorder struct {
	DB *gorm.DB
}

func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{DB: db}
}

func (r *GormRecorder) Record(ctx context.Context, rec Record) error {
	payload := "{}"
	if rec.Payload != nil {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
		payload = string(raw)
	}

	event := models.Event{
		CampaignID:  rec.CampaignID,
		CampaignKey: rec.CampaignKey,
		TargetKey:   rec.TargetKey,
		Kind:        string(rec.Kind),
		Payload:     payload,
		UserID:      rec.UserID,
		OrgID:       rec.OrgID,
		OccurredAt:  rec.OccurredAt,
	}

	if err := r.DB.WithContext(ctx).Create(&event).Error; err != nil {
		return fmt.Errorf("failed to store event: %w", err)
	}
	return nil
}
