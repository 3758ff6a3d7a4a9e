package models

import (
	"time"

	"gorm.io/gorm"
)

// PhishsiteWorker is a registered landing-page worker instance. Its secret
// is per-worker so a compromised worker cannot forge trust tokens for
// another; the secret is AES-encrypted in the application layer before it
// reaches the row.
type PhishsiteWorker struct {
	gorm.Model
	Name       string     `gorm:"not null" json:"name"`
	URI        string     `gorm:"not null" json:"uri"`
	SecretKey  string     `gorm:"not null" json:"-"` // Encrypted in application layer
	LastSeenAt *time.Time `json:"last_seen_at"`
}
