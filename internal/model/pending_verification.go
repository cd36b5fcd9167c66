package model

import "time"

// PendingVerification links a submitter email to its outstanding passcode.
// There is at most one row per email, a newer submission replaces the old one.
type PendingVerification struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Email     string `gorm:"uniqueIndex;not null"`
	CodeHash  string `gorm:"not null"`
	ListingID string `gorm:"index;not null"`
	Kind      string `gorm:"size:8;not null"`
	Attempts  int    `gorm:"default:0"`
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the passcode can no longer be used
func (p *PendingVerification) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}
