// Package verification stores the pending passcode of every unverified submission
package verification

import (
	"context"
	"errors"

	"unitools/market-api/internal/model"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("no pending verification for this email")

// Store holds at most one pending entry per email. Every method that takes a
// listingID only touches the entry while it still points at that listing, so
// a request working on a replaced entry can't affect the newer one.
type Store interface {
	// Save replaces any entry already pending for p.Email
	Save(ctx context.Context, p *model.PendingVerification) error
	Get(ctx context.Context, email string) (*model.PendingVerification, error)
	// ReserveAttempt counts one passcode guess and returns the new count.
	// It returns ErrNotFound once max guesses were reserved or the entry is gone.
	ReserveAttempt(ctx context.Context, email, listingID string, max int) (int, error)
	// Consume deletes the entry and reports false when it was already gone,
	// so two concurrent verifications can't both succeed.
	Consume(ctx context.Context, email, listingID string) (bool, error)
	Delete(ctx context.Context, email, listingID string) error
	CleanupExpired(ctx context.Context) (int64, error)
	// ListingIDs returns the listings that still wait for a passcode
	ListingIDs(ctx context.Context) ([]string, error)
	// WithTx returns a store whose writes join tx when they live in the same
	// database. Stores kept elsewhere return themselves.
	WithTx(tx *gorm.DB) Store
}
