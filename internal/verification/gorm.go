package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"unitools/market-api/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	DB *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{DB: db}
}

func (s *GormStore) WithTx(tx *gorm.DB) Store {
	return &GormStore{DB: tx}
}

func (s *GormStore) Save(ctx context.Context, p *model.PendingVerification) error {
	p.Attempts = 0
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"code_hash", "listing_id", "kind", "attempts", "expires_at", "created_at"}),
		}).
		Create(p).
		Error
	if err != nil {
		return fmt.Errorf("failed to save pending verification, %w", err)
	}

	return nil
}

func (s *GormStore) Get(ctx context.Context, email string) (*model.PendingVerification, error) {
	var p model.PendingVerification

	err := s.DB.WithContext(ctx).
		Where("email = ?", email).
		First(&p).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to get pending verification, %w", err)
	}

	return &p, nil
}

func (s *GormStore) ReserveAttempt(ctx context.Context, email, listingID string, max int) (int, error) {
	var attempts int

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r := tx.Model(&model.PendingVerification{}).
			Where("email = ? AND listing_id = ? AND attempts < ?", email, listingID, max).
			Update("attempts", gorm.Expr("attempts + ?", 1))
		if r.Error != nil {
			return r.Error
		}

		if r.RowsAffected == 0 {
			return ErrNotFound
		}

		// The updated row stays locked until commit
		return tx.Model(&model.PendingVerification{}).
			Where("email = ?", email).
			Select("attempts").
			Scan(&attempts).
			Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, ErrNotFound
		}

		return 0, fmt.Errorf("failed to reserve attempt, %w", err)
	}

	return attempts, nil
}

func (s *GormStore) Consume(ctx context.Context, email, listingID string) (bool, error) {
	r := s.DB.WithContext(ctx).
		Where("email = ? AND listing_id = ?", email, listingID).
		Delete(&model.PendingVerification{})
	if r.Error != nil {
		return false, fmt.Errorf("failed to consume pending verification, %w", r.Error)
	}

	return r.RowsAffected == 1, nil
}

func (s *GormStore) Delete(ctx context.Context, email, listingID string) error {
	err := s.DB.WithContext(ctx).
		Where("email = ? AND listing_id = ?", email, listingID).
		Delete(&model.PendingVerification{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to delete pending verification, %w", err)
	}

	return nil
}

func (s *GormStore) CleanupExpired(ctx context.Context) (int64, error) {
	r := s.DB.WithContext(ctx).
		Where("expires_at < ?", time.Now()).
		Delete(&model.PendingVerification{})
	if r.Error != nil {
		return 0, fmt.Errorf("failed to delete expired verifications, %w", r.Error)
	}

	return r.RowsAffected, nil
}

func (s *GormStore) ListingIDs(ctx context.Context) ([]string, error) {
	var ids []string

	err := s.DB.WithContext(ctx).
		Model(&model.PendingVerification{}).
		Pluck("listing_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending listings, %w", err)
	}

	return ids, nil
}
