package service

import (
	"context"
	"fmt"
	"time"

	"unitools/market-api/internal/model"

	"go.uber.org/zap"
)

// CleanupOrphans deletes unpublished listings older than OrphanAfter that
// no pending passcode points to anymore, together with their images
func (j *Janitor) CleanupOrphans(ctx context.Context) (int64, error) {
	pendingIDs, err := j.Verifications.ListingIDs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-j.OrphanAfter).UnixMilli()

	q := j.DB.WithContext(ctx).
		Where("published = ? AND created_at < ?", false, cutoff)
	if len(pendingIDs) > 0 {
		q = q.Where("listing_id NOT IN ?", pendingIDs)
	}

	var orphans []model.Listing
	if err := q.Find(&orphans).Error; err != nil {
		return 0, fmt.Errorf("failed to query orphaned listings, %w", err)
	}

	if len(orphans) == 0 {
		return 0, nil
	}

	var (
		ids  = make([]uint, len(orphans))
		keys []string
	)

	for i, l := range orphans {
		ids[i] = l.Seq
		keys = append(keys, l.Images...)
	}

	if len(keys) > 0 {
		// Leftover objects are only wasted space, the rows still go
		if err := j.Images.Delete(ctx, keys...); err != nil {
			zap.L().Error("Failed to delete images of orphaned listings", zap.Error(err))
		}
	}

	r := j.DB.WithContext(ctx).Delete(&model.Listing{}, ids)
	if r.Error != nil {
		return 0, fmt.Errorf("failed to delete orphaned listings, %w", r.Error)
	}

	zap.L().Debug("Cleaned up orphaned listings", zap.Int64("count", r.RowsAffected))
	return r.RowsAffected, nil
}
