package service

import (
	"context"

	"go.uber.org/zap"
)

// CleanupPending deletes passcodes past their expiry
func (j *Janitor) CleanupPending(ctx context.Context) (int64, error) {
	n, err := j.Verifications.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		zap.L().Debug("Cleaned up expired passcodes", zap.Int64("count", n))
	}

	return n, nil
}
