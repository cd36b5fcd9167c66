package service

import (
	"context"
	"fmt"
	"time"

	"unitools/market-api/internal/storage"
	"unitools/market-api/internal/verification"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const janitorRunTimeout = 5 * time.Minute

// Janitor periodically removes expired passcodes and listings that will
// never be verified
type Janitor struct {
	DB            *gorm.DB
	Verifications verification.Store
	Images        storage.Store
	OrphanAfter   time.Duration

	c *cron.Cron
}

func NewJanitor(db *gorm.DB, v verification.Store, images storage.Store, orphanAfter time.Duration) *Janitor {
	return &Janitor{
		DB:            db,
		Verifications: v,
		Images:        images,
		OrphanAfter:   orphanAfter,
		c:             cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start schedules both cleanups every interval
func (j *Janitor) Start(interval time.Duration) error {
	spec := "@every " + interval.String()

	if _, err := j.c.AddFunc(spec, j.run(j.CleanupPending)); err != nil {
		return fmt.Errorf("failed to schedule pending cleanup, %w", err)
	}

	if _, err := j.c.AddFunc(spec, j.run(j.CleanupOrphans)); err != nil {
		return fmt.Errorf("failed to schedule orphan cleanup, %w", err)
	}

	j.c.Start()
	zap.L().Debug("Janitor attached", zap.Duration("tick_every", interval))

	return nil
}

// Stop waits for running jobs to finish
func (j *Janitor) Stop() {
	<-j.c.Stop().Done()
}

func (j *Janitor) run(job func(context.Context) (int64, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), janitorRunTimeout)
		defer cancel()

		if _, err := job(ctx); err != nil {
			zap.L().Error("Janitor job failed", zap.Error(err))
		}
	}
}
