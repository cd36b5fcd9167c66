package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"unitools/market-api/internal/storage"
	"unitools/market-api/pkg/util"
	"unitools/market-api/pkg/validators"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultUploadTimeout = time.Minute

type Uploader struct {
	Store   storage.Store
	Timeout time.Duration
}

func NewUploader(s storage.Store) *Uploader {
	return &Uploader{
		Store:   s,
		Timeout: defaultUploadTimeout,
	}
}

// Do stores every image under a fresh random key and returns the keys in the
// order of the input. If any upload fails the ones that made it are removed
// again and nothing is returned.
func (u *Uploader) Do(ctx context.Context, images []validators.Image) ([]string, error) {
	if len(images) == 0 {
		return []string{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, u.Timeout)
	defer cancel()

	keys := make([]string, len(images))

	var (
		mu       sync.Mutex
		uploaded []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, img := range images {
		key := util.RandStr(16) + img.Ext
		keys[i] = key

		g.Go(func() error {
			zap.L().Debug("Uploading image", zap.String("key", key), zap.Int("size", len(img.Data)))

			if err := u.Store.Put(gctx, key, img.ContentType, img.Data); err != nil {
				return fmt.Errorf("failed to upload %s, %w", img.Name, err)
			}

			mu.Lock()
			uploaded = append(uploaded, key)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		u.Cleanup(uploaded)
		return nil, err
	}

	return keys, nil
}

// Cleanup deletes keys without a request context, it is used once the
// request already failed
func (u *Uploader) Cleanup(keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), u.Timeout)
	defer cancel()

	if err := u.Store.Delete(ctx, keys...); err != nil {
		zap.L().Error("Failed to cleanup after failed upload", zap.Strings("keys", keys), zap.Error(err))
		return
	}

	zap.L().Debug("Cleaned up uploaded images", zap.Strings("keys", keys))
}
