package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"unitools/market-api/internal/model"

	"gorm.io/gorm"
)

// DBStore keeps the image bytes in the images table
type DBStore struct {
	DB *gorm.DB
}

func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{DB: db}
}

func (s *DBStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	err := s.DB.WithContext(ctx).Create(&model.Image{
		ObjectKey:   key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to insert image, %w", err)
	}

	return nil
}

func (s *DBStore) Get(ctx context.Context, key string) (*Object, error) {
	var img model.Image

	err := s.DB.WithContext(ctx).
		Where("object_key = ?", key).
		First(&img).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to fetch image, %w", err)
	}

	return &Object{
		Body:        io.NopCloser(bytes.NewReader(img.Data)),
		ContentType: img.ContentType,
		Size:        img.Size,
	}, nil
}

func (s *DBStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	err := s.DB.WithContext(ctx).
		Where("object_key IN ?", keys).
		Delete(&model.Image{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to delete images, %w", err)
	}

	return nil
}
