// Package storage keeps listing images in one of the supported backends:
// inline in the SQL database, an S3 bucket, a Cloudflare R2 bucket or MongoDB GridFS.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

var ErrNotFound = errors.New("image not found")

// Object is an image read back from a store. Body must be closed.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, keys ...string) error
}

// URLBuilder turns keys into links. Without a public base URL the images
// are served by the API itself.
type URLBuilder struct {
	Base string
}

func (u URLBuilder) URL(key string) string {
	if u.Base == "" {
		return "/api/images/" + key
	}

	return strings.TrimRight(u.Base, "/") + "/" + key
}

func (u URLBuilder) URLs(keys []string) []string {
	urls := make([]string, len(keys))
	for i, k := range keys {
		urls[i] = u.URL(k)
	}

	return urls
}
