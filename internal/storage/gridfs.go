package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// GridFSStore keeps images in MongoDB. The image key is used as the GridFS
// file name, the content type goes into the file metadata.
type GridFSStore struct {
	Bucket *gridfs.Bucket
}

func NewGridFSStore(db *mongo.Database) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName("listing_images"))
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs bucket, %w", err)
	}

	return &GridFSStore{Bucket: bucket}, nil
}

// ConnectMongo dials uri and checks the connection with a ping
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo, %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo, %w", err)
	}

	return client, nil
}

func (s *GridFSStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	opts := options.GridFSUpload().SetMetadata(bson.M{"content_type": contentType})

	stream, err := s.Bucket.OpenUploadStream(key, opts)
	if err != nil {
		return fmt.Errorf("failed to open upload stream, %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	}

	if _, err := io.Copy(stream, bytes.NewReader(data)); err != nil {
		stream.Abort()
		return fmt.Errorf("failed to write %s, %w", key, err)
	}

	return nil
}

func (s *GridFSStore) Get(ctx context.Context, key string) (*Object, error) {
	var buf bytes.Buffer

	stream, err := s.Bucket.OpenDownloadStreamByName(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to open download stream, %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetReadDeadline(deadline)
	}

	if _, err := io.Copy(&buf, stream); err != nil {
		return nil, fmt.Errorf("failed to read %s, %w", key, err)
	}

	contentType := "application/octet-stream"
	if meta := stream.GetFile().Metadata; meta != nil {
		if ct, ok := meta.Lookup("content_type").StringValueOK(); ok {
			contentType = ct
		}
	}

	return &Object{
		Body:        io.NopCloser(&buf),
		ContentType: contentType,
		Size:        int64(buf.Len()),
	}, nil
}

func (s *GridFSStore) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		cursor, err := s.Bucket.FindContext(ctx, bson.M{"filename": key})
		if err != nil {
			return fmt.Errorf("failed to look up %s, %w", key, err)
		}

		var files []struct {
			ID any `bson:"_id"`
		}
		if err := cursor.All(ctx, &files); err != nil {
			return fmt.Errorf("failed to decode %s, %w", key, err)
		}

		for _, f := range files {
			if err := s.Bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
				return fmt.Errorf("failed to delete %s, %w", key, err)
			}
		}
	}

	return nil
}
