package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore is a Cloud Storage-backed Store, adapted from the teacher's
// JSON-document GCS adapter to raw byte blobs.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a client from ambient credentials
// (GOOGLE_APPLICATION_CREDENTIALS), matching the teacher's adapter.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads data under key and returns its gs:// URL.
func (s *GCSStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("objectstore: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("objectstore: close %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Get downloads the object stored under key.
func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	obj := s.client.Bucket(s.bucket).Object(key)
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("objectstore: artifact not found: %s", key)
		}
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read body %s: %w", key, err)
	}
	return data, nil
}
