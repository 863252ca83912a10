package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore keeps each value as one object in a Cloud Storage bucket.
type GCSStore struct {
	objects gcsObjects
	bucket  string
}

// gcsObjects is the slice of a bucket handle the store uses.
type gcsObjects interface {
	NewReader(ctx context.Context, key string) (io.ReadCloser, error)
	NewWriter(ctx context.Context, key string) io.WriteCloser
	Delete(ctx context.Context, key string) error
}

type bucketObjects struct {
	bucket *storage.BucketHandle
}

func (b bucketObjects) NewReader(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.bucket.Object(key).NewReader(ctx)
}

func (b bucketObjects) NewWriter(ctx context.Context, key string) io.WriteCloser {
	w := b.bucket.Object(key).NewWriter(ctx)
	w.ContentType = "application/json"
	return w
}

func (b bucketObjects) Delete(ctx context.Context, key string) error {
	return b.bucket.Object(key).Delete(ctx)
}

func NewGCSStore(client *storage.Client, bucket string) *GCSStore {
	return &GCSStore{objects: bucketObjects{bucket: client.Bucket(bucket)}, bucket: bucket}
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	r, err := s.objects.NewReader(ctx, key)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open gs://%s/%s: %w", s.bucket, key, err)
	}
	defer r.Close()
	return readLimited(r)
}

func (s *GCSStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkPut(key, value); err != nil {
		return err
	}
	w := s.objects.NewWriter(ctx, key)
	if _, err := w.Write(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *GCSStore) Delete(ctx context.Context, key string) error {
	err := s.objects.Delete(ctx, key)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrBlobNotFound
	}
	return err
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxBlobSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	if len(data) > MaxBlobSize {
		return nil, ErrBlobTooLarge
	}
	return data, nil
}
