package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
)

// Options selects and configures a snapshot backend.
type Options struct {
	Backend string
	// Name is the bucket for gcs and s3, the key prefix for redis and the
	// namespace for postgres.
	Name string

	TokenSource oauth2.TokenSource // gcs
	S3          S3Config           // s3
	RedisURL    string             // redis
	Postgres    Querier            // postgres
}

// Open returns the Store named by opts.Backend and a function releasing its
// resources. An empty backend means memory.
func Open(ctx context.Context, opts Options) (Store, func() error, error) {
	nop := func() error { return nil }
	name := strings.TrimSpace(opts.Name)

	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendNone:
		return NoopStore{}, nop, nil
	case "", BackendMemory:
		return NewInMemoryStore(), nop, nil
	case BackendGCS:
		if name == "" {
			return nil, nil, errors.New("gcs snapshot backend requires a bucket name")
		}
		if opts.TokenSource == nil {
			return nil, nil, errors.New("gcs snapshot backend requires google credentials")
		}
		client, err := storage.NewClient(ctx, option.WithTokenSource(opts.TokenSource))
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		return NewGCSStore(client, name), client.Close, nil
	case BackendS3:
		if name == "" {
			return nil, nil, errors.New("s3 snapshot backend requires a bucket name")
		}
		client, err := NewS3Client(ctx, opts.S3)
		if err != nil {
			return nil, nil, err
		}
		return NewS3Store(client, name), nop, nil
	case BackendRedis:
		if opts.RedisURL == "" {
			return nil, nil, errors.New("redis snapshot backend requires REDIS_URL")
		}
		client, err := NewRedisClient(opts.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisStore(client, name), client.Close, nil
	case BackendPostgres:
		if opts.Postgres == nil {
			return nil, nil, errors.New("postgres snapshot backend requires a database pool")
		}
		return NewPostgresStore(opts.Postgres, name), nop, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}
