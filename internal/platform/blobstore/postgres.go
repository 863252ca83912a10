package blobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of *pgxpool.Pool used by PostgresStore.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps values in the lab_snapshot table, partitioned by
// namespace. The table is created by the snapshot migration.
type PostgresStore struct {
	db        Querier
	namespace string
}

func NewPostgresStore(db Querier, namespace string) *PostgresStore {
	return &PostgresStore{db: db, namespace: namespace}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrMissingKey
	}
	var body []byte
	err := s.db.QueryRow(ctx,
		`SELECT body FROM lab_snapshot WHERE namespace = $1 AND key = $2`,
		s.namespace, key).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot %s: %w", key, err)
	}
	return body, nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkPut(key, value); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO lab_snapshot (namespace, key, body, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (namespace, key) DO UPDATE SET body = EXCLUDED.body, updated_at = NOW()`,
		s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM lab_snapshot WHERE namespace = $1 AND key = $2`,
		s.namespace, key)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}
