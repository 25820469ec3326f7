// Package pgstore keeps blobs in a single Postgres table keyed by blob key.
package pgstore

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dopple/internal/httpkit"
	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type Store struct {
	db *pgxpool.Pool
}

var _ ports.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Provider() string { return "postgres" }

// EnsureSchema creates the blobs table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "pgstore.schema", "create blobs table")
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT key
		FROM blobs
		WHERE key LIKE $1 ESCAPE '\'
		ORDER BY key
	`, likeEscape(prefix)+"%")
	if err != nil {
		return nil, classify(err, "pgstore.list")
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, classify(err, "pgstore.list")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "pgstore.list")
	}
	return keys, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM blobs WHERE key=$1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("blob", key)
	}
	if err != nil {
		return nil, classify(err, "pgstore.get")
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO blobs (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
	`, key, data)
	if err != nil {
		return classify(err, "pgstore.set")
	}
	return nil
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func classify(err error, op string) error {
	if httpkit.IsUndefinedTable(err) {
		return errors.WrapWithCode(err, errors.CodeNotConfigured, op, "blobs table missing")
	}
	return errors.WrapWithCode(err, errors.CodeUnavailable, op, "query failed")
}
