package vocab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the vocabulary_entries table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS vocabulary_entries (
    user_id    TEXT NOT NULL,
    name       TEXT NOT NULL,
    pairs      JSONB NOT NULL DEFAULT '[]',
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, name)
);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Each
// (user, name) row holds the complete pair list as JSONB, so an upload is a
// single upsert that overwrites the previous list.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("vocab: migrate: %w", err)
	}
	return nil
}

// Replace implements [Store.Replace].
func (s *PostgresStore) Replace(ctx context.Context, userID, name string, pairs []Pair) error {
	if pairs == nil {
		pairs = []Pair{}
	}
	pairsJSON, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("vocab: marshal pairs: %w", err)
	}

	const query = `
		INSERT INTO vocabulary_entries (user_id, name, pairs)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO UPDATE SET
			pairs = EXCLUDED.pairs,
			updated_at = now()`

	if _, err := s.db.Exec(ctx, query, userID, name, pairsJSON); err != nil {
		return fmt.Errorf("vocab: replace %q: %w", name, err)
	}
	return nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, userID, name string) ([]Pair, error) {
	const query = `
		SELECT pairs
		FROM vocabulary_entries
		WHERE user_id = $1 AND name = $2`

	var pairsJSON []byte
	err := s.db.QueryRow(ctx, query, userID, name).Scan(&pairsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vocab: get %q: %w", name, err)
	}

	var pairs []Pair
	if err := json.Unmarshal(pairsJSON, &pairs); err != nil {
		return nil, fmt.Errorf("vocab: unmarshal pairs of %q: %w", name, err)
	}
	return pairs, nil
}

// Names implements [Store.Names].
func (s *PostgresStore) Names(ctx context.Context, userID string) ([]string, error) {
	const query = `
		SELECT name
		FROM vocabulary_entries
		WHERE user_id = $1
		ORDER BY name`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("vocab: names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("vocab: names scan: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vocab: names: %w", err)
	}
	return names, nil
}

// Clear implements [Store.Clear].
func (s *PostgresStore) Clear(ctx context.Context, userID, name string) error {
	const query = `DELETE FROM vocabulary_entries WHERE user_id = $1 AND name = $2`
	if _, err := s.db.Exec(ctx, query, userID, name); err != nil {
		return fmt.Errorf("vocab: clear %q: %w", name, err)
	}
	return nil
}

// ClearAll implements [Store.ClearAll].
func (s *PostgresStore) ClearAll(ctx context.Context, userID string) error {
	const query = `DELETE FROM vocabulary_entries WHERE user_id = $1`
	if _, err := s.db.Exec(ctx, query, userID); err != nil {
		return fmt.Errorf("vocab: clear all: %w", err)
	}
	return nil
}
