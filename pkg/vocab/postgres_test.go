package vocab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ---------------------------------------------------------------------------
// pgx doubles
// ---------------------------------------------------------------------------

type mockRow struct {
	scanFunc func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error { return r.scanFunc(dest...) }

type mockRows struct {
	data   []string
	idx    int
	err    error
	closed bool
}

func (r *mockRows) Close()                                       { r.closed = true }
func (r *mockRows) Err() error                                   { return r.err }
func (r *mockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *mockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *mockRows) RawValues() [][]byte                          { return nil }
func (r *mockRows) Conn() *pgx.Conn                              { return nil }
func (r *mockRows) Values() ([]any, error)                       { return nil, nil }

func (r *mockRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *mockRows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return fmt.Errorf("scan: expected 1 destination, got %d", len(dest))
	}
	d, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("scan: unsupported type %T", dest[0])
	}
	*d = r.data[r.idx-1]
	return nil
}

type mockDB struct {
	queryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (m *mockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
}

func (m *mockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return &mockRows{}, nil
}

func (m *mockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

// ---------------------------------------------------------------------------
// PostgresStore tests
// ---------------------------------------------------------------------------

func TestPostgresStore_Migrate(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
				if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS vocabulary_entries") {
					t.Errorf("Migrate SQL should create vocabulary_entries, got: %s", sql)
				}
				return pgconn.CommandTag{}, nil
			},
		}
		if err := NewPostgresStore(db).Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() unexpected error: %v", err)
		}
	})

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			execFunc: func(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("connection refused")
			},
		}
		err := NewPostgresStore(db).Migrate(context.Background())
		if err == nil || !strings.Contains(err.Error(), "vocab: migrate:") {
			t.Fatalf("Migrate() error = %v, want prefix 'vocab: migrate:'", err)
		}
	})
}

func TestPostgresStore_Replace(t *testing.T) {
	t.Parallel()

	var capturedSQL string
	var capturedArgs []any
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			capturedSQL = sql
			capturedArgs = args
			return pgconn.CommandTag{}, nil
		},
	}

	pairs := []Pair{{Literal: "Tim", Value: "Timothy Walker"}}
	if err := NewPostgresStore(db).Replace(context.Background(), "u1", "contacts", pairs); err != nil {
		t.Fatalf("Replace() unexpected error: %v", err)
	}

	if !strings.Contains(capturedSQL, "ON CONFLICT (user_id, name) DO UPDATE") {
		t.Errorf("Replace should upsert, got: %s", capturedSQL)
	}
	if len(capturedArgs) != 3 {
		t.Fatalf("expected 3 args, got %d", len(capturedArgs))
	}
	if capturedArgs[0] != "u1" || capturedArgs[1] != "contacts" {
		t.Errorf("args = %v, want [u1 contacts ...]", capturedArgs[:2])
	}
	var stored []Pair
	if err := json.Unmarshal(capturedArgs[2].([]byte), &stored); err != nil {
		t.Fatalf("pairs arg is not JSON: %v", err)
	}
	if len(stored) != 1 || stored[0] != pairs[0] {
		t.Errorf("stored pairs = %v, want %v", stored, pairs)
	}
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()

	t.Run("found", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{scanFunc: func(dest ...any) error {
					*(dest[0].(*[]byte)) = []byte(`[{"literal":"Tim","value":"Timothy"}]`)
					return nil
				}}
			},
		}
		got, err := NewPostgresStore(db).Get(context.Background(), "u1", "contacts")
		if err != nil {
			t.Fatalf("Get() unexpected error: %v", err)
		}
		if len(got) != 1 || got[0].Value != "Timothy" {
			t.Errorf("Get() = %v", got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		_, err := NewPostgresStore(&mockDB{}).Get(context.Background(), "u1", "contacts")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("db error", func(t *testing.T) {
		t.Parallel()
		db := &mockDB{
			queryRowFunc: func(_ context.Context, _ string, _ ...any) pgx.Row {
				return &mockRow{scanFunc: func(...any) error { return errors.New("connection lost") }}
			},
		}
		_, err := NewPostgresStore(db).Get(context.Background(), "u1", "contacts")
		if err == nil || !strings.Contains(err.Error(), "vocab: get") {
			t.Fatalf("Get() error = %v, want 'vocab: get' prefix", err)
		}
	})
}

func TestPostgresStore_Names(t *testing.T) {
	t.Parallel()

	rows := &mockRows{data: []string{"a", "b"}}
	db := &mockDB{
		queryFunc: func(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
			if args[0] != "u1" {
				t.Errorf("user arg = %v, want u1", args[0])
			}
			return rows, nil
		},
	}
	names, err := NewPostgresStore(db).Names(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Names() unexpected error: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
	if !rows.closed {
		t.Error("rows were not closed")
	}
}

func TestPostgresStore_Clear(t *testing.T) {
	t.Parallel()

	var sqls []string
	db := &mockDB{
		execFunc: func(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
			sqls = append(sqls, sql)
			return pgconn.CommandTag{}, nil
		},
	}
	s := NewPostgresStore(db)
	if err := s.Clear(context.Background(), "u1", "contacts"); err != nil {
		t.Fatalf("Clear() unexpected error: %v", err)
	}
	if err := s.ClearAll(context.Background(), "u1"); err != nil {
		t.Fatalf("ClearAll() unexpected error: %v", err)
	}
	if len(sqls) != 2 || !strings.Contains(sqls[0], "AND name = $2") || strings.Contains(sqls[1], "name =") {
		t.Errorf("unexpected SQL: %v", sqls)
	}
}
