package vocab

import (
	"context"
	"errors"
)

// ErrNotFound is returned by [Store.Get] when the user has no durable entries
// for the requested name.
var ErrNotFound = errors.New("vocab: no uploaded values for name")

// Store holds durable (uploaded) vocabulary, partitioned by user and by
// concept/entity name.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Replace overwrites every durable entry of name for userID with pairs.
	// Entries previously uploaded for name are discarded, never merged.
	Replace(ctx context.Context, userID, name string, pairs []Pair) error

	// Get returns the durable entries of name for userID.
	// Returns [ErrNotFound] when nothing has been uploaded.
	Get(ctx context.Context, userID, name string) ([]Pair, error)

	// Names lists every name with durable entries for userID. Order is not
	// guaranteed.
	Names(ctx context.Context, userID string) ([]string, error)

	// Clear removes the durable entries of name for userID. Clearing a name
	// with no entries is not an error.
	Clear(ctx context.Context, userID, name string) error

	// ClearAll removes every durable entry for userID.
	ClearAll(ctx context.Context, userID string) error
}
