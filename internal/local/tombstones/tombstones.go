// Package tombstones remembers deletions the remote store has not seen yet.
//
// A tombstone is written when a record or account is deleted locally while
// the remote delete could not be applied. The sync engine replays them before
// pulling and the pull skips tombstoned ids, so a deleted entity does not come
// back from the remote snapshot.
package tombstones

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
)

// Collection names used as the first half of the key.
const (
	Records = "records"
	Users   = "users"
)

type Tombstone struct {
	Collection string
	ID         string
	DeletedAt  time.Time
}

type Repository interface {
	// Add is idempotent; re-adding keeps the original deletion time.
	Add(ctx context.Context, collection, id string, at time.Time) error
	List(ctx context.Context, collection string) ([]Tombstone, error)
	Remove(ctx context.Context, collection, id string) error
	Count(ctx context.Context) (int, error)
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Add(ctx context.Context, collection, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tombstones (collection, id, deleted_at) VALUES (?, ?, ?) ON CONFLICT(collection, id) DO NOTHING`,
		collection, id, dbx.Millis(at))
	if err != nil {
		return fmt.Errorf("failed to add tombstone %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, collection string) ([]Tombstone, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT collection, id, deleted_at FROM tombstones WHERE collection = ? ORDER BY deleted_at`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var (
			ts Tombstone
			at int64
		)
		if err := rows.Scan(&ts.Collection, &ts.ID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		ts.DeletedAt = dbx.FromMillis(at)
		out = append(out, ts)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Remove(ctx context.Context, collection, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tombstones WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return fmt.Errorf("failed to remove tombstone %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tombstones`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tombstones: %w", err)
	}
	return n, nil
}

// IDs returns the ids of ts as a set.
func IDs(ts []Tombstone) map[string]struct{} {
	set := make(map[string]struct{}, len(ts))
	for _, t := range ts {
		set[t.ID] = struct{}{}
	}
	return set
}
