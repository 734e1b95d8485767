// Package local is the local durable store: a SQLite database holding the
// records and users collections, the session metadata and pending-delete
// tombstones. It is the only store guaranteed to be available and works
// without network access.
package local

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/local/metadata"
	"github.com/dmitrijs2005/mediscan/internal/local/migrations"
	"github.com/dmitrijs2005/mediscan/internal/local/records"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/local/users"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

// Store owns the SQLite handle and vends repositories bound to it or to a
// transaction.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dsn and applies migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// the REPL and background syncs.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Records(db dbx.DBTX) records.Repository { return records.NewSQLiteRepository(db) }

func (s *Store) Users(db dbx.DBTX) users.Repository { return users.NewSQLiteRepository(db) }

func (s *Store) Metadata(db dbx.DBTX) metadata.Repository { return metadata.NewSQLiteRepository(db) }

func (s *Store) Tombstones(db dbx.DBTX) tombstones.Repository {
	return tombstones.NewSQLiteRepository(db)
}

// Mirror replaces both collections with the given snapshot in one
// transaction. Records are stored as synced. Ids present in skipRecords or
// skipUsers are left out. On error nothing is changed.
func (s *Store) Mirror(ctx context.Context, recs []*models.ScanRecord, accounts []*models.UserAccount,
	skipRecords, skipUsers map[string]struct{}) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		rr := s.Records(tx)
		if err := rr.Clear(ctx); err != nil {
			return err
		}
		for _, r := range recs {
			if _, skip := skipRecords[r.ID]; skip {
				continue
			}
			cp := *r
			cp.Synced = true
			if err := rr.Upsert(ctx, &cp); err != nil {
				return err
			}
		}

		ur := s.Users(tx)
		if err := ur.Clear(ctx); err != nil {
			return err
		}
		for _, u := range accounts {
			if _, skip := skipUsers[u.ID]; skip {
				continue
			}
			if err := ur.Upsert(ctx, u); err != nil {
				return err
			}
		}
		return nil
	})
}
