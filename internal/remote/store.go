// Package remote is the remote relational store: a PostgreSQL database with
// the records and profiles tables, reached through pgx's database/sql driver.
//
// Every call is a network round trip and may fail. Callers classify failures
// with Reachable (is the server answering at all) and IsPermanent (the server
// rejected this particular row).
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/remote/migrations"
	"github.com/dmitrijs2005/mediscan/internal/remote/profiles"
	"github.com/dmitrijs2005/mediscan/internal/remote/records"
)

// ErrUnavailable is returned when the remote store cannot be used right now,
// either because it is not configured or because it is unreachable.
var ErrUnavailable = errors.New("remote store unavailable")

// Store owns the PostgreSQL handle and vends repositories bound to it.
type Store struct {
	db *sql.DB
}

// Open prepares a connection pool. It does not dial, so an unreachable server
// is not an error here.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open remote store: %w", ErrUnavailable)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Records(db dbx.DBTX) records.Repository { return records.NewPostgresRepository(db) }

func (s *Store) Profiles(db dbx.DBTX) profiles.Repository { return profiles.NewPostgresRepository(db) }

// migrate is a seam for tests.
var migrate = dbx.Migrate

// RunMigrations applies the embedded schema.
func (s *Store) RunMigrations(ctx context.Context) error {
	if err := migrate(ctx, s.db, migrations.Migrations, "pgx"); err != nil {
		return fmt.Errorf("remote migrations: %w", err)
	}
	return nil
}

// Ping performs a minimal read and reports whether the server answered.
// An access or schema error still proves the network path works, so it
// counts as connected; the error is returned for logging.
func (s *Store) Ping(ctx context.Context) (bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id::text FROM profiles LIMIT 1`).Scan(&id)
	return Reachable(err), err
}

// Reachable reports whether err (possibly nil) came back from a live server.
func Reachable(err error) bool {
	if err == nil || errors.Is(err, sql.ErrNoRows) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

// IsPermanent reports whether the server rejected the statement because of the
// data itself (SQLSTATE class 22 data exception or 23 integrity violation).
// Retrying such a row cannot succeed.
func IsPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}
