// Package migrations embeds the versioned schema of the local store.
package migrations

import (
	"context"
	"database/sql"
	"embed"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
)

//go:embed *.sql
var Migrations embed.FS

// Up applies every pending migration to db.
func Up(ctx context.Context, db *sql.DB) error {
	return dbx.Migrate(ctx, db, Migrations, "sqlite3")
}
