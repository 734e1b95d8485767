package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/mediscan/internal/logging"
)

// goose keeps the base FS, dialect and logger in package globals; the local
// and remote stores both migrate through here so they never interleave.
var (
	gooseMu      sync.Mutex
	migrationLog logging.Logger = logging.Nop()
)

// SetMigrationLogger routes goose output to l instead of stdout. Migrations
// are silent until it is called.
func SetMigrationLogger(l logging.Logger) {
	if l == nil {
		l = logging.Nop()
	}
	gooseMu.Lock()
	migrationLog = l
	gooseMu.Unlock()
}

// gooseLogger adapts logging.Logger to goose's Printf-style logger.
type gooseLogger struct {
	ctx context.Context
	log logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	g.log.Debug(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	g.log.Error(g.ctx, msg)
	panic(msg)
}

// Migrate applies the goose migrations found at the root of fsys.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{ctx: ctx, log: migrationLog.With("dialect", dialect)})

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect %q: %w", dialect, err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
