package app

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/backup"
	"github.com/dmitrijs2005/mediscan/internal/filex"
)

func (a *App) cmdSync(ctx context.Context, _ []string) error {
	res, err := a.engine.SyncAll(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		fmt.Fprintln(a.out, "Offline: changes are kept locally and will sync when the connection returns")
		return nil
	}
	fmt.Fprintf(a.out, "Sync finished: %d deletes, %d records and %d accounts pushed, local copy refreshed\n",
		res.Deleted, res.Pushed, res.UsersPushed)
	return nil
}

func (a *App) cmdStats(ctx context.Context, _ []string) error {
	s, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	remote := "unknown"
	if s.RemoteRecords >= 0 {
		remote = fmt.Sprint(s.RemoteRecords)
	}
	fmt.Fprintf(a.out, "Connected:        %t\nLocal records:    %d\nRemote records:   %s\nPending sync:     %d\nAccounts:         %d\nPending deletes:  %d\n",
		s.Connected, s.LocalRecords, remote, s.PendingRecords, s.LocalUsers, s.PendingDeletes)
	return nil
}

func (a *App) cmdExport(ctx context.Context, args []string) error {
	now := time.Now()
	path := filepath.Join("backups", fmt.Sprintf("mediscan_full_backup_%s.json", now.Format("2006-01-02")))
	if len(args) > 0 {
		path = args[0]
	}

	var buf bytes.Buffer
	counts, err := a.backups.Export(ctx, &buf)
	if err != nil {
		return err
	}
	if err := filex.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exported %d records and %d accounts to %s\n", counts.Records, counts.Users, path)

	if a.uploader != nil {
		key := backup.ObjectKey(now)
		if err := a.uploader.Upload(ctx, key, buf.Bytes()); err != nil {
			a.logger.Warn(ctx, "backup upload failed", "key", key, "error", err)
			fmt.Fprintln(a.out, "Warning: the backup could not be uploaded, the local file is intact")
			return nil
		}
		fmt.Fprintf(a.out, "Uploaded to %s\n", key)
	}
	return nil
}

func (a *App) cmdImport(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usageError("import")
	}
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	counts, err := a.backups.Import(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Imported %d records and %d accounts\n", counts.Records, counts.Users)
	if counts.Remapped > 0 {
		fmt.Fprintf(a.out, "%d account ids were not UUIDs and got new ids\n", counts.Remapped)
	}
	a.engine.Background(ctx, "import")
	return nil
}
