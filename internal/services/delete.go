package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
)

// deleteEverywhere removes id locally and records a tombstone in the same
// transaction. When online the remote delete is attempted right away and the
// tombstone dropped on success; otherwise the next sync replays it.
func deleteEverywhere(ctx context.Context, store *local.Store, collection, id string, at time.Time,
	online bool, remoteDelete func(context.Context, string) (bool, error), log logging.Logger) error {

	err := dbx.WithTx(ctx, store.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		switch collection {
		case tombstones.Records:
			err = store.Records(tx).Delete(ctx, id)
		case tombstones.Users:
			err = store.Users(tx).Delete(ctx, id)
		default:
			err = fmt.Errorf("unknown collection %q", collection)
		}
		if err != nil {
			return err
		}
		return store.Tombstones(tx).Add(ctx, collection, id, at)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	if !online {
		log.Debug(ctx, "offline delete queued", "collection", collection, "id", id)
		return nil
	}
	if _, err := remoteDelete(ctx, id); err != nil {
		log.Warn(ctx, "remote delete failed, queued for next sync", "collection", collection, "id", id, "error", err)
		return nil
	}
	if err := store.Tombstones(store.DB()).Remove(ctx, collection, id); err != nil {
		log.Warn(ctx, "could not drop applied tombstone", "collection", collection, "id", id, "error", err)
	}
	return nil
}
