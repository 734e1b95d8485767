package syncer

import (
	"context"
	"fmt"
)

// Stats is a snapshot of both stores.
type Stats struct {
	LocalRecords   int
	RemoteRecords  int // -1 when the remote store could not be counted
	PendingRecords int
	LocalUsers     int
	PendingDeletes int
	Connected      bool
}

// Stats counts local data and, when online, remote records. Remote failures
// leave RemoteRecords at -1.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	s := Stats{RemoteRecords: -1, Connected: e.Online()}

	var err error
	if s.LocalRecords, s.PendingRecords, err = e.local.Records(e.local.DB()).Count(ctx); err != nil {
		return s, fmt.Errorf("count local records: %w", err)
	}
	if s.LocalUsers, err = e.local.Users(e.local.DB()).Count(ctx); err != nil {
		return s, fmt.Errorf("count local users: %w", err)
	}
	if s.PendingDeletes, err = e.local.Tombstones(e.local.DB()).Count(ctx); err != nil {
		return s, fmt.Errorf("count tombstones: %w", err)
	}
	e.metrics.PendingRecords.Set(float64(s.PendingRecords))
	e.metrics.Tombstones.Set(float64(s.PendingDeletes))

	if s.Connected {
		if n, err := e.records.Count(ctx); err == nil {
			s.RemoteRecords = n
		} else {
			e.log.Warn(ctx, "remote count failed", "error", err)
		}
	}
	return s, nil
}
