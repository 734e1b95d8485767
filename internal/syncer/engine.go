// Package syncer reconciles the local store with the remote store.
//
// A full reconciliation (SyncAll) runs, in order: PushDeletes, PushPending,
// PushUsers and PullAll. The pull is destructive: after it succeeds the local
// collections mirror the remote tables, minus ids that still carry a
// tombstone. Concurrent SyncAll callers join the run already in flight.
//
// Remote failures on single entities are logged and skipped. Only local
// write failures and a failed pull are returned.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote"
	"github.com/dmitrijs2005/mediscan/internal/remote/profiles"
	"github.com/dmitrijs2005/mediscan/internal/remote/records"
)

const syncKey = "global sync"

// ErrClosed is returned by SyncAll after Close.
var ErrClosed = errors.New("sync engine is closed")

// Connectivity reports the last known reachability of the remote store.
type Connectivity interface {
	Online() bool
}

// Result describes one full reconciliation.
type Result struct {
	RunID       string
	Skipped     bool // offline, nothing attempted
	Deleted     int
	Pushed      int
	UsersPushed int
	Pulled      bool
	Shared      bool // joined a run started by another caller
}

type Engine struct {
	local    *local.Store
	records  records.Repository
	profiles profiles.Repository
	conn     Connectivity
	log      logging.Logger
	metrics  *Metrics
	now      func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	closed bool
	runs   sync.WaitGroup
}

// New builds an engine. records and profiles may be nil when no remote store
// is configured; the engine then behaves as permanently offline.
func New(store *local.Store, recs records.Repository, profs profiles.Repository,
	conn Connectivity, log logging.Logger, metrics *Metrics) *Engine {
	if log == nil {
		log = logging.Nop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Engine{
		local:    store,
		records:  recs,
		profiles: profs,
		conn:     conn,
		log:      log.With("module", "syncer"),
		metrics:  metrics,
		now:      time.Now,
	}
}

// Online reports whether remote calls should be attempted.
func (e *Engine) Online() bool {
	return e.records != nil && e.profiles != nil && e.conn != nil && e.conn.Online()
}

// SyncAll runs a full reconciliation, or joins the one in progress.
func (e *Engine) SyncAll(ctx context.Context) (Result, error) {
	if !e.Online() {
		return Result{Skipped: true}, nil
	}

	ch := e.group.DoChan(syncKey, func() (any, error) {
		if !e.track() {
			return Result{}, ErrClosed
		}
		defer e.runs.Done()
		// The run outlives the caller that started it; joiners depend on it.
		return e.syncAll(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ch:
		out, _ := res.Val.(Result)
		out.Shared = res.Shared
		return out, res.Err
	}
}

// track registers a run unless the engine is closed.
func (e *Engine) track() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.runs.Add(1)
	return true
}

// Close refuses new runs and waits for the one in flight, so the stores can
// be closed afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.runs.Wait()
}

func (e *Engine) syncAll(ctx context.Context) (Result, error) {
	start := e.now()
	res := Result{RunID: ulid.Make().String()}
	log := e.log.With("run", res.RunID)
	log.Info(ctx, "sync started")

	var err error
	defer func() {
		e.metrics.Duration.Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.Runs.WithLabelValues(outcome).Inc()
		e.refreshGauges(ctx)
	}()

	if res.Deleted, err = e.PushDeletes(ctx); err != nil {
		return res, err
	}
	if res.Pushed, err = e.PushPending(ctx); err != nil {
		return res, err
	}
	if res.UsersPushed, err = e.PushUsers(ctx); err != nil {
		return res, err
	}
	if err = e.PullAll(ctx); err != nil {
		log.Warn(ctx, "pull failed, local data kept", "error", err)
		return res, err
	}
	res.Pulled = true

	log.Info(ctx, "sync finished",
		"deleted", res.Deleted, "pushed", res.Pushed, "users_pushed", res.UsersPushed,
		"elapsed", time.Since(start).String())
	return res, nil
}

// PushPending sends every unsynced local record that the remote store does
// not have yet and marks it synced. A record already present remotely is only
// marked. It returns how many records became synced.
func (e *Engine) PushPending(ctx context.Context) (int, error) {
	if !e.Online() {
		return 0, remote.ErrUnavailable
	}
	repo := e.local.Records(e.local.DB())

	pending, err := repo.GetPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("read pending records: %w", err)
	}

	synced := 0
	for _, rec := range pending {
		exists, err := e.records.Exists(ctx, rec.ID)
		if err != nil {
			e.pushFailed(ctx, "check record", rec.ID, err)
			continue
		}
		if !exists {
			if err := e.records.Insert(ctx, rec); err != nil {
				e.pushFailed(ctx, "insert record", rec.ID, err)
				continue
			}
			e.metrics.RecordsPushed.Inc()
		}

		rec.Synced = true
		if err := repo.Upsert(ctx, rec); err != nil {
			return synced, fmt.Errorf("mark record %s synced: %w", rec.ID, err)
		}
		synced++
	}
	return synced, nil
}

// PushUsers upserts every local account remotely. There is no pending flag
// for accounts; the last writer wins.
func (e *Engine) PushUsers(ctx context.Context) (int, error) {
	if !e.Online() {
		return 0, remote.ErrUnavailable
	}
	accounts, err := e.local.Users(e.local.DB()).GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("read users: %w", err)
	}

	pushed := 0
	for _, u := range accounts {
		if err := e.profiles.Upsert(ctx, u); err != nil {
			e.pushFailed(ctx, "upsert profile", u.ID, err)
			continue
		}
		pushed++
	}
	return pushed, nil
}

// PushDeletes applies tombstoned deletions remotely. A tombstone is dropped
// once the remote row is gone, whether or not this call removed it.
func (e *Engine) PushDeletes(ctx context.Context) (int, error) {
	if !e.Online() {
		return 0, remote.ErrUnavailable
	}
	ts := e.local.Tombstones(e.local.DB())

	deleters := map[string]func(context.Context, string) (bool, error){
		tombstones.Records: e.records.Delete,
		tombstones.Users:   e.profiles.Delete,
	}

	applied := 0
	for _, collection := range []string{tombstones.Records, tombstones.Users} {
		list, err := ts.List(ctx, collection)
		if err != nil {
			return applied, err
		}
		for _, t := range list {
			if _, err := deleters[collection](ctx, t.ID); err != nil {
				e.pushFailed(ctx, "delete "+collection, t.ID, err)
				continue
			}
			if err := ts.Remove(ctx, collection, t.ID); err != nil {
				return applied, err
			}
			applied++
		}
	}
	return applied, nil
}

// PullAll replaces the local collections with the remote tables. Both tables
// are fetched first; if either fetch fails nothing local is touched.
func (e *Engine) PullAll(ctx context.Context) error {
	if !e.Online() {
		return remote.ErrUnavailable
	}

	var (
		recs     []*models.ScanRecord
		accounts []*models.UserAccount
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recs, err = e.records.SelectAll(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		accounts, err = e.profiles.SelectAll(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch remote snapshot: %w", err)
	}

	ts := e.local.Tombstones(e.local.DB())
	deadRecords, err := ts.List(ctx, tombstones.Records)
	if err != nil {
		return err
	}
	deadUsers, err := ts.List(ctx, tombstones.Users)
	if err != nil {
		return err
	}

	if err := e.local.Mirror(ctx, recs, accounts, tombstones.IDs(deadRecords), tombstones.IDs(deadUsers)); err != nil {
		return fmt.Errorf("mirror remote snapshot: %w", err)
	}
	e.log.Debug(ctx, "pulled remote snapshot", "records", len(recs), "users", len(accounts))
	return nil
}

func (e *Engine) pushFailed(ctx context.Context, op, id string, err error) {
	e.metrics.PushFailures.Inc()
	kind := "transient"
	if remote.IsPermanent(err) {
		kind = "permanent"
	}
	e.log.Warn(ctx, "sync step failed, skipping", "op", op, "id", id, "kind", kind, "error", err)
}

func (e *Engine) refreshGauges(ctx context.Context) {
	if _, pending, err := e.local.Records(e.local.DB()).Count(ctx); err == nil {
		e.metrics.PendingRecords.Set(float64(pending))
	}
	if n, err := e.local.Tombstones(e.local.DB()).Count(ctx); err == nil {
		e.metrics.Tombstones.Set(float64(n))
	}
}

// Background starts SyncAll without waiting for it. Errors are logged only.
func (e *Engine) Background(ctx context.Context, reason string) {
	if !e.Online() {
		return
	}
	go func() {
		ctx := context.WithoutCancel(ctx)
		_, err := e.SyncAll(ctx)
		if err != nil && !errors.Is(err, remote.ErrUnavailable) && !errors.Is(err, ErrClosed) {
			e.log.Warn(ctx, "background sync failed", "reason", reason, "error", err)
		}
	}()
}
