package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/localtest"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote"
	"github.com/dmitrijs2005/mediscan/internal/remote/remotetest"
)

type fixture struct {
	store    *local.Store
	records  *remotetest.Records
	profiles *remotetest.Profiles
	net      *remotetest.Switch
	metrics  *Metrics
	engine   *Engine
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	store, err := local.Open(context.Background(), localtest.DSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:    store,
		records:  remotetest.NewRecords(),
		profiles: remotetest.NewProfiles(),
		net:      remotetest.NewSwitch(online),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	f.engine = New(store, f.records, f.profiles, f.net, logging.Nop(), f.metrics)
	return f
}

func scan(id string) *models.ScanRecord {
	return &models.ScanRecord{
		ID:        id,
		OwnerID:   "p1",
		CreatedAt: time.UnixMilli(1_700_000_000_000).UTC(),
		Report:    models.Report{Diagnosis: "d-" + id, Summary: "s", Severity: models.SeverityModerate},
	}
}

func (f *fixture) saveLocal(t *testing.T, recs ...*models.ScanRecord) {
	t.Helper()
	for _, r := range recs {
		require.NoError(t, f.store.Records(f.store.DB()).Upsert(context.Background(), r))
	}
}

func (f *fixture) localRecords(t *testing.T) map[string]*models.ScanRecord {
	t.Helper()
	all, err := f.store.Records(f.store.DB()).GetAll(context.Background())
	require.NoError(t, err)
	out := map[string]*models.ScanRecord{}
	for _, r := range all {
		out[r.ID] = r
	}
	return out
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSyncAll_SkippedWhenOffline(t *testing.T) {
	f := newFixture(t, false)
	f.saveLocal(t, scan("a"))

	res, err := f.engine.SyncAll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, f.records.Inserts)
	assert.False(t, f.localRecords(t)["a"].Synced)
}

func TestEngine_NoRemoteConfigured(t *testing.T) {
	f := newFixture(t, true)
	e := New(f.store, nil, nil, f.net, nil, nil)

	assert.False(t, e.Online())
	_, err := e.PushPending(context.Background())
	assert.ErrorIs(t, err, remote.ErrUnavailable)
	assert.ErrorIs(t, e.PullAll(context.Background()), remote.ErrUnavailable)
}

func TestOfflineSavesThenSyncAll_NoDuplicates(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	f.saveLocal(t, scan("a"), scan("b"), scan("c"))

	for _, r := range f.localRecords(t) {
		assert.False(t, r.Synced)
	}

	f.net.Set(true)
	before, err := f.records.Count(ctx)
	require.NoError(t, err)

	res, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pushed)
	assert.True(t, res.Pulled)
	assert.NotEmpty(t, res.RunID)

	after, err := f.records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+3, after)

	local := f.localRecords(t)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, keys(local))
	for _, r := range local {
		assert.True(t, r.Synced, r.ID)
	}

	res, err = f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Pushed)
	assert.Equal(t, 3, f.records.Inserts)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.RecordsPushed))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("ok")))
	assert.Zero(t, testutil.ToFloat64(f.metrics.PendingRecords))
}

func TestPushPending_ExistingRemoteIsOnlyMarked(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	// A prior attempt inserted remotely but crashed before marking locally.
	f.records.Put(*scan("a"))
	f.saveLocal(t, scan("a"))

	n, err := f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, f.records.Inserts)
	assert.True(t, f.localRecords(t)["a"].Synced)
}

func TestPushPending_FailuresDoNotAbortBatch(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	f.saveLocal(t, scan("a"), scan("bad"), scan("flaky"), scan("c"))

	f.records.FailInsert["bad"] = fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23502"})
	f.records.FailInsert["flaky"] = remotetest.ErrNetwork

	n, err := f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	local := f.localRecords(t)
	assert.True(t, local["a"].Synced)
	assert.True(t, local["c"].Synced)
	assert.False(t, local["bad"].Synced)
	assert.False(t, local["flaky"].Synced)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PushFailures))

	delete(f.records.FailInsert, "flaky")
	n, err = f.engine.PushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, f.localRecords(t)["flaky"].Synced)
}

func TestPushPending_ExistsErrorSkipsRecord(t *testing.T) {
	f := newFixture(t, true)
	f.saveLocal(t, scan("a"))
	f.records.ExistsErr = remotetest.ErrNetwork

	n, err := f.engine.PushPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, f.records.Inserts)
}

func TestPushUsers_LastWriterWins(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.profiles.Put(models.UserAccount{ID: "u1", Name: "Old", Email: "u1@example.com", Role: models.RoleDoctor})
	u := &models.UserAccount{ID: "u1", Name: "New", Email: "u1@example.com", Role: models.RoleDoctor, Status: models.StatusActive}
	require.NoError(t, f.store.Users(f.store.DB()).Upsert(ctx, u))

	n, err := f.engine.PushUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := f.profiles.Get("u1")
	require.True(t, ok)
	assert.Equal(t, "New", got.Name)
}

func TestPushUsers_FailureLogged(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	require.NoError(t, f.store.Users(f.store.DB()).Upsert(ctx,
		&models.UserAccount{ID: "u1", Email: "u1@example.com", Role: models.RolePatient, Status: models.StatusActive}))
	f.profiles.UpsertErr = remotetest.ErrNetwork

	n, err := f.engine.PushUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPullAll_MirrorsRemoteExactly(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.saveLocal(t, scan("stale"))
	f.records.Put(*scan("r1"))
	f.records.Put(*scan("r2"))
	f.profiles.Put(models.UserAccount{ID: "u1", Email: "u1@example.com", Role: models.RolePatient, Status: models.StatusActive})

	require.NoError(t, f.engine.PullAll(ctx))

	local := f.localRecords(t)
	assert.ElementsMatch(t, f.records.IDs(), keys(local))
	for _, r := range local {
		assert.True(t, r.Synced)
	}

	users, err := f.store.Users(f.store.DB()).GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestPullAll_PartialFetchFailureLeavesLocalUntouched(t *testing.T) {
	for _, failing := range []string{"records", "profiles"} {
		t.Run(failing, func(t *testing.T) {
			f := newFixture(t, true)
			ctx := context.Background()

			f.saveLocal(t, scan("keep"))
			require.NoError(t, f.store.Users(f.store.DB()).Upsert(ctx,
				&models.UserAccount{ID: "u-keep", Email: "k@example.com", Role: models.RolePatient, Status: models.StatusActive}))
			f.records.Put(*scan("remote"))

			if failing == "records" {
				f.records.SelectErr = remotetest.ErrNetwork
			} else {
				f.profiles.SelectErr = remotetest.ErrNetwork
			}

			err := f.engine.PullAll(ctx)
			require.ErrorIs(t, err, remotetest.ErrNetwork)

			assert.Equal(t, []string{"keep"}, keys(f.localRecords(t)))
			users, err := f.store.Users(f.store.DB()).GetAll(ctx)
			require.NoError(t, err)
			require.Len(t, users, 1)
			assert.Equal(t, "u-keep", users[0].ID)
		})
	}
}

func TestSyncAll_PullFailureReported(t *testing.T) {
	f := newFixture(t, true)
	f.saveLocal(t, scan("a"))
	f.profiles.SelectErr = remotetest.ErrNetwork

	res, err := f.engine.SyncAll(context.Background())
	require.Error(t, err)
	assert.False(t, res.Pulled)
	assert.Equal(t, 1, res.Pushed)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues("error")))
}

// A delete made while offline must not come back from the destructive pull.
func TestOfflineDelete_NotResurrectedByPull(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.saveLocal(t, scan("a"), scan("b"))
	_, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, f.records.IDs())

	f.net.Set(false)
	require.NoError(t, f.store.Records(f.store.DB()).Delete(ctx, "a"))
	require.NoError(t, f.store.Tombstones(f.store.DB()).Add(ctx, tombstones.Records, "a", time.Now()))
	assert.NotContains(t, keys(f.localRecords(t)), "a")

	f.net.Set(true)
	res, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	assert.Equal(t, []string{"b"}, keys(f.localRecords(t)))
	assert.Equal(t, []string{"b"}, f.records.IDs())
	n, err := f.store.Tombstones(f.store.DB()).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// Without a tombstone the destructive pull restores what the remote still has.
func TestBareLocalDelete_IsResurrectedByPull(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.saveLocal(t, scan("a"))
	_, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)

	require.NoError(t, f.store.Records(f.store.DB()).Delete(ctx, "a"))
	_, err = f.engine.SyncAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, keys(f.localRecords(t)))
}

func TestPushDeletes_FailureKeepsTombstoneAndPullSkips(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.records.Put(*scan("a"))
	f.profiles.Put(models.UserAccount{ID: "u1", Email: "u1@example.com", Role: models.RolePatient, Status: models.StatusActive})
	ts := f.store.Tombstones(f.store.DB())
	require.NoError(t, ts.Add(ctx, tombstones.Records, "a", time.Now()))
	require.NoError(t, ts.Add(ctx, tombstones.Users, "u1", time.Now()))
	f.records.DeleteErr = remotetest.ErrNetwork
	f.profiles.DeleteErr = remotetest.ErrNetwork

	res, err := f.engine.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deleted)

	assert.Empty(t, f.localRecords(t))
	users, err := f.store.Users(f.store.DB()).GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	n, err := ts.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Tombstones))
}

type gatedRecords struct {
	*remotetest.Records
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedRecords) SelectAll(ctx context.Context) ([]*models.ScanRecord, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.Records.SelectAll(ctx)
}

func TestSyncAll_ConcurrentCallersJoinOneRun(t *testing.T) {
	f := newFixture(t, true)
	gate := &gatedRecords{
		Records: f.records,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := New(f.store, gate, f.profiles, f.net, logging.Nop(), f.metrics)

	var (
		wg      sync.WaitGroup
		results [2]Result
		errs    [2]error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = e.SyncAll(context.Background())
	}()
	<-gate.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = e.SyncAll(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), gate.calls.Load())
	assert.Equal(t, results[0].RunID, results[1].RunID)
	assert.True(t, results[1].Shared)
}

func TestSyncAll_CallerCancelDoesNotAbortRun(t *testing.T) {
	f := newFixture(t, true)
	gate := &gatedRecords{
		Records: f.records,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := New(f.store, gate, f.profiles, f.net, logging.Nop(), f.metrics)
	f.saveLocal(t, scan("a"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.SyncAll(ctx)
		done <- err
	}()
	<-gate.entered
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	close(gate.release)
	res, err := e.SyncAll(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Pulled)
	assert.True(t, f.localRecords(t)["a"].Synced)
}

func TestStats(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.saveLocal(t, scan("a"), scan("b"))
	f.records.Put(*scan("r"))
	require.NoError(t, f.store.Users(f.store.DB()).Upsert(ctx,
		&models.UserAccount{ID: "u1", Email: "u1@example.com", Role: models.RolePatient, Status: models.StatusActive}))
	require.NoError(t, f.store.Tombstones(f.store.DB()).Add(ctx, tombstones.Records, "x", time.Now()))

	s, err := f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		LocalRecords:   2,
		RemoteRecords:  1,
		PendingRecords: 2,
		LocalUsers:     1,
		PendingDeletes: 1,
		Connected:      true,
	}, s)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.PendingRecords))

	f.net.Set(false)
	s, err = f.engine.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, s.Connected)
	assert.Equal(t, -1, s.RemoteRecords)
}

func TestBackground_Runs(t *testing.T) {
	f := newFixture(t, true)
	f.saveLocal(t, scan("a"))

	f.engine.Background(context.Background(), "test")

	require.Eventually(t, func() bool {
		r, ok := f.localRecords(t)["a"]
		return ok && r.Synced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose_WaitsForRunInFlight(t *testing.T) {
	f := newFixture(t, true)
	gate := &gatedRecords{
		Records: f.records,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e := New(f.store, gate, f.profiles, f.net, logging.Nop(), f.metrics)
	f.saveLocal(t, scan("a"))

	e.Background(context.Background(), "test")
	<-gate.entered

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a sync was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return after the sync finished")
	}
	assert.True(t, f.localRecords(t)["a"].Synced)

	_, err := e.SyncAll(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
