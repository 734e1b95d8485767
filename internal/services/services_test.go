package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/localtest"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/remote/remotetest"
	"github.com/dmitrijs2005/mediscan/internal/session"
)

// fakeSyncer records background triggers instead of syncing.
type fakeSyncer struct {
	*remotetest.Switch
	mu      sync.Mutex
	reasons []string
}

func (f *fakeSyncer) Background(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func (f *fakeSyncer) triggers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reasons...)
}

type env struct {
	store    *local.Store
	records  *remotetest.Records
	profiles *remotetest.Profiles
	sync     *fakeSyncer
	session  *session.Manager
	recs     *RecordService
	users    *UserService
	now      time.Time
}

func newEnv(t *testing.T, online bool) *env {
	t.Helper()
	store, err := local.Open(context.Background(), localtest.DSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := &env{
		store:    store,
		records:  remotetest.NewRecords(),
		profiles: remotetest.NewProfiles(),
		sync:     &fakeSyncer{Switch: remotetest.NewSwitch(online)},
		now:      time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e.session = session.NewManager(store.Metadata(store.DB()), "secret", time.Hour)
	e.recs = NewRecordService(store, e.records, e.sync, logging.Nop())
	e.users = NewUserService(store, e.profiles, e.sync, e.session, logging.Nop())
	e.users.cost = bcrypt.MinCost
	e.users.now = func() time.Time { return e.now }
	return e
}
