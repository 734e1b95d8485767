// Package remotetest provides in-memory stand-ins for the remote repositories.
package remotetest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote/profiles"
	"github.com/dmitrijs2005/mediscan/internal/remote/records"
)

var (
	_ records.Repository  = (*Records)(nil)
	_ profiles.Repository = (*Profiles)(nil)
)

// ErrNetwork mimics a transport failure.
var ErrNetwork = errors.New("fake: network unreachable")

// Records is an in-memory records.Repository. Set the *Err fields to inject
// failures; FailInsert fails only the listed ids.
type Records struct {
	mu         sync.Mutex
	rows       map[string]models.ScanRecord
	Inserts    int
	SelectErr  error
	DeleteErr  error
	ExistsErr  error
	FailInsert map[string]error
}

func NewRecords() *Records {
	return &Records{rows: map[string]models.ScanRecord{}, FailInsert: map[string]error{}}
}

func (f *Records) Insert(_ context.Context, r *models.ScanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FailInsert[r.ID]; err != nil {
		return err
	}
	if _, ok := f.rows[r.ID]; ok {
		return errors.New("fake: duplicate key")
	}
	f.Inserts++
	cp := *r
	cp.Synced = false
	f.rows[r.ID] = cp
	return nil
}

func (f *Records) Upsert(_ context.Context, r *models.ScanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	cp.Synced = false
	f.rows[r.ID] = cp
	return nil
}

func (f *Records) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return false, f.DeleteErr
	}
	_, ok := f.rows[id]
	delete(f.rows, id)
	return ok, nil
}

func (f *Records) SelectAll(context.Context) ([]*models.ScanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SelectErr != nil {
		return nil, f.SelectErr
	}
	out := make([]*models.ScanRecord, 0, len(f.rows))
	for _, r := range f.rows {
		cp := r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Records) Exists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ExistsErr != nil {
		return false, f.ExistsErr
	}
	_, ok := f.rows[id]
	return ok, nil
}

func (f *Records) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SelectErr != nil {
		return 0, f.SelectErr
	}
	return len(f.rows), nil
}

// Put seeds a row directly.
func (f *Records) Put(r models.ScanRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[r.ID] = r
}

// IDs returns the stored ids sorted.
func (f *Records) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.rows))
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Profiles is an in-memory profiles.Repository.
type Profiles struct {
	mu        sync.Mutex
	rows      map[string]models.UserAccount
	Upserts   int
	UpsertErr error
	SelectErr error
	DeleteErr error
	GetErr    error
}

func NewProfiles() *Profiles {
	return &Profiles{rows: map[string]models.UserAccount{}}
}

func (f *Profiles) Upsert(_ context.Context, u *models.UserAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	f.Upserts++
	f.rows[u.ID] = *u
	return nil
}

func (f *Profiles) Delete(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return false, f.DeleteErr
	}
	_, ok := f.rows[id]
	delete(f.rows, id)
	return ok, nil
}

func (f *Profiles) SelectAll(context.Context) ([]*models.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SelectErr != nil {
		return nil, f.SelectErr
	}
	out := make([]*models.UserAccount, 0, len(f.rows))
	for _, u := range f.rows {
		cp := u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *Profiles) GetByEmail(_ context.Context, email string) (*models.UserAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	for _, u := range f.rows {
		if models.NormalizeEmail(u.Email) == models.NormalizeEmail(email) {
			cp := u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// Get returns a stored profile by id.
func (f *Profiles) Get(id string) (models.UserAccount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.rows[id]
	return u, ok
}

// Put seeds a profile directly.
func (f *Profiles) Put(u models.UserAccount) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[u.ID] = u
}

// Switch is a settable connectivity flag.
type Switch struct {
	mu sync.Mutex
	on bool
}

func NewSwitch(on bool) *Switch { return &Switch{on: on} }

func (s *Switch) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.on
}

func (s *Switch) Set(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on = on
}
