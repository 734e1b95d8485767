// Package services is the domain-facing API over the local store, the remote
// store and the sync engine. Callers never touch the stores directly.
//
// The local write always happens first and decides the result. Remote writes
// are best effort: a failure is logged and left for the next reconciliation.
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote/records"
)

// Syncer is the part of the sync engine the services need.
type Syncer interface {
	Online() bool
	Background(ctx context.Context, reason string)
}

type RecordService struct {
	store  *local.Store
	remote records.Repository
	sync   Syncer
	log    logging.Logger
	now    func() time.Time
}

// NewRecordService wires the record API. remote may be nil when no remote
// store is configured.
func NewRecordService(store *local.Store, remote records.Repository, sync Syncer, log logging.Logger) *RecordService {
	if log == nil {
		log = logging.Nop()
	}
	return &RecordService{store: store, remote: remote, sync: sync, log: log.With("module", "records"), now: time.Now}
}

func (s *RecordService) online() bool {
	return s.remote != nil && s.sync.Online()
}

// Save stores rec locally as pending, then tries a single remote insert when
// online. Only the local write can fail the call. Missing id and creation
// time are filled in.
func (s *RecordService) Save(ctx context.Context, rec *models.ScanRecord) error {
	if err := rec.Report.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	repo := s.store.Records(s.store.DB())
	rec.Synced = false
	if err := repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}

	if !s.online() {
		return nil
	}
	if err := s.remote.Insert(ctx, rec); err != nil {
		s.log.Warn(ctx, "remote insert failed, record left pending", "id", rec.ID, "error", err)
		return nil
	}

	rec.Synced = true
	if err := repo.Upsert(ctx, rec); err != nil {
		// The next PushPending finds it remotely and only marks it.
		rec.Synced = false
		s.log.Warn(ctx, "could not mark record synced", "id", rec.ID, "error", err)
	}
	return nil
}

// List returns every local record, newest first. When online it also starts
// a background reconciliation that this call does not wait for.
func (s *RecordService) List(ctx context.Context) ([]*models.ScanRecord, error) {
	out, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	if s.online() {
		s.sync.Background(ctx, "list")
	}
	return out, nil
}

func (s *RecordService) list(ctx context.Context) ([]*models.ScanRecord, error) {
	all, err := s.store.Records(s.store.DB()).GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	return all, nil
}

// Get returns models.ErrNotFound for an unknown id.
func (s *RecordService) Get(ctx context.Context, id string) (*models.ScanRecord, error) {
	return s.store.Records(s.store.DB()).GetByID(ctx, id)
}

// Delete removes the record locally and, best effort, remotely. It returns
// the refreshed local list.
func (s *RecordService) Delete(ctx context.Context, id string) ([]*models.ScanRecord, error) {
	var remoteDelete func(context.Context, string) (bool, error)
	if s.remote != nil {
		remoteDelete = s.remote.Delete
	}
	if err := deleteEverywhere(ctx, s.store, tombstones.Records, id, s.now(), s.online(), remoteDelete, s.log); err != nil {
		return nil, err
	}
	return s.list(ctx)
}

// VisibleTo filters recs down to what viewer may read: patients see their
// own records, doctors their own and their patients', everyone holding
// view_reports sees all.
func VisibleTo(recs []*models.ScanRecord, viewer models.UserAccount, patientsOf map[string]struct{}) []*models.ScanRecord {
	if viewer.Role != models.RolePatient && viewer.Role != models.RoleDoctor && viewer.Can(models.PermViewReports) {
		return recs
	}
	out := make([]*models.ScanRecord, 0, len(recs))
	for _, r := range recs {
		_, mine := patientsOf[r.OwnerID]
		if r.OwnerID == viewer.ID || (viewer.Role == models.RoleDoctor && mine) {
			out = append(out, r)
		}
	}
	return out
}
