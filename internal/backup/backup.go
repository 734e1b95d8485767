// Package backup exports the local store to a JSON file and imports it back.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/mediscan/internal/cryptox"
	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
)

var (
	ErrNothingToExport = errors.New("nothing to export: local and remote stores are empty")
	ErrUnknownFormat   = errors.New("unrecognized backup format")
	ErrEncrypted       = errors.New("backup is encrypted and no passphrase is configured")
)

// Puller refreshes the local store from the remote one.
type Puller interface {
	Online() bool
	PullAll(ctx context.Context) error
}

// Counts reports how many entities were written or read. Remapped counts the
// imported accounts whose id was not a UUID and was replaced.
type Counts struct {
	Records  int
	Users    int
	Remapped int
}

// legacyIDSpace namespaces the UUIDs derived from non-UUID account ids, so the
// same old id always maps to the same new one across imports.
var legacyIDSpace = uuid.MustParse("5c0b3a52-8f0e-4f6b-9a57-2d1e7c4b9e10")

// accountID returns id unchanged when it is a UUID and a stable UUID derived
// from it otherwise. Empty stays empty.
func accountID(id string) string {
	if id == "" {
		return ""
	}
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(legacyIDSpace, []byte(id)).String()
}

type Service struct {
	store      *local.Store
	sync       Puller
	log        logging.Logger
	now        func() time.Time
	cost       int
	passphrase []byte
}

// New builds the service. sync may be nil.
func New(store *local.Store, sync Puller, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, sync: sync, log: log.With("module", "backup"), now: time.Now, cost: bcrypt.DefaultCost}
}

// SetPassphrase makes Export seal its output. Import needs the same
// passphrase to read sealed files; plain files are always accepted.
func (s *Service) SetPassphrase(p string) {
	s.passphrase = []byte(p)
}

// Export writes every local record and account to w. When there are no local
// records and the remote store is reachable, it pulls first.
func (s *Service) Export(ctx context.Context, w io.Writer) (Counts, error) {
	recs, err := s.store.Records(s.store.DB()).GetAll(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("export: %w", err)
	}
	if len(recs) == 0 && s.sync != nil && s.sync.Online() {
		if err := s.sync.PullAll(ctx); err != nil {
			s.log.Warn(ctx, "pull before export failed", "error", err)
		} else if recs, err = s.store.Records(s.store.DB()).GetAll(ctx); err != nil {
			return Counts{}, fmt.Errorf("export: %w", err)
		}
	}
	accounts, err := s.store.Users(s.store.DB()).GetAll(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("export: %w", err)
	}
	if len(recs) == 0 && len(accounts) == 0 {
		return Counts{}, ErrNothingToExport
	}

	f := File{
		Version:   FormatVersion,
		Timestamp: s.now().UTC(),
		Users:     make([]userJSON, 0, len(accounts)),
		Records:   make([]recordJSON, 0, len(recs)),
	}
	for _, u := range accounts {
		f.Users = append(f.Users, fromUser(u))
	}
	for _, r := range recs {
		f.Records = append(f.Records, fromRecord(r))
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return Counts{}, fmt.Errorf("encode backup: %w", err)
	}
	out := buf.Bytes()
	if len(s.passphrase) > 0 {
		if out, err = cryptox.Seal(out, s.passphrase); err != nil {
			return Counts{}, fmt.Errorf("encrypt backup: %w", err)
		}
	}
	if _, err := w.Write(out); err != nil {
		return Counts{}, fmt.Errorf("write backup: %w", err)
	}
	return Counts{Records: len(f.Records), Users: len(f.Users)}, nil
}

// Import merges a backup into the local store in one transaction, replacing
// entities with the same id. Records come back as pending so the next sync
// pushes them. Entries missing required fields are skipped. Passwords that
// are not bcrypt hashes (old plaintext exports) are hashed on the way in.
// Account ids that are not UUIDs are replaced with derived UUIDs, and record
// owners and doctor assignments follow them.
func (s *Service) Import(ctx context.Context, r io.Reader) (Counts, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Counts{}, fmt.Errorf("read backup: %w", err)
	}
	if cryptox.IsSealed(raw) {
		if len(s.passphrase) == 0 {
			return Counts{}, ErrEncrypted
		}
		if raw, err = cryptox.Open(raw, s.passphrase); err != nil {
			return Counts{}, fmt.Errorf("decrypt backup: %w", err)
		}
	}
	recs, accounts, err := decode(raw)
	if err != nil {
		return Counts{}, err
	}

	var counts Counts
	err = dbx.WithTx(ctx, s.store.DB(), nil, func(ctx context.Context, tx dbx.DBTX) error {
		rr, ur, ts := s.store.Records(tx), s.store.Users(tx), s.store.Tombstones(tx)

		for _, item := range recs {
			if item.ID == "" || item.Result == nil || item.Timestamp == 0 {
				continue
			}
			rec := item.toRecord()
			rec.OwnerID = accountID(rec.OwnerID)
			rec.Synced = false
			if err := rr.Upsert(ctx, rec); err != nil {
				return err
			}
			if err := ts.Remove(ctx, tombstones.Records, rec.ID); err != nil {
				return err
			}
			counts.Records++
		}

		for _, item := range accounts {
			u := item.toUser()
			if u.ID == "" || u.Email == "" || !u.Role.Valid() {
				continue
			}
			if id := accountID(u.ID); id != u.ID {
				s.log.Warn(ctx, "account id is not a UUID, replaced", "old", u.ID, "new", id)
				u.ID = id
				counts.Remapped++
			}
			u.AssignedDoctorID = accountID(u.AssignedDoctorID)
			if u.PasswordHash != "" {
				if _, err := bcrypt.Cost([]byte(u.PasswordHash)); err != nil {
					h, err := bcrypt.GenerateFromPassword([]byte(u.PasswordHash), s.cost)
					if err != nil {
						return fmt.Errorf("hash imported password: %w", err)
					}
					u.PasswordHash = string(h)
				}
			}
			if err := ur.Upsert(ctx, u); err != nil {
				return err
			}
			if err := ts.Remove(ctx, tombstones.Users, u.ID); err != nil {
				return err
			}
			counts.Users++
		}
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("import: %w", err)
	}
	s.log.Info(ctx, "backup imported", "records", counts.Records, "users", counts.Users, "remapped", counts.Remapped)
	return counts, nil
}

func decode(raw []byte) ([]recordJSON, []userJSON, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var recs []recordJSON
		if err := json.Unmarshal(trimmed, &recs); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrUnknownFormat, err)
		}
		return recs, nil, nil
	}

	var probe struct {
		Records *[]recordJSON `json:"records"`
		Users   *[]userJSON   `json:"users"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnknownFormat, err)
	}
	if probe.Records == nil && probe.Users == nil {
		return nil, nil, ErrUnknownFormat
	}
	var (
		recs     []recordJSON
		accounts []userJSON
	)
	if probe.Records != nil {
		recs = *probe.Records
	}
	if probe.Users != nil {
		accounts = *probe.Users
	}
	return recs, accounts, nil
}
