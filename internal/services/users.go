package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/mediscan/internal/local"
	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/logging"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote/profiles"
	"github.com/dmitrijs2005/mediscan/internal/session"
)

type UserService struct {
	store   *local.Store
	remote  profiles.Repository
	sync    Syncer
	session *session.Manager
	log     logging.Logger
	now     func() time.Time
	cost    int
}

// NewUserService wires the account API. remote may be nil when no remote
// store is configured.
func NewUserService(store *local.Store, remote profiles.Repository, sync Syncer, sess *session.Manager, log logging.Logger) *UserService {
	if log == nil {
		log = logging.Nop()
	}
	return &UserService{
		store:   store,
		remote:  remote,
		sync:    sync,
		session: sess,
		log:     log.With("module", "users"),
		now:     time.Now,
		cost:    bcrypt.DefaultCost,
	}
}

func (s *UserService) online() bool {
	return s.remote != nil && s.sync.Online()
}

func (s *UserService) hash(password string) (string, error) {
	if password == "" {
		return "", ErrPasswordRequired
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

func verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login checks the credentials against the remote profile first when online,
// then against the local copy. Wrong credentials are an expected outcome
// reported through ErrInvalidCredentials. On success lastLoginAt is updated,
// a session is started and a background sync is kicked off.
func (s *UserService) Login(ctx context.Context, email, password string) (*models.UserAccount, error) {
	var acct *models.UserAccount

	if s.online() {
		remoteAcct, err := s.remote.GetByEmail(ctx, email)
		switch {
		case err == nil && verify(remoteAcct.PasswordHash, password) && remoteAcct.IsActive():
			acct = remoteAcct
		case err != nil && !errors.Is(err, models.ErrNotFound):
			s.log.Warn(ctx, "remote login unavailable, using local accounts", "error", err)
		}
	}

	if acct == nil {
		localAcct, err := s.store.Users(s.store.DB()).GetByEmail(ctx, email)
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("login: %w", err)
		}
		if !verify(localAcct.PasswordHash, password) {
			return nil, ErrWrongSecret
		}
		if !localAcct.IsActive() {
			return nil, ErrAccountInactive
		}
		acct = localAcct
	}

	acct.LastLoginAt = s.now().UTC()
	if err := s.persist(ctx, acct); err != nil {
		return nil, err
	}
	if s.session != nil {
		if _, err := s.session.Start(ctx, acct); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLocalWrite, err)
		}
	}
	if s.online() {
		s.sync.Background(ctx, "login")
	}

	out := acct.Public()
	return &out, nil
}

// Logout ends the session.
func (s *UserService) Logout(ctx context.Context) error {
	if s.session == nil {
		return nil
	}
	return s.session.End(ctx)
}

// ResetPassword requires both the email and the phone number on file.
func (s *UserService) ResetPassword(ctx context.Context, email, phone, newPassword string) error {
	acct, err := s.store.Users(s.store.DB()).GetByEmail(ctx, email)
	if errors.Is(err, models.ErrNotFound) {
		return ErrEmailNotFound
	}
	if err != nil {
		return fmt.Errorf("reset password: %w", err)
	}
	if acct.PhoneNumber == "" || normalizePhone(acct.PhoneNumber) != normalizePhone(phone) {
		return ErrPhoneMismatch
	}

	h, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	acct.PasswordHash = h
	return s.persist(ctx, acct)
}

// UpdatePassword requires the current password.
func (s *UserService) UpdatePassword(ctx context.Context, id, oldPassword, newPassword string) error {
	acct, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !verify(acct.PasswordHash, oldPassword) {
		return ErrWrongSecret
	}
	h, err := s.hash(newPassword)
	if err != nil {
		return err
	}
	acct.PasswordHash = h
	return s.persist(ctx, acct)
}

// UpdateProfile changes contact details. The email must not belong to another
// active account.
func (s *UserService) UpdateProfile(ctx context.Context, id, name, email, phone string) (*models.UserAccount, error) {
	acct, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	name, email = strings.TrimSpace(name), strings.TrimSpace(email)
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email are required", ErrInvalidAccount)
	}
	if err := s.checkEmail(ctx, email, acct.ID); err != nil {
		return nil, err
	}

	acct.Name, acct.Email, acct.PhoneNumber = name, email, strings.TrimSpace(phone)
	if err := s.persist(ctx, acct); err != nil {
		return nil, err
	}
	out := acct.Public()
	return &out, nil
}

// Save creates (empty ID) or replaces an account. A new account needs a
// password; for an existing one an empty password keeps the current hash.
func (s *UserService) Save(ctx context.Context, in *models.UserAccount, password string) (*models.UserAccount, error) {
	acct := *in
	acct.Name, acct.Email = strings.TrimSpace(acct.Name), strings.TrimSpace(acct.Email)
	if acct.Name == "" || acct.Email == "" || !acct.Role.Valid() {
		return nil, fmt.Errorf("%w: name, email and a known role are required", ErrInvalidAccount)
	}
	if acct.Status == "" {
		acct.Status = models.StatusActive
	}

	if acct.ID == "" {
		acct.ID = uuid.NewString()
		acct.CreatedAt = s.now().UTC()
		h, err := s.hash(password)
		if err != nil {
			return nil, err
		}
		acct.PasswordHash = h
	} else {
		if _, err := uuid.Parse(acct.ID); err != nil {
			return nil, fmt.Errorf("%w: id %q is not a UUID", ErrInvalidAccount, acct.ID)
		}
		existing, err := s.store.Users(s.store.DB()).GetByID(ctx, acct.ID)
		switch {
		case errors.Is(err, models.ErrNotFound):
			if password == "" {
				return nil, ErrPasswordRequired
			}
		case err != nil:
			return nil, fmt.Errorf("load account: %w", err)
		default:
			acct.PasswordHash = existing.PasswordHash
			acct.CreatedAt = existing.CreatedAt
			acct.LastLoginAt = existing.LastLoginAt
		}
		if password != "" {
			h, err := s.hash(password)
			if err != nil {
				return nil, err
			}
			acct.PasswordHash = h
		}
		if acct.CreatedAt.IsZero() {
			acct.CreatedAt = s.now().UTC()
		}
	}

	if acct.IsActive() {
		if err := s.checkEmail(ctx, acct.Email, acct.ID); err != nil {
			return nil, err
		}
	}
	if err := s.checkAssignment(ctx, &acct); err != nil {
		return nil, err
	}
	acct.Permissions = models.ParsePermissions(models.PermissionNames(acct.Permissions))

	if err := s.persist(ctx, &acct); err != nil {
		return nil, err
	}
	out := acct.Public()
	return &out, nil
}

// SetStatus activates or soft-disables an account.
func (s *UserService) SetStatus(ctx context.Context, id string, status models.Status) error {
	if status != models.StatusActive && status != models.StatusInactive {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAccount, status)
	}
	acct, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if status == models.StatusActive {
		if err := s.checkEmail(ctx, acct.Email, acct.ID); err != nil {
			return err
		}
	}
	acct.Status = status
	return s.persist(ctx, acct)
}

// Delete hard-deletes an account from both stores.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if _, err := s.get(ctx, id); err != nil {
		return err
	}
	var remoteDelete func(context.Context, string) (bool, error)
	if s.remote != nil {
		remoteDelete = s.remote.Delete
	}
	return deleteEverywhere(ctx, s.store, tombstones.Users, id, s.now(), s.online(), remoteDelete, s.log)
}

// Get returns the public profile or ErrAccountNotFound.
func (s *UserService) Get(ctx context.Context, id string) (*models.UserAccount, error) {
	acct, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := acct.Public()
	return &out, nil
}

// List returns every account sorted by name.
func (s *UserService) List(ctx context.Context) ([]models.UserAccount, error) {
	return s.filter(ctx, func(*models.UserAccount) bool { return true })
}

// Patients returns active patients.
func (s *UserService) Patients(ctx context.Context) ([]models.UserAccount, error) {
	return s.filter(ctx, func(u *models.UserAccount) bool {
		return u.Role == models.RolePatient && u.IsActive()
	})
}

// PatientsForDoctor returns the active patients assigned to doctorID.
func (s *UserService) PatientsForDoctor(ctx context.Context, doctorID string) ([]models.UserAccount, error) {
	return s.filter(ctx, func(u *models.UserAccount) bool {
		return u.Role == models.RolePatient && u.IsActive() && u.AssignedDoctorID == doctorID
	})
}

// Doctors returns the active accounts patients may be assigned to.
func (s *UserService) Doctors(ctx context.Context) ([]models.UserAccount, error) {
	return s.filter(ctx, func(u *models.UserAccount) bool { return u.CanTreat() && u.IsActive() })
}

// EnsureBootstrapAdmin creates the first Admin when there are no accounts at
// all. It reports whether an account was created.
func (s *UserService) EnsureBootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	n, err := s.store.Users(s.store.DB()).Count(ctx)
	if err != nil {
		return false, fmt.Errorf("count accounts: %w", err)
	}
	if n > 0 {
		return false, nil
	}
	_, err = s.Save(ctx, &models.UserAccount{
		Name:   "Administrator",
		Email:  email,
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	}, password)
	if err != nil {
		return false, err
	}
	s.log.Info(ctx, "bootstrap admin created", "email", email)
	return true, nil
}

func (s *UserService) get(ctx context.Context, id string) (*models.UserAccount, error) {
	acct, err := s.store.Users(s.store.DB()).GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return acct, nil
}

func (s *UserService) filter(ctx context.Context, keep func(*models.UserAccount) bool) ([]models.UserAccount, error) {
	all, err := s.store.Users(s.store.DB()).GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]models.UserAccount, 0, len(all))
	for _, u := range all {
		if keep(u) {
			out = append(out, u.Public())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// checkEmail fails when another active account already uses email.
func (s *UserService) checkEmail(ctx context.Context, email, selfID string) error {
	all, err := s.store.Users(s.store.DB()).GetAll(ctx)
	if err != nil {
		return fmt.Errorf("check email: %w", err)
	}
	want := models.NormalizeEmail(email)
	for _, u := range all {
		if u.ID != selfID && u.IsActive() && models.NormalizeEmail(u.Email) == want {
			return ErrEmailTaken
		}
	}
	return nil
}

func (s *UserService) checkAssignment(ctx context.Context, acct *models.UserAccount) error {
	if acct.Role != models.RolePatient || acct.AssignedDoctorID == "" {
		return nil
	}
	doc, err := s.store.Users(s.store.DB()).GetByID(ctx, acct.AssignedDoctorID)
	if errors.Is(err, models.ErrNotFound) {
		return ErrInvalidAssignment
	}
	if err != nil {
		return fmt.Errorf("check assignment: %w", err)
	}
	if !doc.CanTreat() || !doc.IsActive() {
		return ErrInvalidAssignment
	}
	return nil
}

// persist writes the account locally, refreshes the session when it is the
// signed-in account, then upserts remotely when online.
func (s *UserService) persist(ctx context.Context, acct *models.UserAccount) error {
	if err := s.store.Users(s.store.DB()).Upsert(ctx, acct); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalWrite, err)
	}
	if s.session != nil {
		if err := s.session.Refresh(ctx, acct); err != nil {
			return fmt.Errorf("%w: %w", ErrLocalWrite, err)
		}
	}
	if s.online() {
		if err := s.remote.Upsert(ctx, acct); err != nil {
			s.log.Warn(ctx, "remote profile write failed, will retry on sync", "id", acct.ID, "error", err)
		}
	}
	return nil
}

func normalizePhone(p string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) || r == '+' {
			return r
		}
		return -1
	}, p)
}
