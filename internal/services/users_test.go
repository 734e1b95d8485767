package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/mediscan/internal/local/tombstones"
	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/remote/remotetest"
)

func (e *env) mustSave(t *testing.T, u *models.UserAccount, password string) *models.UserAccount {
	t.Helper()
	out, err := e.users.Save(context.Background(), u, password)
	require.NoError(t, err)
	return out
}

func (e *env) localUser(t *testing.T, id string) *models.UserAccount {
	t.Helper()
	u, err := e.store.Users(e.store.DB()).GetByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func TestLogin_CredentialMatrix(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	known := e.mustSave(t, &models.UserAccount{Name: "Known", Email: "known@x.com", Role: models.RoleDoctor}, "right")

	got, err := e.users.Login(ctx, "KNOWN@x.com", "right")
	require.NoError(t, err)
	assert.Equal(t, known.ID, got.ID)
	assert.Empty(t, got.PasswordHash)
	assert.Equal(t, e.now, e.localUser(t, known.ID).LastLoginAt)

	cur, err := e.session.Current()
	require.NoError(t, err)
	assert.Equal(t, known.ID, cur.ID)

	before := e.localUser(t, known.ID)
	e.now = e.now.Add(1)
	_, err = e.users.Login(ctx, "known@x.com", "wrong")
	assert.ErrorIs(t, err, ErrWrongSecret)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, before, e.localUser(t, known.ID))

	_, err = e.users.Login(ctx, "unknown@x.com", "right")
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_Inactive(t *testing.T) {
	e := newEnv(t, false)
	u := e.mustSave(t, &models.UserAccount{Name: "Off", Email: "off@x.com", Role: models.RolePatient}, "pw")
	require.NoError(t, e.users.SetStatus(context.Background(), u.ID, models.StatusInactive))

	_, err := e.users.Login(context.Background(), "off@x.com", "pw")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestLogin_RemoteFirstWhenOnline(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte("remote-pw"), bcrypt.MinCost)
	require.NoError(t, err)
	e.profiles.Put(models.UserAccount{
		ID: "r1", Name: "Remote Only", Email: "r@x.com", PasswordHash: string(hash),
		Role: models.RoleDoctor, Status: models.StatusActive,
	})

	got, err := e.users.Login(ctx, "r@x.com", "remote-pw")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)

	cached := e.localUser(t, "r1")
	assert.Equal(t, string(hash), cached.PasswordHash)
	assert.Equal(t, e.now, cached.LastLoginAt)

	remoteCopy, _ := e.profiles.Get("r1")
	assert.Equal(t, e.now, remoteCopy.LastLoginAt.UTC())
	assert.Equal(t, []string{"login"}, e.sync.triggers())
}

func TestLogin_FallsBackToLocalWhenRemoteFails(t *testing.T) {
	e := newEnv(t, true)
	e.mustSave(t, &models.UserAccount{Name: "L", Email: "l@x.com", Role: models.RolePatient}, "pw")
	e.profiles.GetErr = remotetest.ErrNetwork
	e.profiles.UpsertErr = remotetest.ErrNetwork

	got, err := e.users.Login(context.Background(), "l@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "L", got.Name)
}

func TestResetPassword(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	e.mustSave(t, &models.UserAccount{Name: "P", Email: "p@x.com", PhoneNumber: "+1 555-0100", Role: models.RolePatient}, "old")

	err := e.users.ResetPassword(ctx, "p@x.com", "+1 555-9999", "new")
	assert.ErrorIs(t, err, ErrPhoneMismatch)

	err = e.users.ResetPassword(ctx, "nobody@x.com", "+1 555-0100", "new")
	assert.ErrorIs(t, err, ErrEmailNotFound)

	err = e.users.ResetPassword(ctx, "p@x.com", "+15550100", "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	require.NoError(t, e.users.ResetPassword(ctx, "P@x.com", "+15550100", "new"))
	_, err = e.users.Login(ctx, "p@x.com", "old")
	assert.ErrorIs(t, err, ErrWrongSecret)
	_, err = e.users.Login(ctx, "p@x.com", "new")
	assert.NoError(t, err)
}

func TestUpdatePassword(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	u := e.mustSave(t, &models.UserAccount{Name: "D", Email: "d@x.com", Role: models.RoleDoctor}, "one")

	assert.ErrorIs(t, e.users.UpdatePassword(ctx, u.ID, "wrong", "two"), ErrWrongSecret)
	assert.ErrorIs(t, e.users.UpdatePassword(ctx, "missing", "one", "two"), ErrAccountNotFound)
	require.NoError(t, e.users.UpdatePassword(ctx, u.ID, "one", "two"))

	assert.NotContains(t, e.localUser(t, u.ID).PasswordHash, "two")
	_, err := e.users.Login(ctx, "d@x.com", "two")
	assert.NoError(t, err)
}

func TestUpdateProfile(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	a := e.mustSave(t, &models.UserAccount{Name: "A", Email: "a@x.com", Role: models.RoleDoctor}, "pw")
	e.mustSave(t, &models.UserAccount{Name: "B", Email: "b@x.com", Role: models.RoleDoctor}, "pw")

	_, err := e.users.Login(ctx, "a@x.com", "pw")
	require.NoError(t, err)

	_, err = e.users.UpdateProfile(ctx, a.ID, "A", "B@X.com", "")
	assert.ErrorIs(t, err, ErrEmailTaken)

	got, err := e.users.UpdateProfile(ctx, a.ID, "Alice", "alice@x.com", "+1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Name)

	cur, err := e.session.Current()
	require.NoError(t, err)
	assert.Equal(t, "alice@x.com", cur.Email)

	remoteCopy, ok := e.profiles.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "Alice", remoteCopy.Name)
}

func TestUpdateProfile_RemoteFailureDoesNotBlock(t *testing.T) {
	e := newEnv(t, true)
	a := e.mustSave(t, &models.UserAccount{Name: "A", Email: "a@x.com", Role: models.RoleDoctor}, "pw")
	e.profiles.UpsertErr = remotetest.ErrNetwork

	_, err := e.users.UpdateProfile(context.Background(), a.ID, "New", "a@x.com", "")
	require.NoError(t, err)
	assert.Equal(t, "New", e.localUser(t, a.ID).Name)
}

func TestSave_Rules(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	_, err := e.users.Save(ctx, &models.UserAccount{Name: "X", Email: "x@x.com", Role: models.RolePatient}, "")
	assert.ErrorIs(t, err, ErrPasswordRequired)

	_, err = e.users.Save(ctx, &models.UserAccount{Name: "X", Email: "x@x.com", Role: "Nurse"}, "pw")
	assert.ErrorIs(t, err, ErrInvalidAccount)

	// Profiles are keyed by UUID remotely; a legacy id would never sync.
	_, err = e.users.Save(ctx, &models.UserAccount{ID: "1", Name: "X", Email: "x@x.com", Role: models.RoleAdmin}, "pw")
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = e.store.Users(e.store.DB()).GetByID(ctx, "1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	doc := e.mustSave(t, &models.UserAccount{Name: "Doc", Email: "doc@x.com", Role: models.RoleDoctor}, "pw")
	pat := e.mustSave(t, &models.UserAccount{Name: "Pat", Email: "pat@x.com", Role: models.RolePatient}, "pw")

	_, err = e.users.Save(ctx, &models.UserAccount{Name: "Dup", Email: "DOC@x.com", Role: models.RolePatient}, "pw")
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, err = e.users.Save(ctx, &models.UserAccount{Name: "P2", Email: "p2@x.com", Role: models.RolePatient, AssignedDoctorID: pat.ID}, "pw")
	assert.ErrorIs(t, err, ErrInvalidAssignment)

	_, err = e.users.Save(ctx, &models.UserAccount{Name: "P3", Email: "p3@x.com", Role: models.RolePatient, AssignedDoctorID: "ghost"}, "pw")
	assert.ErrorIs(t, err, ErrInvalidAssignment)

	p4 := e.mustSave(t, &models.UserAccount{Name: "P4", Email: "p4@x.com", Role: models.RolePatient, AssignedDoctorID: doc.ID}, "pw")
	hash := e.localUser(t, p4.ID).PasswordHash

	// Update without password keeps the hash.
	p4.Name = "Patient Four"
	e.mustSave(t, p4, "")
	assert.Equal(t, hash, e.localUser(t, p4.ID).PasswordHash)
	assert.Equal(t, "Patient Four", e.localUser(t, p4.ID).Name)
}

func TestSave_SupervisorPermissionsNormalized(t *testing.T) {
	e := newEnv(t, false)
	sup := e.mustSave(t, &models.UserAccount{
		Name: "S", Email: "s@x.com", Role: models.RoleSupervisor,
		Permissions: []models.Permission{"view_reports", "bogus", "view_reports"},
	}, "pw")
	assert.Equal(t, []models.Permission{models.PermViewReports}, sup.Permissions)
}

func TestQueries(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	doc := e.mustSave(t, &models.UserAccount{Name: "Doc", Email: "doc@x.com", Role: models.RoleDoctor}, "pw")
	admin := e.mustSave(t, &models.UserAccount{Name: "Admin", Email: "admin@x.com", Role: models.RoleAdmin}, "pw")
	e.mustSave(t, &models.UserAccount{Name: "Pa", Email: "pa@x.com", Role: models.RolePatient, AssignedDoctorID: doc.ID}, "pw")
	e.mustSave(t, &models.UserAccount{Name: "Pb", Email: "pb@x.com", Role: models.RolePatient, AssignedDoctorID: admin.ID}, "pw")
	off := e.mustSave(t, &models.UserAccount{Name: "Pc", Email: "pc@x.com", Role: models.RolePatient, AssignedDoctorID: doc.ID}, "pw")
	require.NoError(t, e.users.SetStatus(ctx, off.ID, models.StatusInactive))

	names := func(us []models.UserAccount) []string {
		out := []string{}
		for _, u := range us {
			assert.Empty(t, u.PasswordHash)
			out = append(out, u.Name)
		}
		return out
	}

	all, err := e.users.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Doc", "Pa", "Pb", "Pc"}, names(all))

	patients, err := e.users.Patients(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pa", "Pb"}, names(patients))

	mine, err := e.users.PatientsForDoctor(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pa"}, names(mine))

	doctors, err := e.users.Doctors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Doc"}, names(doctors))

	_, err = e.users.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSetStatus_ReactivationChecksEmail(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	old := e.mustSave(t, &models.UserAccount{Name: "Old", Email: "same@x.com", Role: models.RolePatient}, "pw")
	require.NoError(t, e.users.SetStatus(ctx, old.ID, models.StatusInactive))
	e.mustSave(t, &models.UserAccount{Name: "New", Email: "same@x.com", Role: models.RolePatient}, "pw")

	assert.ErrorIs(t, e.users.SetStatus(ctx, old.ID, models.StatusActive), ErrEmailTaken)
	assert.ErrorIs(t, e.users.SetStatus(ctx, old.ID, "Gone"), ErrInvalidAccount)
}

func TestDeleteUser(t *testing.T) {
	e := newEnv(t, true)
	ctx := context.Background()
	u := e.mustSave(t, &models.UserAccount{Name: "U", Email: "u@x.com", Role: models.RolePatient}, "pw")
	_, ok := e.profiles.Get(u.ID)
	require.True(t, ok)

	require.NoError(t, e.users.Delete(ctx, u.ID))
	_, ok = e.profiles.Get(u.ID)
	assert.False(t, ok)
	_, err := e.users.Get(ctx, u.ID)
	assert.ErrorIs(t, err, ErrAccountNotFound)

	assert.ErrorIs(t, e.users.Delete(ctx, u.ID), ErrAccountNotFound)
}

func TestDeleteUser_OfflineTombstone(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	u := e.mustSave(t, &models.UserAccount{Name: "U", Email: "u@x.com", Role: models.RolePatient}, "pw")

	require.NoError(t, e.users.Delete(ctx, u.ID))
	list, err := e.store.Tombstones(e.store.DB()).List(ctx, tombstones.Users)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, u.ID, list[0].ID)
}

func TestEnsureBootstrapAdmin(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()

	created, err := e.users.EnsureBootstrapAdmin(ctx, "", "")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = e.users.EnsureBootstrapAdmin(ctx, "root@x.com", "pw")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = e.users.EnsureBootstrapAdmin(ctx, "root2@x.com", "pw")
	require.NoError(t, err)
	assert.False(t, created)

	got, err := e.users.Login(ctx, "root@x.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, got.Role)
}

func TestLogout(t *testing.T) {
	e := newEnv(t, false)
	ctx := context.Background()
	e.mustSave(t, &models.UserAccount{Name: "U", Email: "u@x.com", Role: models.RolePatient}, "pw")
	_, err := e.users.Login(ctx, "u@x.com", "pw")
	require.NoError(t, err)

	require.NoError(t, e.users.Logout(ctx))
	_, err = e.session.Current()
	assert.Error(t, err)
}
