package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/mediscan/internal/models"
	"github.com/dmitrijs2005/mediscan/internal/services"
)

func (a *App) cmdLogin(ctx context.Context, args []string) error {
	var (
		email string
		err   error
	)
	if len(args) > 0 {
		email = args[0]
	} else if email, err = GetSimpleText(a.reader, "Email", a.out); err != nil {
		return err
	}
	password, err := GetPassword(a.reader, "Password", a.out)
	if err != nil {
		return err
	}

	u, err := a.users.Login(ctx, email, password)
	switch {
	case errors.Is(err, services.ErrAccountInactive):
		return errors.New("this account is inactive, contact an administrator")
	case errors.Is(err, services.ErrInvalidCredentials):
		return errors.New("invalid email or password")
	case err != nil:
		return err
	}

	fmt.Fprintf(a.out, "Welcome, %s (%s)\n", u.Name, u.Role)
	return nil
}

func (a *App) cmdLogout(ctx context.Context, _ []string) error {
	if err := a.users.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func (a *App) cmdReset(ctx context.Context, _ []string) error {
	email, err := GetSimpleText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	phone, err := GetSimpleText(a.reader, "Phone number on file", a.out)
	if err != nil {
		return err
	}
	password, err := a.newPassword()
	if err != nil {
		return err
	}
	if err := a.users.ResetPassword(ctx, email, phone, password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password updated, you can log in now")
	return nil
}

// newPassword asks twice.
func (a *App) newPassword() (string, error) {
	pw, err := GetPassword(a.reader, "New password", a.out)
	if err != nil {
		return "", err
	}
	again, err := GetPassword(a.reader, "Repeat new password", a.out)
	if err != nil {
		return "", err
	}
	if pw != again {
		return "", errors.New("passwords do not match")
	}
	return pw, nil
}

func (a *App) cmdPasswd(ctx context.Context, _ []string) error {
	viewer, _ := a.current()
	old, err := GetPassword(a.reader, "Current password", a.out)
	if err != nil {
		return err
	}
	pw, err := a.newPassword()
	if err != nil {
		return err
	}
	if err := a.users.UpdatePassword(ctx, viewer.ID, old, pw); err != nil {
		if errors.Is(err, services.ErrWrongSecret) {
			return errors.New("current password is wrong")
		}
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}

func (a *App) cmdProfile(ctx context.Context, args []string) error {
	viewer, _ := a.current()
	if len(args) > 0 && args[0] == "edit" {
		name, err := GetTextDefault(a.reader, "Name", viewer.Name, a.out)
		if err != nil {
			return err
		}
		email, err := GetTextDefault(a.reader, "Email", viewer.Email, a.out)
		if err != nil {
			return err
		}
		phone, err := GetTextDefault(a.reader, "Phone", viewer.PhoneNumber, a.out)
		if err != nil {
			return err
		}
		if _, err := a.users.UpdateProfile(ctx, viewer.ID, name, email, phone); err != nil {
			return err
		}
		viewer, _ = a.current()
	}

	fmt.Fprintf(a.out, "Id:     %s\nName:   %s\nEmail:  %s\nPhone:  %s\nRole:   %s\nStatus: %s\n",
		viewer.ID, viewer.Name, viewer.Email, viewer.PhoneNumber, viewer.Role, viewer.Status)
	if viewer.Role == models.RoleSupervisor {
		fmt.Fprintf(a.out, "Permissions: %s\n", strings.Join(models.PermissionNames(viewer.Permissions), ", "))
	}
	return nil
}

func (a *App) cmdUsers(ctx context.Context, _ []string) error {
	viewer, _ := a.current()

	var (
		list []models.UserAccount
		err  error
	)
	if viewer.Role == models.RoleDoctor {
		list, err = a.users.PatientsForDoctor(ctx, viewer.ID)
	} else {
		list, err = a.users.List(ctx)
	}
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No accounts.")
		return nil
	}
	for _, u := range list {
		fmt.Fprintf(a.out, "%s  %-20s %-28s %-10s %s\n", u.ID, u.Name, u.Email, u.Role, u.Status)
	}
	return nil
}

func (a *App) cmdAddUser(ctx context.Context, _ []string) error {
	viewer, _ := a.current()

	acct := &models.UserAccount{Status: models.StatusActive}
	var err error
	if acct.Name, err = GetSimpleText(a.reader, "Name", a.out); err != nil {
		return err
	}
	if acct.Email, err = GetSimpleText(a.reader, "Email", a.out); err != nil {
		return err
	}
	if acct.PhoneNumber, err = GetSimpleText(a.reader, "Phone (optional)", a.out); err != nil {
		return err
	}

	if viewer.Role == models.RoleDoctor {
		// doctors only register their own patients
		acct.Role = models.RolePatient
		acct.AssignedDoctorID = viewer.ID
	} else {
		raw, err := GetTextDefault(a.reader, "Role (Admin, Doctor, Supervisor, Patient)", string(models.RolePatient), a.out)
		if err != nil {
			return err
		}
		role, ok := models.ParseRole(raw)
		if !ok {
			return fmt.Errorf("unknown role %q", raw)
		}
		acct.Role = role

		switch role {
		case models.RolePatient:
			if acct.AssignedDoctorID, err = GetSimpleText(a.reader, "Assigned doctor id (optional)", a.out); err != nil {
				return err
			}
		case models.RoleSupervisor:
			raw, err := GetSimpleText(a.reader, "Permissions, comma separated", a.out)
			if err != nil {
				return err
			}
			acct.Permissions = models.ParsePermissions(splitList(raw))
		}
	}

	password, err := a.newPassword()
	if err != nil {
		return err
	}
	saved, err := a.users.Save(ctx, acct, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s %s (%s)\n", saved.Role, saved.Email, saved.ID)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// managed loads an account the signed-in user may administer.
func (a *App) managed(ctx context.Context, name string, args []string) (*models.UserAccount, error) {
	if len(args) != 1 {
		return nil, usageError(name)
	}
	viewer, _ := a.current()
	if args[0] == viewer.ID {
		return nil, errors.New("you cannot change your own account this way")
	}
	target, err := a.users.Get(ctx, args[0])
	if err != nil {
		return nil, err
	}
	if viewer.Role == models.RoleDoctor && !canActFor(viewer, *target) {
		return nil, errors.New("doctors may only manage their own patients")
	}
	return target, nil
}

func (a *App) setStatus(ctx context.Context, name string, args []string, status models.Status) error {
	target, err := a.managed(ctx, name, args)
	if err != nil {
		return err
	}
	if err := a.users.SetStatus(ctx, target.ID, status); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s is now %s\n", target.Email, status)
	return nil
}

func (a *App) cmdActivate(ctx context.Context, args []string) error {
	return a.setStatus(ctx, "activate", args, models.StatusActive)
}

func (a *App) cmdDeactivate(ctx context.Context, args []string) error {
	return a.setStatus(ctx, "deactivate", args, models.StatusInactive)
}

func (a *App) cmdDelUser(ctx context.Context, args []string) error {
	target, err := a.managed(ctx, "deluser", args)
	if err != nil {
		return err
	}
	if err := a.users.Delete(ctx, target.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", target.Email)
	return nil
}
