// Package profiles is the PostgreSQL table of user accounts.
//
// permissions is a TEXT[] column; it crosses the driver boundary as a
// comma-joined string so no array codec is needed on the Go side.
package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

type Repository interface {
	// Upsert writes the whole profile, last writer wins.
	Upsert(ctx context.Context, u *models.UserAccount) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)
	SelectAll(ctx context.Context) ([]*models.UserAccount, error)
	// GetByEmail returns models.ErrNotFound when no profile matches.
	GetByEmail(ctx context.Context, email string) (*models.UserAccount, error)
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id::text, email, name, phone_number, role, status, password,
	assigned_doctor_id, array_to_string(permissions, ','), last_login, created_at`

func (r *PostgresRepository) Upsert(ctx context.Context, u *models.UserAccount) error {
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	query := `INSERT INTO profiles (id, email, name, phone_number, role, status, password,
			assigned_doctor_id, permissions, last_login, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, string_to_array($9, ','), $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			name = EXCLUDED.name,
			phone_number = EXCLUDED.phone_number,
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			password = EXCLUDED.password,
			assigned_doctor_id = EXCLUDED.assigned_doctor_id,
			permissions = EXCLUDED.permissions,
			last_login = EXCLUDED.last_login,
			created_at = EXCLUDED.created_at`

	_, err := r.db.ExecContext(ctx, query,
		u.ID, u.Email, u.Name, u.PhoneNumber, string(u.Role), string(u.Status), u.PasswordHash,
		u.AssignedDoctorID, strings.Join(models.PermissionNames(u.Permissions), ","),
		dbx.Millis(u.LastLoginAt), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", u.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete profile %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) SelectAll(ctx context.Context) ([]*models.UserAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM profiles`)
	if err != nil {
		return nil, fmt.Errorf("failed to select profiles: %w", err)
	}
	defer rows.Close()

	var result []*models.UserAccount
	for rows.Next() {
		u, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetByEmail prefers an active account when several share the address.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM profiles WHERE lower(email) = $1
			ORDER BY (status = 'Active') DESC LIMIT 1`, models.NormalizeEmail(email))
	u, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile by email: %w", err)
	}
	return u, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(s scanner) (*models.UserAccount, error) {
	var (
		u            models.UserAccount
		role, status string
		perms        sql.NullString
		lastLogin    int64
		createdAt    time.Time
	)
	if err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PhoneNumber, &role, &status, &u.PasswordHash,
		&u.AssignedDoctorID, &perms, &lastLogin, &createdAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	u.Status = models.Status(status)
	if perms.String != "" {
		u.Permissions = models.ParsePermissions(strings.Split(perms.String, ","))
	}
	u.LastLoginAt = dbx.FromMillis(lastLogin)
	u.CreatedAt = createdAt.UTC()
	return &u, nil
}
