package users

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

const selectColumns = `id, name, email, phone_number, password_hash, role, status,
	last_login, assigned_doctor_id, permissions, created_at`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, u *models.UserAccount) error {
	perms, err := json.Marshal(models.PermissionNames(u.Permissions))
	if err != nil {
		return fmt.Errorf("failed to encode permissions: %w", err)
	}

	query := `INSERT INTO users (id, name, email, phone_number, password_hash, role, status,
			last_login, assigned_doctor_id, permissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone_number = excluded.phone_number,
			password_hash = excluded.password_hash,
			role = excluded.role,
			status = excluded.status,
			last_login = excluded.last_login,
			assigned_doctor_id = excluded.assigned_doctor_id,
			permissions = excluded.permissions,
			created_at = excluded.created_at`

	_, err = r.db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.PhoneNumber, u.PasswordHash, string(u.Role), string(u.Status),
		dbx.Millis(u.LastLoginAt), u.AssignedDoctorID, string(perms), dbx.Millis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.UserAccount, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM users`)
	if err != nil {
		return nil, fmt.Errorf("failed to select users: %w", err)
	}
	defer rows.Close()

	var result []*models.UserAccount
	for rows.Next() {
		u, err := scanUser(rows)
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

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.UserAccount, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE id = ?`, id)
}

func (r *SQLiteRepository) GetByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	return r.getOne(ctx, `SELECT `+selectColumns+` FROM users WHERE lower(email) = ?
			ORDER BY CASE WHEN status = 'Active' THEN 0 ELSE 1 END LIMIT 1`,
		models.NormalizeEmail(email))
}

func (r *SQLiteRepository) getOne(ctx context.Context, query string, arg string) (*models.UserAccount, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*models.UserAccount, error) {
	var (
		u                    models.UserAccount
		role, status, perms  string
		lastLogin, createdAt int64
	)
	err := s.Scan(&u.ID, &u.Name, &u.Email, &u.PhoneNumber, &u.PasswordHash, &role, &status,
		&lastLogin, &u.AssignedDoctorID, &perms, &createdAt)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal([]byte(perms), &names); err != nil {
		return nil, fmt.Errorf("user %s has corrupt permissions: %w", u.ID, err)
	}
	u.Permissions = models.ParsePermissions(names)
	u.Role = models.Role(role)
	u.Status = models.Status(status)
	u.LastLoginAt = dbx.FromMillis(lastLogin)
	u.CreatedAt = dbx.FromMillis(createdAt)
	return &u, nil
}
