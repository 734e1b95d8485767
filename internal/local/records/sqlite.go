package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

const selectColumns = `id, owner_id, owner_name, created_at, report, image_data, category, synced`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec *models.ScanRecord) error {
	report, err := json.Marshal(rec.Report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	query := `INSERT INTO records (id, owner_id, owner_name, created_at, report, image_data, category, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			owner_name = excluded.owner_name,
			created_at = excluded.created_at,
			report = excluded.report,
			image_data = excluded.image_data,
			category = excluded.category,
			synced = excluded.synced`

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, rec.OwnerDisplayName, dbx.Millis(rec.CreatedAt),
		string(report), rec.ImageData, rec.Category, rec.Synced)
	if err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetAll(ctx context.Context) ([]*models.ScanRecord, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM records`)
}

func (r *SQLiteRepository) GetPending(ctx context.Context) ([]*models.ScanRecord, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM records WHERE synced = 0`)
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.ScanRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM records`); err != nil {
		return fmt.Errorf("failed to clear records: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, int, error) {
	var total, pending int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN synced = 0 THEN 1 ELSE 0 END), 0) FROM records`).
		Scan(&total, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count records: %w", err)
	}
	return total, pending, nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*models.ScanRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.ScanRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*models.ScanRecord, error) {
	var (
		rec       models.ScanRecord
		createdAt int64
		report    string
	)
	if err := s.Scan(&rec.ID, &rec.OwnerID, &rec.OwnerDisplayName, &createdAt,
		&report, &rec.ImageData, &rec.Category, &rec.Synced); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(report), &rec.Report); err != nil {
		return nil, fmt.Errorf("record %s has a corrupt report: %w", rec.ID, err)
	}
	rec.CreatedAt = dbx.FromMillis(createdAt)
	return &rec, nil
}
