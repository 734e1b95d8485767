// Package records is the PostgreSQL table of scan records. The Synced flag is
// local-only state and never leaves the client.
package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/mediscan/internal/dbx"
	"github.com/dmitrijs2005/mediscan/internal/models"
)

type Repository interface {
	Insert(ctx context.Context, r *models.ScanRecord) error
	Upsert(ctx context.Context, r *models.ScanRecord) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, id string) (bool, error)
	SelectAll(ctx context.Context) ([]*models.ScanRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int, error)
}

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec *models.ScanRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO records (id, user_id, patient_name, result, image_data, category, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec *models.ScanRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	query := `INSERT INTO records (id, user_id, patient_name, result, image_data, category, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			patient_name = EXCLUDED.patient_name,
			result = EXCLUDED.result,
			image_data = EXCLUDED.image_data,
			category = EXCLUDED.category,
			created_at = EXCLUDED.created_at`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete record %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) SelectAll(ctx context.Context) ([]*models.ScanRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, patient_name, result, image_data, category, created_at FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []*models.ScanRecord
	for rows.Next() {
		var (
			item      models.ScanRecord
			report    []byte
			createdAt time.Time
		)
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.OwnerDisplayName, &report,
			&item.ImageData, &item.Category, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(report, &item.Report); err != nil {
			return nil, fmt.Errorf("record %s has a corrupt result: %w", item.ID, err)
		}
		item.CreatedAt = createdAt.UTC()
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check record %s: %w", id, err)
	}
	return true, nil
}

func (r *PostgresRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func recordArgs(rec *models.ScanRecord) ([]any, error) {
	report, err := json.Marshal(rec.Report)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return []any{rec.ID, rec.OwnerID, rec.OwnerDisplayName, string(report),
		rec.ImageData, rec.Category, createdAt.UTC()}, nil
}
