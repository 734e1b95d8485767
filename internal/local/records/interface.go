package records

import (
	"context"

	"github.com/dmitrijs2005/mediscan/internal/models"
)

// Repository is the local scan-record collection.
type Repository interface {
	// Upsert inserts the record or fully replaces the row with the same id.
	Upsert(ctx context.Context, r *models.ScanRecord) error

	// GetAll returns every record in storage order.
	GetAll(ctx context.Context) ([]*models.ScanRecord, error)

	// GetPending returns the records with Synced=false.
	GetPending(ctx context.Context) ([]*models.ScanRecord, error)

	// GetByID returns models.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.ScanRecord, error)

	// Delete removes the record; deleting a missing id is not an error.
	Delete(ctx context.Context, id string) error

	// Clear removes every record.
	Clear(ctx context.Context) error

	// Count returns the total and pending record counts.
	Count(ctx context.Context) (total int, pending int, err error)
}
