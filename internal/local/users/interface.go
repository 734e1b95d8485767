// Package users is the local persistence layer for user accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/mediscan/internal/models"
)

type Repository interface {
	// Upsert inserts the account or fully replaces the row with the same id.
	Upsert(ctx context.Context, u *models.UserAccount) error
	GetAll(ctx context.Context) ([]*models.UserAccount, error)
	// GetByID returns models.ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*models.UserAccount, error)
	// GetByEmail matches case-insensitively, prefers an active account and
	// returns models.ErrNotFound when no account uses the address.
	GetByEmail(ctx context.Context, email string) (*models.UserAccount, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}
