// Package accounts declares the repository contract for durable account rows.
package accounts

import (
	"context"

	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// Repository defines persistence operations for accounts.
type Repository interface {
	// Create inserts a new account. If an account with the same email
	// already exists it returns common.ErrorAlreadyExists.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	// GetByEmail returns the account for the given email or common.ErrorNotFound.
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// GetByID returns the account for the given id or common.ErrorNotFound.
	GetByID(ctx context.Context, id int64) (*models.Account, error)

	// MarkVerified flips the verified flag to true. The transition happens
	// at most once; marking an already verified account reports false.
	MarkVerified(ctx context.Context, id int64) (bool, error)

	// UpdateCredentials replaces password hash, salt and the encrypted
	// main secret in one statement.
	UpdateCredentials(ctx context.Context, id int64, hash, salt, serializedMainSecret []byte) error

	// Delete removes the account row.
	Delete(ctx context.Context, id int64) error
}
