// Package accounttokens declares the repository contract for emailed account
// tokens authorizing delete-account and delete-sessions.
package accounttokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// Repository defines persistence operations for account tokens.
type Repository interface {
	// Create stores a new account token for accountID, expiring at expiresAt.
	Create(ctx context.Context, token []byte, accountID int64, expiresAt time.Time) error

	// Consume atomically removes the token and returns its row. An absent
	// or expired token yields common.ErrorNotFound.
	Consume(ctx context.Context, token []byte, now time.Time) (*models.AccountToken, error)

	// DeleteExpired removes every token expired as of now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
