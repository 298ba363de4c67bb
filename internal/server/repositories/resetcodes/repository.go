// Package resetcodes declares the repository contract for emailed password
// reset codes.
package resetcodes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// Repository defines persistence operations for reset codes.
type Repository interface {
	// Create stores a new reset code for accountID, expiring at expiresAt.
	Create(ctx context.Context, code []byte, accountID int64, expiresAt time.Time) error

	// Consume atomically removes the code and returns its row. Callers run
	// it inside the same transaction as the credential replacement so a
	// failed reset leaves the code untouched. An absent or expired code
	// yields common.ErrorNotFound.
	Consume(ctx context.Context, code []byte, now time.Time) (*models.ResetCode, error)

	// DeleteExpired removes every code expired as of now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
