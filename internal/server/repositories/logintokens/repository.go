// Package logintokens declares the repository contract for emailed login
// tokens. Unlike one time passwords these are DB-backed: they must survive
// delayed email delivery and server restarts.
package logintokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// Repository defines persistence operations for login tokens.
type Repository interface {
	// Create stores a new login token for email, expiring at expiresAt.
	Create(ctx context.Context, token []byte, email string, expiresAt time.Time) error

	// Consume atomically removes the token and returns its row. An absent
	// or expired token yields common.ErrorNotFound; expiry is evaluated
	// against now.
	Consume(ctx context.Context, token []byte, now time.Time) (*models.LoginToken, error)

	// DeleteExpired removes every token expired as of now and reports how
	// many rows were swept.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
