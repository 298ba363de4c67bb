// Package sessions declares the repository contract for session rows keyed
// by (public key, hardware id).
package sessions

import (
	"context"

	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// Repository defines persistence operations for sessions.
type Repository interface {
	// Create stores a session row. A row for the same (pub_key, hw_id)
	// pair is replaced: a re-login from the same device always carries a
	// fresh secret envelope.
	Create(ctx context.Context, session *models.Session) error

	// GetForAuth returns the session row joined with the owning account's
	// verified flag, or common.ErrorNotFound.
	GetForAuth(ctx context.Context, pubKey, hwID []byte) (*models.SessionAuth, error)

	// Delete removes one session row. Deleting an absent row is not an error.
	Delete(ctx context.Context, pubKey, hwID []byte) error

	// DeleteAllForAccount removes every session of the given account.
	DeleteAllForAccount(ctx context.Context, accountID int64) error
}
