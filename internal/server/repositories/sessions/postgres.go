package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/dbx"
	"github.com/dmitrijs2005/accountsrv/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, session *models.Session) error {
	query := `
		INSERT INTO sessions (account_id, pub_key, hw_id, serialized_secret)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pub_key, hw_id) DO UPDATE
		SET account_id = EXCLUDED.account_id, serialized_secret = EXCLUDED.serialized_secret
	`
	if _, err := r.db.ExecContext(ctx, query,
		session.AccountID, session.PubKey, session.HwID, session.SerializedSecret,
	); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetForAuth(ctx context.Context, pubKey, hwID []byte) (*models.SessionAuth, error) {
	query := `
		SELECT s.account_id, s.serialized_secret, a.verified, s.created_at
		FROM sessions s
		JOIN accounts a ON a.id = s.account_id
		WHERE s.pub_key = $1 AND s.hw_id = $2
	`
	auth := &models.SessionAuth{}
	err := r.db.QueryRowContext(ctx, query, pubKey, hwID).Scan(
		&auth.AccountID, &auth.SerializedSecret, &auth.Verified, &auth.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return auth, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, pubKey, hwID []byte) error {
	query := `
		DELETE FROM sessions
		WHERE pub_key = $1 AND hw_id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, pubKey, hwID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteAllForAccount(ctx context.Context, accountID int64) error {
	query := `
		DELETE FROM sessions
		WHERE account_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
