package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/accountsrv/internal/dbx"
	"github.com/dmitrijs2005/accountsrv/internal/server/migrations"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/accounttokens"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/logintokens"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/resetcodes"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/verifytokens"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager builds PostgreSQL-backed repositories.
type PostgresRepositoryManager struct{}

// NewPostgresRepositoryManager constructs the manager.
func NewPostgresRepositoryManager() *PostgresRepositoryManager {
	return &PostgresRepositoryManager{}
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return err
	}

	return nil
}

func (m *PostgresRepositoryManager) Accounts(db dbx.DBTX) accounts.Repository {
	return accounts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) LoginTokens(db dbx.DBTX) logintokens.Repository {
	return logintokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AccountTokens(db dbx.DBTX) accounttokens.Repository {
	return accounttokens.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) ResetCodes(db dbx.DBTX) resetcodes.Repository {
	return resetcodes.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) VerifyTokens(db dbx.DBTX) verifytokens.Repository {
	return verifytokens.NewPostgresRepository(db)
}
