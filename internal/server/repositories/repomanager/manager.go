// Package repomanager bundles repository constructors behind one interface
// so services can obtain repositories bound to either a plain connection or
// an open transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/accountsrv/internal/dbx"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/accounttokens"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/logintokens"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/resetcodes"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/verifytokens"
)

// RepositoryManager hands out repositories bound to the given DBTX.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	LoginTokens(db dbx.DBTX) logintokens.Repository
	AccountTokens(db dbx.DBTX) accounttokens.Repository
	ResetCodes(db dbx.DBTX) resetcodes.Repository
	VerifyTokens(db dbx.DBTX) verifytokens.Repository
}
