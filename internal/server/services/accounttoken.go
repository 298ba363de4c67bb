package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/dbx"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/email"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
)

// AccountTokenService issues emailed account tokens and executes the
// destructive operations they authorize: deleting the account or dropping
// all of its sessions.
type AccountTokenService struct {
	db              *sql.DB
	repos           repomanager.RepositoryManager
	mailer          email.Mailer
	logger          logging.Logger
	accountTokenTTL time.Duration
}

// NewAccountTokenService constructs an AccountTokenService.
func NewAccountTokenService(db *sql.DB, repos repomanager.RepositoryManager, mailer email.Mailer, logger logging.Logger, accountTokenTTL time.Duration) *AccountTokenService {
	return &AccountTokenService{
		db:              db,
		repos:           repos,
		mailer:          mailer,
		logger:          logger.With("module", "accounttoken"),
		accountTokenTTL: accountTokenTTL,
	}
}

// AccountTokenEmail emails an account token. An unknown email reports
// success like a known one.
func (s *AccountTokenService) AccountTokenEmail(ctx context.Context, to string) error {
	if to == "" {
		return fmt.Errorf("%w: empty email", common.ErrorValidation)
	}

	account, err := s.repos.Accounts(s.db).GetByEmail(ctx, to)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		s.logger.Error(ctx, "account lookup failed", "op", "account_token_email", "error", err.Error())
		return common.ErrorInternal
	}

	token := common.GenerateRandByteArray(credstore.KeySize)
	expiresAt := time.Now().UTC().Add(s.accountTokenTTL)

	if err := s.repos.AccountTokens(s.db).Create(ctx, token, account.ID, expiresAt); err != nil {
		s.logger.Error(ctx, "storing account token failed", "op", "account_token_email", "error", err.Error())
		return common.ErrorInternal
	}

	body := fmt.Sprintf(
		"Hello,\n\nUse this account token to manage your account:\n\n%s\n\nIt expires in %s. If you did not request it, ignore this email.\n",
		base64.URLEncoding.EncodeToString(token), s.accountTokenTTL,
	)
	if err := s.mailer.SendEmail(ctx, to, "Your account token", body); err != nil {
		s.logger.Error(ctx, "sending account token failed", "op", "account_token_email", "error", err.Error())
		return common.ErrorInternal
	}
	return nil
}

// DeleteAccount consumes an account token and removes the account together
// with all of its sessions in one transaction.
func (s *AccountTokenService) DeleteAccount(ctx context.Context, tokenBase64 string) error {
	return s.consumeAndRun(ctx, tokenBase64, "delete_account", func(ctx context.Context, tx dbx.DBTX, accountID int64) error {
		if err := s.repos.Sessions(tx).DeleteAllForAccount(ctx, accountID); err != nil {
			return err
		}
		return s.repos.Accounts(tx).Delete(ctx, accountID)
	})
}

// DeleteSessions consumes an account token and drops every session of the
// account, forcing a re-login everywhere.
func (s *AccountTokenService) DeleteSessions(ctx context.Context, tokenBase64 string) error {
	return s.consumeAndRun(ctx, tokenBase64, "delete_sessions", func(ctx context.Context, tx dbx.DBTX, accountID int64) error {
		return s.repos.Sessions(tx).DeleteAllForAccount(ctx, accountID)
	})
}

func (s *AccountTokenService) consumeAndRun(ctx context.Context, tokenBase64, op string, fn func(context.Context, dbx.DBTX, int64) error) error {
	token, err := base64.URLEncoding.DecodeString(tokenBase64)
	if err != nil || len(token) != credstore.KeySize {
		return fmt.Errorf("%w: bad account token", common.ErrorValidation)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err := s.repos.AccountTokens(tx).Consume(ctx, token, time.Now().UTC())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenInvalid
			}
			return err
		}
		return fn(ctx, tx, row.AccountID)
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			return err
		}
		s.logger.Error(ctx, "account token transaction failed", "op", op, "error", err.Error())
		return common.ErrorInternal
	}
	return nil
}
