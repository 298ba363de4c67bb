package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/cryptox"
	"github.com/dmitrijs2005/accountsrv/internal/dbx"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/email"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
)

// ResetService handles forgotten passwords: an emailed reset code buys one
// chance to replace the account credentials and the encrypted main secret.
type ResetService struct {
	db           *sql.DB
	repos        repomanager.RepositoryManager
	login        *LoginService
	mailer       email.Mailer
	logger       logging.Logger
	resetCodeTTL time.Duration
}

// NewResetService constructs a ResetService.
func NewResetService(db *sql.DB, repos repomanager.RepositoryManager, login *LoginService, mailer email.Mailer, logger logging.Logger, resetCodeTTL time.Duration) *ResetService {
	return &ResetService{
		db:           db,
		repos:        repos,
		login:        login,
		mailer:       mailer,
		logger:       logger.With("module", "reset"),
		resetCodeTTL: resetCodeTTL,
	}
}

// PasswordForgot emails a reset code. An unknown email reports success just
// like a known one, so the endpoint cannot be used to probe which addresses
// have accounts.
func (s *ResetService) PasswordForgot(ctx context.Context, to string) error {
	if to == "" {
		return fmt.Errorf("%w: empty email", common.ErrorValidation)
	}

	account, err := s.repos.Accounts(s.db).GetByEmail(ctx, to)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		s.logger.Error(ctx, "account lookup failed", "op", "password_forgot", "error", err.Error())
		return common.ErrorInternal
	}

	code := common.GenerateRandByteArray(credstore.KeySize)
	expiresAt := time.Now().UTC().Add(s.resetCodeTTL)

	if err := s.repos.ResetCodes(s.db).Create(ctx, code, account.ID, expiresAt); err != nil {
		s.logger.Error(ctx, "storing reset code failed", "op", "password_forgot", "error", err.Error())
		return common.ErrorInternal
	}

	body := fmt.Sprintf(
		"Hello,\n\nUse this code to reset your password:\n\n%s\n\nIt expires in %s. If you did not request it, ignore this email.\n",
		base64.URLEncoding.EncodeToString(code), s.resetCodeTTL,
	)
	if err := s.mailer.SendEmail(ctx, to, "Password reset", body); err != nil {
		// the code is durable; delivery can be retried with a fresh request
		s.logger.Warn(ctx, "sending reset code failed", "op", "password_forgot", "error", err.Error())
	}
	return nil
}

// PasswordReset consumes a reset code and replaces the password hash, salt
// and encrypted main secret in the same transaction. All existing sessions
// are dropped, then one fresh session is attached for the caller.
func (s *ResetService) PasswordReset(ctx context.Context, req PasswordResetRequest) (*LoginResponse, error) {
	code, err := base64.URLEncoding.DecodeString(req.ResetCodeBase64)
	if err != nil || len(code) != credstore.KeySize {
		return nil, fmt.Errorf("%w: bad reset code", common.ErrorValidation)
	}
	if len(req.RegisterData.PasswordPrehash) != cryptox.PrehashedPasswordSize {
		return nil, fmt.Errorf("%w: bad password prehash", common.ErrorValidation)
	}

	hash, salt, err := stretchPrehash(req.RegisterData.PasswordPrehash)
	if err != nil {
		return nil, common.ErrorInternal
	}
	serializedSecret, err := json.Marshal(req.RegisterData.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: bad main secret envelope", common.ErrorValidation)
	}

	var accountID int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err := s.repos.ResetCodes(tx).Consume(ctx, code, time.Now().UTC())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenInvalid
			}
			return err
		}
		accountID = row.AccountID

		if err := s.repos.Accounts(tx).UpdateCredentials(ctx, accountID, hash, salt, serializedSecret); err != nil {
			return err
		}
		// old sessions were attached under the old credentials
		return s.repos.Sessions(tx).DeleteAllForAccount(ctx, accountID)
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			return nil, err
		}
		s.logger.Error(ctx, "reset transaction failed", "op", "password_reset", "error", err.Error())
		return nil, common.ErrorInternal
	}

	return s.login.LoginPassword(ctx, req.Session)
}
