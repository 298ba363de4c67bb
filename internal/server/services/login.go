package services

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
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
	"github.com/dmitrijs2005/accountsrv/internal/server/models"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
)

// LoginService creates accounts and attaches sessions, either through an
// emailed login token or through a password check.
type LoginService struct {
	db             *sql.DB
	repos          repomanager.RepositoryManager
	auth           *AuthService
	mailer         email.Mailer
	logger         logging.Logger
	loginTokenTTL  time.Duration
	verifyTokenTTL time.Duration
	baseURL        string
}

// NewLoginService constructs a LoginService.
func NewLoginService(db *sql.DB, repos repomanager.RepositoryManager, auth *AuthService, mailer email.Mailer, logger logging.Logger, loginTokenTTL, verifyTokenTTL time.Duration, baseURL string) *LoginService {
	return &LoginService{
		db:             db,
		repos:          repos,
		auth:           auth,
		mailer:         mailer,
		logger:         logger.With("module", "login"),
		loginTokenTTL:  loginTokenTTL,
		verifyTokenTTL: verifyTokenTTL,
		baseURL:        baseURL,
	}
}

// LoginTokenEmail issues a login token for the email address and delivers
// it. A failed delivery fails the whole request: without the email the
// token is unreachable anyway.
func (s *LoginService) LoginTokenEmail(ctx context.Context, to string) error {
	if to == "" {
		return fmt.Errorf("%w: empty email", common.ErrorValidation)
	}

	token := common.GenerateRandByteArray(credstore.KeySize)
	expiresAt := time.Now().UTC().Add(s.loginTokenTTL)

	if err := s.repos.LoginTokens(s.db).Create(ctx, token, to, expiresAt); err != nil {
		s.logger.Error(ctx, "storing login token failed", "op", "login_token_email", "error", err.Error())
		return common.ErrorInternal
	}

	body := fmt.Sprintf(
		"Hello,\n\nUse this login token to sign in:\n\n%s\n\nIt expires in %s. If you did not request it, ignore this email.\n",
		base64.URLEncoding.EncodeToString(token), s.loginTokenTTL,
	)
	if err := s.mailer.SendEmail(ctx, to, "Your login token", body); err != nil {
		s.logger.Error(ctx, "sending login token failed", "op", "login_token_email", "error", err.Error())
		return common.ErrorInternal
	}
	return nil
}

// Login consumes an emailed login token and attaches a fresh session key to
// the token's account, creating the account first if the email was never
// seen. The client proves control of the new private key by signing the
// token with it.
func (s *LoginService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	if len(req.PubKey) != ed25519.PublicKeySize ||
		len(req.LoginToken) != credstore.KeySize ||
		len(req.LoginTokenSignature) != ed25519.SignatureSize ||
		len(req.HwID) != HwIDSize {
		return nil, fmt.Errorf("%w: bad field sizes in login request", common.ErrorValidation)
	}

	// proves the client holds the private half of the fresh session key
	if !ed25519.Verify(ed25519.PublicKey(req.PubKey), req.LoginToken, req.LoginTokenSignature) {
		return nil, common.ErrBadSignature
	}

	var account *models.Account
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err := s.repos.LoginTokens(tx).Consume(ctx, req.LoginToken, time.Now().UTC())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenInvalid
			}
			return err
		}

		account, err = s.getOrCreateAccount(ctx, tx, row.Email)
		if err != nil {
			return err
		}

		return s.createSession(ctx, tx, account.ID, req.PubKey, req.HwID)
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			return nil, err
		}
		s.logger.Error(ctx, "login transaction failed", "op", "login", "error", err.Error())
		return nil, common.ErrorInternal
	}

	return s.finishLogin(ctx, account, req.AuthRequest)
}

// LoginPassword attaches a session after an argon2 password check against
// the stored hash and salt. A wrong password and an unknown email produce
// the same response.
func (s *LoginService) LoginPassword(ctx context.Context, req SessionRequest) (*LoginResponse, error) {
	if !validKeySizes(req.PubKey, req.Otp, req.Signature, req.HwID) || req.Email == "" {
		return nil, fmt.Errorf("%w: bad field sizes in session request", common.ErrorValidation)
	}

	var key credstore.Key
	copy(key[:], req.Otp)
	if !s.auth.otps.Consume(key) {
		return nil, common.ErrTokenInvalid
	}

	if !ed25519.Verify(ed25519.PublicKey(req.PubKey), req.Otp, req.Signature) {
		return nil, common.ErrBadSignature
	}

	account, err := s.repos.Accounts(s.db).GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// indistinguishable from a wrong password
			return &LoginResponse{}, nil
		}
		s.logger.Error(ctx, "account lookup failed", "op", "login_password", "error", err.Error())
		return nil, common.ErrorInternal
	}

	if !passwordMatches(account, req.PasswordPrehash) {
		return &LoginResponse{}, nil
	}

	if err := s.createSession(ctx, s.db, account.ID, req.PubKey, req.HwID); err != nil {
		s.logger.Error(ctx, "session creation failed", "op", "login_password", "error", err.Error())
		return nil, common.ErrorInternal
	}

	return s.finishLogin(ctx, account, req.AuthRequest)
}

// Register creates a new account with password-derived credentials and the
// client's encrypted main secret, emails a verify token and attaches the
// first session. The account exists once the insert commits; from there on
// session and email failures are not fatal, both can be retried.
func (s *LoginService) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if req.Email == "" || len(req.AccountData.PasswordPrehash) != cryptox.PrehashedPasswordSize {
		return nil, fmt.Errorf("%w: bad register request", common.ErrorValidation)
	}

	hash, salt, err := stretchPrehash(req.AccountData.PasswordPrehash)
	if err != nil {
		return nil, common.ErrorInternal
	}

	serializedSecret, err := json.Marshal(req.AccountData.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: bad main secret envelope", common.ErrorValidation)
	}

	account, err := s.repos.Accounts(s.db).Create(ctx, &models.Account{
		Email:                req.Email,
		PasswordHash:         hash,
		PasswordSalt:         salt,
		SerializedMainSecret: serializedSecret,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return &RegisterResponse{AccountAlreadyExists: true}, nil
		}
		s.logger.Error(ctx, "account insert failed", "op", "register", "error", err.Error())
		return nil, common.ErrorInternal
	}

	s.sendVerifyToken(ctx, account)

	login, err := s.LoginPassword(ctx, req.Session)
	if err != nil {
		// the account is durable; a fresh login can still succeed later
		s.logger.Warn(ctx, "session after register failed", "op", "register", "error", err.Error())
		login = nil
	}

	return &RegisterResponse{RequiresVerification: true, Login: login}, nil
}

// CompleteRegister consumes an emailed verify token and flips the account
// to verified. The transition happens exactly once.
func (s *LoginService) CompleteRegister(ctx context.Context, tokenBase64 string) error {
	token, err := base64.URLEncoding.DecodeString(tokenBase64)
	if err != nil || len(token) != credstore.KeySize {
		return fmt.Errorf("%w: bad verify token", common.ErrorValidation)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		row, err := s.repos.VerifyTokens(tx).Consume(ctx, token, time.Now().UTC())
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrTokenInvalid
			}
			return err
		}
		_, err = s.repos.Accounts(tx).MarkVerified(ctx, row.AccountID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalid) {
			return err
		}
		s.logger.Error(ctx, "verify transaction failed", "op", "complete_register", "error", err.Error())
		return common.ErrorInternal
	}
	return nil
}

// Logout removes one session row.
func (s *LoginService) Logout(ctx context.Context, pubKey, hwID []byte) error {
	if len(pubKey) != ed25519.PublicKeySize || len(hwID) != HwIDSize {
		return fmt.Errorf("%w: bad field sizes in logout request", common.ErrorValidation)
	}
	if err := s.repos.Sessions(s.db).Delete(ctx, pubKey, hwID); err != nil {
		s.logger.Error(ctx, "session delete failed", "op", "logout", "error", err.Error())
		return common.ErrorInternal
	}
	return nil
}

func (s *LoginService) getOrCreateAccount(ctx context.Context, tx dbx.DBTX, emailAddr string) (*models.Account, error) {
	repo := s.repos.Accounts(tx)

	account, err := repo.GetByEmail(ctx, emailAddr)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	// unseen email: a bare account without password credentials. The
	// client sets them later through the password reset flow.
	return repo.Create(ctx, &models.Account{
		Email:                emailAddr,
		PasswordHash:         []byte{},
		PasswordSalt:         []byte{},
		SerializedMainSecret: []byte{},
	})
}

// createSession generates a fresh single-use AccountServerSecret and stores
// the session row. A row for the same (pub_key, hw_id) is replaced.
func (s *LoginService) createSession(ctx context.Context, tx dbx.DBTX, accountID int64, pubKey, hwID []byte) error {
	secret, err := cryptox.GenerateAccountServerSecret()
	if err != nil {
		return err
	}
	serialized, err := secret.Marshal()
	if err != nil {
		return err
	}
	return s.repos.Sessions(tx).Create(ctx, &models.Session{
		AccountID:        accountID,
		PubKey:           pubKey,
		HwID:             hwID,
		SerializedSecret: serialized,
	})
}

// finishLogin runs the embedded auth request against the session that was
// just created and bundles the durable main secret envelope.
func (s *LoginService) finishLogin(ctx context.Context, account *models.Account, authReq AuthRequest) (*LoginResponse, error) {
	authResp, err := s.auth.Auth(ctx, authReq)
	if err != nil {
		return nil, err
	}
	if authResp.Success == nil {
		s.logger.Error(ctx, "auth failed directly after session creation", "op", "login")
		return nil, common.ErrorInternal
	}

	success := &LoginResponseSuccess{Auth: *authResp.Success}
	if len(account.SerializedMainSecret) > 0 {
		var mainSecret cryptox.EncryptedMainSecret
		if err := json.Unmarshal(account.SerializedMainSecret, &mainSecret); err != nil {
			s.logger.Error(ctx, "stored main secret is corrupt", "op", "login", "error", err.Error())
			return nil, common.ErrorInternal
		}
		success.MainSecret = &mainSecret
	}
	return &LoginResponse{Success: success}, nil
}

func (s *LoginService) sendVerifyToken(ctx context.Context, account *models.Account) {
	token := common.GenerateRandByteArray(credstore.KeySize)
	expiresAt := time.Now().UTC().Add(s.verifyTokenTTL)

	if err := s.repos.VerifyTokens(s.db).Create(ctx, token, account.ID, expiresAt); err != nil {
		s.logger.Warn(ctx, "storing verify token failed", "op", "register", "error", err.Error())
		return
	}

	tokenBase64 := base64.URLEncoding.EncodeToString(token)
	body := fmt.Sprintf(
		"Hello,\n\nTo finish the registration of your account please open this link:\n\n%s/complete-register?token=%s\n",
		s.baseURL, tokenBase64,
	)
	if err := s.mailer.SendEmail(ctx, account.Email, "Account registration", body); err != nil {
		// the token is durable, it can simply be resent
		s.logger.Warn(ctx, "sending verify email failed", "op", "register", "error", err.Error())
	}
}

// stretchPrehash derives the stored password hash from the client prehash
// with a fresh server-side salt.
func stretchPrehash(prehash []byte) (hash, salt []byte, err error) {
	salt, err = cryptox.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	return cryptox.DeriveKey(prehash, salt), salt, nil
}

func passwordMatches(account *models.Account, prehash []byte) bool {
	if len(account.PasswordHash) == 0 || len(prehash) != cryptox.PrehashedPasswordSize {
		return false
	}
	candidate := cryptox.DeriveKey(prehash, account.PasswordSalt)
	return subtle.ConstantTimeCompare(candidate, account.PasswordHash) == 1
}
