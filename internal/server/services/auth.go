package services

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/cryptox"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/otp"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
)

// AuthService authenticates a returning session: consume the one time
// password, verify the signature over it, look up the session row and hand
// out the stored secret envelope.
type AuthService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	otps   *otp.Service
	tokens *otp.RegisterTokenService
	logger logging.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(db *sql.DB, repos repomanager.RepositoryManager, otps *otp.Service, tokens *otp.RegisterTokenService, logger logging.Logger) *AuthService {
	return &AuthService{
		db:     db,
		repos:  repos,
		otps:   otps,
		tokens: tokens,
		logger: logger.With("module", "auth"),
	}
}

// GenerateOtps returns count fresh one time passwords.
func (s *AuthService) GenerateOtps(count int) ([]otp.Otp, error) {
	return s.otps.Generate(count)
}

// Auth authenticates one auth attempt.
//
// The one time password is consumed before the signature is checked, so a
// garbage signature still burns the password: an attacker who observed a
// live one cannot replay it, and the legitimate holder simply requests a
// fresh one. Reordering the two steps would open a window where the same
// password authenticates two racing requests.
func (s *AuthService) Auth(ctx context.Context, req AuthRequest) (*AuthResponse, error) {
	if !validKeySizes(req.PubKey, req.Otp, req.Signature, req.HwID) {
		return nil, fmt.Errorf("%w: bad field sizes in auth request", common.ErrorValidation)
	}

	var key credstore.Key
	copy(key[:], req.Otp)
	if !s.otps.Consume(key) {
		// expired, never issued, or already used; stale or replayed request
		return nil, common.ErrTokenInvalid
	}

	if !ed25519.Verify(ed25519.PublicKey(req.PubKey), req.Otp, req.Signature) {
		return nil, common.ErrBadSignature
	}

	auth, err := s.repos.Sessions(s.db).GetForAuth(ctx, req.PubKey, req.HwID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// no session for this key/device; the caller must login again
			return &AuthResponse{}, nil
		}
		s.logger.Error(ctx, "session lookup failed", "op", "auth", "error", err.Error())
		return nil, common.ErrorInternal
	}

	secret, err := cryptox.UnmarshalAccountServerSecret(auth.SerializedSecret)
	if err != nil {
		s.logger.Error(ctx, "stored session secret is corrupt", "op", "auth", "error", err.Error())
		return nil, common.ErrorInternal
	}

	success := &AuthResponseSuccess{
		Verified:         auth.Verified,
		Secret:           secret,
		SessionCreatedAt: auth.CreatedAt,
	}
	if auth.Verified {
		// an account id is never disclosed for an unverified account
		success.AccountID = auth.AccountID
	}
	return &AuthResponse{Success: success}, nil
}

// IssueRegisterToken authenticates the request and, for a verified account,
// issues a register token a game server can later resolve to the account id.
func (s *AuthService) IssueRegisterToken(ctx context.Context, req AuthRequest) (otp.RegisterToken, error) {
	resp, err := s.Auth(ctx, req)
	if err != nil {
		return otp.RegisterToken{}, err
	}
	if resp.Success == nil || !resp.Success.Verified {
		return otp.RegisterToken{}, common.ErrorUnauthorized
	}
	return s.tokens.IssueFor(resp.Success.AccountID)
}

// ResolveRegisterToken consumes a register token forwarded by a game server
// and returns the account id it was issued for.
func (s *AuthService) ResolveRegisterToken(token otp.RegisterToken) (int64, bool) {
	return s.tokens.Consume(token)
}
