package otp

import (
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/credstore"
)

// RegisterToken is a short-lived proof a verified client hands to a game
// server, which forwards it back here to resolve the account id.
type RegisterToken = credstore.Key

// RegisterTokenService issues and resolves register tokens. The token
// carries no authentication of its own beyond "was issued by the account
// server after a verified auth".
type RegisterTokenService struct {
	store *credstore.Store[int64]
}

// NewRegisterTokenService creates a service whose tokens expire after ttl.
func NewRegisterTokenService(ttl time.Duration) *RegisterTokenService {
	return &RegisterTokenService{store: credstore.New[int64](ttl)}
}

// IssueFor generates a token resolving to accountID.
func (s *RegisterTokenService) IssueFor(accountID int64) (RegisterToken, error) {
	return s.store.Gen(accountID)
}

// Consume resolves and invalidates the token. The second result is false if
// the token was never issued, expired, or already consumed.
func (s *RegisterTokenService) Consume(token RegisterToken) (int64, bool) {
	return s.store.TryConsume(token)
}
