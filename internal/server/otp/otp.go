// Package otp issues and consumes the in-memory single-use credentials of
// the protocol: one time passwords binding one client action to a
// server-issued challenge, and register tokens relayed to game servers for
// identity confirmation.
package otp

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/credstore"
)

// DefaultTTL is how long an unconsumed credential stays valid.
const DefaultTTL = 20 * time.Second

// MaxPerRequest caps how many one time passwords one call may generate.
// OTPs map 1:1 to short human-triggered actions (login + auth); larger
// batches would enable pre-computation abuse.
const MaxPerRequest = 2

// Otp is one single-use random challenge.
type Otp = credstore.Key

// Service generates and consumes one time passwords.
type Service struct {
	store *credstore.Store[struct{}]
}

// NewService creates a Service whose passwords expire after ttl.
func NewService(ttl time.Duration) *Service {
	return &Service{store: credstore.New[struct{}](ttl)}
}

// Generate returns count fresh one time passwords. Requests outside
// 1..MaxPerRequest fail with common.ErrorValidation before anything is
// generated.
func (s *Service) Generate(count int) ([]Otp, error) {
	if count < 1 || count > MaxPerRequest {
		return nil, fmt.Errorf("%w: otp count must be between 1 and %d", common.ErrorValidation, MaxPerRequest)
	}

	otps := make([]Otp, 0, count)
	for i := 0; i < count; i++ {
		otp, err := s.store.Gen(struct{}{})
		if err != nil {
			return nil, err
		}
		otps = append(otps, otp)
	}
	return otps, nil
}

// Consume invalidates the password and reports whether it was still valid.
// Exactly one of several concurrent consumers for the same value succeeds.
func (s *Service) Consume(otp Otp) bool {
	_, ok := s.store.TryConsume(otp)
	return ok
}
