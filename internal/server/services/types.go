// Package services contains the server-side credential protocols: auth,
// login and session issuance, password reset, account tokens, certificate
// signing and the periodic token sweep.
package services

import (
	"crypto/ed25519"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/cryptox"
)

// HwIDSize is the byte length of the client hardware id.
const HwIDSize = 32

// AuthRequest authenticates an existing session: a one time password signed
// with the session's private key.
type AuthRequest struct {
	PubKey    []byte `json:"pub_key"`
	Otp       []byte `json:"otp"`
	Signature []byte `json:"signature"`
	HwID      []byte `json:"hw_id"`
}

// AuthResponseSuccess carries the session secret envelope. The account id is
// disclosed only for verified accounts.
type AuthResponseSuccess struct {
	Verified  bool                         `json:"verified"`
	AccountID int64                        `json:"account_id,omitempty"`
	Secret    *cryptox.AccountServerSecret `json:"secret"`

	// SessionCreatedAt is server-internal context for certificate
	// issuance and is never serialized to the client.
	SessionCreatedAt time.Time `json:"-"`
}

// AuthResponse is the outcome of an auth attempt. A nil Success means the
// session was not found; the caller must login again. This is a valid
// terminal outcome, not an error.
type AuthResponse struct {
	Success *AuthResponseSuccess `json:"success,omitempty"`
}

// SessionRequest asks for a new session to be created and attached to an
// account, proving control of the fresh session key by signing the login
// proof (a login token or a one time password) with it.
type SessionRequest struct {
	Email           string      `json:"email"`
	PasswordPrehash []byte      `json:"password_prehash,omitempty"`
	PubKey          []byte      `json:"pub_key"`
	Otp             []byte      `json:"otp"`
	Signature       []byte      `json:"signature"`
	HwID            []byte      `json:"hw_id"`
	AuthRequest     AuthRequest `json:"auth_request"`
}

// LoginRequest attaches a session using an emailed login token instead of a
// password.
type LoginRequest struct {
	Email               string      `json:"email"`
	LoginToken          []byte      `json:"login_token"`
	LoginTokenSignature []byte      `json:"login_token_signature"`
	PubKey              []byte      `json:"pub_key"`
	HwID                []byte      `json:"hw_id"`
	AuthRequest         AuthRequest `json:"auth_request"`
}

// LoginResponseSuccess returns the durable main secret envelope for the
// client to decrypt with its password, plus the embedded auth result.
type LoginResponseSuccess struct {
	MainSecret *cryptox.EncryptedMainSecret `json:"main_secret,omitempty"`
	Auth       AuthResponseSuccess          `json:"auth"`
}

// LoginResponse is the outcome of a login attempt. A nil Success means the
// credentials did not match; whether the email exists is not disclosed.
type LoginResponse struct {
	Success *LoginResponseSuccess `json:"success,omitempty"`
}

// RegisterRequest creates a new account with password-derived credentials
// and an encrypted main secret, and attaches the first session.
type RegisterRequest struct {
	Email       string                       `json:"email"`
	AccountData cryptox.AccountDataForServer `json:"account_data"`
	Session     SessionRequest               `json:"session"`
}

// RegisterResponse is the outcome of a registration.
type RegisterResponse struct {
	AccountAlreadyExists bool           `json:"account_already_exists,omitempty"`
	RequiresVerification bool           `json:"requires_verification,omitempty"`
	Login                *LoginResponse `json:"login,omitempty"`
}

// PasswordResetRequest replaces the account credentials after the emailed
// reset code is validated. RegisterData carries the new password-derived
// credentials and the new encrypted main secret.
type PasswordResetRequest struct {
	ResetCodeBase64 string                       `json:"reset_code_base64"`
	RegisterData    cryptox.AccountDataForServer `json:"register_data"`
	Session         SessionRequest               `json:"session"`
}

// SignRequest asks for a short-lived session certificate. TimeStampMillis
// must be within the configured clock skew of the server wall clock.
type SignRequest struct {
	AuthRequest     AuthRequest `json:"auth_request"`
	TimeStampMillis int64       `json:"time_stamp_millis"`
}

// TimeStamp converts the request's millisecond timestamp.
func (r *SignRequest) TimeStamp() time.Time {
	return time.UnixMilli(r.TimeStampMillis).UTC()
}

func validKeySizes(pubKey, otp, signature, hwID []byte) bool {
	return len(pubKey) == ed25519.PublicKeySize &&
		len(otp) == credstore.KeySize &&
		len(signature) == ed25519.SignatureSize &&
		len(hwID) == HwIDSize
}
