package models

import "time"

// LoginToken is an emailed 32-byte proof that authorizes creating a session
// for the given email. Expiry is enforced both on read and by the periodic
// cleanup sweep; the token must survive delayed email delivery.
type LoginToken struct {
	Token     []byte
	Email     string
	ExpiresAt time.Time
}

// AccountToken is an emailed 32-byte proof that authorizes sensitive
// self-service actions (delete account, delete all sessions).
type AccountToken struct {
	Token     []byte
	AccountID int64
	ExpiresAt time.Time
}

// ResetCode is an emailed code that authorizes replacing an account's
// password and main secret. Consumed atomically with the reset write.
type ResetCode struct {
	Code      []byte
	AccountID int64
	ExpiresAt time.Time
}

// VerifyToken confirms email ownership at registration completion.
type VerifyToken struct {
	Token     []byte
	AccountID int64
	ExpiresAt time.Time
}
