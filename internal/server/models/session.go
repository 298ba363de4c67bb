package models

import "time"

// Session links a client's (public key, hardware id) pair to an account and
// the serialized AccountServerSecret envelope issued for it.
type Session struct {
	AccountID        int64
	PubKey           []byte
	HwID             []byte
	SerializedSecret []byte
	CreatedAt        time.Time
}

// SessionAuth is the read model for an auth attempt: the session row joined
// with the owning account's verified flag.
type SessionAuth struct {
	AccountID        int64
	SerializedSecret []byte
	Verified         bool
	CreatedAt        time.Time
}
