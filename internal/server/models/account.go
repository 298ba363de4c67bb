package models

import "time"

// Account is the durable account row. The main secret is stored only in its
// password-encrypted serialized form; the server cannot read it.
type Account struct {
	ID                   int64
	Email                string
	PasswordHash         []byte
	PasswordSalt         []byte
	SerializedMainSecret []byte
	Verified             bool
	CreatedAt            time.Time
}
