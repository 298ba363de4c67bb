// Package cryptox implements the account secret envelope model.
//
// Every account owns one durable 32-byte main secret. It is stored only in
// encrypted form: durably under a key derived from the account password
// (EncryptedMainSecret), and per successful auth/login additionally under a
// freshly generated ephemeral AccountServerSecret
// (EncryptedMainSecretWithServerSecret), so the password-derived key never
// travels over the wire.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters, applied to every key derivation.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
)

const (
	// MainSecretSize is the byte length of the account main secret.
	MainSecretSize = 32
	// SaltSize is the byte length of every generated argon2 salt.
	SaltSize = 16
	// NonceSize is the AES-GCM nonce length.
	NonceSize = 12
)

// ErrSecretReused is returned when an AccountServerSecret is asked to
// encrypt a second payload.
var ErrSecretReused = errors.New("account server secret already used")

// EncryptedMainSecret is the durable, password-decryptable form of the main
// secret. PasswordSalt is the salt for the encryption key derivation; it is
// stored alongside the ciphertext because the client would otherwise have to
// remember it.
type EncryptedMainSecret struct {
	Ciphertext   []byte `json:"ciphertext"`
	Nonce        []byte `json:"nonce"`
	PasswordSalt []byte `json:"password_salt"`
}

// AccountServerSecret is an ephemeral symmetric key generated per successful
// auth or login. It must encrypt exactly one payload and never be persisted
// beyond the session row it belongs to.
type AccountServerSecret struct {
	Secret []byte `json:"secret"`
	Nonce  []byte `json:"nonce"`

	used bool
}

// EncryptedMainSecretWithServerSecret is the main secret re-wrapped under an
// AccountServerSecret for delivery to the client.
type EncryptedMainSecretWithServerSecret struct {
	Ciphertext []byte `json:"ciphertext"`
}

// DeriveKey stretches password bytes into a 32-byte key using argon2id.
func DeriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// GenerateSalt returns a fresh random argon2 salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// GenerateAccountServerSecret creates a fresh single-use secret with its own
// random nonce.
func GenerateAccountServerSecret() (*AccountServerSecret, error) {
	secret := make([]byte, MainSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &AccountServerSecret{Secret: secret, Nonce: nonce}, nil
}

// Seal encrypts plaintext with AES-256-GCM under the secret's key and nonce.
// A second call on the same instance fails with ErrSecretReused: nonce reuse
// under the same key would void the cipher's guarantees.
func (s *AccountServerSecret) Seal(plaintext []byte) (*EncryptedMainSecretWithServerSecret, error) {
	if s.used {
		return nil, ErrSecretReused
	}
	s.used = true

	ciphertext, err := gcmSeal(s.Secret, s.Nonce, plaintext)
	if err != nil {
		return nil, err
	}
	return &EncryptedMainSecretWithServerSecret{Ciphertext: ciphertext}, nil
}

// Open decrypts a wrapped main secret with the secret's key and nonce.
func (s *AccountServerSecret) Open(wrapped *EncryptedMainSecretWithServerSecret) ([]byte, error) {
	return gcmOpen(s.Secret, s.Nonce, wrapped.Ciphertext)
}

// Marshal serializes the secret for storage in a session row.
func (s *AccountServerSecret) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalAccountServerSecret decodes a serialized session secret envelope.
func UnmarshalAccountServerSecret(data []byte) (*AccountServerSecret, error) {
	var s AccountServerSecret
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func gcmSeal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func gcmOpen(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, ciphertext, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
