package cryptox

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/dmitrijs2005/accountsrv/internal/common"
)

// PrehashedPasswordSize is the length of the password prehash a client sends
// instead of the raw password.
const PrehashedPasswordSize = 32

// AccountData is everything a client produces for registration or a password
// change: the server-bound part and the part it must keep to itself.
type AccountData struct {
	ForServer AccountDataForServer
	// MainSecret is the decrypted main secret. The caller must wipe it
	// once it is no longer needed.
	MainSecret []byte
}

// AccountDataForServer is the registration payload: a password prehash the
// server will stretch once more with its own salt, and the encrypted main
// secret the server stores as managed backup.
type AccountDataForServer struct {
	PasswordPrehash []byte              `json:"password_prehash"`
	Secret          EncryptedMainSecret `json:"secret"`
}

// PrehashPassword derives the client-side password prehash. The salt is a
// digest of the email address, so two accounts with the same password still
// send distinct prehashes, and the client needs nothing stored to recompute it.
func PrehashPassword(email, password string) []byte {
	emailDigest := sha256.Sum256([]byte("accountsrv:" + email))
	return DeriveKey([]byte(password), emailDigest[:SaltSize])
}

// GenerateAccountData creates a fresh main secret and encrypts it under a key
// derived from the password with a fresh random salt and nonce.
func GenerateAccountData(email, password string) (*AccountData, error) {
	mainSecret := make([]byte, MainSecretSize)
	if _, err := rand.Read(mainSecret); err != nil {
		return nil, err
	}

	encrypted, err := EncryptMainSecretWithPassword(mainSecret, password)
	if err != nil {
		return nil, err
	}

	return &AccountData{
		ForServer: AccountDataForServer{
			PasswordPrehash: PrehashPassword(email, password),
			Secret:          *encrypted,
		},
		MainSecret: mainSecret,
	}, nil
}

// EncryptMainSecretWithPassword encrypts an existing main secret under a key
// derived from password with a fresh salt and nonce.
func EncryptMainSecretWithPassword(mainSecret []byte, password string) (*EncryptedMainSecret, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	key := DeriveKey([]byte(password), salt)
	defer common.WipeByteArray(key)

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext, err := gcmSeal(key, nonce, mainSecret)
	if err != nil {
		return nil, err
	}

	return &EncryptedMainSecret{
		Ciphertext:   ciphertext,
		Nonce:        nonce,
		PasswordSalt: salt,
	}, nil
}

// DecryptMainSecretWithPassword recovers the main secret from its durable
// envelope using the account password.
func DecryptMainSecretWithPassword(encrypted *EncryptedMainSecret, password string) ([]byte, error) {
	key := DeriveKey([]byte(password), encrypted.PasswordSalt)
	defer common.WipeByteArray(key)
	return gcmOpen(key, encrypted.Nonce, encrypted.Ciphertext)
}
