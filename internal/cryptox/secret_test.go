package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAccountData_RoundTrip(t *testing.T) {
	data, err := GenerateAccountData("a@example.com", "Tr0ub4dor&3")
	require.NoError(t, err)
	require.Len(t, data.MainSecret, MainSecretSize)
	require.Len(t, data.ForServer.PasswordPrehash, PrehashedPasswordSize)

	decrypted, err := DecryptMainSecretWithPassword(&data.ForServer.Secret, "Tr0ub4dor&3")
	require.NoError(t, err)
	require.Equal(t, data.MainSecret, decrypted)
}

func TestDecryptMainSecret_WrongPassword(t *testing.T) {
	data, err := GenerateAccountData("a@example.com", "correct horse")
	require.NoError(t, err)

	_, err = DecryptMainSecretWithPassword(&data.ForServer.Secret, "battery staple")
	require.Error(t, err)
}

func TestPrehashPassword_DependsOnEmail(t *testing.T) {
	a := PrehashPassword("a@example.com", "pw")
	b := PrehashPassword("b@example.com", "pw")
	require.NotEqual(t, a, b)

	again := PrehashPassword("a@example.com", "pw")
	require.Equal(t, a, again, "prehash must be reproducible")
}

// Round-trip law: the same plaintext wrapped under two distinct server
// secrets yields two distinct ciphertexts, each decrypting back to the
// original plaintext under its own key.
func TestAccountServerSecret_RewrapRoundTrip(t *testing.T) {
	mainSecret := []byte("0123456789abcdef0123456789abcdef")

	s1, err := GenerateAccountServerSecret()
	require.NoError(t, err)
	s2, err := GenerateAccountServerSecret()
	require.NoError(t, err)

	w1, err := s1.Seal(mainSecret)
	require.NoError(t, err)
	w2, err := s2.Seal(mainSecret)
	require.NoError(t, err)

	require.NotEqual(t, w1.Ciphertext, w2.Ciphertext)

	p1, err := s1.Open(w1)
	require.NoError(t, err)
	p2, err := s2.Open(w2)
	require.NoError(t, err)

	require.Equal(t, mainSecret, p1)
	require.Equal(t, mainSecret, p2)
}

func TestAccountServerSecret_SingleUse(t *testing.T) {
	s, err := GenerateAccountServerSecret()
	require.NoError(t, err)

	_, err = s.Seal([]byte("payload one"))
	require.NoError(t, err)

	_, err = s.Seal([]byte("payload two"))
	require.ErrorIs(t, err, ErrSecretReused)
}

func TestAccountServerSecret_MarshalRoundTrip(t *testing.T) {
	s, err := GenerateAccountServerSecret()
	require.NoError(t, err)

	raw, err := s.Marshal()
	require.NoError(t, err)

	restored, err := UnmarshalAccountServerSecret(raw)
	require.NoError(t, err)
	require.Equal(t, s.Secret, restored.Secret)
	require.Equal(t, s.Nonce, restored.Nonce)

	// a restored secret can decrypt what the original sealed
	wrapped, err := s.Seal([]byte("main secret material, 32 bytes!!"))
	require.NoError(t, err)
	plain, err := restored.Open(wrapped)
	require.NoError(t, err)
	require.Equal(t, []byte("main secret material, 32 bytes!!"), plain)
}

func TestEncryptMainSecretWithPassword_FreshSaltAndNonce(t *testing.T) {
	mainSecret := make([]byte, MainSecretSize)

	e1, err := EncryptMainSecretWithPassword(mainSecret, "pw")
	require.NoError(t, err)
	e2, err := EncryptMainSecretWithPassword(mainSecret, "pw")
	require.NoError(t, err)

	require.NotEqual(t, e1.Nonce, e2.Nonce)
	require.NotEqual(t, e1.PasswordSalt, e2.PasswordSalt)
	require.NotEqual(t, e1.Ciphertext, e2.Ciphertext)
}
