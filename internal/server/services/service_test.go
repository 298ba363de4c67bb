package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/credstore"
	"github.com/dmitrijs2005/accountsrv/internal/cryptox"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
	"github.com/dmitrijs2005/accountsrv/internal/server/otp"
	"github.com/dmitrijs2005/accountsrv/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type sentEmail struct {
	To      string
	Subject string
	Body    string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentEmail
	fail bool
}

func (m *fakeMailer) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return fmt.Errorf("smtp unreachable")
	}
	m.sent = append(m.sent, sentEmail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.sent)
	return m.sent[len(m.sent)-1]
}

func (m *fakeMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type testEnv struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	mailer *fakeMailer
	otps   *otp.Service
	auth   *AuthService
	login  *LoginService
	reset  *ResetService
	tokens *AccountTokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.ExecContext(context.Background(), `
CREATE TABLE accounts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  email TEXT NOT NULL UNIQUE,
  password_hash BLOB NOT NULL,
  password_salt BLOB NOT NULL,
  serialized_main_secret BLOB NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE sessions (
  account_id INTEGER NOT NULL,
  pub_key BLOB NOT NULL,
  hw_id BLOB NOT NULL,
  serialized_secret BLOB NOT NULL,
  created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY (pub_key, hw_id)
);
CREATE TABLE login_tokens (
  token BLOB PRIMARY KEY,
  email TEXT NOT NULL,
  expires_at TIMESTAMP NOT NULL
);
CREATE TABLE account_tokens (
  token BLOB PRIMARY KEY,
  account_id INTEGER NOT NULL,
  expires_at TIMESTAMP NOT NULL
);
CREATE TABLE reset_codes (
  code BLOB PRIMARY KEY,
  account_id INTEGER NOT NULL,
  expires_at TIMESTAMP NOT NULL
);
CREATE TABLE verify_tokens (
  token BLOB PRIMARY KEY,
  account_id INTEGER NOT NULL,
  expires_at TIMESTAMP NOT NULL
);
`)
	require.NoError(t, err)

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	repos := repomanager.NewPostgresRepositoryManager()
	mailer := &fakeMailer{}

	otps := otp.NewService(otp.DefaultTTL)
	registerTokens := otp.NewRegisterTokenService(otp.DefaultTTL)
	auth := NewAuthService(db, repos, otps, registerTokens, logger)
	login := NewLoginService(db, repos, auth, mailer, logger, time.Hour, time.Hour, "https://accounts.example.com")
	reset := NewResetService(db, repos, login, mailer, logger, time.Hour)
	tokens := NewAccountTokenService(db, repos, mailer, logger, time.Hour)

	return &testEnv{
		db:     db,
		repos:  repos,
		mailer: mailer,
		otps:   otps,
		auth:   auth,
		login:  login,
		reset:  reset,
		tokens: tokens,
	}
}

type testClient struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	hwID []byte
}

func newTestClient(t *testing.T) *testClient {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hwID := make([]byte, HwIDSize)
	_, err = rand.Read(hwID)
	require.NoError(t, err)
	return &testClient{pub: pub, priv: priv, hwID: hwID}
}

// authRequest produces a fresh one time password signed by the client key.
func (c *testClient) authRequest(t *testing.T, env *testEnv) AuthRequest {
	t.Helper()
	otps, err := env.auth.GenerateOtps(1)
	require.NoError(t, err)
	return AuthRequest{
		PubKey:    c.pub,
		Otp:       otps[0][:],
		Signature: ed25519.Sign(c.priv, otps[0][:]),
		HwID:      c.hwID,
	}
}

func (c *testClient) sessionRequest(t *testing.T, env *testEnv, email string, prehash []byte) SessionRequest {
	t.Helper()
	otps, err := env.auth.GenerateOtps(2)
	require.NoError(t, err)
	return SessionRequest{
		Email:           email,
		PasswordPrehash: prehash,
		PubKey:          c.pub,
		Otp:             otps[0][:],
		Signature:       ed25519.Sign(c.priv, otps[0][:]),
		HwID:            c.hwID,
		AuthRequest: AuthRequest{
			PubKey:    c.pub,
			Otp:       otps[1][:],
			Signature: ed25519.Sign(c.priv, otps[1][:]),
			HwID:      c.hwID,
		},
	}
}

func register(t *testing.T, env *testEnv, client *testClient, email, password string) (*cryptox.AccountData, *RegisterResponse) {
	t.Helper()
	data, err := cryptox.GenerateAccountData(email, password)
	require.NoError(t, err)

	resp, err := env.login.Register(context.Background(), RegisterRequest{
		Email:       email,
		AccountData: data.ForServer,
		Session:     client.sessionRequest(t, env, email, data.ForServer.PasswordPrehash),
	})
	require.NoError(t, err)
	return data, resp
}

// bodyToken finds the 32-byte base64url token embedded in an email body.
func bodyToken(t *testing.T, body string) []byte {
	t.Helper()
	for _, field := range strings.Fields(body) {
		if i := strings.Index(field, "token="); i >= 0 {
			field = field[i+len("token="):]
		}
		raw, err := base64.URLEncoding.DecodeString(field)
		if err == nil && len(raw) == credstore.KeySize {
			return raw
		}
	}
	t.Fatalf("no token found in email body:\n%s", body)
	return nil
}

func TestAuthNeverIssuedOtp(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	bogus := make([]byte, credstore.KeySize)
	_, err := rand.Read(bogus)
	require.NoError(t, err)

	_, err = env.auth.Auth(context.Background(), AuthRequest{
		PubKey:    client.pub,
		Otp:       bogus,
		Signature: ed25519.Sign(client.priv, bogus),
		HwID:      client.hwID,
	})
	require.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestAuthBadSignatureBurnsOtp(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	otps, err := env.auth.GenerateOtps(1)
	require.NoError(t, err)

	req := AuthRequest{
		PubKey:    client.pub,
		Otp:       otps[0][:],
		Signature: make([]byte, ed25519.SignatureSize),
		HwID:      client.hwID,
	}
	_, err = env.auth.Auth(context.Background(), req)
	require.ErrorIs(t, err, common.ErrBadSignature)

	// the password was consumed before the signature check failed
	req.Signature = ed25519.Sign(client.priv, otps[0][:])
	_, err = env.auth.Auth(context.Background(), req)
	require.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestAuthUnknownSessionIsNotAnError(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	resp, err := env.auth.Auth(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)
}

func TestAuthFieldSizes(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	req := client.authRequest(t, env)
	req.HwID = req.HwID[:HwIDSize-1]

	_, err := env.auth.Auth(context.Background(), req)
	require.ErrorIs(t, err, common.ErrorValidation)
}

func TestRegisterAndVerifyFlow(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "a@example.com"
	const password = "Tr0ub4dor&3"

	data, resp := register(t, env, client, email, password)
	require.True(t, resp.RequiresVerification)
	assert.False(t, resp.AccountAlreadyExists)

	// the first session is attached but the account is not verified yet
	require.NotNil(t, resp.Login)
	require.NotNil(t, resp.Login.Success)
	assert.False(t, resp.Login.Success.Auth.Verified)
	assert.Zero(t, resp.Login.Success.Auth.AccountID)

	// the returned envelope opens with the password
	require.NotNil(t, resp.Login.Success.MainSecret)
	mainSecret, err := cryptox.DecryptMainSecretWithPassword(resp.Login.Success.MainSecret, password)
	require.NoError(t, err)
	assert.Equal(t, data.MainSecret, mainSecret)

	verify := env.mailer.last(t)
	assert.Equal(t, email, verify.To)
	require.NoError(t, env.login.CompleteRegister(context.Background(), base64.URLEncoding.EncodeToString(bodyToken(t, verify.Body))))

	// a fresh auth now discloses the account id
	authResp, err := env.auth.Auth(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)
	require.NotNil(t, authResp.Success)
	assert.True(t, authResp.Success.Verified)
	assert.Positive(t, authResp.Success.AccountID)
	assert.NotNil(t, authResp.Success.Secret)
}

func TestCompleteRegisterTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	_, _ = register(t, env, client, "a@example.com", "Tr0ub4dor&3")
	token := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	require.NoError(t, env.login.CompleteRegister(context.Background(), token))
	require.ErrorIs(t, env.login.CompleteRegister(context.Background(), token), common.ErrTokenInvalid)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	_, resp := register(t, env, newTestClient(t), "a@example.com", "Tr0ub4dor&3")
	require.False(t, resp.AccountAlreadyExists)

	_, resp = register(t, env, newTestClient(t), "a@example.com", "other password")
	assert.True(t, resp.AccountAlreadyExists)
	assert.False(t, resp.RequiresVerification)
}

func TestLoginPasswordWrongCredentials(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "a@example.com"

	register(t, env, client, email, "Tr0ub4dor&3")

	wrong, err := cryptox.GenerateAccountData(email, "not the password")
	require.NoError(t, err)

	// wrong password and unknown email yield the same empty response
	resp, err := env.login.LoginPassword(context.Background(), client.sessionRequest(t, env, email, wrong.ForServer.PasswordPrehash))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)

	resp, err = env.login.LoginPassword(context.Background(), client.sessionRequest(t, env, "b@example.com", wrong.ForServer.PasswordPrehash))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)
}

func TestLoginTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "fresh@example.com"

	require.NoError(t, env.login.LoginTokenEmail(context.Background(), email))
	token := bodyToken(t, env.mailer.last(t).Body)

	req := LoginRequest{
		Email:               email,
		LoginToken:          token,
		LoginTokenSignature: ed25519.Sign(client.priv, token),
		PubKey:              client.pub,
		HwID:                client.hwID,
		AuthRequest:         client.authRequest(t, env),
	}
	resp, err := env.login.Login(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
	// an account created from a bare login token has no main secret yet
	assert.Nil(t, resp.Success.MainSecret)

	// the token is gone after the first use
	req.AuthRequest = client.authRequest(t, env)
	_, err = env.login.Login(context.Background(), req)
	require.ErrorIs(t, err, common.ErrTokenInvalid)
}

func TestLoginTokenBadSignature(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	other := newTestClient(t)
	const email = "fresh@example.com"

	require.NoError(t, env.login.LoginTokenEmail(context.Background(), email))
	token := bodyToken(t, env.mailer.last(t).Body)

	_, err := env.login.Login(context.Background(), LoginRequest{
		Email:               email,
		LoginToken:          token,
		LoginTokenSignature: ed25519.Sign(other.priv, token),
		PubKey:              client.pub,
		HwID:                client.hwID,
		AuthRequest:         client.authRequest(t, env),
	})
	require.ErrorIs(t, err, common.ErrBadSignature)
}

func TestLoginTokenEmailDeliveryFailureFailsRequest(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.fail = true

	err := env.login.LoginTokenEmail(context.Background(), "a@example.com")
	require.ErrorIs(t, err, common.ErrorInternal)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	register(t, env, client, "a@example.com", "Tr0ub4dor&3")
	require.NoError(t, env.login.Logout(context.Background(), client.pub, client.hwID))

	resp, err := env.auth.Auth(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	oldClient := newTestClient(t)
	const email = "a@example.com"
	const oldPassword = "Tr0ub4dor&3"
	const newPassword = "correct horse battery staple"

	register(t, env, oldClient, email, oldPassword)

	require.NoError(t, env.reset.PasswordForgot(context.Background(), email))
	code := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	newData, err := cryptox.GenerateAccountData(email, newPassword)
	require.NoError(t, err)
	newClient := newTestClient(t)

	resp, err := env.reset.PasswordReset(context.Background(), PasswordResetRequest{
		ResetCodeBase64: code,
		RegisterData:    newData.ForServer,
		Session:         newClient.sessionRequest(t, env, email, newData.ForServer.PasswordPrehash),
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Success)

	mainSecret, err := cryptox.DecryptMainSecretWithPassword(resp.Success.MainSecret, newPassword)
	require.NoError(t, err)
	assert.Equal(t, newData.MainSecret, mainSecret)

	// every pre-reset session is gone
	authResp, err := env.auth.Auth(context.Background(), oldClient.authRequest(t, env))
	require.NoError(t, err)
	assert.Nil(t, authResp.Success)

	// the old password no longer matches
	oldData, err := cryptox.GenerateAccountData(email, oldPassword)
	require.NoError(t, err)
	loginResp, err := env.login.LoginPassword(context.Background(), oldClient.sessionRequest(t, env, email, oldData.ForServer.PasswordPrehash))
	require.NoError(t, err)
	assert.Nil(t, loginResp.Success)
}

func TestPasswordResetConsumedCodeChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "a@example.com"
	const password = "Tr0ub4dor&3"

	register(t, env, client, email, password)
	require.NoError(t, env.reset.PasswordForgot(context.Background(), email))
	code := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	firstData, err := cryptox.GenerateAccountData(email, "first new password")
	require.NoError(t, err)
	_, err = env.reset.PasswordReset(context.Background(), PasswordResetRequest{
		ResetCodeBase64: code,
		RegisterData:    firstData.ForServer,
		Session:         newTestClient(t).sessionRequest(t, env, email, firstData.ForServer.PasswordPrehash),
	})
	require.NoError(t, err)

	secondData, err := cryptox.GenerateAccountData(email, "second new password")
	require.NoError(t, err)
	_, err = env.reset.PasswordReset(context.Background(), PasswordResetRequest{
		ResetCodeBase64: code,
		RegisterData:    secondData.ForServer,
		Session:         newTestClient(t).sessionRequest(t, env, email, secondData.ForServer.PasswordPrehash),
	})
	require.ErrorIs(t, err, common.ErrTokenInvalid)

	// the credentials installed by the first reset still work
	loginClient := newTestClient(t)
	resp, err := env.login.LoginPassword(context.Background(), loginClient.sessionRequest(t, env, email, firstData.ForServer.PasswordPrehash))
	require.NoError(t, err)
	require.NotNil(t, resp.Success)
}

func TestPasswordForgotUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.reset.PasswordForgot(context.Background(), "nobody@example.com"))
	assert.Zero(t, env.mailer.count())
}

func TestDeleteAccount(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "a@example.com"

	register(t, env, client, email, "Tr0ub4dor&3")

	require.NoError(t, env.tokens.AccountTokenEmail(context.Background(), email))
	token := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	require.NoError(t, env.tokens.DeleteAccount(context.Background(), token))

	// account and sessions are gone; the email can be registered again
	resp, err := env.auth.Auth(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)

	_, regResp := register(t, env, newTestClient(t), email, "another password")
	assert.False(t, regResp.AccountAlreadyExists)
}

func TestDeleteSessions(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)
	const email = "a@example.com"

	register(t, env, client, email, "Tr0ub4dor&3")

	require.NoError(t, env.tokens.AccountTokenEmail(context.Background(), email))
	token := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	require.NoError(t, env.tokens.DeleteSessions(context.Background(), token))

	resp, err := env.auth.Auth(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)
	assert.Nil(t, resp.Success)

	// the account itself survives
	data, err := cryptox.GenerateAccountData(email, "Tr0ub4dor&3")
	require.NoError(t, err)
	loginResp, err := env.login.LoginPassword(context.Background(), client.sessionRequest(t, env, email, data.ForServer.PasswordPrehash))
	require.NoError(t, err)
	require.NotNil(t, loginResp.Success)
}

func TestAccountTokenIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	const email = "a@example.com"

	register(t, env, newTestClient(t), email, "Tr0ub4dor&3")
	require.NoError(t, env.tokens.AccountTokenEmail(context.Background(), email))
	token := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))

	require.NoError(t, env.tokens.DeleteSessions(context.Background(), token))
	require.ErrorIs(t, env.tokens.DeleteSessions(context.Background(), token), common.ErrTokenInvalid)
}

func TestAccountTokenEmailUnknownIsSilent(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.tokens.AccountTokenEmail(context.Background(), "nobody@example.com"))
	assert.Zero(t, env.mailer.count())
}

func TestRegisterTokens(t *testing.T) {
	env := newTestEnv(t)
	client := newTestClient(t)

	register(t, env, client, "a@example.com", "Tr0ub4dor&3")

	// unverified accounts cannot obtain register tokens
	_, err := env.auth.IssueRegisterToken(context.Background(), client.authRequest(t, env))
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	token := base64.URLEncoding.EncodeToString(bodyToken(t, env.mailer.last(t).Body))
	require.NoError(t, env.login.CompleteRegister(context.Background(), token))

	issued, err := env.auth.IssueRegisterToken(context.Background(), client.authRequest(t, env))
	require.NoError(t, err)

	accountID, ok := env.auth.ResolveRegisterToken(issued)
	require.True(t, ok)
	assert.Positive(t, accountID)

	_, ok = env.auth.ResolveRegisterToken(issued)
	assert.False(t, ok)
}

func TestCleanupSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Minute)
	live := time.Now().UTC().Add(time.Hour)

	mk := func() []byte { return common.GenerateRandByteArray(credstore.KeySize) }
	deadLogin, liveLogin := mk(), mk()
	require.NoError(t, env.repos.LoginTokens(env.db).Create(ctx, deadLogin, "a@example.com", expired))
	require.NoError(t, env.repos.LoginTokens(env.db).Create(ctx, liveLogin, "a@example.com", live))
	require.NoError(t, env.repos.AccountTokens(env.db).Create(ctx, mk(), 1, expired))
	require.NoError(t, env.repos.ResetCodes(env.db).Create(ctx, mk(), 1, expired))
	require.NoError(t, env.repos.VerifyTokens(env.db).Create(ctx, mk(), 1, expired))

	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	NewCleanupService(env.db, env.repos, logger, time.Hour).Sweep(ctx)

	var count int
	for _, table := range []string{"login_tokens", "account_tokens", "reset_codes", "verify_tokens"} {
		require.NoError(t, env.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count))
		if table == "login_tokens" {
			assert.Equal(t, 1, count, table)
		} else {
			assert.Zero(t, count, table)
		}
	}

	// the surviving token is still consumable
	_, err := env.repos.LoginTokens(env.db).Consume(ctx, liveLogin, time.Now().UTC())
	require.NoError(t, err)
}
