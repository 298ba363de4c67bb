package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/dmitrijs2005/accountsrv/internal/common"
	"github.com/dmitrijs2005/accountsrv/internal/logging"
)

// accountExtensionOID marks the custom certificate extension binding the
// certificate to an account. The convention is private to this server and
// the game servers that verify its certificates.
var accountExtensionOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 55555, 1}

// accountExtension is the DER payload of the custom extension.
type accountExtension struct {
	AccountID int64
	UtcMillis int64
}

// CertIssuer signs short-lived session certificates with a persistent
// ed25519 key. Game servers holding the CA certificate can verify a
// client's account binding offline.
type CertIssuer struct {
	auth      *AuthService
	logger    logging.Logger
	key       ed25519.PrivateKey
	caCert    *x509.Certificate
	caDER     []byte
	validity  time.Duration
	clockSkew time.Duration
	now       func() time.Time
}

// NewCertIssuer loads the signing key from keyPath, generating and saving a
// fresh one if the file does not exist, and builds the self-signed CA
// certificate that anchors every issued session certificate.
func NewCertIssuer(auth *AuthService, logger logging.Logger, keyPath string, validity, clockSkew time.Duration) (*CertIssuer, error) {
	key, err := loadOrGenerateSigningKey(keyPath)
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	caDER, err := buildCACert(key)
	if err != nil {
		return nil, fmt.Errorf("ca certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, fmt.Errorf("ca certificate: %w", err)
	}

	return &CertIssuer{
		auth:      auth,
		logger:    logger.With("module", "certs"),
		key:       key,
		caCert:    caCert,
		caDER:     caDER,
		validity:  validity,
		clockSkew: clockSkew,
		now:       time.Now,
	}, nil
}

// CACertificatePEM returns the CA certificate for distribution to the game
// servers that verify issued certificates.
func (s *CertIssuer) CACertificatePEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.caDER})
}

// Sign authenticates the request and issues a DER-encoded certificate over
// the session's public key, embedding the account id and the session
// creation time in the account extension.
//
// The client timestamp must lie within the clock skew of the server wall
// clock, endpoints of the window included. Rejecting stale timestamps keeps
// a captured request from being replayed after the fact.
func (s *CertIssuer) Sign(ctx context.Context, req SignRequest) ([]byte, error) {
	now := s.now().UTC()
	drift := now.Sub(req.TimeStamp())
	if drift < 0 {
		drift = -drift
	}
	if drift > s.clockSkew {
		return nil, fmt.Errorf("%w: timestamp outside the accepted window", common.ErrorValidation)
	}

	resp, err := s.auth.Auth(ctx, req.AuthRequest)
	if err != nil {
		return nil, err
	}
	if resp.Success == nil || !resp.Success.Verified {
		return nil, common.ErrorUnauthorized
	}

	extValue, err := asn1.Marshal(accountExtension{
		AccountID: resp.Success.AccountID,
		UtcMillis: resp.Success.SessionCreatedAt.UnixMilli(),
	})
	if err != nil {
		s.logger.Error(ctx, "encoding account extension failed", "op", "sign", "error", err.Error())
		return nil, common.ErrorInternal
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, common.ErrorInternal
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "session"},
		NotBefore:    now,
		NotAfter:     now.Add(s.validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{{
			Id:    accountExtensionOID,
			Value: extValue,
		}},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, s.caCert, ed25519.PublicKey(req.AuthRequest.PubKey), s.key)
	if err != nil {
		s.logger.Error(ctx, "certificate creation failed", "op", "sign", "error", err.Error())
		return nil, common.ErrorInternal
	}
	return der, nil
}

func loadOrGenerateSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		block, _ := pem.Decode(data)
		if block == nil || block.Type != "PRIVATE KEY" {
			return nil, fmt.Errorf("no private key in %s", path)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%s does not hold an ed25519 key", path)
		}
		return key, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	if err := os.WriteFile(path, pemData, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func buildCACert(key ed25519.PrivateKey) ([]byte, error) {
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "accountsrv CA"},
		NotBefore:             time.Now().UTC().Add(-time.Hour),
		NotAfter:              time.Now().UTC().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	return x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
}
