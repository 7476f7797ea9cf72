// Package certstore loads the mTLS transport and request-signing certificates
// used to talk to Open Finance Brasil banks.
package certstore

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/pkcs12"

	"ofbconnect/internal/shared/apperr"
	"ofbconnect/internal/shared/config"
)

const (
	TransportName = "transport"
	SigningName   = "signing"

	defaultWarningThreshold = 30 * 24 * time.Hour
)

// Certificate status values reported by Info.
const (
	StatusValid    = "valid"
	StatusExpiring = "expiring"
	StatusExpired  = "expired"
)

// ErrNoSigningKey is returned when a request object must be signed but no
// signing certificate was loaded.
var ErrNoSigningKey = errors.New("no signing certificate loaded")

// Info describes a loaded certificate for monitoring.
type Info struct {
	Name          string    `json:"name"`
	Subject       string    `json:"subject"`
	Issuer        string    `json:"issuer"`
	Serial        string    `json:"serial_number"`
	ExpiresAt     time.Time `json:"expires_at"`
	DaysRemaining int       `json:"days_remaining"`
	Status        string    `json:"status"`
}

// Store holds the certificates. It is read-only after construction.
type Store struct {
	transport *tls.Certificate
	signing   *tls.Certificate
	roots     *x509.CertPool
	warning   time.Duration
	now       func() time.Time
}

// New builds a store from already parsed certificates. signing defaults to transport.
func New(transport, signing *tls.Certificate, roots *x509.CertPool, warning time.Duration) *Store {
	if warning <= 0 {
		warning = defaultWarningThreshold
	}
	if signing == nil {
		signing = transport
	}
	for _, c := range []*tls.Certificate{transport, signing} {
		if c != nil && c.Leaf == nil && len(c.Certificate) > 0 {
			c.Leaf, _ = x509.ParseCertificate(c.Certificate[0])
		}
	}
	return &Store{transport: transport, signing: signing, roots: roots, warning: warning, now: time.Now}
}

// Load reads certificates from the configured files. A PKCS#12 bundle, when set,
// provides both the transport and the signing certificate unless separate
// signing files are configured. With nothing configured an empty store is returned.
func Load(cfg config.CertificatesConfig) (*Store, error) {
	var transport, signing *tls.Certificate
	var err error

	switch {
	case cfg.PKCS12Path != "":
		transport, err = loadPKCS12(cfg.PKCS12Path, cfg.PKCS12Password)
	case cfg.TransportCertPath != "":
		transport, err = loadKeyPair(cfg.TransportCertPath, cfg.TransportKeyPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transport certificate: %w", err)
	}

	if cfg.SigningCertPath != "" {
		signing, err = loadKeyPair(cfg.SigningCertPath, cfg.SigningKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing certificate: %w", err)
		}
	}

	var roots *x509.CertPool
	if cfg.CABundlePath != "" {
		pemData, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("CA bundle %s contains no certificates", cfg.CABundlePath)
		}
	}

	s := New(transport, signing, roots, cfg.WarningThreshold)
	if transport == nil {
		log.Warn().Msg("No Open Finance certificates configured")
	}
	return s, nil
}

func loadKeyPair(certPath, keyPath string) (*tls.Certificate, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path missing for %s", certPath)
	}
	pair, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}
	return &pair, nil
}

func loadPKCS12(path, password string) (*tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePKCS12(data, password)
}

// ParsePKCS12 decodes a PKCS#12 bundle holding a private key and its chain.
func ParsePKCS12(data []byte, password string) (*tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(data, password)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pkcs12: %w", err)
	}
	var certPEM, keyPEM []byte
	for _, b := range blocks {
		encoded := pem.EncodeToMemory(b)
		if b.Type == "PRIVATE KEY" || b.Type == "RSA PRIVATE KEY" || b.Type == "EC PRIVATE KEY" {
			keyPEM = append(keyPEM, encoded...)
			continue
		}
		certPEM = append(certPEM, encoded...)
	}
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("invalid pkcs12 contents: %w", err)
	}
	return &pair, nil
}

// Generate creates a self-signed RSA certificate valid for validity. It backs
// sandbox runs without configured certificates and tests.
func Generate(commonName string, validity time.Duration) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"ofbconnect"}},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, nil
}

// Loaded reports whether a transport certificate is present.
func (s *Store) Loaded() bool {
	return s.transport != nil
}

// TLSConfig returns the client TLS configuration for bank calls.
func (s *Store) TLSConfig() *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    s.roots,
	}
	if s.transport != nil {
		cfg.Certificates = []tls.Certificate{*s.transport}
	}
	return cfg
}

// HTTPClient returns a client presenting the transport certificate.
func (s *Store) HTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = s.TLSConfig()
	return &http.Client{Transport: transport, Timeout: timeout}
}

// SigningKey returns the request-signing key, its key id (the certificate
// serial in hex) and the x5c chain (standard base64 DER).
func (s *Store) SigningKey() (crypto.Signer, string, []string, error) {
	if s.signing == nil || s.signing.Leaf == nil {
		return nil, "", nil, ErrNoSigningKey
	}
	signer, ok := s.signing.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, "", nil, fmt.Errorf("signing key of type %T cannot sign", s.signing.PrivateKey)
	}
	x5c := make([]string, 0, len(s.signing.Certificate))
	for _, der := range s.signing.Certificate {
		x5c = append(x5c, base64.StdEncoding.EncodeToString(der))
	}
	return signer, s.signing.Leaf.SerialNumber.Text(16), x5c, nil
}

// Info describes every loaded certificate.
func (s *Store) Info() []Info {
	var out []Info
	if s.transport != nil && s.transport.Leaf != nil {
		out = append(out, s.describe(TransportName, s.transport.Leaf))
	}
	if s.signing != nil && s.signing.Leaf != nil {
		out = append(out, s.describe(SigningName, s.signing.Leaf))
	}
	return out
}

func (s *Store) describe(name string, c *x509.Certificate) Info {
	remaining := c.NotAfter.Sub(s.now())
	status := StatusValid
	switch {
	case remaining <= 0:
		status = StatusExpired
	case remaining < s.warning:
		status = StatusExpiring
	}
	return Info{
		Name:          name,
		Subject:       c.Subject.String(),
		Issuer:        c.Issuer.String(),
		Serial:        c.SerialNumber.String(),
		ExpiresAt:     c.NotAfter.UTC(),
		DaysRemaining: int(remaining.Hours() / 24),
		Status:        status,
	}
}

// Validate fails with a certificate error when a loaded certificate has expired
// or is not yet valid, and logs a warning for those close to expiry.
func (s *Store) Validate() error {
	now := s.now()
	for _, info := range s.Info() {
		switch info.Status {
		case StatusExpired:
			return &apperr.BankAPIError{
				Kind:   apperr.KindCertificate,
				Detail: fmt.Sprintf("%s certificate expired at %s", info.Name, info.ExpiresAt.Format(time.RFC3339)),
			}
		case StatusExpiring:
			log.Warn().
				Str("certificate", info.Name).
				Int("days_remaining", info.DaysRemaining).
				Msg("Certificate expires soon")
		}
	}
	for name, c := range map[string]*tls.Certificate{TransportName: s.transport, SigningName: s.signing} {
		if c != nil && c.Leaf != nil && now.Before(c.Leaf.NotBefore) {
			return &apperr.BankAPIError{Kind: apperr.KindCertificate, Detail: name + " certificate not yet valid"}
		}
	}
	return nil
}
