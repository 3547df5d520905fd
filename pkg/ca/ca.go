// Package ca mints and caches TLS leaf certificates chained to a locally
// generated root, for use by the proxy's MITM front-end.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/witmproxy/witmproxy/internal/errx"
)

const (
	rootValidityYears = 10
	leafBackdate      = 24 * time.Hour
	leafForward       = 365 * 24 * time.Hour
)

// CA holds a root certificate/key pair and mints leaf certificates signed
// by it, caching them in a bounded LRU with mint coalescing so concurrent
// requests for the same host never mint twice.
type CA struct {
	dir string

	rootCert *x509.Certificate
	rootKey  *rsa.PrivateKey

	cache   *lru.Cache[string, *tls.Certificate]
	minting singleflight.Group
}

// Open loads the root cert/key pair from dir/ca.crt and dir/ca.key if both
// exist, otherwise generates and persists a new 10-year root. capacity
// bounds the in-memory leaf cache (0 defaults to 1000).
func Open(dir string, capacity int) (*CA, error) {
	if capacity <= 0 {
		capacity = 1000
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	cache, err := lru.New[string, *tls.Certificate](capacity)
	if err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	c := &CA{dir: dir, cache: cache}

	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")

	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	if certErr == nil && keyErr == nil {
		if err := c.load(certPath, keyPath); err != nil {
			return nil, err
		}
		return c, nil
	}

	if err := c.generateRoot(); err != nil {
		return nil, err
	}
	if err := c.save(certPath, keyPath); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *CA) load(certPath, keyPath string) error {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return errx.Wrap(ErrIO, err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return errx.Wrap(ErrIO, err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return errx.With(ErrInvalidFormat, ": %s is not PEM", certPath)
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return errx.With(ErrInvalidFormat, ": %s is not PEM", keyPath)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}

	c.rootCert = cert
	c.rootKey = key
	return nil
}

func (c *CA) generateRoot() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return errx.Wrap(ErrIO, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"witmproxy"},
			CommonName:   "witmproxy root CA",
		},
		NotBefore:             now,
		NotAfter:              now.AddDate(rootValidityYears, 0, 0),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLen:            0,
		MaxPathLenZero:        true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return errx.Wrap(ErrIO, err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return errx.Wrap(ErrIO, err)
	}

	c.rootKey = key
	c.rootCert = cert
	return nil
}

func (c *CA) save(certPath, keyPath string) error {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.rootCert.Raw})
	if err := os.WriteFile(certPath, certPEM, 0644); err != nil {
		return errx.Wrap(ErrIO, err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(c.rootKey)})
	if err := os.WriteFile(keyPath, keyPEM, 0600); err != nil {
		return errx.Wrap(ErrIO, err)
	}
	return nil
}

// GetCert returns a cached leaf certificate for host, minting one on miss.
// Concurrent callers for the same host coalesce onto a single mint.
func (c *CA) GetCert(host string) (*tls.Certificate, error) {
	if host == "" || strings.ContainsAny(host, " \t\r\n") {
		return nil, errx.With(ErrInvalidFormat, ": %q", host)
	}

	if cert, ok := c.cache.Get(host); ok {
		return cert, nil
	}

	v, err, _ := c.minting.Do(host, func() (interface{}, error) {
		if cert, ok := c.cache.Get(host); ok {
			return cert, nil
		}
		cert, err := c.mint(host)
		if err != nil {
			return nil, err
		}
		c.cache.Add(host, cert)
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

func (c *CA) mint(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		NotBefore:             now.Add(-leafBackdate),
		NotAfter:              now.Add(leafForward),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
		if strings.HasPrefix(host, "*.") {
			template.DNSNames = append(template.DNSNames, host[2:])
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, c.rootCert, &key.PublicKey, c.rootKey)
	if err != nil {
		return nil, errx.Wrap(ErrIO, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, c.rootCert.Raw},
		PrivateKey:  key,
	}, nil
}

// RootDER returns the root certificate in DER form.
func (c *CA) RootDER() []byte {
	return c.rootCert.Raw
}

// RootPEM returns the root certificate PEM-encoded, for distribution to
// clients that need to trust this proxy.
func (c *CA) RootPEM() string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.rootCert.Raw}))
}

// ClearCache drops all cached leaf certificates.
func (c *CA) ClearCache() {
	c.cache.Purge()
}
