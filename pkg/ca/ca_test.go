package ca

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0600)
}

func TestOpen_GeneratesRootOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "ca.crt"))
	assert.FileExists(t, filepath.Join(dir, "ca.key"))
	assert.NotEmpty(t, c.RootPEM())
}

func TestOpen_ReloadsExistingRoot(t *testing.T) {
	dir := t.TempDir()
	c1, err := Open(dir, 0)
	require.NoError(t, err)

	c2, err := Open(dir, 0)
	require.NoError(t, err)

	assert.Equal(t, c1.RootDER(), c2.RootDER())
}

func TestOpen_RootValidityIsTenYears(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(c.RootPEM()))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.True(t, cert.IsCA)
	assert.WithinDuration(t, time.Now().AddDate(10, 0, 0), cert.NotAfter, 24*time.Hour)
}

func TestOpen_RejectsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, writeFile(filepath.Join(dir, "ca.crt"), []byte("not pem")))
	require.NoError(t, writeFile(filepath.Join(dir, "ca.key"), []byte("not pem")))

	_, err := Open(dir, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestGetCert_CachesByHost(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	first, err := c.GetCert("example.com")
	require.NoError(t, err)
	second, err := c.GetCert("example.com")
	require.NoError(t, err)

	assert.Same(t, first, second)
}

func TestGetCert_WildcardIncludesBareDomainSAN(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	leaf, err := c.GetCert("*.example.com")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)
	assert.Contains(t, cert.DNSNames, "*.example.com")
	assert.Contains(t, cert.DNSNames, "example.com")
}

func TestGetCert_NumericIPUsesIPAddressSAN(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	leaf, err := c.GetCert("127.0.0.1")
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "127.0.0.1", cert.IPAddresses[0].String())
	assert.Empty(t, cert.DNSNames)
}

func TestGetCert_ValidityWindow(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	leaf, err := c.GetCert("example.com")
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(leaf.Certificate[0])
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(-leafBackdate), cert.NotBefore, time.Minute)
	assert.WithinDuration(t, time.Now().Add(leafForward), cert.NotAfter, time.Minute)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}, cert.ExtKeyUsage)
}

func TestGetCert_RejectsInvalidHost(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	_, err = c.GetCert("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))

	_, err = c.GetCert("has space.com")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestGetCert_ConcurrentRequestsCoalesce(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	const n = 50
	certs := make([]*tls.Certificate, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			certs[idx], errs[idx] = c.GetCert("coalesce.example.com")
		}(i)
	}
	wg.Wait()

	for i := range certs {
		require.NoError(t, errs[i])
		assert.Same(t, certs[0], certs[i])
	}
}

func TestClearCache_DropsLeaves(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, 0)
	require.NoError(t, err)

	first, err := c.GetCert("example.com")
	require.NoError(t, err)
	c.ClearCache()
	second, err := c.GetCert("example.com")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}

