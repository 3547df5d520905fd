package sandbox

import (
	"crypto/ed25519"
	"errors"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest_RoundTrips(t *testing.T) {
	w := wireManifest{
		Namespace: "acme",
		Name:      "adblock",
		Version:   "1.0.0",
		PublicKey: []byte("0123456789012345678901234567890"),
		Priority:  5,
		Capabilities: []wireCapability{
			{Kind: "handle_event_request", Scope: "true", Granted: true},
		},
	}
	b, err := cbor.Marshal(w)
	require.NoError(t, err)

	m, err := parseManifest(b)
	require.NoError(t, err)
	assert.Equal(t, "acme/adblock", m.Identity())
	assert.Equal(t, 5, m.Priority)
	require.Len(t, m.Capabilities, 1)
	assert.Equal(t, "handle_event_request", string(m.Capabilities[0].Kind))
}

func TestParseManifest_RejectsMissingName(t *testing.T) {
	b, err := cbor.Marshal(wireManifest{Namespace: "acme"})
	require.NoError(t, err)

	_, err = parseManifest(b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestParseManifest_RejectsGarbage(t *testing.T) {
	_, err := parseManifest([]byte{0xff, 0x00, 0x01})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFormat))
}

func TestRuntimeLoad_RejectsEmptyPublicKey(t *testing.T) {
	r := NewRuntime(nil)

	manifestBytes, err := cbor.Marshal(wireManifest{Name: "x"})
	require.NoError(t, err)

	_, err = r.Load([]byte{0x00, 0x61, 0x73, 0x6d}, manifestBytes, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
}

func TestRuntimeLoad_RejectsBadSignature(t *testing.T) {
	r := NewRuntime(nil)

	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	manifestBytes, err := cbor.Marshal(wireManifest{Name: "x", PublicKey: pub})
	require.NoError(t, err)

	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d}
	badSig := make([]byte, ed25519.SignatureSize)

	_, err = r.Load(wasmBytes, manifestBytes, badSig)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSignatureInvalid))
}

func TestRuntimeLoad_AcceptsValidSignature(t *testing.T) {
	r := NewRuntime(nil)

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	manifestBytes, err := cbor.Marshal(wireManifest{Name: "x", PublicKey: pub})
	require.NoError(t, err)

	wasmBytes := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	sig := ed25519.Sign(priv, wasmBytes)

	_, err = r.Load(wasmBytes, manifestBytes, sig)
	// The signature verifies; compilation of this minimal byte sequence
	// may still fail wasmtime's module validation, which is a distinct
	// (ErrInvalidFormat) failure mode from signature verification.
	if err != nil {
		assert.True(t, errors.Is(err, ErrInvalidFormat))
	}
}
