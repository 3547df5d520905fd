package plugin

import (
	"crypto/ed25519"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witmproxy/witmproxy/pkg/capability"
	"github.com/witmproxy/witmproxy/pkg/event"
	"github.com/witmproxy/witmproxy/pkg/predicate"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

// emptyModule is the minimal valid WASM module (magic + version, no
// sections), used so registry tests can exercise real compilation without
// hand-authoring a module that exports manifest/handle.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dbStore, err := OpenStore(filepath.Join(t.TempDir(), "plugins.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbStore.Close() })

	eng, err := predicate.NewEngine()
	require.NoError(t, err)

	reg, err := NewRegistry(dbStore, sandbox.NewRuntime(nil), eng, nil)
	require.NoError(t, err)
	return reg
}

func signedManifest(t *testing.T, identity string, priority int, scope string) (capability.Manifest, []byte) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	m := capability.Manifest{
		Name:      identity,
		Version:   "1.0.0",
		PublicKey: pub,
		Priority:  priority,
		Capabilities: []capability.Capability{
			{Kind: capability.KindHandleEventRequest, Scope: scope, Granted: true},
		},
	}
	return m, ed25519.Sign(priv, emptyModule)
}

func TestRegistry_PluginsForMatchesPredicate(t *testing.T) {
	reg := newTestRegistry(t)

	m, sig := signedManifest(t, "adblock", 0, `request.path() == "/ads"`)
	require.NoError(t, reg.Register(m, emptyModule, sig, true))

	req := event.Request{Path: "/ads"}
	cand, err := reg.PluginsFor(event.KindRequest, predicate.Vars{Request: predicate.RequestVars(req)}, nil)
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "adblock", cand.identity)

	req.Path = "/other"
	cand, err = reg.PluginsFor(event.KindRequest, predicate.Vars{Request: predicate.RequestVars(req)}, nil)
	require.NoError(t, err)
	require.Nil(t, cand)
}

func TestRegistry_PluginsForRespectsPriorityOrder(t *testing.T) {
	reg := newTestRegistry(t)

	mLow, sigLow := signedManifest(t, "low", 10, "true")
	mHigh, sigHigh := signedManifest(t, "high", 1, "true")
	require.NoError(t, reg.Register(mLow, emptyModule, sigLow, true))
	require.NoError(t, reg.Register(mHigh, emptyModule, sigHigh, true))

	cand, err := reg.PluginsFor(event.KindRequest, predicate.Vars{}, nil)
	require.NoError(t, err)
	require.NotNil(t, cand)
	require.Equal(t, "high", cand.identity, "lower priority value runs first")
}

func TestRegistry_PluginsForSkipsAlreadyExecuted(t *testing.T) {
	reg := newTestRegistry(t)

	m, sig := signedManifest(t, "only", 0, "true")
	require.NoError(t, reg.Register(m, emptyModule, sig, true))

	cand, err := reg.PluginsFor(event.KindRequest, predicate.Vars{}, map[string]bool{"only": true})
	require.NoError(t, err)
	require.Nil(t, cand)
}

func TestRegistry_RemoveDropsFromIndex(t *testing.T) {
	reg := newTestRegistry(t)

	m, sig := signedManifest(t, "gone", 0, "true")
	require.NoError(t, reg.Register(m, emptyModule, sig, true))

	_, err := reg.Remove("gone", nil)
	require.NoError(t, err)

	cand, err := reg.PluginsFor(event.KindRequest, predicate.Vars{}, nil)
	require.NoError(t, err)
	require.Nil(t, cand)
}

func TestRegistry_RemoveUnknownReturnsNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Remove("nope", nil)
	require.ErrorIs(t, err, ErrNotFound)
}
