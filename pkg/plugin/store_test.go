package plugin

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/witmproxy/witmproxy/pkg/capability"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugins.db")
	s, err := OpenStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testManifest(namespace, name string) capability.Manifest {
	return capability.Manifest{
		Namespace: namespace,
		Name:      name,
		Version:   "1.0.0",
		Capabilities: []capability.Capability{
			{Kind: capability.KindHandleEventRequest, Scope: "true", Granted: true},
		},
	}
}

func TestStore_UpsertAndListEnabled(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(Record{
		Manifest:  testManifest("acme", "adblock"),
		Enabled:   true,
		Component: []byte{0x00, 0x61, 0x73, 0x6d},
	}))

	records, err := s.ListEnabled()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "acme/adblock", records[0].Manifest.Identity())
	require.Len(t, records[0].Manifest.Capabilities, 1)
	assert.Equal(t, capability.KindHandleEventRequest, records[0].Manifest.Capabilities[0].Kind)
}

func TestStore_UpsertReplacesCapabilities(t *testing.T) {
	s := testStore(t)
	m := testManifest("acme", "adblock")

	require.NoError(t, s.Upsert(Record{Manifest: m, Enabled: true, Component: []byte{0x00}}))

	m.Capabilities = []capability.Capability{{Kind: capability.KindLogger, Granted: true}}
	require.NoError(t, s.Upsert(Record{Manifest: m, Enabled: true, Component: []byte{0x00}}))

	records, err := s.ListEnabled()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, records[0].Manifest.Capabilities, 1)
	assert.Equal(t, capability.KindLogger, records[0].Manifest.Capabilities[0].Kind)
}

func TestStore_ListEnabledExcludesDisabled(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Upsert(Record{Manifest: testManifest("acme", "off"), Enabled: false, Component: []byte{0x00}}))
	require.NoError(t, s.Upsert(Record{Manifest: testManifest("acme", "on"), Enabled: true, Component: []byte{0x00}}))

	records, err := s.ListEnabled()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "acme/on", records[0].Manifest.Identity())
}

func TestStore_RemoveByNamespaceAndName(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(Record{Manifest: testManifest("acme", "adblock"), Enabled: true, Component: []byte{0x00}}))

	ns := "acme"
	identities, err := s.Remove("adblock", &ns)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/adblock"}, identities)

	records, err := s.ListEnabled()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_RemoveByNameAcrossNamespaces(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Upsert(Record{Manifest: testManifest("acme", "shared"), Enabled: true, Component: []byte{0x00}}))
	require.NoError(t, s.Upsert(Record{Manifest: testManifest("other", "shared"), Enabled: true, Component: []byte{0x00}}))

	identities, err := s.Remove("shared", nil)
	require.NoError(t, err)
	assert.Len(t, identities, 2)

	records, err := s.ListEnabled()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStore_MetadataRoundTrips(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SetMetadata("acme", "adblock", "installed_by", "cli"))

	md, err := s.Metadata("acme", "adblock")
	require.NoError(t, err)
	assert.Equal(t, "cli", md["installed_by"])
}
