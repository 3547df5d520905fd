package plugin

import (
	"database/sql"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/capability"
	"github.com/witmproxy/witmproxy/pkg/storedb"
)

// Store is the SQLite-backed persistence layer for installed plugins:
// identity and provenance columns, granted capabilities, and free-form
// per-plugin metadata, per the on-disk layout.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       path,
		Module:     "plugin",
		Migrations: migrations(),
	})
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_plugins",
			SQL: `
CREATE TABLE IF NOT EXISTS plugins (
  namespace TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  version TEXT,
  author TEXT,
  description TEXT,
  license TEXT,
  url TEXT,
  publickey BLOB,
  signature BLOB,
  priority INTEGER NOT NULL DEFAULT 0,
  enabled INTEGER NOT NULL DEFAULT 1,
  component BLOB NOT NULL,
  PRIMARY KEY (namespace, name)
);

CREATE TABLE IF NOT EXISTS plugin_capabilities (
  namespace TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  capability TEXT NOT NULL,
  scope TEXT NOT NULL DEFAULT '',
  config TEXT NOT NULL DEFAULT '',
  granted INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (namespace, name, capability)
);

CREATE TABLE IF NOT EXISTS plugin_metadata (
  namespace TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  key TEXT NOT NULL,
  value TEXT NOT NULL,
  PRIMARY KEY (namespace, name, key)
);
`,
		},
	}
}

// Record is one row of the plugins table joined with its capabilities.
type Record struct {
	Manifest  capability.Manifest
	Signature []byte
	Enabled   bool
	Component []byte
}

// Upsert inserts or replaces a plugin's row and its capability set,
// keyed by (namespace, name).
func (s *Store) Upsert(r Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}
	defer tx.Rollback()

	m := r.Manifest
	_, err = tx.Exec(`
INSERT INTO plugins (namespace, name, version, author, description, license, url, publickey, signature, priority, enabled, component)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(namespace, name) DO UPDATE SET
  version=excluded.version, author=excluded.author, description=excluded.description,
  license=excluded.license, url=excluded.url, publickey=excluded.publickey,
  signature=excluded.signature, priority=excluded.priority, enabled=excluded.enabled,
  component=excluded.component`,
		m.Namespace, m.Name, m.Version, m.Author, m.Description, m.License, m.URL,
		m.PublicKey, r.Signature, m.Priority, r.Enabled, r.Component)
	if err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}

	if _, err := tx.Exec(`DELETE FROM plugin_capabilities WHERE namespace = ? AND name = ?`, m.Namespace, m.Name); err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}
	for _, c := range m.Capabilities {
		if _, err := tx.Exec(`
INSERT INTO plugin_capabilities (namespace, name, capability, scope, config, granted)
VALUES (?, ?, ?, ?, ?, ?)`,
			m.Namespace, m.Name, string(c.Kind), c.Scope, c.Config, c.Granted); err != nil {
			return errx.Wrap(ErrInvalidFormat, err)
		}
	}

	return tx.Commit()
}

// Remove deletes the plugin identified by name (and namespace, when
// non-nil) and returns the identities actually removed.
func (s *Store) Remove(name string, namespace *string) ([]string, error) {
	var rows *sql.Rows
	var err error
	if namespace != nil {
		rows, err = s.db.Query(`SELECT namespace, name FROM plugins WHERE name = ? AND namespace = ?`, name, *namespace)
	} else {
		rows, err = s.db.Query(`SELECT namespace, name FROM plugins WHERE name = ?`, name)
	}
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	defer rows.Close()

	var identities []string
	var pairs [][2]string
	for rows.Next() {
		var ns, n string
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		pairs = append(pairs, [2]string{ns, n})
		identities = append(identities, capability.Manifest{Namespace: ns, Name: n}.Identity())
	}

	for _, p := range pairs {
		if _, err := s.db.Exec(`DELETE FROM plugins WHERE namespace = ? AND name = ?`, p[0], p[1]); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		if _, err := s.db.Exec(`DELETE FROM plugin_capabilities WHERE namespace = ? AND name = ?`, p[0], p[1]); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		if _, err := s.db.Exec(`DELETE FROM plugin_metadata WHERE namespace = ? AND name = ?`, p[0], p[1]); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
	}

	return identities, nil
}

// ListEnabled returns every enabled plugin's record, for loading at
// registry start.
func (s *Store) ListEnabled() ([]Record, error) {
	rows, err := s.db.Query(`SELECT namespace, name, version, author, description, license, url, publickey, signature, priority, component FROM plugins WHERE enabled = 1`)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var m capability.Manifest
		var sig, component []byte
		if err := rows.Scan(&m.Namespace, &m.Name, &m.Version, &m.Author, &m.Description, &m.License, &m.URL, &m.PublicKey, &sig, &m.Priority, &component); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		caps, err := s.capabilitiesFor(m.Namespace, m.Name)
		if err != nil {
			return nil, err
		}
		m.Capabilities = caps
		records = append(records, Record{Manifest: m, Signature: sig, Enabled: true, Component: component})
	}
	return records, nil
}

func (s *Store) capabilitiesFor(namespace, name string) ([]capability.Capability, error) {
	rows, err := s.db.Query(`SELECT capability, scope, config, granted FROM plugin_capabilities WHERE namespace = ? AND name = ?`, namespace, name)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	defer rows.Close()

	var caps []capability.Capability
	for rows.Next() {
		var c capability.Capability
		var kind string
		if err := rows.Scan(&kind, &c.Scope, &c.Config, &c.Granted); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		c.Kind = capability.Kind(kind)
		caps = append(caps, c)
	}
	return caps, nil
}

// SetMetadata upserts a single plugin_metadata row.
func (s *Store) SetMetadata(namespace, name, key, value string) error {
	_, err := s.db.Exec(`
INSERT INTO plugin_metadata (namespace, name, key, value) VALUES (?, ?, ?, ?)
ON CONFLICT(namespace, name, key) DO UPDATE SET value=excluded.value`, namespace, name, key, value)
	if err != nil {
		return errx.Wrap(ErrInvalidFormat, err)
	}
	return nil
}

// Metadata returns all metadata key/value pairs for one plugin.
func (s *Store) Metadata(namespace, name string) (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM plugin_metadata WHERE namespace = ? AND name = ?`, namespace, name)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, errx.Wrap(ErrInvalidFormat, err)
		}
		out[k] = v
	}
	return out, nil
}
