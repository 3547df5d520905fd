package sandbox

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/capability"
)

// wireManifest is the CBOR shape a guest's manifest() export returns. It
// is parsed before the module's signature is trusted, so it must decode
// with no side effects and no reliance on the rest of the bytecode.
type wireManifest struct {
	Namespace    string           `cbor:"namespace"`
	Name         string           `cbor:"name"`
	Version      string           `cbor:"version"`
	Author       string           `cbor:"author"`
	Description  string           `cbor:"description"`
	License      string           `cbor:"license"`
	URL          string           `cbor:"url"`
	PublicKey    []byte           `cbor:"publickey"`
	Priority     int              `cbor:"priority"`
	Capabilities []wireCapability `cbor:"capabilities"`
}

type wireCapability struct {
	Kind    string `cbor:"kind"`
	Scope   string `cbor:"scope"`
	Config  string `cbor:"config"`
	Granted bool   `cbor:"granted"`
}

// EncodeManifest serializes m back to the CBOR wire shape Load expects.
// Used by the plugin registry, which stores a manifest's fields flattened
// across SQL columns and must reassemble the wire form before verifying
// a module's signature.
func EncodeManifest(m capability.Manifest) ([]byte, error) {
	w := wireManifest{
		Namespace:   m.Namespace,
		Name:        m.Name,
		Version:     m.Version,
		Author:      m.Author,
		Description: m.Description,
		License:     m.License,
		URL:         m.URL,
		PublicKey:   m.PublicKey,
		Priority:    m.Priority,
	}
	for _, c := range m.Capabilities {
		w.Capabilities = append(w.Capabilities, wireCapability{
			Kind:    string(c.Kind),
			Scope:   c.Scope,
			Config:  c.Config,
			Granted: c.Granted,
		})
	}
	b, err := cbor.Marshal(w)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	return b, nil
}

func parseManifest(b []byte) (capability.Manifest, error) {
	var w wireManifest
	if err := cbor.Unmarshal(b, &w); err != nil {
		return capability.Manifest{}, errx.Wrap(ErrInvalidFormat, err)
	}

	m := capability.Manifest{
		Namespace:   w.Namespace,
		Name:        w.Name,
		Version:     w.Version,
		Author:      w.Author,
		Description: w.Description,
		License:     w.License,
		URL:         w.URL,
		PublicKey:   w.PublicKey,
		Priority:    w.Priority,
	}
	if m.Name == "" {
		return capability.Manifest{}, errx.With(ErrInvalidFormat, ": manifest missing name")
	}
	for _, wc := range w.Capabilities {
		m.Capabilities = append(m.Capabilities, capability.Capability{
			Kind:    capability.Kind(wc.Kind),
			Scope:   wc.Scope,
			Config:  wc.Config,
			Granted: wc.Granted,
		})
	}
	return m, nil
}
