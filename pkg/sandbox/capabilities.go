package sandbox

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/witmproxy/witmproxy/pkg/capability"
	"github.com/witmproxy/witmproxy/pkg/event"
)

// Store is the per-plugin key-value namespace backing the LocalStorage
// capability. One Store per "namespace/name" identity, shared across
// invocations of that plugin.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// memStore is a process-local, in-memory Store; the plugin registry gives
// each loaded plugin its own, so stored values do not survive a restart.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemStore() Store { return &memStore{data: map[string][]byte{}} }

func (s *memStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Logger routes guest log calls into the host's structured event log,
// tagged with the plugin's identity.
type Logger struct {
	identity string
	log      *slog.Logger
}

func (l *Logger) Info(msg string)  { l.log.Info(msg, "plugin", l.identity) }
func (l *Logger) Warn(msg string)  { l.log.Warn(msg, "plugin", l.identity) }
func (l *Logger) Error(msg string) { l.log.Error(msg, "plugin", l.identity) }
func (l *Logger) Debug(msg string) { l.log.Debug(msg, "plugin", l.identity) }

// LocalStorage is the per-plugin key-value capability.
type LocalStorage struct {
	store Store
}

func (s *LocalStorage) Get(key string) ([]byte, bool, error) { return s.store.Get(key) }
func (s *LocalStorage) Set(key string, value []byte) error   { return s.store.Set(key, value) }
func (s *LocalStorage) Delete(key string) error               { return s.store.Delete(key) }

// Annotator adds metadata to an inbound content resource.
type Annotator struct {
	content *Content
}

func (a *Annotator) Annotate(key, value string) {
	if a.content.Annotations == nil {
		a.content.Annotations = map[string]string{}
	}
	a.content.Annotations[key] = value
}

// Content is a body view over an inbound response, decoding standard
// content-encoding values transparently. The whole body is held in memory
// as one byte slice; it is not streamed.
type Content struct {
	contentType string
	text        []byte
	Annotations map[string]string
}

// NewContent decodes body according to the content-encoding header value.
// Unsupported encodings, and bodies that fail to decode under a supported
// one, are preserved undecoded and reported via ContentType as "unknown"
// so the guest can choose to skip transformation.
func NewContent(contentType, contentEncoding string, body []byte) *Content {
	text, ct := decodeBody(contentEncoding, body, contentType)
	return &Content{contentType: ct, text: text}
}

func decodeBody(encoding string, body []byte, contentType string) ([]byte, string) {
	switch encoding {
	case "", "identity":
		return body, contentType
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body, "unknown"
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body, "unknown"
		}
		return out, contentType
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body, "unknown"
		}
		return out, contentType
	case "br":
		out, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return body, "unknown"
		}
		return out, contentType
	default:
		// Any other encoding: the host never guesses. Surface as unknown
		// so the guest treats the bytes as opaque instead of
		// misinterpreting them as text.
		return body, "unknown"
	}
}

func (c *Content) Text() []byte         { return c.text }
func (c *Content) SetText(b []byte)     { c.text = b }
func (c *Content) ContentType() string  { return c.contentType }

// CapabilityProvider exposes, per invocation, only the host resources the
// plugin's manifest was granted for this dispatch. Accessors return
// (resource, false) for a capability that was not granted. The host
// enforces scope by never handing out a resource, not by checking a flag
// the guest could forge.
type CapabilityProvider struct {
	logger       *Logger
	localStorage *LocalStorage
	annotator    *Annotator
}

func NewCapabilityProvider(identity string, log *slog.Logger, granted map[capability.Kind]bool, store Store, content *Content) *CapabilityProvider {
	p := &CapabilityProvider{}
	if granted[capability.KindLogger] {
		p.logger = &Logger{identity: identity, log: log}
	}
	if granted[capability.KindLocalStorage] && store != nil {
		p.localStorage = &LocalStorage{store: store}
	}
	if granted[capability.KindAnnotator] && content != nil {
		p.annotator = &Annotator{content: content}
	}
	return p
}

func (p *CapabilityProvider) Logger() (*Logger, bool)             { return p.logger, p.logger != nil }
func (p *CapabilityProvider) LocalStorage() (*LocalStorage, bool) { return p.localStorage, p.localStorage != nil }
func (p *CapabilityProvider) Annotator() (*Annotator, bool)       { return p.annotator, p.annotator != nil }

// contentFromEvent builds a Content resource when the dispatched event is
// an inbound-content event, so the Annotator/Content capabilities have
// something to operate on.
func contentFromEvent(ic *event.InboundContent) *Content {
	if ic == nil {
		return nil
	}
	c := &Content{contentType: ic.ContentType, text: ic.Text, Annotations: ic.Annotations}
	return c
}
