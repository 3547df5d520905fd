// Package capability defines the granted-capability model that scopes
// what a plugin may observe or do during a single dispatch invocation.
package capability

// Kind is the snake_case string encoding used both on disk (plugin_capabilities.capability)
// and in the plugin ABI.
type Kind string

const (
	KindLogger                    Kind = "logger"
	KindAnnotator                 Kind = "annotator"
	KindLocalStorage              Kind = "local_storage"
	KindHandleEventConnect        Kind = "handle_event_connect"
	KindHandleEventRequest        Kind = "handle_event_request"
	KindHandleEventResponse       Kind = "handle_event_response"
	KindHandleEventInboundContent Kind = "handle_event_inbound_content"
)

// EventKinds lists the capability kinds that gate dispatch eligibility
// (as opposed to host-service capabilities like logger/annotator).
var EventKinds = []Kind{
	KindHandleEventConnect,
	KindHandleEventRequest,
	KindHandleEventResponse,
	KindHandleEventInboundContent,
}

// Capability is one granted-or-not capability on a plugin. Scope is the
// predicate source (only meaningful for the handle_event_* kinds);
// Config is an opaque per-capability string (e.g. a storage namespace).
type Capability struct {
	Kind    Kind
	Scope   string
	Config  string
	Granted bool
}

// Manifest is the pure, guest-declared description of a plugin: identity,
// provenance, and the capability set it requests.
type Manifest struct {
	Namespace    string
	Name         string
	Version      string
	Author       string
	Description  string
	License      string
	URL          string
	PublicKey    []byte
	Priority     int
	Capabilities []Capability
}

// Identity returns the "namespace/name" key the registry indexes by.
func (m Manifest) Identity() string {
	if m.Namespace == "" {
		return m.Name
	}
	return m.Namespace + "/" + m.Name
}

// Find returns the capability of the given kind and whether it is present.
func (m Manifest) Find(kind Kind) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.Kind == kind {
			return c, true
		}
	}
	return Capability{}, false
}
