package logging

import (
	"encoding/json"
	"time"
)

// Event is the canonical structured event written to the daemon's
// witmproxy.log by the JSONLWriter sink. Required fields: Timestamp, RunID,
// AgentSystem, EventType, Summary. Optional fields use omitempty tags.
type Event struct {
	Timestamp   time.Time       `json:"ts"`
	RunID       string          `json:"run_id"`
	AgentSystem string          `json:"agent_system"`
	EventType   string          `json:"event_type"`
	Summary     string          `json:"summary"`
	Plugin      string          `json:"plugin,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Event type constants.
const (
	EventConnectProbe      = "connect_probe"
	EventMitmAccept        = "mitm_accept"
	EventHTTPRequest       = "http_request"
	EventHTTPResponse      = "http_response"
	EventTunnelForward     = "tunnel_forward"
	EventPluginDispatch    = "plugin_dispatch"
	EventPluginError       = "plugin_error"
	EventPluginBlocked     = "plugin_blocked"
	EventConsensusDecision = "consensus_decision"
)

// ConnectProbeData is the data payload for connect_probe events: the
// outcome of evaluating connect-scoped plugin predicates against a CONNECT
// authority, deciding whether to mint a leaf and intercept or fall through
// to a transparent tunnel.
type ConnectProbeData struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	MitmEnabled bool   `json:"mitm_enabled"`
}

// MitmAcceptData is the data payload for mitm_accept events, emitted when
// a connection starts TLS termination with a minted leaf, before the
// handshake with the client runs.
type MitmAcceptData struct {
	Host     string `json:"host"`
	ALPN     string `json:"alpn"`
	CacheHit bool   `json:"cache_hit"`
}

// HTTPRequestData is the data payload for http_request events.
type HTTPRequestData struct {
	Method         string `json:"method"`
	Host           string `json:"host"`
	Path           string `json:"path"`
	ShortCircuited bool   `json:"short_circuited"`
}

// HTTPResponseData is the data payload for http_response events.
type HTTPResponseData struct {
	Method     string `json:"method"`
	Host       string `json:"host"`
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	DurationMS int64  `json:"duration_ms"`
	BodyBytes  int64  `json:"body_bytes"`
}

// TunnelForwardData is the data payload for tunnel_forward events, emitted
// when a CONNECT falls through to a byte-for-byte relay because no plugin
// predicate matched the authority.
type TunnelForwardData struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	BytesUp    int64  `json:"bytes_up"`
	BytesDown  int64  `json:"bytes_down"`
	DurationMS int64  `json:"duration_ms"`
}

// PluginDispatchData is the data payload for plugin_dispatch events, one
// per plugin invocation in the request/response dispatch loop.
type PluginDispatchData struct {
	EventKind string `json:"event_kind"` // "request" or "response"
	Outcome   string `json:"outcome"`    // "continue", "short_circuit", "drop"
}

// PluginErrorData is the data payload for plugin_error events: a contained
// instantiation failure or guest trap that the dispatch loop isolated.
type PluginErrorData struct {
	EventKind string `json:"event_kind"`
	Error     string `json:"error"`
}

// PluginBlockedData is the data payload for plugin_blocked events: a
// plugin short-circuited the exchange with its own response.
type PluginBlockedData struct {
	Host       string `json:"host"`
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"status_code"`
}

// ConsensusDecisionData is the data payload for consensus_decision events:
// the outcome of one consensus run for an action.
type ConsensusDecisionData struct {
	ActionID string `json:"action_id"`
	Result   string `json:"result"` // "accept", "reject", "pending"
	Votes    int    `json:"votes"`
}
