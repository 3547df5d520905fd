// Package event defines the typed values that flow through the plugin
// dispatch loop: the CONNECT probe, the HTTP request/response pair, and
// the inbound content view plugins can rewrite.
package event

// Connect is the event constructed from a CONNECT authority, before any
// decision has been made about MITM interception.
type Connect struct {
	Host string
	Port int
}

// Request is the event dispatched to request-phase plugins. Headers use
// the canonical net/http representation (possibly multi-valued).
type Request struct {
	Method  string
	Scheme  string
	Host    string
	Path    string
	Query   string
	Headers map[string][]string
	Body    []byte
}

// Response is the event dispatched to response-phase plugins.
type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// InboundContent is the body view handed to the Content and Annotator
// capabilities: the response body after transparent content-encoding
// decode, buffered whole rather than streamed.
type InboundContent struct {
	ContentType string
	Text        []byte
	Annotations map[string]string
}

// Kind identifies which of the four event shapes a dispatch loop is
// currently running, and which capability a plugin needs to be
// considered for it.
type Kind string

const (
	KindConnect        Kind = "connect"
	KindRequest        Kind = "request"
	KindResponse       Kind = "response"
	KindInboundContent Kind = "inbound_content"
)

// Data is the tagged union a plugin's handle() returns: at most one of
// the four fields is set, matching whichever event kind the guest chose
// to produce (which need not match the kind it was dispatched with).
type Data struct {
	Connect        *Connect
	Request        *Request
	Response       *Response
	InboundContent *InboundContent
}

// Empty reports whether no variant is set, i.e. the guest returned None.
func (d Data) Empty() bool {
	return d.Connect == nil && d.Request == nil && d.Response == nil && d.InboundContent == nil
}
