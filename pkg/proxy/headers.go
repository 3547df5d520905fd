package proxy

import (
	"net/http"
	"strings"
)

// hopByHop lists the connection-scoped headers that must be stripped when
// relaying a message across the proxy, per RFC 7230 §6.1.
var hopByHop = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the fixed hop-by-hop set, plus any header named
// in a Connection: header's value (RFC 7230 allows additional per-message
// hop-by-hop headers to be listed there).
func stripHopByHop(h http.Header) {
	for _, tok := range strings.Split(h.Get("Connection"), ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			h.Del(tok)
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

// h2Incompatible lists request headers that carry HTTP/1.1-specific
// framing information and must never be forwarded to an HTTP/2 upstream;
// any header beginning with ":" (a pseudo-header) is dropped unconditionally.
var h2Incompatible = map[string]bool{
	"Host":              true,
	"Connection":        true,
	"Proxy-Connection":  true,
	"Keep-Alive":        true,
	"Upgrade":           true,
	"Transfer-Encoding": true,
	"Te":                true,
}

// stripH2Incompatible removes headers that must not be forwarded verbatim
// on an outgoing request, regardless of which protocol the upstream client
// eventually negotiates with the origin.
func stripH2Incompatible(h http.Header) {
	for name := range h {
		if strings.HasPrefix(name, ":") || h2Incompatible[http.CanonicalHeaderKey(name)] {
			h.Del(name)
		}
	}
}

// fixupOriginForm reconstructs an absolute request URL from the Host
// header when the request line arrived in origin-form (path-only), which
// is how every inner MITM request and most proxy client requests name
// their target. Predicates must see a stable request.host() regardless of
// which form the client used.
func fixupOriginForm(r *http.Request, scheme string) {
	if r.URL.Host != "" {
		return
	}
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	r.URL.Scheme = scheme
	r.URL.Host = host
}
