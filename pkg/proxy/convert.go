package proxy

import (
	"bytes"
	"io"
	"net/http"

	"github.com/witmproxy/witmproxy/pkg/event"
)

// toEventRequest buffers r's body and converts it to the dispatch-layer
// Request event. Buffering (rather than true streaming) matches the
// event.Request.Body []byte shape the sandbox's CBOR call ABI commits to:
// a guest call is one in/out buffer exchange, not a long-lived stream, so
// the body has to be whole before it crosses that boundary.
func toEventRequest(r *http.Request) (event.Request, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return event.Request{}, err
		}
		body = b
	}
	return event.Request{
		Method:  r.Method,
		Scheme:  r.URL.Scheme,
		Host:    r.URL.Hostname(),
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: cloneHeader(r.Header),
		Body:    body,
	}, nil
}

// applyEventRequest rewrites r in place from a (possibly plugin-mutated)
// Request event. r.URL.Host and r.Host, the authority the upstream call
// dials, are kept as they are (port included) unless the event names a
// different host, in which case both take the event's host.
func applyEventRequest(r *http.Request, er event.Request) {
	r.Method = er.Method
	if er.Path != "" {
		r.URL.Path = er.Path
	}
	if er.Host != "" && er.Host != r.URL.Hostname() {
		r.Host = er.Host
		r.URL.Host = er.Host
	}
	r.URL.RawQuery = er.Query
	r.Header = http.Header(cloneHeader(er.Headers))
	r.ContentLength = int64(len(er.Body))
	r.Body = io.NopCloser(bytes.NewReader(er.Body))
}

// toEventResponse buffers resp's body and converts it to the
// dispatch-layer Response event.
func toEventResponse(resp *http.Response) (event.Response, error) {
	var body []byte
	if resp.Body != nil {
		b, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return event.Response{}, err
		}
		body = b
	}
	return event.Response{
		StatusCode: resp.StatusCode,
		Headers:    cloneHeader(resp.Header),
		Body:       body,
	}, nil
}

func cloneHeader(h map[string][]string) map[string][]string {
	out := make(map[string][]string, len(h))
	for k, v := range h {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
