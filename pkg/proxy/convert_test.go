package proxy

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witmproxy/witmproxy/pkg/event"
)

func TestToEventRequest_BuffersBodyAndFields(t *testing.T) {
	u, err := url.Parse("http://example.com/a/b?x=1")
	require.NoError(t, err)
	req := &http.Request{
		Method: "POST",
		URL:    u,
		Header: http.Header{"X-Foo": {"bar"}},
		Body:   io.NopCloser(strings.NewReader("hello")),
	}

	ev, err := toEventRequest(req)
	require.NoError(t, err)
	require.Equal(t, "POST", ev.Method)
	require.Equal(t, "example.com", ev.Host)
	require.Equal(t, "/a/b", ev.Path)
	require.Equal(t, "x=1", ev.Query)
	require.Equal(t, []byte("hello"), ev.Body)
	require.Equal(t, []string{"bar"}, ev.Headers["X-Foo"])
}

func TestApplyEventRequest_RewritesInPlace(t *testing.T) {
	u, err := url.Parse("http://example.com/old")
	require.NoError(t, err)
	req := &http.Request{Method: "GET", URL: u, Host: "example.com", Header: http.Header{}}

	applyEventRequest(req, event.Request{
		Method:  "PUT",
		Path:    "/new",
		Host:    "rewritten.example.com",
		Query:   "y=2",
		Headers: map[string][]string{"X-New": {"v"}},
		Body:    []byte("payload"),
	})

	require.Equal(t, "PUT", req.Method)
	require.Equal(t, "/new", req.URL.Path)
	require.Equal(t, "rewritten.example.com", req.Host)
	require.Equal(t, "rewritten.example.com", req.URL.Host)
	require.Equal(t, "y=2", req.URL.RawQuery)
	require.Equal(t, int64(len("payload")), req.ContentLength)

	b, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Equal(t, "payload", string(b))
}

func TestToEventResponse_BuffersBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 404,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("not found")),
	}

	ev, err := toEventResponse(resp)
	require.NoError(t, err)
	require.Equal(t, 404, ev.StatusCode)
	require.Equal(t, []byte("not found"), ev.Body)
	require.Equal(t, []string{"text/plain"}, ev.Headers["Content-Type"])
}
