package proxy

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripHopByHop(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "x-custom")
	h.Set("X-Custom", "drop-me")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Keep", "1")

	stripHopByHop(h)

	require.Empty(t, h.Get("Connection"))
	require.Empty(t, h.Get("X-Custom"))
	require.Empty(t, h.Get("Transfer-Encoding"))
	require.Equal(t, "1", h.Get("X-Keep"))
}

func TestStripH2Incompatible(t *testing.T) {
	h := http.Header{}
	h.Set("Host", "example.com")
	h.Set("Upgrade", "websocket")
	h.Set("X-Keep", "1")
	h.Set(":method", "GET")

	stripH2Incompatible(h)

	require.Empty(t, h.Get("Host"))
	require.Empty(t, h.Get("Upgrade"))
	require.Empty(t, h.Get(":method"))
	require.Equal(t, "1", h.Get("X-Keep"))
}

func TestFixupOriginForm(t *testing.T) {
	r := &http.Request{
		Host: "example.com",
		URL:  &url.URL{Path: "/a/b", RawQuery: "x=1"},
	}
	fixupOriginForm(r, "https")

	require.Equal(t, "https", r.URL.Scheme)
	require.Equal(t, "example.com", r.URL.Host)
	require.Equal(t, "/a/b", r.URL.Path)
	require.Equal(t, "x=1", r.URL.RawQuery)
}

func TestFixupOriginFormNoop(t *testing.T) {
	r := &http.Request{
		URL: &url.URL{Scheme: "http", Host: "other.example", Path: "/x"},
	}
	fixupOriginForm(r, "https")
	require.Equal(t, "http", r.URL.Scheme)
	require.Equal(t, "other.example", r.URL.Host)
}
