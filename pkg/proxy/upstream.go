package proxy

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/witmproxy/witmproxy/pkg/ca"
	"github.com/witmproxy/witmproxy/pkg/config"
)

// newUpstreamClient builds the single shared HTTPS client used for every
// outbound call, regardless of which connection or inner request it
// serves. It trusts the host's normal root pool plus the local CA (so a
// plugin that routes to a witmproxy-fronted backend still validates), and
// negotiates HTTP/2 via ALPN when the origin supports it.
//
// Immutable after construction; safe to share by reference across every
// connection goroutine (matches §5's "safely shared by clone").
func newUpstreamClient(upstreamCA *ca.CA, cfg config.UpstreamConfig) *http.Client {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	pool.AppendCertsFromPEM([]byte(upstreamCA.RootPEM()))

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{RootCAs: pool},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       cfg.H2KeepAlive,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: cfg.TotalTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.TotalTimeout,
		// Proxy forwards redirects verbatim to the client rather than
		// following them itself.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
