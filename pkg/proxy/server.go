// Package proxy implements the intercepting proxy front-end: the accept
// loop, CONNECT handling, the MITM-or-transparent-tunnel decision, and
// the request/response dispatch pipeline that hands every decrypted
// message through the plugin registry before it reaches its destination.
package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/witmproxy/witmproxy/pkg/ca"
	"github.com/witmproxy/witmproxy/pkg/config"
	"github.com/witmproxy/witmproxy/pkg/logging"
	"github.com/witmproxy/witmproxy/pkg/plugin"
)

// Server is the proxy front-end: one accept loop binding a single
// listener, dispatching every CONNECT and every plain proxy request
// through the same registry-backed pipeline.
type Server struct {
	cfg      *config.Config
	ca       *ca.CA
	registry *plugin.Registry
	upstream *http.Client
	log      *slog.Logger
	emitter  *logging.Emitter

	ln          net.Listener
	httpServer  *http.Server // serves the outward, plaintext-proxy listener
	innerServer *http.Server // serves each MITM'd TLS connection
}

// New builds a Server. It does not bind a listener; call Start for that.
func New(cfg *config.Config, caInst *ca.CA, registry *plugin.Registry, log *slog.Logger, emitter *logging.Emitter) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		ca:       caInst,
		registry: registry,
		upstream: newUpstreamClient(caInst, cfg.Upstream),
		log:      log.With("component", "proxy"),
		emitter:  emitter,
	}

	s.httpServer = &http.Server{
		Handler:           http.HandlerFunc(s.ServeHTTP),
		ReadHeaderTimeout: 30 * time.Second,
	}
	s.innerServer = &http.Server{
		Handler:           http.HandlerFunc(s.ServeHTTP),
		ReadHeaderTimeout: 30 * time.Second,
	}
	// ALPN "h2" is only ever negotiated on innerServer's TLS connections
	// (serveMitm's TLS config advertises it); configuring it there is what makes
	// ServeInner auto-negotiate h1 vs h2 per connection.
	_ = http2.ConfigureServer(s.innerServer, &http2.Server{
		IdleTimeout: cfg.Upstream.H2KeepAlive,
	})

	return s
}

// ServeHTTP is the single entry point for both CONNECT and plain
// absolute-form requests arriving on the outward listener, and for every
// request decrypted off a MITM'd inner TLS connection.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	s.forward(w, r, scheme)
}

// Start binds the listener at cfg.ListenAddr (or addr if non-empty,
// overriding the config) and begins accepting. The accept loop runs in a
// background goroutine; Start returns once the listener is bound so
// callers can read Addr() immediately (e.g. to publish services.json).
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.ListenAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("accept loop exited", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listener's address. Only valid after Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Shutdown signals the accept loop to stop taking new connections and
// waits up to the given grace period for in-flight connections to finish.
// This is the idiomatic stdlib equivalent of the design's "broadcast
// primitive that interrupts accept": http.Server.Shutdown closes the
// listener and blocks until active connections go idle or ctx expires.
func (s *Server) Shutdown(grace time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
