package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/event"
	"github.com/witmproxy/witmproxy/pkg/logging"
	"github.com/witmproxy/witmproxy/pkg/predicate"
)

// handleConnect implements the ConnectProbe -> [Mitm | TransparentTunnel]
// branch of the front-end's per-connection state machine. It always
// hijacks: neither branch can be expressed as a normal ResponseWriter
// response once the 200 has been sent.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, portStr, err := net.SplitHostPort(r.Host)
	if err != nil {
		host, portStr = r.Host, "443"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		http.Error(w, "bad CONNECT target", http.StatusBadRequest)
		return
	}

	connectEvt := event.Connect{Host: host, Port: port}
	vars := predicate.Vars{Connect: predicate.ConnectVars(connectEvt)}
	cand, err := s.registry.PluginsFor(event.KindConnect, vars, nil)
	if err != nil {
		s.log.Warn("connect probe failed", "host", host, "error", err)
	}
	mitm := cand != nil

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventConnectProbe, host+":"+portStr, "", []string{"connect"},
			&logging.ConnectProbeData{Host: host, Port: port, MitmEnabled: mitm})
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking unsupported", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		s.log.Warn("hijack failed", "host", host, "error", err)
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		conn.Close()
		return
	}
	tunneled := wrapBuffered(conn, buf.Reader)

	if !mitm {
		start := time.Now()
		up, down, err := s.transparentTunnel(tunneled, net.JoinHostPort(host, portStr))
		if err != nil {
			s.log.Debug("transparent tunnel ended", "host", host, "error", err)
		}
		if s.emitter != nil {
			_ = s.emitter.Emit(logging.EventTunnelForward, host+":"+portStr, "", []string{"connect"},
				&logging.TunnelForwardData{Host: host, Port: port, BytesUp: up, BytesDown: down, DurationMS: time.Since(start).Milliseconds()})
		}
		return
	}

	s.serveMitm(tunneled, host)
}

// serveMitm mints a leaf for host, terminates TLS on the hijacked
// connection, and hands it to the shared *http.Server, whose normal ALPN
// dispatch (configured once via http2.ConfigureServer at startup) chooses
// h1 or h2 automatically per connection.
func (s *Server) serveMitm(conn net.Conn, host string) {
	leaf, err := s.ca.GetCert(host)
	if err != nil {
		s.log.Warn("leaf mint failed, closing connection", "host", host, "error", errx.Wrap(ErrTLSHandshake, err))
		conn.Close()
		return
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		NextProtos:   []string{"h2", "http/1.1"},
	}
	tlsConn := tls.Server(conn, tlsConfig)

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventMitmAccept, host, "", []string{"connect"},
			&logging.MitmAcceptData{Host: host})
	}

	ln := newSingleConnListener(tlsConn)
	if err := s.innerServer.Serve(ln); err != nil {
		s.log.Debug("mitm session ended", "host", host, "error", err)
	}
}
