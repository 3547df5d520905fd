package proxy

import (
	"bufio"
	"io"
	"net"
	"sync"

	"github.com/witmproxy/witmproxy/internal/errx"
)

// prefixConn replays bytes the server's bufio.Reader already pulled off
// the wire (e.g. a pipelined byte following the CONNECT request line)
// before handing the raw connection back for tunneling or TLS takeover.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func wrapBuffered(conn net.Conn, br *bufio.Reader) net.Conn {
	n := br.Buffered()
	if n == 0 {
		return conn
	}
	prefix, _ := br.Peek(n)
	cp := make([]byte, len(prefix))
	copy(cp, prefix)
	return &prefixConn{Conn: conn, prefix: cp}
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}

// transparentTunnel dials the CONNECT target directly and relays bytes in
// both directions verbatim, with no TLS termination, until either side
// closes. Used when no plugin's connect-scoped predicate matched.
func (s *Server) transparentTunnel(client net.Conn, target string) (int64, int64, error) {
	upstream, err := net.DialTimeout("tcp", target, s.cfg.Upstream.ConnectTimeout)
	if err != nil {
		return 0, 0, errx.Wrap(ErrUpstreamUnavailable, err)
	}
	defer upstream.Close()

	var up, down int64
	var upErr, downErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := io.Copy(upstream, client)
		up, upErr = n, err
		if tc, ok := upstream.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	go func() {
		defer wg.Done()
		n, err := io.Copy(client, upstream)
		down, downErr = n, err
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()
	wg.Wait()
	if upErr != nil {
		return up, down, errx.Wrap(ErrIO, upErr)
	}
	if downErr != nil {
		return up, down, errx.Wrap(ErrIO, downErr)
	}
	return up, down, nil
}

// singleConnListener adapts one already-accepted net.Conn into a
// net.Listener of exactly one connection, so the shared *http.Server can
// serve it with its normal h1/h2 ALPN auto-negotiation logic.
type singleConnListener struct {
	ch   chan net.Conn
	addr net.Addr
}

func newSingleConnListener(c net.Conn) *singleConnListener {
	ch := make(chan net.Conn, 1)
	ch <- c
	close(ch)
	return &singleConnListener{ch: ch, addr: c.LocalAddr()}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	c, ok := <-l.ch
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

func (l *singleConnListener) Close() error   { return nil }
func (l *singleConnListener) Addr() net.Addr { return l.addr }
