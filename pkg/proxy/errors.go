package proxy

import "errors"

var (
	ErrUpstreamUnavailable = errors.New("proxy: upstream unavailable")
	ErrTLSHandshake        = errors.New("proxy: tls handshake")
	ErrIO                  = errors.New("proxy: io")
)
