// Package netutil provides the shared outbound HTTP transport.
package netutil

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport is used for outbound reasoning-service calls. Dial and TLS
// handshakes are bounded; response bodies are not, since reasoning calls can
// legitimately take minutes and are bounded per call by context deadlines.
var DefaultTransport = &http.Transport{
	DialContext: (&net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
	TLSHandshakeTimeout: 5 * time.Second,
	MaxIdleConns:        32,
	MaxIdleConnsPerHost: 8,
	IdleConnTimeout:     90 * time.Second,
}
