// File: internal/safety/dialer.go
package safety

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Transport timeouts tuned for tool fetches initiated by an autonomous loop.
// Every outbound call carries both connect and read deadlines.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second

	// MaxResponseBytes bounds any response body a tool is allowed to consume.
	MaxResponseBytes = 10 << 20
)

// PinnedDialContext dials the address that was vetted by ValidateURL instead
// of re-resolving the hostname, so a DNS flip between validation and connect
// cannot redirect the request to a forbidden address.
func PinnedDialContext(pinned net.IP) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid dial address %q: %w", addr, err)
		}
		d := &net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAliveInterval,
		}
		return d.DialContext(ctx, network, net.JoinHostPort(pinned.String(), port))
	}
}

// NewHardenedClient builds an HTTP client with connect and read timeouts on
// every layer. When pinned is non-nil all connections go to that address.
func NewHardenedClient(pinned net.IP) *http.Client {
	transport := &http.Transport{
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	if pinned != nil {
		transport.DialContext = PinnedDialContext(pinned)
	} else {
		d := &net.Dialer{Timeout: DefaultDialTimeout, KeepAlive: DefaultKeepAliveInterval}
		transport.DialContext = d.DialContext
	}
	// Upgrade in place; fall back to HTTP/1.1 silently if negotiation fails.
	_ = http2.ConfigureTransport(transport)

	return &http.Client{
		Transport: transport,
		Timeout:   DefaultRequestTimeout,
	}
}
