package app

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// tcpReadiness reports whether the host in rawURL accepts TCP connections.
// It returns nil when rawURL has no usable host.
func tcpReadiness(rawURL string) func(context.Context) error {
	addr := dialAddr(rawURL)
	if addr == "" {
		return nil
	}
	return func(ctx context.Context) error {
		if !isTCPListening(ctx, addr, 800*time.Millisecond) {
			return fmt.Errorf("%s is not accepting connections", addr)
		}
		return nil
	}
}

func dialAddr(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

func isTCPListening(ctx context.Context, addr string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
