// Package backoff implements the reconnection policy: pure functions for
// computing exponential backoff delays, classifying errors as recoverable
// or fatal, and enforcing a retry cap. It also builds the TLS dial options
// a wss connection needs — pinning ALPN to http/1.1 is load-bearing, not
// cosmetic (spec §4.5): several reverse proxies negotiate HTTP/2 over ALPN
// and then silently drop the Upgrade header.
package backoff

import (
	"crypto/tls"
	"time"
)

// Delay computes min(base * 2^attempt, max), clamped to never go below
// base. attempt is expected to start at 0 for the first reconnect try.
func Delay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}
	if attempt < 0 {
		attempt = 0
	}

	// Guard against overflow for large attempt counts: once the shifted
	// value would exceed max, stop multiplying and return max directly.
	d := base
	for i := 0; i < attempt; i++ {
		if d >= max {
			return max
		}
		d *= 2
		if d <= 0 { // overflowed int64
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// MaxRetriesExceeded reports whether attempt has reached or passed limit.
func MaxRetriesExceeded(attempt, limit int) bool {
	return attempt >= limit
}

// Classification is the closed set of error dispositions from spec §7.
type Classification int

const (
	// Recoverable errors trigger the backoff/reconnect path.
	Recoverable Classification = iota
	// Fatal errors stop the Connection without retry.
	Fatal
)

// ShouldReconnect reports whether a given classification warrants a
// reconnect attempt.
func ShouldReconnect(c Classification) bool {
	return c == Recoverable
}

// TLSConfig returns a *tls.Config for a wss dial: system trust store
// verification plus an ALPN list advertising only http/1.1. serverName, if
// non-empty, is set as ServerName for SNI/certificate verification.
func TLSConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName: serverName,
		NextProtos: []string{"http/1.1"},
		MinVersion: tls.VersionTLS12,
	}
}
