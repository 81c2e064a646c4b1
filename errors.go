package wsclient

import (
	"errors"

	"github.com/driftmark/wsclient/internal/explainer"
)

// Sentinel operational errors surfaced to callers per spec §7's
// "operational errors" bucket. These are compared with errors.Is; callers
// that want the full taxonomy use explainer.Classify/explainer.Explain.
// Connection returns ErrNotConnected, ErrRequestTimeout and ErrClosed;
// ErrRateLimited, ErrQueueFull, ErrMaxReconnectsExceeded and
// ErrNoConnections are defined here but no code path returns them.
var (
	ErrNotConnected          = errors.New("wsclient: not connected")
	ErrRequestTimeout        = errors.New("wsclient: request timed out")
	ErrRateLimited           = errors.New("wsclient: rate limited")
	ErrQueueFull             = errors.New("wsclient: rate limiter queue full")
	ErrMaxReconnectsExceeded = errors.New("wsclient: max reconnection attempts exceeded")
	ErrNoConnections         = errors.New("wsclient: no connections available")
	ErrClosed                = errors.New("wsclient: connection closed")
)

// classify wraps err in an explainer.ClassifiedError carrying kind, so
// that ShouldReconnect/Explain downstream have enough information to act.
// The caller picks kind at the point the failure is detected: dial
// failures (classifyDialError), read failures (classifyTransportError),
// connect and heartbeat timeouts, and exhausted reconnection attempts.
func classify(kind explainer.Kind, err error) error {
	return &explainer.ClassifiedError{Kind: kind, Err: err}
}
