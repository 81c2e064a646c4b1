// Package explainer implements the Error Explainer from spec §4.10: a pure
// function mapping an error value to a human-readable {message, suggestion,
// docs_url}. It follows the teacher's fmt.Errorf wrap-chain conventions
// across internal/ban, internal/report, and internal/session — one
// lowercase sentence, "pkg: action: %w" — inverted here into a lookup
// table keyed by error kind instead of a construction site.
package explainer

import (
	"errors"
	"fmt"

	"github.com/driftmark/wsclient/internal/backoff"
)

// Kind is one closed taxonomy entry from spec §7.
type Kind string

const (
	KindConnectionRefused    Kind = "econnrefused"
	KindTimeout              Kind = "timeout"
	KindDNSNotFound          Kind = "nxdomain"
	KindHostNotFound         Kind = "enotfound"
	KindHostUnreachable      Kind = "ehostunreach"
	KindNetworkUnreachable   Kind = "enetunreach"
	KindTLSAlert             Kind = "tls_alert"
	KindInvalidFrame         Kind = "invalid_frame"
	KindFrameTooLarge        Kind = "frame_too_large"
	KindBadFrame             Kind = "bad_frame"
	KindUnauthorized         Kind = "unauthorized"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindTokenExpired         Kind = "token_expired"
	KindTransportDown        Kind = "transport_down"
	KindTransportError       Kind = "transport_error"
	KindNotConnected         Kind = "not_connected"
	KindCorrelationTimeout   Kind = "correlation_timeout"
	KindRateLimited          Kind = "rate_limited"
	KindQueueFull            Kind = "queue_full"
	KindMaxReconnectAttempts Kind = "max_reconnection_attempts"
	KindNoConnections        Kind = "no_connections"
	KindUnknown              Kind = "unknown"
)

// Classify assigns a Kind to err, unwrapping ClassifiedError and other
// sentinel wrappers first. Unrecognized errors classify as KindUnknown.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrTransportDown):
		return KindTransportDown
	}

	return KindUnknown
}

// ClassifiedError tags a wrapped error with one of the closed Kinds above,
// the way a component (transport dialer, frame parser) knows precisely
// which taxonomy entry applies at the point of failure.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// ErrTransportDown is the generic transport-down sentinel referenced by
// spec §4.10's unwrap list.
var ErrTransportDown = errors.New("explainer: transport down")

// Explanation is what Explain returns.
type Explanation struct {
	Message    string
	Suggestion string
	DocsURL    string // empty means "no docs link"
}

type entry struct {
	message    string
	suggestion string
	docsURL    string
}

var table = map[Kind]entry{
	KindConnectionRefused: {
		message:    "the server refused the connection",
		suggestion: "check that the host and port are correct and that the server is running",
		docsURL:    "https://docs.driftmark.dev/errors/econnrefused",
	},
	KindTimeout: {
		message:    "the connection attempt timed out",
		suggestion: "verify network connectivity and consider raising timeout_ms",
		docsURL:    "https://docs.driftmark.dev/errors/timeout",
	},
	KindDNSNotFound: {
		message:    "the server's hostname could not be resolved",
		suggestion: "check the URL's hostname for typos and verify DNS resolution",
		docsURL:    "https://docs.driftmark.dev/errors/nxdomain",
	},
	KindHostNotFound: {
		message:    "the server's hostname could not be found",
		suggestion: "check the URL's hostname for typos and verify DNS resolution",
		docsURL:    "https://docs.driftmark.dev/errors/enotfound",
	},
	KindHostUnreachable: {
		message:    "the server's host is unreachable",
		suggestion: "check routing, firewalls, and that the host is online",
		docsURL:    "https://docs.driftmark.dev/errors/ehostunreach",
	},
	KindNetworkUnreachable: {
		message:    "the network is unreachable",
		suggestion: "check local network connectivity",
		docsURL:    "https://docs.driftmark.dev/errors/enetunreach",
	},
	KindTLSAlert: {
		message:    "the TLS handshake failed",
		suggestion: "verify the server's certificate chain and that ALPN/SNI are configured correctly",
		docsURL:    "https://docs.driftmark.dev/errors/tls_alert",
	},
	KindInvalidFrame: {
		message:    "the server sent a frame that could not be parsed",
		suggestion: "this usually indicates a protocol mismatch; contact the venue if it persists",
	},
	KindFrameTooLarge: {
		message:    "the server sent a frame larger than the client accepts",
		suggestion: "check whether the venue legitimately sends payloads this large",
	},
	KindBadFrame: {
		message:    "a malformed frame was received",
		suggestion: "this usually indicates a protocol mismatch; contact the venue if it persists",
	},
	KindUnauthorized: {
		message:    "the server rejected the request as unauthorized",
		suggestion: "verify your API key or session credentials",
		docsURL:    "https://docs.driftmark.dev/errors/unauthorized",
	},
	KindInvalidCredentials: {
		message:    "the supplied credentials were rejected",
		suggestion: "double-check the configured API key or secret",
		docsURL:    "https://docs.driftmark.dev/errors/invalid_credentials",
	},
	KindTokenExpired: {
		message:    "the authentication token has expired",
		suggestion: "refresh the token and reconnect",
		docsURL:    "https://docs.driftmark.dev/errors/token_expired",
	},
	KindTransportDown: {
		message:    "the transport connection is down",
		suggestion: "the client will attempt to reconnect automatically if reconnect_on_error is enabled",
	},
	KindTransportError: {
		message:    "a transport-level error occurred",
		suggestion: "check the underlying network condition; this is usually transient",
	},
	KindNotConnected: {
		message:    "the operation was attempted while not connected",
		suggestion: "wait for the connection to reach the connected state, or call connect first",
	},
	KindCorrelationTimeout: {
		message:    "the request timed out waiting for a response",
		suggestion: "the server may be slow or the request id was never answered; consider raising the per-request timeout",
	},
	KindRateLimited: {
		message:    "the request was rejected by the local rate limiter",
		suggestion: "slow down request issuance or raise the limiter's capacity",
	},
	KindQueueFull: {
		message:    "the rate limiter's overflow queue is full",
		suggestion: "the client is sending faster than the venue allows; back off and retry",
	},
	KindMaxReconnectAttempts: {
		message:    "the maximum number of reconnection attempts was reached",
		suggestion: "check connectivity to the server; raise retry_count if transient outages are expected",
	},
	KindNoConnections: {
		message:    "the pool has no connections to route to",
		suggestion: "ensure at least one Connection is registered with the pool",
	},
}

// Explain returns the explanation for err, unwrapping known wrapper kinds
// first. Unrecognized errors produce a generic message that embeds the
// original error text, per spec §4.10.
func Explain(err error) Explanation {
	kind := Classify(err)
	if e, ok := table[kind]; ok {
		return Explanation{Message: e.message, Suggestion: e.suggestion, DocsURL: e.docsURL}
	}
	return Explanation{
		Message:    fmt.Sprintf("an unrecognized error occurred: %v", err),
		Suggestion: "consult the client logs for more context",
	}
}

// backoffClassification reports whether kind is one the Reconnection
// Policy treats as recoverable (spec §7's transport-connection-errors
// bucket).
func backoffClassification(k Kind) backoff.Classification {
	switch k {
	case KindConnectionRefused, KindTimeout, KindDNSNotFound, KindHostNotFound,
		KindHostUnreachable, KindNetworkUnreachable, KindTLSAlert,
		KindTransportDown, KindTransportError:
		return backoff.Recoverable
	default:
		return backoff.Fatal
	}
}

// ShouldReconnect reports whether err's kind is recoverable, per spec
// §4.5's should_reconnect(error) = classify(error) == recoverable.
func ShouldReconnect(err error) bool {
	return backoff.ShouldReconnect(backoffClassification(Classify(err)))
}
