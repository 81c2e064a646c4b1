// Package wsclient implements the Connection Supervisor from spec §4.1: a
// per-connection concurrent state machine that owns one WebSocket endpoint
// and coordinates heartbeats, JSON-RPC correlation, subscription
// restoration, rate limiting, and reconnection over it. It is grounded on
// the teacher's loadtest/client/client.go (gobwas/ws dial + wsutil
// read/write, a single background read loop dispatching by message type)
// generalized from a fire-and-forget load test client into a full
// reconnecting state machine with request/response correlation.
package wsclient

import (
	"fmt"
	"net/url"
	"time"

	"github.com/driftmark/wsclient/internal/heartbeat"
	"github.com/driftmark/wsclient/internal/telemetry"
)

// Header is one ordered name/value pair sent during the WebSocket
// handshake.
type Header struct {
	Name  string
	Value string
}

// Config is the closed configuration set from spec §4.1. DefaultConfig
// returns a Config with every optional field at its default; zero-value
// fields are not filled in afterwards, so Validate (run by Connect) rejects
// a Config whose timeouts, delays or buffer size are left at zero, along
// with anything else outside the stated bounds.
type Config struct {
	URL                  string
	Headers              []Header
	TimeoutMs            int
	RetryCount           int
	RetryDelayMs         int
	MaxBackoffMs         int
	HeartbeatIntervalMs  int
	HeartbeatMode        heartbeat.Mode
	ReconnectOnError     bool
	RestoreSubscriptions bool
	RequestTimeoutMs     int
	LatencyBufferSize    int
	RecordTo             string
	// ArchiveDSN, if set alongside RecordTo, catalogs the finished
	// recording's metadata into a Postgres session_recordings table on
	// Close (internal/archive; optional and off by default).
	ArchiveDSN string
	Debug      bool

	// OnMessage receives any inbound frame that isn't routed to the
	// heartbeat manager, the subscription registry, or the request
	// correlator (spec §4.1, routing step 4), plus every binary and
	// non-JSON text frame verbatim.
	OnMessage func(data []byte, binary bool)
	// OnDisconnect is invoked exactly once, on the terminating loop, when
	// the Connection stops for good (spec §4.1's failure semantics).
	OnDisconnect func(*Connection)
	// OnTelemetry, if set, receives every telemetry.Event emitted by this
	// Connection's components (connection, heartbeat, correlator,
	// subscription registry), in addition to whatever sinks the caller
	// wires up separately (Prometheus, NATS).
	OnTelemetry func(telemetry.Event)
}

// DefaultConfig returns a Config for url with every optional field set to
// its spec-mandated default.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		TimeoutMs:            5000,
		RetryCount:           3,
		RetryDelayMs:         1000,
		MaxBackoffMs:         30000,
		HeartbeatIntervalMs:  30000,
		HeartbeatMode:        heartbeat.ModePingPong,
		ReconnectOnError:     true,
		RestoreSubscriptions: true,
		RequestTimeoutMs:     30000,
		LatencyBufferSize:    100,
	}
}

// Validate rejects configuration outside the closed set's bounds, with a
// textual reason and no side effect (spec §4.1).
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("wsclient: config: url is required")
	}
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("wsclient: config: malformed url: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return fmt.Errorf("wsclient: config: url scheme must be ws or wss, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("wsclient: config: url must have a non-empty host")
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("wsclient: config: timeout_ms must be > 0, got %d", c.TimeoutMs)
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("wsclient: config: retry_count must be >= 0, got %d", c.RetryCount)
	}
	if c.RetryDelayMs <= 0 {
		return fmt.Errorf("wsclient: config: retry_delay_ms must be > 0, got %d", c.RetryDelayMs)
	}
	if c.MaxBackoffMs < c.RetryDelayMs {
		return fmt.Errorf("wsclient: config: max_backoff_ms (%d) must be >= retry_delay_ms (%d)", c.MaxBackoffMs, c.RetryDelayMs)
	}
	if c.HeartbeatMode != heartbeat.ModeDisabled && c.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("wsclient: config: heartbeat_interval_ms must be > 0, got %d", c.HeartbeatIntervalMs)
	}
	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("wsclient: config: request_timeout_ms must be > 0, got %d", c.RequestTimeoutMs)
	}
	if c.LatencyBufferSize <= 0 {
		return fmt.Errorf("wsclient: config: latency_buffer_size must be > 0, got %d", c.LatencyBufferSize)
	}
	return nil
}

func (c Config) timeout() time.Duration           { return time.Duration(c.TimeoutMs) * time.Millisecond }
func (c Config) retryDelay() time.Duration        { return time.Duration(c.RetryDelayMs) * time.Millisecond }
func (c Config) maxBackoff() time.Duration        { return time.Duration(c.MaxBackoffMs) * time.Millisecond }
func (c Config) heartbeatInterval() time.Duration { return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond }
func (c Config) requestTimeout() time.Duration    { return time.Duration(c.RequestTimeoutMs) * time.Millisecond }
