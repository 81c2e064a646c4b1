package telemetry

import (
	"encoding/json"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSinkConfig mirrors the teacher's NATSConfig in internal/messaging.
type NATSSinkConfig struct {
	URL           string
	Name          string
	ReconnectWait time.Duration
	MaxReconnects int
	// Subject is the NATS subject prefix events are published under; the
	// final subject is Subject + "." + event.Name, e.g.
	// "wsclient.telemetry.pool.route".
	Subject string
}

// DefaultNATSSinkConfig returns sensible defaults, following
// messaging.DefaultNATSConfig.
func DefaultNATSSinkConfig() NATSSinkConfig {
	return NATSSinkConfig{
		URL:           "nats://localhost:4222",
		Name:          "wsclient",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
		Subject:       "wsclient.telemetry",
	}
}

// NATSSink republishes every telemetry event onto a NATS subject, letting
// several client processes route to the same venue share observability
// without a central collector. Publish failures are logged and otherwise
// ignored — telemetry must never block or fail the caller's hot path.
type NATSSink struct {
	conn    *nats.Conn
	subject string
}

// NewNATSSink connects to NATS with the given config and returns a ready
// sink. It returns an error if the initial connection fails.
func NewNATSSink(cfg NATSSinkConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("telemetry: nats disconnected: %v", err)
			} else {
				log.Printf("telemetry: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("telemetry: nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("telemetry: nats connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}

	return &NATSSink{conn: nc, subject: cfg.Subject}, nil
}

// wireEvent is the JSON shape published to NATS.
type wireEvent struct {
	Name         string             `json:"name"`
	Measurements map[string]float64 `json:"measurements,omitempty"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
	AtUnixMicro  int64              `json:"at_unix_micro"`
}

// Emit implements Emitter. It never returns an error to the caller; publish
// failures are logged.
func (s *NATSSink) Emit(e Event) {
	payload := wireEvent{
		Name:         e.Name,
		Measurements: e.Measurements,
		Metadata:     e.Metadata,
		AtUnixMicro:  e.At.UnixMicro(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("telemetry: marshal event %q: %v", e.Name, err)
		return
	}
	subject := s.subject + "." + e.Name
	if err := s.conn.Publish(subject, data); err != nil {
		log.Printf("telemetry: publish %s: %v", subject, err)
	}
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() {
	if err := s.conn.Drain(); err != nil {
		log.Printf("telemetry: nats drain: %v", err)
	}
}
