package wsclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/driftmark/wsclient/internal/backoff"
	"github.com/driftmark/wsclient/internal/explainer"
)

// dial opens the transport per spec §4.1/§6: for wss it requests TLS with
// peer verification against the system trust store and an ALPN list
// advertising only http/1.1. It is grounded on loadtest/client/client.go's
// ws.Dial usage, extended with the Dialer's TLSConfig and Header hooks the
// load test client never needed.
func dial(ctx context.Context, cfg Config) (net.Conn, error) {
	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial: %w", err)
	}

	dialer := ws.Dialer{Timeout: cfg.timeout()}
	if len(cfg.Headers) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(headerMap(cfg.Headers))
	}
	if strings.EqualFold(parsed.Scheme, "wss") {
		dialer.TLSConfig = alpnPinnedTLSConfig(parsed.Hostname())
	}

	conn, _, _, err := dialer.Dial(ctx, cfg.URL)
	if err != nil {
		return nil, classifyDialError(err)
	}
	return conn, nil
}

// classifyDialError maps the errno/DNS-level failures gobwas/ws's dialer
// surfaces onto the closed taxonomy from spec §7/§4.10, the same way the
// original transport's {:error, reason} tuples arrive pre-classified as
// atoms (:econnrefused, :nxdomain, ...). Go's net package instead reports
// these as wrapped syscall.Errno/net.DNSError values, so this is the one
// place that inspects them before the Connection Supervisor ever sees the
// error. It also catches ws.StatusError, which the dialer returns when the
// server answers the handshake with a non-101 status: a 401/403 there means
// the endpoint will never accept this client, so it must classify fatal
// rather than fall through to the recoverable transport_down bucket.
func classifyDialError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return classify(explainer.KindDNSNotFound, err)
		}
		return classify(explainer.KindHostNotFound, err)
	}

	var tlsErr *tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return classify(explainer.KindTLSAlert, err)
	}

	var statusErr ws.StatusError
	if errors.As(err, &statusErr) {
		switch int(statusErr) {
		case http.StatusUnauthorized:
			return classify(explainer.KindUnauthorized, err)
		case http.StatusForbidden:
			return classify(explainer.KindInvalidCredentials, err)
		}
		return classify(explainer.KindTransportDown, err)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return classify(explainer.KindConnectionRefused, err)
	case errors.Is(err, syscall.EHOSTUNREACH):
		return classify(explainer.KindHostUnreachable, err)
	case errors.Is(err, syscall.ENETUNREACH):
		return classify(explainer.KindNetworkUnreachable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return classify(explainer.KindTimeout, err)
	}

	return classify(explainer.KindTransportDown, err)
}

// alpnPinnedTLSConfig delegates to internal/backoff.TLSConfig, which pins
// NextProtos to http/1.1 only — spec §4.5's hard requirement that some
// reverse proxies otherwise negotiate HTTP/2 and drop the Upgrade header.
func alpnPinnedTLSConfig(serverName string) *tls.Config {
	return backoff.TLSConfig(serverName)
}

func headerMap(headers []Header) map[string][]string {
	m := make(map[string][]string, len(headers))
	for _, h := range headers {
		m[h.Name] = append(m[h.Name], h.Value)
	}
	return m
}

// writeText sends a masked client text frame.
func writeText(conn net.Conn, data []byte) error {
	return wsutil.WriteClientMessage(conn, ws.OpText, data)
}

// writeBinary sends a masked client binary frame.
func writeBinary(conn net.Conn, data []byte) error {
	return wsutil.WriteClientMessage(conn, ws.OpBinary, data)
}

// writePing sends a masked client ping control frame, used by the
// Heartbeat Manager's ping_pong mode.
func writePing(conn net.Conn) error {
	return wsutil.WriteClientMessage(conn, ws.OpPing, nil)
}

// inboundFrame is what the read loop hands back to the Connection's event
// loop for one decoded WebSocket frame.
type inboundFrame struct {
	opCode ws.OpCode
	data   []byte
}

// readLoop runs on its own goroutine for the lifetime of one transport
// connection, reading frames and posting them back onto the owning
// Connection's mailbox. It exits (and signals onExit) the moment a read
// fails, which is how the supervisor learns of transport-level
// disconnects without polling.
func readLoop(conn net.Conn, onFrame func(inboundFrame), onExit func(error)) {
	for {
		messages, err := wsutil.ReadServerMessage(conn, nil)
		if err != nil {
			onExit(err)
			return
		}
		for _, m := range messages {
			switch m.OpCode {
			case ws.OpPing:
				// RFC 6455 requires every ping to be answered with a pong
				// carrying the same payload; ReadServerMessage only reads,
				// so the reply is written back here explicitly.
				if err := wsutil.WriteClientMessage(conn, ws.OpPong, m.Payload); err != nil {
					onExit(err)
					return
				}
			case ws.OpPong:
				onFrame(inboundFrame{opCode: ws.OpPong, data: m.Payload})
			case ws.OpClose:
				onFrame(inboundFrame{opCode: ws.OpClose, data: m.Payload})
				onExit(fmt.Errorf("wsclient: server closed the connection"))
				return
			default:
				onFrame(inboundFrame{opCode: m.OpCode, data: m.Payload})
			}
		}
	}
}
