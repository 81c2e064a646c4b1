package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/driftmark/wsclient/internal/backoff"
	"github.com/driftmark/wsclient/internal/correlator"
	"github.com/driftmark/wsclient/internal/explainer"
	"github.com/driftmark/wsclient/internal/heartbeat"
	"github.com/driftmark/wsclient/internal/latency"
	"github.com/driftmark/wsclient/internal/recorder"
	"github.com/driftmark/wsclient/internal/subscription"
	"github.com/driftmark/wsclient/internal/telemetry"
	"github.com/driftmark/wsclient/internal/wireproto"
)

// Status is the Connection's position in the state machine from spec §4.1:
// disconnected -> connecting -> connected, never skipping a step.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Metrics is the snapshot returned by StateMetrics.
type Metrics struct {
	Status             Status
	Attempt            int
	PendingRequests    int
	SubscribedChannels int
}

// Connection owns one WebSocket endpoint: the transport handle, the
// status, all timers, and every component's state. Every field below is
// only ever read or written from the event loop goroutine started in
// Connect; the public methods only ever touch c.mailbox, c.status (an
// atomic for lock-free reads from Status()), and the connect/close
// synchronization channels.
type Connection struct {
	id  string
	cfg Config

	mailbox chan func()
	stopped chan struct{}
	done    chan struct{}

	status atomic.Int32

	netConn net.Conn
	attempt int

	correlator *correlator.Correlator
	hb         *heartbeat.Manager
	subs       *subscription.Registry
	latencyBuf *latency.Buffer
	rec        *recorder.Recorder
	emitter    telemetry.Emitter

	idCounter      uint64
	connectWaiters []chan error

	connectTimer   *time.Timer
	reconnectTimer *time.Timer
}

// ID returns the Connection's instance id, minted once at construction.
func (c *Connection) ID() string { return c.id }

// Connect validates cfg, builds a Connection, and starts its event loop.
// It blocks the calling goroutine (not the loop) until the first connect
// attempt succeeds or fails, per spec §4.1's
// connect(url, config) -> Connection | Error contract. A failed first
// attempt returns its error at once; if that error is recoverable and
// ReconnectOnError is set, the loop keeps reconnecting in the background.
func Connect(cfg Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	emitter := telemetry.Emitter(telemetry.Noop)
	if cfg.OnTelemetry != nil {
		emitter = telemetry.EmitterFunc(cfg.OnTelemetry)
	}

	c := &Connection{
		id:         uuid.NewString(),
		cfg:        cfg,
		mailbox:    make(chan func(), 64),
		stopped:    make(chan struct{}),
		done:       make(chan struct{}),
		correlator: correlator.New(emitter),
		subs:       subscription.New(cfg.RestoreSubscriptions, emitter),
		latencyBuf: latency.New(cfg.LatencyBufferSize),
		emitter:    emitter,
	}
	c.status.Store(int32(StatusDisconnected))

	c.hb = heartbeat.NewManager(heartbeat.Config{
		Mode:     cfg.HeartbeatMode,
		Interval: cfg.heartbeatInterval(),
		Latency:  c.latencyBuf,
		Emitter:  c.emitter,
		// Schedule runs every timer fire on the event loop itself, so
		// SendPing/OnFault below can touch Connection state directly
		// without racing HandleInbound, which dispatch.go also calls only
		// from the loop (spec §4.1's single-writer rule).
		Schedule: func(d time.Duration, fn func()) *time.Timer {
			return time.AfterFunc(d, func() { c.post(fn) })
		},
		SendPing: func() error {
			if c.netConn == nil {
				return ErrNotConnected
			}
			return writePing(c.netConn)
		},
		OnFault: func() {
			c.handleTransportFault(classify(explainer.KindTimeout, fmt.Errorf("heartbeat: no activity within the failure window")))
		},
	})

	if cfg.RecordTo != "" {
		r, err := recorder.Start(recorder.DefaultConfig(cfg.RecordTo))
		if err != nil {
			return nil, fmt.Errorf("wsclient: start recorder: %w", err)
		}
		c.rec = r
	}

	go c.loop()

	waiter := make(chan error, 1)
	c.post(func() {
		c.connectWaiters = append(c.connectWaiters, waiter)
		c.beginConnect()
	})

	err := <-waiter
	if err != nil {
		return nil, err
	}
	return c, nil
}

// post submits fn to the event loop's mailbox. It never blocks the caller
// beyond the channel send (the mailbox is buffered); fn itself runs on the
// loop goroutine, strictly after every previously posted fn.
func (c *Connection) post(fn func()) {
	select {
	case c.mailbox <- fn:
	case <-c.done:
	}
}

// loop is the single cooperative event loop: every API call, timer fire,
// and inbound frame funnels through this one goroutine, processed strictly
// in arrival order (spec §4.1, §5).
func (c *Connection) loop() {
	defer close(c.done)
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		case <-c.stopped:
			c.drainMailbox()
			return
		}
	}
}

func (c *Connection) drainMailbox() {
	for {
		select {
		case fn := <-c.mailbox:
			fn()
		default:
			return
		}
	}
}

func (c *Connection) setStatus(s Status) { c.status.Store(int32(s)) }

// Status returns the current connection state. Safe to call from any
// goroutine.
func (c *Connection) Status() Status { return Status(c.status.Load()) }

// beginConnect transitions disconnected -> connecting: it requests the
// transport to open, arms the connection-timeout timer, and records a
// start time for connect_time_ms telemetry. Runs on the loop.
func (c *Connection) beginConnect() {
	c.setStatus(StatusConnecting)
	start := time.Now()

	c.connectTimer = time.AfterFunc(c.cfg.timeout(), func() {
		c.post(func() { c.handleConnectTimeout() })
	})

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.timeout())
	go func() {
		defer cancel()
		conn, err := dial(ctx, c.cfg)
		c.post(func() {
			if err != nil {
				c.handleDialFailure(err)
				return
			}
			c.handleUpgradeSuccess(conn, start)
		})
	}()
}

func (c *Connection) handleConnectTimeout() {
	if c.Status() != StatusConnecting {
		return
	}
	c.handleDialFailure(classify(explainer.KindTimeout, fmt.Errorf("connect: timed out after %s", c.cfg.timeout())))
}

func (c *Connection) handleDialFailure(err error) {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.setStatus(StatusDisconnected)
	c.signalConnectWaiters(err)

	if explainer.ShouldReconnect(err) && c.cfg.ReconnectOnError {
		c.scheduleReconnect()
		return
	}
	c.stopForGood(err)
}

func (c *Connection) handleUpgradeSuccess(conn net.Conn, start time.Time) {
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	c.netConn = conn
	c.attempt = 0
	c.setStatus(StatusConnected)

	connectMs := float64(time.Since(start).Milliseconds())
	c.emitter.Emit(telemetry.Event{
		Name:         "connection.upgrade",
		Measurements: map[string]float64{"connect_time_ms": connectMs},
		Metadata:     map[string]string{"url": c.cfg.URL},
		At:           time.Now(),
	})

	c.hb.StartTimer()

	if restore := c.subs.BuildRestoreMessage(); restore != nil {
		if err := c.sendRaw(restore, false); err != nil {
			log.Printf("wsclient: %s: failed to send subscription restore: %v", c.id, err)
		}
	}

	go readLoop(conn,
		func(f inboundFrame) { c.post(func() { c.handleInboundFrame(f) }) },
		func(err error) { c.post(func() { c.handleTransportFault(classifyTransportError(err)) }) },
	)

	c.signalConnectWaiters(nil)
}

func classifyTransportError(err error) error {
	return classify(explainer.KindTransportDown, err)
}

func (c *Connection) signalConnectWaiters(err error) {
	for _, w := range c.connectWaiters {
		w <- err
		close(w)
	}
	c.connectWaiters = nil
}

// handleTransportFault implements the connected -> disconnected transition
// from spec §4.1: cancel the heartbeat timer, fail every outstanding
// correlator entry, preserve the subscription set, and either reconnect or
// stop.
func (c *Connection) handleTransportFault(err error) {
	if c.Status() == StatusDisconnected {
		return
	}
	c.hb.CancelTimer()
	c.correlator.Teardown(ErrRequestTimeout)
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	c.setStatus(StatusDisconnected)
	c.signalConnectWaiters(err)

	if explainer.ShouldReconnect(err) && c.cfg.ReconnectOnError {
		c.scheduleReconnect()
		return
	}
	c.stopForGood(err)
}

func (c *Connection) scheduleReconnect() {
	if backoff.MaxRetriesExceeded(c.attempt, c.cfg.RetryCount) {
		c.stopForGood(classify(explainer.KindMaxReconnectAttempts, fmt.Errorf("wsclient: exceeded %d reconnection attempts", c.cfg.RetryCount)))
		return
	}
	delay := backoff.Delay(c.attempt, c.cfg.retryDelay(), c.cfg.maxBackoff())
	c.attempt++
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.post(func() { c.beginConnect() })
	})
}

func (c *Connection) stopForGood(err error) {
	select {
	case <-c.stopped:
		return
	default:
	}

	c.hb.CancelTimer()
	if c.connectTimer != nil {
		c.connectTimer.Stop()
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.correlator.Teardown(err)
	if c.netConn != nil {
		c.netConn.Close()
		c.netConn = nil
	}
	c.setStatus(StatusDisconnected)
	if c.rec != nil {
		c.rec.Close()
		if c.cfg.ArchiveDSN != "" {
			c.archiveRecording(c.rec.Stats())
		}
	}

	close(c.stopped)

	if c.cfg.OnDisconnect != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("wsclient: on_disconnect callback panicked: %v", r)
				}
			}()
			c.cfg.OnDisconnect(c)
		}()
	}
}

// Close cancels every timer, drains and signals every outstanding RPC
// waiter with the teardown reason, and stops the loop. Safe to call more
// than once.
func (c *Connection) Close() error {
	done := make(chan struct{})
	c.post(func() {
		c.stopForGood(ErrClosed)
		close(done)
	})
	select {
	case <-done:
	case <-c.done:
	}
	return nil
}

// Latency returns the current RTT summary, or nil if no samples have been
// recorded yet.
func (c *Connection) Latency() *latency.Summary {
	result := make(chan *latency.Summary, 1)
	c.post(func() { result <- c.latencyBuf.Summarize() })
	select {
	case s := <-result:
		return s
	case <-c.done:
		return nil
	}
}

// HeartbeatHealth returns the current heartbeat health record.
func (c *Connection) HeartbeatHealth() heartbeat.Health {
	result := make(chan heartbeat.Health, 1)
	c.post(func() { result <- c.hb.Health() })
	select {
	case h := <-result:
		return h
	case <-c.done:
		return heartbeat.Health{}
	}
}

// StateMetrics returns a snapshot of the Connection's current state.
func (c *Connection) StateMetrics() Metrics {
	result := make(chan Metrics, 1)
	c.post(func() {
		result <- Metrics{
			Status:             c.Status(),
			Attempt:            c.attempt,
			PendingRequests:    c.correlator.PendingCount(),
			SubscribedChannels: len(c.subs.List()),
		}
	})
	select {
	case m := <-result:
		return m
	case <-c.done:
		return Metrics{}
	}
}

// nextRequestID mints a monotonically increasing per-connection id,
// guaranteeing the Request Correlator's no-collision invariant (spec
// §4.3).
func (c *Connection) nextRequestID() wireproto.ID {
	c.idCounter++
	return wireproto.ID{Value: float64(c.idCounter)}
}

// outboundRequest is the wire shape of a correlated call: method, optional
// params, and an id minted by the Connection's own monotonic counter (spec
// §4.3 — "in practice ids are generated by an internal monotonic counter
// per connection, guaranteeing uniqueness").
type outboundRequest struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
	ID     interface{} `json:"id"`
}

// outboundNotification is the wire shape of a fire-and-forget call: no id,
// so no response is ever correlated to it.
type outboundNotification struct {
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// SendResult is what a correlated Send returns on success.
type SendResult struct {
	Data []byte
	RTT  time.Duration
}

// Send issues a correlated RPC (spec §4.1's `send(conn, message) ->
// (Response,RTT)` branch): it mints a request id, tracks it with the
// Request Correlator, writes the request, and blocks the calling
// goroutine — never the event loop — until a matching response arrives,
// the per-request timeout fires, ctx is cancelled, or the Connection tears
// down.
func (c *Connection) Send(ctx context.Context, method string, params interface{}) (*SendResult, error) {
	type trackResult struct {
		waiter <-chan correlator.Outcome
		err    error
	}
	resultCh := make(chan trackResult, 1)

	c.post(func() {
		if c.Status() != StatusConnected {
			resultCh <- trackResult{err: ErrNotConnected}
			return
		}
		id := c.nextRequestID()
		waiter, err := c.correlator.Track(id, c.cfg.requestTimeout(), func(fired wireproto.ID) {
			c.post(func() { c.correlator.Timeout(fired) })
		})
		if err != nil {
			resultCh <- trackResult{err: err}
			return
		}
		data, merr := json.Marshal(outboundRequest{Method: method, Params: params, ID: idWireValue(id)})
		if merr != nil {
			c.correlator.Timeout(id)
			resultCh <- trackResult{err: fmt.Errorf("wsclient: send: %w", merr)}
			return
		}
		if err := c.sendRaw(data, false); err != nil {
			c.correlator.Timeout(id)
			resultCh <- trackResult{err: err}
			return
		}
		resultCh <- trackResult{waiter: waiter}
	})

	var tr trackResult
	select {
	case tr = <-resultCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
	if tr.err != nil {
		return nil, tr.err
	}

	select {
	case outcome := <-tr.waiter:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return &SendResult{Data: outcome.Data, RTT: outcome.RTT}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish issues a fire-and-forget call (spec §4.1's `send -> Ok` branch):
// no id is attached, so no response is ever correlated to it.
func (c *Connection) Publish(method string, params interface{}) error {
	data, err := json.Marshal(outboundNotification{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("wsclient: publish: %w", err)
	}

	errCh := make(chan error, 1)
	c.post(func() {
		if c.Status() != StatusConnected {
			errCh <- ErrNotConnected
			return
		}
		errCh <- c.sendRaw(data, false)
	})
	select {
	case err := <-errCh:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func idWireValue(id wireproto.ID) interface{} { return id.Value }

// sendRaw writes message to the transport and records it via the Session
// Recorder, if enabled. Must run on the loop.
func (c *Connection) sendRaw(message []byte, binary bool) error {
	if c.netConn == nil {
		return ErrNotConnected
	}
	var err error
	if binary {
		err = writeBinary(c.netConn, message)
	} else {
		err = writeText(c.netConn, message)
	}
	if err != nil {
		return err
	}
	if c.rec != nil {
		if binary {
			c.rec.Enqueue(recorder.NewBinaryEntry(recorder.DirOut, message))
		} else {
			c.rec.Enqueue(recorder.NewTextEntry(recorder.DirOut, string(message)))
		}
	}
	return nil
}

// Subscribe requests channels be subscribed by sending the standard
// subscribe message (spec §6's method/params shape); the Subscription
// Registry itself only updates once the server confirms (spec §4.4).
func (c *Connection) Subscribe(channels []string) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	msg, err := json.Marshal(struct {
		Method string `json:"method"`
		Params struct {
			Channels []string `json:"channels"`
		} `json:"params"`
	}{
		Method: "public/subscribe",
		Params: struct {
			Channels []string `json:"channels"`
		}{Channels: channels},
	})
	if err != nil {
		return fmt.Errorf("wsclient: subscribe: %w", err)
	}

	errCh := make(chan error, 1)
	c.post(func() { errCh <- c.sendRaw(msg, false) })
	select {
	case err := <-errCh:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// Unsubscribe removes channel from the tracked set. Per spec §4.4 this is
// the only way a channel ever leaves the registry.
func (c *Connection) Unsubscribe(channel string) {
	c.post(func() { c.subs.Remove(channel) })
}

