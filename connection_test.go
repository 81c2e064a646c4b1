package wsclient

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/driftmark/wsclient/internal/heartbeat"
)

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.TimeoutMs = 500
	cfg.RetryDelayMs = 10
	cfg.MaxBackoffMs = 40
	cfg.RequestTimeoutMs = 200
	return cfg
}

func TestConnect_RejectsInvalidConfig(t *testing.T) {
	_, err := Connect(Config{})
	if err == nil {
		t.Fatal("expected an error for an empty config")
	}
}

func TestConnect_HappyPath_SendReceivesCorrelatedResponse(t *testing.T) {
	ts := newTestServer(t, func(conn net.Conn, data []byte) {
		var req struct {
			Method string      `json:"method"`
			ID     interface{} `json:"id"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		ts.reply(conn, struct {
			ID     interface{} `json:"id"`
			Result string      `json:"result"`
		}{ID: req.ID, Result: "ok"})
	})

	cfg := testConfig(ts.url())
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if got := c.Status(); got != StatusConnected {
		t.Fatalf("expected status connected, got %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := c.Send(ctx, "ping", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	var decoded struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(res.Data, &decoded); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if decoded.Result != "ok" {
		t.Fatalf("expected result %q, got %q", "ok", decoded.Result)
	}
	if res.RTT < 0 {
		t.Fatalf("expected non-negative RTT, got %v", res.RTT)
	}
}

func TestSend_TimesOutWhenNoResponseArrives(t *testing.T) {
	ts := newTestServer(t, nil) // server never replies

	cfg := testConfig(ts.url())
	cfg.RequestTimeoutMs = 30
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = c.Send(ctx, "ping", nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestPublish_DoesNotWaitForAResponse(t *testing.T) {
	received := make(chan []byte, 1)
	ts := newTestServer(t, func(conn net.Conn, data []byte) {
		received <- data
	})

	c, err := Connect(testConfig(ts.url()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Publish("announce", map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case data := <-received:
		var env struct {
			Method string          `json:"method"`
			ID     json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if env.Method != "announce" {
			t.Fatalf("expected method %q, got %q", "announce", env.Method)
		}
		if env.ID != nil {
			t.Fatalf("expected no id field on a published notification, got %s", env.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the published message")
	}
}

func TestSubscribe_Unsubscribe_UpdatesStateMetrics(t *testing.T) {
	confirmed := make(chan struct{}, 1)
	ts := newTestServer(t, func(conn net.Conn, data []byte) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Channels []string `json:"channels"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		if req.Method != "public/subscribe" || len(req.Params.Channels) == 0 {
			return
		}
		ts.reply(conn, struct {
			Method string `json:"method"`
			Params struct {
				Channel string `json:"channel"`
			} `json:"params"`
		}{Method: "subscription", Params: struct {
			Channel string `json:"channel"`
		}{Channel: req.Params.Channels[0]}})
		confirmed <- struct{}{}
	})

	c, err := Connect(testConfig(ts.url()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Subscribe([]string{"trades.btc"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case <-confirmed:
	case <-time.After(time.Second):
		t.Fatal("server never saw the subscribe request")
	}

	// Give the confirmation frame time to round-trip back through the loop.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.StateMetrics().SubscribedChannels == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.StateMetrics().SubscribedChannels; got != 1 {
		t.Fatalf("expected 1 subscribed channel, got %d", got)
	}

	c.Unsubscribe("trades.btc")
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.StateMetrics().SubscribedChannels == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.StateMetrics().SubscribedChannels; got != 0 {
		t.Fatalf("expected 0 subscribed channels after Unsubscribe, got %d", got)
	}
}

func TestSubscriptionRestore_ReplaysOnReconnect(t *testing.T) {
	restoreSeen := make(chan struct{}, 4)
	ts := newTestServer(t, func(conn net.Conn, data []byte) {
		var req struct {
			Method string `json:"method"`
			Params struct {
				Channels []string `json:"channels"`
			} `json:"params"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		if req.Method != "public/subscribe" {
			return
		}
		for _, ch := range req.Params.Channels {
			ts.reply(conn, struct {
				Method string `json:"method"`
				Params struct {
					Channel string `json:"channel"`
				} `json:"params"`
			}{Method: "subscription", Params: struct {
				Channel string `json:"channel"`
			}{Channel: ch}})
		}
		restoreSeen <- struct{}{}
	})

	cfg := testConfig(ts.url())
	cfg.ReconnectOnError = true
	cfg.RetryCount = 3
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Subscribe([]string{"orders"}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	<-restoreSeen // initial subscribe request

	// Sever the transport out from under the Connection; the reconnect path
	// should dial back in and replay the restore message automatically.
	ts.closeConns()

	select {
	case <-restoreSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the subscription restore message after reconnect")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status() == StatusConnected {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := c.Status(); got != StatusConnected {
		t.Fatalf("expected reconnect to reach connected, got %s", got)
	}
}

func TestConnect_DialFailure_NoReconnect_ReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nothing listens here anymore

	cfg := testConfig("ws://" + addr + "/ws")
	cfg.ReconnectOnError = false
	_, err = Connect(cfg)
	if err == nil {
		t.Fatal("expected a dial error")
	}
}

func TestConnect_MaxRetriesExceeded_StopsReconnecting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	disconnected := make(chan *Connection, 1)

	cfg := testConfig("ws://" + addr + "/ws")
	cfg.ReconnectOnError = true
	cfg.RetryCount = 1
	cfg.OnDisconnect = func(c *Connection) { disconnected <- c }

	_, err = Connect(cfg)
	if err == nil {
		t.Fatal("expected the first connect attempt to fail")
	}

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnDisconnect once reconnection attempts are exhausted")
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)
	c, err := Connect(testConfig(ts.url()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := c.Status(); got != StatusDisconnected {
		t.Fatalf("expected disconnected after Close, got %s", got)
	}
}

func TestSend_AfterClose_ReturnsClosedError(t *testing.T) {
	ts := newTestServer(t, nil)
	c, err := Connect(testConfig(ts.url()))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Send(ctx, "ping", nil); err == nil {
		t.Fatal("expected an error sending on a closed connection")
	}
}

func TestOnMessage_ReceivesUnroutedFrames(t *testing.T) {
	ts := newTestServer(t, nil)

	received := make(chan string, 1)
	cfg := testConfig(ts.url())
	cfg.OnMessage = func(data []byte, binary bool) {
		if !binary {
			received <- string(data)
		}
	}
	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ts.broadcast([]byte(`{"event":"tick","price":100}`))

	select {
	case msg := <-received:
		if msg != `{"event":"tick","price":100}` {
			t.Fatalf("unexpected message: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("OnMessage never received the unrouted frame")
	}
}

func TestHeartbeat_PingPongKeepsConnectionHealthy(t *testing.T) {
	ts := newTestServer(t, nil)

	cfg := testConfig(ts.url())
	cfg.HeartbeatMode = heartbeat.ModePingPong
	cfg.HeartbeatIntervalMs = 30

	c, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	time.Sleep(150 * time.Millisecond)

	health := c.HeartbeatHealth()
	if health.ConsecutiveFailures != 0 {
		t.Fatalf("expected no heartbeat failures with a responsive server, got %d", health.ConsecutiveFailures)
	}
	if got := c.Status(); got != StatusConnected {
		t.Fatalf("expected status connected, got %s", got)
	}
}
