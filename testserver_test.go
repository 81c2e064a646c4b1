package wsclient

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// testServer is a minimal gobwas/ws server used to exercise Connection
// end-to-end, grounded on internal/ws/server.go's handleUpgrade (ws.UpgradeHTTP
// then a per-connection read loop) but without the epoll/session-store
// machinery that file needs for production scale.
type testServer struct {
	addr string
	ln   net.Listener
	srv  *http.Server

	mu    sync.Mutex
	conns []net.Conn

	onText func(conn net.Conn, data []byte)
}

func newTestServer(t *testing.T, onText func(conn net.Conn, data []byte)) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ts := &testServer{addr: ln.Addr().String(), ln: ln, onText: onText}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ts.handleUpgrade)
	ts.srv = &http.Server{Handler: mux}

	go ts.srv.Serve(ln)
	t.Cleanup(ts.close)
	return ts
}

func (ts *testServer) url() string {
	return fmt.Sprintf("ws://%s/ws", ts.addr)
}

func (ts *testServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mu.Unlock()

	go func() {
		for {
			msg, op, err := wsutil.ReadClientData(conn)
			if err != nil {
				return
			}
			switch op {
			case ws.OpText, ws.OpBinary:
				if ts.onText != nil {
					ts.onText(conn, msg)
				}
			case ws.OpPing:
				_ = wsutil.WriteServerMessage(conn, ws.OpPong, msg)
			}
		}
	}()
}

// broadcast writes data as a text frame to every currently connected client.
func (ts *testServer) broadcast(data []byte) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = wsutil.WriteServerMessage(c, ws.OpText, data)
	}
}

func (ts *testServer) closeConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		c.Close()
	}
	ts.conns = nil
}

func (ts *testServer) close() {
	ts.closeConns()
	ts.ln.Close()
}

// reply marshals v and writes it as a text frame to conn.
func (ts *testServer) reply(conn net.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return wsutil.WriteServerMessage(conn, ws.OpText, data)
}
