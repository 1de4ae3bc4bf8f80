package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const waitTimeout = 2 * time.Second

// fakeRelay accepts transport connections and lets a test script the
// relay side of each one.
type fakeRelay struct {
	server *httptest.Server
	conns  chan *relayConn
}

type relayConn struct {
	conn     *websocket.Conn
	query    url.Values
	received chan Message
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{conns: make(chan *relayConn, 8)}
	upgrader := websocket.Upgrader{}
	r.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		rc := &relayConn{conn: conn, query: req.URL.Query(), received: make(chan Message, 32)}
		go func() {
			defer close(rc.received)
			for {
				var msg Message
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				rc.received <- msg
			}
		}()
		r.conns <- rc
	}))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRelay) url() string {
	return "ws" + strings.TrimPrefix(r.server.URL, "http")
}

func (r *fakeRelay) accept(t *testing.T) *relayConn {
	t.Helper()
	select {
	case rc := <-r.conns:
		return rc
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a relay connection")
		return nil
	}
}

func (c *relayConn) next(t *testing.T) Message {
	t.Helper()
	select {
	case msg, ok := <-c.received:
		if !ok {
			t.Fatal("relay connection closed")
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a message from the transport")
		return Message{}
	}
}

func (c *relayConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg, ok := <-c.received:
		if ok {
			t.Fatalf("unexpected message %s: %s", msg.Type, msg.Payload)
		}
	case <-time.After(wait):
	}
}

func (c *relayConn) expectClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-c.received:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("relay connection still open")
		}
	}
}

func (c *relayConn) send(t *testing.T, eventType string, payload any) {
	t.Helper()
	if err := c.conn.WriteJSON(mustEvent(t, eventType, payload)); err != nil {
		t.Fatalf("relay send %s: %v", eventType, err)
	}
}

func decodePayload[T any](t *testing.T, msg Message) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		t.Fatalf("decode %s payload: %v", msg.Type, err)
	}
	return v
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
