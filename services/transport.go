package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// ErrNotConnected is returned when an answer is emitted while the relay
// connection is down. Answers are never parked for replay.
var ErrNotConnected = errors.New("relay connection is down")

// Handler receives one inbound relay event.
type Handler func(Event)

type TransportOptions struct {
	Dialer       *websocket.Dialer
	MinReconnect time.Duration
	MaxReconnect time.Duration
}

type outbound struct {
	kind string
	data []byte
}

// Transport owns the duplex channel to the relay for one session attempt.
// It redials on its own; consumers only see connectivity through OnStatus.
type Transport struct {
	endpoint string
	dialer   *websocket.Dialer
	opts     TransportOptions

	mu        sync.Mutex
	handlers  map[string]Handler
	fallback  Handler
	onStatus  func(connected bool)
	onDrop    func()
	running   bool
	closed    bool
	connected bool
	send      chan outbound
	pending   map[string][]byte
	order     []string
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewTransport(endpoint string, opts TransportOptions) *Transport {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.MinReconnect <= 0 {
		opts.MinReconnect = 500 * time.Millisecond
	}
	if opts.MaxReconnect < opts.MinReconnect {
		opts.MaxReconnect = 30 * time.Second
	}
	return &Transport{
		endpoint: endpoint,
		dialer:   opts.Dialer,
		opts:     opts,
		handlers: make(map[string]Handler),
		pending:  make(map[string][]byte),
	}
}

// On registers the handler for one event kind, replacing any previous one.
func (t *Transport) On(kind string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[kind] = h
}

// OnDefault registers the handler for kinds without a dedicated handler.
func (t *Transport) OnDefault(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fallback = h
}

func (t *Transport) OnStatus(fn func(connected bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStatus = fn
}

// OnDrop registers fn to run when an answer accepted by Emit is lost to a
// disconnect before it reached the relay.
func (t *Transport) OnDrop(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onDrop = fn
}

// Unsubscribe drops every handler so no further events are delivered.
func (t *Transport) Unsubscribe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = make(map[string]Handler)
	t.fallback = nil
	t.onStatus = nil
	t.onDrop = nil
}

func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// Connect starts the dial loop. It never fails: errors are logged and
// retried. Calling Connect while the loop is running, or after Disconnect,
// is a no-op.
func (t *Transport) Connect(ctx context.Context, join JoinGamePayload) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.closed {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, join, t.done)
}

// Disconnect stops the dial loop and releases the connection. It is
// idempotent and waits for the loop to exit, so it must not be called from
// inside a Handler.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	cancel, done := t.cancel, t.done
	t.pending = make(map[string][]byte)
	t.order = nil
	t.mu.Unlock()

	cancel()
	<-done
}

// Emit sends an event to the relay. While disconnected only the latest
// message of each kind is kept and flushed on reconnect, except answers,
// which fail with ErrNotConnected.
func (t *Transport) Emit(kind string, payload any) error {
	evt, err := NewEvent(kind, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		select {
		case t.send <- outbound{kind: kind, data: data}:
			return nil
		default:
			log.Printf("Relay send buffer full, holding %s", kind)
		}
	}
	if kind == EventSubmitAnswer {
		return ErrNotConnected
	}
	t.parkLocked(kind, data)
	return nil
}

func (t *Transport) parkLocked(kind string, data []byte) {
	if _, ok := t.pending[kind]; !ok {
		t.order = append(t.order, kind)
	}
	t.pending[kind] = data
}

func (t *Transport) run(ctx context.Context, join JoinGamePayload, done chan struct{}) {
	defer close(done)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.opts.MinReconnect
	b.MaxInterval = t.opts.MaxReconnect
	b.Reset()

	for {
		conn, err := t.dial(ctx, join)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Relay dial failed for room %s: %v", join.RoomCode, err)
		} else {
			b.Reset()
			t.serve(ctx, conn, join)
		}

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (t *Transport) dial(ctx context.Context, join JoinGamePayload) (*websocket.Conn, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse relay endpoint: %w", err)
	}
	q := u.Query()
	q.Set("roomCode", join.RoomCode)
	q.Set("role", string(join.Role))
	u.RawQuery = q.Encode()

	conn, _, err := t.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// serve runs one connection until it drops or ctx is cancelled.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn, join JoinGamePayload) {
	// join_game goes out before the writer starts so it is always first.
	announce, err := NewEvent(EventJoinGame, join)
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteJSON(announce)
	}
	if err != nil {
		log.Printf("Relay join announcement failed for room %s: %v", join.RoomCode, err)
		conn.Close()
		return
	}

	send := make(chan outbound, sendBufferSize)
	t.mu.Lock()
	t.send = send
	t.connected = true
	var held []string
	for _, kind := range t.order {
		select {
		case send <- outbound{kind: kind, data: t.pending[kind]}:
		default:
			held = append(held, kind)
		}
	}
	pending := make(map[string][]byte, len(held))
	for _, kind := range held {
		pending[kind] = t.pending[kind]
	}
	t.pending, t.order = pending, held
	status := t.onStatus
	t.mu.Unlock()

	log.Printf("Relay connected for room %s as %s", join.RoomCode, join.Role)
	if status != nil {
		status(true)
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go t.writePump(conn, send, stop, writerDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			conn.Close()
		case <-stop:
		}
	}()

	t.readPump(conn)
	close(stop)
	<-writerDone
	conn.Close()

	t.mu.Lock()
	t.connected = false
	t.send = nil
	lost := t.reclaimLocked(send)
	status = t.onStatus
	t.mu.Unlock()

	log.Printf("Relay disconnected for room %s", join.RoomCode)
	if lost > 0 {
		log.Printf("Dropped %d unsent answer(s) for room %s", lost, join.RoomCode)
		t.answerLost()
	}
	if status != nil {
		status(false)
	}
}

// reclaimLocked empties send, parking everything except answers. It
// returns how many answers were discarded.
func (t *Transport) reclaimLocked(send <-chan outbound) int {
	lost := 0
	for {
		select {
		case m := <-send:
			if m.kind == EventSubmitAnswer {
				lost++
				continue
			}
			t.parkLocked(m.kind, m.data)
		default:
			return lost
		}
	}
}

func (t *Transport) answerLost() {
	t.mu.Lock()
	fn := t.onDrop
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Transport) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Relay read error: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Error unmarshaling relay message: %v", err)
			continue
		}
		t.dispatch(msg)
	}
}

func (t *Transport) writePump(conn *websocket.Conn, send <-chan outbound, stop <-chan struct{}, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case m := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, m.data); err != nil {
				if m.kind == EventSubmitAnswer {
					t.answerLost()
				} else {
					t.mu.Lock()
					t.parkLocked(m.kind, m.data)
					t.mu.Unlock()
				}
				conn.Close()
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (t *Transport) dispatch(msg Message) {
	t.mu.Lock()
	h, ok := t.handlers[msg.Type]
	if !ok {
		h = t.fallback
	}
	t.mu.Unlock()

	if h == nil {
		log.Printf("Dropping unhandled relay event: %s", msg.Type)
		return
	}
	h(msg)
}
