package services

import (
	"encoding/json"
	"log"
	"sync"

	"matchquiz/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SessionActions is what local UI sockets may ask of the session.
type SessionActions interface {
	View() View
	SubmitAnswer(optionID string) error
	RequestMatchResults(kind models.MediaKind) (string, error)
	DismissNotice()
}

// Hub fans session views out to local presentation sockets and forwards
// their actions to the session.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	unregister chan *Client
	mutex      sync.RWMutex
	actions    SessionActions
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
}

type answerRequest struct {
	OptionID string `json:"optionId"`
}

type mediaRequest struct {
	Kind models.MediaKind `json:"kind"`
}

func NewHub(actions SessionActions) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 64),
		unregister: make(chan *Client),
		actions:    actions,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Printf("UI client unregistered: %s", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Publish queues a view for every UI client. It never blocks, so it is safe
// to use as a controller change listener.
func (h *Hub) Publish(view View) {
	data, err := encodeMessage("session_view", view)
	if err != nil {
		log.Printf("Error marshaling session view: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("UI broadcast queue full, dropping session view")
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     uuid.NewString(),
		socket: conn,
		send:   make(chan []byte, 256),
	}

	// The first frame a UI sees is the current view. The buffer is fresh, so
	// this cannot block.
	if data, err := encodeMessage("session_view", h.actions.View()); err == nil {
		client.send <- data
	} else {
		log.Printf("Error marshaling session view: %v", err)
	}
	// Registered before the pumps start so replies are never dropped.
	h.mutex.Lock()
	h.clients[client] = true
	h.mutex.Unlock()
	log.Printf("UI client registered: %s - Total clients: %d", client.id, h.ClientCount())

	go client.writePump()
	go client.readPump()

	return client
}

func (c *Client) ID() string {
	return c.id
}

func (h *Hub) UnregisterClient(client *Client) {
	h.unregister <- client
}

func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.socket.Close()
	}()

	for {
		_, message, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("UI WebSocket read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling UI message: %v", err)
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) writePump() {
	defer func() {
		c.socket.Close()
	}()

	for message := range c.send {
		w, err := c.socket.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}

		w.Write(message)

		if err := w.Close(); err != nil {
			return
		}
	}
	c.socket.WriteMessage(websocket.CloseMessage, []byte{})
}

func (c *Client) handleMessage(msg Message) {
	actions := c.hub.actions

	switch msg.Type {
	case "ping":
		c.reply("pong", "pong")

	case "request_game_state":
		c.sendView()

	case EventSubmitAnswer:
		var req answerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.replyError(err)
			return
		}
		if err := actions.SubmitAnswer(req.OptionID); err != nil {
			c.replyError(err)
		}

	case EventRequestMatchResults:
		var req mediaRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.replyError(err)
			return
		}
		id, err := actions.RequestMatchResults(req.Kind)
		if err != nil {
			c.replyError(err)
			return
		}
		c.reply("media_requested", map[string]string{"requestId": id})

	case "dismiss_notice":
		actions.DismissNotice()

	default:
		log.Printf("Unknown UI message type: %s from client %s", msg.Type, c.id)
	}
}

func (c *Client) sendView() {
	data, err := encodeMessage("session_view", c.hub.actions.View())
	if err != nil {
		log.Printf("Error marshaling session view: %v", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) reply(messageType string, payload any) {
	data, err := encodeMessage(messageType, payload)
	if err != nil {
		log.Printf("Error marshaling %s reply: %v", messageType, err)
		return
	}
	c.enqueue(data)
}

func (c *Client) replyError(err error) {
	c.reply("error", map[string]string{"message": err.Error()})
}

// enqueue drops the frame unless the client is still registered. Run only
// closes send under the write lock, so holding the read lock keeps it open.
func (c *Client) enqueue(data []byte) {
	c.hub.mutex.RLock()
	defer c.hub.mutex.RUnlock()
	if !c.hub.clients[c] {
		log.Printf("UI client %s not registered, dropping frame", c.id)
		return
	}
	select {
	case c.send <- data:
	default:
		log.Printf("UI client %s send buffer full, dropping frame", c.id)
	}
}

func encodeMessage(messageType string, payload any) ([]byte, error) {
	evt, err := NewEvent(messageType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evt)
}
