package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bishwajit-sharma101/AstrixChat/internal/presence"
	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
)

// Client represents a connected WebSocket client with a verified identity.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub tracks every live connection and fans broadcast events out to them.
// Presence (user id to connection) is kept separately in the registry; the
// hub only owns the connection set.
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	register   chan *Client
	unregister chan *Client
	logger     *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With("component", "hub"),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			h.logger.Info("client connected", "user_id", client.userID)

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientsMu.Unlock()
			h.logger.Info("client disconnected", "user_id", client.userID)
		}
	}
}

// BroadcastEnvelope marshals the event once and queues it on every live
// connection.
func (h *Hub) BroadcastEnvelope(msgType protocol.MessageType, data interface{}) {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		h.logger.Error("failed to create broadcast envelope", "type", msgType, "error", err)
		return
	}
	raw, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("failed to marshal broadcast", "type", msgType, "error", err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for client := range h.clients {
		client.Send(raw)
	}
}

// NewClient creates a new client for the hub.
func (h *Hub) NewClient(conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 256),
	}
}

// Register registers a client with the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Send queues data on the client's send channel, dropping if the buffer is
// full.
func (c *Client) Send(data []byte) {
	select {
	case c.send <- data:
	default:
		// Buffer full
	}
}

// SendEnvelope sends a protocol envelope to the client.
func (c *Client) SendEnvelope(msgType protocol.MessageType, data interface{}) error {
	return sendEnvelope(c, msgType, data)
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) {
	c.SendEnvelope(protocol.TypeError, protocol.ErrorMessage{
		Code:    code,
		Message: message,
	})
}

// UserID returns the verified user id this connection belongs to.
func (c *Client) UserID() string {
	return c.userID
}

// Conn returns the client's WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// SendChan returns the client's send channel.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// sendEnvelope marshals an event and queues it on any connection handle. The
// delivery engine uses it for both the sender echo and the recipient push.
func sendEnvelope(c presence.Conn, msgType protocol.MessageType, data interface{}) error {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.Send(raw)
	return nil
}
