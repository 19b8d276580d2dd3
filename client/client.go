// Package client implements the Go client for the realtime chat protocol:
// the connection itself plus the optimistic-state reconciliation the browser
// UI performs against server-confirmed messages.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
)

// Handlers are optional callbacks invoked from the read loop as server
// events arrive. Nil handlers are skipped.
type Handlers struct {
	OnOnlineUsers func(userIDs []string)
	OnDelivered   func(peerID string, entry *Entry)
	OnFailed      func(peerID, tempID, reason string)
	OnOffline     func(peerID, tempID string)
	OnRead        func(peerID string)
	OnDeleted     func(messageID string)
	OnHistory     func(peerID string, prepended int)
	OnError       func(code, message string)
}

// Conn is a live connection to the chat server for one user.
type Conn struct {
	userID   string
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}
	handlers Handlers
	logger   *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*Conversation
	tempPeers     map[string]string // tempId -> peer id
	online        []string
}

// Dial connects and authenticates to the server, registers presence, and
// starts the read and write pumps. The token is presented as a bearer
// credential on the handshake.
func Dial(ctx context.Context, url, token, userID string, handlers Handlers, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	c := &Conn{
		userID:        userID,
		ws:            ws,
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
		handlers:      handlers,
		logger:        logger.With("component", "chat_client"),
		conversations: make(map[string]*Conversation),
		tempPeers:     make(map[string]string),
	}

	go c.writePump()
	go c.readPump()

	if err := c.emit(protocol.TypeRegisterUser, protocol.RegisterUserMessage{UserID: userID}); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Close tears the connection down.
func (c *Conn) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.ws.Close()
}

// Conversation returns the conversation with peerID, creating it on first
// use.
func (c *Conn) Conversation(peerID string) *Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	conv, ok := c.conversations[peerID]
	if !ok {
		conv = NewConversation(c.userID, peerID)
		c.conversations[peerID] = conv
	}
	return conv
}

// Online returns the latest online-users snapshot.
func (c *Conn) Online() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.online))
	copy(out, c.online)
	return out
}

// SendMessage optimistically renders a text message and fires the network
// send. It returns the tempId that correlates the optimistic entry with the
// eventual echo.
func (c *Conn) SendMessage(toUserID, text string) (string, error) {
	return c.sendPayload(toUserID, text, "")
}

// SendVoice sends an audio message. The blob travels as base64; no other
// binary encoding exists at the protocol boundary.
func (c *Conn) SendVoice(toUserID string, audio []byte) (string, error) {
	return c.sendPayload(toUserID, "(Voice Message)", base64.StdEncoding.EncodeToString(audio))
}

func (c *Conn) sendPayload(toUserID, text, audioBase64 string) (string, error) {
	tempID := uuid.New().String()
	c.Conversation(toUserID).AppendOptimistic(tempID, text, audioBase64)

	c.mu.Lock()
	c.tempPeers[tempID] = toUserID
	c.mu.Unlock()

	err := c.emit(protocol.TypeSendMessage, protocol.SendMessageMessage{
		ToUserID:    toUserID,
		FromUserID:  c.userID,
		Message:     text,
		AudioBase64: audioBase64,
		Metadata:    protocol.Metadata{TempID: tempID},
	})
	if err != nil {
		c.mu.Lock()
		delete(c.tempPeers, tempID)
		c.mu.Unlock()
		c.Conversation(toUserID).MarkFailed(tempID, "connection error")
		return tempID, err
	}
	return tempID, nil
}

// MarkRead tells the server every message from peerID is read, and flips the
// local copies the same way.
func (c *Conn) MarkRead(peerID string) error {
	c.Conversation(peerID).MarkOwnRead()
	return c.emit(protocol.TypeMarkRead, protocol.MarkReadMessage{SenderID: peerID})
}

// DeleteMessage asks the server to delete a message this user authored.
func (c *Conn) DeleteMessage(peerID, messageID string) error {
	return c.emit(protocol.TypeDeleteMessage, protocol.DeleteMessageMessage{
		MessageID: messageID,
		ToUserID:  peerID,
	})
}

// RequestHistory asks for an older page of the conversation with peerID.
// beforeID may be empty for the newest page.
func (c *Conn) RequestHistory(peerID, beforeID string, limit int) error {
	return c.emit(protocol.TypeGetHistory, protocol.GetHistoryMessage{
		WithUserID: peerID,
		BeforeID:   beforeID,
		Limit:      limit,
	})
}

func (c *Conn) emit(msgType protocol.MessageType, data interface{}) error {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case c.send <- raw:
		return nil
	case <-c.done:
		return fmt.Errorf("connection closed")
	}
}

func (c *Conn) readPump() {
	defer c.Close()

	c.ws.SetReadLimit(1 << 20)
	c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket error", "error", err)
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Conn) handleMessage(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		c.logger.Warn("failed to parse server message", "error", err)
		return
	}

	switch env.Type {
	case protocol.TypeOnlineUsers:
		var msg protocol.OnlineUsersMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.mu.Lock()
		c.online = msg.UserIDs
		c.mu.Unlock()
		if c.handlers.OnOnlineUsers != nil {
			c.handlers.OnOnlineUsers(msg.UserIDs)
		}

	case protocol.TypeMessageDelivered:
		var msg protocol.MessageDeliveredMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		peerID := msg.From
		if peerID == c.userID {
			peerID = msg.To
		}
		entry := c.Conversation(peerID).ApplyDelivered(msg.Message, msg.Metadata.TempID)
		if tempID := msg.Metadata.TempID; tempID != "" {
			// The echo is the terminal event for a send (any offline notice
			// precedes it), so the correlation entry can go.
			c.mu.Lock()
			delete(c.tempPeers, tempID)
			c.mu.Unlock()
		}
		if c.handlers.OnDelivered != nil {
			c.handlers.OnDelivered(peerID, entry)
		}

	case protocol.TypeSendFailed:
		var msg protocol.SendFailedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.handleSendFailed(&msg)

	case protocol.TypeMessagesRead:
		var msg protocol.MessagesReadMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.Conversation(msg.ByUserID).MarkPeerRead()
		if c.handlers.OnRead != nil {
			c.handlers.OnRead(msg.ByUserID)
		}

	case protocol.TypeMessageDeleted:
		var msg protocol.MessageDeletedMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.mu.RLock()
		convs := make([]*Conversation, 0, len(c.conversations))
		for _, conv := range c.conversations {
			convs = append(convs, conv)
		}
		c.mu.RUnlock()
		for _, conv := range convs {
			if conv.ApplyDeleted(msg.MessageID) {
				break
			}
		}
		if c.handlers.OnDeleted != nil {
			c.handlers.OnDeleted(msg.MessageID)
		}

	case protocol.TypeHistory:
		var msg protocol.HistoryMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		prepended := c.Conversation(msg.WithUserID).PrependHistory(msg.Messages, msg.HasMore)
		if c.handlers.OnHistory != nil {
			c.handlers.OnHistory(msg.WithUserID, prepended)
		}

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return
		}
		c.logger.Warn("server error", "code", msg.Code, "message", msg.Message)
		if c.handlers.OnError != nil {
			c.handlers.OnError(msg.Code, msg.Message)
		}
	}
}

// handleSendFailed routes a failure to the matching optimistic entry.
// "offline" is informational: the message persisted, so the entry stays
// confirmed (or will be, once the echo lands).
func (c *Conn) handleSendFailed(msg *protocol.SendFailedMessage) {
	tempID := msg.Metadata.TempID

	c.mu.RLock()
	peerID, ok := c.tempPeers[tempID]
	c.mu.RUnlock()
	if !ok {
		c.logger.Warn("send failure for unknown tempId", "temp_id", tempID, "reason", msg.Error)
		return
	}

	if msg.Error == protocol.ReasonOffline {
		// The echo follows and releases the correlation entry.
		if c.handlers.OnOffline != nil {
			c.handlers.OnOffline(peerID, tempID)
		}
		return
	}

	c.mu.Lock()
	delete(c.tempPeers, tempID)
	c.mu.Unlock()

	c.Conversation(peerID).MarkFailed(tempID, msg.Error)
	if c.handlers.OnFailed != nil {
		c.handlers.OnFailed(peerID, tempID, msg.Error)
	}
}
