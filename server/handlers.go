package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/bishwajit-sharma101/AstrixChat/internal/auth"
	"github.com/bishwajit-sharma101/AstrixChat/internal/db"
	"github.com/bishwajit-sharma101/AstrixChat/internal/presence"
	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
	"github.com/bishwajit-sharma101/AstrixChat/internal/ratelimit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server holds the realtime endpoint's dependencies.
type Server struct {
	hub             *Hub
	registry        *presence.Registry
	engine          *Engine
	verifier        *auth.Verifier
	store           *db.Store
	limiter         *ratelimit.Limiter
	throttle        *ipThrottle
	historyPageSize int
	logger          *slog.Logger
}

// NewServer creates a new realtime server instance.
func NewServer(hub *Hub, registry *presence.Registry, engine *Engine, verifier *auth.Verifier, store *db.Store, limiter *ratelimit.Limiter, upgradeRPS float64, upgradeBurst, historyPageSize int, logger *slog.Logger) *Server {
	return &Server{
		hub:             hub,
		registry:        registry,
		engine:          engine,
		verifier:        verifier,
		store:           store,
		limiter:         limiter,
		throttle:        &ipThrottle{rps: upgradeRPS, burst: upgradeBurst},
		historyPageSize: historyPageSize,
		logger:          logger.With("component", "server"),
	}
}

// ipThrottle limits WebSocket upgrade attempts per remote address.
type ipThrottle struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *ipThrottle) allow(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	l, ok := p.m[host]
	if !ok {
		rps := p.rps
		if rps <= 0 {
			rps = 5
		}
		burst := p.burst
		if burst <= 0 {
			burst = 10
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		p.m[host] = l
	}
	return l.Allow()
}

// HandleWebSocket authenticates and upgrades a connection. A connection that
// fails verification is rejected before any protocol message is processed.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.throttle.allow(r.RemoteAddr) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}

	userID, err := s.verifier.VerifyRequest(r)
	if err != nil {
		s.logger.Info("auth failed", "remote", r.RemoteAddr, "error", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := s.hub.NewClient(conn, userID)
	s.hub.Register(client)

	// New connections get the current online snapshot immediately; they
	// join the broadcast set for subsequent changes.
	client.SendEnvelope(protocol.TypeOnlineUsers, protocol.OnlineUsersMessage{
		UserIDs: s.registry.Online(),
	})

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) readPump(client *Client) {
	defer func() {
		s.disconnect(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(1 << 20)
	client.Conn().SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket error", "user_id", client.UserID(), "error", err)
			}
			break
		}

		s.handleMessage(client, message)
	}
}

func (s *Server) writePump(client *Client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect tears down a connection's presence. The removal is guarded by
// handle identity so a stale disconnect cannot evict a newer registration
// from the same user. Delivery state is never rolled back here.
func (s *Server) disconnect(client *Client) {
	s.hub.Unregister(client)

	if s.registry.Remove(client.UserID(), client) {
		s.limiter.Forget(client.UserID())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.store.UpdateLastSeen(ctx, client.UserID(), time.Now())
	}
}

func (s *Server) handleMessage(client *Client, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		client.SendError(protocol.ErrCodeInvalidMsg, "Invalid message format")
		return
	}

	ctx := context.Background()

	switch env.Type {
	case protocol.TypeRegisterUser:
		var msg protocol.RegisterUserMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid registerUser message")
			return
		}
		s.handleRegisterUser(client, &msg)

	case protocol.TypeSendMessage:
		var msg protocol.SendMessageMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid sendMessage")
			return
		}
		// The verified identity wins over whatever the payload claims.
		s.engine.Send(ctx, client, client.UserID(), &msg)

	case protocol.TypeMarkRead:
		var msg protocol.MarkReadMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid markRead")
			return
		}
		s.engine.MarkRead(ctx, client.UserID(), msg.SenderID)

	case protocol.TypeDeleteMessage:
		var msg protocol.DeleteMessageMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid deleteMessage")
			return
		}
		s.engine.Delete(ctx, client, client.UserID(), &msg)

	case protocol.TypeGetHistory:
		var msg protocol.GetHistoryMessage
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			client.SendError(protocol.ErrCodeInvalidMsg, "Invalid getHistory")
			return
		}
		s.handleGetHistory(ctx, client, &msg)

	default:
		client.SendError(protocol.ErrCodeInvalidMsg, "Unknown message type")
	}
}

func (s *Server) handleRegisterUser(client *Client, msg *protocol.RegisterUserMessage) {
	if msg.UserID != "" && msg.UserID != client.UserID() {
		client.SendError(protocol.ErrCodeForbidden, "userId does not match connection identity")
		return
	}
	// Idempotent: re-registration just refreshes the entry and rebroadcasts
	// the snapshot.
	s.registry.Register(client.UserID(), client)
}

func (s *Server) handleGetHistory(ctx context.Context, client *Client, msg *protocol.GetHistoryMessage) {
	if msg.WithUserID == "" {
		client.SendError(protocol.ErrCodeInvalidMsg, "withUserId is required")
		return
	}

	limit := msg.Limit
	if limit <= 0 || limit > s.historyPageSize {
		limit = s.historyPageSize
	}

	// Fetch one extra to determine if there are more messages.
	messages, err := s.store.GetConversation(ctx, client.UserID(), msg.WithUserID, limit+1, msg.BeforeID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			client.SendError(protocol.ErrCodeNotFound, "cursor message not found")
			return
		}
		s.logger.Error("failed to get conversation", "user_id", client.UserID(), "with", msg.WithUserID, "error", err)
		client.SendError(protocol.ErrCodeInternal, "Failed to get messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[1:] // Drop the extra oldest row.
	}

	client.SendEnvelope(protocol.TypeHistory, protocol.HistoryMessage{
		WithUserID: msg.WithUserID,
		Messages:   messages,
		HasMore:    hasMore,
	})
}
