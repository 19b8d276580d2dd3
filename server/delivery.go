package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/bishwajit-sharma101/AstrixChat/internal/db"
	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
	"github.com/bishwajit-sharma101/AstrixChat/internal/presence"
	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
	"github.com/bishwajit-sharma101/AstrixChat/internal/ratelimit"
)

// MessageStore is the persistence surface the delivery engine needs.
// *db.Store satisfies it; tests substitute fakes.
type MessageStore interface {
	CreateMessage(ctx context.Context, from, to, original, audioBase64 string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, from, to string) (int64, error)
	DeleteMessage(ctx context.Context, id, requesterID string) (*models.Message, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// PresenceLookup resolves a user id to a live connection, or nil.
type PresenceLookup interface {
	Lookup(userID string) presence.Conn
}

// Engine runs each send attempt through validation, persistence, and
// fan-out. Nothing is ever broadcast for a message that failed to persist.
type Engine struct {
	store       MessageStore
	presence    PresenceLookup
	limiter     *ratelimit.Limiter
	worker      *TranslationWorker
	defaultLang string
	logger      *slog.Logger
}

// NewEngine creates a delivery engine. worker may be nil, in which case
// offline recipients simply get no catch-up translation. defaultLang is the
// language messages are authored in; recipients preferring it are never
// translation-eligible.
func NewEngine(store MessageStore, reg PresenceLookup, limiter *ratelimit.Limiter, worker *TranslationWorker, defaultLang string, logger *slog.Logger) *Engine {
	if defaultLang == "" {
		defaultLang = models.DefaultLanguage
	}
	return &Engine{
		store:       store,
		presence:    reg,
		limiter:     limiter,
		worker:      worker,
		defaultLang: defaultLang,
		logger:      logger.With("component", "delivery"),
	}
}

// Send processes one send attempt from the given sender connection.
//
// Validation order: recipient well-formedness, rate limit, block list, then
// persistence. The rate check precedes anything that touches the database so
// a flooding sender is shed cheaply. Failures are reported to the sender
// only.
func (e *Engine) Send(ctx context.Context, sender presence.Conn, senderID string, req *protocol.SendMessageMessage) {
	fail := func(reason string) {
		sendEnvelope(sender, protocol.TypeSendFailed, protocol.SendFailedMessage{
			Error:    reason,
			Metadata: req.Metadata,
		})
	}

	// An empty message never creates an optimistic entry client-side, so
	// there is nothing to reconcile; reject it as a malformed request.
	original := strings.TrimSpace(req.Message)
	if original == "" && req.AudioBase64 == "" {
		sendError(sender, protocol.ErrCodeInvalidMsg, "message content is required")
		return
	}

	to := strings.TrimSpace(req.ToUserID)
	if to == "" || to == senderID {
		fail(protocol.ReasonInvalidRecipient)
		return
	}

	// Counted synchronously, before any suspension point, so two in-flight
	// sends from the same sender cannot both pass the check.
	if !e.limiter.Allow(senderID) {
		fail(protocol.ReasonRateLimited)
		return
	}

	// A missing recipient record is treated as not-blocked: this check, and
	// only this check, fails open.
	recipient, err := e.store.GetUser(ctx, to)
	if err != nil {
		e.logger.Warn("block-list lookup failed, proceeding", "to", to, "error", err)
	}
	if recipient != nil && recipient.HasBlocked(senderID) {
		fail(protocol.ReasonBlocked)
		return
	}

	msg, err := e.store.CreateMessage(ctx, senderID, to, original, req.AudioBase64)
	if err != nil {
		e.logger.Error("failed to persist message", "from", senderID, "to", to, "error", err)
		fail(protocol.ReasonPersistFailed)
		return
	}

	enriched := protocol.MessageDeliveredMessage{
		Message:  *msg,
		Metadata: req.Metadata,
	}

	target := e.presence.Lookup(to)
	if target != nil {
		sendEnvelope(target, protocol.TypeMessageDelivered, enriched)
	} else {
		// Informational: the message is persisted and will surface on the
		// recipient's next history fetch. Emitted before the echo so the
		// sender still holds the tempId correlation when it arrives; the
		// echo is what releases that state.
		fail(protocol.ReasonOffline)

		if e.worker != nil && recipient != nil && recipient.WantsTranslation(e.defaultLang) {
			e.worker.Dispatch(translationJob{
				messageID:   msg.ID,
				text:        original,
				audioBase64: req.AudioBase64,
				targetLang:  recipient.PreferredLanguage,
			})
		}
	}

	// The echo reconciles the sender's optimistic entry with the persisted
	// id; it always happens, online recipient or not.
	sendEnvelope(sender, protocol.TypeMessageDelivered, enriched)
}

// MarkRead flips every unread message from senderID to readerID in one
// batch, then notifies senderID if they are online. The notification carries
// only the reader's id; the receiving client flips its own sent copies.
func (e *Engine) MarkRead(ctx context.Context, readerID, senderID string) {
	n, err := e.store.MarkConversationRead(ctx, senderID, readerID)
	if err != nil {
		e.logger.Error("failed to mark conversation read", "reader", readerID, "sender", senderID, "error", err)
		return
	}
	if n == 0 {
		return
	}

	if target := e.presence.Lookup(senderID); target != nil {
		sendEnvelope(target, protocol.TypeMessagesRead, protocol.MessagesReadMessage{
			ByUserID: readerID,
		})
	}
}

// Delete permanently removes a message the requester authored and, if the
// other party is online, tells their view to drop it. There is no
// soft-delete.
func (e *Engine) Delete(ctx context.Context, sender presence.Conn, requesterID string, req *protocol.DeleteMessageMessage) {
	msg, err := e.store.DeleteMessage(ctx, req.MessageID, requesterID)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			sendError(sender, protocol.ErrCodeNotFound, "message not found")
		case errors.Is(err, db.ErrNotAuthor):
			sendError(sender, protocol.ErrCodeForbidden, "only the author may delete a message")
		default:
			e.logger.Error("failed to delete message", "id", req.MessageID, "error", err)
			sendError(sender, protocol.ErrCodeInternal, "failed to delete message")
		}
		return
	}

	if target := e.presence.Lookup(msg.To); target != nil {
		sendEnvelope(target, protocol.TypeMessageDeleted, protocol.MessageDeletedMessage{
			MessageID: msg.ID,
		})
	}
}

func sendError(c presence.Conn, code, message string) {
	sendEnvelope(c, protocol.TypeError, protocol.ErrorMessage{Code: code, Message: message})
}
