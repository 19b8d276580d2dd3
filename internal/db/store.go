package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
)

// Store errors surfaced to callers that need to distinguish outcomes.
var (
	ErrNotFound  = errors.New("message not found")
	ErrNotAuthor = errors.New("only the author may delete a message")
)

// Store is the durable message and user persistence layer.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by an open sqlx connection.
func NewStore(conn *sqlx.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		db:     conn,
		logger: logger.With("component", "store"),
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateMessage persists a new message. The id and creation timestamp are
// assigned here; clients never supply them.
func (s *Store) CreateMessage(ctx context.Context, from, to, original, audioBase64 string) (*models.Message, error) {
	msg := &models.Message{
		ID:          uuid.New().String(),
		From:        from,
		To:          to,
		Content:     models.MessageContent{Original: original},
		AudioBase64: audioBase64,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, from_user, to_user, content, audio, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, msg.ID, msg.From, msg.To, msg.Content.Original, msg.AudioBase64, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return msg, nil
}

// GetMessage returns a single message with its translations, or ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, from_user, to_user, content, audio, is_read, created_at
		FROM messages WHERE id = ?
	`, id).Scan(&msg.ID, &msg.From, &msg.To, &msg.Content.Original, &msg.AudioBase64, &msg.IsRead, &msg.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadTranslations(ctx, []*models.Message{&msg}); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetConversation returns up to limit messages between the two users, newest
// first from the cursor, then reversed into chronological order. If beforeID
// is set, only messages ordered before that message are returned; ordering is
// by creation time with the id as tie-break.
func (s *Store) GetConversation(ctx context.Context, a, b string, limit int, beforeID string) ([]models.Message, error) {
	var rows *sqlx.Rows
	var err error

	if beforeID != "" {
		var beforeTime time.Time
		err = s.db.QueryRowContext(ctx, `SELECT created_at FROM messages WHERE id = ?`, beforeID).Scan(&beforeTime)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		// Composite cursor: id breaks ties so messages sharing the cursor
		// row's timestamp are not skipped between pages.
		rows, err = s.db.QueryxContext(ctx, `
			SELECT id, from_user, to_user, content, audio, is_read, created_at
			FROM messages
			WHERE ((from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?))
			  AND (created_at < ? OR (created_at = ? AND id < ?))
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, a, b, b, a, beforeTime, beforeTime, beforeID, limit)
	} else {
		rows, err = s.db.QueryxContext(ctx, `
			SELECT id, from_user, to_user, content, audio, is_read, created_at
			FROM messages
			WHERE (from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)
			ORDER BY created_at DESC, id DESC LIMIT ?
		`, a, b, b, a, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content.Original, &m.AudioBase64, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	refs := make([]*models.Message, len(messages))
	for i := range messages {
		refs[i] = &messages[i]
	}
	if err := s.loadTranslations(ctx, refs); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *Store) loadTranslations(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]interface{}, len(messages))
	byID := make(map[string]*models.Message, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	query := `SELECT message_id, lang, translated FROM message_translations WHERE message_id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	rows, err := s.db.QueryxContext(ctx, query, ids...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, lang, translated string
		if err := rows.Scan(&msgID, &lang, &translated); err != nil {
			return err
		}
		if m, ok := byID[msgID]; ok {
			if m.Content.Translations == nil {
				m.Content.Translations = make(map[string]string)
			}
			m.Content.Translations[lang] = translated
		}
	}
	return rows.Err()
}

// SetTranslation records a translation for a message. The upsert makes
// repeated runs for the same language safe; the last write wins.
func (s *Store) SetTranslation(ctx context.Context, messageID, lang, translated string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_translations (message_id, lang, translated)
		VALUES (?, ?, ?)
		ON CONFLICT(message_id, lang) DO UPDATE SET translated = excluded.translated
	`, messageID, lang, translated)
	if err != nil {
		return fmt.Errorf("failed to store translation: %w", err)
	}
	return nil
}

// MarkConversationRead flips every unread message from one user to another
// to read in a single batch and returns how many rows changed. Read state
// only ever moves from unread to read.
func (s *Store) MarkConversationRead(ctx context.Context, from, to string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1
		WHERE from_user = ? AND to_user = ? AND is_read = 0
	`, from, to)
	if err != nil {
		return 0, fmt.Errorf("failed to mark conversation read: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMessage removes a message permanently. Only the original author may
// delete; anyone else gets ErrNotAuthor. The deleted message is returned so
// the caller can notify the other party.
func (s *Store) DeleteMessage(ctx context.Context, id, requesterID string) (*models.Message, error) {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.From != requesterID {
		return nil, ErrNotAuthor
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM message_translations WHERE message_id = ?`, id); err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetUser returns a user with their block list, or nil if no record exists.
// A missing record is not an error; the delivery engine fails open on it.
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowxContext(ctx, `
		SELECT id, name, avatar, preferred_language, last_seen FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Avatar, &u.PreferredLanguage, &u.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryxContext(ctx, `SELECT blocked_user_id FROM user_blocks WHERE user_id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var blocked string
		if err := rows.Scan(&blocked); err != nil {
			return nil, err
		}
		u.Blocked = append(u.Blocked, blocked)
	}
	return &u, rows.Err()
}

// UpsertUser inserts or updates a user record. User provisioning belongs to
// the HTTP layer; the realtime core only uses this in tests and tooling.
func (s *Store) UpsertUser(ctx context.Context, u *models.User) error {
	if u.PreferredLanguage == "" {
		u.PreferredLanguage = models.DefaultLanguage
	}
	if u.LastSeen.IsZero() {
		u.LastSeen = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, avatar, preferred_language, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			avatar = excluded.avatar,
			preferred_language = excluded.preferred_language
	`, u.ID, u.Name, u.Avatar, u.PreferredLanguage, u.LastSeen)
	return err
}

// BlockUser adds blockedID to userID's block list.
func (s *Store) BlockUser(ctx context.Context, userID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO user_blocks (user_id, blocked_user_id) VALUES (?, ?)
	`, userID, blockedID)
	return err
}

// UnblockUser removes blockedID from userID's block list.
func (s *Store) UnblockUser(ctx context.Context, userID, blockedID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM user_blocks WHERE user_id = ? AND blocked_user_id = ?
	`, userID, blockedID)
	return err
}

// UpdateLastSeen stamps the user's last-seen time, normally on disconnect.
func (s *Store) UpdateLastSeen(ctx context.Context, userID string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen = ? WHERE id = ?`, t.UTC(), userID)
	if err != nil {
		s.logger.Warn("failed to update last seen", "user_id", userID, "error", err)
	}
	return err
}
