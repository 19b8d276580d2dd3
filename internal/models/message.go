package models

import "time"

// MessageContent holds the as-sent text plus lazily populated translations
// keyed by language code. Translation entries are only ever added, never
// removed; a missing key means "not yet translated".
type MessageContent struct {
	Original     string            `json:"original"`
	Translations map[string]string `json:"translations,omitempty"`
}

// Message is one directed communication between two users. The id and
// creation timestamp are assigned by the store at persistence time, never by
// a client.
type Message struct {
	ID          string         `db:"id" json:"id"`
	From        string         `db:"from_user" json:"fromUserId"`
	To          string         `db:"to_user" json:"toUserId"`
	Content     MessageContent `db:"-" json:"content"`
	AudioBase64 string         `db:"audio" json:"audioBase64,omitempty"`
	IsRead      bool           `db:"is_read" json:"isRead"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
}
