package models

import "time"

// DefaultLanguage is the language messages are authored in when the sender
// gives no hint. Recipients whose preferred language matches it never need a
// catch-up translation.
const DefaultLanguage = "en"

// User mirrors the account record owned by the HTTP CRUD layer. The realtime
// core reads it for routing policy and only ever writes LastSeen.
type User struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Avatar            string    `db:"avatar" json:"avatar,omitempty"`
	PreferredLanguage string    `db:"preferred_language" json:"preferredLanguage"`
	LastSeen          time.Time `db:"last_seen" json:"lastSeen"`

	// Blocked holds the ids this user has blocked. Loaded separately from
	// the user row.
	Blocked []string `db:"-" json:"-"`
}

// HasBlocked reports whether the user has blocked the given user id.
func (u *User) HasBlocked(id string) bool {
	for _, b := range u.Blocked {
		if b == id {
			return true
		}
	}
	return false
}

// WantsTranslation reports whether the user reads a language other than
// defaultLang, the language messages are authored in. An empty defaultLang
// falls back to DefaultLanguage.
func (u *User) WantsTranslation(defaultLang string) bool {
	if defaultLang == "" {
		defaultLang = DefaultLanguage
	}
	return u.PreferredLanguage != "" && u.PreferredLanguage != defaultLang
}
