package db_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/bishwajit-sharma101/AstrixChat/internal/db"
	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	store := db.NewStore(conn, nil)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCreateAndGetMessage(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.CreateMessage(ctx, "alice", "bob", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("store should assign the message id")
	}
	if created.IsRead {
		t.Fatal("new messages start unread")
	}

	got, err := store.GetMessage(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.From != "alice" || got.To != "bob" || got.Content.Original != "hello" {
		t.Fatalf("round-tripped message = %+v", got)
	}

	if _, err := store.GetMessage(ctx, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetConversation_Pagination(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// Alternate directions so both sides of the WHERE clause are exercised.
	var ids []string
	for i := 0; i < 5; i++ {
		from, to := "alice", "bob"
		if i%2 == 1 {
			from, to = "bob", "alice"
		}
		m, err := store.CreateMessage(ctx, from, to, "msg", "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m.ID)
		time.Sleep(5 * time.Millisecond) // distinct created_at for ordering
	}

	// Newest page, chronological order.
	page, err := store.GetConversation(ctx, "alice", "bob", 3, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("page has %d messages, want 3", len(page))
	}
	for i, want := range ids[2:] {
		if page[i].ID != want {
			t.Fatalf("page[%d] = %s, want %s", i, page[i].ID, want)
		}
	}

	// Older page before the cursor.
	older, err := store.GetConversation(ctx, "alice", "bob", 3, page[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(older) != 2 {
		t.Fatalf("older page has %d messages, want 2", len(older))
	}
	for i, want := range ids[:2] {
		if older[i].ID != want {
			t.Fatalf("older[%d] = %s, want %s", i, older[i].ID, want)
		}
	}

	if _, err := store.GetConversation(ctx, "alice", "bob", 3, "missing"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for unknown cursor", err)
	}

	// Uninvolved parties see nothing.
	other, err := store.GetConversation(ctx, "alice", "carol", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Fatalf("unrelated conversation has %d messages, want 0", len(other))
	}
}

func TestGetConversation_CursorSurvivesTimestampTies(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// Created back to back with no delay, so timestamps are likely to
	// collide; the composite cursor must still walk every message.
	want := make(map[string]bool)
	for i := 0; i < 6; i++ {
		m, err := store.CreateMessage(ctx, "alice", "bob", "msg", "")
		if err != nil {
			t.Fatal(err)
		}
		want[m.ID] = true
	}

	seen := make(map[string]bool)
	cursor := ""
	for {
		page, err := store.GetConversation(ctx, "alice", "bob", 1, cursor)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			if seen[m.ID] {
				t.Fatalf("message %s returned twice", m.ID)
			}
			seen[m.ID] = true
		}
		cursor = page[0].ID
	}

	if len(seen) != len(want) {
		t.Fatalf("pagination visited %d of %d messages", len(seen), len(want))
	}
}

func TestTranslations_UpsertAndLoad(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.CreateMessage(ctx, "alice", "bob", "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetTranslation(ctx, m.ID, "hi", "namaste"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetTranslation(ctx, m.ID, "es", "hola"); err != nil {
		t.Fatal(err)
	}
	// Last write wins on rerun.
	if err := store.SetTranslation(ctx, m.ID, "hi", "namaste!"); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Content.Translations["hi"] != "namaste!" || got.Content.Translations["es"] != "hola" {
		t.Fatalf("translations = %v", got.Content.Translations)
	}
}

func TestMarkConversationRead(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.CreateMessage(ctx, "alice", "bob", "msg", ""); err != nil {
			t.Fatal(err)
		}
	}
	// Reverse-direction message must be untouched by bob's batch.
	reply, err := store.CreateMessage(ctx, "bob", "alice", "reply", "")
	if err != nil {
		t.Fatal(err)
	}

	n, err := store.MarkConversationRead(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("marked %d messages, want 3", n)
	}

	// Already read: the second batch is empty.
	n, err = store.MarkConversationRead(ctx, "alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("repeat batch marked %d messages, want 0", n)
	}

	got, err := store.GetMessage(ctx, reply.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsRead {
		t.Fatal("reverse-direction message must stay unread")
	}
}

func TestDeleteMessage_AuthorOnly(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	m, err := store.CreateMessage(ctx, "alice", "bob", "oops", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTranslation(ctx, m.ID, "hi", "arre"); err != nil {
		t.Fatal(err)
	}

	if _, err := store.DeleteMessage(ctx, m.ID, "bob"); !errors.Is(err, db.ErrNotAuthor) {
		t.Fatalf("err = %v, want ErrNotAuthor", err)
	}

	deleted, err := store.DeleteMessage(ctx, m.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if deleted.To != "bob" {
		t.Fatalf("deleted message = %+v", deleted)
	}

	if _, err := store.GetMessage(ctx, m.ID); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
	if _, err := store.DeleteMessage(ctx, m.ID, "alice"); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for double delete", err)
	}
}

func TestUsersAndBlocks(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// Missing record is nil, nil: the caller fails open.
	u, err := store.GetUser(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Fatal("missing user should be nil without error")
	}

	if err := store.UpsertUser(ctx, &models.User{ID: "bob", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	u, err = store.GetUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if u.PreferredLanguage != models.DefaultLanguage {
		t.Fatalf("preferred language = %q, want default", u.PreferredLanguage)
	}
	if u.WantsTranslation(models.DefaultLanguage) {
		t.Fatal("default-language users need no translation")
	}

	if err := store.BlockUser(ctx, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	// Blocking twice is harmless.
	if err := store.BlockUser(ctx, "bob", "alice"); err != nil {
		t.Fatal(err)
	}

	u, err = store.GetUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !u.HasBlocked("alice") {
		t.Fatal("bob should have alice blocked")
	}
	if u.HasBlocked("carol") {
		t.Fatal("bob has not blocked carol")
	}

	if err := store.UnblockUser(ctx, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	u, err = store.GetUser(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if u.HasBlocked("alice") {
		t.Fatal("unblock should remove alice from the list")
	}

	if err := store.UpdateLastSeen(ctx, "bob", time.Now()); err != nil {
		t.Fatal(err)
	}
}
