package client

import (
	"sync"

	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
)

// EntryState tags where a conversation entry is in its lifecycle.
type EntryState int

const (
	// StateOptimistic is a locally rendered message awaiting the server
	// echo.
	StateOptimistic EntryState = iota
	// StateConfirmed is a message the server has persisted.
	StateConfirmed
	// StateFailed is a send the server rejected. Failed entries stay
	// visible so the user can retry or discard explicitly; they are never
	// silently dropped.
	StateFailed
)

// Entry is one rendered message in a conversation. Reconciliation mutates
// the entry in place, so transient UI state attached to it survives the
// optimistic-to-confirmed transition.
type Entry struct {
	State      EntryState
	TempID     string
	Message    models.Message
	FailReason string

	// Transient holds UI state (such as an in-flight translation
	// indicator) that reconciliation must preserve. The library never
	// touches it.
	Transient any
}

// Conversation maintains the ordered message list for one open chat. Every
// mutation keeps the core invariant: a message never appears twice, keyed by
// server id first and tempId second.
type Conversation struct {
	selfID string
	peerID string

	mu      sync.Mutex
	entries []*Entry
	byID    map[string]*Entry
	byTemp  map[string]*Entry
	hasMore bool
}

// NewConversation creates an empty conversation between selfID and peerID.
func NewConversation(selfID, peerID string) *Conversation {
	return &Conversation{
		selfID: selfID,
		peerID: peerID,
		byID:   make(map[string]*Entry),
		byTemp: make(map[string]*Entry),
	}
}

// PeerID returns the other party's user id.
func (c *Conversation) PeerID() string {
	return c.peerID
}

// AppendOptimistic renders a locally constructed message before the server
// has seen it. The tempId correlates it with the eventual echo or failure.
func (c *Conversation) AppendOptimistic(tempID, text, audioBase64 string) *Entry {
	e := &Entry{
		State:  StateOptimistic,
		TempID: tempID,
		Message: models.Message{
			From:        c.selfID,
			To:          c.peerID,
			Content:     models.MessageContent{Original: text},
			AudioBase64: audioBase64,
		},
	}

	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.byTemp[tempID] = e
	c.mu.Unlock()
	return e
}

// ApplyDelivered merges a server-confirmed message into the view. Lookup is
// by server id first, then tempId; an existing entry is replaced in place
// rather than appended, so applying the same echo twice yields exactly one
// rendered message.
func (c *Conversation) ApplyDelivered(msg models.Message, tempID string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.byID[msg.ID]; ok {
		e.Message = msg
		e.State = StateConfirmed
		return e
	}
	if tempID != "" {
		if e, ok := c.byTemp[tempID]; ok {
			e.Message = msg
			e.State = StateConfirmed
			c.byID[msg.ID] = e
			return e
		}
	}

	e := &Entry{State: StateConfirmed, TempID: tempID, Message: msg}
	c.entries = append(c.entries, e)
	c.byID[msg.ID] = e
	return e
}

// MarkFailed flags the optimistic entry for tempID as failed-visible. It is
// a no-op once the entry has been confirmed, so a late or duplicate failure
// signal cannot regress a delivered message.
func (c *Conversation) MarkFailed(tempID, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byTemp[tempID]
	if !ok || e.State == StateConfirmed {
		return false
	}
	e.State = StateFailed
	e.FailReason = reason
	return true
}

// DiscardFailed removes a failed entry after the user explicitly gave up on
// it. Only failed entries can be discarded.
func (c *Conversation) DiscardFailed(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byTemp[tempID]
	if !ok || e.State != StateFailed {
		return false
	}
	delete(c.byTemp, tempID)
	c.removeLocked(e)
	return true
}

// MarkPeerRead flips this side's sent messages to read after the peer acked
// them. Read state only ever moves forward.
func (c *Conversation) MarkPeerRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Message.From == c.selfID {
			e.Message.IsRead = true
		}
	}
}

// MarkOwnRead flips received messages to read locally, mirroring the batch
// the server performs for a markRead request.
func (c *Conversation) MarkOwnRead() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Message.From == c.peerID {
			e.Message.IsRead = true
		}
	}
}

// ApplyDeleted drops a message the other party (or this side) deleted.
func (c *Conversation) ApplyDeleted(messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[messageID]
	if !ok {
		return false
	}
	delete(c.byID, messageID)
	if e.TempID != "" {
		delete(c.byTemp, e.TempID)
	}
	c.removeLocked(e)
	return true
}

// PrependHistory inserts an older page at the head of the list, skipping
// anything already rendered. It returns how many entries were prepended so
// the UI can offset its scroll position by the corresponding height delta
// and avoid a visible jump.
func (c *Conversation) PrependHistory(msgs []models.Message, hasMore bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []*Entry
	for i := range msgs {
		if _, ok := c.byID[msgs[i].ID]; ok {
			continue
		}
		e := &Entry{State: StateConfirmed, Message: msgs[i]}
		c.byID[msgs[i].ID] = e
		fresh = append(fresh, e)
	}

	c.entries = append(fresh, c.entries...)
	c.hasMore = hasMore
	return len(fresh)
}

// HasMore reports whether older pages remain on the server.
func (c *Conversation) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMore
}

// Entries returns a snapshot of the rendered list in order.
func (c *Conversation) Entries() []*Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Contains reports whether the given tempID belongs to this conversation.
func (c *Conversation) Contains(tempID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byTemp[tempID]
	return ok
}

func (c *Conversation) removeLocked(target *Entry) {
	for i, e := range c.entries {
		if e == target {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return
		}
	}
}
