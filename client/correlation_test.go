package client

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/bishwajit-sharma101/AstrixChat/internal/models"
	"github.com/bishwajit-sharma101/AstrixChat/internal/protocol"
)

// These exercise the read-loop dispatch without a network connection, so they
// live inside the package.

func newLocalConn(userID string) *Conn {
	return &Conn{
		userID:        userID,
		send:          make(chan []byte, 64),
		done:          make(chan struct{}),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		conversations: make(map[string]*Conversation),
		tempPeers:     make(map[string]string),
	}
}

func (c *Conn) pendingSends() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tempPeers)
}

func serverEvent(t *testing.T, msgType protocol.MessageType, data interface{}) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestCorrelation_ReleasedOnEcho(t *testing.T) {
	t.Parallel()

	c := newLocalConn("alice")
	tempID, err := c.sendPayload("bob", "hello", "")
	if err != nil {
		t.Fatal(err)
	}
	if c.pendingSends() != 1 {
		t.Fatalf("pending sends = %d, want 1", c.pendingSends())
	}

	c.handleMessage(serverEvent(t, protocol.TypeMessageDelivered, protocol.MessageDeliveredMessage{
		Message:  models.Message{ID: "m1", From: "alice", To: "bob", Content: models.MessageContent{Original: "hello"}},
		Metadata: protocol.Metadata{TempID: tempID},
	}))

	if c.pendingSends() != 0 {
		t.Fatal("the echo should release the tempId correlation")
	}
	entries := c.Conversation("bob").Entries()
	if len(entries) != 1 || entries[0].State != StateConfirmed {
		t.Fatalf("entries = %v", entries)
	}
}

func TestCorrelation_ReleasedOnFailure(t *testing.T) {
	t.Parallel()

	c := newLocalConn("alice")
	tempID, err := c.sendPayload("bob", "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	c.handleMessage(serverEvent(t, protocol.TypeSendFailed, protocol.SendFailedMessage{
		Error:    protocol.ReasonRateLimited,
		Metadata: protocol.Metadata{TempID: tempID},
	}))

	if c.pendingSends() != 0 {
		t.Fatal("a terminal failure should release the tempId correlation")
	}
	entries := c.Conversation("bob").Entries()
	if len(entries) != 1 || entries[0].State != StateFailed {
		t.Fatal("the failed entry must stay visible")
	}
}

func TestCorrelation_OfflineNoticeKeepsEntryUntilEcho(t *testing.T) {
	t.Parallel()

	var offlinePeer string
	c := newLocalConn("alice")
	c.handlers.OnOffline = func(peerID, tempID string) { offlinePeer = peerID }

	tempID, err := c.sendPayload("bob", "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	// The offline notice precedes the echo on the wire; it must still be
	// able to resolve the peer.
	c.handleMessage(serverEvent(t, protocol.TypeSendFailed, protocol.SendFailedMessage{
		Error:    protocol.ReasonOffline,
		Metadata: protocol.Metadata{TempID: tempID},
	}))
	if offlinePeer != "bob" {
		t.Fatalf("offline peer = %q, want bob", offlinePeer)
	}
	if c.pendingSends() != 1 {
		t.Fatal("the informational notice must not release the correlation")
	}

	c.handleMessage(serverEvent(t, protocol.TypeMessageDelivered, protocol.MessageDeliveredMessage{
		Message:  models.Message{ID: "m1", From: "alice", To: "bob", Content: models.MessageContent{Original: "hello"}},
		Metadata: protocol.Metadata{TempID: tempID},
	}))
	if c.pendingSends() != 0 {
		t.Fatal("the echo should release the tempId correlation")
	}
}
