package presence_test

import (
	"reflect"
	"testing"

	"github.com/bishwajit-sharma101/AstrixChat/internal/presence"
)

type fakeConn struct{ id string }

func (f *fakeConn) Send(data []byte) {}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	r := presence.NewRegistry(nil)
	c := &fakeConn{id: "a"}

	r.Register("alice", c)
	if got := r.Lookup("alice"); got != presence.Conn(c) {
		t.Fatal("lookup should return the registered connection")
	}
	if got := r.Lookup("bob"); got != nil {
		t.Fatal("lookup of an offline user should return nil")
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	t.Parallel()

	r := presence.NewRegistry(nil)
	old := &fakeConn{id: "old"}
	fresh := &fakeConn{id: "new"}

	r.Register("alice", old)
	r.Register("alice", fresh)

	if got := r.Lookup("alice"); got != presence.Conn(fresh) {
		t.Fatal("reconnect should replace the previous handle")
	}

	// The stale disconnect from the superseded connection must not evict
	// the newer registration.
	if removed := r.Remove("alice", old); removed {
		t.Fatal("stale remove should be a no-op")
	}
	if got := r.Lookup("alice"); got != presence.Conn(fresh) {
		t.Fatal("new connection should survive the stale disconnect")
	}

	if removed := r.Remove("alice", fresh); !removed {
		t.Fatal("matching remove should succeed")
	}
	if got := r.Lookup("alice"); got != nil {
		t.Fatal("alice should be offline after her current connection closed")
	}
}

func TestRegistry_OnlineSnapshot(t *testing.T) {
	t.Parallel()

	r := presence.NewRegistry(nil)
	r.Register("carol", &fakeConn{})
	r.Register("alice", &fakeConn{})
	r.Register("bob", &fakeConn{})

	want := []string{"alice", "bob", "carol"}
	if got := r.Online(); !reflect.DeepEqual(got, want) {
		t.Fatalf("online snapshot = %v, want %v", got, want)
	}
}

func TestRegistry_ChangeNotifications(t *testing.T) {
	t.Parallel()

	var snapshots [][]string
	r := presence.NewRegistry(func(online []string) {
		snapshots = append(snapshots, online)
	})

	a := &fakeConn{id: "a"}
	r.Register("alice", a)
	r.Register("bob", &fakeConn{id: "b"})
	r.Remove("alice", a)

	want := [][]string{
		{"alice"},
		{"alice", "bob"},
		{"bob"},
	}
	if !reflect.DeepEqual(snapshots, want) {
		t.Fatalf("snapshots = %v, want %v", snapshots, want)
	}

	// A guarded removal that does not match must not broadcast.
	n := len(snapshots)
	r.Remove("alice", a)
	if len(snapshots) != n {
		t.Fatal("no-op remove should not notify")
	}
}
