package registry

import (
	"testing"
	"time"

	"github.com/quizsync/engine/internal/apperr"
)

type fakeCoordinator struct {
	sessionID string
	joinCode  string
	done      chan struct{}
}

func (f *fakeCoordinator) SessionID() string      { return f.sessionID }
func (f *fakeCoordinator) JoinCode() string       { return f.joinCode }
func (f *fakeCoordinator) Done() <-chan struct{}  { return f.done }

func TestLookupBySessionIDAndJoinCode(t *testing.T) {
	r := New()
	c := &fakeCoordinator{sessionID: "sess-1", joinCode: "AB12CD", done: make(chan struct{})}
	r.Register(c)

	got, err := r.Lookup("sess-1")
	if err != nil || got != c {
		t.Fatalf("expected lookup by id to find coordinator, err=%v", err)
	}
	got, err = r.LookupByJoinCode("AB12CD")
	if err != nil || got != c {
		t.Fatalf("expected lookup by join code to find coordinator, err=%v", err)
	}
}

func TestLookupMissingSessionReturnsSessionNotFound(t *testing.T) {
	r := New()
	_, err := r.Lookup("ghost")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Code != apperr.SessionNotFound {
		t.Fatalf("expected SessionNotFound, got %v", err)
	}
}

func TestRegistryRemovesCoordinatorOnDone(t *testing.T) {
	r := New()
	c := &fakeCoordinator{sessionID: "sess-2", joinCode: "ZZ9988", done: make(chan struct{})}
	r.Register(c)

	close(c.done)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if r.Count() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected coordinator to be removed from registry after Done")
}

func TestSocketAttachment(t *testing.T) {
	r := New()
	r.AttachSocket("socket-1", "sess-1")
	sessionID, ok := r.SessionForSocket("socket-1")
	if !ok || sessionID != "sess-1" {
		t.Fatalf("expected socket-1 attached to sess-1")
	}
	r.DetachSocket("socket-1")
	if _, ok := r.SessionForSocket("socket-1"); ok {
		t.Fatalf("expected socket-1 to be detached")
	}
}
