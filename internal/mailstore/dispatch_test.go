package mailstore_test

import (
	"testing"

	"github.com/tidemail/store/internal/mailstore"
)

type fakeListener struct {
	events []mailstore.Event
	closed bool
}

func (l *fakeListener) Notify(ev mailstore.Event) { l.events = append(l.events, ev) }
func (l *fakeListener) Closed() bool              { return l.closed }

func TestDispatcherSubscribeDeliversEvents(t *testing.T) {
	d := mailstore.NewDispatcher()
	l := &fakeListener{}
	d.Subscribe("INBOX", l)

	d.Dispatch("INBOX", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "INBOX", UID: 1})
	if len(l.events) != 1 {
		t.Fatalf("expected 1 event delivered, got %d", len(l.events))
	}

	d.Dispatch("Other", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "Other", UID: 2})
	if len(l.events) != 1 {
		t.Fatalf("expected no delivery for an unsubscribed path, got %d events", len(l.events))
	}
}

func TestDispatcherSubscribeIsIdempotentByIdentity(t *testing.T) {
	d := mailstore.NewDispatcher()
	l := &fakeListener{}

	d.Subscribe("INBOX", l)
	d.Subscribe("INBOX", l)
	d.Subscribe("INBOX", l)

	d.Dispatch("INBOX", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "INBOX", UID: 1})
	if len(l.events) != 1 {
		t.Fatalf("expected one delivery per event regardless of repeat Subscribe calls, got %d", len(l.events))
	}
}

func TestDispatcherSubscribeDistinctListenersBothDeliver(t *testing.T) {
	d := mailstore.NewDispatcher()
	a := &fakeListener{}
	b := &fakeListener{}
	d.Subscribe("INBOX", a)
	d.Subscribe("INBOX", b)

	d.Dispatch("INBOX", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "INBOX", UID: 1})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both distinct listeners to receive the event, got %d and %d", len(a.events), len(b.events))
	}
}

func TestDispatcherDispatchPrunesClosedListeners(t *testing.T) {
	d := mailstore.NewDispatcher()
	l := &fakeListener{closed: true}
	d.Subscribe("INBOX", l)

	d.Dispatch("INBOX", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "INBOX", UID: 1})
	if len(l.events) != 0 {
		t.Fatalf("closed listener should not receive events, got %d", len(l.events))
	}

	// re-subscribing after the dispatcher pruned it for being closed should
	// work as a fresh subscription once it's live again.
	l.closed = false
	d.Subscribe("INBOX", l)
	d.Dispatch("INBOX", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "INBOX", UID: 2})
	if len(l.events) != 1 {
		t.Fatalf("expected 1 event after re-subscribing, got %d", len(l.events))
	}
}

func TestDispatcherRenameMovesSubscribers(t *testing.T) {
	d := mailstore.NewDispatcher()
	l := &fakeListener{}
	d.Subscribe("Drafts", l)

	d.Rename("Drafts", "Archive/Drafts")

	d.Dispatch("Drafts", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "Drafts", UID: 1})
	if len(l.events) != 0 {
		t.Fatalf("expected no delivery at the old path after rename, got %d", len(l.events))
	}

	d.Dispatch("Archive/Drafts", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "Archive/Drafts", UID: 2})
	if len(l.events) != 1 {
		t.Fatalf("expected delivery at the new path after rename, got %d", len(l.events))
	}
}

func TestDispatcherRenameMergesIntoExistingSubscribers(t *testing.T) {
	d := mailstore.NewDispatcher()
	a := &fakeListener{}
	b := &fakeListener{}
	d.Subscribe("Drafts", a)
	d.Subscribe("Archive/Drafts", b)

	d.Rename("Drafts", "Archive/Drafts")

	d.Dispatch("Archive/Drafts", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "Archive/Drafts", UID: 1})
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected rename to merge into the destination's existing subscribers, got %d and %d", len(a.events), len(b.events))
	}
}

func TestDispatcherDrop(t *testing.T) {
	d := mailstore.NewDispatcher()
	l := &fakeListener{}
	d.Subscribe("Trash", l)

	d.Drop("Trash")

	d.Dispatch("Trash", mailstore.Event{Kind: mailstore.EventMessageAdded, Path: "Trash", UID: 1})
	if len(l.events) != 0 {
		t.Fatalf("expected no delivery after Drop, got %d", len(l.events))
	}
}
