package maildirstore

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/tidemail/store/internal/mailstore"
	"github.com/tidemail/store/internal/mailstore/conformance"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	mod, err := New("storage.maildir", "test", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := mod.(*Storage)
	s.root = t.TempDir()
	if err := s.CreateAccount("carol"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return s
}

func hasMailbox(mboxes []*mailstore.Mailbox[int], path string) bool {
	for _, m := range mboxes {
		if m.Path == path {
			return true
		}
	}
	return false
}

func TestInboxNotSeededUntilCreated(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	sess, err := s.OpenSession(ctx, "carol")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	mboxes, err := s.ListMailboxes(ctx, sess, "*")
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if hasMailbox(mboxes, "INBOX") {
		t.Fatal("INBOX should not exist before it is explicitly created or appended to")
	}

	if err := s.CreateMailbox(ctx, sess, "INBOX"); err != nil {
		t.Fatalf("CreateMailbox(INBOX): %v", err)
	}
	if err := s.CreateMailbox(ctx, sess, "INBOX"); err != mailstore.ErrMailboxExists {
		t.Fatalf("expected ErrMailboxExists on second CreateMailbox(INBOX), got %v", err)
	}

	if err := s.DeleteMailbox(ctx, sess, "INBOX"); err != nil {
		t.Fatalf("DeleteMailbox(INBOX): %v", err)
	}
	mboxes, err = s.ListMailboxes(ctx, sess, "*")
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if hasMailbox(mboxes, "INBOX") {
		t.Fatal("INBOX should not exist after being deleted")
	}
}

func TestAppendAutoVivifiesInbox(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "carol")

	hdr := textproto.Header{}
	if _, err := s.Append(ctx, sess, "INBOX", nil, time.Now(), hdr, []byte("hello")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	mboxes, err := s.ListMailboxes(ctx, sess, "*")
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if !hasMailbox(mboxes, "INBOX") {
		t.Fatal("expected INBOX to come into existence on first append")
	}
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "carol")

	hdr := textproto.Header{}
	hdr.Set("Subject", "on disk")
	if _, err := s.Append(ctx, sess, "INBOX", nil, time.Now(), hdr, []byte("hello maildir")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	it, err := s.Fetch(ctx, sess, "INBOX", mailstore.FindOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	msg, ok, err := it.Next()
	if err != nil || !ok {
		t.Fatalf("expected one message, got ok=%v err=%v", ok, err)
	}
	if string(msg.Body) != "hello maildir" {
		t.Fatalf("unexpected body: %q", msg.Body)
	}

	// Reopening the same on-disk Maildir tree must recover the sidecar
	// index rather than starting UID/MODSEQ bookkeeping over.
	s.backend.dropMailbox(msgMailboxID(t, s, ctx, sess, "INBOX"))
	if err := s.backend.openMailbox(msgMailboxID(t, s, ctx, sess, "INBOX"), s.fsPath("carol", "INBOX")); err != nil {
		t.Fatalf("reopen: %v", err)
	}

	it2, err := s.Fetch(ctx, sess, "INBOX", mailstore.FindOptions{})
	if err != nil {
		t.Fatalf("Fetch after reopen: %v", err)
	}
	msg2, ok, err := it2.Next()
	if err != nil || !ok {
		t.Fatalf("expected message to survive reopen, got ok=%v err=%v", ok, err)
	}
	if msg2.UID != msg.UID {
		t.Fatalf("UID changed across reopen: had %d, now %d", msg.UID, msg2.UID)
	}
}

func msgMailboxID(t *testing.T, s *Storage, ctx context.Context, sess *mailstore.Session, path string) int {
	t.Helper()
	mbox, err := s.resolveMailbox(sess, path)
	if err != nil {
		t.Fatalf("resolveMailbox: %v", err)
	}
	return mbox.ID
}

func TestRenameMovesChildren(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "carol")

	if err := s.CreateMailbox(ctx, sess, "Parent"); err != nil {
		t.Fatalf("CreateMailbox(Parent): %v", err)
	}
	if err := s.CreateMailbox(ctx, sess, "Parent/Child"); err != nil {
		t.Fatalf("CreateMailbox(Parent/Child): %v", err)
	}
	if err := s.RenameMailbox(ctx, sess, "Parent", "Renamed"); err != nil {
		t.Fatalf("RenameMailbox: %v", err)
	}

	mboxes, err := s.ListMailboxes(ctx, sess, "*")
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	var sawChild bool
	for _, m := range mboxes {
		if m.Path == "Renamed/Child" {
			sawChild = true
		}
		if m.Path == "Parent/Child" || m.Path == "Parent" {
			t.Fatalf("old path %q still present after rename", m.Path)
		}
	}
	if !sawChild {
		t.Fatal("expected Renamed/Child after renaming Parent")
	}
}

func TestConformance(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "carol")

	n := 0
	conformance.RunSuite(t, func(t *testing.T) (mailstore.MessageMapper[int], int) {
		n++
		path := "Scratch"
		if n > 1 {
			if err := s.DeleteMailbox(ctx, sess, path); err != nil && err != mailstore.ErrMailboxNotFound {
				t.Fatalf("DeleteMailbox: %v", err)
			}
		}
		if err := s.CreateMailbox(ctx, sess, path); err != nil {
			t.Fatalf("CreateMailbox: %v", err)
		}
		mboxes, err := s.ListMailboxes(ctx, sess, path)
		if err != nil {
			t.Fatalf("ListMailboxes: %v", err)
		}
		var id int
		for _, m := range mboxes {
			if m.Path == path {
				id = m.ID
			}
		}
		return s.MessageMapper(), id
	})
}
