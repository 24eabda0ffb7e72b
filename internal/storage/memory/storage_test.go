package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/tidemail/store/framework/module"
	"github.com/tidemail/store/internal/mailstore"
	"github.com/tidemail/store/internal/mailstore/conformance"
	"github.com/tidemail/store/internal/storage/memory"
)

func newStorage(t *testing.T) *memory.Storage {
	t.Helper()
	mod, err := memory.New("storage.memory", "test", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := mod.(*memory.Storage)
	if err := s.CreateAccount("alice"); err != nil {
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

	sess, err := s.OpenSession(ctx, "alice")
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
	sess, _ := s.OpenSession(ctx, "alice")

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

func TestAppendEnforcesQuota(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "alice")

	if err := s.SetQuota(ctx, sess, 4); err != nil {
		t.Fatalf("SetQuota: %v", err)
	}

	hdr := textproto.Header{}
	_, err := s.Append(ctx, sess, "INBOX", nil, time.Now(), hdr, []byte("way too large for the quota"))
	if err != mailstore.ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestRenameMovesChildren(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "alice")

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
	sess, _ := s.OpenSession(ctx, "alice")

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
		mbox, err := s.ListMailboxes(ctx, sess, path)
		if err != nil {
			t.Fatalf("ListMailboxes: %v", err)
		}
		var id int
		for _, m := range mbox {
			if m.Path == path {
				id = m.ID
			}
		}
		return s.MessageMapper(), id
	})
}

var _ module.Module = (*memory.Storage)(nil)
