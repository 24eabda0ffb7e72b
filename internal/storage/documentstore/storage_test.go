package documentstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/tidemail/store/framework/module"
	"github.com/tidemail/store/internal/mailstore"
	"github.com/tidemail/store/internal/mailstore/conformance"
	"github.com/tidemail/store/internal/storage/documentstore"
)

func newStorage(t *testing.T) *documentstore.Storage {
	t.Helper()
	mod, err := documentstore.New("storage.documentstore", "test", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := mod.(*documentstore.Storage)
	if err := s.CreateAccount("bob"); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return s
}

func hasMailbox(mboxes []*mailstore.Mailbox[uuid.UUID], path string) bool {
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

	sess, err := s.OpenSession(ctx, "bob")
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
	sess, _ := s.OpenSession(ctx, "bob")

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

func TestDuplicateAppendDeduplicatesQuota(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "bob")

	if err := s.CreateMailbox(ctx, sess, "Sent"); err != nil {
		t.Fatalf("CreateMailbox: %v", err)
	}

	hdr := textproto.Header{}
	hdr.Set("Subject", "dup")
	body := []byte("identical body")

	if _, err := s.Append(ctx, sess, "INBOX", nil, time.Now(), hdr, body); err != nil {
		t.Fatalf("Append INBOX: %v", err)
	}
	if _, err := s.Append(ctx, sess, "Sent", nil, time.Now(), hdr, body); err != nil {
		t.Fatalf("Append Sent: %v", err)
	}

	q, err := s.GetQuota(ctx, sess)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.Used != int64(len(body)) {
		t.Fatalf("expected deduplicated usage of %d bytes, got %d", len(body), q.Used)
	}
}

func TestExpungeReleasesLastReference(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "bob")

	hdr := textproto.Header{}
	body := []byte("going away")
	if _, err := s.Append(ctx, sess, "INBOX", nil, time.Now(), hdr, body); err != nil {
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
	var seqs mailstore.SeqSet
	seqs.AddNum(msg.UID)
	if _, err := s.Store(ctx, sess, "INBOX", seqs, mailstore.FlagOpAdd, []mailstore.Flag{mailstore.FlagDeleted}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := s.Expunge(ctx, sess, "INBOX", mailstore.AllSeqSet()); err != nil {
		t.Fatalf("Expunge: %v", err)
	}

	q, err := s.GetQuota(ctx, sess)
	if err != nil {
		t.Fatalf("GetQuota: %v", err)
	}
	if q.Used != 0 {
		t.Fatalf("expected 0 bytes used after expunging the only copy, got %d", q.Used)
	}
}

func TestConformance(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	sess, _ := s.OpenSession(ctx, "bob")

	n := 0
	conformance.RunSuite(t, func(t *testing.T) (mailstore.MessageMapper[uuid.UUID], uuid.UUID) {
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
		var id uuid.UUID
		for _, m := range mboxes {
			if m.Path == path {
				id = m.ID
			}
		}
		return s.MessageMapper(), id
	})
}

var _ module.Module = (*documentstore.Storage)(nil)
