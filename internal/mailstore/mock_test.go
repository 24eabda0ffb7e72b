package mailstore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/tidemail/store/internal/mailstore"
	"github.com/tidemail/store/internal/mailstore/conformance"
)

func TestMockMailboxManagerSeeding(t *testing.T) {
	mgr := mailstore.NewMockMailboxManager([]string{"alice", "bob"}, 2, 3)
	ctx := context.Background()

	sess, err := mgr.OpenSession(ctx, "alice")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	inbox, err := mgr.Mailbox(sess, "INBOX")
	if err != nil {
		t.Fatalf("Mailbox(INBOX): %v", err)
	}
	n, err := mgr.Messages().CountMessages(ctx, inbox.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 seeded messages in INBOX, got %d", n)
	}

	trash, err := mgr.Mailbox(sess, "Trash")
	if err != nil {
		t.Fatalf("Mailbox(Trash): %v", err)
	}
	n, err = mgr.Messages().CountMessages(ctx, trash.ID)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected empty Trash, got %d messages", n)
	}

	list, err := mgr.ListMailboxes(ctx, sess, "*")
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if len(list) != 4 { // INBOX, Trash, Folder1, Folder2
		t.Fatalf("expected 4 mailboxes, got %d", len(list))
	}
}

func TestMockMailboxManagerConformance(t *testing.T) {
	mgr := mailstore.NewMockMailboxManager([]string{"carol"}, 0, 0)
	scratch := 0
	conformance.RunSuite(t, func(t *testing.T) (mailstore.MessageMapper[int], int) {
		sess, err := mgr.OpenSession(context.Background(), "carol")
		if err != nil {
			t.Fatalf("OpenSession: %v", err)
		}
		scratch++
		path := fmt.Sprintf("ScratchFolder%d", scratch)
		if err := mgr.CreateMailbox(context.Background(), sess, path); err != nil {
			t.Fatalf("CreateMailbox: %v", err)
		}
		mbox, err := mgr.Mailbox(sess, path)
		if err != nil {
			t.Fatalf("Mailbox: %v", err)
		}
		return mgr.Messages(), mbox.ID
	})
}
