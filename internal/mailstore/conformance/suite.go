// Package conformance runs the testable properties every backend
// adapter must satisfy against an arbitrary MessageMapper, so each
// backend's own _test.go supplies only a constructor instead of
// duplicating the assertions.
package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/tidemail/store/internal/mailstore"
)

// Factory constructs a fresh MessageMapper bound to a freshly created,
// empty mailbox, returning the mapper and that mailbox's backend ID.
type Factory[ID comparable] func(t *testing.T) (mailstore.MessageMapper[ID], ID)

func uidSet(uids ...uint32) mailstore.SeqSet {
	var s mailstore.SeqSet
	for _, u := range uids {
		s.AddNum(u)
	}
	return s
}

func appendMsg[ID comparable](t *testing.T, ctx context.Context, m mailstore.MessageMapper[ID], mbox ID, subject string) *mailstore.Message[ID] {
	t.Helper()
	hdr := textproto.Header{}
	hdr.Set("Subject", subject)
	msg, err := m.Add(ctx, mbox, &mailstore.Message[ID]{
		Header:       hdr,
		Body:         []byte("body of " + subject),
		Size:         uint32(len("body of " + subject)),
		InternalDate: time.Now(),
	})
	if err != nil {
		t.Fatalf("Add(%q): %v", subject, err)
	}
	return msg
}

// RunSuite exercises the UID/MODSEQ allocation and flag-lifecycle
// invariants against any backend's MessageMapper.
func RunSuite[ID comparable](t *testing.T, newMapper Factory[ID]) {
	t.Run("UIDsMonotonicAndUnique", func(t *testing.T) { testUIDsMonotonic(t, newMapper) })
	t.Run("ModSeqMonotonicAcrossMutations", func(t *testing.T) { testModSeqMonotonic(t, newMapper) })
	t.Run("AppendSetsRecent", func(t *testing.T) { testAppendSetsRecent(t, newMapper) })
	t.Run("ExpungeRemovesOnlyDeleted", func(t *testing.T) { testExpungeOnlyDeleted(t, newMapper) })
	t.Run("EmptyExpungeIsNoop", func(t *testing.T) { testEmptyExpungeNoop(t, newMapper) })
	t.Run("CopySetsRecentOnDestination", func(t *testing.T) { testCopySetsRecentOnDestination(t, newMapper) })
	t.Run("SearchAllMatchesEverything", func(t *testing.T) { testSearchAllMatchesEverything(t, newMapper) })
	t.Run("FlagBatchSharesModSeq", func(t *testing.T) { testFlagBatchSharesModSeq(t, newMapper) })
	t.Run("UpdateFlagsIdempotent", func(t *testing.T) { testUpdateFlagsIdempotent(t, newMapper) })
	t.Run("ExpungeAdvancesCountersPastGap", func(t *testing.T) { testExpungeAdvancesCounters(t, newMapper) })
}

func testUIDsMonotonic[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	seen := map[uint32]bool{}
	var last uint32
	for i := 0; i < 5; i++ {
		msg := appendMsg(t, ctx, m, mbox, "m")
		if msg.UID <= last {
			t.Fatalf("UID not increasing: got %d after %d", msg.UID, last)
		}
		if seen[msg.UID] {
			t.Fatalf("duplicate UID %d", msg.UID)
		}
		seen[msg.UID] = true
		last = msg.UID
	}
}

func testModSeqMonotonic[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	msg := appendMsg(t, ctx, m, mbox, "a")
	prev := msg.ModSeq

	updated, err := m.UpdateFlags(ctx, mbox, uidSet(msg.UID), mailstore.FlagOpAdd, []mailstore.Flag{mailstore.FlagSeen})
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if len(updated) != 1 || updated[0].ModSeq <= prev {
		t.Fatalf("MODSEQ did not advance: got %+v, had %d", updated, prev)
	}
}

func testAppendSetsRecent[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	msg := appendMsg(t, context.Background(), m, mbox, "a")
	if !msg.Flags.Has(mailstore.FlagRecent) {
		t.Fatal("newly appended message missing \\Recent")
	}
}

func testExpungeOnlyDeleted[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	keep := appendMsg(t, ctx, m, mbox, "keep")
	gone := appendMsg(t, ctx, m, mbox, "gone")

	if _, err := m.UpdateFlags(ctx, mbox, uidSet(gone.UID), mailstore.FlagOpAdd, []mailstore.Flag{mailstore.FlagDeleted}); err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}

	expunged, err := m.ExpungeMarkedForDeletion(ctx, mbox, mailstore.AllSeqSet())
	if err != nil {
		t.Fatalf("ExpungeMarkedForDeletion: %v", err)
	}
	if len(expunged) != 1 {
		t.Fatalf("expected only UID %d expunged, got %v", gone.UID, expunged)
	}
	if _, ok := expunged[gone.UID]; !ok {
		t.Fatalf("expected UID %d expunged, got %v", gone.UID, expunged)
	}

	n, err := m.CountMessages(ctx, mbox)
	if err != nil {
		t.Fatalf("CountMessages: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 remaining message, got %d", n)
	}
	_ = keep
}

func testEmptyExpungeNoop[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()
	appendMsg(t, ctx, m, mbox, "a")

	expunged, err := m.ExpungeMarkedForDeletion(ctx, mbox, mailstore.AllSeqSet())
	if err != nil {
		t.Fatalf("ExpungeMarkedForDeletion: %v", err)
	}
	if len(expunged) != 0 {
		t.Fatalf("expected no-op expunge, removed %v", expunged)
	}
}

func testCopySetsRecentOnDestination[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	src := appendMsg(t, ctx, m, mbox, "a")
	if _, err := m.UpdateFlags(ctx, mbox, uidSet(src.UID), mailstore.FlagOpRemove, []mailstore.Flag{mailstore.FlagRecent}); err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}

	copied, err := m.Copy(ctx, mbox, mbox, src.UID)
	if err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if !copied.Flags.Has(mailstore.FlagRecent) {
		t.Fatal("copy did not carry \\Recent at the destination")
	}
}

func testSearchAllMatchesEverything[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	appendMsg(t, ctx, m, mbox, "a")
	appendMsg(t, ctx, m, mbox, "b")

	matches, err := m.Search(ctx, mbox, mailstore.CriterionAll{}, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for ALL, got %d", len(matches))
	}
}

// testFlagBatchSharesModSeq asserts that a flag update spanning several
// messages stamps every changed message with the same newly allocated
// MODSEQ, strictly above every MODSEQ already in play.
func testFlagBatchSharesModSeq[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	var last uint64
	for _, subj := range []string{"a", "b", "c"} {
		msg := appendMsg(t, ctx, m, mbox, subj)
		last = msg.ModSeq
	}

	updated, err := m.UpdateFlags(ctx, mbox, mailstore.AllSeqSet(), mailstore.FlagOpSet, []mailstore.Flag{mailstore.FlagSeen})
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if len(updated) != 3 {
		t.Fatalf("expected all 3 messages to change, got %d", len(updated))
	}
	shared := updated[0].ModSeq
	if shared <= last {
		t.Fatalf("batch MODSEQ %d did not exceed pre-batch high water mark %d", shared, last)
	}
	for _, msg := range updated {
		if msg.ModSeq != shared {
			t.Fatalf("batch MODSEQ not shared: uid %d got %d, want %d", msg.UID, msg.ModSeq, shared)
		}
	}
}

// testUpdateFlagsIdempotent asserts that replacing a message's flag-set
// with the set it already has advances no MODSEQ and reports no change.
func testUpdateFlagsIdempotent[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	msg := appendMsg(t, ctx, m, mbox, "a")
	flags := msg.Flags.Slice()

	updated, err := m.UpdateFlags(ctx, mbox, uidSet(msg.UID), mailstore.FlagOpSet, flags)
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if len(updated) != 0 {
		t.Fatalf("expected no-op replace to report no changes, got %+v", updated)
	}
}

// testExpungeAdvancesCounters asserts that a non-empty expunge bumps the
// UID counter even though no new message claims the skipped value, so the
// next append's UID reflects the gap.
func testExpungeAdvancesCounters[ID comparable](t *testing.T, newMapper Factory[ID]) {
	m, mbox := newMapper(t)
	ctx := context.Background()

	var last *mailstore.Message[ID]
	for i := 0; i < 3; i++ {
		last = appendMsg(t, ctx, m, mbox, "a")
	}
	if _, err := m.UpdateFlags(ctx, mbox, uidSet(last.UID), mailstore.FlagOpAdd, []mailstore.Flag{mailstore.FlagDeleted}); err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if _, err := m.ExpungeMarkedForDeletion(ctx, mbox, mailstore.AllSeqSet()); err != nil {
		t.Fatalf("ExpungeMarkedForDeletion: %v", err)
	}

	next := appendMsg(t, ctx, m, mbox, "b")
	if next.UID <= last.UID+1 {
		t.Fatalf("expected next UID to skip past the expunge gap, got %d after expunged UID %d", next.UID, last.UID)
	}
}
