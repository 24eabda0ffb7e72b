package mailstore

import (
	"context"
	"time"
)

// FlagOp selects how UpdateFlags applies its flag list.
type FlagOp int

const (
	FlagOpSet FlagOp = iota
	FlagOpAdd
	FlagOpRemove
)

// FindOptions restricts FindInMailbox/FindMessages to a UID or sequence
// range and hints at the backend's per-round-trip page size.
type FindOptions struct {
	UIDs      *SeqSet
	SeqNums   *SeqSet
	BatchHint int
}

// MessageIterator walks a backend's matching messages one at a time so
// large mailboxes never need to be materialized in full. ForEachBatch
// adapts it for callers that want the older batch-callback shape.
type MessageIterator[ID comparable] interface {
	Next() (*Message[ID], bool, error)
}

// ForEachBatch drains it in chunks of at most size, invoking fn once per
// chunk. size defaults to 256 if non-positive.
func ForEachBatch[ID comparable](it MessageIterator[ID], size int, fn func([]*Message[ID]) error) error {
	if size <= 0 {
		size = 256
	}
	buf := make([]*Message[ID], 0, size)
	for {
		msg, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		buf = append(buf, msg)
		if len(buf) == size {
			if err := fn(buf); err != nil {
				return err
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		return fn(buf)
	}
	return nil
}

// MessageMapper is the per-mailbox message access contract every backend
// adapter exposes to a session.
type MessageMapper[ID comparable] interface {
	CountMessages(ctx context.Context, mbox ID) (int, error)
	CountUnseen(ctx context.Context, mbox ID) (int, error)
	FindInMailbox(ctx context.Context, mbox ID, opts FindOptions) (MessageIterator[ID], error)
	FindRecentUIDs(ctx context.Context, mbox ID) ([]uint32, error)
	FindFirstUnseenUID(ctx context.Context, mbox ID) (uint32, bool, error)
	Add(ctx context.Context, mbox ID, msg *Message[ID]) (*Message[ID], error)
	Copy(ctx context.Context, srcMbox, destMbox ID, srcUID uint32) (*Message[ID], error)
	Move(ctx context.Context, srcMbox, destMbox ID, srcUID uint32) (*Message[ID], error)
	UpdateFlags(ctx context.Context, mbox ID, seqs SeqSet, op FlagOp, flags []Flag) ([]*Message[ID], error)
	ExpungeMarkedForDeletion(ctx context.Context, mbox ID, seqs SeqSet) (map[uint32]*Message[ID], error)

	// Search evaluates query against every message in mbox. recent, when
	// non-nil, is the set of uids this caller's session has freshly
	// claimed as \Recent (see Session.ClaimRecent); a nil map falls back
	// to each message's own persisted \Recent bit, for callers with no
	// session to thread through (tests, fixtures).
	Search(ctx context.Context, mbox ID, query Criterion, recent map[uint32]bool) ([]uint32, error)
}

// BackendOps is the small set of primitives a backend must implement;
// BaseMessageMapper folds everything else (UID/MODSEQ allocation, Recent
// ownership, event emission, search iteration) on top of them, so each
// backend only ever implements find/save/copy/delete plus the
// SequenceSource probes.
type BackendOps[ID comparable] interface {
	SequenceSource[ID]

	FindMessages(ctx context.Context, mbox ID, opts FindOptions) (MessageIterator[ID], error)
	FindByUID(ctx context.Context, mbox ID, uid uint32) (*Message[ID], error)
	SaveMessage(ctx context.Context, msg *Message[ID]) error
	CopyMessage(ctx context.Context, src *Message[ID], destMbox ID) (*Message[ID], error)
	DeleteMessage(ctx context.Context, mbox ID, uid uint32) error

	// SaveSequences persists lastUID/highestModSeq on mbox's own record,
	// atomically with respect to the surrounding transaction. The mapper
	// calls this whenever append, copy, flag-change, or expunge advances
	// a counter, so a counter advance that outruns every message row it
	// seeded from (an expunge's skip-ahead UID/MODSEQ bump) survives a
	// restart.
	SaveSequences(ctx context.Context, mbox ID, lastUID uint32, highestModSeq uint64) error
}

// BaseMessageMapper implements MessageMapper entirely in terms of a
// BackendOps, a SequenceRegistry, and a Dispatcher, the same "duplicated
// backend logic folded into a shared base" shape every backend in this
// tree otherwise re-derives independently.
type BaseMessageMapper[ID comparable] struct {
	Backend      BackendOps[ID]
	Registry     *SequenceRegistry[ID]
	Dispatcher   *Dispatcher
	PathOf       func(ID) string
	ToSearchable func(*Message[ID]) *Searchable
	Clock        func() time.Time
}

func (m *BaseMessageMapper[ID]) now() time.Time {
	if m.Clock != nil {
		return m.Clock()
	}
	return time.Now()
}

// saveSeq persists the registry's current view of mbox's counters onto
// the backend.
func (m *BaseMessageMapper[ID]) saveSeq(ctx context.Context, mbox ID) error {
	uid, err := m.Registry.CurrentUID(ctx, mbox)
	if err != nil {
		return err
	}
	modseq, err := m.Registry.CurrentModSeq(ctx, mbox)
	if err != nil {
		return err
	}
	return m.Backend.SaveSequences(ctx, mbox, uid, modseq)
}

func (m *BaseMessageMapper[ID]) dispatch(mbox ID, ev Event) {
	if m.Dispatcher == nil || m.PathOf == nil {
		return
	}
	ev.Path = m.PathOf(mbox)
	m.Dispatcher.Dispatch(ev.Path, ev)
}

func (m *BaseMessageMapper[ID]) CountMessages(ctx context.Context, mbox ID) (int, error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		n += len(batch)
		return nil
	})
	return n, err
}

func (m *BaseMessageMapper[ID]) CountUnseen(ctx context.Context, mbox ID) (int, error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		for _, msg := range batch {
			if !msg.Flags.Has(FlagSeen) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (m *BaseMessageMapper[ID]) FindInMailbox(ctx context.Context, mbox ID, opts FindOptions) (MessageIterator[ID], error) {
	return m.Backend.FindMessages(ctx, mbox, opts)
}

func (m *BaseMessageMapper[ID]) FindRecentUIDs(ctx context.Context, mbox ID) ([]uint32, error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{})
	if err != nil {
		return nil, err
	}
	var uids []uint32
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		for _, msg := range batch {
			if msg.Flags.Has(FlagRecent) {
				uids = append(uids, msg.UID)
			}
		}
		return nil
	})
	return uids, err
}

func (m *BaseMessageMapper[ID]) FindFirstUnseenUID(ctx context.Context, mbox ID) (uint32, bool, error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{})
	if err != nil {
		return 0, false, err
	}
	for {
		msg, ok, err := it.Next()
		if err != nil {
			return 0, false, err
		}
		if !ok {
			return 0, false, nil
		}
		if !msg.Flags.Has(FlagSeen) {
			return msg.UID, true, nil
		}
	}
}

func (m *BaseMessageMapper[ID]) Add(ctx context.Context, mbox ID, msg *Message[ID]) (*Message[ID], error) {
	uid, err := m.Registry.NextUID(ctx, mbox)
	if err != nil {
		return nil, err
	}
	modseq, err := m.Registry.NextModSeq(ctx, mbox)
	if err != nil {
		return nil, err
	}

	msg.MailboxID = mbox
	msg.UID = uid
	msg.ModSeq = modseq
	if msg.Flags == nil {
		msg.Flags = NewFlagSet()
	}
	msg.Flags.Add(FlagRecent)
	if msg.InternalDate.IsZero() {
		msg.InternalDate = m.now()
	}

	if err := m.Backend.SaveMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := m.saveSeq(ctx, mbox); err != nil {
		return nil, err
	}
	m.dispatch(mbox, Event{Kind: EventMessageAdded, UID: msg.UID, ModSeq: msg.ModSeq})
	return msg, nil
}

func (m *BaseMessageMapper[ID]) Copy(ctx context.Context, srcMbox, destMbox ID, srcUID uint32) (*Message[ID], error) {
	srcMsg, err := m.Backend.FindByUID(ctx, srcMbox, srcUID)
	if err != nil {
		return nil, err
	}

	uid, err := m.Registry.NextUID(ctx, destMbox)
	if err != nil {
		return nil, err
	}
	modseq, err := m.Registry.NextModSeq(ctx, destMbox)
	if err != nil {
		return nil, err
	}

	copied, err := m.Backend.CopyMessage(ctx, srcMsg, destMbox)
	if err != nil {
		return nil, err
	}
	copied.UID = uid
	copied.ModSeq = modseq
	// A copy is a new arrival from the destination mailbox's point of
	// view, so it carries \Recent there regardless of the source flag.
	copied.Flags = srcMsg.Flags.Clone()
	copied.Flags.Add(FlagRecent)

	if err := m.Backend.SaveMessage(ctx, copied); err != nil {
		return nil, err
	}
	if err := m.saveSeq(ctx, destMbox); err != nil {
		return nil, err
	}
	m.dispatch(destMbox, Event{Kind: EventMessageAdded, UID: copied.UID, ModSeq: copied.ModSeq})
	return copied, nil
}

func (m *BaseMessageMapper[ID]) Move(ctx context.Context, srcMbox, destMbox ID, srcUID uint32) (*Message[ID], error) {
	copied, err := m.Copy(ctx, srcMbox, destMbox, srcUID)
	if err != nil {
		return nil, err
	}
	if err := m.Backend.DeleteMessage(ctx, srcMbox, srcUID); err != nil {
		return nil, err
	}
	m.dispatch(srcMbox, Event{Kind: EventMessageExpunged, UID: srcUID})
	return copied, nil
}

// UpdateFlags applies op/flags to every message in mbox whose UID is in
// seqs. All messages whose flag-set actually changes share a single newly
// allocated MODSEQ; messages whose pre-image already equals the requested
// flag-set are left untouched, and if nothing in the batch changes no
// MODSEQ is allocated and no event fires.
func (m *BaseMessageMapper[ID]) UpdateFlags(ctx context.Context, mbox ID, seqs SeqSet, op FlagOp, flags []Flag) ([]*Message[ID], error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{UIDs: &seqs})
	if err != nil {
		return nil, err
	}

	var candidates []*Message[ID]
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		for _, msg := range batch {
			if !seqs.Contains(msg.UID) {
				continue
			}
			before := msg.Flags.Clone()
			switch op {
			case FlagOpSet:
				msg.Flags = NewFlagSet(flags...)
			case FlagOpAdd:
				for _, f := range flags {
					msg.Flags.Add(f)
				}
			case FlagOpRemove:
				for _, f := range flags {
					msg.Flags.Remove(f)
				}
			default:
				return ErrNotSupported
			}
			if !flagSetEqual(before, msg.Flags) {
				candidates = append(candidates, msg)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	modseq, err := m.Registry.NextModSeq(ctx, mbox)
	if err != nil {
		return nil, err
	}

	updated := make([]*Message[ID], 0, len(candidates))
	for _, msg := range candidates {
		msg.ModSeq = modseq
		if err := m.Backend.SaveMessage(ctx, msg); err != nil {
			return nil, err
		}
		updated = append(updated, msg)
	}
	if err := m.saveSeq(ctx, mbox); err != nil {
		return nil, err
	}
	for _, msg := range updated {
		m.dispatch(mbox, Event{Kind: EventFlagsUpdated, UID: msg.UID, ModSeq: msg.ModSeq, Flags: msg.Flags})
	}
	return updated, nil
}

func flagSetEqual(a, b FlagSet) bool {
	if len(a) != len(b) {
		return false
	}
	for f := range a {
		if !b.Has(f) {
			return false
		}
	}
	return true
}

// ExpungeMarkedForDeletion removes every \Deleted message in mbox whose
// UID is in seqs. A non-empty result advances both the UID and MODSEQ
// counters once, preserving uniqueness of expunge-responses across
// reappends; an empty match set advances neither.
func (m *BaseMessageMapper[ID]) ExpungeMarkedForDeletion(ctx context.Context, mbox ID, seqs SeqSet) (map[uint32]*Message[ID], error) {
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{UIDs: &seqs})
	if err != nil {
		return nil, err
	}

	expunged := make(map[uint32]*Message[ID])
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		for _, msg := range batch {
			if !seqs.Contains(msg.UID) || !msg.Flags.Has(FlagDeleted) {
				continue
			}
			expunged[msg.UID] = msg
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(expunged) == 0 {
		return expunged, nil
	}

	for uid := range expunged {
		if err := m.Backend.DeleteMessage(ctx, mbox, uid); err != nil {
			return nil, err
		}
	}

	if _, err := m.Registry.NextUID(ctx, mbox); err != nil {
		return nil, err
	}
	if _, err := m.Registry.NextModSeq(ctx, mbox); err != nil {
		return nil, err
	}
	if err := m.saveSeq(ctx, mbox); err != nil {
		return nil, err
	}

	for uid := range expunged {
		m.dispatch(mbox, Event{Kind: EventMessageExpunged, UID: uid})
	}
	return expunged, nil
}

func (m *BaseMessageMapper[ID]) Search(ctx context.Context, mbox ID, query Criterion, recent map[uint32]bool) ([]uint32, error) {
	if m.ToSearchable == nil {
		return nil, ErrNotSupported
	}
	it, err := m.Backend.FindMessages(ctx, mbox, FindOptions{})
	if err != nil {
		return nil, err
	}

	var matches []uint32
	err = ForEachBatch(it, 256, func(batch []*Message[ID]) error {
		for _, msg := range batch {
			sr := m.ToSearchable(msg)
			if recent != nil {
				sr.Recent = recent[msg.UID]
			}
			ok, err := query.Evaluate(sr)
			if err != nil {
				return err
			}
			if ok {
				matches = append(matches, msg.UID)
			}
		}
		return nil
	})
	return matches, err
}
