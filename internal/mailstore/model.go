// Package mailstore implements the per-mailbox UID/MODSEQ sequence
// registry, the transactional and message/mailbox mapper contracts, the
// IMAP SEARCH evaluator, and the mailbox event dispatcher that every
// backend adapter in internal/storage/* is built against.
package mailstore

import (
	"time"

	imap "github.com/emersion/go-imap"
	"github.com/emersion/go-message/textproto"
)

// SeqSet is the UID/sequence-number range type FindOptions and the Uid
// search criterion use, reused directly from go-imap rather than
// reimplemented, since its Contains/AddRange semantics already match
// RFC 3501.
type SeqSet = imap.SeqSet

// AllSeqSet returns a SeqSet matching every UID (the IMAP "1:*" range),
// the default range UpdateFlags/ExpungeMarkedForDeletion take when a
// caller means every message in the mailbox rather than a subset.
func AllSeqSet() SeqSet {
	var s SeqSet
	s.AddRange(1, 0)
	return s
}

// Flag is a message flag, either a system flag (backslash-prefixed, per
// RFC 3501) or a user-defined keyword.
type Flag string

const (
	FlagSeen     Flag = `\Seen`
	FlagAnswered Flag = `\Answered`
	FlagFlagged  Flag = `\Flagged`
	FlagDeleted  Flag = `\Deleted`
	FlagDraft    Flag = `\Draft`
	FlagRecent   Flag = `\Recent`
)

// FlagSet is an unordered set of flags attached to a message.
type FlagSet map[Flag]struct{}

// NewFlagSet builds a FlagSet from a list of flags.
func NewFlagSet(flags ...Flag) FlagSet {
	s := make(FlagSet, len(flags))
	for _, f := range flags {
		s[f] = struct{}{}
	}
	return s
}

func (s FlagSet) Has(f Flag) bool {
	_, ok := s[f]
	return ok
}

func (s FlagSet) Add(f Flag) {
	s[f] = struct{}{}
}

func (s FlagSet) Remove(f Flag) {
	delete(s, f)
}

// Clone returns an independent copy so mutating it never aliases the
// message it was copied from.
func (s FlagSet) Clone() FlagSet {
	c := make(FlagSet, len(s))
	for f := range s {
		c[f] = struct{}{}
	}
	return c
}

// Slice returns the set's members in no particular order.
func (s FlagSet) Slice() []Flag {
	out := make([]Flag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	return out
}

// Mailbox is one node of a user's mailbox tree. ID is the backend's native
// identifier type: sqlstore uses int64, documentstore uses uuid.UUID,
// memory and maildirstore use int IDs from a counter owned by each
// Storage instance's mailbox mapper.
type Mailbox[ID comparable] struct {
	ID            ID
	Namespace     string
	Owner         string
	Path          string
	Delimiter     rune
	UIDValidity   uint32
	LastUID       uint32
	HighestModSeq uint64
	ACL           interface{}
}

// Message is one stored message, always addressed within its owning
// mailbox by UID, never by absolute position.
type Message[ID comparable] struct {
	MailboxID    ID
	UID          uint32
	InternalDate time.Time
	Size         uint32
	Flags        FlagSet
	ModSeq       uint64
	Header       textproto.Header
	Body         []byte
}

// QuotaInfo reports a user's storage usage against their quota ceiling.
type QuotaInfo struct {
	Used      int64
	Max       int64
	IsDefault bool
}
