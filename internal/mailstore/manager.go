package mailstore

import (
	"context"
	"time"

	"github.com/emersion/go-message/textproto"
)

// MailboxSessionMapperFactory is the entry point a backend package
// exposes: given an open session it hands back the MailboxMapper,
// MessageMapper and TransactionalMapper bound to that session's backend
// connection. This is the seam MockMailboxManager substitutes to drive
// the same session-facing API against an in-memory fixture.
type MailboxSessionMapperFactory[ID comparable] interface {
	NewSession(ctx context.Context, user string) (*Session, error)
	MailboxMapper(sess *Session) MailboxMapper[ID]
	MessageMapper(sess *Session) MessageMapper[ID]
	Transactor() TransactionalMapper
}

// MailboxManager is the public mailbox-tree surface a caller (an IMAP
// command handler, a delivery agent) drives. It never exposes a backend's
// native ID type — paths in, paths out — so callers are never coupled to
// which backend they're talking to.
type MailboxManager[ID comparable] interface {
	Authenticate(ctx context.Context, username, secret string) (*Session, error)
	OpenSession(ctx context.Context, username string) (*Session, error)

	CreateMailbox(ctx context.Context, sess *Session, path string) error
	DeleteMailbox(ctx context.Context, sess *Session, path string) error
	RenameMailbox(ctx context.Context, sess *Session, oldPath, newPath string) error
	ListMailboxes(ctx context.Context, sess *Session, pattern string) ([]*Mailbox[ID], error)

	Subscribe(ctx context.Context, sess *Session, path string) error
	Unsubscribe(ctx context.Context, sess *Session, path string) error
	ListSubscribed(ctx context.Context, sess *Session) ([]string, error)

	GetQuota(ctx context.Context, sess *Session) (QuotaInfo, error)
	SetQuota(ctx context.Context, sess *Session, max int64) error
}

// MessageManager is the public message-access surface layered on top of
// MailboxManager, again addressed by path rather than backend ID.
type MessageManager[ID comparable] interface {
	Append(ctx context.Context, sess *Session, path string, flags []Flag, date time.Time, header textproto.Header, body []byte) (*Message[ID], error)
	Fetch(ctx context.Context, sess *Session, path string, opts FindOptions) (MessageIterator[ID], error)
	Store(ctx context.Context, sess *Session, path string, seqs SeqSet, op FlagOp, flags []Flag) ([]*Message[ID], error)
	CopyTo(ctx context.Context, sess *Session, srcPath, destPath string, uid uint32) (*Message[ID], error)
	MoveTo(ctx context.Context, sess *Session, srcPath, destPath string, uid uint32) (*Message[ID], error)
	Expunge(ctx context.Context, sess *Session, path string, seqs SeqSet) (map[uint32]*Message[ID], error)
	Search(ctx context.Context, sess *Session, path string, query Criterion) ([]uint32, error)
}

// SubscriptionStore backs createSubscriptionMapper: a flat per-user
// key/value store of subscribed paths, adapted from the same contract a
// table.Memory/table.SQL module already implements for unrelated lookup
// tables elsewhere in this tree.
type SubscriptionStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Keys() ([]string, error)
	SetKey(k, v string) error
	RemoveKey(k string) error
}
