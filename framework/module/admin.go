package module

import (
	"context"

	"github.com/tidemail/store/framework/config"
	"github.com/tidemail/store/internal/mailstore"
)

// AdminStorage is the account/mailbox/quota management surface a command
// line front end drives, trimmed down from the teacher's ManageableStorage
// to the operations a storage engine (as opposed to a full mail server)
// owns: no IMAP-extension negotiation, no blocklist, no purge-everything.
// Every backend under internal/storage addresses mailboxes by path, never
// by its own native ID type, so one non-generic interface covers all of
// them regardless of which ID type they instantiate mailstore with.
type AdminStorage interface {
	Module

	Init(cfg *config.Map) error

	Authenticate(ctx context.Context, username, secret string) (*mailstore.Session, error)
	OpenSession(ctx context.Context, username string) (*mailstore.Session, error)

	CreateMailbox(ctx context.Context, sess *mailstore.Session, path string) error
	DeleteMailbox(ctx context.Context, sess *mailstore.Session, path string) error
	RenameMailbox(ctx context.Context, sess *mailstore.Session, oldPath, newPath string) error
	ListMailboxPaths(ctx context.Context, sess *mailstore.Session, pattern string) ([]string, error)

	Subscribe(ctx context.Context, sess *mailstore.Session, path string) error
	Unsubscribe(ctx context.Context, sess *mailstore.Session, path string) error
	ListSubscribed(ctx context.Context, sess *mailstore.Session) ([]string, error)

	GetQuota(ctx context.Context, sess *mailstore.Session) (mailstore.QuotaInfo, error)
	SetQuota(ctx context.Context, sess *mailstore.Session, max int64) error

	CreateAccount(username string) error
	ListAccounts() ([]string, error)
	DeleteAccount(username string) error
}
