package sqlstore

import "time"

// mailboxRow is the gorm-mapped row backing mailstore.Mailbox[int64].
// UID and MODSEQ counters live on the row itself rather than in a
// separate table, the same "metadata next to the tree" shape the other
// backends in this tree keep in their own mailboxMapper.
type mailboxRow struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Owner         string `gorm:"index:idx_owner_path,unique"`
	Path          string `gorm:"index:idx_owner_path,unique"`
	Delimiter     int32
	UIDValidity   uint32
	LastUID       uint32
	HighestModSeq uint64
}

func (mailboxRow) TableName() string { return "mailstore_mailboxes" }

// messageRow is the gorm-mapped row backing mailstore.Message[int64].
// Header and body are stored as raw bytes rather than normalized into
// separate tables, matching the "one row per message" grain a relational
// IMAP backend keeps (github.com/emersion/go-imap-sql does the same).
type messageRow struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	MailboxID    int64  `gorm:"index:idx_mbox_uid,unique"`
	UID          uint32 `gorm:"index:idx_mbox_uid,unique"`
	ModSeq       uint64
	InternalDate time.Time
	Size         uint32
	Flags        string // space-separated flag list
	Header       []byte
	Body         []byte
}

func (messageRow) TableName() string { return "mailstore_messages" }

// accountRow tracks one user's quota ceiling and usage, adapted from the
// quotas table a madmail deployment already keeps per mailbox owner.
type accountRow struct {
	Username     string `gorm:"primaryKey"`
	QuotaMax     int64
	QuotaDefault bool
	CreatedAt    int64
}

func (accountRow) TableName() string { return "mailstore_accounts" }

// subscriptionRow is a generic key-value entry, adapted directly from
// the sql_table module's TableEntry row so subscriptions reuse the same
// flat lookup-table shape rather than inventing a bespoke schema.
type subscriptionRow struct {
	Key   string `gorm:"primaryKey"`
	Value string `gorm:"not null"`
}

func (subscriptionRow) TableName() string { return "mailstore_subscriptions" }
