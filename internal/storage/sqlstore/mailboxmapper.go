package sqlstore

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/tidemail/store/internal/mailstore"
)

// mailboxMapper implements mailstore.MailboxMapper[int64] over the
// mailstore_mailboxes table, one row per mailbox shared across every
// account this Storage instance serves.
type mailboxMapper struct {
	db *gorm.DB
}

func newMailboxMapper(db *gorm.DB) *mailboxMapper {
	return &mailboxMapper{db: db}
}

func toMailbox(r *mailboxRow) *mailstore.Mailbox[int64] {
	return &mailstore.Mailbox[int64]{
		ID:            r.ID,
		Owner:         r.Owner,
		Path:          r.Path,
		Delimiter:     rune(r.Delimiter),
		UIDValidity:   r.UIDValidity,
		LastUID:       r.LastUID,
		HighestModSeq: r.HighestModSeq,
	}
}

// Create allocates and stores a brand-new mailbox for owner at path, or
// returns mailstore.ErrMailboxExists on a path collision.
func (m *mailboxMapper) Create(ctx context.Context, owner, path string) (*mailstore.Mailbox[int64], error) {
	var existing mailboxRow
	err := dbFrom(ctx, m.db).Where("owner = ? AND path = ?", owner, path).First(&existing).Error
	if err == nil {
		return nil, mailstore.ErrMailboxExists
	}
	if err != gorm.ErrRecordNotFound {
		return nil, mailstore.WrapStorage(err)
	}

	row := mailboxRow{Owner: owner, Path: path, Delimiter: '/'}
	if err := dbFrom(ctx, m.db).Create(&row).Error; err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	row.UIDValidity = uint32(row.ID)
	if err := dbFrom(ctx, m.db).Model(&row).Update("uid_validity", row.UIDValidity).Error; err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	return toMailbox(&row), nil
}

func (m *mailboxMapper) FindByPath(ctx context.Context, _, owner, path string) (*mailstore.Mailbox[int64], error) {
	var row mailboxRow
	err := dbFrom(ctx, m.db).Where("owner = ? AND path = ?", owner, path).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, mailstore.ErrMailboxNotFound
	}
	if err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	return toMailbox(&row), nil
}

// FindWithPathLike matches pattern (IMAP LIST wildcards: '*' and '%')
// against every mailbox owner has. The glob isn't expressible as a single
// SQL LIKE once '%' must stop at the hierarchy delimiter, so matching is
// done in Go against the owner's full row set.
func (m *mailboxMapper) FindWithPathLike(ctx context.Context, _, owner, pattern string) ([]*mailstore.Mailbox[int64], error) {
	var rows []mailboxRow
	err := dbFrom(ctx, m.db).Where("owner = ?", owner).Find(&rows).Error
	if err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	var out []*mailstore.Mailbox[int64]
	for i := range rows {
		mbox := toMailbox(&rows[i])
		if mailstore.MatchMailboxPattern(pattern, mbox.Path, mbox.Delimiter) {
			out = append(out, mbox)
		}
	}
	return out, nil
}

func (m *mailboxMapper) HasChildren(ctx context.Context, mbox *mailstore.Mailbox[int64]) (bool, error) {
	var count int64
	err := dbFrom(ctx, m.db).Model(&mailboxRow{}).
		Where("owner = ? AND path LIKE ?", mbox.Owner, mbox.Path+"/%").Count(&count).Error
	if err != nil {
		return false, mailstore.WrapStorage(err)
	}
	return count > 0, nil
}

// Save persists mbox's current field values (a rename updates Path, a
// counter advance updates LastUID/HighestModSeq).
func (m *mailboxMapper) Save(ctx context.Context, mbox *mailstore.Mailbox[int64]) error {
	var existing mailboxRow
	err := dbFrom(ctx, m.db).Where("owner = ? AND path = ? AND id <> ?", mbox.Owner, mbox.Path, mbox.ID).First(&existing).Error
	if err == nil {
		return mailstore.ErrMailboxExists
	}
	if err != gorm.ErrRecordNotFound {
		return mailstore.WrapStorage(err)
	}
	row := mailboxRow{
		ID: mbox.ID, Owner: mbox.Owner, Path: mbox.Path, Delimiter: int32(mbox.Delimiter),
		UIDValidity: mbox.UIDValidity, LastUID: mbox.LastUID, HighestModSeq: mbox.HighestModSeq,
	}
	return mailstore.WrapStorage(dbFrom(ctx, m.db).Save(&row).Error)
}

// Delete removes mbox. Children are left in place under their existing
// paths — this backend never cascade-deletes a subtree.
func (m *mailboxMapper) Delete(ctx context.Context, mbox *mailstore.Mailbox[int64]) error {
	return mailstore.WrapStorage(dbFrom(ctx, m.db).Delete(&mailboxRow{}, mbox.ID).Error)
}

func (m *mailboxMapper) List(ctx context.Context, _, owner string) ([]*mailstore.Mailbox[int64], error) {
	var rows []mailboxRow
	if err := dbFrom(ctx, m.db).Where("owner = ?", owner).Find(&rows).Error; err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	out := make([]*mailstore.Mailbox[int64], len(rows))
	for i := range rows {
		out[i] = toMailbox(&rows[i])
	}
	return out, nil
}

// Rename moves a mailbox (and, transitively, every path under it) from
// oldPath to newPath for owner.
func (m *mailboxMapper) Rename(ctx context.Context, owner, oldPath, newPath string) error {
	var existing mailboxRow
	err := dbFrom(ctx, m.db).Where("owner = ? AND path = ?", owner, newPath).First(&existing).Error
	if err == nil {
		return mailstore.ErrMailboxExists
	}
	if err != gorm.ErrRecordNotFound {
		return mailstore.WrapStorage(err)
	}

	return dbFrom(ctx, m.db).Transaction(func(tx *gorm.DB) error {
		var row mailboxRow
		if err := tx.Where("owner = ? AND path = ?", owner, oldPath).First(&row).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return mailstore.ErrMailboxNotFound
			}
			return mailstore.WrapStorage(err)
		}
		if err := tx.Model(&row).Update("path", newPath).Error; err != nil {
			return mailstore.WrapStorage(err)
		}

		var children []mailboxRow
		if err := tx.Where("owner = ? AND path LIKE ?", owner, oldPath+"/%").Find(&children).Error; err != nil {
			return mailstore.WrapStorage(err)
		}
		for _, c := range children {
			suffix := strings.TrimPrefix(c.Path, oldPath+"/")
			if err := tx.Model(&c).Update("path", newPath+"/"+suffix).Error; err != nil {
				return mailstore.WrapStorage(err)
			}
		}
		return nil
	})
}
