package sqlstore

import (
	"bufio"
	"bytes"
	"context"

	"github.com/emersion/go-message/textproto"
	"gorm.io/gorm"

	"github.com/tidemail/store/internal/mailstore"
)

// backend is the mailstore.BackendOps[int64] + mailstore.SequenceSource[int64]
// implementation, one row per message in a single shared table, the way
// github.com/emersion/go-imap-sql lays a whole server's mailboxes across
// one messages table rather than one table per mailbox.
type backend struct {
	db *gorm.DB
}

func newBackend(db *gorm.DB) *backend {
	return &backend{db: db}
}

func (b *backend) CalculateLastUID(ctx context.Context, mbox int64) (uint32, error) {
	var max uint32
	row := dbFrom(ctx, b.db).Model(&messageRow{}).
		Where("mailbox_id = ?", mbox).Select("COALESCE(MAX(uid), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, mailstore.WrapStorage(err)
	}
	if max > 0 {
		return max, nil
	}
	var mb mailboxRow
	if err := dbFrom(ctx, b.db).First(&mb, mbox).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, mailstore.WrapStorage(err)
	}
	return mb.LastUID, nil
}

func (b *backend) CalculateHighestModSeq(ctx context.Context, mbox int64) (uint64, error) {
	var max uint64
	row := dbFrom(ctx, b.db).Model(&messageRow{}).
		Where("mailbox_id = ?", mbox).Select("COALESCE(MAX(mod_seq), 0)").Row()
	if err := row.Scan(&max); err != nil {
		return 0, mailstore.WrapStorage(err)
	}
	if max > 0 {
		return max, nil
	}
	var mb mailboxRow
	if err := dbFrom(ctx, b.db).First(&mb, mbox).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, mailstore.WrapStorage(err)
	}
	return mb.HighestModSeq, nil
}

func (b *backend) SaveSequences(ctx context.Context, mbox int64, lastUID uint32, highestModSeq uint64) error {
	err := dbFrom(ctx, b.db).Model(&mailboxRow{}).Where("id = ?", mbox).
		Updates(map[string]interface{}{"last_uid": lastUID, "highest_mod_seq": highestModSeq}).Error
	return mailstore.WrapStorage(err)
}

type rowIterator struct {
	rows []messageRow
	pos  int
}

func (it *rowIterator) Next() (*mailstore.Message[int64], bool, error) {
	if it.pos >= len(it.rows) {
		return nil, false, nil
	}
	r := it.rows[it.pos]
	it.pos++
	msg, err := toMessage(&r)
	return msg, true, err
}

func toMessage(r *messageRow) (*mailstore.Message[int64], error) {
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(r.Header)))
	if err != nil {
		return nil, mailstore.StorageErrorf("sqlstore: decode header: %v", err)
	}
	return &mailstore.Message[int64]{
		MailboxID:    r.MailboxID,
		UID:          r.UID,
		InternalDate: r.InternalDate,
		Size:         r.Size,
		Flags:        decodeFlags(r.Flags),
		ModSeq:       r.ModSeq,
		Header:       hdr,
		Body:         r.Body,
	}, nil
}

func toRow(msg *mailstore.Message[int64]) (*messageRow, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, msg.Header); err != nil {
		return nil, mailstore.StorageErrorf("sqlstore: encode header: %v", err)
	}
	return &messageRow{
		MailboxID:    msg.MailboxID,
		UID:          msg.UID,
		ModSeq:       msg.ModSeq,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Flags:        encodeFlags(msg.Flags),
		Header:       buf.Bytes(),
		Body:         append([]byte(nil), msg.Body...),
	}, nil
}

func (b *backend) FindMessages(ctx context.Context, mbox int64, opts mailstore.FindOptions) (mailstore.MessageIterator[int64], error) {
	var rows []messageRow
	q := dbFrom(ctx, b.db).Where("mailbox_id = ?", mbox).Order("uid ASC")
	if err := q.Find(&rows).Error; err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	out := rows[:0:0]
	for i, r := range rows {
		if opts.UIDs != nil && !opts.UIDs.Contains(r.UID) {
			continue
		}
		if opts.SeqNums != nil && !opts.SeqNums.Contains(uint32(i+1)) {
			continue
		}
		out = append(out, r)
	}
	return &rowIterator{rows: out}, nil
}

func (b *backend) FindByUID(ctx context.Context, mbox int64, uid uint32) (*mailstore.Message[int64], error) {
	var r messageRow
	err := dbFrom(ctx, b.db).Where("mailbox_id = ? AND uid = ?", mbox, uid).First(&r).Error
	if err == gorm.ErrRecordNotFound {
		return nil, mailstore.ErrMessageNotFound
	}
	if err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	return toMessage(&r)
}

func (b *backend) SaveMessage(ctx context.Context, msg *mailstore.Message[int64]) error {
	row, err := toRow(msg)
	if err != nil {
		return err
	}
	var existing messageRow
	err = dbFrom(ctx, b.db).Where("mailbox_id = ? AND uid = ?", msg.MailboxID, msg.UID).First(&existing).Error
	switch err {
	case nil:
		row.ID = existing.ID
		return mailstore.WrapStorage(dbFrom(ctx, b.db).Save(row).Error)
	case gorm.ErrRecordNotFound:
		return mailstore.WrapStorage(dbFrom(ctx, b.db).Create(row).Error)
	default:
		return mailstore.WrapStorage(err)
	}
}

func (b *backend) CopyMessage(_ context.Context, src *mailstore.Message[int64], destMbox int64) (*mailstore.Message[int64], error) {
	cp := *src
	cp.MailboxID = destMbox
	cp.Body = append([]byte(nil), src.Body...)
	cp.Flags = src.Flags.Clone()
	return &cp, nil
}

func (b *backend) DeleteMessage(ctx context.Context, mbox int64, uid uint32) error {
	res := dbFrom(ctx, b.db).Where("mailbox_id = ? AND uid = ?", mbox, uid).Delete(&messageRow{})
	if res.Error != nil {
		return mailstore.WrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return mailstore.ErrMessageNotFound
	}
	return nil
}
