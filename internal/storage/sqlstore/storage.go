package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-message/textproto"
	"gorm.io/gorm"

	"github.com/tidemail/store/framework/config"
	"github.com/tidemail/store/framework/log"
	"github.com/tidemail/store/framework/module"
	"github.com/tidemail/store/internal/mailstore"
)

// Storage implements mailstore.MailboxManager[int64]/MessageManager[int64]
// on top of a GORM connection, one mailstore_mailboxes/mailstore_messages
// row per mailbox and message respectively, shared across whichever SQL
// dialect cfg.Driver names.
type Storage struct {
	modName  string
	instName string
	log      log.Logger

	cfg Config
	db  *gorm.DB

	backend   *backend
	mailboxes *mailboxMapper
	registry  *mailstore.SequenceRegistry[int64]
	dispatch  *mailstore.Dispatcher
	base      mailstore.BaseMessageMapper[int64]
	subs      *mailstore.SubscriptionManager

	defaultQuota int64
	autoCreate   bool
}

// New creates a new SQL-backed storage instance, registered under
// "storage.sql". The connection itself is opened lazily in Init, once
// the driver/DSN configuration is known.
func New(modName, instName string, _, _ []string) (module.Module, error) {
	s := &Storage{
		modName:      modName,
		instName:     instName,
		defaultQuota: 1024 * 1024 * 1024,
		cfg:          Config{Driver: "sqlite", DSN: []string{"file::memory:?cache=shared"}, InMemory: true},
	}
	return s, nil
}

func (s *Storage) Init(cfg *config.Map) error {
	s.log = log.Logger{Name: s.modName}

	cfg.String("driver", false, false, s.cfg.Driver, &s.cfg.Driver)
	cfg.StringList("dsn", false, false, s.cfg.DSN, &s.cfg.DSN)
	cfg.Bool("debug", false, false, &s.cfg.Debug)
	cfg.Bool("in_memory", false, false, &s.cfg.InMemory)
	cfg.Duration("sync_interval", false, false, 0, &s.cfg.SyncInterval)
	cfg.Int64("default_quota", false, false, 1024*1024*1024, &s.defaultQuota)
	cfg.Bool("auto_create", false, false, &s.autoCreate)

	if _, err := cfg.Process(); err != nil {
		return err
	}

	db, err := openDB(s.cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(&mailboxRow{}, &messageRow{}, &accountRow{}, &subscriptionRow{}); err != nil {
		return fmt.Errorf("sqlstore: migrate schema: %w", err)
	}

	s.db = db
	s.backend = newBackend(db)
	s.mailboxes = newMailboxMapper(db)
	s.dispatch = mailstore.NewDispatcher()
	s.subs = &mailstore.SubscriptionManager{Store: newSubscriptionStore(db)}
	s.registry = mailstore.NewSequenceRegistry[int64](s.backend)
	s.base = mailstore.BaseMessageMapper[int64]{
		Backend:    s.backend,
		Registry:   s.registry,
		Dispatcher: s.dispatch,
		PathOf: func(id int64) string {
			var row mailboxRow
			if err := s.db.First(&row, id).Error; err != nil {
				return ""
			}
			return row.Path
		},
		ToSearchable: toSearchable,
	}
	return nil
}

func toSearchable(msg *mailstore.Message[int64]) *mailstore.Searchable {
	return &mailstore.Searchable{
		UID: msg.UID, ModSeq: msg.ModSeq, Flags: msg.Flags,
		Size: msg.Size, InternalDate: msg.InternalDate, Header: msg.Header,
		Recent:   msg.Flags.Has(mailstore.FlagRecent),
		BodyText: func() (string, error) { return string(msg.Body), nil },
	}
}

func (s *Storage) Name() string         { return s.modName }
func (s *Storage) InstanceName() string { return s.instName }

func (s *Storage) Transactor() mailstore.TransactionalMapper {
	return &gormTransactor{db: s.db}
}

// MessageMapper exposes the ID-addressed MessageMapper directly, for
// callers (and conformance tests) that already hold a Mailbox and don't
// need path resolution on every call.
func (s *Storage) MessageMapper() mailstore.MessageMapper[int64] { return &s.base }

// GetGORMDB implements module.GORMProvider, letting a second module
// configured against the same DSN share this connection instead of
// opening its own.
func (s *Storage) GetGORMDB() *gorm.DB { return s.db }

func (s *Storage) account(ctx context.Context, username string, create bool) (*accountRow, error) {
	return s.accountWithOverride(ctx, username, create, false)
}

func (s *Storage) accountWithOverride(ctx context.Context, username string, create, force bool) (*accountRow, error) {
	var acc accountRow
	err := s.db.WithContext(ctx).First(&acc, "username = ?", username).Error
	if err == nil {
		return &acc, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, mailstore.WrapStorage(err)
	}
	if !create || (!s.autoCreate && !force) {
		return nil, mailstore.ErrBadCredentials
	}

	acc = accountRow{Username: username, QuotaMax: s.defaultQuota, QuotaDefault: true, CreatedAt: time.Now().Unix()}
	if err := s.db.WithContext(ctx).Create(&acc).Error; err != nil {
		return nil, mailstore.WrapStorage(err)
	}
	return &acc, nil
}

// Authenticate implements mailstore.MailboxManager. Credential validation
// itself is an external collaborator's job; by the time a caller reaches
// this storage layer the username is already trusted.
func (s *Storage) Authenticate(ctx context.Context, username, _ string) (*mailstore.Session, error) {
	return s.OpenSession(ctx, username)
}

func (s *Storage) OpenSession(ctx context.Context, username string) (*mailstore.Session, error) {
	if _, err := s.account(ctx, username, true); err != nil {
		return nil, err
	}
	return mailstore.NewSession(username, log.Logger{Name: s.modName + "." + username}), nil
}

func (s *Storage) CreateMailbox(ctx context.Context, sess *mailstore.Session, path string) error {
	_, err := s.mailboxes.Create(ctx, sess.User, path)
	return err
}

func (s *Storage) DeleteMailbox(ctx context.Context, sess *mailstore.Session, path string) error {
	mbox, err := s.mailboxes.FindByPath(ctx, "", sess.User, path)
	if err != nil {
		return err
	}
	if err := s.mailboxes.Delete(ctx, mbox); err != nil {
		return err
	}
	s.registry.Forget(mbox.ID)
	s.dispatch.Drop(path)
	return nil
}

func (s *Storage) RenameMailbox(ctx context.Context, sess *mailstore.Session, oldPath, newPath string) error {
	if err := s.mailboxes.Rename(ctx, sess.User, oldPath, newPath); err != nil {
		return err
	}
	s.dispatch.Rename(oldPath, newPath)
	return nil
}

func (s *Storage) ListMailboxes(ctx context.Context, sess *mailstore.Session, _ string) ([]*mailstore.Mailbox[int64], error) {
	return s.mailboxes.List(ctx, "", sess.User)
}

// ListMailboxPaths is the module.AdminStorage-facing view of ListMailboxes:
// paths only, filtered by an IMAP LIST-style pattern, so a command line
// front end never needs to know this backend's native mailbox id type.
func (s *Storage) ListMailboxPaths(ctx context.Context, sess *mailstore.Session, pattern string) ([]string, error) {
	mboxes, err := s.ListMailboxes(ctx, sess, pattern)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(mboxes))
	for _, m := range mboxes {
		if pattern != "" && !mailstore.MatchMailboxPattern(pattern, m.Path, m.Delimiter) {
			continue
		}
		paths = append(paths, m.Path)
	}
	return paths, nil
}

func (s *Storage) Subscribe(ctx context.Context, sess *mailstore.Session, path string) error {
	return s.subs.Subscribe(ctx, sess.User, path)
}

func (s *Storage) Unsubscribe(ctx context.Context, sess *mailstore.Session, path string) error {
	return s.subs.Unsubscribe(ctx, sess.User, path)
}

func (s *Storage) ListSubscribed(ctx context.Context, sess *mailstore.Session) ([]string, error) {
	return s.subs.ListSubscribed(ctx, sess.User)
}

func (s *Storage) GetQuota(ctx context.Context, sess *mailstore.Session) (mailstore.QuotaInfo, error) {
	acc, err := s.account(ctx, sess.User, false)
	if err != nil {
		return mailstore.QuotaInfo{}, err
	}
	used, err := s.usedBytes(ctx, sess.User)
	if err != nil {
		return mailstore.QuotaInfo{}, err
	}
	return mailstore.QuotaInfo{Used: used, Max: acc.QuotaMax, IsDefault: acc.QuotaDefault}, nil
}

func (s *Storage) usedBytes(ctx context.Context, owner string) (int64, error) {
	var total int64
	row := s.db.WithContext(ctx).Table("mailstore_messages").
		Joins("JOIN mailstore_mailboxes ON mailstore_mailboxes.id = mailstore_messages.mailbox_id").
		Where("mailstore_mailboxes.owner = ?", owner).
		Select("COALESCE(SUM(mailstore_messages.size), 0)").Row()
	if err := row.Scan(&total); err != nil {
		return 0, mailstore.WrapStorage(err)
	}
	return total, nil
}

func (s *Storage) SetQuota(ctx context.Context, sess *mailstore.Session, max int64) error {
	res := s.db.WithContext(ctx).Model(&accountRow{}).Where("username = ?", sess.User).
		Updates(map[string]interface{}{"quota_max": max, "quota_default": false})
	if res.Error != nil {
		return mailstore.WrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return mailstore.ErrBadCredentials
	}
	return nil
}

// resolveMailbox looks up path for sess.User, auto-vivifying INBOX on
// first reference: a session that never called CreateMailbox(INBOX)
// explicitly can still append to it directly, matching IMAP's usual
// "selecting/appending to INBOX brings it into existence" behavior.
// Every other path must be created explicitly.
func (s *Storage) resolveMailbox(ctx context.Context, sess *mailstore.Session, path string) (*mailstore.Mailbox[int64], error) {
	mbox, err := s.mailboxes.FindByPath(ctx, "", sess.User, path)
	if err == mailstore.ErrMailboxNotFound && mailstore.IsInbox(path) {
		return s.mailboxes.Create(ctx, sess.User, path)
	}
	return mbox, err
}

// Append implements mailstore.MessageManager, the one place in this
// backend quota is actually enforced — everywhere else is pure mapper
// mechanics with no notion of "the owning account".
func (s *Storage) Append(ctx context.Context, sess *mailstore.Session, path string, flags []mailstore.Flag, date time.Time, header textproto.Header, body []byte) (*mailstore.Message[int64], error) {
	mbox, err := s.resolveMailbox(ctx, sess, path)
	if err != nil {
		return nil, err
	}

	acc, err := s.account(ctx, sess.User, false)
	if err != nil {
		return nil, err
	}
	if acc.QuotaMax > 0 {
		used, err := s.usedBytes(ctx, sess.User)
		if err != nil {
			return nil, err
		}
		if used+int64(len(body)) > acc.QuotaMax {
			return nil, mailstore.ErrQuotaExceeded
		}
	}

	msg := &mailstore.Message[int64]{
		Header:       header,
		Body:         body,
		Size:         uint32(len(body)),
		InternalDate: date,
		Flags:        mailstore.NewFlagSet(flags...),
	}
	saved, err := s.base.Add(ctx, mbox.ID, msg)
	if err != nil {
		return nil, err
	}
	module.IncrementAppended()
	return saved, nil
}

func (s *Storage) Fetch(ctx context.Context, sess *mailstore.Session, path string, opts mailstore.FindOptions) (mailstore.MessageIterator[int64], error) {
	mbox, err := s.resolveMailbox(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	return s.base.FindInMailbox(ctx, mbox.ID, opts)
}

func (s *Storage) Store(ctx context.Context, sess *mailstore.Session, path string, seqs mailstore.SeqSet, op mailstore.FlagOp, flags []mailstore.Flag) ([]*mailstore.Message[int64], error) {
	mbox, err := s.resolveMailbox(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	return s.base.UpdateFlags(ctx, mbox.ID, seqs, op, flags)
}

func (s *Storage) CopyTo(ctx context.Context, sess *mailstore.Session, srcPath, destPath string, uid uint32) (*mailstore.Message[int64], error) {
	src, err := s.resolveMailbox(ctx, sess, srcPath)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveMailbox(ctx, sess, destPath)
	if err != nil {
		return nil, err
	}
	return s.base.Copy(ctx, src.ID, dest.ID, uid)
}

func (s *Storage) MoveTo(ctx context.Context, sess *mailstore.Session, srcPath, destPath string, uid uint32) (*mailstore.Message[int64], error) {
	src, err := s.resolveMailbox(ctx, sess, srcPath)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveMailbox(ctx, sess, destPath)
	if err != nil {
		return nil, err
	}
	return s.base.Move(ctx, src.ID, dest.ID, uid)
}

func (s *Storage) Expunge(ctx context.Context, sess *mailstore.Session, path string, seqs mailstore.SeqSet) (map[uint32]*mailstore.Message[int64], error) {
	mbox, err := s.resolveMailbox(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	expunged, err := s.base.ExpungeMarkedForDeletion(ctx, mbox.ID, seqs)
	if err != nil {
		return nil, err
	}
	for range expunged {
		module.IncrementExpunged()
	}
	return expunged, nil
}

func (s *Storage) Search(ctx context.Context, sess *mailstore.Session, path string, query mailstore.Criterion) ([]uint32, error) {
	mbox, err := s.resolveMailbox(ctx, sess, path)
	if err != nil {
		return nil, err
	}
	recent, err := s.claimRecent(ctx, sess, path, mbox.ID)
	if err != nil {
		return nil, err
	}
	return s.base.Search(ctx, mbox.ID, query, recent)
}

// claimRecent asks the backend which uids in mbox still carry a
// persisted \Recent bit, then has sess claim its view of them: once
// claimed here, no other session sees those uids as Recent again.
func (s *Storage) claimRecent(ctx context.Context, sess *mailstore.Session, path string, mbox int64) (map[uint32]bool, error) {
	uids, err := s.base.FindRecentUIDs(ctx, mbox)
	if err != nil {
		return nil, err
	}
	claimed := sess.ClaimRecent(path, uids)
	out := make(map[uint32]bool, len(claimed))
	for _, uid := range claimed {
		out[uid] = true
	}
	return out, nil
}

// CreateAccount provisions username regardless of the auto_create
// setting, used by administrative tooling and tests.
func (s *Storage) CreateAccount(username string) error {
	_, err := s.accountWithOverride(context.Background(), username, true, true)
	return err
}

// ListAccounts returns every username with an account in this instance,
// used by administrative tooling.
func (s *Storage) ListAccounts() ([]string, error) {
	var usernames []string
	err := s.db.Model(&accountRow{}).Pluck("username", &usernames).Error
	return usernames, mailstore.WrapStorage(err)
}

// DeleteAccount removes username and every mailbox it owns.
func (s *Storage) DeleteAccount(username string) error {
	ctx := context.Background()
	res := s.db.WithContext(ctx).Delete(&accountRow{}, "username = ?", username)
	if res.Error != nil {
		return mailstore.WrapStorage(res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s does not exist", username)
	}

	mboxes, err := s.mailboxes.List(ctx, "", username)
	if err != nil {
		return err
	}
	for _, mbox := range mboxes {
		_ = s.mailboxes.Delete(ctx, mbox)
		s.registry.Forget(mbox.ID)
		s.db.WithContext(ctx).Where("mailbox_id = ?", mbox.ID).Delete(&messageRow{})
	}
	return nil
}

var (
	_ module.AdminStorage = (*Storage)(nil)
	_ module.GORMProvider = (*Storage)(nil)
)

func init() {
	module.Register("storage.sql", New)
}
