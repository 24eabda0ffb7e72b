/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package maildirstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/tidemail/store/framework/config"
	"github.com/tidemail/store/framework/log"
	"github.com/tidemail/store/framework/module"
	"github.com/tidemail/store/internal/mailstore"
)

// Storage implements mailstore.MailboxManager[int]/MessageManager[int]
// on top of one Maildir tree per user under root, each mailbox a
// subdirectory named after its sanitized path.
type Storage struct {
	modName  string
	instName string
	log      log.Logger

	root      string
	backend   *backend
	mailboxes *mailboxMapper
	registry  *mailstore.SequenceRegistry[int]
	dispatch  *mailstore.Dispatcher
	base      mailstore.BaseMessageMapper[int]
	subs      *mailstore.SubscriptionManager

	mu       sync.Mutex
	accounts map[string]*accountInfo

	defaultQuota int64
	autoCreate   bool
}

type accountInfo struct {
	createdAt    int64
	quotaMax     int64
	quotaDefault bool
}

func New(modName, instName string, _, _ []string) (module.Module, error) {
	s := &Storage{
		modName:      modName,
		instName:     instName,
		root:         "/var/lib/mailstore/maildir",
		backend:      newBackend(),
		mailboxes:    newMailboxMapper(),
		dispatch:     mailstore.NewDispatcher(),
		subs:         &mailstore.SubscriptionManager{Store: mailstore.NewMemorySubscriptions()},
		accounts:     make(map[string]*accountInfo),
		defaultQuota: 1024 * 1024 * 1024,
	}
	s.registry = mailstore.NewSequenceRegistry[int](s.backend)
	s.base = mailstore.BaseMessageMapper[int]{
		Backend:    s.backend,
		Registry:   s.registry,
		Dispatcher: s.dispatch,
		PathOf: func(id int) string {
			s.mailboxes.mu.RLock()
			defer s.mailboxes.mu.RUnlock()
			for _, mbox := range s.mailboxes.byOwnerPath {
				if mbox.ID == id {
					return mbox.Path
				}
			}
			return ""
		},
		ToSearchable: toSearchable,
	}
	return s, nil
}

func toSearchable(msg *mailstore.Message[int]) *mailstore.Searchable {
	return &mailstore.Searchable{
		UID: msg.UID, ModSeq: msg.ModSeq, Flags: msg.Flags,
		Size: msg.Size, InternalDate: msg.InternalDate, Header: msg.Header,
		Recent:   msg.Flags.Has(mailstore.FlagRecent),
		BodyText: func() (string, error) { return string(msg.Body), nil },
	}
}

func (s *Storage) Init(cfg *config.Map) error {
	s.log = log.Logger{Name: s.modName}

	cfg.String("root", false, false, s.root, &s.root)
	cfg.Int64("default_quota", false, false, 1024*1024*1024, &s.defaultQuota)
	cfg.Bool("auto_create", false, false, &s.autoCreate)

	if _, err := cfg.Process(); err != nil {
		return err
	}
	return os.MkdirAll(s.root, 0o750)
}

func (s *Storage) Name() string         { return s.modName }
func (s *Storage) InstanceName() string { return s.instName }

func (s *Storage) Transactor() mailstore.TransactionalMapper { return mailstore.NoopTransactor{} }

func (s *Storage) MessageMapper() mailstore.MessageMapper[int] { return &s.base }

// fsPath maps an owner+logical-path pair onto a filesystem directory,
// replacing the IMAP hierarchy delimiter with an OS-safe separator the
// way a real Maildir deployment lays out Dovecot-style "Parent.Child".
func (s *Storage) fsPath(owner, path string) string {
	safe := strings.ReplaceAll(path, "/", ".")
	return filepath.Join(s.root, owner, safe)
}

func (s *Storage) account(username string, create bool) (*accountInfo, error) {
	return s.accountWithOverride(username, create, false)
}

func (s *Storage) accountWithOverride(username string, create, force bool) (*accountInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, exists := s.accounts[username]
	if exists {
		return acc, nil
	}
	if !create || (!s.autoCreate && !force) {
		return nil, mailstore.ErrBadCredentials
	}

	acc = &accountInfo{
		createdAt:    time.Now().Unix(),
		quotaMax:     s.defaultQuota,
		quotaDefault: true,
	}
	s.accounts[username] = acc
	return acc, nil
}

// createMailbox registers path in the mailbox mapper and opens its
// on-disk maildir, the two steps CreateMailbox and INBOX auto-vivification
// both need.
func (s *Storage) createMailbox(owner, path string) (*mailstore.Mailbox[int], error) {
	mbox, err := s.mailboxes.Create(owner, path)
	if err != nil {
		return nil, err
	}
	if err := s.backend.openMailbox(mbox.ID, s.fsPath(owner, path)); err != nil {
		return nil, err
	}
	return mbox, nil
}

func (s *Storage) Authenticate(ctx context.Context, username, _ string) (*mailstore.Session, error) {
	return s.OpenSession(ctx, username)
}

func (s *Storage) OpenSession(_ context.Context, username string) (*mailstore.Session, error) {
	if _, err := s.account(username, true); err != nil {
		return nil, err
	}
	return mailstore.NewSession(username, log.Logger{Name: s.modName + "." + username}), nil
}

func (s *Storage) CreateMailbox(_ context.Context, sess *mailstore.Session, path string) error {
	_, err := s.createMailbox(sess.User, path)
	return err
}

func (s *Storage) DeleteMailbox(_ context.Context, sess *mailstore.Session, path string) error {
	mbox, err := s.mailboxes.FindByPath(context.Background(), "", sess.User, path)
	if err != nil {
		return err
	}
	if err := s.mailboxes.Delete(context.Background(), mbox); err != nil {
		return err
	}
	s.registry.Forget(mbox.ID)
	s.dispatch.Drop(path)
	s.backend.dropMailbox(mbox.ID)
	return os.RemoveAll(s.fsPath(sess.User, path))
}

func (s *Storage) RenameMailbox(_ context.Context, sess *mailstore.Session, oldPath, newPath string) error {
	mbox, err := s.mailboxes.FindByPath(context.Background(), "", sess.User, oldPath)
	if err != nil {
		return err
	}
	oldFS := s.fsPath(sess.User, oldPath)
	newFS := s.fsPath(sess.User, newPath)
	if err := s.mailboxes.Rename(sess.User, oldPath, newPath); err != nil {
		return err
	}
	if err := os.Rename(oldFS, newFS); err != nil {
		return fmt.Errorf("maildirstore: rename on disk: %w", err)
	}
	s.backend.dropMailbox(mbox.ID)
	if err := s.backend.openMailbox(mbox.ID, newFS); err != nil {
		return err
	}
	s.dispatch.Rename(oldPath, newPath)
	return nil
}

func (s *Storage) ListMailboxes(ctx context.Context, sess *mailstore.Session, _ string) ([]*mailstore.Mailbox[int], error) {
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

func (s *Storage) GetQuota(_ context.Context, sess *mailstore.Session) (mailstore.QuotaInfo, error) {
	s.mu.Lock()
	acc, ok := s.accounts[sess.User]
	s.mu.Unlock()
	if !ok {
		return mailstore.QuotaInfo{}, mailstore.ErrBadCredentials
	}
	used := s.backend.usedBytes(filepath.Join(s.root, sess.User))
	return mailstore.QuotaInfo{Used: used, Max: acc.quotaMax, IsDefault: acc.quotaDefault}, nil
}

func (s *Storage) SetQuota(_ context.Context, sess *mailstore.Session, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[sess.User]
	if !ok {
		return mailstore.ErrBadCredentials
	}
	acc.quotaMax = max
	acc.quotaDefault = false
	return nil
}

// resolveMailbox looks up path for sess.User, auto-vivifying INBOX on
// first reference: a session that never called CreateMailbox(INBOX)
// explicitly can still append to it directly, matching IMAP's usual
// "selecting/appending to INBOX brings it into existence" behavior.
// Every other path must be created explicitly.
func (s *Storage) resolveMailbox(sess *mailstore.Session, path string) (*mailstore.Mailbox[int], error) {
	mbox, err := s.mailboxes.FindByPath(context.Background(), "", sess.User, path)
	if err == mailstore.ErrMailboxNotFound && mailstore.IsInbox(path) {
		return s.createMailbox(sess.User, path)
	}
	return mbox, err
}

func (s *Storage) Append(ctx context.Context, sess *mailstore.Session, path string, flags []mailstore.Flag, date time.Time, header textproto.Header, body []byte) (*mailstore.Message[int], error) {
	mbox, err := s.resolveMailbox(sess, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	acc := s.accounts[sess.User]
	s.mu.Unlock()
	if acc != nil && acc.quotaMax > 0 {
		used := s.backend.usedBytes(filepath.Join(s.root, sess.User))
		if used+int64(len(body)) > acc.quotaMax {
			return nil, mailstore.ErrQuotaExceeded
		}
	}

	msg := &mailstore.Message[int]{
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

func (s *Storage) Fetch(ctx context.Context, sess *mailstore.Session, path string, opts mailstore.FindOptions) (mailstore.MessageIterator[int], error) {
	mbox, err := s.resolveMailbox(sess, path)
	if err != nil {
		return nil, err
	}
	return s.base.FindInMailbox(ctx, mbox.ID, opts)
}

func (s *Storage) Store(ctx context.Context, sess *mailstore.Session, path string, seqs mailstore.SeqSet, op mailstore.FlagOp, flags []mailstore.Flag) ([]*mailstore.Message[int], error) {
	mbox, err := s.resolveMailbox(sess, path)
	if err != nil {
		return nil, err
	}
	return s.base.UpdateFlags(ctx, mbox.ID, seqs, op, flags)
}

func (s *Storage) CopyTo(ctx context.Context, sess *mailstore.Session, srcPath, destPath string, uid uint32) (*mailstore.Message[int], error) {
	src, err := s.resolveMailbox(sess, srcPath)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveMailbox(sess, destPath)
	if err != nil {
		return nil, err
	}
	return s.base.Copy(ctx, src.ID, dest.ID, uid)
}

func (s *Storage) MoveTo(ctx context.Context, sess *mailstore.Session, srcPath, destPath string, uid uint32) (*mailstore.Message[int], error) {
	src, err := s.resolveMailbox(sess, srcPath)
	if err != nil {
		return nil, err
	}
	dest, err := s.resolveMailbox(sess, destPath)
	if err != nil {
		return nil, err
	}
	return s.base.Move(ctx, src.ID, dest.ID, uid)
}

func (s *Storage) Expunge(ctx context.Context, sess *mailstore.Session, path string, seqs mailstore.SeqSet) (map[uint32]*mailstore.Message[int], error) {
	mbox, err := s.resolveMailbox(sess, path)
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
	mbox, err := s.resolveMailbox(sess, path)
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
func (s *Storage) claimRecent(ctx context.Context, sess *mailstore.Session, path string, mbox int) (map[uint32]bool, error) {
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
	_, err := s.accountWithOverride(username, true, true)
	return err
}

func (s *Storage) ListAccounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accounts))
	for u := range s.accounts {
		out = append(out, u)
	}
	return out, nil
}

func (s *Storage) DeleteAccount(username string) error {
	s.mu.Lock()
	_, exists := s.accounts[username]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("account %s does not exist", username)
	}
	delete(s.accounts, username)
	s.mu.Unlock()

	mboxes, err := s.mailboxes.List(context.Background(), "", username)
	if err != nil {
		return err
	}
	for _, mbox := range mboxes {
		_ = s.mailboxes.Delete(context.Background(), mbox)
		s.registry.Forget(mbox.ID)
		s.backend.dropMailbox(mbox.ID)
	}
	return os.RemoveAll(filepath.Join(s.root, username))
}

var _ module.AdminStorage = (*Storage)(nil)

func init() {
	module.Register("storage.maildir", New)
}
