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

package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/tidemail/store/framework/config"
	"github.com/tidemail/store/framework/log"
	"github.com/tidemail/store/framework/module"
	"github.com/tidemail/store/internal/mailstore"
)

// Storage implements the mailstore.MailboxManager[int] and
// mailstore.MessageManager[int] surfaces entirely in process memory,
// sharing one mailbox-ID space and message map across every account it
// serves.
type Storage struct {
	modName  string
	instName string
	log      log.Logger

	backend  *backend
	mailboxes *mailboxMapper
	registry *mailstore.SequenceRegistry[int]
	dispatch *mailstore.Dispatcher
	base     mailstore.BaseMessageMapper[int]
	subs     *mailstore.SubscriptionManager

	mu       sync.Mutex
	accounts map[string]*accountInfo

	defaultQuota int64
	autoCreate   bool
}

type accountInfo struct {
	createdAt    int64
	firstLoginAt int64
	quotaUsed    int64
	quotaMax     int64
	quotaDefault bool
}

// New creates a new in-memory storage backend, registered under
// "storage.memory".
func New(modName, instName string, _, _ []string) (module.Module, error) {
	s := &Storage{
		modName:      modName,
		instName:     instName,
		backend:      newBackend(),
		mailboxes:    newMailboxMapper(),
		dispatch:     mailstore.NewDispatcher(),
		subs:         &mailstore.SubscriptionManager{Store: mailstore.NewMemorySubscriptions()},
		accounts:     make(map[string]*accountInfo),
		defaultQuota: 1024 * 1024 * 1024,
	}
	s.backend.mboxes = s.mailboxes
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

	cfg.Int64("default_quota", false, false, 1024*1024*1024, &s.defaultQuota)
	cfg.Bool("auto_create", false, false, &s.autoCreate)

	_, err := cfg.Process()
	return err
}

func (s *Storage) Name() string         { return s.modName }
func (s *Storage) InstanceName() string { return s.instName }

func (s *Storage) Transactor() mailstore.TransactionalMapper { return mailstore.NoopTransactor{} }

// MessageMapper exposes the ID-addressed MessageMapper directly, for
// callers (and conformance tests) that already hold a Mailbox and don't
// need path resolution on every call.
func (s *Storage) MessageMapper() mailstore.MessageMapper[int] { return &s.base }

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

// Authenticate implements mailstore.MailboxManager. Credential validation
// itself is an external collaborator's job; by the time a caller reaches
// this storage layer the username is already trusted.
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
	_, err := s.mailboxes.Create(sess.User, path)
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
	return nil
}

func (s *Storage) RenameMailbox(_ context.Context, sess *mailstore.Session, oldPath, newPath string) error {
	if err := s.mailboxes.Rename(sess.User, oldPath, newPath); err != nil {
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
	defer s.mu.Unlock()
	acc, ok := s.accounts[sess.User]
	if !ok {
		return mailstore.QuotaInfo{}, mailstore.ErrBadCredentials
	}
	return mailstore.QuotaInfo{Used: acc.quotaUsed, Max: acc.quotaMax, IsDefault: acc.quotaDefault}, nil
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
		return s.mailboxes.Create(sess.User, path)
	}
	return mbox, err
}

// Append implements mailstore.MessageManager, the one place in this
// backend quota is actually enforced — everywhere else is pure mapper
// mechanics with no notion of "the owning account".
func (s *Storage) Append(ctx context.Context, sess *mailstore.Session, path string, flags []mailstore.Flag, date time.Time, header textproto.Header, body []byte) (*mailstore.Message[int], error) {
	mbox, err := s.resolveMailbox(sess, path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	acc := s.accounts[sess.User]
	if acc != nil && acc.quotaMax > 0 && acc.quotaUsed+int64(len(body)) > acc.quotaMax {
		s.mu.Unlock()
		return nil, mailstore.ErrQuotaExceeded
	}
	s.mu.Unlock()

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

	s.mu.Lock()
	if acc != nil {
		acc.quotaUsed += int64(saved.Size)
	}
	s.mu.Unlock()
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

	if len(expunged) > 0 {
		s.mu.Lock()
		if acc, ok := s.accounts[sess.User]; ok {
			acc.quotaUsed = recomputeUsed(s, sess.User)
		}
		s.mu.Unlock()
		for range expunged {
			module.IncrementExpunged()
		}
	}
	return expunged, nil
}

func recomputeUsed(s *Storage, owner string) int64 {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	var used int64
	s.mailboxes.mu.RLock()
	defer s.mailboxes.mu.RUnlock()
	for _, mbox := range s.mailboxes.byOwnerPath {
		if mbox.Owner != owner {
			continue
		}
		for _, m := range s.backend.messages[mbox.ID] {
			used += int64(m.Size)
		}
	}
	return used
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

// ListAccounts returns every username with an account in this instance,
// used by administrative tooling.
func (s *Storage) ListAccounts() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.accounts))
	for u := range s.accounts {
		out = append(out, u)
	}
	return out, nil
}

// DeleteAccount removes username and every mailbox it owns.
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
	}
	return nil
}

var _ module.AdminStorage = (*Storage)(nil)

func init() {
	module.Register("storage.memory", New)
}
