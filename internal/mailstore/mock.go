package mailstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/tidemail/store/framework/log"
)

// mockBackend is a tiny, fully self-contained BackendOps+MailboxMapper
// implementation over plain maps, used only by MockMailboxManager. Real
// backends live under internal/storage/*; this one exists purely so
// conformance tests and higher-level callers have a zero-dependency
// fixture to run against.
type mockBackend struct {
	mu       sync.Mutex
	nextID   int
	mailboxes map[int]*Mailbox[int]
	messages  map[int][]*Message[int]
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		mailboxes: make(map[int]*Mailbox[int]),
		messages:  make(map[int][]*Message[int]),
	}
}

func (b *mockBackend) CalculateLastUID(_ context.Context, mbox int) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var max uint32
	for _, m := range b.messages[mbox] {
		if m.UID > max {
			max = m.UID
		}
	}
	return max, nil
}

func (b *mockBackend) CalculateHighestModSeq(_ context.Context, mbox int) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var max uint64
	for _, m := range b.messages[mbox] {
		if m.ModSeq > max {
			max = m.ModSeq
		}
	}
	return max, nil
}

type mockIterator struct {
	msgs []*Message[int]
	pos  int
}

func (it *mockIterator) Next() (*Message[int], bool, error) {
	if it.pos >= len(it.msgs) {
		return nil, false, nil
	}
	m := it.msgs[it.pos]
	it.pos++
	return m, true, nil
}

func (b *mockBackend) FindMessages(_ context.Context, mbox int, opts FindOptions) (MessageIterator[int], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.messages[mbox]
	out := make([]*Message[int], 0, len(all))
	for i, m := range all {
		if opts.UIDs != nil && !opts.UIDs.Contains(m.UID) {
			continue
		}
		if opts.SeqNums != nil && !opts.SeqNums.Contains(uint32(i+1)) {
			continue
		}
		out = append(out, m)
	}
	return &mockIterator{msgs: out}, nil
}

func (b *mockBackend) FindByUID(_ context.Context, mbox int, uid uint32) (*Message[int], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages[mbox] {
		if m.UID == uid {
			return m, nil
		}
	}
	return nil, ErrMessageNotFound
}

func (b *mockBackend) SaveMessage(_ context.Context, msg *Message[int]) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[msg.MailboxID]
	for i, m := range msgs {
		if m.UID == msg.UID {
			msgs[i] = msg
			return nil
		}
	}
	b.messages[msg.MailboxID] = append(msgs, msg)
	return nil
}

func (b *mockBackend) CopyMessage(_ context.Context, src *Message[int], destMbox int) (*Message[int], error) {
	cp := *src
	cp.MailboxID = destMbox
	cp.Body = append([]byte(nil), src.Body...)
	return &cp, nil
}

func (b *mockBackend) DeleteMessage(_ context.Context, mbox int, uid uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[mbox]
	for i, m := range msgs {
		if m.UID == uid {
			b.messages[mbox] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return ErrMessageNotFound
}

func (b *mockBackend) createMailbox(owner, path string) *Mailbox[int] {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	mbox := &Mailbox[int]{ID: b.nextID, Owner: owner, Path: path, Delimiter: '/', UIDValidity: uint32(b.nextID)}
	b.mailboxes[mbox.ID] = mbox
	return mbox
}

// MockMailboxManager seeds a fixed user set with INBOX, Trash, and N
// sub-folders of M messages each, for use as a conformance-test and
// higher-level-caller fixture that doesn't require a real backend.
type MockMailboxManager struct {
	backend    *mockBackend
	registry   *SequenceRegistry[int]
	dispatcher *Dispatcher
	base       BaseMessageMapper[int]

	mu    sync.Mutex
	byUserPath map[string]*Mailbox[int]
	subs  *SubscriptionManager
}

// NewMockMailboxManager seeds users with subfolders sub-folders each
// containing perFolder messages, plus INBOX and Trash.
func NewMockMailboxManager(users []string, subfolders, perFolder int) *MockMailboxManager {
	backend := newMockBackend()
	registry := NewSequenceRegistry[int](backend)
	dispatcher := NewDispatcher()

	m := &MockMailboxManager{
		backend:    backend,
		registry:   registry,
		dispatcher: dispatcher,
		byUserPath: make(map[string]*Mailbox[int]),
		subs:       &SubscriptionManager{Store: NewMemorySubscriptions()},
	}
	m.base = BaseMessageMapper[int]{
		Backend:    backend,
		Registry:   registry,
		Dispatcher: dispatcher,
		PathOf: func(id int) string {
			for k, v := range m.byUserPath {
				if v.ID == id {
					return k
				}
			}
			return ""
		},
		ToSearchable: func(msg *Message[int]) *Searchable {
			return &Searchable{
				UID: msg.UID, ModSeq: msg.ModSeq, Flags: msg.Flags,
				Size: msg.Size, InternalDate: msg.InternalDate, Header: msg.Header,
				Recent:   msg.Flags.Has(FlagRecent),
				BodyText: func() (string, error) { return string(msg.Body), nil },
			}
		},
	}

	ctx := context.Background()
	for _, user := range users {
		m.seedMailbox(ctx, user, "INBOX", perFolder)
		m.seedMailbox(ctx, user, "Trash", 0)
		for i := 0; i < subfolders; i++ {
			m.seedMailbox(ctx, user, fmt.Sprintf("Folder%d", i+1), perFolder)
		}
	}
	return m
}

func (m *MockMailboxManager) key(user, path string) string { return user + "\x00" + path }

func (m *MockMailboxManager) seedMailbox(ctx context.Context, user, path string, messages int) {
	mbox := m.backend.createMailbox(user, path)
	m.byUserPath[m.key(user, path)] = mbox

	for i := 0; i < messages; i++ {
		hdr := textproto.Header{}
		hdr.Set("Subject", fmt.Sprintf("seed message %d in %s", i+1, path))
		_, _ = m.base.Add(ctx, mbox.ID, &Message[int]{
			Header:       hdr,
			Body:         []byte("seed body"),
			Size:         9,
			InternalDate: time.Now(),
		})
	}
}

func (m *MockMailboxManager) Authenticate(_ context.Context, username, _ string) (*Session, error) {
	return NewSession(username, log.Logger{Name: "mock"}), nil
}

func (m *MockMailboxManager) OpenSession(_ context.Context, username string) (*Session, error) {
	return NewSession(username, log.Logger{Name: "mock"}), nil
}

func (m *MockMailboxManager) mailboxFor(sess *Session, path string) (*Mailbox[int], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mbox, ok := m.byUserPath[m.key(sess.User, path)]
	if !ok {
		return nil, ErrMailboxNotFound
	}
	return mbox, nil
}

func (m *MockMailboxManager) CreateMailbox(_ context.Context, sess *Session, path string) error {
	m.mu.Lock()
	_, exists := m.byUserPath[m.key(sess.User, path)]
	m.mu.Unlock()
	if exists {
		return ErrMailboxExists
	}
	m.seedMailbox(context.Background(), sess.User, path, 0)
	return nil
}

func (m *MockMailboxManager) DeleteMailbox(_ context.Context, sess *Session, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(sess.User, path)
	mbox, ok := m.byUserPath[k]
	if !ok {
		return ErrMailboxNotFound
	}
	delete(m.byUserPath, k)
	m.registry.Forget(mbox.ID)
	m.dispatcher.Drop(path)
	return nil
}

func (m *MockMailboxManager) RenameMailbox(_ context.Context, sess *Session, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldKey, newKey := m.key(sess.User, oldPath), m.key(sess.User, newPath)
	mbox, ok := m.byUserPath[oldKey]
	if !ok {
		return ErrMailboxNotFound
	}
	if _, exists := m.byUserPath[newKey]; exists {
		return ErrMailboxExists
	}
	delete(m.byUserPath, oldKey)
	mbox.Path = newPath
	m.byUserPath[newKey] = mbox
	m.dispatcher.Rename(oldPath, newPath)
	return nil
}

func (m *MockMailboxManager) ListMailboxes(_ context.Context, sess *Session, _ string) ([]*Mailbox[int], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := sess.User + "\x00"
	var out []*Mailbox[int]
	for k, mbox := range m.byUserPath {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, mbox)
		}
	}
	return out, nil
}

func (m *MockMailboxManager) Subscribe(ctx context.Context, sess *Session, path string) error {
	return m.subs.Subscribe(ctx, sess.User, path)
}

func (m *MockMailboxManager) Unsubscribe(ctx context.Context, sess *Session, path string) error {
	return m.subs.Unsubscribe(ctx, sess.User, path)
}

func (m *MockMailboxManager) ListSubscribed(ctx context.Context, sess *Session) ([]string, error) {
	return m.subs.ListSubscribed(ctx, sess.User)
}

func (m *MockMailboxManager) GetQuota(_ context.Context, _ *Session) (QuotaInfo, error) {
	return QuotaInfo{Used: 0, Max: 1024 * 1024 * 1024, IsDefault: true}, nil
}

func (m *MockMailboxManager) SetQuota(_ context.Context, _ *Session, _ int64) error {
	return nil
}

// Mailbox returns the seeded mailbox for a user and path, exposed so
// conformance tests can reach its ID directly without going through path
// resolution twice.
func (m *MockMailboxManager) Mailbox(sess *Session, path string) (*Mailbox[int], error) {
	return m.mailboxFor(sess, path)
}

// Messages returns the MessageMapper bound to this manager's single shared
// backend.
func (m *MockMailboxManager) Messages() MessageMapper[int] {
	return &m.base
}
