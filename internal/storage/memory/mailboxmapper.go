package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/tidemail/store/internal/mailstore"
)

// mailboxMapper implements mailstore.MailboxMapper[int] over a flat map
// keyed by owner+path, shared by every account this Storage instance
// serves. Mailbox IDs come from a single counter, so the same backend
// struct (shared message map) can serve every user without collision.
type mailboxMapper struct {
	mu      sync.RWMutex
	nextID  int
	byOwnerPath map[string]*mailstore.Mailbox[int]
}

func newMailboxMapper() *mailboxMapper {
	return &mailboxMapper{byOwnerPath: make(map[string]*mailstore.Mailbox[int])}
}

func ownerPathKey(owner, path string) string { return owner + "\x00" + path }

// lastUID and highestModSeq return a mailbox's persisted counter hint,
// the fallback CalculateLastUID/CalculateHighestModSeq use when the live
// message set can't reproduce a skip-ahead counter advance.
func (m *mailboxMapper) lastUID(id int) uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mbox := range m.byOwnerPath {
		if mbox.ID == id {
			return mbox.LastUID
		}
	}
	return 0
}

func (m *mailboxMapper) highestModSeq(id int) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mbox := range m.byOwnerPath {
		if mbox.ID == id {
			return mbox.HighestModSeq
		}
	}
	return 0
}

// Create allocates and stores a brand-new mailbox for owner at path, or
// returns mailstore.ErrMailboxExists on a path collision.
func (m *mailboxMapper) Create(owner, path string) (*mailstore.Mailbox[int], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerPathKey(owner, path)
	if _, exists := m.byOwnerPath[key]; exists {
		return nil, mailstore.ErrMailboxExists
	}
	m.nextID++
	mbox := &mailstore.Mailbox[int]{
		ID: m.nextID, Owner: owner, Path: path, Delimiter: '/',
		UIDValidity: uint32(m.nextID),
	}
	m.byOwnerPath[key] = mbox
	return mbox, nil
}

func (m *mailboxMapper) FindByPath(_ context.Context, _, owner, path string) (*mailstore.Mailbox[int], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mbox, ok := m.byOwnerPath[ownerPathKey(owner, path)]
	if !ok {
		return nil, mailstore.ErrMailboxNotFound
	}
	return mbox, nil
}

func (m *mailboxMapper) FindWithPathLike(_ context.Context, _, owner, pattern string) ([]*mailstore.Mailbox[int], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*mailstore.Mailbox[int]
	ownerPrefix := owner + "\x00"
	for k, mbox := range m.byOwnerPath {
		if !strings.HasPrefix(k, ownerPrefix) {
			continue
		}
		if mailstore.MatchMailboxPattern(pattern, mbox.Path, mbox.Delimiter) {
			out = append(out, mbox)
		}
	}
	return out, nil
}

func (m *mailboxMapper) HasChildren(_ context.Context, mbox *mailstore.Mailbox[int]) (bool, error) {
	prefix := mbox.Path + "/"
	m.mu.RLock()
	defer m.mu.RUnlock()
	ownerPrefix := mbox.Owner + "\x00"
	for k, other := range m.byOwnerPath {
		if !strings.HasPrefix(k, ownerPrefix) {
			continue
		}
		if strings.HasPrefix(other.Path, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// Save persists mbox's current field values (a rename updates Path in
// place; callers hold the same pointer returned by FindByPath/Create).
func (m *mailboxMapper) Save(_ context.Context, mbox *mailstore.Mailbox[int]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ownerPathKey(mbox.Owner, mbox.Path)
	if existing, ok := m.byOwnerPath[key]; ok && existing.ID != mbox.ID {
		return mailstore.ErrMailboxExists
	}
	m.byOwnerPath[key] = mbox
	return nil
}

// Delete removes mbox. Children are left in place under their existing
// paths — this backend never cascade-deletes a subtree.
func (m *mailboxMapper) Delete(_ context.Context, mbox *mailstore.Mailbox[int]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOwnerPath, ownerPathKey(mbox.Owner, mbox.Path))
	return nil
}

func (m *mailboxMapper) List(_ context.Context, _, owner string) ([]*mailstore.Mailbox[int], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := owner + "\x00"
	var out []*mailstore.Mailbox[int]
	for k, mbox := range m.byOwnerPath {
		if strings.HasPrefix(k, prefix) {
			out = append(out, mbox)
		}
	}
	return out, nil
}

// Rename moves a mailbox (and, transitively, the map entries for every
// path under it) from oldPath to newPath for owner.
func (m *mailboxMapper) Rename(owner, oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldKey := ownerPathKey(owner, oldPath)
	mbox, ok := m.byOwnerPath[oldKey]
	if !ok {
		return mailstore.ErrMailboxNotFound
	}
	newKey := ownerPathKey(owner, newPath)
	if _, exists := m.byOwnerPath[newKey]; exists {
		return mailstore.ErrMailboxExists
	}

	delete(m.byOwnerPath, oldKey)
	mbox.Path = newPath
	m.byOwnerPath[newKey] = mbox

	prefix := oldPath + "/"
	newPrefix := newPath + "/"
	ownerPrefix := owner + "\x00"
	for k, child := range m.byOwnerPath {
		if !strings.HasPrefix(k, ownerPrefix) {
			continue
		}
		if strings.HasPrefix(child.Path, prefix) {
			delete(m.byOwnerPath, k)
			child.Path = newPrefix + strings.TrimPrefix(child.Path, prefix)
			m.byOwnerPath[ownerPathKey(owner, child.Path)] = child
		}
	}
	return nil
}
