package maildirstore

import (
	"context"
	"strings"
	"sync"

	"github.com/tidemail/store/internal/mailstore"
)

// mailboxMapper implements mailstore.MailboxMapper[int]; the physical
// Maildir path for an ID is derived separately by Storage.fsPath, not
// stored here, since it's a pure function of owner+path.
type mailboxMapper struct {
	mu          sync.RWMutex
	nextID      int
	byOwnerPath map[string]*mailstore.Mailbox[int]
}

func newMailboxMapper() *mailboxMapper {
	return &mailboxMapper{byOwnerPath: make(map[string]*mailstore.Mailbox[int])}
}

func ownerPathKey(owner, path string) string { return owner + "\x00" + path }

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
