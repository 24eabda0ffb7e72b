package documentstore

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tidemail/store/internal/mailstore"
)

// mailboxMapper implements mailstore.MailboxMapper[uuid.UUID]. Unlike
// the memory backend's int counter, mailbox identity here is a random
// uuid.UUID generated at creation, the way a document store would hand
// out an opaque document id instead of a sequential row number.
type mailboxMapper struct {
	mu          sync.RWMutex
	byOwnerPath map[string]*mailstore.Mailbox[uuid.UUID]
}

func newMailboxMapper() *mailboxMapper {
	return &mailboxMapper{byOwnerPath: make(map[string]*mailstore.Mailbox[uuid.UUID])}
}

func ownerPathKey(owner, path string) string { return owner + "\x00" + path }

// byID finds a mailbox by its document id, used by the backend's
// SaveSequences/calculate_* fallback rather than by path.
func (m *mailboxMapper) byID(id uuid.UUID) *mailstore.Mailbox[uuid.UUID] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mbox := range m.byOwnerPath {
		if mbox.ID == id {
			return mbox
		}
	}
	return nil
}

func (m *mailboxMapper) lastUID(id uuid.UUID) uint32 {
	if mbox := m.byID(id); mbox != nil {
		return mbox.LastUID
	}
	return 0
}

func (m *mailboxMapper) highestModSeq(id uuid.UUID) uint64 {
	if mbox := m.byID(id); mbox != nil {
		return mbox.HighestModSeq
	}
	return 0
}

func (m *mailboxMapper) saveSequences(id uuid.UUID, lastUID uint32, highestModSeq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mbox := range m.byOwnerPath {
		if mbox.ID == id {
			mbox.LastUID = lastUID
			mbox.HighestModSeq = highestModSeq
			return
		}
	}
}

func (m *mailboxMapper) Create(owner, path string) (*mailstore.Mailbox[uuid.UUID], error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ownerPathKey(owner, path)
	if _, exists := m.byOwnerPath[key]; exists {
		return nil, mailstore.ErrMailboxExists
	}
	id := uuid.New()
	mbox := &mailstore.Mailbox[uuid.UUID]{
		ID: id, Owner: owner, Path: path, Delimiter: '/',
		UIDValidity: uint32(id.ID()),
	}
	m.byOwnerPath[key] = mbox
	return mbox, nil
}

func (m *mailboxMapper) FindByPath(_ context.Context, _, owner, path string) (*mailstore.Mailbox[uuid.UUID], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mbox, ok := m.byOwnerPath[ownerPathKey(owner, path)]
	if !ok {
		return nil, mailstore.ErrMailboxNotFound
	}
	return mbox, nil
}

func (m *mailboxMapper) FindWithPathLike(_ context.Context, _, owner, pattern string) ([]*mailstore.Mailbox[uuid.UUID], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*mailstore.Mailbox[uuid.UUID]
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

func (m *mailboxMapper) HasChildren(_ context.Context, mbox *mailstore.Mailbox[uuid.UUID]) (bool, error) {
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

func (m *mailboxMapper) Save(_ context.Context, mbox *mailstore.Mailbox[uuid.UUID]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ownerPathKey(mbox.Owner, mbox.Path)
	if existing, ok := m.byOwnerPath[key]; ok && existing.ID != mbox.ID {
		return mailstore.ErrMailboxExists
	}
	m.byOwnerPath[key] = mbox
	return nil
}

func (m *mailboxMapper) Delete(_ context.Context, mbox *mailstore.Mailbox[uuid.UUID]) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byOwnerPath, ownerPathKey(mbox.Owner, mbox.Path))
	return nil
}

func (m *mailboxMapper) List(_ context.Context, _, owner string) ([]*mailstore.Mailbox[uuid.UUID], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := owner + "\x00"
	var out []*mailstore.Mailbox[uuid.UUID]
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

func (m *mailboxMapper) idsForOwner(owner string) map[uuid.UUID]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := owner + "\x00"
	out := make(map[uuid.UUID]bool)
	for k, mbox := range m.byOwnerPath {
		if strings.HasPrefix(k, prefix) {
			out[mbox.ID] = true
		}
	}
	return out
}
