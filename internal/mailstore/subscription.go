package mailstore

import (
	"context"
	"strings"
	"sync"
)

// subscriptionKey namespaces a user's subscribed paths inside a single
// flat key space, so one SubscriptionStore instance can serve every user.
func subscriptionKey(user, path string) string {
	return user + "\x00" + path
}

// MemorySubscriptions is the in-memory SubscriptionStore, adapted from
// table.Memory's map-plus-RWMutex shape (internal/table/memory.go) down to
// the narrower Lookup/Keys/SetKey/RemoveKey surface SubscriptionManager
// needs.
type MemorySubscriptions struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemorySubscriptions constructs an empty subscription store.
func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{m: make(map[string]string)}
}

func (s *MemorySubscriptions) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *MemorySubscriptions) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.m))
	for k := range s.m {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *MemorySubscriptions) SetKey(k, v string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[k] = v
	return nil
}

func (s *MemorySubscriptions) RemoveKey(k string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, k)
	return nil
}

// SubscriptionManager implements the subscribe/unsubscribe/list-subscribed
// half of MailboxManager against any SubscriptionStore.
type SubscriptionManager struct {
	Store SubscriptionStore
}

func (m SubscriptionManager) Subscribe(_ context.Context, user, path string) error {
	return m.Store.SetKey(subscriptionKey(user, path), "1")
}

func (m SubscriptionManager) Unsubscribe(_ context.Context, user, path string) error {
	return m.Store.RemoveKey(subscriptionKey(user, path))
}

func (m SubscriptionManager) ListSubscribed(_ context.Context, user string) ([]string, error) {
	keys, err := m.Store.Keys()
	if err != nil {
		return nil, err
	}
	prefix := user + "\x00"
	var paths []string
	for _, k := range keys {
		if rest, ok := strings.CutPrefix(k, prefix); ok {
			paths = append(paths, rest)
		}
	}
	return paths, nil
}
