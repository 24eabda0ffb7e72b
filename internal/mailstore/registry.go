package mailstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SequenceSource is implemented by a backend to seed a mailbox's UID and
// MODSEQ counters the first time the registry touches that mailbox.
type SequenceSource[ID comparable] interface {
	CalculateLastUID(ctx context.Context, mbox ID) (uint32, error)
	CalculateHighestModSeq(ctx context.Context, mbox ID) (uint64, error)
}

type seqEntry struct {
	mu          sync.Mutex
	uid         uint32
	modseq      uint64
	initialized bool
}

// SequenceRegistry hands out monotonically increasing UID and MODSEQ
// values per mailbox. It is process-wide for the lifetime of one backend
// instance, not a package-level global, so tests and multiple backend
// instances never share counters by accident.
type SequenceRegistry[ID comparable] struct {
	source SequenceSource[ID]

	mu      sync.Mutex
	entries map[ID]*seqEntry

	group singleflight.Group
}

// NewSequenceRegistry constructs a registry backed by source.
func NewSequenceRegistry[ID comparable](source SequenceSource[ID]) *SequenceRegistry[ID] {
	return &SequenceRegistry[ID]{
		source:  source,
		entries: make(map[ID]*seqEntry),
	}
}

func (r *SequenceRegistry[ID]) entry(mbox ID) *seqEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[mbox]
	if !ok {
		e = &seqEntry{}
		r.entries[mbox] = e
	}
	return e
}

// ensureInit performs the mailbox's first-touch seed, asking the backend
// for its current last-UID and highest-MODSEQ exactly once even if several
// goroutines race to touch the mailbox concurrently.
func (r *SequenceRegistry[ID]) ensureInit(ctx context.Context, mbox ID, e *seqEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	key := fmt.Sprintf("%v", mbox)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		uid, err := r.source.CalculateLastUID(ctx, mbox)
		if err != nil {
			return nil, err
		}
		modseq, err := r.source.CalculateHighestModSeq(ctx, mbox)
		if err != nil {
			return nil, err
		}
		return [2]uint64{uint64(uid), modseq}, nil
	})
	if err != nil {
		return err
	}

	pair := v.([2]uint64)
	e.uid = uint32(pair[0])
	e.modseq = pair[1]
	e.initialized = true
	return nil
}

// NextUID allocates and returns the next UID for mbox.
func (r *SequenceRegistry[ID]) NextUID(ctx context.Context, mbox ID) (uint32, error) {
	e := r.entry(mbox)
	if err := r.ensureInit(ctx, mbox, e); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uid++
	return e.uid, nil
}

// NextModSeq allocates and returns the next MODSEQ for mbox.
func (r *SequenceRegistry[ID]) NextModSeq(ctx context.Context, mbox ID) (uint64, error) {
	e := r.entry(mbox)
	if err := r.ensureInit(ctx, mbox, e); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modseq++
	return e.modseq, nil
}

// CurrentUID returns the last UID allocated for mbox without allocating a
// new one, initializing the entry from the backend if this is the first
// touch.
func (r *SequenceRegistry[ID]) CurrentUID(ctx context.Context, mbox ID) (uint32, error) {
	e := r.entry(mbox)
	if err := r.ensureInit(ctx, mbox, e); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uid, nil
}

// CurrentModSeq returns the highest MODSEQ allocated for mbox without
// allocating a new one.
func (r *SequenceRegistry[ID]) CurrentModSeq(ctx context.Context, mbox ID) (uint64, error) {
	e := r.entry(mbox)
	if err := r.ensureInit(ctx, mbox, e); err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modseq, nil
}

// Forget drops the cached counters for mbox, used after the mailbox is
// deleted so a later mailbox reusing the same ID space re-seeds instead of
// inheriting a stale entry.
func (r *SequenceRegistry[ID]) Forget(mbox ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, mbox)
}

// Seed pre-populates the registry for a mailbox a backend just created,
// skipping the calculate_* round trip entirely since a brand-new mailbox's
// counters are known without asking the backend.
func (r *SequenceRegistry[ID]) Seed(mbox ID, lastUID uint32, highestModSeq uint64) {
	e := r.entry(mbox)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uid = lastUID
	e.modseq = highestModSeq
	e.initialized = true
}
