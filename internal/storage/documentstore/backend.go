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

// Package documentstore implements a content-addressed, deduplicating
// mailstore backend that never touches disk: a message body stored once
// can be referenced from many mailboxes (the way a single delivery fans
// out to INBOX and a Sent copy), and is only actually freed once the
// last mailbox entry pointing at it is expunged.
package documentstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/tidemail/store/internal/mailstore"
)

// blob is a deduplicated message body+header pair, shared by every
// mailbox entry whose ContentHash matches.
type blob struct {
	header   []byte // encoded textproto.Header, re-parsed on read
	body     []byte
	refCount int
}

// entry is one mailbox's view of a stored message: its own UID/flags/
// modseq, pointing at a shared blob by content hash.
type entry struct {
	mailbox      uuid.UUID
	uid          uint32
	modSeq       uint64
	internalDate int64 // unix nanoseconds; avoids importing time into the hot path struct
	flags        mailstore.FlagSet
	contentHash  string
}

func hashContent(header, body []byte) string {
	h := sha256.New()
	h.Write(header)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// backend is the mailstore.BackendOps[uuid.UUID] + SequenceSource
// implementation. Every account served by a given Storage shares the
// same backend, so identical message bodies delivered to different
// users (a mailing list fanout, a Sent copy) collapse to one blob.
type backend struct {
	mu      sync.Mutex
	entries map[uuid.UUID][]*entry
	blobs   map[string]*blob
	mboxes  *mailboxMapper
}

func newBackend() *backend {
	return &backend{
		entries: make(map[uuid.UUID][]*entry),
		blobs:   make(map[string]*blob),
	}
}

func (b *backend) CalculateLastUID(_ context.Context, mbox uuid.UUID) (uint32, error) {
	b.mu.Lock()
	var max uint32
	for _, e := range b.entries[mbox] {
		if e.uid > max {
			max = e.uid
		}
	}
	b.mu.Unlock()
	if max > 0 || b.mboxes == nil {
		return max, nil
	}
	return b.mboxes.lastUID(mbox), nil
}

// CalculateHighestModSeq orders by the modseq property of each entry,
// not by UID: a flag update gives a lower-UID message a modseq above that
// of a higher UID appended after it. A zero result
// falls back to the mailbox's persisted hint, same as CalculateLastUID.
func (b *backend) CalculateHighestModSeq(_ context.Context, mbox uuid.UUID) (uint64, error) {
	b.mu.Lock()
	var max uint64
	for _, e := range b.entries[mbox] {
		if e.modSeq > max {
			max = e.modSeq
		}
	}
	b.mu.Unlock()
	if max > 0 || b.mboxes == nil {
		return max, nil
	}
	return b.mboxes.highestModSeq(mbox), nil
}

func (b *backend) SaveSequences(_ context.Context, mbox uuid.UUID, lastUID uint32, highestModSeq uint64) error {
	if b.mboxes != nil {
		b.mboxes.saveSequences(mbox, lastUID, highestModSeq)
	}
	return nil
}

type entryIterator struct {
	backend *backend
	items   []*entry
	pos     int
}

func (it *entryIterator) Next() (*mailstore.Message[uuid.UUID], bool, error) {
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	e := it.items[it.pos]
	it.pos++
	return it.backend.toMessage(e), true, nil
}

func (b *backend) toMessage(e *entry) *mailstore.Message[uuid.UUID] {
	bl := b.blobs[e.contentHash]
	hdr, _ := parseHeader(bl.header)
	return &mailstore.Message[uuid.UUID]{
		MailboxID:    e.mailbox,
		UID:          e.uid,
		InternalDate: fromUnixNano(e.internalDate),
		Size:         uint32(len(bl.body)),
		Flags:        e.flags.Clone(),
		ModSeq:       e.modSeq,
		Header:       hdr,
		Body:         bl.body,
	}
}

func (b *backend) FindMessages(_ context.Context, mbox uuid.UUID, opts mailstore.FindOptions) (mailstore.MessageIterator[uuid.UUID], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.entries[mbox]
	out := make([]*entry, 0, len(all))
	for i, e := range all {
		if opts.UIDs != nil && !opts.UIDs.Contains(e.uid) {
			continue
		}
		if opts.SeqNums != nil && !opts.SeqNums.Contains(uint32(i+1)) {
			continue
		}
		out = append(out, e)
	}
	return &entryIterator{backend: b, items: out}, nil
}

func (b *backend) FindByUID(_ context.Context, mbox uuid.UUID, uid uint32) (*mailstore.Message[uuid.UUID], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries[mbox] {
		if e.uid == uid {
			return b.toMessage(e), nil
		}
	}
	return nil, mailstore.ErrMessageNotFound
}

// SaveMessage stores msg's body content-addressed (deduplicating
// against any existing blob with identical header+body) and upserts
// the mailbox's entry for msg.UID.
func (b *backend) SaveMessage(_ context.Context, msg *mailstore.Message[uuid.UUID]) error {
	hdrBytes := encodeHeader(msg.Header)

	b.mu.Lock()
	defer b.mu.Unlock()

	hash := hashContent(hdrBytes, msg.Body)
	entries := b.entries[msg.MailboxID]
	for _, e := range entries {
		if e.uid == msg.UID {
			b.unrefLocked(e.contentHash)
			e.modSeq = msg.ModSeq
			e.flags = msg.Flags.Clone()
			e.contentHash = hash
			b.refLocked(hash, hdrBytes, msg.Body)
			return nil
		}
	}

	b.refLocked(hash, hdrBytes, msg.Body)
	b.entries[msg.MailboxID] = append(entries, &entry{
		mailbox:      msg.MailboxID,
		uid:          msg.UID,
		modSeq:       msg.ModSeq,
		internalDate: toUnixNano(msg.InternalDate),
		flags:        msg.Flags.Clone(),
		contentHash:  hash,
	})
	return nil
}

func (b *backend) refLocked(hash string, header, body []byte) {
	bl, ok := b.blobs[hash]
	if !ok {
		bl = &blob{header: header, body: body}
		b.blobs[hash] = bl
	}
	bl.refCount++
}

func (b *backend) unrefLocked(hash string) {
	bl, ok := b.blobs[hash]
	if !ok {
		return
	}
	bl.refCount--
	if bl.refCount <= 0 {
		delete(b.blobs, hash)
	}
}

func (b *backend) CopyMessage(_ context.Context, src *mailstore.Message[uuid.UUID], destMbox uuid.UUID) (*mailstore.Message[uuid.UUID], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var srcEntry *entry
	for _, e := range b.entries[src.MailboxID] {
		if e.uid == src.UID {
			srcEntry = e
			break
		}
	}
	if srcEntry == nil {
		return nil, mailstore.ErrMessageNotFound
	}

	cp := *src
	cp.MailboxID = destMbox
	cp.Flags = src.Flags.Clone()
	return &cp, nil
}

func (b *backend) DeleteMessage(_ context.Context, mbox uuid.UUID, uid uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.entries[mbox]
	for i, e := range entries {
		if e.uid == uid {
			b.unrefLocked(e.contentHash)
			b.entries[mbox] = append(entries[:i], entries[i+1:]...)
			return nil
		}
	}
	return mailstore.ErrMessageNotFound
}

// hasContent reports whether a blob with this exact header+body already
// exists, meaning an append of it would add zero new bytes to the pool.
func (b *backend) hasContent(header textproto.Header, body []byte) bool {
	hash := hashContent(encodeHeader(header), body)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.blobs[hash]
	return ok
}

// usedBytes sums the de-duplicated body size of every blob referenced
// by at least one entry belonging to any mailbox in owned.
func (b *backend) usedBytes(owned map[uuid.UUID]bool) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[string]bool)
	var total int64
	for mbox, entries := range b.entries {
		if !owned[mbox] {
			continue
		}
		for _, e := range entries {
			if seen[e.contentHash] {
				continue
			}
			seen[e.contentHash] = true
			if bl, ok := b.blobs[e.contentHash]; ok {
				total += int64(len(bl.body))
			}
		}
	}
	return total
}
