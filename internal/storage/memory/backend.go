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

// Package memory implements the plain-map mailstore backend: every
// mailbox and message lives in process memory, addressed by an int
// mailbox ID allocated from a single counter shared across all users.
package memory

import (
	"context"
	"sync"

	"github.com/tidemail/store/internal/mailstore"
)

// backend is the mailstore.BackendOps[int] + mailstore.SequenceSource[int]
// implementation shared by every account's mailboxes, generalized from
// the Mailbox.messages/nextUID fields a single IMAP mailbox used to carry
// on its own. Quota accounting happens one layer up, in Storage.Append,
// since a backend primitive has no notion of "the owning account".
type backend struct {
	mu       sync.Mutex
	messages map[int][]*mailstore.Message[int]
	mboxes   *mailboxMapper
}

func newBackend() *backend {
	return &backend{messages: make(map[int][]*mailstore.Message[int])}
}

// SaveSequences persists lastUID/highestModSeq on the mailbox's own
// record, the hint CalculateLastUID/CalculateHighestModSeq fall back to
// when a backend can't cheaply recompute a MAX() and the value a counter
// skip-ahead (expunge) needs to survive a restart.
func (b *backend) SaveSequences(_ context.Context, mbox int, lastUID uint32, highestModSeq uint64) error {
	if b.mboxes == nil {
		return nil
	}
	b.mboxes.mu.Lock()
	defer b.mboxes.mu.Unlock()
	for _, m := range b.mboxes.byOwnerPath {
		if m.ID == mbox {
			m.LastUID = lastUID
			m.HighestModSeq = highestModSeq
			return nil
		}
	}
	return nil
}

// CalculateLastUID scans the mailbox's own messages for MAX(uid). A zero
// result (an empty mailbox after an expunge skip-ahead bump) falls back
// to the mailbox's persisted LastUID hint.
func (b *backend) CalculateLastUID(_ context.Context, mbox int) (uint32, error) {
	b.mu.Lock()
	var max uint32
	for _, m := range b.messages[mbox] {
		if m.UID > max {
			max = m.UID
		}
	}
	b.mu.Unlock()
	if max > 0 || b.mboxes == nil {
		return max, nil
	}
	return b.mboxes.lastUID(mbox), nil
}

func (b *backend) CalculateHighestModSeq(_ context.Context, mbox int) (uint64, error) {
	b.mu.Lock()
	var max uint64
	for _, m := range b.messages[mbox] {
		if m.ModSeq > max {
			max = m.ModSeq
		}
	}
	b.mu.Unlock()
	if max > 0 || b.mboxes == nil {
		return max, nil
	}
	return b.mboxes.highestModSeq(mbox), nil
}

type messageIterator struct {
	msgs []*mailstore.Message[int]
	pos  int
}

func (it *messageIterator) Next() (*mailstore.Message[int], bool, error) {
	if it.pos >= len(it.msgs) {
		return nil, false, nil
	}
	m := it.msgs[it.pos]
	it.pos++
	return m, true, nil
}

func (b *backend) FindMessages(_ context.Context, mbox int, opts mailstore.FindOptions) (mailstore.MessageIterator[int], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	all := b.messages[mbox]
	out := make([]*mailstore.Message[int], 0, len(all))
	for i, m := range all {
		if opts.UIDs != nil && !opts.UIDs.Contains(m.UID) {
			continue
		}
		if opts.SeqNums != nil && !opts.SeqNums.Contains(uint32(i+1)) {
			continue
		}
		out = append(out, m)
	}
	return &messageIterator{msgs: out}, nil
}

func (b *backend) FindByUID(_ context.Context, mbox int, uid uint32) (*mailstore.Message[int], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.messages[mbox] {
		if m.UID == uid {
			return m, nil
		}
	}
	return nil, mailstore.ErrMessageNotFound
}

func (b *backend) SaveMessage(_ context.Context, msg *mailstore.Message[int]) error {
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

func (b *backend) CopyMessage(_ context.Context, src *mailstore.Message[int], destMbox int) (*mailstore.Message[int], error) {
	cp := *src
	cp.MailboxID = destMbox
	cp.Body = append([]byte(nil), src.Body...)
	cp.Flags = src.Flags.Clone()
	return &cp, nil
}

func (b *backend) DeleteMessage(_ context.Context, mbox int, uid uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.messages[mbox]
	for i, m := range msgs {
		if m.UID == uid {
			b.messages[mbox] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return mailstore.ErrMessageNotFound
}
