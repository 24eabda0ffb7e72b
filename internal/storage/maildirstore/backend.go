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

// Package maildirstore implements a mailstore backend on top of one
// Maildir directory per mailbox, using github.com/emersion/go-maildir
// for the on-disk cur/new/tmp layout and flag-suffix encoding. UID and
// MODSEQ bookkeeping — which plain Maildir has no room for — lives in a
// small sidecar index file read at startup and rewritten after every
// mutation, the same "metadata next to the blobs" split a relational
// backend keeps in its messages table.
package maildirstore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	maildirfmt "github.com/emersion/go-maildir"
	"github.com/emersion/go-message/textproto"

	"github.com/tidemail/store/internal/mailstore"
)

// entry mirrors one message's sidecar metadata; Key is the Maildir
// unique key go-maildir assigned it, independent of our own UID.
type entry struct {
	key          string
	uid          uint32
	modSeq       uint64
	internalDate time.Time
	flags        mailstore.FlagSet
}

// mboxDir pairs a mailbox's on-disk Maildir with its in-memory sidecar.
type mboxDir struct {
	mu            sync.Mutex
	id            int
	dir           maildirfmt.Dir
	path          string
	entries       []*entry
	lastUID       uint32
	highestModSeq uint64
}

// backend is the mailstore.BackendOps[int] + SequenceSource[int]
// implementation; mailbox IDs index into dirs, one per Maildir root.
type backend struct {
	mu   sync.Mutex
	dirs map[int]*mboxDir
}

func newBackend() *backend {
	return &backend{dirs: make(map[int]*mboxDir)}
}

// openMailbox creates (if needed) the Maildir at path and registers it
// under id, loading any sidecar index already on disk.
func (b *backend) openMailbox(id int, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.dirs[id]; ok {
		return nil
	}
	dir := maildirfmt.Dir(path)
	if err := dir.Init(); err != nil {
		return fmt.Errorf("maildirstore: init %s: %w", path, err)
	}
	md := &mboxDir{id: id, dir: dir, path: path}
	if err := loadSidecar(md); err != nil {
		return err
	}
	b.dirs[id] = md
	return nil
}

func (b *backend) mbox(id int) (*mboxDir, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	md, ok := b.dirs[id]
	if !ok {
		return nil, mailstore.StorageErrorf("maildirstore: mailbox %d not open", id)
	}
	return md, nil
}

func (b *backend) dropMailbox(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.dirs, id)
}

// CalculateLastUID scans the sidecar's entries for MAX(uid), falling
// back to the sidecar's own persisted LastUID hint when the mailbox has
// no entries left to scan (everything expunged since the last bump).
func (b *backend) CalculateLastUID(_ context.Context, id int) (uint32, error) {
	md, err := b.mbox(id)
	if err != nil {
		return 0, err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	var max uint32
	for _, e := range md.entries {
		if e.uid > max {
			max = e.uid
		}
	}
	if max > 0 {
		return max, nil
	}
	return md.lastUID, nil
}

func (b *backend) CalculateHighestModSeq(_ context.Context, id int) (uint64, error) {
	md, err := b.mbox(id)
	if err != nil {
		return 0, err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	var max uint64
	for _, e := range md.entries {
		if e.modSeq > max {
			max = e.modSeq
		}
	}
	if max > 0 {
		return max, nil
	}
	return md.highestModSeq, nil
}

// SaveSequences writes the mailbox-level counter hint into the sidecar,
// the persistence save_sequences requires for an expunge's skip-ahead
// UID/MODSEQ bump to survive a restart.
func (b *backend) SaveSequences(_ context.Context, id int, lastUID uint32, highestModSeq uint64) error {
	md, err := b.mbox(id)
	if err != nil {
		return err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	md.lastUID = lastUID
	md.highestModSeq = highestModSeq
	return saveSidecar(md)
}

type entryIterator struct {
	md    *mboxDir
	items []*entry
	pos   int
}

func (it *entryIterator) Next() (*mailstore.Message[int], bool, error) {
	if it.pos >= len(it.items) {
		return nil, false, nil
	}
	e := it.items[it.pos]
	it.pos++
	return it.md.toMessage(e)
}

// readMessage opens key's raw on-disk file and splits it into header and
// body itself, rather than trusting any header/body split the library
// might expose separately — a message's size (for SEARCH LARGER/SMALLER)
// must match exactly what was written, body-only.
func (md *mboxDir) readMessage(key string) (textproto.Header, []byte, error) {
	f, err := md.dir.Open(key)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("maildirstore: open %s: %w", key, err)
	}
	defer f.Close()
	br := bufio.NewReader(f)
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("maildirstore: read header %s: %w", key, err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return textproto.Header{}, nil, fmt.Errorf("maildirstore: read body %s: %w", key, err)
	}
	return hdr, body, nil
}

func (md *mboxDir) toMessage(e *entry) (*mailstore.Message[int], bool, error) {
	hdr, body, err := md.readMessage(e.key)
	if err != nil {
		return nil, false, err
	}
	return &mailstore.Message[int]{
		MailboxID: md.id,
		UID:       e.uid, InternalDate: e.internalDate, Size: uint32(len(body)),
		Flags: e.flags.Clone(), ModSeq: e.modSeq, Header: hdr, Body: body,
	}, true, nil
}

func (b *backend) FindMessages(_ context.Context, id int, opts mailstore.FindOptions) (mailstore.MessageIterator[int], error) {
	md, err := b.mbox(id)
	if err != nil {
		return nil, err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	out := make([]*entry, 0, len(md.entries))
	for i, e := range md.entries {
		if opts.UIDs != nil && !opts.UIDs.Contains(e.uid) {
			continue
		}
		if opts.SeqNums != nil && !opts.SeqNums.Contains(uint32(i+1)) {
			continue
		}
		out = append(out, e)
	}
	return &entryIterator{md: md, items: out}, nil
}

func (b *backend) FindByUID(_ context.Context, id int, uid uint32) (*mailstore.Message[int], error) {
	md, err := b.mbox(id)
	if err != nil {
		return nil, err
	}
	md.mu.Lock()
	for _, e := range md.entries {
		if e.uid == uid {
			md.mu.Unlock()
			msg, _, err := md.toMessage(e)
			return msg, err
		}
	}
	md.mu.Unlock()
	return nil, mailstore.ErrMessageNotFound
}

func (b *backend) SaveMessage(_ context.Context, msg *mailstore.Message[int]) error {
	md, err := b.mbox(msg.MailboxID)
	if err != nil {
		return err
	}

	md.mu.Lock()
	defer md.mu.Unlock()

	for _, e := range md.entries {
		if e.uid == msg.UID {
			if err := md.dir.SetFlags(e.key, toMaildirFlags(msg.Flags)); err != nil {
				return fmt.Errorf("maildirstore: set flags: %w", err)
			}
			e.modSeq = msg.ModSeq
			e.flags = msg.Flags.Clone()
			return saveSidecar(md)
		}
	}

	key, w, err := md.dir.Create(toMaildirFlags(msg.Flags))
	if err != nil {
		return fmt.Errorf("maildirstore: create: %w", err)
	}
	if err := textproto.WriteHeader(w, msg.Header); err != nil {
		w.Close()
		return fmt.Errorf("maildirstore: write header: %w", err)
	}
	if _, err := w.Write(msg.Body); err != nil {
		w.Close()
		return fmt.Errorf("maildirstore: write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("maildirstore: close: %w", err)
	}

	md.entries = append(md.entries, &entry{
		key: key, uid: msg.UID, modSeq: msg.ModSeq,
		internalDate: msg.InternalDate, flags: msg.Flags.Clone(),
	})
	return saveSidecar(md)
}

// CopyMessage reads the source message's on-disk content and hands back
// a transient, not-yet-persisted Message; the caller assigns the final
// UID/MODSEQ and commits it with a subsequent SaveMessage call, the same
// two-step contract every other backend's CopyMessage follows.
func (b *backend) CopyMessage(_ context.Context, src *mailstore.Message[int], destMbox int) (*mailstore.Message[int], error) {
	srcMD, err := b.mbox(src.MailboxID)
	if err != nil {
		return nil, err
	}

	srcMD.mu.Lock()
	var srcEntry *entry
	for _, e := range srcMD.entries {
		if e.uid == src.UID {
			srcEntry = e
			break
		}
	}
	srcMD.mu.Unlock()
	if srcEntry == nil {
		return nil, mailstore.ErrMessageNotFound
	}

	hdr, body, err := srcMD.readMessage(srcEntry.key)
	if err != nil {
		return nil, err
	}

	cp := *src
	cp.MailboxID = destMbox
	cp.Header = hdr
	cp.Body = body
	cp.Flags = src.Flags.Clone()
	return &cp, nil
}

func (b *backend) DeleteMessage(_ context.Context, id int, uid uint32) error {
	md, err := b.mbox(id)
	if err != nil {
		return err
	}
	md.mu.Lock()
	defer md.mu.Unlock()
	for i, e := range md.entries {
		if e.uid == uid {
			if err := md.dir.Remove(e.key); err != nil {
				return fmt.Errorf("maildirstore: remove %s: %w", e.key, err)
			}
			md.entries = append(md.entries[:i], md.entries[i+1:]...)
			return saveSidecar(md)
		}
	}
	return mailstore.ErrMessageNotFound
}

func (b *backend) usedBytes(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
