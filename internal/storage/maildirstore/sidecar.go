package maildirstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/tidemail/store/internal/mailstore"
)

const sidecarName = ".mailstore-index.json"

// sidecarEntry is entry's on-disk JSON projection; a plain Maildir has
// no place to keep UID/MODSEQ, so it rides alongside the cur/new/tmp
// directories in a small index file this backend owns exclusively.
type sidecarEntry struct {
	Key          string   `json:"key"`
	UID          uint32   `json:"uid"`
	ModSeq       uint64   `json:"modseq"`
	InternalDate int64    `json:"internal_date"`
	Flags        []string `json:"flags"`
}

// sidecarFile is the whole on-disk index: the per-message entries plus
// the mailbox-level LastUID/HighestModSeq hint save_sequences persists,
// which a skip-ahead counter advance (expunge) needs since it has no
// message entry of its own to be recomputed from.
type sidecarFile struct {
	Entries       []sidecarEntry `json:"entries"`
	LastUID       uint32         `json:"last_uid"`
	HighestModSeq uint64         `json:"highest_modseq"`
}

func loadSidecar(md *mboxDir) error {
	raw, err := os.ReadFile(filepath.Join(md.path, sidecarName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var sf sidecarFile
	if err := json.Unmarshal(raw, &sf); err != nil {
		return err
	}
	md.entries = make([]*entry, 0, len(sf.Entries))
	for _, se := range sf.Entries {
		flags := make([]mailstore.Flag, len(se.Flags))
		for i, f := range se.Flags {
			flags[i] = mailstore.Flag(f)
		}
		md.entries = append(md.entries, &entry{
			key: se.Key, uid: se.UID, modSeq: se.ModSeq,
			internalDate: time.Unix(0, se.InternalDate).UTC(),
			flags:        mailstore.NewFlagSet(flags...),
		})
	}
	md.lastUID = sf.LastUID
	md.highestModSeq = sf.HighestModSeq
	return nil
}

// saveSidecar must be called with md.mu held.
func saveSidecar(md *mboxDir) error {
	sf := sidecarFile{
		Entries:       make([]sidecarEntry, 0, len(md.entries)),
		LastUID:       md.lastUID,
		HighestModSeq: md.highestModSeq,
	}
	for _, e := range md.entries {
		sf.Entries = append(sf.Entries, sidecarEntry{
			Key: e.key, UID: e.uid, ModSeq: e.modSeq,
			InternalDate: e.internalDate.UnixNano(),
			Flags:        flagsToStrings(e.flags),
		})
	}
	raw, err := json.Marshal(sf)
	if err != nil {
		return err
	}
	tmp := filepath.Join(md.path, sidecarName+".tmp")
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(md.path, sidecarName))
}

func flagsToStrings(flags mailstore.FlagSet) []string {
	slice := flags.Slice()
	out := make([]string, len(slice))
	for i, f := range slice {
		out[i] = string(f)
	}
	return out
}
