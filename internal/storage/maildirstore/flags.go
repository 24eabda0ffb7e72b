package maildirstore

import (
	maildirfmt "github.com/emersion/go-maildir"

	"github.com/tidemail/store/internal/mailstore"
)

// toMaildirFlags projects a FlagSet onto the five standard Maildir
// flag letters for on-disk interoperability with other MUAs. \Recent
// and any keyword outside this set only ever live in the sidecar index,
// which is this backend's actual source of truth.
func toMaildirFlags(flags mailstore.FlagSet) []maildirfmt.Flag {
	var out []maildirfmt.Flag
	if flags.Has(mailstore.FlagSeen) {
		out = append(out, maildirfmt.FlagSeen)
	}
	if flags.Has(mailstore.FlagAnswered) {
		out = append(out, maildirfmt.FlagReplied)
	}
	if flags.Has(mailstore.FlagFlagged) {
		out = append(out, maildirfmt.FlagFlagged)
	}
	if flags.Has(mailstore.FlagDeleted) {
		out = append(out, maildirfmt.FlagTrashed)
	}
	if flags.Has(mailstore.FlagDraft) {
		out = append(out, maildirfmt.FlagDraft)
	}
	return out
}
