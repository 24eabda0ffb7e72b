package sqlstore

import (
	"strings"

	"github.com/tidemail/store/internal/mailstore"
)

// encodeFlags serializes a FlagSet as a space-separated string stored in
// a single column of the message row.
func encodeFlags(flags mailstore.FlagSet) string {
	parts := flags.Slice()
	out := make([]string, len(parts))
	for i, f := range parts {
		out[i] = string(f)
	}
	return strings.Join(out, " ")
}

func decodeFlags(s string) mailstore.FlagSet {
	set := mailstore.NewFlagSet()
	for _, f := range strings.Fields(s) {
		set.Add(mailstore.Flag(f))
	}
	return set
}
