package mailstore

import (
	"regexp"
	"strings"
	"sync"
)

// MatchMailboxPattern reports whether path satisfies an IMAP LIST-style
// mailbox pattern: '*' matches any sequence of characters, including the
// hierarchy delimiter, while '%' matches any sequence of characters except
// the delimiter, so "%" lists one level of a hierarchy without descending
// into it and "*" lists a whole subtree.
func MatchMailboxPattern(pattern, path string, delimiter rune) bool {
	return compileMailboxPattern(pattern, delimiter).MatchString(path)
}

var patternCache sync.Map // map[patternCacheKey]*regexp.Regexp

type patternCacheKey struct {
	pattern   string
	delimiter rune
}

func compileMailboxPattern(pattern string, delimiter rune) *regexp.Regexp {
	key := patternCacheKey{pattern, delimiter}
	if re, ok := patternCache.Load(key); ok {
		return re.(*regexp.Regexp)
	}

	var b strings.Builder
	b.WriteByte('^')
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '%':
			b.WriteString("[^")
			b.WriteString(regexp.QuoteMeta(string(delimiter)))
			b.WriteString("]*")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	re := regexp.MustCompile(b.String())
	patternCache.Store(key, re)
	return re
}
