package mailstore

import (
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
)

// Searchable is the view of a message a Criterion evaluates against. It is
// deliberately not generic over a mailbox ID — search semantics never
// depend on the backend's identifier type, only on flags, size, dates and
// content, so every backend converts its own Message[ID] into one of
// these before running a query.
type Searchable struct {
	UID          uint32
	ModSeq       uint64
	Flags        FlagSet
	Size         uint32
	InternalDate time.Time
	Header       textproto.Header

	// Recent is this session's view of \Recent, a per-session claim
	// computed via Session.ClaimRecent rather than a bit persisted on
	// the message — once one session has claimed a uid as recent, no
	// other session (and no later search by this one) sees it as Recent
	// again. Callers that don't thread a session through Search fall
	// back to the message's own persisted flag.
	Recent bool

	// BodyText lazily fetches the message body as text; nil if the
	// backend has no cheap way to produce it (the Text criterion then
	// evaluates false rather than faulting the whole search).
	BodyText func() (string, error)
}

// Criterion is one node of a SEARCH query tree. Evaluate must be pure and
// side-effect free except for invoking Searchable.BodyText, which a
// backend may implement as a lazy disk read.
type Criterion interface {
	Evaluate(m *Searchable) (bool, error)
}

// CriterionAll matches every message.
type CriterionAll struct{}

func (CriterionAll) Evaluate(*Searchable) (bool, error) { return true, nil }

// CriterionUID matches messages whose UID falls in Set.
type CriterionUID struct {
	Set SeqSet
}

func (c CriterionUID) Evaluate(m *Searchable) (bool, error) {
	return c.Set.Contains(m.UID), nil
}

// CriterionFlag matches on the presence or absence of a single flag.
type CriterionFlag struct {
	Flag    Flag
	Present bool
}

func (c CriterionFlag) Evaluate(m *Searchable) (bool, error) {
	if c.Flag == FlagRecent {
		return m.Recent == c.Present, nil
	}
	return m.Flags.Has(c.Flag) == c.Present, nil
}

// SizeOp selects the comparison a CriterionSize performs.
type SizeOp int

const (
	SizeLarger SizeOp = iota
	SizeSmaller
)

// CriterionSize matches on message octet size.
type CriterionSize struct {
	Op SizeOp
	N  uint32
}

func (c CriterionSize) Evaluate(m *Searchable) (bool, error) {
	switch c.Op {
	case SizeLarger:
		return m.Size > c.N, nil
	case SizeSmaller:
		return m.Size < c.N, nil
	default:
		return false, ErrUnsupportedSearch
	}
}

// DateOp selects the comparison a CriterionInternalDate performs, applied
// after truncating both sides to whole days per RFC 3501 date semantics.
type DateOp int

const (
	DateBefore DateOp = iota
	DateOn
	DateSince
)

// CriterionInternalDate matches on the message's internal date, compared
// at day granularity.
type CriterionInternalDate struct {
	Op   DateOp
	Date time.Time
}

func (c CriterionInternalDate) Evaluate(m *Searchable) (bool, error) {
	day := m.InternalDate.Truncate(24 * time.Hour)
	ref := c.Date.Truncate(24 * time.Hour)
	switch c.Op {
	case DateBefore:
		return day.Before(ref), nil
	case DateOn:
		return day.Equal(ref), nil
	case DateSince:
		return !day.Before(ref), nil
	default:
		return false, ErrUnsupportedSearch
	}
}

// CriterionHeader matches a header field, case-insensitively. An empty
// Value only tests whether the field is present at all (HEADER <field> "").
type CriterionHeader struct {
	Field string
	Value string
}

func (c CriterionHeader) Evaluate(m *Searchable) (bool, error) {
	v := m.Header.Get(c.Field)
	if c.Value == "" {
		return m.Header.Has(c.Field), nil
	}
	return strings.Contains(strings.ToLower(v), strings.ToLower(c.Value)), nil
}

// TextScope selects what a CriterionText searches.
type TextScope int

const (
	TextBody TextScope = iota
	TextFull
)

// CriterionText matches a substring within the message body (BODY) or the
// header-plus-body (TEXT), case-insensitively.
type CriterionText struct {
	Scope TextScope
	Value string
}

func (c CriterionText) Evaluate(m *Searchable) (bool, error) {
	if m.BodyText == nil {
		return false, nil
	}
	body, err := m.BodyText()
	if err != nil {
		return false, err
	}

	haystack := body
	if c.Scope == TextFull {
		var sb strings.Builder
		fields := m.Header.Fields()
		for fields.Next() {
			sb.WriteString(fields.Key())
			sb.WriteString(": ")
			sb.WriteString(fields.Value())
			sb.WriteString("\r\n")
		}
		sb.WriteString(body)
		haystack = sb.String()
	}

	return strings.Contains(strings.ToLower(haystack), strings.ToLower(c.Value)), nil
}

// ConjOp selects how a CriterionConjunction combines its children.
type ConjOp int

const (
	ConjAnd ConjOp = iota
	ConjOr
	ConjNot
)

// CriterionConjunction combines child criteria with AND/OR/NOT. NOT
// expects exactly one child.
type CriterionConjunction struct {
	Op       ConjOp
	Children []Criterion
}

func (c CriterionConjunction) Evaluate(m *Searchable) (bool, error) {
	switch c.Op {
	case ConjAnd:
		for _, ch := range c.Children {
			ok, err := ch.Evaluate(m)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case ConjOr:
		for _, ch := range c.Children {
			ok, err := ch.Evaluate(m)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case ConjNot:
		if len(c.Children) != 1 {
			return false, ErrUnsupportedSearch
		}
		ok, err := c.Children[0].Evaluate(m)
		return !ok, err
	default:
		return false, ErrUnsupportedSearch
	}
}
