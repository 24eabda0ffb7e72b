// Package config implements the directive-tree reader every module's
// Init(cfg *config.Map) consumes: a block of child nodes, each a directive
// name followed by positional arguments, matched against typed accessors
// registered before a single Process call resolves them all.
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Node is one directive: a name, its positional arguments, and any nested
// child block, tagged with the source location it was parsed from.
type Node struct {
	Name     string
	Args     []string
	Children []Node
	File     string
	Line     int
}

// NodeErr builds an error identifying the node's source location, the
// shape every Init() in this tree returns on a malformed directive.
func NodeErr(node Node, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if node.File != "" {
		return fmt.Errorf("%s:%d: %s: %s", node.File, node.Line, node.Name, msg)
	}
	return fmt.Errorf("%s: %s", node.Name, msg)
}

type matcher struct {
	name     string
	required bool
	apply    func(Node) error
}

// Map collects directive matchers via Int64/Bool/String/StringList/
// Duration/Custom/Callback, then resolves them against Block's children in
// one Process call.
type Map struct {
	Block   Node
	Globals map[string]Node

	matchers []matcher
}

// NewMap creates a Map over block, with globals available to Custom
// matchers that need to resolve a reference defined elsewhere in the file.
func NewMap(globals map[string]Node, block Node) *Map {
	return &Map{Block: block, Globals: globals}
}

func (m *Map) register(name string, required bool, apply func(Node) error) {
	m.matchers = append(m.matchers, matcher{name: name, required: required, apply: apply})
}

// Int64 registers an integer directive, seeding store with dflt.
func (m *Map) Int64(name string, inheritable, required bool, dflt int64, store *int64) {
	*store = dflt
	m.register(name, required, func(n Node) error {
		if len(n.Args) != 1 {
			return NodeErr(n, "expected exactly one argument")
		}
		v, err := strconv.ParseInt(n.Args[0], 10, 64)
		if err != nil {
			return NodeErr(n, "invalid integer: %v", err)
		}
		*store = v
		return nil
	})
}

// Bool registers a boolean directive. A bare directive with no argument
// sets the flag true, matching "auto_create" usable both as "auto_create"
// and "auto_create no".
func (m *Map) Bool(name string, inheritable, required bool, store *bool) {
	m.register(name, required, func(n Node) error {
		if len(n.Args) == 0 {
			*store = true
			return nil
		}
		v, err := strconv.ParseBool(n.Args[0])
		if err != nil {
			return NodeErr(n, "invalid boolean: %v", err)
		}
		*store = v
		return nil
	})
}

// String registers a single-argument string directive.
func (m *Map) String(name string, inheritable, required bool, dflt string, store *string) {
	*store = dflt
	m.register(name, required, func(n Node) error {
		if len(n.Args) != 1 {
			return NodeErr(n, "expected exactly one argument")
		}
		*store = n.Args[0]
		return nil
	})
}

// StringList registers a directive taking any number of arguments.
func (m *Map) StringList(name string, inheritable, required bool, dflt []string, store *[]string) {
	*store = dflt
	m.register(name, required, func(n Node) error {
		*store = append([]string{}, n.Args...)
		return nil
	})
}

// Duration registers a single-argument time.Duration directive.
func (m *Map) Duration(name string, inheritable, required bool, dflt time.Duration, store *time.Duration) {
	*store = dflt
	m.register(name, required, func(n Node) error {
		if len(n.Args) != 1 {
			return NodeErr(n, "expected exactly one argument")
		}
		v, err := time.ParseDuration(n.Args[0])
		if err != nil {
			return NodeErr(n, "invalid duration: %v", err)
		}
		*store = v
		return nil
	})
}

// Custom registers a directive whose argument parses into an arbitrary
// value via parse, seeded by calling dflt if the directive is absent.
func (m *Map) Custom(name string, inheritable, required bool, dflt func() (interface{}, error), parse func(Node) (interface{}, error), store *interface{}) {
	if dflt != nil {
		if v, err := dflt(); err == nil {
			*store = v
		}
	}
	m.register(name, required, func(n Node) error {
		v, err := parse(n)
		if err != nil {
			return err
		}
		*store = v
		return nil
	})
}

// Callback registers a directive handled entirely by fn, for directives
// that can repeat (each occurrence invokes fn once) or whose shape doesn't
// fit a single scalar store.
func (m *Map) Callback(name string, fn func(m *Map, n Node) error) {
	m.register(name, false, func(n Node) error {
		return fn(m, n)
	})
}

// Process matches every child of Block against the registered matchers,
// applying each match in turn. It returns the children that matched no
// registered directive (callers that accept free-form extensions inspect
// this) and an error if a required directive was absent or a matcher
// failed.
func (m *Map) Process() ([]Node, error) {
	seen := make(map[string]bool, len(m.matchers))
	var unmatched []Node

	for _, child := range m.Block.Children {
		var hit *matcher
		for i := range m.matchers {
			if m.matchers[i].name == child.Name {
				hit = &m.matchers[i]
				break
			}
		}
		if hit == nil {
			unmatched = append(unmatched, child)
			continue
		}
		if err := hit.apply(child); err != nil {
			return nil, err
		}
		seen[hit.name] = true
	}

	for _, mt := range m.matchers {
		if mt.required && !seen[mt.name] {
			return nil, fmt.Errorf("config: missing required directive %q", mt.name)
		}
	}

	return unmatched, nil
}
