package query

import (
	"sort"
	"strings"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// Solution maps variable names, without the leading ?, to terms. Unbound
// variables are absent.
type Solution map[string]rdf.Term

// Get returns the term bound to name, or nil when the variable is unbound.
// A leading ? or $ is ignored.
func (s Solution) Get(name string) rdf.Term {
	name = strings.TrimLeft(name, "?$")
	return s[name]
}

// Bound reports whether name has a value.
func (s Solution) Bound(name string) bool {
	return s.Get(name) != nil
}

func (s Solution) clone() Solution {
	out := make(Solution, len(s)+1)
	for name, term := range s {
		out[name] = term
	}
	return out
}

// compatible reports whether every variable bound in both solutions is
// bound to the same term.
func compatible(a, b Solution) bool {
	if len(b) < len(a) {
		a, b = b, a
	}
	for name, term := range a {
		if other, ok := b[name]; ok && !rdf.Equal(term, other) {
			return false
		}
	}
	return true
}

func merge(a, b Solution) Solution {
	out := make(Solution, len(a)+len(b))
	for name, term := range a {
		out[name] = term
	}
	for name, term := range b {
		out[name] = term
	}
	return out
}

// key identifies a solution by its bindings, independent of map order.
func (s Solution) key() string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	var builder strings.Builder
	for _, name := range names {
		builder.WriteString(name)
		builder.WriteByte(0)
		builder.WriteString(s[name].Key())
		builder.WriteByte(1)
	}
	return builder.String()
}
