package store

import "github.com/coolbeans/exocortex/pkg/rdf"

// Pattern represents a pattern for matching triples.
// Nil positions act as wildcards that match any term.
type Pattern struct {
	Subject   rdf.Term
	Predicate rdf.Term
	Object    rdf.Term
}

// NewPattern creates a new pattern for querying. Use nil for wildcards.
func NewPattern(subject, predicate, object rdf.Term) Pattern {
	return Pattern{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}
}

// Matches checks if a triple matches this pattern.
func (p Pattern) Matches(t rdf.Triple) bool {
	if p.Subject != nil && !rdf.Equal(p.Subject, t.Subject) {
		return false
	}
	if p.Predicate != nil && !rdf.Equal(p.Predicate, t.Predicate) {
		return false
	}
	if p.Object != nil && !rdf.Equal(p.Object, t.Object) {
		return false
	}
	return true
}

// WildcardCount returns the number of wildcard components.
func (p Pattern) WildcardCount() int {
	count := 0
	if p.Subject == nil {
		count++
	}
	if p.Predicate == nil {
		count++
	}
	if p.Object == nil {
		count++
	}
	return count
}
