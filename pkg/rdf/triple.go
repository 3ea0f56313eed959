package rdf

import (
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
)

// Triple is an RDF subject-predicate-object statement.
//   - Subject: an IRI or a blank node
//   - Predicate: an IRI
//   - Object: any term
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// NewTriple creates a new triple with the given components.
func NewTriple(subject, predicate, object Term) Triple {
	return Triple{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}
}

// Equals checks if two triples have identical components.
func (t Triple) Equals(other Triple) bool {
	return Equal(t.Subject, other.Subject) &&
		Equal(t.Predicate, other.Predicate) &&
		Equal(t.Object, other.Object)
}

// Validate reports whether every position holds a term of an allowed kind.
func (t Triple) Validate() error {
	switch {
	case t.Subject == nil || t.Predicate == nil || t.Object == nil:
		return exoerr.New(exoerr.CodeStoreTripleInvalidInput, "triple components cannot be empty")
	case t.Subject.Kind() == KindLiteral:
		return exoerr.New(exoerr.CodeStoreTripleInvalidInput, "triple subject must be an IRI or blank node",
			exoerr.Field("subject", t.Subject.String()))
	case t.Predicate.Kind() != KindIRI:
		return exoerr.New(exoerr.CodeStoreTripleInvalidInput, "triple predicate must be an IRI",
			exoerr.Field("predicate", t.Predicate.String()))
	}
	return nil
}

// IsValid returns true if Validate accepts the triple.
func (t Triple) IsValid() bool {
	return t.Validate() == nil
}

// Key returns a string that identifies the triple within a set.
func (t Triple) Key() string {
	return termKey(t.Subject) + "\x01" + termKey(t.Predicate) + "\x01" + termKey(t.Object)
}

// String returns the triple in N-Triples format, without the trailing dot.
func (t Triple) String() string {
	return termString(t.Subject) + " " + termString(t.Predicate) + " " + termString(t.Object)
}

// NTriples returns the triple as a complete N-Triples statement.
func (t Triple) NTriples() string {
	return t.String() + " ."
}

func termKey(term Term) string {
	if term == nil {
		return ""
	}
	return term.Key()
}

func termString(term Term) string {
	if term == nil {
		return "?"
	}
	return term.String()
}
