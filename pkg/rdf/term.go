package rdf

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// TermKind identifies the variant of a Term.
type TermKind int

// Kinds are declared in ORDER BY rank: blank nodes sort before IRIs,
// IRIs before literals.
const (
	KindBlankNode TermKind = iota + 1
	KindIRI
	KindLiteral
)

func (k TermKind) String() string {
	switch k {
	case KindBlankNode:
		return "bnode"
	case KindIRI:
		return "uri"
	case KindLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// Term is an RDF term: an IRI, a Literal or a BlankNode. The set of
// implementations is closed.
type Term interface {
	Kind() TermKind
	// Value returns the IRI string, the lexical form or the blank node label.
	Value() string
	// String returns the N-Triples rendering of the term.
	String() string
	// Key returns a string that is equal for two terms iff the terms are equal.
	Key() string
	isTerm()
}

// IRI is an absolute identifier.
type IRI string

func (IRI) Kind() TermKind   { return KindIRI }
func (i IRI) Value() string  { return string(i) }
func (i IRI) String() string { return "<" + escapeIRI(string(i)) + ">" }
func (i IRI) Key() string    { return "I" + string(i) }
func (IRI) isTerm()          {}

// BlankNode is a locally scoped anonymous resource.
type BlankNode string

func (BlankNode) Kind() TermKind   { return KindBlankNode }
func (b BlankNode) Value() string  { return string(b) }
func (b BlankNode) String() string { return "_:" + string(b) }
func (b BlankNode) Key() string    { return "B" + string(b) }
func (BlankNode) isTerm()          {}

// Literal is a lexical value with an optional datatype or language tag.
// Use the constructors so that equal literals compare equal with ==.
type Literal struct {
	Lexical  string
	Datatype IRI
	Language string
}

// NewLiteral creates a plain literal.
func NewLiteral(lexical string) Literal {
	return Literal{Lexical: lexical}
}

// NewTypedLiteral creates a literal with a datatype. xsd:string is the
// implicit datatype of plain literals and is dropped.
func NewTypedLiteral(lexical string, datatype IRI) Literal {
	if datatype == XSDString {
		datatype = ""
	}
	return Literal{Lexical: lexical, Datatype: datatype}
}

// NewLangLiteral creates a language-tagged literal. The tag is stored in
// its canonical BCP 47 form so that "en-us" and "en-US" are the same term.
func NewLangLiteral(lexical, lang string) Literal {
	return Literal{Lexical: lexical, Language: CanonicalLanguage(lang)}
}

// NewIntegerLiteral creates an xsd:integer literal.
func NewIntegerLiteral(n int64) Literal {
	return Literal{Lexical: strconv.FormatInt(n, 10), Datatype: XSDInteger}
}

// NewDecimalLiteral creates an xsd:decimal literal.
func NewDecimalLiteral(f float64) Literal {
	return Literal{Lexical: strconv.FormatFloat(f, 'f', -1, 64), Datatype: XSDDecimal}
}

// NewBooleanLiteral creates an xsd:boolean literal.
func NewBooleanLiteral(b bool) Literal {
	return Literal{Lexical: strconv.FormatBool(b), Datatype: XSDBoolean}
}

// CanonicalLanguage normalizes a language tag.
func CanonicalLanguage(lang string) string {
	if lang == "" {
		return ""
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return strings.ToLower(lang)
	}
	return tag.String()
}

func (Literal) Kind() TermKind  { return KindLiteral }
func (l Literal) Value() string { return l.Lexical }
func (Literal) isTerm()         {}

func (l Literal) String() string {
	s := `"` + EscapeLiteral(l.Lexical) + `"`
	switch {
	case l.Language != "":
		return s + "@" + l.Language
	case l.Datatype != "":
		return s + "^^" + l.Datatype.String()
	default:
		return s
	}
}

// Key doubles any NUL in the lexical form so a lone NUL always starts
// the language or datatype suffix.
func (l Literal) Key() string {
	lexical := strings.ReplaceAll(l.Lexical, "\x00", "\x00\x00")
	switch {
	case l.Language != "":
		return "L" + lexical + "\x00@" + l.Language
	case l.Datatype != "":
		return "L" + lexical + "\x00^" + string(l.Datatype)
	default:
		return "L" + lexical
	}
}

var numericLexical = regexp.MustCompile(`^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`)

// Numeric returns the numeric value of the literal when its lexical form
// parses as a number.
func (l Literal) Numeric() (float64, bool) {
	lexical := strings.TrimSpace(l.Lexical)
	if !numericLexical.MatchString(lexical) {
		return 0, false
	}
	f, err := strconv.ParseFloat(lexical, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// IsInteger reports whether the literal's lexical form is an integer.
func (l Literal) IsInteger() bool {
	_, err := strconv.ParseInt(strings.TrimSpace(l.Lexical), 10, 64)
	return err == nil
}

// Equal reports whether two terms are the same RDF term. A nil term is
// only equal to another nil term.
func Equal(a, b Term) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Key() == b.Key()
}

// Compare orders terms for ORDER BY: nil (unbound) first, then blank
// nodes, IRIs and literals. Literals compare numerically when both parse
// as numbers and lexically otherwise.
func Compare(a, b Term) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if a.Kind() != b.Kind() {
		return compareInts(int(a.Kind()), int(b.Kind()))
	}

	la, aLit := a.(Literal)
	lb, bLit := b.(Literal)
	if aLit && bLit {
		if fa, ok := la.Numeric(); ok {
			if fb, ok := lb.Numeric(); ok {
				switch {
				case fa < fb:
					return -1
				case fa > fb:
					return 1
				}
			}
		}
		if c := strings.Compare(la.Lexical, lb.Lexical); c != 0 {
			return c
		}
		if c := strings.Compare(la.Language, lb.Language); c != 0 {
			return c
		}
		return strings.Compare(string(la.Datatype), string(lb.Datatype))
	}

	return strings.Compare(a.Value(), b.Value())
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// EscapeLiteral escapes a lexical form for N-Triples and Turtle output.
func EscapeLiteral(value string) string {
	var builder strings.Builder
	builder.Grow(len(value) + len(value)/8)

	for _, char := range value {
		switch char {
		case '\\':
			builder.WriteString(`\\`)
		case '"':
			builder.WriteString(`\"`)
		case '\n':
			builder.WriteString(`\n`)
		case '\r':
			builder.WriteString(`\r`)
		case '\t':
			builder.WriteString(`\t`)
		default:
			builder.WriteRune(char)
		}
	}

	return builder.String()
}

// escapeIRI escapes characters not allowed in IRIs within angle brackets.
func escapeIRI(iri string) string {
	if !strings.ContainsAny(iri, "<>\" {}") {
		return iri
	}

	var builder strings.Builder
	builder.Grow(len(iri))

	for _, char := range iri {
		switch char {
		case '<':
			builder.WriteString(`\u003C`)
		case '>':
			builder.WriteString(`\u003E`)
		case '"':
			builder.WriteString(`\u0022`)
		case ' ':
			builder.WriteString(`\u0020`)
		case '{':
			builder.WriteString(`\u007B`)
		case '}':
			builder.WriteString(`\u007D`)
		default:
			builder.WriteRune(char)
		}
	}

	return builder.String()
}
