// Package sparql parses the supported SPARQL subset into a query AST.
package sparql

import (
	"strings"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// QueryKind is the form of a query.
type QueryKind string

const (
	KindSelect    QueryKind = "SELECT"
	KindConstruct QueryKind = "CONSTRUCT"
	KindAsk       QueryKind = "ASK"
)

// Var is a variable name without the leading ? or $.
type Var string

// Hidden reports whether the variable was introduced by the parser or the
// translator (blank nodes in patterns, aggregate slots) rather than written
// by the user. Hidden variables are never projected by SELECT *.
func (v Var) Hidden() bool {
	return strings.HasPrefix(string(v), ".")
}

func (v Var) String() string {
	return "?" + string(v)
}

// Query is a parsed query.
type Query struct {
	Kind     QueryKind
	Base     string
	Prefixes map[string]string

	Distinct   bool
	Reduced    bool
	Star       bool
	Projection []Projection

	Where *GroupPattern

	GroupBy []Var
	Having  []Expr
	OrderBy []OrderCondition
	Limit   int // -1 when absent
	Offset  int

	// Template holds the CONSTRUCT template.
	Template []TriplePattern

	// Values is a trailing VALUES clause.
	Values *ValuesBlock
}

// HasLimit reports whether the query has a LIMIT clause.
func (q *Query) HasLimit() bool {
	return q.Limit >= 0
}

// Projection is one entry of a SELECT clause: a plain variable, or an
// expression bound to a variable with AS.
type Projection struct {
	Var  Var
	Expr Expr
}

// OrderCondition is one ORDER BY key.
type OrderCondition struct {
	Expr       Expr
	Descending bool
}

// PatternTerm is a position of a triple pattern: either a variable or a
// concrete term.
type PatternTerm struct {
	Var  Var
	Term rdf.Term
}

// IsVar reports whether the position holds a variable.
func (t PatternTerm) IsVar() bool {
	return t.Term == nil
}

func (t PatternTerm) String() string {
	if t.IsVar() {
		return t.Var.String()
	}
	return t.Term.String()
}

// VarTerm returns a pattern position holding v.
func VarTerm(v Var) PatternTerm {
	return PatternTerm{Var: v}
}

// ConstTerm returns a pattern position holding a concrete term.
func ConstTerm(term rdf.Term) PatternTerm {
	return PatternTerm{Term: term}
}

// TriplePattern is a triple whose positions may be variables.
type TriplePattern struct {
	Subject   PatternTerm
	Predicate PatternTerm
	Object    PatternTerm
}

func (p TriplePattern) String() string {
	return p.Subject.String() + " " + p.Predicate.String() + " " + p.Object.String()
}

// Vars returns the distinct variables of the pattern in position order.
func (p TriplePattern) Vars() []Var {
	var vars []Var
	for _, position := range []PatternTerm{p.Subject, p.Predicate, p.Object} {
		if !position.IsVar() {
			continue
		}
		seen := false
		for _, v := range vars {
			if v == position.Var {
				seen = true
			}
		}
		if !seen {
			vars = append(vars, position.Var)
		}
	}
	return vars
}

// GroupPattern is a { ... } block: an ordered list of elements.
type GroupPattern struct {
	Elements []Element
}

// Element is one member of a group pattern. The set of implementations is
// closed: *TriplesBlock, *OptionalPattern, *UnionPattern, *FilterPattern,
// *BindPattern, *SubSelect, *InlineValues and *NestedGroup.
type Element interface {
	isElement()
}

// TriplesBlock is a run of triple patterns.
type TriplesBlock struct {
	Patterns []TriplePattern
}

// OptionalPattern is OPTIONAL { ... }.
type OptionalPattern struct {
	Group *GroupPattern
}

// UnionPattern is { ... } UNION { ... } [UNION { ... }]...
type UnionPattern struct {
	Groups []*GroupPattern
}

// FilterPattern is FILTER(expr).
type FilterPattern struct {
	Expr Expr
}

// BindPattern is BIND(expr AS ?var).
type BindPattern struct {
	Expr Expr
	Var  Var
}

// SubSelect is a nested SELECT query.
type SubSelect struct {
	Query *Query
}

// InlineValues is a VALUES block inside a group.
type InlineValues struct {
	Values *ValuesBlock
}

// NestedGroup is a plain { ... } inside a group.
type NestedGroup struct {
	Group *GroupPattern
}

func (*TriplesBlock) isElement()    {}
func (*OptionalPattern) isElement() {}
func (*UnionPattern) isElement()    {}
func (*FilterPattern) isElement()   {}
func (*BindPattern) isElement()     {}
func (*SubSelect) isElement()       {}
func (*InlineValues) isElement()    {}
func (*NestedGroup) isElement()     {}

// ValuesBlock is inline data. A nil term in a row is UNDEF.
type ValuesBlock struct {
	Vars []Var
	Rows [][]rdf.Term
}

// Expr is a filter, BIND, projection, HAVING or ORDER BY expression. The set
// of implementations is closed: *VarExpr, *TermExpr, *BinaryExpr,
// *UnaryExpr, *CallExpr, *ExistsExpr and *AggregateExpr.
type Expr interface {
	isExpr()
}

// VarExpr references a variable.
type VarExpr struct {
	Var Var
}

// TermExpr is a constant.
type TermExpr struct {
	Term rdf.Term
}

// BinaryExpr is a binary operator: || && = != < <= > >= + - * /.
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

// UnaryExpr is a prefix operator: ! - +.
type UnaryExpr struct {
	Op      string
	Operand Expr
}

// CallExpr is a built-in function call. Name is upper case. IN and NOT IN
// are represented as calls whose first argument is the tested value.
type CallExpr struct {
	Name string
	Args []Expr
}

// ExistsExpr is EXISTS { ... } or NOT EXISTS { ... }.
type ExistsExpr struct {
	Not     bool
	Pattern *GroupPattern
}

// AggregateExpr is an aggregate call such as COUNT(DISTINCT ?x) or COUNT(*).
// Separator is only meaningful for GROUP_CONCAT.
type AggregateExpr struct {
	Name      string
	Distinct  bool
	Star      bool
	Arg       Expr
	Separator string
}

func (*VarExpr) isExpr()       {}
func (*TermExpr) isExpr()      {}
func (*BinaryExpr) isExpr()    {}
func (*UnaryExpr) isExpr()     {}
func (*CallExpr) isExpr()      {}
func (*ExistsExpr) isExpr()    {}
func (*AggregateExpr) isExpr() {}
