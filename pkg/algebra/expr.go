package algebra

import (
	"strings"

	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
)

// Expr is an expression in a Filter, Extend, OrderBy or Aggregate. The set
// of implementations is closed: *VarRef, *Constant, *Binary, *Unary, *Call
// and *Exists. Aggregates never appear inside an Expr; the translator
// replaces them with references to the variables a Group binds.
type Expr interface {
	String() string
	isExpr()
}

// VarRef is the value bound to a variable.
type VarRef struct {
	Var sparql.Var
}

// Constant is a fixed term.
type Constant struct {
	Term rdf.Term
}

// Binary is one of || && = != < <= > >= + - * /.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

// Unary is one of ! - +.
type Unary struct {
	Op      string
	Operand Expr
}

// Call is a built-in function, IN / NOT IN, or an XSD cast whose Name is
// the datatype IRI.
type Call struct {
	Name string
	Args []Expr
}

// Exists tests whether Pattern has a solution compatible with the current
// one.
type Exists struct {
	Not     bool
	Pattern Node
}

func (*VarRef) isExpr()   {}
func (*Constant) isExpr() {}
func (*Binary) isExpr()   {}
func (*Unary) isExpr()    {}
func (*Call) isExpr()     {}
func (*Exists) isExpr()   {}

func (e *VarRef) String() string   { return e.Var.String() }
func (e *Constant) String() string { return e.Term.String() }

func (e *Binary) String() string {
	return "(" + e.Op + " " + e.Left.String() + " " + e.Right.String() + ")"
}

func (e *Unary) String() string {
	return "(" + e.Op + " " + e.Operand.String() + ")"
}

func (e *Call) String() string {
	name := strings.ToLower(e.Name)
	if _, ok := casts[rdf.IRI(e.Name)]; ok {
		name = rdf.IRI(e.Name).String()
	}
	parts := []string{name}
	for _, arg := range e.Args {
		parts = append(parts, arg.String())
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (e *Exists) String() string {
	keyword := "exists"
	if e.Not {
		keyword = "notexists"
	}
	return "(" + keyword + " " + formatInline(e.Pattern) + ")"
}

// arity bounds the number of arguments of a function; max < 0 means
// unbounded.
type arity struct {
	min, max int
}

var builtins = map[string]arity{
	"BOUND":       {1, 1},
	"STR":         {1, 1},
	"LANG":        {1, 1},
	"DATATYPE":    {1, 1},
	"LCASE":       {1, 1},
	"UCASE":       {1, 1},
	"STRLEN":      {1, 1},
	"CONTAINS":    {2, 2},
	"STRSTARTS":   {2, 2},
	"STRENDS":     {2, 2},
	"REGEX":       {2, 3},
	"ISIRI":       {1, 1},
	"ISURI":       {1, 1},
	"ISLITERAL":   {1, 1},
	"ISBLANK":     {1, 1},
	"ISNUMERIC":   {1, 1},
	"SAMETERM":    {2, 2},
	"LANGMATCHES": {2, 2},
	"IF":          {3, 3},
	"COALESCE":    {1, -1},
	"CONCAT":      {0, -1},
	"SUBSTR":      {2, 3},
	"ABS":         {1, 1},
	"IN":          {1, -1},
	"NOT IN":      {1, -1},
}

// casts are the datatype IRIs usable as conversion functions.
var casts = map[rdf.IRI]bool{
	rdf.XSDString:  true,
	rdf.XSDInteger: true,
	rdf.XSDDecimal: true,
	rdf.XSDDouble:  true,
	rdf.XSDFloat:   true,
	rdf.XSDBoolean: true,
}

// IsCast reports whether name is an XSD conversion function.
func IsCast(name string) bool {
	return casts[rdf.IRI(name)]
}

// exprVars appends the variables referenced by expr, excluding those only
// mentioned inside EXISTS patterns.
func exprVars(expr Expr, into map[sparql.Var]bool) {
	switch e := expr.(type) {
	case *VarRef:
		into[e.Var] = true
	case *Binary:
		exprVars(e.Left, into)
		exprVars(e.Right, into)
	case *Unary:
		exprVars(e.Operand, into)
	case *Call:
		for _, arg := range e.Args {
			exprVars(arg, into)
		}
	}
}

// containsExists reports whether expr has an EXISTS test anywhere.
func containsExists(expr Expr) bool {
	switch e := expr.(type) {
	case *Exists:
		return true
	case *Binary:
		return containsExists(e.Left) || containsExists(e.Right)
	case *Unary:
		return containsExists(e.Operand)
	case *Call:
		for _, arg := range e.Args {
			if containsExists(arg) {
				return true
			}
		}
	}
	return false
}

// conjuncts splits a chain of && into its operands.
func conjuncts(expr Expr) []Expr {
	if b, ok := expr.(*Binary); ok && b.Op == "&&" {
		return append(conjuncts(b.Left), conjuncts(b.Right)...)
	}
	return []Expr{expr}
}

// conjoin joins expressions with &&. It returns nil for no expressions.
func conjoin(exprs []Expr) Expr {
	var result Expr
	for _, expr := range exprs {
		if result == nil {
			result = expr
			continue
		}
		result = &Binary{Op: "&&", Left: result, Right: expr}
	}
	return result
}
