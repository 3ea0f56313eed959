// Package algebra lowers parsed queries into an operator tree and rewrites
// that tree into a cheaper equivalent one.
//
// The operator set is closed. Every Node is one of *BGP, *Join, *LeftJoin,
// *Union, *Filter, *Extend, *Group, *OrderBy, *Project, *Distinct, *Slice,
// *Construct or *Ask, and consumers are expected to switch over exactly
// these cases. Trees are never mutated after construction; the optimizer
// builds new nodes instead.
package algebra

import (
	"fmt"
	"strings"

	"github.com/coolbeans/exocortex/pkg/sparql"
)

// Node is an operator of the algebra tree.
type Node interface {
	fmt.Stringer
	isNode()
}

// BGP is a basic graph pattern. An empty BGP yields the single empty
// solution.
type BGP struct {
	Patterns []sparql.TriplePattern
}

// Join keeps the compatible merges of every pair of solutions.
type Join struct {
	Left  Node
	Right Node
}

// LeftJoin extends each left solution with the compatible right solutions
// for which Expr holds, keeping the left solution alone when there are
// none. Expr is nil when the optional group has no filter.
type LeftJoin struct {
	Left  Node
	Right Node
	Expr  Expr
}

// Union concatenates the solutions of both sides.
type Union struct {
	Left  Node
	Right Node
}

// Filter keeps the solutions for which Expr evaluates to true.
type Filter struct {
	Expr  Expr
	Input Node
}

// Extend binds Var to the value of Expr. Solutions where Expr has no value
// pass through with Var unbound.
type Extend struct {
	Input Node
	Var   sparql.Var
	Expr  Expr
}

// Group partitions its input by the Keys values and binds one variable per
// aggregate in each output solution.
type Group struct {
	Input      Node
	Keys       []sparql.Var
	Aggregates []Aggregate
}

// Aggregate is one aggregate computed by a Group. Var is the hidden
// variable the result is bound to.
type Aggregate struct {
	Var       sparql.Var
	Name      string
	Distinct  bool
	Star      bool
	Arg       Expr
	Separator string
}

// OrderBy stable-sorts its input.
type OrderBy struct {
	Input      Node
	Conditions []OrderCondition
}

// OrderCondition is one sort key.
type OrderCondition struct {
	Expr       Expr
	Descending bool
}

// Project restricts solutions to Vars.
type Project struct {
	Input Node
	Vars  []sparql.Var
}

// Distinct removes duplicate solutions, keeping the first occurrence.
type Distinct struct {
	Input Node
}

// Slice skips Offset solutions and keeps at most Limit of the rest. A
// negative Limit keeps everything.
type Slice struct {
	Input  Node
	Offset int
	Limit  int
}

// Construct instantiates Template once per input solution.
type Construct struct {
	Input    Node
	Template []sparql.TriplePattern
}

// Ask reports whether its input has at least one solution.
type Ask struct {
	Input Node
}

func (*BGP) isNode()       {}
func (*Join) isNode()      {}
func (*LeftJoin) isNode()  {}
func (*Union) isNode()     {}
func (*Filter) isNode()    {}
func (*Extend) isNode()    {}
func (*Group) isNode()     {}
func (*OrderBy) isNode()   {}
func (*Project) isNode()   {}
func (*Distinct) isNode()  {}
func (*Slice) isNode()     {}
func (*Construct) isNode() {}
func (*Ask) isNode()       {}

func (n *BGP) String() string       { return format(n) }
func (n *Join) String() string      { return format(n) }
func (n *LeftJoin) String() string  { return format(n) }
func (n *Union) String() string     { return format(n) }
func (n *Filter) String() string    { return format(n) }
func (n *Extend) String() string    { return format(n) }
func (n *Group) String() string     { return format(n) }
func (n *OrderBy) String() string   { return format(n) }
func (n *Project) String() string   { return format(n) }
func (n *Distinct) String() string  { return format(n) }
func (n *Slice) String() string     { return format(n) }
func (n *Construct) String() string { return format(n) }
func (n *Ask) String() string       { return format(n) }

// format renders a node as an indented S-expression.
func format(node Node) string {
	p := &printer{}
	p.node(node, 0)
	return p.String()
}

// formatInline renders a node on a single line, for nesting inside
// expressions.
func formatInline(node Node) string {
	p := &printer{inline: true}
	p.node(node, 0)
	return p.String()
}

type printer struct {
	strings.Builder
	inline bool
}

func (p *printer) newline(depth int) {
	if p.inline {
		p.WriteString(" ")
		return
	}
	p.WriteString("\n")
	p.WriteString(strings.Repeat("  ", depth))
}

func (p *printer) child(node Node, depth int) {
	p.newline(depth)
	p.node(node, depth)
}

func (p *printer) node(node Node, depth int) {
	switch n := node.(type) {
	case *BGP:
		p.WriteString("(bgp")
		for _, pattern := range n.Patterns {
			p.newline(depth + 1)
			p.WriteString("(triple " + pattern.String() + ")")
		}
	case *Join:
		p.WriteString("(join")
		p.child(n.Left, depth+1)
		p.child(n.Right, depth+1)
	case *LeftJoin:
		p.WriteString("(leftjoin")
		p.child(n.Left, depth+1)
		p.child(n.Right, depth+1)
		if n.Expr != nil {
			p.newline(depth + 1)
			p.WriteString(n.Expr.String())
		}
	case *Union:
		p.WriteString("(union")
		p.child(n.Left, depth+1)
		p.child(n.Right, depth+1)
	case *Filter:
		p.WriteString("(filter " + n.Expr.String())
		p.child(n.Input, depth+1)
	case *Extend:
		fmt.Fprintf(p, "(extend (%s %s)", n.Var, n.Expr)
		p.child(n.Input, depth+1)
	case *Group:
		p.WriteString("(group (" + joinVars(n.Keys) + ")")
		for _, aggregate := range n.Aggregates {
			p.WriteString(" " + aggregate.String())
		}
		p.child(n.Input, depth+1)
	case *OrderBy:
		conditions := make([]string, len(n.Conditions))
		for i, condition := range n.Conditions {
			direction := "asc"
			if condition.Descending {
				direction = "desc"
			}
			conditions[i] = "(" + direction + " " + condition.Expr.String() + ")"
		}
		p.WriteString("(order (" + strings.Join(conditions, " ") + ")")
		p.child(n.Input, depth+1)
	case *Project:
		p.WriteString("(project (" + joinVars(n.Vars) + ")")
		p.child(n.Input, depth+1)
	case *Distinct:
		p.WriteString("(distinct")
		p.child(n.Input, depth+1)
	case *Slice:
		limit := "_"
		if n.Limit >= 0 {
			limit = fmt.Sprint(n.Limit)
		}
		fmt.Fprintf(p, "(slice %d %s", n.Offset, limit)
		p.child(n.Input, depth+1)
	case *Construct:
		p.WriteString("(construct (")
		for i, pattern := range n.Template {
			if i > 0 {
				p.WriteString(" ")
			}
			p.WriteString("(triple " + pattern.String() + ")")
		}
		p.WriteString(")")
		p.child(n.Input, depth+1)
	case *Ask:
		p.WriteString("(ask")
		p.child(n.Input, depth+1)
	default:
		fmt.Fprintf(p, "(unknown %T", node)
	}
	p.WriteString(")")
}

func (a Aggregate) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(%s %s", a.Var, strings.ToLower(a.Name))
	if a.Distinct {
		b.WriteString(" distinct")
	}
	switch {
	case a.Star:
		b.WriteString(" *")
	case a.Arg != nil:
		b.WriteString(" " + a.Arg.String())
	}
	if a.Name == "GROUP_CONCAT" {
		fmt.Fprintf(&b, " %q", a.Separator)
	}
	b.WriteString(")")
	return b.String()
}

func joinVars(vars []sparql.Var) string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.String()
	}
	return strings.Join(names, " ")
}
