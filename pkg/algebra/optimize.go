package algebra

import (
	"github.com/coolbeans/exocortex/pkg/sparql"
	"github.com/coolbeans/exocortex/pkg/store"
)

// Optimizer rewrites operator trees into cheaper equivalent trees.
type Optimizer struct {
	stats          *store.IndexStats
	filterPushdown bool
	joinReordering bool
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithStats supplies store statistics for cardinality estimates. Without
// them patterns are ranked by how many positions are unbound.
func WithStats(stats store.IndexStats) OptimizerOption {
	return func(o *Optimizer) {
		o.stats = &stats
	}
}

// WithFilterPushdown enables or disables filter pushdown.
func WithFilterPushdown(enabled bool) OptimizerOption {
	return func(o *Optimizer) {
		o.filterPushdown = enabled
	}
}

// WithJoinReordering enables or disables triple pattern reordering.
func WithJoinReordering(enabled bool) OptimizerOption {
	return func(o *Optimizer) {
		o.joinReordering = enabled
	}
}

// NewOptimizer creates an optimizer with every rewrite enabled.
func NewOptimizer(opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{
		filterPushdown: true,
		joinReordering: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize returns a tree that produces the same solutions as node. The
// input tree is left untouched; subtrees no rewrite applies to may be
// shared between the two.
func (o *Optimizer) Optimize(node Node) Node {
	switch n := node.(type) {
	case *BGP:
		if o.joinReordering {
			return o.reorder(n)
		}
		return n
	case *Join:
		return &Join{Left: o.Optimize(n.Left), Right: o.Optimize(n.Right)}
	case *LeftJoin:
		return &LeftJoin{Left: o.Optimize(n.Left), Right: o.Optimize(n.Right), Expr: n.Expr}
	case *Union:
		return &Union{Left: o.Optimize(n.Left), Right: o.Optimize(n.Right)}
	case *Filter:
		input := o.Optimize(n.Input)
		if !o.filterPushdown {
			return &Filter{Expr: n.Expr, Input: input}
		}
		for _, condition := range conjuncts(n.Expr) {
			input = pushFilter(condition, input)
		}
		return input
	case *Extend:
		return &Extend{Input: o.Optimize(n.Input), Var: n.Var, Expr: n.Expr}
	case *Group:
		return &Group{Input: o.Optimize(n.Input), Keys: n.Keys, Aggregates: n.Aggregates}
	case *OrderBy:
		return &OrderBy{Input: o.Optimize(n.Input), Conditions: n.Conditions}
	case *Project:
		return &Project{Input: o.Optimize(n.Input), Vars: n.Vars}
	case *Distinct:
		input := o.Optimize(n.Input)
		if inner, ok := input.(*Distinct); ok {
			return inner
		}
		return &Distinct{Input: input}
	case *Slice:
		input := o.Optimize(n.Input)
		if n.Offset == 0 && n.Limit < 0 {
			return input
		}
		return &Slice{Input: input, Offset: n.Offset, Limit: n.Limit}
	case *Construct:
		return &Construct{Input: o.Optimize(n.Input), Template: n.Template}
	case *Ask:
		return &Ask{Input: o.Optimize(n.Input)}
	default:
		return node
	}
}

// pushFilter places condition as deep in node as it can go without
// changing results.
func pushFilter(condition Expr, node Node) Node {
	if containsExists(condition) {
		return &Filter{Expr: condition, Input: node}
	}
	vars := make(map[sparql.Var]bool)
	exprVars(condition, vars)

	switch n := node.(type) {
	case *Join:
		if subset(vars, certainVars(n.Left)) {
			return &Join{Left: pushFilter(condition, n.Left), Right: n.Right}
		}
		if subset(vars, certainVars(n.Right)) {
			return &Join{Left: n.Left, Right: pushFilter(condition, n.Right)}
		}
	case *LeftJoin:
		// Only the required side; the optional side would change which
		// rows survive unmatched.
		if subset(vars, certainVars(n.Left)) {
			return &LeftJoin{Left: pushFilter(condition, n.Left), Right: n.Right, Expr: n.Expr}
		}
	case *Union:
		return &Union{Left: pushFilter(condition, n.Left), Right: pushFilter(condition, n.Right)}
	case *Filter:
		return &Filter{Expr: n.Expr, Input: pushFilter(condition, n.Input)}
	case *Extend:
		if !vars[n.Var] {
			return &Extend{Input: pushFilter(condition, n.Input), Var: n.Var, Expr: n.Expr}
		}
	}
	return &Filter{Expr: condition, Input: node}
}

func subset(vars, of map[sparql.Var]bool) bool {
	for v := range vars {
		if !of[v] {
			return false
		}
	}
	return true
}

// reorder orders the patterns of a BGP greedily, cheapest first, treating
// variables bound by earlier patterns as constants. Ties keep the written
// order.
func (o *Optimizer) reorder(bgp *BGP) Node {
	if len(bgp.Patterns) <= 1 {
		return bgp
	}

	remaining := make([]sparql.TriplePattern, len(bgp.Patterns))
	copy(remaining, bgp.Patterns)
	ordered := make([]sparql.TriplePattern, 0, len(remaining))
	bound := make(map[sparql.Var]bool)

	for len(remaining) > 0 {
		best := 0
		bestCost := o.estimateCardinality(remaining[0], bound)
		for i := 1; i < len(remaining); i++ {
			if cost := o.estimateCardinality(remaining[i], bound); cost < bestCost {
				best, bestCost = i, cost
			}
		}
		pattern := remaining[best]
		ordered = append(ordered, pattern)
		for _, v := range pattern.Vars() {
			bound[v] = true
		}
		remaining = append(remaining[:best], remaining[best+1:]...)
	}

	return &BGP{Patterns: ordered}
}

// estimateCardinality estimates how many triples a pattern matches once
// the variables in bound have values. Lower is more selective.
func (o *Optimizer) estimateCardinality(pattern sparql.TriplePattern, bound map[sparql.Var]bool) float64 {
	if o.stats == nil || o.stats.TotalTriples == 0 {
		free := 0
		for _, position := range []sparql.PatternTerm{pattern.Subject, pattern.Predicate, pattern.Object} {
			if position.IsVar() && !bound[position.Var] {
				free++
			}
		}
		return float64(free)
	}

	total := float64(o.stats.TotalTriples)
	estimate := total

	narrow := func(position sparql.PatternTerm, counts map[string]int, unique int) {
		switch {
		case !position.IsVar():
			// A term the store has never seen matches nothing.
			estimate *= float64(counts[position.Term.Key()]) / total
		case bound[position.Var] && unique > 0:
			estimate /= float64(unique)
		}
	}
	narrow(pattern.Subject, o.stats.SubjectCounts, o.stats.UniqueSubjects)
	narrow(pattern.Predicate, o.stats.PredicateCounts, o.stats.UniquePredicates)
	narrow(pattern.Object, o.stats.ObjectCounts, o.stats.UniqueObjects)

	if estimate < 0.1 {
		estimate = 0.1
	}
	return estimate
}
