// Package query evaluates algebra trees against a triple store and formats
// the results.
package query

import (
	"sort"

	"github.com/google/uuid"

	"github.com/coolbeans/exocortex/pkg/algebra"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
)

// Matcher is the read side of a triple store. A nil term is a wildcard.
type Matcher interface {
	Match(subject, predicate, object rdf.Term) []rdf.Triple
}

// Executor evaluates operator trees. It never modifies the store.
type Executor struct {
	store Matcher
}

// NewExecutor creates an executor reading from store.
func NewExecutor(store Matcher) *Executor {
	return &Executor{store: store}
}

// Evaluate returns the solutions of node in order. For a Construct node
// these are the solutions the template is instantiated with; for an Ask
// node there is one empty solution when the pattern matches.
func (e *Executor) Evaluate(node algebra.Node) []Solution {
	ev := &evaluator{store: e.store}
	return ev.eval(node)
}

// Execute evaluates node and packages the outcome according to the kind
// of its root: triples for Construct, a boolean for Ask and solutions for
// everything else.
func (e *Executor) Execute(node algebra.Node) (*Result, error) {
	if node == nil {
		return nil, exoerr.New(exoerr.CodeQueryEvaluateInvalid, "nothing to evaluate")
	}

	ev := &evaluator{store: e.store}
	switch n := node.(type) {
	case *algebra.Construct:
		return &Result{
			Kind:    sparql.KindConstruct,
			Triples: ev.construct(n),
		}, nil
	case *algebra.Ask:
		return &Result{
			Kind:    sparql.KindAsk,
			Boolean: len(ev.eval(n.Input)) > 0,
		}, nil
	default:
		var variables []string
		for _, v := range algebra.Vars(node) {
			if !v.Hidden() {
				variables = append(variables, string(v))
			}
		}
		return &Result{
			Kind:      sparql.KindSelect,
			Variables: variables,
			Solutions: ev.eval(node),
		}, nil
	}
}

// evaluator carries the state of one evaluation. seed holds the bindings
// of the enclosing solution while an EXISTS pattern is evaluated; every
// basic graph pattern starts from it.
type evaluator struct {
	store Matcher
	seed  Solution
}

func (ev *evaluator) eval(node algebra.Node) []Solution {
	switch n := node.(type) {
	case *algebra.BGP:
		return ev.bgp(n)
	case *algebra.Join:
		return join(ev.eval(n.Left), ev.eval(n.Right))
	case *algebra.LeftJoin:
		return ev.leftJoin(n)
	case *algebra.Union:
		left := ev.eval(n.Left)
		right := ev.eval(n.Right)
		out := make([]Solution, 0, len(left)+len(right))
		out = append(out, left...)
		return append(out, right...)
	case *algebra.Filter:
		var out []Solution
		for _, solution := range ev.eval(n.Input) {
			if ev.holds(n.Expr, solution) {
				out = append(out, solution)
			}
		}
		return out
	case *algebra.Extend:
		return ev.extend(n)
	case *algebra.Group:
		return ev.group(n)
	case *algebra.OrderBy:
		return ev.orderBy(n)
	case *algebra.Project:
		input := ev.eval(n.Input)
		out := make([]Solution, len(input))
		for i, solution := range input {
			projected := make(Solution, len(n.Vars))
			for _, v := range n.Vars {
				if term, ok := solution[string(v)]; ok {
					projected[string(v)] = term
				}
			}
			out[i] = projected
		}
		return out
	case *algebra.Distinct:
		input := ev.eval(n.Input)
		seen := make(map[string]bool, len(input))
		out := make([]Solution, 0, len(input))
		for _, solution := range input {
			k := solution.key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, solution)
		}
		return out
	case *algebra.Slice:
		return slice(ev.eval(n.Input), n.Offset, n.Limit)
	case *algebra.Construct:
		return ev.eval(n.Input)
	case *algebra.Ask:
		if len(ev.eval(n.Input)) > 0 {
			return []Solution{{}}
		}
		return nil
	default:
		panic("query: unknown algebra node")
	}
}

// bgp evaluates the patterns left to right, substituting the bindings of
// each partial solution before asking the store.
func (ev *evaluator) bgp(n *algebra.BGP) []Solution {
	start := Solution{}
	if ev.seed != nil {
		start = ev.seed.clone()
	}
	solutions := []Solution{start}

	for _, pattern := range n.Patterns {
		var next []Solution
		for _, solution := range solutions {
			subject := resolve(pattern.Subject, solution)
			predicate := resolve(pattern.Predicate, solution)
			object := resolve(pattern.Object, solution)
			for _, triple := range ev.store.Match(subject, predicate, object) {
				if extended, ok := bindTriple(pattern, triple, solution); ok {
					next = append(next, extended)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		solutions = next
	}
	return solutions
}

func resolve(position sparql.PatternTerm, solution Solution) rdf.Term {
	if !position.IsVar() {
		return position.Term
	}
	return solution[string(position.Var)]
}

// bindTriple extends solution with the values triple gives the pattern's
// variables. It fails when a variable repeated within the pattern would
// take two different values.
func bindTriple(pattern sparql.TriplePattern, triple rdf.Triple, solution Solution) (Solution, bool) {
	var extended Solution
	bind := func(position sparql.PatternTerm, term rdf.Term) bool {
		if !position.IsVar() {
			return rdf.Equal(position.Term, term)
		}
		name := string(position.Var)
		current := solution
		if extended != nil {
			current = extended
		}
		if existing, ok := current[name]; ok {
			return rdf.Equal(existing, term)
		}
		if extended == nil {
			extended = solution.clone()
		}
		extended[name] = term
		return true
	}

	if !bind(pattern.Subject, triple.Subject) ||
		!bind(pattern.Predicate, triple.Predicate) ||
		!bind(pattern.Object, triple.Object) {
		return nil, false
	}
	if extended == nil {
		extended = solution
	}
	return extended, true
}

func join(left, right []Solution) []Solution {
	var out []Solution
	for _, a := range left {
		for _, b := range right {
			if compatible(a, b) {
				out = append(out, merge(a, b))
			}
		}
	}
	return out
}

func (ev *evaluator) leftJoin(n *algebra.LeftJoin) []Solution {
	left := ev.eval(n.Left)
	right := ev.eval(n.Right)

	var out []Solution
	for _, a := range left {
		matched := false
		for _, b := range right {
			if !compatible(a, b) {
				continue
			}
			merged := merge(a, b)
			if n.Expr != nil && !ev.holds(n.Expr, merged) {
				continue
			}
			matched = true
			out = append(out, merged)
		}
		if !matched {
			out = append(out, a)
		}
	}
	return out
}

func (ev *evaluator) extend(n *algebra.Extend) []Solution {
	input := ev.eval(n.Input)
	name := string(n.Var)
	out := make([]Solution, len(input))
	for i, solution := range input {
		out[i] = solution
		if _, bound := solution[name]; bound {
			continue
		}
		if value, ok := ev.value(n.Expr, solution); ok {
			extended := solution.clone()
			extended[name] = value
			out[i] = extended
		}
	}
	return out
}

func (ev *evaluator) orderBy(n *algebra.OrderBy) []Solution {
	input := ev.eval(n.Input)

	keys := make([][]rdf.Term, len(input))
	for i, solution := range input {
		row := make([]rdf.Term, len(n.Conditions))
		for j, condition := range n.Conditions {
			if value, ok := ev.value(condition.Expr, solution); ok {
				row[j] = value
			}
		}
		keys[i] = row
	}

	index := make([]int, len(input))
	for i := range index {
		index[i] = i
	}
	sort.SliceStable(index, func(a, b int) bool {
		ka, kb := keys[index[a]], keys[index[b]]
		for j, condition := range n.Conditions {
			c := rdf.Compare(ka[j], kb[j])
			if condition.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})

	out := make([]Solution, len(input))
	for i, idx := range index {
		out[i] = input[idx]
	}
	return out
}

func slice(solutions []Solution, offset, limit int) []Solution {
	if offset >= len(solutions) {
		return nil
	}
	solutions = solutions[offset:]
	if limit >= 0 && limit < len(solutions) {
		solutions = solutions[:limit]
	}
	return solutions
}

// construct instantiates the template once per solution. Template blank
// nodes get a fresh label per solution, template triples with an unbound
// variable are skipped and duplicates are dropped.
func (ev *evaluator) construct(n *algebra.Construct) []rdf.Triple {
	seen := make(map[string]bool)
	var triples []rdf.Triple

	for _, solution := range ev.eval(n.Input) {
		blanks := make(map[string]rdf.BlankNode)
		instantiate := func(position sparql.PatternTerm) rdf.Term {
			if position.IsVar() {
				return solution[string(position.Var)]
			}
			if blank, ok := position.Term.(rdf.BlankNode); ok {
				fresh, ok := blanks[string(blank)]
				if !ok {
					fresh = rdf.BlankNode("b" + uuid.NewString())
					blanks[string(blank)] = fresh
				}
				return fresh
			}
			return position.Term
		}

		for _, pattern := range n.Template {
			triple := rdf.NewTriple(
				instantiate(pattern.Subject),
				instantiate(pattern.Predicate),
				instantiate(pattern.Object),
			)
			if !triple.IsValid() {
				continue
			}
			k := triple.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			triples = append(triples, triple)
		}
	}
	return triples
}
