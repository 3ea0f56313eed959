package algebra

import "github.com/coolbeans/exocortex/pkg/sparql"

// Vars returns the variables a node may bind, in order of first
// appearance.
func Vars(node Node) []sparql.Var {
	var vars []sparql.Var
	seen := make(map[sparql.Var]bool)
	add := func(v sparql.Var) {
		if !seen[v] {
			seen[v] = true
			vars = append(vars, v)
		}
	}
	collectVars(node, add)
	return vars
}

func collectVars(node Node, add func(sparql.Var)) {
	switch n := node.(type) {
	case *BGP:
		for _, pattern := range n.Patterns {
			for _, v := range pattern.Vars() {
				add(v)
			}
		}
	case *Join:
		collectVars(n.Left, add)
		collectVars(n.Right, add)
	case *LeftJoin:
		collectVars(n.Left, add)
		collectVars(n.Right, add)
	case *Union:
		collectVars(n.Left, add)
		collectVars(n.Right, add)
	case *Filter:
		collectVars(n.Input, add)
	case *Extend:
		collectVars(n.Input, add)
		add(n.Var)
	case *Group:
		for _, key := range n.Keys {
			add(key)
		}
		for _, aggregate := range n.Aggregates {
			add(aggregate.Var)
		}
	case *OrderBy:
		collectVars(n.Input, add)
	case *Project:
		for _, v := range n.Vars {
			add(v)
		}
	case *Distinct:
		collectVars(n.Input, add)
	case *Slice:
		collectVars(n.Input, add)
	}
}

// certainVars returns the variables bound in every solution of node.
func certainVars(node Node) map[sparql.Var]bool {
	switch n := node.(type) {
	case *BGP:
		vars := make(map[sparql.Var]bool)
		for _, pattern := range n.Patterns {
			for _, v := range pattern.Vars() {
				vars[v] = true
			}
		}
		return vars
	case *Join:
		vars := certainVars(n.Left)
		for v := range certainVars(n.Right) {
			vars[v] = true
		}
		return vars
	case *LeftJoin:
		return certainVars(n.Left)
	case *Union:
		left, right := certainVars(n.Left), certainVars(n.Right)
		for v := range left {
			if !right[v] {
				delete(left, v)
			}
		}
		return left
	case *Filter:
		return certainVars(n.Input)
	case *Extend:
		vars := certainVars(n.Input)
		if _, ok := n.Expr.(*Constant); ok {
			vars[n.Var] = true
		}
		return vars
	case *Project:
		inner := certainVars(n.Input)
		vars := make(map[sparql.Var]bool)
		for _, v := range n.Vars {
			if inner[v] {
				vars[v] = true
			}
		}
		return vars
	case *OrderBy:
		return certainVars(n.Input)
	case *Distinct:
		return certainVars(n.Input)
	case *Slice:
		return certainVars(n.Input)
	default:
		return make(map[sparql.Var]bool)
	}
}
