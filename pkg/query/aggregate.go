package query

import (
	"strings"

	"github.com/coolbeans/exocortex/pkg/algebra"
	"github.com/coolbeans/exocortex/pkg/rdf"
)

type partition struct {
	keys    Solution
	members []Solution
}

// group partitions the input by the values of the key variables, in order
// of first appearance. Solutions missing a key form their own partition.
// Without keys the whole input is one partition, even when it is empty.
func (ev *evaluator) group(n *algebra.Group) []Solution {
	input := ev.eval(n.Input)

	var partitions []*partition
	if len(n.Keys) == 0 {
		partitions = []*partition{{keys: Solution{}, members: input}}
	} else {
		index := make(map[string]*partition)
		for _, solution := range input {
			keys := make(Solution, len(n.Keys))
			for _, key := range n.Keys {
				if term, ok := solution[string(key)]; ok {
					keys[string(key)] = term
				}
			}
			k := keys.key()
			p, ok := index[k]
			if !ok {
				p = &partition{keys: keys}
				index[k] = p
				partitions = append(partitions, p)
			}
			p.members = append(p.members, solution)
		}
	}

	out := make([]Solution, 0, len(partitions))
	for _, p := range partitions {
		solution := p.keys.clone()
		for _, aggregate := range n.Aggregates {
			if value, ok := ev.aggregate(aggregate, p.members); ok {
				solution[string(aggregate.Var)] = value
			}
		}
		out = append(out, solution)
	}
	return out
}

// aggregate computes one aggregate over a partition. Members for which the
// argument has no value are ignored.
//
//   - SUM over a non-numeric value has no value; over nothing it is 0.
//   - AVG over nothing is 0.
//   - MIN and MAX over nothing have no value.
func (ev *evaluator) aggregate(aggregate algebra.Aggregate, members []Solution) (rdf.Term, bool) {
	if aggregate.Star {
		if !aggregate.Distinct {
			return rdf.NewIntegerLiteral(int64(len(members))), true
		}
		seen := make(map[string]bool, len(members))
		for _, member := range members {
			seen[member.key()] = true
		}
		return rdf.NewIntegerLiteral(int64(len(seen))), true
	}

	var values []rdf.Term
	seen := make(map[string]bool)
	for _, member := range members {
		value, ok := ev.value(aggregate.Arg, member)
		if !ok {
			continue
		}
		if aggregate.Distinct {
			if seen[value.Key()] {
				continue
			}
			seen[value.Key()] = true
		}
		values = append(values, value)
	}

	switch aggregate.Name {
	case "COUNT":
		return rdf.NewIntegerLiteral(int64(len(values))), true
	case "SUM", "AVG":
		sum := 0.0
		allIntegral := true
		for _, value := range values {
			f, ok := numeric(value)
			if !ok {
				return nil, false
			}
			sum += f
			allIntegral = allIntegral && integral(value)
		}
		if aggregate.Name == "SUM" {
			return numberLiteral(sum, allIntegral), true
		}
		if len(values) == 0 {
			return rdf.NewIntegerLiteral(0), true
		}
		return rdf.NewDecimalLiteral(sum / float64(len(values))), true
	case "MIN", "MAX":
		if len(values) == 0 {
			return nil, false
		}
		best := values[0]
		for _, value := range values[1:] {
			c := rdf.Compare(value, best)
			if (aggregate.Name == "MIN" && c < 0) || (aggregate.Name == "MAX" && c > 0) {
				best = value
			}
		}
		return best, true
	case "SAMPLE":
		if len(values) == 0 {
			return nil, false
		}
		return values[0], true
	case "GROUP_CONCAT":
		parts := make([]string, len(values))
		for i, value := range values {
			parts[i] = value.Value()
		}
		return rdf.NewLiteral(strings.Join(parts, aggregate.Separator)), true
	}
	return nil, false
}
