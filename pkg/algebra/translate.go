package algebra

import (
	"fmt"
	"sort"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
)

func translationError(format string, args ...any) error {
	return exoerr.Errorf(exoerr.CodeQueryTranslateInvalid, format, args...)
}

// Translate lowers a parsed query into an operator tree. The result is
// rooted at a *Construct or *Ask node for those query kinds; SELECT trees
// end in Project, optionally wrapped by Distinct and Slice.
func Translate(query *sparql.Query) (Node, error) {
	t := &translator{}
	return t.query(query)
}

type translator struct {
	aggregateCount int
}

// exprContext controls where aggregates may appear while translating an
// expression.
type exprContext struct {
	clause     string
	aggregates *[]Aggregate // nil when aggregates are not allowed
}

func (t *translator) query(query *sparql.Query) (Node, error) {
	if query.Where == nil {
		return nil, translationError("query has no WHERE pattern")
	}

	where, err := t.group(query.Where)
	if err != nil {
		return nil, err
	}
	if query.Values != nil {
		where = &Join{Left: where, Right: valuesNode(query.Values)}
	}

	switch query.Kind {
	case sparql.KindSelect:
		return t.selectTree(query, where)

	case sparql.KindConstruct:
		node, err := t.orderAndSlice(query, where)
		if err != nil {
			return nil, err
		}
		return &Construct{Input: node, Template: query.Template}, nil

	case sparql.KindAsk:
		return &Ask{Input: where}, nil

	default:
		return nil, exoerr.Errorf(exoerr.CodeQueryKindUnsupported, "unsupported query kind %q", query.Kind)
	}
}

// selectTree applies the SELECT clauses in their fixed order: Group,
// HAVING, projection expressions, OrderBy, Project, Distinct and Slice.
func (t *translator) selectTree(query *sparql.Query, where Node) (Node, error) {
	grouped := len(query.GroupBy) > 0 || hasAggregates(query)
	if query.Star && grouped {
		return nil, translationError("SELECT * cannot be combined with GROUP BY or aggregates")
	}

	var aggregates []Aggregate
	context := func(clause string) exprContext {
		if grouped {
			return exprContext{clause: clause, aggregates: &aggregates}
		}
		return exprContext{clause: clause}
	}

	type extension struct {
		v    sparql.Var
		expr Expr
	}
	var extensions []extension
	projected := make(map[sparql.Var]bool)
	whereVars := make(map[sparql.Var]bool)
	for _, v := range Vars(where) {
		whereVars[v] = true
	}

	for _, projection := range query.Projection {
		if projected[projection.Var] {
			return nil, translationError("variable %s is projected more than once", projection.Var)
		}
		projected[projection.Var] = true

		if projection.Expr == nil {
			continue
		}
		if !grouped && whereVars[projection.Var] {
			return nil, translationError("alias %s is already bound in the WHERE pattern", projection.Var)
		}
		expr, err := t.expr(projection.Expr, context("SELECT"))
		if err != nil {
			return nil, err
		}
		extensions = append(extensions, extension{v: projection.Var, expr: expr})
	}

	var having []Expr
	for _, condition := range query.Having {
		expr, err := t.expr(condition, context("HAVING"))
		if err != nil {
			return nil, err
		}
		having = append(having, expr)
	}

	var order []OrderCondition
	for _, condition := range query.OrderBy {
		expr, err := t.expr(condition.Expr, context("ORDER BY"))
		if err != nil {
			return nil, err
		}
		order = append(order, OrderCondition{Expr: expr, Descending: condition.Descending})
	}

	node := where
	if grouped {
		keys := make(map[sparql.Var]bool)
		for _, key := range query.GroupBy {
			if keys[key] {
				return nil, translationError("GROUP BY lists %s more than once", key)
			}
			keys[key] = true
		}
		allowed := make(map[sparql.Var]bool)
		for key := range keys {
			allowed[key] = true
		}
		for _, aggregate := range aggregates {
			allowed[aggregate.Var] = true
		}
		for _, projection := range query.Projection {
			if projection.Expr == nil && !allowed[projection.Var] {
				return nil, translationError("variable %s is not a GROUP BY key", projection.Var)
			}
		}
		for _, ext := range extensions {
			if v, ok := ungroupedVar(ext.expr, allowed); ok {
				return nil, translationError("expression for %s uses %s which is not a GROUP BY key", ext.v, v)
			}
			if keys[ext.v] {
				return nil, translationError("alias %s is already a GROUP BY key", ext.v)
			}
			allowed[ext.v] = true
		}
		// HAVING runs before the projection expressions, so aliases are
		// replaced by the expressions they name.
		aliases := make(map[sparql.Var]Expr, len(extensions))
		for _, ext := range extensions {
			aliases[ext.v] = substitute(ext.expr, aliases)
		}
		for i, expr := range having {
			if v, ok := ungroupedVar(expr, allowed); ok {
				return nil, translationError("HAVING uses %s which is not a GROUP BY key", v)
			}
			having[i] = substitute(expr, aliases)
		}
		for _, condition := range order {
			if v, ok := ungroupedVar(condition.Expr, allowed); ok {
				return nil, translationError("ORDER BY uses %s which is not a GROUP BY key", v)
			}
		}

		node = &Group{Input: node, Keys: query.GroupBy, Aggregates: aggregates}
		if len(having) > 0 {
			node = &Filter{Expr: conjoin(having), Input: node}
		}
	}

	for _, ext := range extensions {
		node = &Extend{Input: node, Var: ext.v, Expr: ext.expr}
	}

	if len(order) > 0 {
		node = &OrderBy{Input: node, Conditions: order}
	}

	var vars []sparql.Var
	if query.Star {
		for _, v := range Vars(node) {
			if !v.Hidden() {
				vars = append(vars, v)
			}
		}
	} else {
		for _, projection := range query.Projection {
			vars = append(vars, projection.Var)
		}
	}
	node = &Project{Input: node, Vars: vars}

	if query.Distinct {
		node = &Distinct{Input: node}
	}
	if query.Offset > 0 || query.HasLimit() {
		node = &Slice{Input: node, Offset: query.Offset, Limit: query.Limit}
	}
	return node, nil
}

func (t *translator) orderAndSlice(query *sparql.Query, node Node) (Node, error) {
	if len(query.GroupBy) > 0 || len(query.Having) > 0 {
		return nil, translationError("GROUP BY and HAVING are only supported in SELECT queries")
	}
	if len(query.OrderBy) > 0 {
		conditions := make([]OrderCondition, 0, len(query.OrderBy))
		for _, condition := range query.OrderBy {
			expr, err := t.expr(condition.Expr, exprContext{clause: "ORDER BY"})
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, OrderCondition{Expr: expr, Descending: condition.Descending})
		}
		node = &OrderBy{Input: node, Conditions: conditions}
	}
	if query.Offset > 0 || query.HasLimit() {
		node = &Slice{Input: node, Offset: query.Offset, Limit: query.Limit}
	}
	return node, nil
}

// group translates a group pattern. Filters apply to the whole group.
func (t *translator) group(group *sparql.GroupPattern) (Node, error) {
	node, filters, err := t.groupParts(group)
	if err != nil {
		return nil, err
	}
	if len(filters) > 0 {
		node = &Filter{Expr: conjoin(filters), Input: node}
	}
	return node, nil
}

// groupParts translates a group pattern and returns its filters separately
// so that OPTIONAL can turn them into the LeftJoin condition.
func (t *translator) groupParts(group *sparql.GroupPattern) (Node, []Expr, error) {
	var current Node
	var filters []Expr

	join := func(next Node) {
		if current == nil {
			current = next
			return
		}
		current = &Join{Left: current, Right: next}
	}
	orEmpty := func() Node {
		if current == nil {
			return &BGP{}
		}
		return current
	}

	for _, element := range group.Elements {
		switch e := element.(type) {
		case *sparql.TriplesBlock:
			join(&BGP{Patterns: e.Patterns})

		case *sparql.OptionalPattern:
			right, conditions, err := t.groupParts(e.Group)
			if err != nil {
				return nil, nil, err
			}
			current = &LeftJoin{Left: orEmpty(), Right: right, Expr: conjoin(conditions)}

		case *sparql.UnionPattern:
			var union Node
			for _, branch := range e.Groups {
				node, err := t.group(branch)
				if err != nil {
					return nil, nil, err
				}
				if union == nil {
					union = node
				} else {
					union = &Union{Left: union, Right: node}
				}
			}
			join(union)

		case *sparql.FilterPattern:
			expr, err := t.expr(e.Expr, exprContext{clause: "FILTER"})
			if err != nil {
				return nil, nil, err
			}
			filters = append(filters, expr)

		case *sparql.BindPattern:
			input := orEmpty()
			for _, v := range Vars(input) {
				if v == e.Var {
					return nil, nil, translationError("BIND target %s is already bound", e.Var)
				}
			}
			expr, err := t.expr(e.Expr, exprContext{clause: "BIND"})
			if err != nil {
				return nil, nil, err
			}
			current = &Extend{Input: input, Var: e.Var, Expr: expr}

		case *sparql.SubSelect:
			node, err := t.query(e.Query)
			if err != nil {
				return nil, nil, err
			}
			join(node)

		case *sparql.InlineValues:
			join(valuesNode(e.Values))

		case *sparql.NestedGroup:
			node, err := t.group(e.Group)
			if err != nil {
				return nil, nil, err
			}
			join(node)

		default:
			return nil, nil, translationError("unsupported pattern element %T", element)
		}
	}

	return orEmpty(), filters, nil
}

// valuesNode turns inline data into a union of per-row Extend chains over
// the empty pattern. UNDEF leaves the variable unbound in that row.
func valuesNode(values *sparql.ValuesBlock) Node {
	var union Node
	for _, row := range values.Rows {
		var node Node = &BGP{}
		for i, term := range row {
			if term == nil {
				continue
			}
			node = &Extend{Input: node, Var: values.Vars[i], Expr: &Constant{Term: term}}
		}
		if union == nil {
			union = node
		} else {
			union = &Union{Left: union, Right: node}
		}
	}
	if union == nil {
		return &Filter{Expr: &Constant{Term: rdf.NewBooleanLiteral(false)}, Input: &BGP{}}
	}
	return union
}

func (t *translator) expr(expr sparql.Expr, context exprContext) (Expr, error) {
	switch e := expr.(type) {
	case *sparql.VarExpr:
		return &VarRef{Var: e.Var}, nil

	case *sparql.TermExpr:
		return &Constant{Term: e.Term}, nil

	case *sparql.BinaryExpr:
		left, err := t.expr(e.Left, context)
		if err != nil {
			return nil, err
		}
		right, err := t.expr(e.Right, context)
		if err != nil {
			return nil, err
		}
		return &Binary{Op: e.Op, Left: left, Right: right}, nil

	case *sparql.UnaryExpr:
		operand, err := t.expr(e.Operand, context)
		if err != nil {
			return nil, err
		}
		return &Unary{Op: e.Op, Operand: operand}, nil

	case *sparql.CallExpr:
		return t.call(e, context)

	case *sparql.ExistsExpr:
		pattern, err := t.group(e.Pattern)
		if err != nil {
			return nil, err
		}
		return &Exists{Not: e.Not, Pattern: pattern}, nil

	case *sparql.AggregateExpr:
		return t.aggregate(e, context)

	default:
		return nil, translationError("unsupported expression %T", expr)
	}
}

func (t *translator) call(call *sparql.CallExpr, context exprContext) (Expr, error) {
	if IsCast(call.Name) {
		if len(call.Args) != 1 {
			return nil, translationError("cast to %s takes 1 argument, got %d", rdf.IRI(call.Name), len(call.Args))
		}
	} else {
		bounds, ok := builtins[call.Name]
		if !ok {
			return nil, translationError("unknown function %s", call.Name)
		}
		if len(call.Args) < bounds.min || (bounds.max >= 0 && len(call.Args) > bounds.max) {
			return nil, translationError("%s called with %d arguments", call.Name, len(call.Args))
		}
		if call.Name == "BOUND" {
			if _, ok := call.Args[0].(*sparql.VarExpr); !ok {
				return nil, translationError("BOUND requires a variable argument")
			}
		}
	}

	args := make([]Expr, len(call.Args))
	for i, arg := range call.Args {
		translated, err := t.expr(arg, context)
		if err != nil {
			return nil, err
		}
		args[i] = translated
	}
	return &Call{Name: call.Name, Args: args}, nil
}

// aggregate registers an aggregate with the enclosing Group and returns a
// reference to the hidden variable that will hold its value.
func (t *translator) aggregate(aggregate *sparql.AggregateExpr, context exprContext) (Expr, error) {
	if context.aggregates == nil {
		return nil, translationError("aggregate %s is not allowed in %s", aggregate.Name, context.clause)
	}
	switch aggregate.Name {
	case "COUNT", "SUM", "AVG", "MIN", "MAX", "SAMPLE", "GROUP_CONCAT":
	default:
		return nil, translationError("unknown aggregate %s", aggregate.Name)
	}

	var arg Expr
	if aggregate.Arg != nil {
		var err error
		arg, err = t.expr(aggregate.Arg, exprContext{clause: "an aggregate argument"})
		if err != nil {
			return nil, err
		}
	}

	t.aggregateCount++
	v := sparql.Var(fmt.Sprintf(".agg%d", t.aggregateCount))
	*context.aggregates = append(*context.aggregates, Aggregate{
		Var:       v,
		Name:      aggregate.Name,
		Distinct:  aggregate.Distinct,
		Star:      aggregate.Star,
		Arg:       arg,
		Separator: aggregate.Separator,
	})
	return &VarRef{Var: v}, nil
}

func hasAggregates(query *sparql.Query) bool {
	for _, projection := range query.Projection {
		if projection.Expr != nil && containsAggregate(projection.Expr) {
			return true
		}
	}
	for _, expr := range query.Having {
		if containsAggregate(expr) {
			return true
		}
	}
	for _, condition := range query.OrderBy {
		if containsAggregate(condition.Expr) {
			return true
		}
	}
	return false
}

func containsAggregate(expr sparql.Expr) bool {
	switch e := expr.(type) {
	case *sparql.AggregateExpr:
		return true
	case *sparql.BinaryExpr:
		return containsAggregate(e.Left) || containsAggregate(e.Right)
	case *sparql.UnaryExpr:
		return containsAggregate(e.Operand)
	case *sparql.CallExpr:
		for _, arg := range e.Args {
			if containsAggregate(arg) {
				return true
			}
		}
	}
	return false
}

// ungroupedVar returns a variable referenced by expr that is not in
// allowed.
func ungroupedVar(expr Expr, allowed map[sparql.Var]bool) (sparql.Var, bool) {
	vars := make(map[sparql.Var]bool)
	exprVars(expr, vars)
	var missing []sparql.Var
	for v := range vars {
		if !allowed[v] {
			missing = append(missing, v)
		}
	}
	if len(missing) == 0 {
		return "", false
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing[0], true
}

// substitute replaces references to the variables in replacements.
func substitute(expr Expr, replacements map[sparql.Var]Expr) Expr {
	switch e := expr.(type) {
	case *VarRef:
		if replacement, ok := replacements[e.Var]; ok {
			return replacement
		}
		return e
	case *Binary:
		return &Binary{Op: e.Op, Left: substitute(e.Left, replacements), Right: substitute(e.Right, replacements)}
	case *Unary:
		return &Unary{Op: e.Op, Operand: substitute(e.Operand, replacements)}
	case *Call:
		args := make([]Expr, len(e.Args))
		for i, arg := range e.Args {
			args[i] = substitute(arg, replacements)
		}
		return &Call{Name: e.Name, Args: args}
	default:
		return expr
	}
}
