package algebra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
)

func translate(t *testing.T, text string) Node {
	t.Helper()
	query, err := sparql.Parse(text)
	require.NoError(t, err)
	node, err := Translate(query)
	require.NoError(t, err)
	return node
}

func TestTranslate_ModifierOrder(t *testing.T) {
	node := translate(t, `SELECT ?t ?l WHERE { ?t rdf:type ex:Task . ?t ex:label ?l } ORDER BY ?l LIMIT 1`)

	want := `(slice 0 1
  (project (?t ?l)
    (order ((asc ?l))
      (bgp
        (triple ?t <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <http://example.org/Task>)
        (triple ?t <http://example.org/label> ?l)))))`
	assert.Equal(t, want, node.String())
}

func TestTranslate_DistinctWrapsProjectAndSliceWrapsDistinct(t *testing.T) {
	node := translate(t, `SELECT DISTINCT ?l WHERE { ?t ex:label ?l } OFFSET 2`)

	slice, ok := node.(*Slice)
	require.True(t, ok, "root = %T", node)
	assert.Equal(t, 2, slice.Offset)
	assert.Equal(t, -1, slice.Limit)

	distinct, ok := slice.Input.(*Distinct)
	require.True(t, ok)
	assert.IsType(t, &Project{}, distinct.Input)
}

func TestTranslate_EmptyGroupIsEmptyBGP(t *testing.T) {
	node := translate(t, `SELECT * WHERE { }`)

	project := node.(*Project)
	assert.Empty(t, project.Vars)
	assert.Equal(t, &BGP{}, project.Input)
}

func TestTranslate_StarSkipsHiddenVariables(t *testing.T) {
	node := translate(t, `SELECT * WHERE { _:b ex:label ?l . ?t ex:ref [] }`)

	assert.Equal(t, []sparql.Var{"l", "t"}, node.(*Project).Vars)
}

func TestTranslate_OptionalFilterBecomesCondition(t *testing.T) {
	node := translate(t, `SELECT * WHERE { ?t a ex:Task OPTIONAL { ?t ex:priority ?p FILTER(?p > 1) } }`)

	leftJoin, ok := node.(*Project).Input.(*LeftJoin)
	require.True(t, ok)
	assert.IsType(t, &BGP{}, leftJoin.Left)
	assert.IsType(t, &BGP{}, leftJoin.Right)
	require.NotNil(t, leftJoin.Expr)
	assert.Equal(t, `(> ?p "1"^^<http://www.w3.org/2001/XMLSchema#integer>)`, leftJoin.Expr.String())
}

func TestTranslate_OptionalFirstUsesEmptyLeft(t *testing.T) {
	node := translate(t, `SELECT * WHERE { OPTIONAL { ?t ex:label ?l } }`)

	leftJoin := node.(*Project).Input.(*LeftJoin)
	assert.Equal(t, &BGP{}, leftJoin.Left)
	assert.Nil(t, leftJoin.Expr)
}

func TestTranslate_FilterWrapsWholeGroup(t *testing.T) {
	node := translate(t, `SELECT * WHERE { FILTER(?p > 1) ?t ex:priority ?p . { ?t ex:label ?l } }`)

	filter, ok := node.(*Project).Input.(*Filter)
	require.True(t, ok)
	join, ok := filter.Input.(*Join)
	require.True(t, ok)
	assert.IsType(t, &BGP{}, join.Left)
	assert.IsType(t, &BGP{}, join.Right)
}

func TestTranslate_UnionIsLeftDeep(t *testing.T) {
	node := translate(t, `SELECT * WHERE { { ?s ex:a ?o } UNION { ?s ex:b ?o } UNION { ?s ex:c ?o } }`)

	outer := node.(*Project).Input.(*Union)
	assert.IsType(t, &Union{}, outer.Left)
	assert.IsType(t, &BGP{}, outer.Right)
}

func TestTranslate_BindIsExtend(t *testing.T) {
	node := translate(t, `SELECT * WHERE { ?t ex:priority ?p BIND(?p * 2 AS ?double) }`)

	extend := node.(*Project).Input.(*Extend)
	assert.Equal(t, sparql.Var("double"), extend.Var)
	assert.Equal(t, []sparql.Var{"t", "p", "double"}, node.(*Project).Vars)
}

func TestTranslate_ValuesIsUnionOfExtends(t *testing.T) {
	node := translate(t, `SELECT * WHERE { ?t ex:label ?l VALUES ?l { "A" "B" } }`)

	join := node.(*Project).Input.(*Join)
	union, ok := join.Right.(*Union)
	require.True(t, ok)

	first := union.Left.(*Extend)
	assert.Equal(t, sparql.Var("l"), first.Var)
	assert.Equal(t, &Constant{Term: rdf.NewLiteral("A")}, first.Expr)
	assert.Equal(t, &BGP{}, first.Input)
}

func TestTranslate_ValuesUndefSkipsBinding(t *testing.T) {
	node := translate(t, `SELECT * WHERE { VALUES (?a ?b) { (UNDEF "x") } }`)

	extend := node.(*Project).Input.(*Extend)
	assert.Equal(t, sparql.Var("b"), extend.Var)
	assert.Equal(t, &BGP{}, extend.Input)
}

func TestTranslate_EmptyValuesMatchesNothing(t *testing.T) {
	node := translate(t, `SELECT * WHERE { VALUES ?x { } }`)

	filter := node.(*Project).Input.(*Filter)
	assert.Equal(t, &Constant{Term: rdf.NewBooleanLiteral(false)}, filter.Expr)
}

func TestTranslate_SubSelectIsJoined(t *testing.T) {
	node := translate(t, `SELECT ?p ?c WHERE { ?p a ex:Project { SELECT ?p (COUNT(?t) AS ?c) WHERE { ?t ex:partOf ?p } GROUP BY ?p } }`)

	join := node.(*Project).Input.(*Join)
	assert.IsType(t, &BGP{}, join.Left)
	inner, ok := join.Right.(*Project)
	require.True(t, ok, "right = %T", join.Right)
	assert.Equal(t, []sparql.Var{"p", "c"}, inner.Vars)
}

func TestTranslate_CountAggregate(t *testing.T) {
	node := translate(t, `SELECT (COUNT(?x) AS ?c) WHERE { ?x rdf:type ex:Task }`)

	project := node.(*Project)
	assert.Equal(t, []sparql.Var{"c"}, project.Vars)

	extend := project.Input.(*Extend)
	assert.Equal(t, sparql.Var("c"), extend.Var)

	group := extend.Input.(*Group)
	assert.Empty(t, group.Keys)
	require.Len(t, group.Aggregates, 1)
	assert.Equal(t, "COUNT", group.Aggregates[0].Name)
	assert.True(t, group.Aggregates[0].Var.Hidden())
	assert.Equal(t, &VarRef{Var: group.Aggregates[0].Var}, extend.Expr)
}

func TestTranslate_HavingUsesAliases(t *testing.T) {
	node := translate(t, `SELECT ?p (COUNT(?t) AS ?n) WHERE { ?t ex:partOf ?p } GROUP BY ?p HAVING (?n > 1)`)

	extend := node.(*Project).Input.(*Extend)
	filter, ok := extend.Input.(*Filter)
	require.True(t, ok)
	group := filter.Input.(*Group)

	want := "(> " + group.Aggregates[0].Var.String() + ` "1"^^<http://www.w3.org/2001/XMLSchema#integer>)`
	assert.Equal(t, want, filter.Expr.String())
}

func TestTranslate_OrderByAggregate(t *testing.T) {
	node := translate(t, `SELECT ?p WHERE { ?t ex:partOf ?p } GROUP BY ?p ORDER BY DESC(COUNT(?t))`)

	order := node.(*Project).Input.(*OrderBy)
	group := order.Input.(*Group)
	require.Len(t, group.Aggregates, 1)
	assert.True(t, order.Conditions[0].Descending)
}

func TestTranslate_Construct(t *testing.T) {
	node := translate(t, `CONSTRUCT { ?t ex:name ?l } WHERE { ?t ex:label ?l } LIMIT 5`)

	construct, ok := node.(*Construct)
	require.True(t, ok)
	assert.Len(t, construct.Template, 1)
	assert.IsType(t, &Slice{}, construct.Input)
}

func TestTranslate_Ask(t *testing.T) {
	node := translate(t, `ASK { ?s ex:label "Z" }`)

	ask, ok := node.(*Ask)
	require.True(t, ok)
	assert.IsType(t, &BGP{}, ask.Input)
}

func TestTranslate_ExistsHoldsTranslatedPattern(t *testing.T) {
	node := translate(t, `SELECT * WHERE { ?t a ex:Task FILTER NOT EXISTS { ?t ex:done true } }`)

	filter := node.(*Project).Input.(*Filter)
	exists := filter.Expr.(*Exists)
	assert.True(t, exists.Not)
	assert.IsType(t, &BGP{}, exists.Pattern)
	assert.Contains(t, exists.String(), "(notexists (bgp (triple ?t")
}

func TestTranslate_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		query   string
		message string
	}{
		{"unknown function", `SELECT * WHERE { ?s ?p ?o FILTER(FROB(?o)) }`, "unknown function FROB"},
		{"unknown IRI function", `SELECT * WHERE { ?s ?p ?o FILTER(ex:frob(?o)) }`, "unknown function http://example.org/frob"},
		{"wrong arity", `SELECT * WHERE { ?s ?p ?o FILTER(CONTAINS(?o)) }`, "CONTAINS called with 1 arguments"},
		{"bound needs var", `SELECT * WHERE { ?s ?p ?o FILTER(BOUND("x")) }`, "BOUND requires a variable"},
		{"aggregate in filter", `SELECT * WHERE { ?s ?p ?o FILTER(COUNT(?o) > 1) }`, "aggregate COUNT is not allowed in FILTER"},
		{"aggregate in bind", `SELECT ?n WHERE { ?s ?p ?o BIND(SUM(?o) AS ?n) }`, "not allowed in BIND"},
		{"nested aggregate", `SELECT (SUM(COUNT(?o)) AS ?n) WHERE { ?s ?p ?o }`, "not allowed in an aggregate argument"},
		{"ungrouped projection", `SELECT ?s (COUNT(?o) AS ?n) WHERE { ?s ?p ?o }`, "?s is not a GROUP BY key"},
		{"ungrouped expression", `SELECT ?p (STR(?o) AS ?x) WHERE { ?s ?p ?o } GROUP BY ?p`, "uses ?o which is not a GROUP BY key"},
		{"star with group", `SELECT * WHERE { ?s ?p ?o } GROUP BY ?s`, "SELECT * cannot be combined"},
		{"duplicate alias", `SELECT (1 AS ?x) (2 AS ?x) WHERE { }`, "?x is projected more than once"},
		{"alias bound in pattern", `SELECT (1 AS ?o) WHERE { ?s ?p ?o }`, "alias ?o is already bound"},
		{"bind target bound", `SELECT * WHERE { ?s ?p ?o BIND(1 AS ?o) }`, "BIND target ?o is already bound"},
		{"group in construct", `CONSTRUCT { ?s ?p ?o } WHERE { ?s ?p ?o } GROUP BY ?s`, "only supported in SELECT"},
		{"bad cast arity", `SELECT * WHERE { ?s ?p ?o FILTER(xsd:integer(?o, ?s) > 1) }`, "takes 1 argument"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			query, err := sparql.Parse(testCase.query)
			require.NoError(t, err)

			_, err = Translate(query)
			require.Error(t, err)
			assert.True(t, exoerr.IsTranslationError(err), "code = %s", exoerr.CodeOf(err))
			assert.Contains(t, err.Error(), testCase.message)
		})
	}
}

func TestTranslate_CastIsAccepted(t *testing.T) {
	node := translate(t, `SELECT * WHERE { ?s ex:priority ?p FILTER(xsd:integer(?p) > 1) }`)

	filter := node.(*Project).Input.(*Filter)
	assert.Contains(t, filter.Expr.String(), "(<http://www.w3.org/2001/XMLSchema#integer> ?p)")
}
