package rdf

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
)

func TestTermEquality(t *testing.T) {
	tests := []struct {
		name  string
		a, b  Term
		equal bool
	}{
		{"same IRI", IRI("http://example.org/a"), IRI("http://example.org/a"), true},
		{"different IRI", IRI("http://example.org/a"), IRI("http://example.org/b"), false},
		{"plain vs xsd:string", NewLiteral("x"), NewTypedLiteral("x", XSDString), true},
		{"plain vs typed", NewLiteral("1"), NewIntegerLiteral(1), false},
		{"language case", NewLangLiteral("chat", "fr-ca"), NewLangLiteral("chat", "fr-CA"), true},
		{"language vs plain", NewLangLiteral("chat", "fr"), NewLiteral("chat"), false},
		{"blank labels", BlankNode("b1"), BlankNode("b1"), true},
		{"blank vs IRI", BlankNode("b1"), IRI("b1"), false},
		{"literal vs IRI", NewLiteral("http://example.org/a"), IRI("http://example.org/a"), false},
		{"nil vs nil", nil, nil, true},
		{"nil vs IRI", nil, IRI("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.equal, Equal(tt.a, tt.b))
		})
	}
}

func TestLiteralKey_NulInLexical(t *testing.T) {
	assert.NotEqual(t, NewLiteral("x\x00@en").Key(), NewLangLiteral("x", "en").Key())
	assert.NotEqual(t, NewLiteral("1\x00^"+string(XSDInteger)).Key(), NewIntegerLiteral(1).Key())
	assert.NotEqual(t, NewLiteral("x\x00").Key(), NewLiteral("x").Key())
	assert.Equal(t, NewLiteral("x\x00y").Key(), NewLiteral("x\x00y").Key())
	assert.False(t, Equal(NewLiteral("x\x00@en"), NewLangLiteral("x", "en")))
}

func TestTermString(t *testing.T) {
	assert.Equal(t, "<http://example.org/a>", IRI("http://example.org/a").String())
	assert.Equal(t, `<http://example.org/a\u0020b>`, IRI("http://example.org/a b").String())
	assert.Equal(t, "_:b0", BlankNode("b0").String())
	assert.Equal(t, `"say \"hi\"\n"`, NewLiteral("say \"hi\"\n").String())
	assert.Equal(t, `"chat"@fr`, NewLangLiteral("chat", "FR").String())
	assert.Equal(t, `"4"^^<http://www.w3.org/2001/XMLSchema#integer>`, NewIntegerLiteral(4).String())
}

func TestLiteralNumeric(t *testing.T) {
	tests := []struct {
		lexical string
		want    float64
		ok      bool
	}{
		{"42", 42, true},
		{"-3.5", -3.5, true},
		{".5", 0.5, true},
		{"1e3", 1000, true},
		{"abc", 0, false},
		{"Inf", 0, false},
		{"NaN", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		got, ok := NewLiteral(tt.lexical).Numeric()
		assert.Equal(t, tt.ok, ok, tt.lexical)
		if tt.ok {
			assert.InDelta(t, tt.want, got, 1e-9, tt.lexical)
		}
	}
}

func TestCompareOrdering(t *testing.T) {
	terms := []Term{
		NewLiteral("b"),
		NewLiteral("10"),
		IRI("http://example.org/z"),
		NewLiteral("9"),
		BlankNode("x"),
		IRI("http://example.org/a"),
		nil,
	}

	sort.SliceStable(terms, func(i, j int) bool { return Compare(terms[i], terms[j]) < 0 })

	want := []Term{
		nil,
		BlankNode("x"),
		IRI("http://example.org/a"),
		IRI("http://example.org/z"),
		NewLiteral("9"),
		NewLiteral("10"),
		NewLiteral("b"),
	}
	require.Len(t, terms, len(want))
	for i := range want {
		assert.True(t, Equal(want[i], terms[i]), "position %d: got %v want %v", i, terms[i], want[i])
	}
}

func TestTripleValidate(t *testing.T) {
	valid := NewTriple(IRI("http://example.org/s"), RDFType, IRI("http://example.org/Task"))
	require.NoError(t, valid.Validate())
	assert.True(t, valid.IsValid())

	invalid := []Triple{
		NewTriple(nil, RDFType, IRI("o")),
		NewTriple(NewLiteral("s"), RDFType, IRI("o")),
		NewTriple(IRI("s"), BlankNode("p"), IRI("o")),
		NewTriple(IRI("s"), NewLiteral("p"), IRI("o")),
	}
	for _, triple := range invalid {
		err := triple.Validate()
		require.Error(t, err, triple.String())
		assert.Equal(t, exoerr.CodeStoreTripleInvalidInput, exoerr.CodeOf(err))
	}
}

func TestTripleNTriples(t *testing.T) {
	triple := NewTriple(IRI("http://example.org/task1"), IRI("http://example.org/label"), NewLiteral("A"))
	assert.Equal(t, `<http://example.org/task1> <http://example.org/label> "A" .`, triple.NTriples())

	same := NewTriple(IRI("http://example.org/task1"), IRI("http://example.org/label"), NewTypedLiteral("A", XSDString))
	assert.True(t, triple.Equals(same))
	assert.Equal(t, triple.Key(), same.Key())
}

func TestParseTerm(t *testing.T) {
	prefixes := DefaultPrefixes()

	tests := []struct {
		input string
		want  Term
	}{
		{"<http://example.org/a>", IRI("http://example.org/a")},
		{"ex:task1", IRI("http://example.org/task1")},
		{"https://exocortex.my/ontology/exo#Asset", IRI("https://exocortex.my/ontology/exo#Asset")},
		{"_:n1", BlankNode("n1")},
		{`"hello"`, NewLiteral("hello")},
		{`"bonjour"@fr`, NewLangLiteral("bonjour", "fr")},
		{`"5"^^xsd:integer`, NewIntegerLiteral(5)},
		{`"5"^^<http://www.w3.org/2001/XMLSchema#integer>`, NewIntegerLiteral(5)},
		{`"tab\there"`, NewLiteral("tab\there")},
		{`"caf\u00e9"`, NewLiteral("café")},
		{"just some text", NewLiteral("just some text")},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTerm(tt.input, prefixes)
			require.NoError(t, err)
			assert.True(t, Equal(tt.want, got), "got %v want %v", got, tt.want)
		})
	}
}

func TestParseTermErrors(t *testing.T) {
	for _, input := range []string{"", "<http://example.org/a", `"open`, "_:", `"x"junk`, `"\q"`} {
		_, err := ParseTerm(input, nil)
		require.Error(t, err, input)
		assert.True(t, exoerr.IsInvalidInput(err), input)
	}
}
