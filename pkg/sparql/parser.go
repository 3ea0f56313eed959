package sparql

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// aggregateNames are the aggregate functions the parser recognizes.
var aggregateNames = map[string]bool{
	"COUNT":        true,
	"SUM":          true,
	"AVG":          true,
	"MIN":          true,
	"MAX":          true,
	"SAMPLE":       true,
	"GROUP_CONCAT": true,
}

// ParseOption configures Parse.
type ParseOption func(*parseConfig)

type parseConfig struct {
	prefixes map[string]string
}

// WithPrefixes makes extra prefix bindings available without a PREFIX
// declaration. Declared prefixes still take precedence.
func WithPrefixes(prefixes map[string]string) ParseOption {
	return func(config *parseConfig) {
		for prefix, namespace := range prefixes {
			config.prefixes[prefix] = namespace
		}
	}
}

// WithoutDefaultPrefixes drops the built-in prefix bindings.
func WithoutDefaultPrefixes() ParseOption {
	return func(config *parseConfig) {
		config.prefixes = make(map[string]string)
	}
}

type parser struct {
	tokens   []token
	pos      int
	prefixes map[string]string
	declared map[string]string
	base     string

	anonCount  int
	inTemplate bool
}

// Parse parses query text into a Query. Errors carry the
// query.parse.syntax code and the line and column of the offending token.
func Parse(text string, opts ...ParseOption) (*Query, error) {
	config := &parseConfig{prefixes: rdf.DefaultPrefixes()}
	for _, opt := range opts {
		opt(config)
	}

	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	if tokens[0].kind == tokenEOF {
		return nil, syntaxError(1, 1, "empty query")
	}

	p := &parser{
		tokens:   tokens,
		prefixes: config.prefixes,
		declared: make(map[string]string),
	}
	return p.parseQuery()
}

// --- token stream ---

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(offset int) token {
	if p.pos+offset < len(p.tokens) {
		return p.tokens[p.pos+offset]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorAt(tok token, format string, args ...any) error {
	return syntaxError(tok.line, tok.column, format, args...)
}

func (p *parser) expect(value string) (token, error) {
	tok := p.peek()
	if !tok.is(value) {
		return tok, p.errorAt(tok, "expected %q, found %s", value, tok.describe())
	}
	return p.next(), nil
}

// --- query forms ---

func newQuery(kind QueryKind) *Query {
	return &Query{Kind: kind, Limit: -1}
}

func (p *parser) parseQuery() (*Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}

	var query *Query
	var err error
	tok := p.peek()
	switch {
	case tok.is("SELECT"):
		query, err = p.parseSelect()
	case tok.is("CONSTRUCT"):
		query, err = p.parseConstruct()
	case tok.is("ASK"):
		query, err = p.parseAsk()
	case tok.is("DESCRIBE"):
		return nil, p.errorAt(tok, "DESCRIBE queries are not supported")
	default:
		return nil, p.errorAt(tok, "expected SELECT, CONSTRUCT or ASK, found %s", tok.describe())
	}
	if err != nil {
		return nil, err
	}

	if p.peek().is("VALUES") {
		p.next()
		if query.Values, err = p.parseDataBlock(); err != nil {
			return nil, err
		}
	}

	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, p.errorAt(tok, "unexpected %s after end of query", tok.describe())
	}

	query.Base = p.base
	query.Prefixes = p.declared
	return query, nil
}

func (p *parser) parsePrologue() error {
	for {
		tok := p.peek()
		switch {
		case tok.is("BASE"):
			p.next()
			iri := p.next()
			if iri.kind != tokenIRI {
				return p.errorAt(iri, "expected IRI after BASE, found %s", iri.describe())
			}
			p.base = p.resolveIRI(iri.text)
		case tok.is("PREFIX"):
			p.next()
			name := p.next()
			if name.kind != tokenPName || strings.Index(name.raw, ":") != len(name.raw)-1 {
				return p.errorAt(name, "expected prefix name after PREFIX, found %s", name.describe())
			}
			iri := p.next()
			if iri.kind != tokenIRI {
				return p.errorAt(iri, "expected IRI for prefix %q, found %s", name.raw, iri.describe())
			}
			prefix := strings.TrimSuffix(name.raw, ":")
			namespace := p.resolveIRI(iri.text)
			p.prefixes[prefix] = namespace
			p.declared[prefix] = namespace
		default:
			return nil
		}
	}
}

func (p *parser) parseSelect() (*Query, error) {
	query := newQuery(KindSelect)
	p.next() // SELECT

	if p.peek().is("DISTINCT") {
		p.next()
		query.Distinct = true
	} else if p.peek().is("REDUCED") {
		p.next()
		query.Reduced = true
	}

	if p.peek().is("*") {
		p.next()
		query.Star = true
	} else {
		for {
			tok := p.peek()
			if tok.kind == tokenVar {
				p.next()
				query.Projection = append(query.Projection, Projection{Var: Var(tok.text)})
				continue
			}
			if !tok.is("(") {
				break
			}
			p.next()
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("AS"); err != nil {
				return nil, err
			}
			alias, err := p.parseVar()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(")"); err != nil {
				return nil, err
			}
			query.Projection = append(query.Projection, Projection{Var: alias, Expr: expr})
		}
		if len(query.Projection) == 0 {
			tok := p.peek()
			return nil, p.errorAt(tok, "expected projection after SELECT, found %s", tok.describe())
		}
	}

	if err := p.parseWhere(query); err != nil {
		return nil, err
	}
	if err := p.parseSolutionModifiers(query); err != nil {
		return nil, err
	}
	return query, nil
}

func (p *parser) parseConstruct() (*Query, error) {
	query := newQuery(KindConstruct)
	p.next() // CONSTRUCT

	if p.peek().is("WHERE") {
		// CONSTRUCT WHERE { triples }: the pattern is also the template.
		p.next()
		if _, err := p.expect("{"); err != nil {
			return nil, err
		}
		patterns, err := p.parseTriplesUntilClose()
		if err != nil {
			return nil, err
		}
		query.Template = patterns
		query.Where = &GroupPattern{}
		if len(patterns) > 0 {
			query.Where.Elements = []Element{&TriplesBlock{Patterns: patterns}}
		}
	} else {
		if _, err := p.expect("{"); err != nil {
			return nil, err
		}
		p.inTemplate = true
		patterns, err := p.parseTriplesUntilClose()
		p.inTemplate = false
		if err != nil {
			return nil, err
		}
		query.Template = patterns
		if err := p.parseWhere(query); err != nil {
			return nil, err
		}
	}

	if err := p.parseSolutionModifiers(query); err != nil {
		return nil, err
	}
	return query, nil
}

func (p *parser) parseAsk() (*Query, error) {
	query := newQuery(KindAsk)
	p.next() // ASK

	if err := p.parseWhere(query); err != nil {
		return nil, err
	}
	if err := p.parseSolutionModifiers(query); err != nil {
		return nil, err
	}
	return query, nil
}

func (p *parser) parseWhere(query *Query) error {
	if p.peek().is("WHERE") {
		p.next()
	}
	group, err := p.parseGroupGraphPattern()
	if err != nil {
		return err
	}
	query.Where = group
	return nil
}

func (p *parser) parseSolutionModifiers(query *Query) error {
	if p.peek().is("GROUP") {
		p.next()
		if _, err := p.expect("BY"); err != nil {
			return err
		}
		for p.peek().kind == tokenVar {
			query.GroupBy = append(query.GroupBy, Var(p.next().text))
		}
		if len(query.GroupBy) == 0 {
			tok := p.peek()
			return p.errorAt(tok, "GROUP BY supports variables only, found %s", tok.describe())
		}
	}

	if p.peek().is("HAVING") {
		p.next()
		for p.startsConstraint() {
			expr, err := p.parseConstraint()
			if err != nil {
				return err
			}
			query.Having = append(query.Having, expr)
		}
		if len(query.Having) == 0 {
			tok := p.peek()
			return p.errorAt(tok, "expected condition after HAVING, found %s", tok.describe())
		}
	}

	if p.peek().is("ORDER") {
		p.next()
		if _, err := p.expect("BY"); err != nil {
			return err
		}
		for {
			condition, ok, err := p.parseOrderCondition()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			query.OrderBy = append(query.OrderBy, condition)
		}
		if len(query.OrderBy) == 0 {
			tok := p.peek()
			return p.errorAt(tok, "expected sort key after ORDER BY, found %s", tok.describe())
		}
	}

	seenLimit, seenOffset := false, false
	for {
		tok := p.peek()
		switch {
		case tok.is("LIMIT") && !seenLimit:
			p.next()
			n, err := p.parseNonNegativeInteger("LIMIT")
			if err != nil {
				return err
			}
			query.Limit, seenLimit = n, true
		case tok.is("OFFSET") && !seenOffset:
			p.next()
			n, err := p.parseNonNegativeInteger("OFFSET")
			if err != nil {
				return err
			}
			query.Offset, seenOffset = n, true
		default:
			return nil
		}
	}
}

func (p *parser) parseOrderCondition() (OrderCondition, bool, error) {
	tok := p.peek()
	switch {
	case tok.is("ASC") || tok.is("DESC"):
		p.next()
		if !p.peek().is("(") {
			next := p.peek()
			return OrderCondition{}, false, p.errorAt(next, "expected '(' after %s, found %s", strings.ToUpper(tok.text), next.describe())
		}
		expr, err := p.parseBracketted()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr, Descending: tok.is("DESC")}, true, nil
	case tok.kind == tokenVar:
		p.next()
		return OrderCondition{Expr: &VarExpr{Var: Var(tok.text)}}, true, nil
	case p.startsConstraint():
		expr, err := p.parseConstraint()
		if err != nil {
			return OrderCondition{}, false, err
		}
		return OrderCondition{Expr: expr}, true, nil
	default:
		return OrderCondition{}, false, nil
	}
}

func (p *parser) parseNonNegativeInteger(clause string) (int, error) {
	tok := p.next()
	if tok.kind != tokenInteger {
		return 0, p.errorAt(tok, "expected integer after %s, found %s", clause, tok.describe())
	}
	n, err := strconv.Atoi(tok.text)
	if err != nil {
		return 0, p.errorAt(tok, "%s value %s is out of range", clause, tok.text)
	}
	return n, nil
}

// --- group graph patterns ---

func (p *parser) parseGroupGraphPattern() (*GroupPattern, error) {
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}

	group := &GroupPattern{}

	if p.peek().is("SELECT") {
		sub, err := p.parseSubSelect()
		if err != nil {
			return nil, err
		}
		group.Elements = append(group.Elements, &SubSelect{Query: sub})
		if _, err := p.expect("}"); err != nil {
			return nil, err
		}
		return group, nil
	}

	// block collects consecutive triples; FILTER does not split it because
	// filters are scoped to the whole group anyway.
	var block *TriplesBlock
	for {
		tok := p.peek()
		switch {
		case tok.is("}"):
			p.next()
			return group, nil

		case tok.kind == tokenEOF:
			return nil, p.errorAt(tok, "unbalanced braces: expected '}' before end of query")

		case tok.is("OPTIONAL"):
			p.next()
			optional, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, &OptionalPattern{Group: optional})
			block = nil

		case tok.is("{"):
			element, err := p.parseGroupOrUnion()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, element)
			block = nil

		case tok.is("FILTER"):
			p.next()
			expr, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, &FilterPattern{Expr: expr})

		case tok.is("BIND"):
			p.next()
			bind, err := p.parseBind()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, bind)
			block = nil

		case tok.is("VALUES"):
			p.next()
			values, err := p.parseDataBlock()
			if err != nil {
				return nil, err
			}
			group.Elements = append(group.Elements, &InlineValues{Values: values})
			block = nil

		case tok.is("MINUS") || tok.is("GRAPH") || tok.is("SERVICE"):
			return nil, p.errorAt(tok, "%s is not supported", strings.ToUpper(tok.text))

		default:
			patterns, err := p.parseTriplesSameSubject()
			if err != nil {
				return nil, err
			}
			if block == nil {
				block = &TriplesBlock{}
				group.Elements = append(group.Elements, block)
			}
			block.Patterns = append(block.Patterns, patterns...)

			if p.peek().is(".") {
				p.next()
				continue
			}
			if next := p.peek(); p.startsTerm(next) {
				return nil, p.errorAt(next, "expected '.' or '}', found %s", next.describe())
			}
			continue
		}

		if p.peek().is(".") {
			p.next()
		}
	}
}

func (p *parser) parseGroupOrUnion() (Element, error) {
	first, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	groups := []*GroupPattern{first}
	for p.peek().is("UNION") {
		p.next()
		next, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		groups = append(groups, next)
	}
	if len(groups) == 1 {
		return &NestedGroup{Group: first}, nil
	}
	return &UnionPattern{Groups: groups}, nil
}

func (p *parser) parseSubSelect() (*Query, error) {
	query, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if p.peek().is("VALUES") {
		p.next()
		if query.Values, err = p.parseDataBlock(); err != nil {
			return nil, err
		}
	}
	return query, nil
}

func (p *parser) parseBind() (*BindPattern, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("AS"); err != nil {
		return nil, err
	}
	v, err := p.parseVar()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return &BindPattern{Expr: expr, Var: v}, nil
}

// parseDataBlock parses the body of a VALUES clause, after the keyword.
func (p *parser) parseDataBlock() (*ValuesBlock, error) {
	values := &ValuesBlock{}

	if tok := p.peek(); tok.kind == tokenVar {
		p.next()
		values.Vars = []Var{Var(tok.text)}
		if _, err := p.expect("{"); err != nil {
			return nil, err
		}
		for !p.peek().is("}") {
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			values.Rows = append(values.Rows, []rdf.Term{term})
		}
		p.next()
		return values, nil
	}

	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	for p.peek().kind == tokenVar {
		values.Vars = append(values.Vars, Var(p.next().text))
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	for !p.peek().is("}") {
		open, err := p.expect("(")
		if err != nil {
			return nil, err
		}
		var row []rdf.Term
		for !p.peek().is(")") {
			term, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			row = append(row, term)
		}
		p.next()
		if len(row) != len(values.Vars) {
			return nil, p.errorAt(open, "VALUES row has %d terms, expected %d", len(row), len(values.Vars))
		}
		values.Rows = append(values.Rows, row)
	}
	p.next()
	return values, nil
}

// parseDataValue parses one VALUES entry. UNDEF yields a nil term.
func (p *parser) parseDataValue() (rdf.Term, error) {
	tok := p.peek()
	switch {
	case tok.is("UNDEF"):
		p.next()
		return nil, nil
	case tok.kind == tokenIRI || tok.kind == tokenPName:
		return p.parseIRI()
	case tok.kind == tokenString:
		return p.parseLiteral()
	case p.startsNumber():
		return p.parseNumber()
	case tok.is("true") || tok.is("false"):
		p.next()
		return rdf.NewBooleanLiteral(tok.is("true")), nil
	case tok.kind == tokenEOF:
		return nil, p.errorAt(tok, "unbalanced braces: expected '}' before end of query")
	default:
		return nil, p.errorAt(tok, "expected VALUES term, found %s", tok.describe())
	}
}

// --- triples ---

// parseTriplesUntilClose parses '.'-separated triples up to and including
// the closing brace.
func (p *parser) parseTriplesUntilClose() ([]TriplePattern, error) {
	var patterns []TriplePattern
	for {
		tok := p.peek()
		if tok.is("}") {
			p.next()
			return patterns, nil
		}
		if tok.kind == tokenEOF {
			return nil, p.errorAt(tok, "unbalanced braces: expected '}' before end of query")
		}
		more, err := p.parseTriplesSameSubject()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, more...)
		if p.peek().is(".") {
			p.next()
		} else if next := p.peek(); !next.is("}") {
			return nil, p.errorAt(next, "expected '.' or '}', found %s", next.describe())
		}
	}
}

func (p *parser) parseTriplesSameSubject() ([]TriplePattern, error) {
	if p.peek().is("[") {
		subject, patterns, err := p.parseBlankNodePropertyList()
		if err != nil {
			return nil, err
		}
		if p.startsVerb() {
			more, err := p.parsePropertyList(subject)
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, more...)
		}
		return patterns, nil
	}

	subject, err := p.parseGraphTerm()
	if err != nil {
		return nil, err
	}
	return p.parsePropertyList(subject)
}

func (p *parser) parsePropertyList(subject PatternTerm) ([]TriplePattern, error) {
	var patterns []TriplePattern
	for {
		predicate, err := p.parseVerb()
		if err != nil {
			return nil, err
		}
		for {
			object, inner, err := p.parseObject()
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, inner...)
			patterns = append(patterns, TriplePattern{Subject: subject, Predicate: predicate, Object: object})
			if !p.peek().is(",") {
				break
			}
			p.next()
		}

		if !p.peek().is(";") {
			return patterns, nil
		}
		for p.peek().is(";") {
			p.next()
		}
		if !p.startsVerb() {
			return patterns, nil
		}
	}
}

func (p *parser) parseBlankNodePropertyList() (PatternTerm, []TriplePattern, error) {
	p.next() // [
	node := p.anonymousNode()
	if p.peek().is("]") {
		p.next()
		return node, nil, nil
	}
	patterns, err := p.parsePropertyList(node)
	if err != nil {
		return PatternTerm{}, nil, err
	}
	if _, err := p.expect("]"); err != nil {
		return PatternTerm{}, nil, err
	}
	return node, patterns, nil
}

func (p *parser) parseVerb() (PatternTerm, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenVar:
		p.next()
		return VarTerm(Var(tok.text)), nil
	case tok.kind == tokenWord && tok.text == "a":
		p.next()
		return ConstTerm(rdf.RDFType), nil
	case tok.kind == tokenIRI || tok.kind == tokenPName:
		iri, err := p.parseIRI()
		if err != nil {
			return PatternTerm{}, err
		}
		return ConstTerm(iri), nil
	default:
		return PatternTerm{}, p.errorAt(tok, "expected predicate, found %s", tok.describe())
	}
}

func (p *parser) parseObject() (PatternTerm, []TriplePattern, error) {
	if p.peek().is("[") {
		return p.parseBlankNodePropertyList()
	}
	term, err := p.parseGraphTerm()
	return term, nil, err
}

// parseGraphTerm parses a subject or object position.
func (p *parser) parseGraphTerm() (PatternTerm, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokenVar:
		p.next()
		return VarTerm(Var(tok.text)), nil
	case tok.kind == tokenIRI || tok.kind == tokenPName:
		iri, err := p.parseIRI()
		if err != nil {
			return PatternTerm{}, err
		}
		return ConstTerm(iri), nil
	case tok.kind == tokenBlank:
		p.next()
		return p.labelledNode(tok.text), nil
	case tok.kind == tokenString:
		literal, err := p.parseLiteral()
		if err != nil {
			return PatternTerm{}, err
		}
		return ConstTerm(literal), nil
	case p.startsNumber():
		number, err := p.parseNumber()
		if err != nil {
			return PatternTerm{}, err
		}
		return ConstTerm(number), nil
	case tok.is("true") || tok.is("false"):
		p.next()
		return ConstTerm(rdf.NewBooleanLiteral(tok.is("true"))), nil
	case tok.is("("):
		return PatternTerm{}, p.errorAt(tok, "RDF collections are not supported")
	default:
		return PatternTerm{}, p.errorAt(tok, "expected term, found %s", tok.describe())
	}
}

// labelledNode maps a _:label. In a CONSTRUCT template it stays a blank node
// that the executor renames per solution; in a pattern it acts as a
// variable that is never projected.
func (p *parser) labelledNode(label string) PatternTerm {
	if p.inTemplate {
		return ConstTerm(rdf.BlankNode(label))
	}
	return VarTerm(Var(".b_" + label))
}

func (p *parser) anonymousNode() PatternTerm {
	p.anonCount++
	label := fmt.Sprintf(".anon%d", p.anonCount)
	if p.inTemplate {
		return ConstTerm(rdf.BlankNode(label))
	}
	return VarTerm(Var(label))
}

// --- terms ---

func (p *parser) parseVar() (Var, error) {
	tok := p.next()
	if tok.kind != tokenVar {
		return "", p.errorAt(tok, "expected variable, found %s", tok.describe())
	}
	return Var(tok.text), nil
}

func (p *parser) parseIRI() (rdf.IRI, error) {
	tok := p.next()
	switch tok.kind {
	case tokenIRI:
		return rdf.IRI(p.resolveIRI(tok.text)), nil
	case tokenPName:
		index := strings.Index(tok.raw, ":")
		prefix, local := tok.raw[:index], tok.raw[index+1:]
		namespace, ok := p.prefixes[prefix]
		if !ok {
			return "", p.errorAt(tok, "undefined prefix %q", prefix)
		}
		return rdf.IRI(namespace + local), nil
	default:
		return "", p.errorAt(tok, "expected IRI, found %s", tok.describe())
	}
}

func (p *parser) resolveIRI(ref string) string {
	if p.base == "" {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil || refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(p.base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func (p *parser) parseLiteral() (rdf.Term, error) {
	tok := p.next()
	if p.peek().kind == tokenLangTag {
		return rdf.NewLangLiteral(tok.text, p.next().text), nil
	}
	if p.peek().is("^^") {
		p.next()
		datatype, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return rdf.NewTypedLiteral(tok.text, datatype), nil
	}
	return rdf.NewLiteral(tok.text), nil
}

func isNumberToken(tok token) bool {
	return tok.kind == tokenInteger || tok.kind == tokenDecimal || tok.kind == tokenDouble
}

func (p *parser) startsNumber() bool {
	tok := p.peek()
	if isNumberToken(tok) {
		return true
	}
	return (tok.is("-") || tok.is("+")) && isNumberToken(p.peekAt(1))
}

// parseNumber parses a numeric literal with an optional sign, keeping the
// lexical form as written.
func (p *parser) parseNumber() (rdf.Term, error) {
	sign := ""
	if tok := p.peek(); tok.is("-") || tok.is("+") {
		sign = p.next().text
	}
	tok := p.next()
	switch tok.kind {
	case tokenInteger:
		return rdf.NewTypedLiteral(sign+tok.text, rdf.XSDInteger), nil
	case tokenDecimal:
		return rdf.NewTypedLiteral(sign+tok.text, rdf.XSDDecimal), nil
	case tokenDouble:
		return rdf.NewTypedLiteral(sign+tok.text, rdf.XSDDouble), nil
	default:
		return nil, p.errorAt(tok, "expected number, found %s", tok.describe())
	}
}

func (p *parser) startsVerb() bool {
	tok := p.peek()
	return tok.kind == tokenVar || tok.kind == tokenIRI || tok.kind == tokenPName ||
		(tok.kind == tokenWord && tok.text == "a")
}

func (p *parser) startsTerm(tok token) bool {
	switch tok.kind {
	case tokenVar, tokenIRI, tokenPName, tokenBlank, tokenString, tokenInteger, tokenDecimal, tokenDouble:
		return true
	}
	return tok.is("[")
}

// --- expressions ---

func (p *parser) startsConstraint() bool {
	tok := p.peek()
	switch {
	case tok.is("("):
		return true
	case tok.kind == tokenWord, tok.kind == tokenIRI, tok.kind == tokenPName:
		if tok.is("NOT") || tok.is("EXISTS") {
			return true
		}
		return p.peekAt(1).is("(")
	}
	return false
}

// parseConstraint parses a bracketted expression or a function call, the
// forms allowed after FILTER and HAVING and in ORDER BY.
func (p *parser) parseConstraint() (Expr, error) {
	tok := p.peek()
	if tok.is("(") {
		return p.parseBracketted()
	}
	if !p.startsConstraint() {
		return nil, p.errorAt(tok, "expected '(' or function call, found %s", tok.describe())
	}
	return p.parsePrimary()
}

func (p *parser) parseBracketted() (Expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *parser) parseExpression() (Expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().is("||") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "||", Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for p.peek().is("&&") {
		p.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: "&&", Left: left, Right: right}
	}
	return left, nil
}

var comparisonOperators = []string{"=", "!=", "<", "<=", ">", ">="}

func (p *parser) parseRelational() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	for _, op := range comparisonOperators {
		if tok.is(op) {
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &BinaryExpr{Op: op, Left: left, Right: right}, nil
		}
	}

	name := ""
	switch {
	case tok.is("IN"):
		p.next()
		name = "IN"
	case tok.is("NOT") && p.peekAt(1).is("IN"):
		p.next()
		p.next()
		name = "NOT IN"
	default:
		return left, nil
	}
	list, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	return &CallExpr{Name: name, Args: append([]Expr{left}, list...)}, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().is("+") || p.peek().is("-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().is("*") || p.peek().is("/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if tok := p.peek(); tok.is("!") || tok.is("-") || tok.is("+") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: tok.text, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.peek()
	switch {
	case tok.is("("):
		return p.parseBracketted()

	case tok.kind == tokenVar:
		p.next()
		return &VarExpr{Var: Var(tok.text)}, nil

	case tok.kind == tokenString:
		literal, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		return &TermExpr{Term: literal}, nil

	case isNumberToken(tok):
		number, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		return &TermExpr{Term: number}, nil

	case tok.kind == tokenIRI || tok.kind == tokenPName:
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		if !p.peek().is("(") {
			return &TermExpr{Term: iri}, nil
		}
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &CallExpr{Name: string(iri), Args: args}, nil

	case tok.is("true") || tok.is("false"):
		p.next()
		return &TermExpr{Term: rdf.NewBooleanLiteral(tok.is("true"))}, nil

	case tok.is("EXISTS"):
		p.next()
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &ExistsExpr{Pattern: pattern}, nil

	case tok.is("NOT") && p.peekAt(1).is("EXISTS"):
		p.next()
		p.next()
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &ExistsExpr{Not: true, Pattern: pattern}, nil

	case tok.kind == tokenWord && p.peekAt(1).is("("):
		name := strings.ToUpper(tok.text)
		if aggregateNames[name] {
			return p.parseAggregate()
		}
		p.next()
		args, err := p.parseArgList()
		if err != nil {
			return nil, err
		}
		return &CallExpr{Name: name, Args: args}, nil

	case tok.kind == tokenEOF:
		return nil, p.errorAt(tok, "unexpected end of query in expression")

	default:
		return nil, p.errorAt(tok, "unexpected %s in expression", tok.describe())
	}
}

// parseArgList parses '(' [expr {',' expr}] ')'.
func (p *parser) parseArgList() ([]Expr, error) {
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	var args []Expr
	if p.peek().is(")") {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if !p.peek().is(",") {
			break
		}
		p.next()
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return args, nil
}

func (p *parser) parseAggregate() (Expr, error) {
	aggregate := &AggregateExpr{Name: strings.ToUpper(p.next().text), Separator: " "}
	if _, err := p.expect("("); err != nil {
		return nil, err
	}
	if p.peek().is("DISTINCT") {
		p.next()
		aggregate.Distinct = true
	}

	if p.peek().is("*") {
		if aggregate.Name != "COUNT" {
			return nil, p.errorAt(p.peek(), "'*' is only allowed in COUNT")
		}
		p.next()
		aggregate.Star = true
	} else {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		aggregate.Arg = arg
	}

	if aggregate.Name == "GROUP_CONCAT" && p.peek().is(";") {
		p.next()
		if _, err := p.expect("SEPARATOR"); err != nil {
			return nil, err
		}
		if _, err := p.expect("="); err != nil {
			return nil, err
		}
		separator := p.next()
		if separator.kind != tokenString {
			return nil, p.errorAt(separator, "expected string after SEPARATOR, found %s", separator.describe())
		}
		aggregate.Separator = separator.text
	}

	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return aggregate, nil
}
