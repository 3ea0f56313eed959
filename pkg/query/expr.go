package query

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/coolbeans/exocortex/pkg/algebra"
	"github.com/coolbeans/exocortex/pkg/rdf"
)

// Expression evaluation follows SPARQL's error semantics: value returns
// ok=false when an expression has no value, because a variable is unbound
// or an operand has the wrong type. A filter whose condition has no value
// rejects the solution.

// holds reports whether expr has effective boolean value true.
func (ev *evaluator) holds(expr algebra.Expr, solution Solution) bool {
	b, ok := ev.truth(expr, solution)
	return ok && b
}

func (ev *evaluator) truth(expr algebra.Expr, solution Solution) (bool, bool) {
	value, ok := ev.value(expr, solution)
	if !ok {
		return false, false
	}
	return effectiveBoolean(value)
}

// effectiveBoolean converts a term to a boolean the way FILTER does.
func effectiveBoolean(term rdf.Term) (bool, bool) {
	literal, ok := term.(rdf.Literal)
	if !ok {
		return false, false
	}
	switch {
	case literal.Datatype == rdf.XSDBoolean:
		switch literal.Lexical {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
		return false, false
	case isNumericType(literal.Datatype):
		f, ok := literal.Numeric()
		if !ok {
			return false, true
		}
		return f != 0 && !math.IsNaN(f), true
	case literal.Datatype == "":
		return literal.Lexical != "", true
	default:
		return false, false
	}
}

func isNumericType(datatype rdf.IRI) bool {
	switch datatype {
	case rdf.XSDInteger, rdf.XSDDecimal, rdf.XSDDouble, rdf.XSDFloat, rdf.XSDLong, rdf.XSDInt:
		return true
	}
	return false
}

// numeric returns the numeric value of a literal whose lexical form is a
// number, whatever its datatype.
func numeric(term rdf.Term) (float64, bool) {
	literal, ok := term.(rdf.Literal)
	if !ok || literal.Language != "" {
		return 0, false
	}
	return literal.Numeric()
}

func integral(term rdf.Term) bool {
	literal, ok := term.(rdf.Literal)
	if !ok {
		return false
	}
	switch literal.Datatype {
	case rdf.XSDDecimal, rdf.XSDDouble, rdf.XSDFloat:
		return false
	}
	return literal.IsInteger()
}

func numberLiteral(f float64, asInteger bool) rdf.Term {
	if asInteger && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return rdf.NewIntegerLiteral(int64(f))
	}
	return rdf.NewDecimalLiteral(f)
}

func (ev *evaluator) value(expr algebra.Expr, solution Solution) (rdf.Term, bool) {
	switch e := expr.(type) {
	case *algebra.VarRef:
		term, ok := solution[string(e.Var)]
		return term, ok
	case *algebra.Constant:
		return e.Term, true
	case *algebra.Binary:
		return ev.binary(e, solution)
	case *algebra.Unary:
		return ev.unary(e, solution)
	case *algebra.Call:
		return ev.call(e, solution)
	case *algebra.Exists:
		inner := &evaluator{store: ev.store, seed: solution}
		found := len(inner.eval(e.Pattern)) > 0
		return rdf.NewBooleanLiteral(found != e.Not), true
	default:
		return nil, false
	}
}

func (ev *evaluator) binary(e *algebra.Binary, solution Solution) (rdf.Term, bool) {
	switch e.Op {
	case "||":
		left, lok := ev.truth(e.Left, solution)
		right, rok := ev.truth(e.Right, solution)
		switch {
		case (lok && left) || (rok && right):
			return rdf.NewBooleanLiteral(true), true
		case lok && rok:
			return rdf.NewBooleanLiteral(false), true
		}
		return nil, false
	case "&&":
		left, lok := ev.truth(e.Left, solution)
		right, rok := ev.truth(e.Right, solution)
		switch {
		case (lok && !left) || (rok && !right):
			return rdf.NewBooleanLiteral(false), true
		case lok && rok:
			return rdf.NewBooleanLiteral(true), true
		}
		return nil, false
	}

	left, ok := ev.value(e.Left, solution)
	if !ok {
		return nil, false
	}
	right, ok := ev.value(e.Right, solution)
	if !ok {
		return nil, false
	}

	switch e.Op {
	case "=":
		return rdf.NewBooleanLiteral(termsEqual(left, right)), true
	case "!=":
		return rdf.NewBooleanLiteral(!termsEqual(left, right)), true
	case "<", "<=", ">", ">=":
		c, ok := compareValues(left, right)
		if !ok {
			return nil, false
		}
		var result bool
		switch e.Op {
		case "<":
			result = c < 0
		case "<=":
			result = c <= 0
		case ">":
			result = c > 0
		default:
			result = c >= 0
		}
		return rdf.NewBooleanLiteral(result), true
	case "+", "-", "*", "/":
		return arithmetic(e.Op, left, right)
	}
	return nil, false
}

// termsEqual compares numbers by value and everything else as RDF terms.
func termsEqual(a, b rdf.Term) bool {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			return fa == fb
		}
	}
	return rdf.Equal(a, b)
}

// compareValues orders two literals, numerically when both are numbers
// and by lexical form otherwise. Other terms cannot be ordered.
func compareValues(a, b rdf.Term) (int, bool) {
	if fa, ok := numeric(a); ok {
		if fb, ok := numeric(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	la, aok := a.(rdf.Literal)
	lb, bok := b.(rdf.Literal)
	if !aok || !bok {
		return 0, false
	}
	return strings.Compare(la.Lexical, lb.Lexical), true
}

func arithmetic(op string, left, right rdf.Term) (rdf.Term, bool) {
	a, ok := numeric(left)
	if !ok {
		return nil, false
	}
	b, ok := numeric(right)
	if !ok {
		return nil, false
	}
	asInteger := integral(left) && integral(right)

	switch op {
	case "+":
		return numberLiteral(a+b, asInteger), true
	case "-":
		return numberLiteral(a-b, asInteger), true
	case "*":
		return numberLiteral(a*b, asInteger), true
	default:
		if b == 0 {
			return nil, false
		}
		return rdf.NewDecimalLiteral(a / b), true
	}
}

func (ev *evaluator) unary(e *algebra.Unary, solution Solution) (rdf.Term, bool) {
	if e.Op == "!" {
		b, ok := ev.truth(e.Operand, solution)
		if !ok {
			return nil, false
		}
		return rdf.NewBooleanLiteral(!b), true
	}

	operand, ok := ev.value(e.Operand, solution)
	if !ok {
		return nil, false
	}
	f, ok := numeric(operand)
	if !ok {
		return nil, false
	}
	if e.Op == "-" {
		f = -f
	}
	return numberLiteral(f, integral(operand)), true
}

func (ev *evaluator) call(e *algebra.Call, solution Solution) (rdf.Term, bool) {
	// Functions that do not evaluate all of their arguments up front.
	switch e.Name {
	case "BOUND":
		ref, ok := e.Args[0].(*algebra.VarRef)
		if !ok {
			return nil, false
		}
		_, bound := solution[string(ref.Var)]
		return rdf.NewBooleanLiteral(bound), true
	case "IF":
		condition, ok := ev.truth(e.Args[0], solution)
		if !ok {
			return nil, false
		}
		if condition {
			return ev.value(e.Args[1], solution)
		}
		return ev.value(e.Args[2], solution)
	case "COALESCE":
		for _, arg := range e.Args {
			if value, ok := ev.value(arg, solution); ok {
				return value, true
			}
		}
		return nil, false
	case "IN", "NOT IN":
		return ev.in(e, solution)
	}

	args := make([]rdf.Term, len(e.Args))
	for i, arg := range e.Args {
		value, ok := ev.value(arg, solution)
		if !ok {
			return nil, false
		}
		args[i] = value
	}

	if algebra.IsCast(e.Name) {
		return cast(rdf.IRI(e.Name), args[0])
	}
	return builtin(e.Name, args)
}

func (ev *evaluator) in(e *algebra.Call, solution Solution) (rdf.Term, bool) {
	needle, ok := ev.value(e.Args[0], solution)
	if !ok {
		return nil, false
	}
	found := false
	for _, arg := range e.Args[1:] {
		candidate, ok := ev.value(arg, solution)
		if ok && termsEqual(needle, candidate) {
			found = true
			break
		}
	}
	return rdf.NewBooleanLiteral(found == (e.Name == "IN")), true
}

func builtin(name string, args []rdf.Term) (rdf.Term, bool) {
	switch name {
	case "STR":
		switch term := args[0].(type) {
		case rdf.IRI:
			return rdf.NewLiteral(string(term)), true
		case rdf.Literal:
			return rdf.NewLiteral(term.Lexical), true
		}
		return nil, false
	case "LANG":
		literal, ok := args[0].(rdf.Literal)
		if !ok {
			return nil, false
		}
		return rdf.NewLiteral(literal.Language), true
	case "DATATYPE":
		literal, ok := args[0].(rdf.Literal)
		if !ok {
			return nil, false
		}
		switch {
		case literal.Language != "":
			return rdf.RDFLangString, true
		case literal.Datatype == "":
			return rdf.XSDString, true
		}
		return literal.Datatype, true
	case "LCASE", "UCASE":
		literal, ok := stringLiteral(args[0])
		if !ok {
			return nil, false
		}
		// Casers carry state and cannot be shared between goroutines.
		caser := cases.Lower(language.Und)
		if name == "UCASE" {
			caser = cases.Upper(language.Und)
		}
		literal.Lexical = caser.String(literal.Lexical)
		return literal, true
	case "STRLEN":
		literal, ok := stringLiteral(args[0])
		if !ok {
			return nil, false
		}
		return rdf.NewIntegerLiteral(int64(utf8.RuneCountInString(literal.Lexical))), true
	case "CONTAINS", "STRSTARTS", "STRENDS":
		haystack, ok := stringLiteral(args[0])
		if !ok {
			return nil, false
		}
		needle, ok := stringLiteral(args[1])
		if !ok {
			return nil, false
		}
		var result bool
		switch name {
		case "CONTAINS":
			result = strings.Contains(haystack.Lexical, needle.Lexical)
		case "STRSTARTS":
			result = strings.HasPrefix(haystack.Lexical, needle.Lexical)
		default:
			result = strings.HasSuffix(haystack.Lexical, needle.Lexical)
		}
		return rdf.NewBooleanLiteral(result), true
	case "REGEX":
		return regex(args)
	case "ISIRI", "ISURI":
		return rdf.NewBooleanLiteral(args[0].Kind() == rdf.KindIRI), true
	case "ISLITERAL":
		return rdf.NewBooleanLiteral(args[0].Kind() == rdf.KindLiteral), true
	case "ISBLANK":
		return rdf.NewBooleanLiteral(args[0].Kind() == rdf.KindBlankNode), true
	case "ISNUMERIC":
		_, ok := numeric(args[0])
		return rdf.NewBooleanLiteral(ok), true
	case "SAMETERM":
		return rdf.NewBooleanLiteral(rdf.Equal(args[0], args[1])), true
	case "LANGMATCHES":
		return langMatches(args[0], args[1])
	case "CONCAT":
		var builder strings.Builder
		for _, arg := range args {
			literal, ok := stringLiteral(arg)
			if !ok {
				return nil, false
			}
			builder.WriteString(literal.Lexical)
		}
		return rdf.NewLiteral(builder.String()), true
	case "SUBSTR":
		return substr(args)
	case "ABS":
		f, ok := numeric(args[0])
		if !ok {
			return nil, false
		}
		return numberLiteral(math.Abs(f), integral(args[0])), true
	}
	return nil, false
}

// stringLiteral accepts plain, xsd:string and language-tagged literals.
func stringLiteral(term rdf.Term) (rdf.Literal, bool) {
	literal, ok := term.(rdf.Literal)
	if !ok {
		return rdf.Literal{}, false
	}
	if literal.Datatype != "" && literal.Datatype != rdf.XSDString {
		return rdf.Literal{}, false
	}
	return literal, true
}

func regex(args []rdf.Term) (rdf.Term, bool) {
	text, ok := stringLiteral(args[0])
	if !ok {
		return nil, false
	}
	pattern, ok := stringLiteral(args[1])
	if !ok {
		return nil, false
	}
	expression := pattern.Lexical
	if len(args) == 3 {
		flags, ok := stringLiteral(args[2])
		if !ok {
			return nil, false
		}
		if flags.Lexical != "" {
			for _, flag := range flags.Lexical {
				if !strings.ContainsRune("ims", flag) {
					return nil, false
				}
			}
			expression = "(?" + flags.Lexical + ")" + expression
		}
	}
	re, err := regexp.Compile(expression)
	if err != nil {
		return nil, false
	}
	return rdf.NewBooleanLiteral(re.MatchString(text.Lexical)), true
}

func langMatches(tag, rangeTerm rdf.Term) (rdf.Term, bool) {
	t, ok := stringLiteral(tag)
	if !ok {
		return nil, false
	}
	r, ok := stringLiteral(rangeTerm)
	if !ok {
		return nil, false
	}
	lang := strings.ToLower(t.Lexical)
	want := strings.ToLower(r.Lexical)
	if want == "*" {
		return rdf.NewBooleanLiteral(lang != ""), true
	}
	return rdf.NewBooleanLiteral(lang == want || strings.HasPrefix(lang, want+"-")), true
}

// substr uses 1-based character positions.
func substr(args []rdf.Term) (rdf.Term, bool) {
	literal, ok := stringLiteral(args[0])
	if !ok {
		return nil, false
	}
	startValue, ok := numeric(args[1])
	if !ok {
		return nil, false
	}
	runes := []rune(literal.Lexical)
	start := int(math.Round(startValue)) - 1
	end := len(runes)
	if len(args) == 3 {
		length, ok := numeric(args[2])
		if !ok {
			return nil, false
		}
		end = start + int(math.Round(length))
	}
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start > end {
		start = end
	}
	literal.Lexical = string(runes[start:end])
	return literal, true
}

func cast(datatype rdf.IRI, term rdf.Term) (rdf.Term, bool) {
	if datatype == rdf.XSDString {
		switch t := term.(type) {
		case rdf.IRI:
			return rdf.NewLiteral(string(t)), true
		case rdf.Literal:
			return rdf.NewLiteral(t.Lexical), true
		}
		return nil, false
	}

	literal, ok := term.(rdf.Literal)
	if !ok {
		return nil, false
	}
	lexical := strings.TrimSpace(literal.Lexical)

	switch datatype {
	case rdf.XSDBoolean:
		switch lexical {
		case "true", "1":
			return rdf.NewBooleanLiteral(true), true
		case "false", "0":
			return rdf.NewBooleanLiteral(false), true
		}
		if f, ok := literal.Numeric(); ok {
			return rdf.NewBooleanLiteral(f != 0), true
		}
		return nil, false
	case rdf.XSDInteger:
		if literal.Datatype == rdf.XSDBoolean {
			if lexical == "true" || lexical == "1" {
				return rdf.NewIntegerLiteral(1), true
			}
			return rdf.NewIntegerLiteral(0), true
		}
		if n, err := strconv.ParseInt(lexical, 10, 64); err == nil {
			return rdf.NewIntegerLiteral(n), true
		}
		f, ok := literal.Numeric()
		if !ok || math.Abs(f) >= 1<<63 {
			return nil, false
		}
		return rdf.NewIntegerLiteral(int64(f)), true
	default:
		if literal.Datatype == rdf.XSDBoolean {
			if lexical == "true" || lexical == "1" {
				lexical = "1"
			} else {
				lexical = "0"
			}
		}
		f, err := strconv.ParseFloat(lexical, 64)
		if err != nil {
			return nil, false
		}
		return rdf.NewTypedLiteral(strconv.FormatFloat(f, 'f', -1, 64), datatype), true
	}
}
