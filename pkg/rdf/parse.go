package rdf

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
)

var schemePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.\-]*:\S+$`)

// ParseTerm reads a single term written in N-Triples syntax or as a
// prefixed name. Bare absolute IRIs are accepted; any other bare text is a
// plain literal.
func ParseTerm(text string, prefixes map[string]string) (Term, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "empty term")
	}

	switch {
	case strings.HasPrefix(text, "<"):
		if !strings.HasSuffix(text, ">") || len(text) < 3 {
			return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "unterminated IRI",
				exoerr.Field("term", text))
		}
		return IRI(text[1 : len(text)-1]), nil

	case strings.HasPrefix(text, "_:"):
		label := text[2:]
		if label == "" || strings.ContainsAny(label, " \t\r\n") {
			return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "invalid blank node label",
				exoerr.Field("term", text))
		}
		return BlankNode(label), nil

	case strings.HasPrefix(text, `"`):
		return parseQuotedLiteral(text, prefixes)
	}

	if idx := strings.Index(text, ":"); idx >= 0 {
		if namespace, ok := prefixes[text[:idx]]; ok {
			return IRI(namespace + text[idx+1:]), nil
		}
	}

	if schemePattern.MatchString(text) {
		return IRI(text), nil
	}

	return NewLiteral(text), nil
}

func parseQuotedLiteral(text string, prefixes map[string]string) (Term, error) {
	end := closingQuote(text)
	if end < 0 {
		return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "unterminated literal",
			exoerr.Field("term", text))
	}

	lexical, err := UnescapeLiteral(text[1:end])
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeStoreTripleInvalidInput, "invalid literal escape",
			exoerr.Field("term", text))
	}

	suffix := text[end+1:]
	switch {
	case suffix == "":
		return NewLiteral(lexical), nil
	case strings.HasPrefix(suffix, "@") && len(suffix) > 1:
		return NewLangLiteral(lexical, suffix[1:]), nil
	case strings.HasPrefix(suffix, "^^"):
		datatype, err := ParseTerm(suffix[2:], prefixes)
		if err != nil {
			return nil, err
		}
		iri, ok := datatype.(IRI)
		if !ok {
			return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "literal datatype must be an IRI",
				exoerr.Field("term", text))
		}
		return NewTypedLiteral(lexical, iri), nil
	default:
		return nil, exoerr.New(exoerr.CodeStoreTripleInvalidInput, "unexpected text after literal",
			exoerr.Field("term", text))
	}
}

// closingQuote returns the index of the quote that ends the literal
// starting at text[0], or -1.
func closingQuote(text string) int {
	for i := 1; i < len(text); i++ {
		switch text[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

// UnescapeLiteral resolves the string escapes shared by N-Triples, Turtle
// and SPARQL.
func UnescapeLiteral(value string) (string, error) {
	if !strings.Contains(value, `\`) {
		return value, nil
	}

	var builder strings.Builder
	builder.Grow(len(value))

	for i := 0; i < len(value); i++ {
		char := value[i]
		if char != '\\' {
			builder.WriteByte(char)
			continue
		}
		if i+1 >= len(value) {
			return "", exoerr.New(exoerr.CodeStoreTripleInvalidInput, "dangling escape")
		}
		i++
		switch value[i] {
		case 't':
			builder.WriteByte('\t')
		case 'n':
			builder.WriteByte('\n')
		case 'r':
			builder.WriteByte('\r')
		case 'b':
			builder.WriteByte('\b')
		case 'f':
			builder.WriteByte('\f')
		case '"', '\'', '\\':
			builder.WriteByte(value[i])
		case 'u', 'U':
			width := 4
			if value[i] == 'U' {
				width = 8
			}
			if i+1+width > len(value) {
				return "", exoerr.New(exoerr.CodeStoreTripleInvalidInput, "truncated unicode escape")
			}
			code, err := strconv.ParseUint(value[i+1:i+1+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(code)) {
				return "", exoerr.New(exoerr.CodeStoreTripleInvalidInput, "invalid unicode escape")
			}
			builder.WriteRune(rune(code))
			i += width
		default:
			return "", exoerr.New(exoerr.CodeStoreTripleInvalidInput, "unknown escape",
				exoerr.Field("escape", string(value[i])))
		}
	}

	return builder.String(), nil
}
