package sparql

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIRI
	tokenPName
	tokenVar
	tokenBlank
	tokenString
	tokenLangTag
	tokenInteger
	tokenDecimal
	tokenDouble
	tokenWord
	tokenPunct
)

func (k tokenKind) String() string {
	switch k {
	case tokenEOF:
		return "end of query"
	case tokenIRI:
		return "IRI"
	case tokenPName:
		return "prefixed name"
	case tokenVar:
		return "variable"
	case tokenBlank:
		return "blank node"
	case tokenString:
		return "string"
	case tokenLangTag:
		return "language tag"
	case tokenInteger, tokenDecimal, tokenDouble:
		return "number"
	case tokenWord:
		return "keyword"
	default:
		return "punctuation"
	}
}

// token is a lexical unit. text is the decoded value (IRI without brackets,
// unescaped string, variable name without ?); raw is the exact source text.
type token struct {
	kind   tokenKind
	text   string
	raw    string
	line   int
	column int
}

func (t token) describe() string {
	if t.kind == tokenEOF {
		return t.kind.String()
	}
	return fmt.Sprintf("%s %q", t.kind, t.raw)
}

// is reports whether the token is the given punctuation or keyword. Keyword
// comparison is case-insensitive.
func (t token) is(value string) bool {
	switch t.kind {
	case tokenPunct:
		return t.text == value
	case tokenWord:
		return strings.EqualFold(t.text, value)
	default:
		return false
	}
}

type lexer struct {
	input  string
	pos    int
	line   int
	column int
}

func syntaxError(line, column int, format string, args ...any) error {
	return exoerr.New(exoerr.CodeQueryParseSyntax,
		fmt.Sprintf("line %d, column %d: %s", line, column, fmt.Sprintf(format, args...)),
		exoerr.Field("line", line),
		exoerr.Field("column", column),
	)
}

// tokenize splits query text into tokens, ending with a tokenEOF token.
func tokenize(input string) ([]token, error) {
	lex := &lexer{input: input, line: 1, column: 1}
	var tokens []token
	for {
		tok, err := lex.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.kind == tokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) peekByte(offset int) byte {
	if l.pos+offset < len(l.input) {
		return l.input[l.pos+offset]
	}
	return 0
}

func (l *lexer) advance(n int) {
	for i := 0; i < n && l.pos < len(l.input); i++ {
		if l.input[l.pos] == '\n' {
			l.line++
			l.column = 1
		} else if l.input[l.pos]&0xC0 != 0x80 {
			l.column++
		}
		l.pos++
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.advance(1)
		case c == '#':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance(1)
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()

	start, line, column := l.pos, l.line, l.column
	emit := func(kind tokenKind, text string) (token, error) {
		return token{kind: kind, text: text, raw: l.input[start:l.pos], line: line, column: column}, nil
	}

	if l.pos >= len(l.input) {
		return token{kind: tokenEOF, line: line, column: column}, nil
	}

	c := l.input[l.pos]
	switch {
	case c == '<':
		if end, ok := l.scanIRI(); ok {
			l.advance(end - l.pos)
			return emit(tokenIRI, l.input[start+1:l.pos-1])
		}
		if l.peekByte(1) == '=' {
			l.advance(2)
			return emit(tokenPunct, "<=")
		}
		l.advance(1)
		return emit(tokenPunct, "<")

	case c == '?' || c == '$':
		l.advance(1)
		nameStart := l.pos
		l.scanWhile(isVarRune)
		if l.pos == nameStart {
			return token{}, syntaxError(line, column, "expected variable name after %q", string(c))
		}
		return emit(tokenVar, l.input[nameStart:l.pos])

	case c == '"' || c == '\'':
		return l.scanString(start, line, column)

	case c == '@':
		l.advance(1)
		tagStart := l.pos
		l.scanWhile(func(r rune) bool { return r < utf8.RuneSelf && (isASCIILetter(byte(r)) || isDigit(byte(r)) || r == '-') })
		if l.pos == tagStart || !isASCIILetter(l.input[tagStart]) {
			return token{}, syntaxError(line, column, "malformed language tag")
		}
		return emit(tokenLangTag, l.input[tagStart:l.pos])

	case isDigit(c) || (c == '.' && isDigit(l.peekByte(1))):
		return l.scanNumber(start, line, column)

	case c == '_' && l.peekByte(1) == ':':
		l.advance(2)
		labelStart := l.pos
		l.scanLocalName()
		if l.pos == labelStart {
			return token{}, syntaxError(line, column, "expected blank node label after '_:'")
		}
		return emit(tokenBlank, l.input[labelStart:l.pos])

	case c == ':' || startsName(l.input[l.pos:]):
		if c != ':' {
			l.scanWhile(isNameRune)
		}
		if l.peekByte(0) == ':' {
			l.advance(1)
			l.scanLocalName()
			return emit(tokenPName, l.input[start:l.pos])
		}
		return emit(tokenWord, l.input[start:l.pos])
	}

	for _, punct := range []string{"&&", "||", "!=", ">=", "^^"} {
		if strings.HasPrefix(l.input[l.pos:], punct) {
			l.advance(len(punct))
			return emit(tokenPunct, punct)
		}
	}
	if strings.ContainsRune("{}().;,*=>![]+-/", rune(c)) {
		l.advance(1)
		return emit(tokenPunct, string(c))
	}

	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return token{}, syntaxError(line, column, "unexpected character %q", r)
}

// scanIRI returns the offset just past the closing '>' when the input at
// pos is an IRI reference. A body that starts with a variable sigil or
// contains "&&" is a comparison such as ?a<?b or ?v<5&&?v>1.
func (l *lexer) scanIRI() (int, bool) {
	if c := l.peekByte(1); c == '?' || c == '$' {
		return 0, false
	}
	for i := l.pos + 1; i < len(l.input); i++ {
		switch c := l.input[i]; {
		case c == '>':
			return i + 1, true
		case c == '&' && i+1 < len(l.input) && l.input[i+1] == '&':
			return 0, false
		case c <= ' ' || strings.IndexByte("<\"{}|^`", c) >= 0:
			return 0, false
		}
	}
	return 0, false
}

func (l *lexer) scanWhile(accept func(rune) bool) {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !accept(r) {
			return
		}
		l.advance(size)
	}
}

// scanLocalName consumes the local part of a prefixed name or a blank node
// label. Dots are allowed inside but not at the end.
func (l *lexer) scanLocalName() {
	end := l.pos
	i := l.pos
	for i < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[i:])
		switch {
		case isNameRune(r) || r == ':' || r == '%':
			i += size
			end = i
		case r == '.':
			i += size
		default:
			l.advance(end - l.pos)
			return
		}
	}
	l.advance(end - l.pos)
}

func (l *lexer) scanString(start, line, column int) (token, error) {
	quote := l.input[l.pos]
	long := strings.HasPrefix(l.input[l.pos:], strings.Repeat(string(quote), 3))
	delimiter := 1
	if long {
		delimiter = 3
	}
	l.advance(delimiter)
	bodyStart := l.pos

	for {
		if l.pos >= len(l.input) {
			return token{}, syntaxError(line, column, "unterminated string literal")
		}
		c := l.input[l.pos]
		switch {
		case c == '\\':
			l.advance(2)
			continue
		case !long && (c == '\n' || c == '\r'):
			return token{}, syntaxError(line, column, "newline in string literal")
		case c == quote && (!long || strings.HasPrefix(l.input[l.pos:], strings.Repeat(string(quote), 3))):
			body := l.input[bodyStart:l.pos]
			l.advance(delimiter)
			text, err := rdf.UnescapeLiteral(body)
			if err != nil {
				return token{}, syntaxError(line, column, "invalid escape in string literal")
			}
			return token{kind: tokenString, text: text, raw: l.input[start:l.pos], line: line, column: column}, nil
		}
		l.advance(1)
	}
}

func (l *lexer) scanNumber(start, line, column int) (token, error) {
	kind := tokenInteger
	l.scanWhile(func(r rune) bool { return r < utf8.RuneSelf && isDigit(byte(r)) })
	if l.peekByte(0) == '.' && isDigit(l.peekByte(1)) {
		kind = tokenDecimal
		l.advance(1)
		l.scanWhile(func(r rune) bool { return r < utf8.RuneSelf && isDigit(byte(r)) })
	}
	if c := l.peekByte(0); c == 'e' || c == 'E' {
		offset := 1
		if sign := l.peekByte(1); sign == '+' || sign == '-' {
			offset = 2
		}
		if !isDigit(l.peekByte(offset)) {
			return token{}, syntaxError(line, column, "malformed exponent in number")
		}
		kind = tokenDouble
		l.advance(offset)
		l.scanWhile(func(r rune) bool { return r < utf8.RuneSelf && isDigit(byte(r)) })
	}
	raw := l.input[start:l.pos]
	return token{kind: kind, text: raw, raw: raw, line: line, column: column}, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isVarRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func startsName(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLetter(r)
}
