package sparql

import "strings"

// Normalize returns a canonical form of query text for use as a cache key.
// Keywords are lower-cased and tokens are joined by single spaces, so
// queries that differ only in layout or keyword case normalize equally.
// IRIs, literals, prefixed names and variables are kept exactly as written,
// as is the rdf:type shorthand "a", which only parses in lower case.
// Text that does not tokenize is reported as a syntax error.
func Normalize(text string) (string, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		switch tok.kind {
		case tokenEOF:
		case tokenWord:
			if strings.EqualFold(tok.raw, "a") {
				parts = append(parts, tok.raw)
				continue
			}
			parts = append(parts, strings.ToLower(tok.raw))
		default:
			parts = append(parts, tok.raw)
		}
	}
	return strings.Join(parts, " "), nil
}
