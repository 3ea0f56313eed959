package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// PrefixMapping associates a short prefix label with its full namespace URI.
type PrefixMapping struct {
	Prefix    string
	Namespace string
}

// TurtleSerializer converts triples into Turtle (TTL) format.
type TurtleSerializer struct {
	prefixMappings []PrefixMapping
	prefixIndex    map[string]string // prefix -> namespace
	namespaceIndex map[string]string // namespace -> prefix
}

// TurtleOption is a functional option for configuring the TurtleSerializer.
type TurtleOption func(*TurtleSerializer)

// NewTurtleSerializer creates a TurtleSerializer with the default prefix
// declarations from rdf.DefaultPrefixes.
func NewTurtleSerializer(options ...TurtleOption) *TurtleSerializer {
	serializer := &TurtleSerializer{
		prefixMappings: defaultPrefixMappings(),
	}

	for _, option := range options {
		option(serializer)
	}

	serializer.rebuildIndexes()

	return serializer
}

// WithPrefix adds or overrides a prefix mapping.
func WithPrefix(prefix, namespace string) TurtleOption {
	return func(serializer *TurtleSerializer) {
		for i, mapping := range serializer.prefixMappings {
			if mapping.Prefix == prefix {
				serializer.prefixMappings[i].Namespace = namespace
				return
			}
		}
		serializer.prefixMappings = append(serializer.prefixMappings, PrefixMapping{
			Prefix:    prefix,
			Namespace: namespace,
		})
	}
}

// WithPrefixes adds every mapping in prefixes.
func WithPrefixes(prefixes map[string]string) TurtleOption {
	return func(serializer *TurtleSerializer) {
		for _, prefix := range sortedKeys(prefixes) {
			WithPrefix(prefix, prefixes[prefix])(serializer)
		}
	}
}

// WithoutDefaultPrefixes clears default prefixes so only custom ones are used.
func WithoutDefaultPrefixes() TurtleOption {
	return func(serializer *TurtleSerializer) {
		serializer.prefixMappings = nil
	}
}

func defaultPrefixMappings() []PrefixMapping {
	defaults := rdf.DefaultPrefixes()
	mappings := make([]PrefixMapping, 0, len(defaults))
	for _, prefix := range sortedKeys(defaults) {
		mappings = append(mappings, PrefixMapping{Prefix: prefix, Namespace: defaults[prefix]})
	}
	return mappings
}

func (serializer *TurtleSerializer) rebuildIndexes() {
	serializer.prefixIndex = make(map[string]string, len(serializer.prefixMappings))
	serializer.namespaceIndex = make(map[string]string, len(serializer.prefixMappings))

	for _, mapping := range serializer.prefixMappings {
		serializer.prefixIndex[mapping.Prefix] = mapping.Namespace
		serializer.namespaceIndex[mapping.Namespace] = mapping.Prefix
	}
}

// SerializeStore converts all triples in the store to Turtle format.
func (serializer *TurtleSerializer) SerializeStore(store *TripleStore) string {
	return serializer.Serialize(store.All())
}

// Serialize converts triples to Turtle format, grouped by subject.
func (serializer *TurtleSerializer) Serialize(triples []rdf.Triple) string {
	var builder strings.Builder

	serializer.writePrefixDeclarations(&builder)

	groups := groupTriplesBySubject(triples)

	for groupIndex, group := range groups {
		if groupIndex > 0 {
			builder.WriteString("\n")
		}
		serializer.writeSubjectGroup(&builder, group)
	}

	return builder.String()
}

func (serializer *TurtleSerializer) writePrefixDeclarations(builder *strings.Builder) {
	sortedPrefixes := make([]PrefixMapping, len(serializer.prefixMappings))
	copy(sortedPrefixes, serializer.prefixMappings)
	sort.Slice(sortedPrefixes, func(i, j int) bool {
		return sortedPrefixes[i].Prefix < sortedPrefixes[j].Prefix
	})

	for _, mapping := range sortedPrefixes {
		fmt.Fprintf(builder, "@prefix %s: <%s> .\n", mapping.Prefix, mapping.Namespace)
	}

	if len(serializer.prefixMappings) > 0 {
		builder.WriteString("\n")
	}
}

type predicateObjects struct {
	predicate rdf.Term
	objects   []rdf.Term
}

type subjectGroup struct {
	subject    rdf.Term
	predicates []*predicateObjects
}

// groupTriplesBySubject organizes triples into subject -> predicate -> objects,
// with subjects and objects in key order and rdf:type first among predicates.
func groupTriplesBySubject(triples []rdf.Triple) []*subjectGroup {
	bySubject := make(map[string]*subjectGroup)
	byPredicate := make(map[string]*predicateObjects)
	seen := make(map[string]bool, len(triples))

	for _, triple := range triples {
		if seen[triple.Key()] {
			continue
		}
		seen[triple.Key()] = true

		subjectKey := triple.Subject.Key()
		group, ok := bySubject[subjectKey]
		if !ok {
			group = &subjectGroup{subject: triple.Subject}
			bySubject[subjectKey] = group
		}

		predicateKey := subjectKey + "\x01" + triple.Predicate.Key()
		entry, ok := byPredicate[predicateKey]
		if !ok {
			entry = &predicateObjects{predicate: triple.Predicate}
			byPredicate[predicateKey] = entry
			group.predicates = append(group.predicates, entry)
		}
		entry.objects = append(entry.objects, triple.Object)
	}

	groups := make([]*subjectGroup, 0, len(bySubject))
	for _, subjectKey := range sortedKeys(bySubject) {
		group := bySubject[subjectKey]
		sortPredicatesTypeFirst(group.predicates)
		for _, entry := range group.predicates {
			sort.Slice(entry.objects, func(i, j int) bool {
				return entry.objects[i].Key() < entry.objects[j].Key()
			})
		}
		groups = append(groups, group)
	}

	return groups
}

func (serializer *TurtleSerializer) writeSubjectGroup(builder *strings.Builder, group *subjectGroup) {
	builder.WriteString(serializer.formatTerm(group.subject))

	for predicateIndex, entry := range group.predicates {
		if predicateIndex == 0 {
			builder.WriteString(" ")
		} else {
			builder.WriteString(" ;\n    ")
		}

		builder.WriteString(serializer.formatPredicate(entry.predicate))

		for objectIndex, object := range entry.objects {
			if objectIndex > 0 {
				builder.WriteString(" ,\n        ")
			} else {
				builder.WriteString(" ")
			}
			builder.WriteString(serializer.formatTerm(object))
		}
	}

	builder.WriteString(" .\n")
}

// formatTerm renders a term, compacting IRIs against the known prefixes.
func (serializer *TurtleSerializer) formatTerm(term rdf.Term) string {
	switch value := term.(type) {
	case rdf.IRI:
		if compacted, ok := serializer.compactURI(string(value)); ok {
			return compacted
		}
		return value.String()
	case rdf.Literal:
		return serializer.formatLiteral(value)
	default:
		return term.String()
	}
}

// formatPredicate formats a predicate, using "a" shorthand for rdf:type.
func (serializer *TurtleSerializer) formatPredicate(predicate rdf.Term) string {
	if rdf.Equal(predicate, rdf.RDFType) {
		return "a"
	}
	return serializer.formatTerm(predicate)
}

func (serializer *TurtleSerializer) formatLiteral(literal rdf.Literal) string {
	quoted := formatLiteral(literal.Lexical)
	switch {
	case literal.Language != "":
		return quoted + "@" + literal.Language
	case literal.Datatype != "":
		return quoted + "^^" + serializer.formatTerm(literal.Datatype)
	default:
		return quoted
	}
}

// compactURI replaces a full namespace URI with its prefix form.
func (serializer *TurtleSerializer) compactURI(fullURI string) (string, bool) {
	// Try longest namespace match first for correctness
	bestPrefix := ""
	bestNamespace := ""
	for namespace, prefix := range serializer.namespaceIndex {
		if strings.HasPrefix(fullURI, namespace) && len(namespace) > len(bestNamespace) {
			localName := fullURI[len(namespace):]
			if isValidLocalName(localName) {
				bestPrefix = prefix
				bestNamespace = namespace
			}
		}
	}

	if bestNamespace != "" {
		return bestPrefix + ":" + fullURI[len(bestNamespace):], true
	}
	return "", false
}

// sortPredicatesTypeFirst sorts predicates with rdf:type first, then by IRI.
func sortPredicatesTypeFirst(predicates []*predicateObjects) {
	sort.SliceStable(predicates, func(i, j int) bool {
		iType := rdf.Equal(predicates[i].predicate, rdf.RDFType)
		jType := rdf.Equal(predicates[j].predicate, rdf.RDFType)
		if iType != jType {
			return iType
		}
		return predicates[i].predicate.Value() < predicates[j].predicate.Value()
	})
}

// isValidLocalName checks if a string is usable as a Turtle local name.
func isValidLocalName(localName string) bool {
	if localName == "" {
		return false
	}
	if strings.HasSuffix(localName, ".") {
		return false
	}
	return !strings.ContainsAny(localName, " \t\n\r<>\"{}|^`\\/#?:,;()[]'")
}

// formatLiteral wraps a string value in Turtle-compliant double quotes.
func formatLiteral(value string) string {
	escaped := rdf.EscapeLiteral(value)

	if strings.Contains(value, "\n") {
		return `"""` + escaped + `"""`
	}

	return `"` + escaped + `"`
}

// sortedKeys returns the keys of a map sorted alphabetically.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
