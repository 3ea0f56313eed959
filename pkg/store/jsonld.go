package store

import (
	"encoding/json"
	"strings"

	"github.com/piprate/json-gold/ld"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// JSONLDContext represents a JSON-LD @context document.
type JSONLDContext map[string]interface{}

// JSONLDSerializer converts triples into JSON-LD using the json-gold
// processor.
type JSONLDSerializer struct {
	prefixMappings []PrefixMapping
	compactForm    bool // If true, produce compact JSON-LD; otherwise expanded
}

// JSONLDOption is a functional option for configuring the JSONLDSerializer.
type JSONLDOption func(*JSONLDSerializer)

// NewJSONLDSerializer creates a JSONLDSerializer with the default prefixes.
func NewJSONLDSerializer(options ...JSONLDOption) *JSONLDSerializer {
	serializer := &JSONLDSerializer{
		prefixMappings: defaultPrefixMappings(),
		compactForm:    true,
	}

	for _, option := range options {
		option(serializer)
	}

	return serializer
}

// WithJSONLDPrefix adds or overrides a prefix mapping.
func WithJSONLDPrefix(prefix, namespace string) JSONLDOption {
	return func(serializer *JSONLDSerializer) {
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

// WithExpandedForm configures the serializer to output expanded JSON-LD (no context compaction).
func WithExpandedForm() JSONLDOption {
	return func(serializer *JSONLDSerializer) {
		serializer.compactForm = false
	}
}

// BuildContext creates the JSON-LD @context document from prefix mappings.
func (serializer *JSONLDSerializer) BuildContext() JSONLDContext {
	context := make(JSONLDContext, len(serializer.prefixMappings))
	for _, mapping := range serializer.prefixMappings {
		context[mapping.Prefix] = mapping.Namespace
	}
	return context
}

// Serialize converts triples to JSON-LD.
func (serializer *JSONLDSerializer) Serialize(triples []rdf.Triple) ([]byte, error) {
	var nquads strings.Builder
	if err := WriteNTriples(&nquads, triples); err != nil {
		return nil, err
	}

	processor := ld.NewJsonLdProcessor()
	options := ld.NewJsonLdOptions("")
	options.Format = "application/n-quads"

	expanded, err := processor.FromRDF(nquads.String(), options)
	if err != nil {
		return nil, err
	}

	if !serializer.compactForm {
		return json.MarshalIndent(expanded, "", "  ")
	}

	compactOptions := ld.NewJsonLdOptions("")
	compacted, err := processor.Compact(expanded, map[string]interface{}{
		"@context": map[string]interface{}(serializer.BuildContext()),
	}, compactOptions)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(compacted, "", "  ")
}

// SerializeToString returns the JSON-LD as a string.
func (serializer *JSONLDSerializer) SerializeToString(triples []rdf.Triple) (string, error) {
	data, err := serializer.Serialize(triples)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
