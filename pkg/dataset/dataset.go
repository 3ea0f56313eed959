// Package dataset loads triples from files into the store.
//
// Supported formats are N-Triples and N-Quads (graph names are dropped),
// JSON-LD, and a YAML or JSON triple list:
//
//	prefixes:
//	  task: http://example.org/task/
//	triples:
//	  - subject: task:1
//	    predicate: a
//	    object: ex:Task
//	  - subject: task:1
//	    predicate: ex:label
//	    object: '"Write report"@en'
//
// Terms in triple lists use the syntax accepted by rdf.ParseTerm. Blank
// node labels are scoped to the file they appear in: the same label in two
// files names two different nodes.
package dataset

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/piprate/json-gold/ld"
	"gopkg.in/yaml.v3"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/store"
)

// Format identifies a dataset file format.
type Format string

const (
	FormatNTriples Format = "ntriples"
	FormatNQuads   Format = "nquads"
	FormatJSONLD   Format = "jsonld"
	FormatYAML     Format = "yaml"
)

// FormatFor picks a format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nt":
		return FormatNTriples, nil
	case ".nq":
		return FormatNQuads, nil
	case ".jsonld":
		return FormatJSONLD, nil
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	default:
		return "", exoerr.New(exoerr.CodeDatasetFormatInvalid, "unrecognized dataset file extension",
			exoerr.Field("path", path))
	}
}

// Loader reads dataset files.
type Loader struct {
	prefixes map[string]string
	logger   *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithPrefixes adds prefix bindings for triple lists.
func WithPrefixes(prefixes map[string]string) Option {
	return func(l *Loader) {
		maps.Copy(l.prefixes, prefixes)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader that knows the default prefixes.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		prefixes: rdf.DefaultPrefixes(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile reads every triple in path.
func (l *Loader) LoadFile(path string) ([]rdf.Triple, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetLoadFailure, "open dataset", exoerr.Field("path", path))
	}
	defer f.Close()

	triples, err := l.Load(f, format)
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetLoadFailure, "load dataset", exoerr.Field("path", path))
	}
	l.logger.Debug("dataset loaded", "path", path, "format", format, "triples", len(triples))
	return triples, nil
}

// Load reads every triple from r.
func (l *Loader) Load(r io.Reader, format Format) ([]rdf.Triple, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetLoadFailure, "read dataset")
	}

	scope := newBlankScope()
	switch format {
	case FormatNTriples, FormatNQuads:
		dataset, err := ld.ParseNQuads(string(data))
		if err != nil {
			return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "parse n-quads")
		}
		return fromDataset(dataset, scope)
	case FormatJSONLD:
		return l.loadJSONLD(data, scope)
	case FormatYAML:
		return l.loadTripleList(data, scope)
	default:
		return nil, exoerr.New(exoerr.CodeDatasetFormatInvalid, "unsupported dataset format",
			exoerr.Field("format", string(format)))
	}
}

// LoadInto loads every path into ts and returns how many new triples were
// added. Loading stops at the first failing file.
func (l *Loader) LoadInto(ts *store.TripleStore, paths ...string) (int, error) {
	added := 0
	for _, path := range paths {
		triples, err := l.LoadFile(path)
		if err != nil {
			return added, err
		}
		n, err := ts.AddAll(triples)
		added += n
		if err != nil {
			return added, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "add dataset triples",
				exoerr.Field("path", path))
		}
	}
	return added, nil
}

func (l *Loader) loadJSONLD(data []byte, scope *blankScope) ([]rdf.Triple, error) {
	var document any
	if err := json.Unmarshal(data, &document); err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "decode json-ld")
	}

	processor := ld.NewJsonLdProcessor()
	options := ld.NewJsonLdOptions("")
	// Contexts must be inline; nothing is fetched over the network.
	options.DocumentLoader = offlineLoader{}

	output, err := processor.ToRDF(document, options)
	if err != nil {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "expand json-ld")
	}
	dataset, ok := output.(*ld.RDFDataset)
	if !ok {
		return nil, exoerr.New(exoerr.CodeDatasetFormatInvalid, "json-ld processor returned no dataset")
	}
	return fromDataset(dataset, scope)
}

type offlineLoader struct{}

func (offlineLoader) LoadDocument(u string) (*ld.RemoteDocument, error) {
	return nil, ld.NewJsonLdError(ld.LoadingDocumentFailed, "remote contexts are not supported: "+u)
}

// fromDataset converts every quad of every graph into a triple.
func fromDataset(dataset *ld.RDFDataset, scope *blankScope) ([]rdf.Triple, error) {
	var triples []rdf.Triple
	for _, graph := range sortedGraphNames(dataset) {
		for _, quad := range dataset.Graphs[graph] {
			subject, err := scope.term(quad.Subject)
			if err != nil {
				return nil, err
			}
			predicate, err := scope.term(quad.Predicate)
			if err != nil {
				return nil, err
			}
			object, err := scope.term(quad.Object)
			if err != nil {
				return nil, err
			}
			triple := rdf.NewTriple(subject, predicate, object)
			if err := triple.Validate(); err != nil {
				return nil, err
			}
			triples = append(triples, triple)
		}
	}
	return triples, nil
}

func sortedGraphNames(dataset *ld.RDFDataset) []string {
	names := make([]string, 0, len(dataset.Graphs))
	for name := range dataset.Graphs {
		names = append(names, name)
	}
	// @default first, then named graphs in a stable order.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && graphLess(names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func graphLess(a, b string) bool {
	if a == "@default" || b == "@default" {
		return a == "@default" && b != "@default"
	}
	return a < b
}

// blankScope renames blank nodes so labels from different loads never
// collide.
type blankScope struct {
	labels map[string]rdf.BlankNode
}

func newBlankScope() *blankScope {
	return &blankScope{labels: make(map[string]rdf.BlankNode)}
}

func (s *blankScope) blank(label string) rdf.BlankNode {
	label = strings.TrimPrefix(label, "_:")
	if node, ok := s.labels[label]; ok {
		return node
	}
	node := rdf.BlankNode("b" + uuid.NewString())
	s.labels[label] = node
	return node
}

func (s *blankScope) term(node ld.Node) (rdf.Term, error) {
	switch n := node.(type) {
	case *ld.IRI:
		return rdf.IRI(n.Value), nil
	case *ld.BlankNode:
		return s.blank(n.Attribute), nil
	case *ld.Literal:
		if n.Language != "" {
			return rdf.NewLangLiteral(n.Value, n.Language), nil
		}
		return rdf.NewTypedLiteral(n.Value, rdf.IRI(n.Datatype)), nil
	default:
		return nil, exoerr.New(exoerr.CodeDatasetFormatInvalid, "unexpected node in dataset")
	}
}

type tripleList struct {
	Prefixes map[string]string `yaml:"prefixes"`
	Triples  []struct {
		Subject   string `yaml:"subject"`
		Predicate string `yaml:"predicate"`
		Object    string `yaml:"object"`
	} `yaml:"triples"`
}

func (l *Loader) loadTripleList(data []byte, scope *blankScope) ([]rdf.Triple, error) {
	var list tripleList
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&list); err != nil && err != io.EOF {
		return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "decode triple list")
	}

	prefixes := maps.Clone(l.prefixes)
	maps.Copy(prefixes, list.Prefixes)

	triples := make([]rdf.Triple, 0, len(list.Triples))
	for i, entry := range list.Triples {
		subject, err := scope.parse(entry.Subject, prefixes)
		if err != nil {
			return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "invalid subject", exoerr.Field("index", i))
		}
		var predicate rdf.Term = rdf.RDFType
		if entry.Predicate != "a" {
			if predicate, err = scope.parse(entry.Predicate, prefixes); err != nil {
				return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "invalid predicate", exoerr.Field("index", i))
			}
		}
		object, err := scope.parse(entry.Object, prefixes)
		if err != nil {
			return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "invalid object", exoerr.Field("index", i))
		}

		triple := rdf.NewTriple(subject, predicate, object)
		if err := triple.Validate(); err != nil {
			return nil, exoerr.Wrap(err, exoerr.CodeDatasetFormatInvalid, "invalid triple", exoerr.Field("index", i))
		}
		triples = append(triples, triple)
	}
	return triples, nil
}

func (s *blankScope) parse(text string, prefixes map[string]string) (rdf.Term, error) {
	term, err := rdf.ParseTerm(text, prefixes)
	if err != nil {
		return nil, err
	}
	if blank, ok := term.(rdf.BlankNode); ok {
		return s.blank(string(blank)), nil
	}
	return term, nil
}
