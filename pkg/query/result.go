package query

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
	"github.com/coolbeans/exocortex/pkg/store"
)

// Result is the outcome of executing a query. Which fields are set depends
// on Kind.
type Result struct {
	Kind sparql.QueryKind

	// SELECT
	Variables []string
	Solutions []Solution

	// CONSTRUCT
	Triples []rdf.Triple

	// ASK
	Boolean bool
}

// Clone returns a copy of r whose slices and solutions can be modified
// without affecting r.
func (r *Result) Clone() *Result {
	out := &Result{Kind: r.Kind, Boolean: r.Boolean}
	if r.Variables != nil {
		out.Variables = append([]string(nil), r.Variables...)
	}
	if r.Solutions != nil {
		out.Solutions = make([]Solution, len(r.Solutions))
		for i, solution := range r.Solutions {
			out.Solutions[i] = solution.clone()
		}
	}
	if r.Triples != nil {
		out.Triples = append([]rdf.Triple(nil), r.Triples...)
	}
	return out
}

// Len returns the number of solutions or triples in the result.
func (r *Result) Len() int {
	switch r.Kind {
	case sparql.KindConstruct:
		return len(r.Triples)
	case sparql.KindAsk:
		return 1
	default:
		return len(r.Solutions)
	}
}

// OutputFormat names a result serialization.
type OutputFormat string

const (
	FormatTable    OutputFormat = "table"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatNTriples OutputFormat = "ntriples"
	FormatTurtle   OutputFormat = "turtle"
	FormatJSONLD   OutputFormat = "jsonld"
)

// Format renders the result. SELECT results support table, json (SPARQL
// JSON results) and csv; CONSTRUCT results support table, ntriples,
// turtle, json and jsonld; ASK results support table and json.
func (r *Result) Format(format OutputFormat, prefixes map[string]string) (string, error) {
	switch r.Kind {
	case sparql.KindConstruct:
		switch format {
		case FormatTable, FormatNTriples:
			return r.FormatNTriples()
		case FormatTurtle:
			return r.FormatTurtle(prefixes), nil
		case FormatJSON, FormatJSONLD:
			return r.FormatJSONLD(prefixes)
		}
	case sparql.KindAsk:
		switch format {
		case FormatTable:
			return fmt.Sprintf("%t\n", r.Boolean), nil
		case FormatJSON:
			return r.FormatJSON()
		}
	default:
		switch format {
		case FormatTable:
			return r.FormatTable(), nil
		case FormatJSON:
			return r.FormatJSON()
		case FormatCSV:
			return r.FormatCSV()
		}
	}
	return "", exoerr.New(exoerr.CodeQueryFormatUnsupported, "unsupported format for query kind",
		exoerr.Field("format", string(format)), exoerr.Field("kind", string(r.Kind)))
}

// FormatTable renders SELECT solutions as an ASCII table of N-Triples
// terms.
func (r *Result) FormatTable() string {
	if len(r.Variables) == 0 || len(r.Solutions) == 0 {
		return fmt.Sprintf("No results (%d rows)\n", len(r.Solutions))
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(r.Variables)
	for _, solution := range r.Solutions {
		row := make([]string, len(r.Variables))
		for i, name := range r.Variables {
			if term := solution[name]; term != nil {
				row[i] = term.String()
			}
		}
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(&buf, "%d rows\n", len(r.Solutions))
	return buf.String()
}

type jsonTerm struct {
	Type     string `json:"type"`
	Value    string `json:"value"`
	Language string `json:"xml:lang,omitempty"`
	Datatype string `json:"datatype,omitempty"`
}

type jsonResults struct {
	Head struct {
		Vars []string `json:"vars,omitempty"`
	} `json:"head"`
	Results *struct {
		Bindings []map[string]jsonTerm `json:"bindings"`
	} `json:"results,omitempty"`
	Boolean *bool `json:"boolean,omitempty"`
}

func toJSONTerm(term rdf.Term) jsonTerm {
	out := jsonTerm{Type: term.Kind().String(), Value: term.Value()}
	if literal, ok := term.(rdf.Literal); ok {
		out.Language = literal.Language
		out.Datatype = string(literal.Datatype)
	}
	return out
}

// FormatJSON renders SELECT and ASK results in the SPARQL 1.1 JSON results
// format.
func (r *Result) FormatJSON() (string, error) {
	var doc jsonResults
	if r.Kind == sparql.KindAsk {
		value := r.Boolean
		doc.Boolean = &value
	} else {
		doc.Head.Vars = r.Variables
		doc.Results = &struct {
			Bindings []map[string]jsonTerm `json:"bindings"`
		}{Bindings: make([]map[string]jsonTerm, 0, len(r.Solutions))}
		for _, solution := range r.Solutions {
			binding := make(map[string]jsonTerm, len(solution))
			for name, term := range solution {
				binding[name] = toJSONTerm(term)
			}
			doc.Results.Bindings = append(doc.Results.Bindings, binding)
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", exoerr.Wrap(err, exoerr.CodeQueryFormatUnsupported, "encode json results")
	}
	return string(data), nil
}

// FormatCSV renders SELECT solutions as CSV with plain values.
func (r *Result) FormatCSV() (string, error) {
	var sb strings.Builder
	writer := csv.NewWriter(&sb)

	if err := writer.Write(r.Variables); err != nil {
		return "", err
	}
	for _, solution := range r.Solutions {
		row := make([]string, len(r.Variables))
		for i, name := range r.Variables {
			switch term := solution[name].(type) {
			case nil:
			case rdf.BlankNode:
				row[i] = term.String()
			default:
				row[i] = term.Value()
			}
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// FormatNTriples renders CONSTRUCT triples one statement per line.
func (r *Result) FormatNTriples() (string, error) {
	var sb strings.Builder
	if err := store.WriteNTriples(&sb, r.Triples); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// FormatTurtle renders CONSTRUCT triples as Turtle, declaring prefixes in
// addition to the defaults.
func (r *Result) FormatTurtle(prefixes map[string]string) string {
	return store.NewTurtleSerializer(store.WithPrefixes(prefixes)).Serialize(r.Triples)
}

// FormatJSONLD renders CONSTRUCT triples as compacted JSON-LD.
func (r *Result) FormatJSONLD(prefixes map[string]string) (string, error) {
	var opts []store.JSONLDOption
	for prefix, namespace := range prefixes {
		opts = append(opts, store.WithJSONLDPrefix(prefix, namespace))
	}
	return store.NewJSONLDSerializer(opts...).SerializeToString(r.Triples)
}
