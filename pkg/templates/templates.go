// Package templates provides named SPARQL queries for common questions
// about an exocortex vault: tasks by status, class counts and the like.
package templates

import (
	"sort"
	"strings"

	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
)

// Parameter describes a named term a template accepts. The query refers to
// it as {{name}}.
type Parameter struct {
	Name         string // placeholder name (e.g., "class")
	Description  string
	DefaultValue string // used when no value is given; empty means required
}

// Required reports whether the parameter has no default.
func (p Parameter) Required() bool {
	return p.DefaultValue == ""
}

// Template is a pre-built query.
type Template struct {
	Name        string // unique slug (e.g., "tasks-by-status")
	Description string
	Category    string // "tasks", "assets" or "graph"
	Query       string
	Parameters  []Parameter
}

var registry = map[string]Template{
	"tasks-by-status": {
		Name:        "tasks-by-status",
		Description: "Tasks with a given status, by label",
		Category:    "tasks",
		Query: `SELECT ?task ?label ?priority WHERE {
  ?task a ems:Task .
  ?task ems:Task_status {{status}} .
  OPTIONAL { ?task exo:Asset_label ?label }
  OPTIONAL { ?task ems:Task_priority ?priority }
} ORDER BY ?label`,
		Parameters: []Parameter{
			{Name: "status", Description: "Status literal (e.g., pending)"},
		},
	},

	"task-status-counts": {
		Name:        "task-status-counts",
		Description: "Number of tasks per status",
		Category:    "tasks",
		Query: `SELECT ?status (COUNT(?task) AS ?tasks) WHERE {
  ?task a ems:Task .
  ?task ems:Task_status ?status .
} GROUP BY ?status ORDER BY DESC(?tasks) ?status`,
	},

	"open-tasks": {
		Name:        "open-tasks",
		Description: "Tasks whose status is not done",
		Category:    "tasks",
		Query: `SELECT ?task ?label ?status WHERE {
  ?task a ems:Task .
  OPTIONAL { ?task ems:Task_status ?status }
  OPTIONAL { ?task exo:Asset_label ?label }
  FILTER(!BOUND(?status) || STR(?status) != {{done}})
} ORDER BY ?label`,
		Parameters: []Parameter{
			{Name: "done", Description: "Status literal meaning finished", DefaultValue: `"done"`},
		},
	},

	"assets-by-class": {
		Name:        "assets-by-class",
		Description: "Assets of a class with their labels",
		Category:    "assets",
		Query: `SELECT ?asset ?label WHERE {
  ?asset a {{class}} .
  OPTIONAL { ?asset exo:Asset_label ?label }
} ORDER BY ?label ?asset`,
		Parameters: []Parameter{
			{Name: "class", Description: "Class IRI", DefaultValue: "ems:Task"},
		},
	},

	"unlabeled-assets": {
		Name:        "unlabeled-assets",
		Description: "Typed assets without exo:Asset_label",
		Category:    "assets",
		Query: `SELECT ?asset ?class WHERE {
  ?asset a ?class .
  FILTER NOT EXISTS { ?asset exo:Asset_label ?label }
} ORDER BY ?class ?asset`,
	},

	"asset-outline": {
		Name:        "asset-outline",
		Description: "Every statement about one asset, as a graph",
		Category:    "assets",
		Query:       `CONSTRUCT { {{asset}} ?p ?o } WHERE { {{asset}} ?p ?o }`,
		Parameters: []Parameter{
			{Name: "asset", Description: "Asset IRI"},
		},
	},

	"class-counts": {
		Name:        "class-counts",
		Description: "Number of instances per class",
		Category:    "graph",
		Query: `SELECT ?class (COUNT(?s) AS ?instances) WHERE {
  ?s a ?class .
} GROUP BY ?class ORDER BY DESC(?instances) ?class`,
	},

	"predicate-usage": {
		Name:        "predicate-usage",
		Description: "Predicates by number of statements",
		Category:    "graph",
		Query: `SELECT ?predicate (COUNT(?s) AS ?statements) WHERE {
  ?s ?predicate ?o .
} GROUP BY ?predicate ORDER BY DESC(?statements) ?predicate`,
	},

	"has-class": {
		Name:        "has-class",
		Description: "Whether any asset has the class",
		Category:    "graph",
		Query:       `ASK { ?s a {{class}} }`,
		Parameters: []Parameter{
			{Name: "class", Description: "Class IRI"},
		},
	},
}

// Registry returns all registered templates keyed by name.
func Registry() map[string]Template {
	return registry
}

// Names returns template names in sorted order for consistent listing.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a template by name, or false if not found.
func Get(name string) (Template, bool) {
	template, exists := registry[name]
	return template, exists
}

// Render substitutes parameter values into the query. Each value is parsed
// as a term with prefixes, so "ems:Task", "<http://x>" and "pending" are all
// accepted, and is written back in N-Triples form.
func Render(template Template, values map[string]string, prefixes map[string]string) (string, error) {
	known := make(map[string]bool, len(template.Parameters))
	for _, parameter := range template.Parameters {
		known[parameter.Name] = true
	}
	for name := range values {
		if !known[name] {
			return "", exoerr.New(exoerr.CodeQueryTemplateInvalid, "unknown template parameter",
				exoerr.Field("template", template.Name), exoerr.Field("parameter", name))
		}
	}

	rendered := template.Query
	for _, parameter := range template.Parameters {
		value := values[parameter.Name]
		if value == "" {
			value = parameter.DefaultValue
		}
		if value == "" {
			return "", exoerr.New(exoerr.CodeQueryTemplateInvalid, "required template parameter not provided",
				exoerr.Field("template", template.Name), exoerr.Field("parameter", parameter.Name))
		}

		term, err := rdf.ParseTerm(value, prefixes)
		if err != nil {
			return "", exoerr.Wrap(err, exoerr.CodeQueryTemplateInvalid, "invalid template parameter",
				exoerr.Field("parameter", parameter.Name))
		}
		rendered = strings.ReplaceAll(rendered, "{{"+parameter.Name+"}}", term.String())
	}
	return rendered, nil
}
