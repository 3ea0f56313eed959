package templates_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/exocortex/pkg/algebra"
	"github.com/coolbeans/exocortex/pkg/engine"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
	"github.com/coolbeans/exocortex/pkg/store"
	"github.com/coolbeans/exocortex/pkg/templates"
)

var sampleValues = map[string]string{
	"status": "pending",
	"done":   `"done"`,
	"class":  "ems:Task",
	"asset":  "<https://vault.example/task1>",
}

func valuesFor(template templates.Template) map[string]string {
	values := make(map[string]string)
	for _, parameter := range template.Parameters {
		values[parameter.Name] = sampleValues[parameter.Name]
	}
	return values
}

func TestNamesAreSorted(t *testing.T) {
	names := templates.Names()
	require.Len(t, names, len(templates.Registry()))
	assert.True(t, sort.StringsAreSorted(names))
}

func TestAllTemplatesHaveRequiredFields(t *testing.T) {
	validCategories := map[string]bool{"tasks": true, "assets": true, "graph": true}
	for name, template := range templates.Registry() {
		assert.Equal(t, name, template.Name)
		assert.NotEmpty(t, template.Description, name)
		assert.NotEmpty(t, template.Query, name)
		assert.True(t, validCategories[template.Category], "%s has category %q", name, template.Category)
		for _, parameter := range template.Parameters {
			assert.Contains(t, template.Query, "{{"+parameter.Name+"}}", "%s declares unused %s", name, parameter.Name)
		}
	}
}

func TestAllTemplatesTranslate(t *testing.T) {
	for _, name := range templates.Names() {
		t.Run(name, func(t *testing.T) {
			template, _ := templates.Get(name)
			text, err := templates.Render(template, valuesFor(template), rdf.DefaultPrefixes())
			require.NoError(t, err)
			assert.NotContains(t, text, "{{")

			parsed, err := sparql.Parse(text)
			require.NoError(t, err, text)
			_, err = algebra.Translate(parsed)
			require.NoError(t, err, text)
		})
	}
}

func TestRender_Substitution(t *testing.T) {
	template, ok := templates.Get("tasks-by-status")
	require.True(t, ok)

	text, err := templates.Render(template, map[string]string{"status": "pending"}, rdf.DefaultPrefixes())
	require.NoError(t, err)
	assert.Contains(t, text, `?task ems:Task_status "pending" .`)

	template, _ = templates.Get("has-class")
	text, err = templates.Render(template, map[string]string{"class": "ems:Task"}, rdf.DefaultPrefixes())
	require.NoError(t, err)
	assert.Equal(t, "ASK { ?s a <"+rdf.NamespaceEms+"Task> }", text)
}

func TestRender_Defaults(t *testing.T) {
	template, _ := templates.Get("assets-by-class")
	text, err := templates.Render(template, nil, rdf.DefaultPrefixes())
	require.NoError(t, err)
	assert.Contains(t, text, "?asset a <"+rdf.NamespaceEms+"Task> .")
}

func TestRender_Errors(t *testing.T) {
	hasClass, _ := templates.Get("has-class")
	outline, _ := templates.Get("asset-outline")

	tests := []struct {
		name     string
		template templates.Template
		values   map[string]string
	}{
		{"missing required", hasClass, nil},
		{"unknown parameter", hasClass, map[string]string{"class": "ems:Task", "limit": "5"}},
		{"malformed term", outline, map[string]string{"asset": "<https://vault.example/task1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := templates.Render(tt.template, tt.values, rdf.DefaultPrefixes())
			require.Error(t, err)
			assert.True(t, exoerr.IsInvalidInput(err), "got %v", err)
		})
	}
}

func vault(local string) rdf.IRI {
	return rdf.IRI("https://vault.example/" + local)
}

func newVaultEngine(t *testing.T) *engine.Engine {
	t.Helper()
	task := rdf.IRI(rdf.NamespaceEms + "Task")
	status := rdf.IRI(rdf.NamespaceEms + "Task_status")
	label := rdf.IRI(rdf.NamespaceExo + "Asset_label")

	ts := store.NewTripleStore()
	_, err := ts.AddAll([]rdf.Triple{
		rdf.NewTriple(vault("task1"), rdf.RDFType, task),
		rdf.NewTriple(vault("task1"), label, rdf.NewLiteral("Write report")),
		rdf.NewTriple(vault("task1"), status, rdf.NewLiteral("pending")),
		rdf.NewTriple(vault("task2"), rdf.RDFType, task),
		rdf.NewTriple(vault("task2"), label, rdf.NewLiteral("Book flights")),
		rdf.NewTriple(vault("task2"), status, rdf.NewLiteral("done")),
		rdf.NewTriple(vault("task3"), rdf.RDFType, task),
		rdf.NewTriple(vault("task3"), status, rdf.NewLiteral("pending")),
	})
	require.NoError(t, err)
	return engine.New(ts)
}

func render(t *testing.T, name string, values map[string]string) string {
	t.Helper()
	template, ok := templates.Get(name)
	require.True(t, ok)
	text, err := templates.Render(template, values, rdf.DefaultPrefixes())
	require.NoError(t, err)
	return text
}

func TestTemplates_AgainstVault(t *testing.T) {
	eng := newVaultEngine(t)

	result, err := eng.Select(render(t, "task-status-counts", nil))
	require.NoError(t, err)
	require.Len(t, result.Solutions, 2)
	assert.Equal(t, "pending", result.Solutions[0].Get("status").Value())
	assert.Equal(t, "2", result.Solutions[0].Get("tasks").Value())

	result, err = eng.Select(render(t, "open-tasks", nil))
	require.NoError(t, err)
	assert.Len(t, result.Solutions, 2)

	result, err = eng.Select(render(t, "unlabeled-assets", nil))
	require.NoError(t, err)
	require.Len(t, result.Solutions, 1)
	assert.Equal(t, vault("task3"), result.Solutions[0].Get("asset"))

	constructed, err := eng.Construct(render(t, "asset-outline", map[string]string{"asset": "<https://vault.example/task2>"}))
	require.NoError(t, err)
	assert.Len(t, constructed.Triples, 3)

	found, err := eng.Ask(render(t, "has-class", map[string]string{"class": "ems:Project"}))
	require.NoError(t, err)
	assert.False(t, found)
}
