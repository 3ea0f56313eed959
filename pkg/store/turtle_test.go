package store

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// --- Constructor tests ---

func TestNewTurtleSerializer(t *testing.T) {
	serializer := NewTurtleSerializer()

	if serializer == nil {
		t.Fatal("NewTurtleSerializer returned nil")
	}

	if len(serializer.prefixMappings) != len(rdf.DefaultPrefixes()) {
		t.Errorf("Expected %d default prefix mappings, got %d", len(rdf.DefaultPrefixes()), len(serializer.prefixMappings))
	}

	if serializer.prefixIndex["rdf"] != rdf.NamespaceRDF {
		t.Errorf("Expected rdf prefix to map to %s, got %s", rdf.NamespaceRDF, serializer.prefixIndex["rdf"])
	}

	if serializer.namespaceIndex[rdf.NamespaceExo] != "exo" {
		t.Errorf("Expected exo namespace to reverse-map to 'exo', got %s", serializer.namespaceIndex[rdf.NamespaceExo])
	}
}

func TestNewTurtleSerializer_WithCustomPrefix(t *testing.T) {
	serializer := NewTurtleSerializer(
		WithPrefix("vault", "https://vault.example/notes/"),
	)

	if len(serializer.prefixMappings) != len(rdf.DefaultPrefixes())+1 {
		t.Errorf("Expected defaults plus one custom mapping, got %d", len(serializer.prefixMappings))
	}

	if serializer.prefixIndex["vault"] != "https://vault.example/notes/" {
		t.Error("Custom prefix 'vault' not found in prefix index")
	}
}

func TestNewTurtleSerializer_OverridePrefix(t *testing.T) {
	serializer := NewTurtleSerializer(WithPrefix("ex", "https://other.example/"))

	if len(serializer.prefixMappings) != len(rdf.DefaultPrefixes()) {
		t.Errorf("Overriding a prefix should not add a mapping, got %d", len(serializer.prefixMappings))
	}
	if serializer.prefixIndex["ex"] != "https://other.example/" {
		t.Errorf("Expected ex to be overridden, got %s", serializer.prefixIndex["ex"])
	}
}

func TestNewTurtleSerializer_WithoutDefaults(t *testing.T) {
	serializer := NewTurtleSerializer(
		WithoutDefaultPrefixes(),
		WithPrefix("custom", "https://example.org/ns#"),
	)

	if len(serializer.prefixMappings) != 1 {
		t.Errorf("Expected 1 prefix mapping (defaults cleared), got %d", len(serializer.prefixMappings))
	}

	if serializer.prefixIndex["custom"] != "https://example.org/ns#" {
		t.Error("Custom prefix not found after clearing defaults")
	}
}

// --- Formatting tests ---

func TestFormatLiteral(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "hello", `"hello"`},
		{"with_quotes", `say "hi"`, `"say \"hi\""`},
		{"multiline", "line1\nline2", `"""line1\nline2"""`},
		{"empty", "", `""`},
		{"number_string", "17", `"17"`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			result := formatLiteral(testCase.input)
			if result != testCase.expected {
				t.Errorf("formatLiteral(%q) = %q, want %q", testCase.input, result, testCase.expected)
			}
		})
	}
}

func TestFormatTerm(t *testing.T) {
	serializer := NewTurtleSerializer()

	testCases := []struct {
		name     string
		term     rdf.Term
		expected string
	}{
		{"compacted IRI", ex("task1"), "ex:task1"},
		{"exo IRI", rdf.IRI(rdf.NamespaceExo + "Asset_label"), "exo:Asset_label"},
		{"unknown namespace", rdf.IRI("https://unknown.example/x"), "<https://unknown.example/x>"},
		{"local name with slash", rdf.IRI(rdf.NamespaceExample + "a/b"), "<http://example.org/a/b>"},
		{"blank node", rdf.BlankNode("b1"), "_:b1"},
		{"plain literal", rdf.NewLiteral("A"), `"A"`},
		{"language literal", rdf.NewLangLiteral("hello", "en"), `"hello"@en`},
		{"typed literal", rdf.NewIntegerLiteral(4), `"4"^^xsd:integer`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := serializer.formatTerm(testCase.term); got != testCase.expected {
				t.Errorf("formatTerm(%v) = %q, want %q", testCase.term, got, testCase.expected)
			}
		})
	}
}

func TestFormatPredicate(t *testing.T) {
	serializer := NewTurtleSerializer()

	if got := serializer.formatPredicate(rdf.RDFType); got != "a" {
		t.Errorf("Expected rdf:type to format as 'a', got %q", got)
	}
	if got := serializer.formatPredicate(exLabel); got != "ex:label" {
		t.Errorf("Expected ex:label, got %q", got)
	}
}

// --- Serialization tests ---

func TestSerialize_Empty(t *testing.T) {
	serializer := NewTurtleSerializer()

	output := serializer.Serialize(nil)

	nonEmptyLines := 0
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if strings.TrimSpace(line) != "" {
			nonEmptyLines++
		}
	}

	if nonEmptyLines != len(rdf.DefaultPrefixes()) {
		t.Errorf("Expected only prefix lines for empty input, got %d non-empty lines", nonEmptyLines)
	}
}

func TestSerialize_SingleTriple(t *testing.T) {
	serializer := NewTurtleSerializer()
	output := serializer.Serialize([]rdf.Triple{rdf.NewTriple(ex("task1"), rdf.RDFType, exTask)})

	if !strings.Contains(output, "ex:task1 a ex:Task .") {
		t.Errorf("Expected single triple with 'a' shorthand, got:\n%s", output)
	}
}

func TestSerialize_SubjectGroupingTypeFirst(t *testing.T) {
	store := NewTripleStore()
	populateTestStore(store)

	serializer := NewTurtleSerializer()
	output := serializer.SerializeStore(store)

	subjectBlock := extractSubjectBlock(output, "ex:task1")
	if subjectBlock == "" {
		t.Fatalf("Could not find ex:task1 subject block in:\n%s", output)
	}

	want := "ex:task1 a ex:Task ;\n    ex:label \"A\" ;\n    ex:partOf ex:project1 ."
	if subjectBlock != want {
		t.Errorf("Unexpected subject block:\n%s\nwant:\n%s", subjectBlock, want)
	}
}

func TestSerialize_MultipleObjects(t *testing.T) {
	triples := []rdf.Triple{
		rdf.NewTriple(ex("project1"), ex("hasTask"), ex("task2")),
		rdf.NewTriple(ex("project1"), ex("hasTask"), ex("task1")),
	}

	output := NewTurtleSerializer().Serialize(triples)

	if !strings.Contains(output, "ex:project1 ex:hasTask ex:task1 ,\n        ex:task2 .") {
		t.Errorf("Expected comma-separated objects in key order, got:\n%s", output)
	}
}

func TestSerialize_DeduplicatesTriples(t *testing.T) {
	triple := rdf.NewTriple(ex("task1"), exLabel, rdf.NewLiteral("A"))

	output := NewTurtleSerializer(WithoutDefaultPrefixes()).Serialize([]rdf.Triple{triple, triple})

	if strings.Count(output, `"A"`) != 1 {
		t.Errorf("Expected duplicate triple to be written once, got:\n%s", output)
	}
}

func TestSerialize_NoPrefixes(t *testing.T) {
	serializer := NewTurtleSerializer(WithoutDefaultPrefixes())
	output := serializer.Serialize([]rdf.Triple{rdf.NewTriple(ex("task1"), rdf.RDFType, exTask)})

	if strings.Contains(output, "@prefix") {
		t.Error("Expected no prefix declarations when defaults are cleared")
	}

	if !strings.Contains(output, "<http://example.org/task1> a <http://example.org/Task> .") {
		t.Errorf("Expected full IRIs without prefixes, got:\n%s", output)
	}
}

func TestSerialize_DeterministicOutput(t *testing.T) {
	store := NewTripleStore()
	populateTestStore(store)

	serializer := NewTurtleSerializer()

	if serializer.SerializeStore(store) != serializer.SerializeStore(store) {
		t.Error("Expected deterministic output, but two serializations differ")
	}
}

func TestSerialize_ConcurrentAccess(t *testing.T) {
	store := NewTripleStore()
	populateTestStore(store)

	serializer := NewTurtleSerializer()

	done := make(chan string, 10)

	for i := 0; i < 10; i++ {
		go func() {
			done <- serializer.SerializeStore(store)
		}()
	}

	var firstResult string
	for i := 0; i < 10; i++ {
		result := <-done
		if i == 0 {
			firstResult = result
		} else if result != firstResult {
			t.Error("Concurrent serializations produced different output")
		}
	}
}

// --- N-Triples and JSON-LD ---

func TestWriteNTriples(t *testing.T) {
	var buffer bytes.Buffer
	triples := []rdf.Triple{
		rdf.NewTriple(ex("task1"), exLabel, rdf.NewLiteral("A")),
		rdf.NewTriple(ex("task1"), exPriority, rdf.NewIntegerLiteral(2)),
	}

	if err := WriteNTriples(&buffer, triples); err != nil {
		t.Fatalf("WriteNTriples failed: %v", err)
	}

	want := "<http://example.org/task1> <http://example.org/label> \"A\" .\n" +
		"<http://example.org/task1> <http://example.org/priority> \"2\"^^<http://www.w3.org/2001/XMLSchema#integer> .\n"
	if buffer.String() != want {
		t.Errorf("Unexpected N-Triples:\n%s", buffer.String())
	}
}

func TestJSONLDSerializer_Compact(t *testing.T) {
	triples := []rdf.Triple{
		rdf.NewTriple(ex("task1"), rdf.RDFType, exTask),
		rdf.NewTriple(ex("task1"), exLabel, rdf.NewLiteral("A")),
	}

	output, err := NewJSONLDSerializer().SerializeToString(triples)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	var document map[string]interface{}
	if err := json.Unmarshal([]byte(output), &document); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, output)
	}

	if _, ok := document["@context"]; !ok {
		t.Errorf("Expected @context in compact output, got:\n%s", output)
	}
	if document["@id"] != "ex:task1" {
		t.Errorf("Expected compacted @id ex:task1, got %v", document["@id"])
	}
	if document["ex:label"] != "A" {
		t.Errorf("Expected ex:label to be \"A\", got %v", document["ex:label"])
	}
}

func TestJSONLDSerializer_Expanded(t *testing.T) {
	triples := []rdf.Triple{rdf.NewTriple(ex("task1"), exLabel, rdf.NewLiteral("A"))}

	output, err := NewJSONLDSerializer(WithExpandedForm()).SerializeToString(triples)
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	if strings.Contains(output, "@context") {
		t.Errorf("Expanded output should not carry a context, got:\n%s", output)
	}
	if !strings.Contains(output, "http://example.org/label") {
		t.Errorf("Expected full predicate IRI in expanded output, got:\n%s", output)
	}
}

// --- Helper ---

func extractSubjectBlock(turtleOutput, subject string) string {
	lines := strings.Split(turtleOutput, "\n")
	var blockLines []string
	inBlock := false

	for _, line := range lines {
		if strings.HasPrefix(line, subject+" ") {
			inBlock = true
		}
		if inBlock {
			blockLines = append(blockLines, line)
			if strings.HasSuffix(strings.TrimSpace(line), ".") {
				break
			}
		}
	}

	return strings.Join(blockLines, "\n")
}
