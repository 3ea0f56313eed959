// Package rdf provides the RDF term model shared by the store, the query
// engine and the serializers.
package rdf

// Namespace IRIs for the vocabularies the engine knows about.
const (
	// NamespaceRDF is the standard RDF namespace.
	NamespaceRDF = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"

	// NamespaceRDFS is the RDF Schema namespace.
	NamespaceRDFS = "http://www.w3.org/2000/01/rdf-schema#"

	// NamespaceXSD is the XML Schema namespace for datatypes.
	NamespaceXSD = "http://www.w3.org/2001/XMLSchema#"

	// NamespaceOWL is the Web Ontology Language namespace.
	NamespaceOWL = "http://www.w3.org/2002/07/owl#"

	// NamespaceExo is the namespace for knowledge-base asset predicates.
	NamespaceExo = "https://exocortex.my/ontology/exo#"

	// NamespaceEms is the namespace for effort/task management predicates.
	NamespaceEms = "https://exocortex.my/ontology/ems#"

	// NamespaceExample is the conventional example namespace.
	NamespaceExample = "http://example.org/"
)

// Well-known IRIs.
const (
	RDFType       IRI = NamespaceRDF + "type"
	RDFLangString IRI = NamespaceRDF + "langString"

	XSDString  IRI = NamespaceXSD + "string"
	XSDBoolean IRI = NamespaceXSD + "boolean"
	XSDInteger IRI = NamespaceXSD + "integer"
	XSDDecimal IRI = NamespaceXSD + "decimal"
	XSDDouble  IRI = NamespaceXSD + "double"
	XSDFloat   IRI = NamespaceXSD + "float"
	XSDLong    IRI = NamespaceXSD + "long"
	XSDInt     IRI = NamespaceXSD + "int"
	XSDDate    IRI = NamespaceXSD + "date"
)

// DefaultPrefixes returns the prefix bindings available to every query
// without a PREFIX declaration.
func DefaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":  NamespaceRDF,
		"rdfs": NamespaceRDFS,
		"xsd":  NamespaceXSD,
		"owl":  NamespaceOWL,
		"exo":  NamespaceExo,
		"ems":  NamespaceEms,
		"ex":   NamespaceExample,
	}
}
