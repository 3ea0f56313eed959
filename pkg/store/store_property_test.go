package store

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// genTriple draws from small term pools so that generated stores share
// subjects, predicates and objects.
func genTriple() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 5),
		gen.IntRange(0, 3),
		gen.IntRange(0, 7),
	).Map(func(values []interface{}) rdf.Triple {
		subject := rdf.Term(ex(fmt.Sprintf("s%d", values[0].(int))))
		if values[0].(int) == 5 {
			subject = rdf.BlankNode("b5")
		}
		predicate := ex(fmt.Sprintf("p%d", values[1].(int)))

		var object rdf.Term
		switch n := values[2].(int); {
		case n < 3:
			object = ex(fmt.Sprintf("s%d", n))
		case n < 5:
			object = rdf.NewLiteral(fmt.Sprintf("%d", n))
		case n < 6:
			object = rdf.NewIntegerLiteral(int64(n))
		default:
			object = rdf.NewLangLiteral("note", "en")
		}
		return rdf.NewTriple(subject, predicate, object)
	})
}

func buildStore(triples []rdf.Triple) *TripleStore {
	store := NewTripleStore()
	if _, err := store.AddAll(triples); err != nil {
		panic(err)
	}
	return store
}

func containsTriple(triples []rdf.Triple, want rdf.Triple) bool {
	for _, triple := range triples {
		if triple.Equals(want) {
			return true
		}
	}
	return false
}

func TestTripleStore_MatchProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("every stored triple matches itself", prop.ForAll(
		func(triples []rdf.Triple) bool {
			store := buildStore(triples)
			for _, triple := range triples {
				if !containsTriple(store.Match(triple.Subject, triple.Predicate, triple.Object), triple) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genTriple()),
	))

	properties.Property("full wildcard returns exactly the store", prop.ForAll(
		func(triples []rdf.Triple) bool {
			store := buildStore(triples)
			all := store.Match(nil, nil, nil)
			if len(all) != store.Size() {
				return false
			}
			for _, triple := range triples {
				if !containsTriple(all, triple) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genTriple()),
	))

	properties.Property("every access path agrees with a filtered scan", prop.ForAll(
		func(triples []rdf.Triple, probe rdf.Triple, mask int) bool {
			store := buildStore(triples)

			pattern := NewPattern(probe.Subject, probe.Predicate, probe.Object)
			if mask&1 == 0 {
				pattern.Subject = nil
			}
			if mask&2 == 0 {
				pattern.Predicate = nil
			}
			if mask&4 == 0 {
				pattern.Object = nil
			}

			var expected []rdf.Triple
			for _, triple := range store.All() {
				if pattern.Matches(triple) {
					expected = append(expected, triple)
				}
			}

			got := store.MatchPattern(pattern)
			if len(got) != len(expected) {
				return false
			}
			for _, triple := range expected {
				if !containsTriple(got, triple) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genTriple()),
		genTriple(),
		gen.IntRange(0, 7),
	))

	properties.Property("single wildcard matches reconstruct the store", prop.ForAll(
		func(triples []rdf.Triple) bool {
			store := buildStore(triples)

			union := make(map[string]bool)
			for _, subject := range distinctSubjects(store.All()) {
				for _, triple := range store.Match(subject, nil, nil) {
					union[triple.Key()] = true
				}
			}
			return len(union) == store.Size()
		},
		gen.SliceOf(genTriple()),
	))

	properties.Property("remove undoes add", prop.ForAll(
		func(triples []rdf.Triple, extra rdf.Triple) bool {
			store := buildStore(triples)
			before := store.Size()
			present := store.Has(extra)

			if err := store.Add(extra); err != nil {
				return false
			}
			if !store.Remove(extra) {
				return false
			}
			if present {
				return store.Size() == before-1
			}
			return store.Size() == before
		},
		gen.SliceOf(genTriple()),
		genTriple(),
	))

	properties.TestingRun(t)
}

func distinctSubjects(triples []rdf.Triple) []rdf.Term {
	seen := make(map[string]bool)
	var subjects []rdf.Term
	for _, triple := range triples {
		if !seen[triple.Subject.Key()] {
			seen[triple.Subject.Key()] = true
			subjects = append(subjects, triple.Subject)
		}
	}
	return subjects
}
