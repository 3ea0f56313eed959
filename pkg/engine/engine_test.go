package engine

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coolbeans/exocortex/pkg/cache"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
	"github.com/coolbeans/exocortex/pkg/store"
)

func ex(local string) rdf.IRI {
	return rdf.IRI(rdf.NamespaceExample + local)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	ts := store.NewTripleStore()
	_, err := ts.AddAll([]rdf.Triple{
		rdf.NewTriple(ex("task1"), rdf.RDFType, ex("Task")),
		rdf.NewTriple(ex("task1"), ex("label"), rdf.NewLiteral("A")),
		rdf.NewTriple(ex("task2"), rdf.RDFType, ex("Task")),
		rdf.NewTriple(ex("task2"), ex("label"), rdf.NewLiteral("B")),
		rdf.NewTriple(ex("task3"), rdf.RDFType, ex("Task")),
		rdf.NewTriple(ex("task4"), rdf.RDFType, ex("Task")),
	})
	require.NoError(t, err)
	return New(ts, opts...)
}

const countTasks = `SELECT (COUNT(?t) AS ?n) WHERE { ?t a ex:Task }`

func TestEngine_Select(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, []string{"n"}, result.Variables)
	require.Len(t, result.Solutions, 1)
	assert.Equal(t, "4", result.Solutions[0].Get("n").Value())

	again, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, "4", again.Solutions[0].Get("n").Value())

	stats := e.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestEngine_CacheKeyIgnoresLayoutAndKeywordCase(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(countTasks)
	require.NoError(t, err)

	variant := "select  (count(?t) as ?n)\n where {\n\t?t a ex:Task\n}"
	result, err := e.Select(variant)
	require.NoError(t, err)
	assert.True(t, result.Cached)
}

func TestEngine_CachedQueryDoesNotMaskSyntaxError(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(`SELECT ?t WHERE { ?t a ex:Task }`)
	require.NoError(t, err)

	_, err = e.Select(`SELECT ?t WHERE { ?t A ex:Task }`)
	require.Error(t, err)
	assert.True(t, exoerr.IsSyntaxError(err), "got %v", err)
}

func TestEngine_ResultsAreCopies(t *testing.T) {
	e := newTestEngine(t)
	labels := `SELECT ?l WHERE { ?t ex:label ?l } ORDER BY ?l`

	first, err := e.Select(labels)
	require.NoError(t, err)
	require.Len(t, first.Solutions, 2)
	first.Solutions[0]["l"] = rdf.NewLiteral("changed")
	first.Solutions = first.Solutions[:1]

	second, err := e.Select(labels)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Len(t, second.Solutions, 2)
	assert.Equal(t, "A", second.Solutions[0].Get("l").Value())
	second.Solutions[1]["l"] = rdf.NewLiteral("changed")

	third, err := e.Query(labels)
	require.NoError(t, err)
	assert.Equal(t, "B", third.Solutions[1].Get("l").Value())
}

func TestEngine_CacheIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	words := strings.Fields(`SELECT ?l WHERE { ?t ex:label ?l } ORDER BY ?l LIMIT 5`)
	separators := []string{" ", "  ", "\n", "\t", " \n "}

	properties.Property("layout and keyword case variants hit the cache", prop.ForAll(
		func(seps []int, upper []bool) bool {
			e := newTestEngine(t)
			first, err := e.Select(strings.Join(words, " "))
			if err != nil || first.Cached {
				return false
			}

			var sb strings.Builder
			for i, word := range words {
				if i > 0 {
					sb.WriteString(separators[seps[i%len(seps)]])
				}
				if strings.ToUpper(word) == word && !strings.ContainsAny(word, "?{}:") && upper[i%len(upper)] {
					word = strings.ToLower(word)
				}
				sb.WriteString(word)
			}
			second, err := e.Select(sb.String())
			if err != nil {
				return false
			}
			return second.Cached && len(second.Solutions) == len(first.Solutions)
		},
		gen.SliceOfN(len(words), gen.IntRange(0, len(separators)-1)),
		gen.SliceOfN(len(words), gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestEngine_Construct(t *testing.T) {
	e := newTestEngine(t)

	text := `CONSTRUCT { ?t ex:title ?l } WHERE { ?t a ex:Task OPTIONAL { ?t ex:label ?l } }`
	result, err := e.Construct(text)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Len(t, result.Triples, 2)

	again, err := e.Construct(text)
	require.NoError(t, err)
	assert.True(t, again.Cached)
}

func TestEngine_Ask(t *testing.T) {
	e := newTestEngine(t)

	found, err := e.Ask(`ASK { ?t ex:label "A" }`)
	require.NoError(t, err)
	assert.True(t, found)

	found, err = e.Ask(`ASK { ?t ex:label "Z" }`)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = e.Ask(`ASK { ?t ex:label "Z" }`)
	require.NoError(t, err)
	assert.Equal(t, 0, e.CacheStats().Size, "ASK results are not cached")
}

func TestEngine_Query(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Query(`SELECT ?l WHERE { ?t ex:label ?l } ORDER BY ?l LIMIT 1`)
	require.NoError(t, err)
	assert.Equal(t, sparql.KindSelect, result.Kind)
	require.Len(t, result.Solutions, 1)
	assert.Equal(t, "A", result.Solutions[0].Get("l").Value())

	ask, err := e.Query(`ASK { ?t a ex:Task }`)
	require.NoError(t, err)
	assert.Equal(t, sparql.KindAsk, ask.Kind)
	assert.True(t, ask.Boolean)

	cached, err := e.Query(`SELECT ?l WHERE { ?t ex:label ?l } ORDER BY ?l LIMIT 1`)
	require.NoError(t, err)
	assert.True(t, cached.Cached)
}

func TestEngine_SyntaxErrorCountsAsMiss(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(`SELECT ?x WHERE { ?x ex:label }`)
	require.Error(t, err)
	assert.True(t, exoerr.IsSyntaxError(err))

	_, err = e.Select(`SELECT ?x WHERE { ?x ex:label "unterminated }`)
	require.Error(t, err)
	assert.True(t, exoerr.IsSyntaxError(err))

	_, err = e.Query(`SELEKT ?x WHERE { }`)
	require.Error(t, err)

	stats := e.CacheStats()
	assert.Equal(t, uint64(3), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestEngine_TranslationError(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(`SELECT ?t (COUNT(?l) AS ?n) WHERE { ?t ex:label ?l }`)
	require.Error(t, err)
	assert.True(t, exoerr.IsTranslationError(err))
	assert.Equal(t, 0, e.CacheStats().Size)
}

func TestEngine_KindMismatch(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(`ASK { ?t a ex:Task }`)
	require.Error(t, err)
	assert.Equal(t, exoerr.CodeQueryKindUnsupported, exoerr.CodeOf(err))

	_, err = e.Construct(`SELECT ?t WHERE { ?t a ex:Task }`)
	assert.Equal(t, exoerr.CodeQueryKindUnsupported, exoerr.CodeOf(err))
}

func TestEngine_UpdateInvalidatesCache(t *testing.T) {
	e := newTestEngine(t)

	_, err := e.Select(countTasks)
	require.NoError(t, err)

	err = e.Update(func(ts *store.TripleStore) error {
		return ts.Add(rdf.NewTriple(ex("task5"), rdf.RDFType, ex("Task")))
	})
	require.NoError(t, err)
	assert.Equal(t, 0, e.CacheStats().Size)

	result, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, "5", result.Solutions[0].Get("n").Value())
}

func TestEngine_UpdateErrorStillInvalidates(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Select(countTasks)
	require.NoError(t, err)

	failure := errors.New("partial write")
	err = e.Update(func(ts *store.TripleStore) error {
		ts.Remove(rdf.NewTriple(ex("task4"), rdf.RDFType, ex("Task")))
		return failure
	})
	assert.ErrorIs(t, err, failure)

	result, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.Equal(t, "3", result.Solutions[0].Get("n").Value())
}

func TestEngine_StaleUntilInvalidated(t *testing.T) {
	ts := store.NewTripleStore()
	require.NoError(t, ts.Add(rdf.NewTriple(ex("task1"), rdf.RDFType, ex("Task"))))
	e := New(ts)

	_, err := e.Select(countTasks)
	require.NoError(t, err)

	// Writes that bypass Update are invisible to the cache.
	require.NoError(t, ts.Add(rdf.NewTriple(ex("task2"), rdf.RDFType, ex("Task"))))
	stale, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.True(t, stale.Cached)
	assert.Equal(t, "1", stale.Solutions[0].Get("n").Value())

	e.InvalidateCache()
	fresh, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.Equal(t, "2", fresh.Solutions[0].Get("n").Value())
}

func TestEngine_DisabledCache(t *testing.T) {
	e := newTestEngine(t, WithCacheConfig(cache.Config{Enabled: false}))

	for i := 0; i < 2; i++ {
		result, err := e.Select(countTasks)
		require.NoError(t, err)
		assert.False(t, result.Cached)
	}
	assert.Equal(t, uint64(2), e.CacheStats().Misses)

	e.UpdateCacheConfig(cache.Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	_, err := e.Select(countTasks)
	require.NoError(t, err)
	result, err := e.Select(countTasks)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, time.Minute, e.CacheConfig().TTL)

	assert.Equal(t, 0, e.CleanupCache())
}

func TestEngine_Explain(t *testing.T) {
	e := newTestEngine(t)

	plan, err := e.Explain(`SELECT ?t WHERE { ?t a ex:Task OPTIONAL { ?t ex:label ?l } FILTER(?t != ex:task2) }`)
	require.NoError(t, err)
	assert.Equal(t, sparql.KindSelect, plan.Kind)

	output := plan.String()
	assert.Contains(t, output, "algebra:")
	assert.Contains(t, output, "optimized:")
	assert.True(t, strings.HasPrefix(plan.Algebra.String(), "(project"))
	assert.Contains(t, plan.Algebra.String(), "(filter")
	assert.True(t, strings.Index(plan.Optimized.String(), "(leftjoin") < strings.Index(plan.Optimized.String(), "(filter"),
		"filter is pushed into the required side of the optional")

	_, err = e.Explain(`SELECT WHERE`)
	assert.True(t, exoerr.IsSyntaxError(err))
}

func TestEngine_Prefixes(t *testing.T) {
	e := newTestEngine(t, WithPrefixes(map[string]string{"task": rdf.NamespaceExample + "task"}))

	found, err := e.Ask(`ASK { task:1 ex:label "A" }`)
	require.NoError(t, err)
	assert.True(t, found)

	prefixes := e.Prefixes()
	assert.Equal(t, rdf.NamespaceExample+"task", prefixes["task"])
	assert.Equal(t, rdf.NamespaceRDF, prefixes["rdf"])
}

func TestEngine_Match(t *testing.T) {
	e := newTestEngine(t)
	assert.Len(t, e.Match(nil, rdf.RDFType, ex("Task")), 4)
	assert.Equal(t, 6, e.Stats().TotalTriples)
}

func TestEngine_Snapshot(t *testing.T) {
	e := newTestEngine(t)
	snapshot := e.Snapshot()

	require.NoError(t, e.Update(func(ts *store.TripleStore) error {
		ts.Clear()
		return nil
	}))
	assert.Equal(t, 0, e.Stats().TotalTriples)
	assert.Equal(t, 6, snapshot.Size())
}

func TestEngine_ConcurrentQueriesAndUpdates(t *testing.T) {
	e := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				result, err := e.Select(countTasks)
				if !assert.NoError(t, err) {
					return
				}
				assert.Len(t, result.Solutions, 1)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 10; j++ {
			_ = e.Update(func(ts *store.TripleStore) error {
				return ts.Add(rdf.NewTriple(ex("extra"), ex("n"), rdf.NewIntegerLiteral(int64(j))))
			})
		}
	}()
	wg.Wait()

	assert.Equal(t, 16, e.Stats().TotalTriples)
}
