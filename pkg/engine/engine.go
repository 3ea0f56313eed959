// Package engine runs SPARQL queries against a triple store: it parses,
// translates, optimizes and evaluates query text and memoizes results in a
// per-engine cache.
//
// The engine serializes store writers through Update. Queries evaluate
// under a shared lock, so a result is never computed from a half-applied
// write, and Update invalidates the cache before releasing its lock.
package engine

import (
	"io"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/coolbeans/exocortex/pkg/algebra"
	"github.com/coolbeans/exocortex/pkg/cache"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/query"
	"github.com/coolbeans/exocortex/pkg/rdf"
	"github.com/coolbeans/exocortex/pkg/sparql"
	"github.com/coolbeans/exocortex/pkg/store"
)

// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	store    *store.TripleStore
	executor *query.Executor

	cache  *cache.QueryCache
	flight singleflight.Group

	logger         *slog.Logger
	prefixes       map[string]string
	cacheConfig    cache.Config
	filterPushdown bool
	joinReordering bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithPrefixes adds prefix bindings available to every query.
func WithPrefixes(prefixes map[string]string) Option {
	return func(e *Engine) {
		maps.Copy(e.prefixes, prefixes)
	}
}

// WithCacheConfig sets the initial cache configuration.
func WithCacheConfig(config cache.Config) Option {
	return func(e *Engine) {
		e.cacheConfig = config
	}
}

// WithFilterPushdown toggles filter pushdown in the optimizer.
func WithFilterPushdown(enabled bool) Option {
	return func(e *Engine) {
		e.filterPushdown = enabled
	}
}

// WithJoinReordering toggles triple pattern reordering in the optimizer.
func WithJoinReordering(enabled bool) Option {
	return func(e *Engine) {
		e.joinReordering = enabled
	}
}

// New creates an engine over ts.
func New(ts *store.TripleStore, opts ...Option) *Engine {
	e := &Engine{
		store:          ts,
		executor:       query.NewExecutor(ts),
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		prefixes:       make(map[string]string),
		cacheConfig:    cache.DefaultConfig(),
		filterPushdown: true,
		joinReordering: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.NewQueryCache(e.cacheConfig)
	return e
}

// SelectResult holds the solutions of a SELECT query. Each call returns
// its own copy, so callers may modify it.
type SelectResult struct {
	Variables []string
	Solutions []query.Solution
	Cached    bool
}

// ConstructResult holds the triples built by a CONSTRUCT query.
type ConstructResult struct {
	Triples []rdf.Triple
	Cached  bool
}

// Result is a query result of any kind.
type Result struct {
	*query.Result
	Cached bool
}

// Select runs a SELECT query.
func (e *Engine) Select(text string) (*SelectResult, error) {
	result, cached, err := e.run(text, sparql.KindSelect, nil)
	if err != nil {
		return nil, err
	}
	return &SelectResult{Variables: result.Variables, Solutions: result.Solutions, Cached: cached}, nil
}

// Construct runs a CONSTRUCT query.
func (e *Engine) Construct(text string) (*ConstructResult, error) {
	result, cached, err := e.run(text, sparql.KindConstruct, nil)
	if err != nil {
		return nil, err
	}
	return &ConstructResult{Triples: result.Triples, Cached: cached}, nil
}

// Ask runs an ASK query. ASK results are never cached.
func (e *Engine) Ask(text string) (bool, error) {
	result, _, err := e.run(text, sparql.KindAsk, nil)
	if err != nil {
		return false, err
	}
	return result.Boolean, nil
}

// Query runs a query of any kind.
func (e *Engine) Query(text string) (*Result, error) {
	parsed, err := e.parse(text)
	if err != nil {
		e.cache.RecordMiss()
		return nil, err
	}
	result, cached, err := e.run(text, parsed.Kind, parsed)
	if err != nil {
		return nil, err
	}
	return &Result{Result: result, Cached: cached}, nil
}

func (e *Engine) run(text string, kind sparql.QueryKind, parsed *sparql.Query) (*query.Result, bool, error) {
	normalized, err := sparql.Normalize(text)
	if err != nil {
		e.cache.RecordMiss()
		e.logger.Debug("query rejected", "error", err)
		return nil, false, err
	}

	cacheable := kind != sparql.KindAsk
	if cacheable {
		if value, ok := e.cache.Get(string(kind), normalized); ok {
			e.logger.Debug("query cache hit", "kind", kind)
			return value.(*query.Result).Clone(), true, nil
		}
	}

	value, err, shared := e.flight.Do(string(kind)+"\x00"+normalized, func() (any, error) {
		if parsed == nil {
			var err error
			if parsed, err = e.parse(text); err != nil {
				return nil, err
			}
		}
		if parsed.Kind != kind {
			return nil, exoerr.New(exoerr.CodeQueryKindUnsupported, "query kind does not match the requested operation",
				exoerr.Field("expected", string(kind)), exoerr.Field("actual", string(parsed.Kind)))
		}
		tree, err := algebra.Translate(parsed)
		if err != nil {
			return nil, err
		}

		e.mu.RLock()
		defer e.mu.RUnlock()

		result, err := e.executor.Execute(e.optimizer().Optimize(tree))
		if err != nil {
			return nil, err
		}
		if cacheable {
			e.cache.Put(string(kind), normalized, result)
		}
		return result, nil
	})
	if err != nil {
		e.logger.Debug("query failed", "kind", kind, "error", err)
		return nil, false, err
	}

	result := value.(*query.Result)
	e.logger.Debug("query evaluated", "kind", kind, "results", result.Len(), "shared", shared)
	return result.Clone(), false, nil
}

func (e *Engine) parse(text string) (*sparql.Query, error) {
	return sparql.Parse(text, sparql.WithPrefixes(e.prefixes))
}

// optimizer must be called with e.mu held so the statistics match the
// store the tree is evaluated against.
func (e *Engine) optimizer() *algebra.Optimizer {
	return algebra.NewOptimizer(
		algebra.WithStats(e.store.Stats()),
		algebra.WithFilterPushdown(e.filterPushdown),
		algebra.WithJoinReordering(e.joinReordering),
	)
}

// Plan is the operator tree of a query before and after optimization.
type Plan struct {
	Kind      sparql.QueryKind
	Algebra   algebra.Node
	Optimized algebra.Node
}

// String renders both trees.
func (p *Plan) String() string {
	return "algebra:\n" + p.Algebra.String() + "\n\noptimized:\n" + p.Optimized.String() + "\n"
}

// Explain translates and optimizes a query without evaluating it.
func (e *Engine) Explain(text string) (*Plan, error) {
	parsed, err := e.parse(text)
	if err != nil {
		return nil, err
	}
	tree, err := algebra.Translate(parsed)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	optimized := e.optimizer().Optimize(tree)
	e.mu.RUnlock()

	return &Plan{Kind: parsed.Kind, Algebra: tree, Optimized: optimized}, nil
}

// Update applies fn to the store while holding the write lock, then
// invalidates the cache. The cache is invalidated even when fn fails,
// since fn may have written before failing.
func (e *Engine) Update(fn func(*store.TripleStore) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.store.Size()
	err := fn(e.store)
	e.cache.Invalidate()
	e.logger.Debug("store updated", "before", before, "after", e.store.Size(), "error", err)
	return err
}

// Stats returns the store statistics.
func (e *Engine) Stats() store.IndexStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Stats()
}

// Match returns the triples matching a pattern; nil terms are wildcards.
func (e *Engine) Match(subject, predicate, object rdf.Term) []rdf.Triple {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Match(subject, predicate, object)
}

// Snapshot returns an independent copy of the store for long reads that
// should not hold up writers.
func (e *Engine) Snapshot() *store.TripleStore {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Snapshot()
}

// Prefixes returns every prefix binding queries can use without
// declaring it.
func (e *Engine) Prefixes() map[string]string {
	prefixes := rdf.DefaultPrefixes()
	maps.Copy(prefixes, e.prefixes)
	return prefixes
}

// InvalidateCache drops every cached result.
func (e *Engine) InvalidateCache() {
	e.cache.Invalidate()
	e.logger.Debug("query cache invalidated")
}

// UpdateCacheConfig replaces the cache configuration.
func (e *Engine) UpdateCacheConfig(config cache.Config) {
	e.cache.UpdateConfig(config)
	e.logger.Info("query cache reconfigured",
		"enabled", config.Enabled, "ttl", config.TTL, "max_entries", config.MaxEntries)
}

// CacheConfig returns the active cache configuration.
func (e *Engine) CacheConfig() cache.Config {
	return e.cache.Config()
}

// CacheStats returns the cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.cache.Stats()
}

// CleanupCache purges expired cache entries and returns how many were
// removed.
func (e *Engine) CleanupCache() int {
	removed := e.cache.Cleanup()
	if removed > 0 {
		e.logger.Debug("expired cache entries removed", "count", removed)
	}
	return removed
}
