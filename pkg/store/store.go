// Package store provides the in-memory RDF triple store the query engine
// evaluates against.
package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/coolbeans/exocortex/pkg/rdf"
)

// IndexStats contains statistics about the triple store for query optimization.
// Count maps are keyed by rdf.Term.Key().
type IndexStats struct {
	TotalTriples     int            `json:"total_triples"`
	UniqueSubjects   int            `json:"unique_subjects"`
	UniquePredicates int            `json:"unique_predicates"`
	UniqueObjects    int            `json:"unique_objects"`
	PredicateCounts  map[string]int `json:"predicate_counts"`
	SubjectCounts    map[string]int `json:"subject_counts"`
	ObjectCounts     map[string]int `json:"object_counts"`
}

const btreeDegree = 32

type termIndex map[string]map[string]map[string]rdf.Triple

// TripleStore is an in-memory set of RDF triples with three access paths:
//   - SPO: an ordered B-tree, used for subject-bound lookups and full scans
//   - POS: Predicate -> Object -> Subject (find subjects with property=value)
//   - OSP: Object -> Subject -> Predicate (find subjects pointing to object)
//
// Writers take the exclusive lock; Match, Has and the other readers share it.
type TripleStore struct {
	mu sync.RWMutex

	spo *btree.BTreeG[rdf.Triple]
	pos termIndex
	osp termIndex

	predicateCounts map[string]int
	subjectCounts   map[string]int
	objectCounts    map[string]int
}

// NewTripleStore creates a new in-memory triple store with all indexes initialized.
func NewTripleStore() *TripleStore {
	return &TripleStore{
		spo:             btree.NewG(btreeDegree, lessSPO),
		pos:             make(termIndex),
		osp:             make(termIndex),
		predicateCounts: make(map[string]int),
		subjectCounts:   make(map[string]int),
		objectCounts:    make(map[string]int),
	}
}

func lessSPO(a, b rdf.Triple) bool {
	if c := strings.Compare(key(a.Subject), key(b.Subject)); c != 0 {
		return c < 0
	}
	if c := strings.Compare(key(a.Predicate), key(b.Predicate)); c != 0 {
		return c < 0
	}
	return key(a.Object) < key(b.Object)
}

func key(term rdf.Term) string {
	if term == nil {
		return ""
	}
	return term.Key()
}

// Add inserts a triple into the store. Adding a triple that already exists
// is a no-op.
func (ts *TripleStore) Add(triple rdf.Triple) error {
	if err := triple.Validate(); err != nil {
		return err
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.addUnsafe(triple)
	return nil
}

// AddAll validates every triple and then inserts them under a single write
// lock. Nothing is inserted if any triple is invalid. It returns the number
// of triples that were not already present.
func (ts *TripleStore) AddAll(triples []rdf.Triple) (int, error) {
	for _, triple := range triples {
		if err := triple.Validate(); err != nil {
			return 0, err
		}
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	added := 0
	for _, triple := range triples {
		if ts.addUnsafe(triple) {
			added++
		}
	}
	return added, nil
}

// MergeFrom copies all triples from the source store into this store.
// Returns the number of new triples added.
func (ts *TripleStore) MergeFrom(source *TripleStore) int {
	added, _ := ts.AddAll(source.All())
	return added
}

// Remove deletes a single triple. It reports whether the triple was present.
func (ts *TripleStore) Remove(triple rdf.Triple) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.removeUnsafe(triple)
}

// RemoveMatching removes every triple matching the pattern; nil positions
// are wildcards. It returns the number of triples removed.
func (ts *TripleStore) RemoveMatching(subject, predicate, object rdf.Term) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	matches := ts.matchUnsafe(subject, predicate, object)
	for _, triple := range matches {
		ts.removeUnsafe(triple)
	}
	return len(matches)
}

// Clear removes all triples from the store.
func (ts *TripleStore) Clear() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.spo.Clear(false)
	ts.pos = make(termIndex)
	ts.osp = make(termIndex)
	ts.predicateCounts = make(map[string]int)
	ts.subjectCounts = make(map[string]int)
	ts.objectCounts = make(map[string]int)
}

// Size returns the total number of triples in the store.
func (ts *TripleStore) Size() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.spo.Len()
}

// Has checks if a specific triple exists in the store.
func (ts *TripleStore) Has(triple rdf.Triple) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return ts.spo.Has(triple)
}

// Match returns every triple whose non-nil positions equal the given terms.
// A nil position is a wildcard. The result is a fresh slice the caller owns.
func (ts *TripleStore) Match(subject, predicate, object rdf.Term) []rdf.Triple {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return ts.matchUnsafe(subject, predicate, object)
}

// MatchPattern queries using a Pattern.
func (ts *TripleStore) MatchPattern(pattern Pattern) []rdf.Triple {
	return ts.Match(pattern.Subject, pattern.Predicate, pattern.Object)
}

// All returns all triples in subject, predicate, object key order.
func (ts *TripleStore) All() []rdf.Triple {
	return ts.Match(nil, nil, nil)
}

// Snapshot returns an independent copy of the store. The copy shares the
// SPO tree copy-on-write, so later writes to either store are not visible
// to the other.
func (ts *TripleStore) Snapshot() *TripleStore {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return &TripleStore{
		spo:             ts.spo.Clone(),
		pos:             cloneIndex(ts.pos),
		osp:             cloneIndex(ts.osp),
		predicateCounts: cloneCounts(ts.predicateCounts),
		subjectCounts:   cloneCounts(ts.subjectCounts),
		objectCounts:    cloneCounts(ts.objectCounts),
	}
}

// Stats returns statistics about the store for query optimization.
func (ts *TripleStore) Stats() IndexStats {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return IndexStats{
		TotalTriples:     ts.spo.Len(),
		UniqueSubjects:   len(ts.subjectCounts),
		UniquePredicates: len(ts.pos),
		UniqueObjects:    len(ts.osp),
		PredicateCounts:  cloneCounts(ts.predicateCounts),
		SubjectCounts:    cloneCounts(ts.subjectCounts),
		ObjectCounts:     cloneCounts(ts.objectCounts),
	}
}

// String returns a string representation of the store statistics.
func (ts *TripleStore) String() string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	return fmt.Sprintf("TripleStore{triples: %d, subjects: %d, predicates: %d, objects: %d}",
		ts.spo.Len(), len(ts.subjectCounts), len(ts.pos), len(ts.osp))
}

func (ts *TripleStore) addUnsafe(triple rdf.Triple) bool {
	if _, replaced := ts.spo.ReplaceOrInsert(triple); replaced {
		return false
	}

	subject := triple.Subject.Key()
	predicate := triple.Predicate.Key()
	object := triple.Object.Key()

	insert(ts.pos, predicate, object, subject, triple)
	insert(ts.osp, object, subject, predicate, triple)

	ts.predicateCounts[predicate]++
	ts.subjectCounts[subject]++
	ts.objectCounts[object]++

	return true
}

func (ts *TripleStore) removeUnsafe(triple rdf.Triple) bool {
	if triple.Subject == nil || triple.Predicate == nil || triple.Object == nil {
		return false
	}
	if _, found := ts.spo.Delete(triple); !found {
		return false
	}

	subject := triple.Subject.Key()
	predicate := triple.Predicate.Key()
	object := triple.Object.Key()

	remove(ts.pos, predicate, object, subject)
	remove(ts.osp, object, subject, predicate)

	decrement(ts.predicateCounts, predicate)
	decrement(ts.subjectCounts, subject)
	decrement(ts.objectCounts, object)

	return true
}

// matchUnsafe picks the most specific index for the bound positions.
func (ts *TripleStore) matchUnsafe(subject, predicate, object rdf.Term) []rdf.Triple {
	results := []rdf.Triple{}

	switch {
	case subject != nil && predicate != nil && object != nil:
		triple := rdf.NewTriple(subject, predicate, object)
		if found, ok := ts.spo.Get(triple); ok {
			results = append(results, found)
		}

	case subject != nil:
		pivot := rdf.Triple{Subject: subject, Predicate: predicate}
		subjectKey := subject.Key()
		ts.spo.AscendGreaterOrEqual(pivot, func(triple rdf.Triple) bool {
			if triple.Subject.Key() != subjectKey {
				return false
			}
			if predicate != nil && !rdf.Equal(triple.Predicate, predicate) {
				return false
			}
			if object == nil || rdf.Equal(triple.Object, object) {
				results = append(results, triple)
			}
			return true
		})

	case predicate != nil:
		objects := ts.pos[predicate.Key()]
		if object != nil {
			for _, triple := range objects[object.Key()] {
				results = append(results, triple)
			}
			break
		}
		for _, subjects := range objects {
			for _, triple := range subjects {
				results = append(results, triple)
			}
		}

	case object != nil:
		for _, predicates := range ts.osp[object.Key()] {
			for _, triple := range predicates {
				results = append(results, triple)
			}
		}

	default:
		ts.spo.Ascend(func(triple rdf.Triple) bool {
			results = append(results, triple)
			return true
		})
	}

	return results
}

func insert(index termIndex, first, second, third string, triple rdf.Triple) {
	level2, ok := index[first]
	if !ok {
		level2 = make(map[string]map[string]rdf.Triple)
		index[first] = level2
	}
	level3, ok := level2[second]
	if !ok {
		level3 = make(map[string]rdf.Triple)
		level2[second] = level3
	}
	level3[third] = triple
}

func remove(index termIndex, first, second, third string) {
	level2, ok := index[first]
	if !ok {
		return
	}
	if level3, ok := level2[second]; ok {
		delete(level3, third)
		if len(level3) == 0 {
			delete(level2, second)
		}
	}
	if len(level2) == 0 {
		delete(index, first)
	}
}

func decrement(counts map[string]int, key string) {
	counts[key]--
	if counts[key] <= 0 {
		delete(counts, key)
	}
}

func cloneCounts(counts map[string]int) map[string]int {
	clone := make(map[string]int, len(counts))
	for k, v := range counts {
		clone[k] = v
	}
	return clone
}

func cloneIndex(index termIndex) termIndex {
	clone := make(termIndex, len(index))
	for first, level2 := range index {
		level2Clone := make(map[string]map[string]rdf.Triple, len(level2))
		for second, level3 := range level2 {
			level3Clone := make(map[string]rdf.Triple, len(level3))
			for third, triple := range level3 {
				level3Clone[third] = triple
			}
			level2Clone[second] = level3Clone
		}
		clone[first] = level2Clone
	}
	return clone
}
