// Package assoc implements the associative concept index: a weighted,
// undirected graph over concept strings, plus a secondary mapping from
// concepts to the record IDs currently tagged with them.
//
// The index is independent of tier placement: edges reference concept
// strings and record IDs, never tier-local positions, so records move
// between tiers without touching the graph.
package assoc

import (
	"math"
	"sort"
	"sync"

	"github.com/allma-labs/tiermem-go/pkg/memory"
)

// ConceptWeight pairs a concept with its edge weight relative to some
// origin concept.
type ConceptWeight struct {
	Concept string
	Weight  float64
}

// Index is the associative concept graph. All methods are safe for
// concurrent use.
type Index struct {
	mu sync.RWMutex

	// edges is the symmetric adjacency map: edges[a][b] == edges[b][a].
	edges map[string]map[string]float64

	// records maps each concept to the set of record IDs tagged with it.
	records map[string]map[int64]struct{}
}

// New creates an empty index.
func New() *Index {
	return &Index{
		edges:   make(map[string]map[string]float64),
		records: make(map[string]map[int64]struct{}),
	}
}

// Link inserts or strengthens the undirected edge between two concepts.
//
// A new edge takes the given weight. An existing edge moves to the average
// of its old weight and the new one, so repeated co-occurrence reinforces
// the association rather than overwriting it. Weights are clamped to [0,1];
// self-links are ignored.
func (x *Index) Link(a, b string, weight float64) {
	if a == "" || b == "" || a == b {
		return
	}
	weight = clamp01(weight)

	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.edgeLocked(a, b); ok {
		weight = (old + weight) / 2
	}
	x.setEdgeLocked(a, b, weight)
}

func (x *Index) edgeLocked(a, b string) (float64, bool) {
	if adj, ok := x.edges[a]; ok {
		w, ok := adj[b]
		return w, ok
	}
	return 0, false
}

func (x *Index) setEdgeLocked(a, b string, weight float64) {
	if x.edges[a] == nil {
		x.edges[a] = make(map[string]float64)
	}
	if x.edges[b] == nil {
		x.edges[b] = make(map[string]float64)
	}
	x.edges[a][b] = weight
	x.edges[b][a] = weight
}

// Weight returns the edge weight between two concepts, if linked.
func (x *Index) Weight(a, b string) (float64, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.edgeLocked(a, b)
}

// Related returns the concepts linked to c with weight >= threshold,
// sorted alphabetically for determinism.
func (x *Index) Related(c string, threshold float64) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	adj := x.edges[c]
	if len(adj) == 0 {
		return nil
	}
	out := make([]string, 0, len(adj))
	for other, w := range adj {
		if w >= threshold {
			out = append(out, other)
		}
	}
	sort.Strings(out)
	return out
}

// Strongest returns the k concepts most strongly linked to c, weight
// descending, ties broken alphabetically.
func (x *Index) Strongest(c string, k int) []ConceptWeight {
	if k <= 0 {
		return nil
	}

	x.mu.RLock()
	adj := x.edges[c]
	out := make([]ConceptWeight, 0, len(adj))
	for other, w := range adj {
		out = append(out, ConceptWeight{Concept: other, Weight: w})
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Concept < out[j].Concept
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Tag registers a record ID under each of the given concepts.
func (x *Index) Tag(id int64, concepts []string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, c := range concepts {
		if c == "" {
			continue
		}
		if x.records[c] == nil {
			x.records[c] = make(map[int64]struct{})
		}
		x.records[c][id] = struct{}{}
	}
}

// RemoveRecord removes the ID from every concept's record set. This is the
// correctness-critical cleanup step when a record is purged or forgotten:
// no dangling IDs may remain. Concept entries left empty are deleted unless
// the concept still carries edges.
func (x *Index) RemoveRecord(id int64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	for c, ids := range x.records {
		delete(ids, id)
		if len(ids) == 0 && len(x.edges[c]) == 0 {
			delete(x.records, c)
		}
	}
}

// RecordsFor returns the IDs tagged with concept c, sorted ascending.
func (x *Index) RecordsFor(c string) []int64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	ids := x.records[c]
	if len(ids) == 0 {
		return nil
	}
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Concepts returns every known concept (with edges or records), sorted.
func (x *Index) Concepts() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[string]struct{}, len(x.edges)+len(x.records))
	for c := range x.edges {
		seen[c] = struct{}{}
	}
	for c := range x.records {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// DropEdgesBelow removes every edge whose weight has been diluted below
// floor and returns the number of edges dropped. Used by the consolidation
// purge pass to reap associations that repeated averaging has weakened.
func (x *Index) DropEdgesBelow(floor float64) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	dropped := 0
	for a, adj := range x.edges {
		for b, w := range adj {
			if w < floor {
				delete(adj, b)
				if a < b { // count each undirected edge once
					dropped++
				}
			}
		}
		if len(adj) == 0 {
			delete(x.edges, a)
		}
	}
	return dropped
}

// DropOrphans removes concepts that have neither edges nor records left and
// returns how many were removed.
func (x *Index) DropOrphans() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	dropped := 0
	for c, ids := range x.records {
		if len(ids) == 0 && len(x.edges[c]) == 0 {
			delete(x.records, c)
			dropped++
		}
	}
	return dropped
}

// Edges exports the edge list in canonical form (A < B), sorted, for
// snapshots.
func (x *Index) Edges() []memory.ConceptEdge {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []memory.ConceptEdge
	for a, adj := range x.edges {
		for b, w := range adj {
			if a < b {
				out = append(out, memory.ConceptEdge{A: a, B: b, Weight: w})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// LoadEdges replaces the edge set from a snapshot edge list. Record
// tagging is restored separately via Tag.
func (x *Index) LoadEdges(edges []memory.ConceptEdge) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.edges = make(map[string]map[string]float64, len(edges))
	for _, e := range edges {
		if e.A == "" || e.B == "" || e.A == e.B {
			continue
		}
		x.setEdgeLocked(e.A, e.B, clamp01(e.Weight))
	}
}

// CosineSimilarity returns the cosine similarity of two concept vectors.
// Vectors of different lengths or zero magnitude have similarity 0, never
// NaN.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
