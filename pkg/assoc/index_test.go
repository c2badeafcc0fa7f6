package assoc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allma-labs/tiermem-go/pkg/assoc"
	"github.com/allma-labs/tiermem-go/pkg/memory"
)

func TestLinkCreatesSymmetricEdge(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "pets", 0.8)

	w, ok := x.Weight("cats", "pets")
	require.True(t, ok)
	assert.Equal(t, 0.8, w)

	w, ok = x.Weight("pets", "cats")
	require.True(t, ok)
	assert.Equal(t, 0.8, w, "edge is undirected")
}

func TestLinkReinforcesNotOverwrites(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "pets", 0.4)
	x.Link("cats", "pets", 0.8)

	w, ok := x.Weight("cats", "pets")
	require.True(t, ok)
	assert.InDelta(t, 0.6, w, 1e-9, "new weight is the average of old and new")

	// Repeated co-occurrence at the same weight converges toward it.
	x.Link("cats", "pets", 0.8)
	w, _ = x.Weight("cats", "pets")
	assert.InDelta(t, 0.7, w, 1e-9)
}

func TestLinkIgnoresSelfAndEmpty(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "cats", 0.9)
	x.Link("", "pets", 0.9)

	_, ok := x.Weight("cats", "cats")
	assert.False(t, ok)
	assert.Empty(t, x.Concepts())
}

func TestLinkClampsWeight(t *testing.T) {
	x := assoc.New()
	x.Link("a", "b", 1.5)
	w, _ := x.Weight("a", "b")
	assert.Equal(t, 1.0, w)

	x.Link("c", "d", -0.5)
	w, _ = x.Weight("c", "d")
	assert.Equal(t, 0.0, w)
}

func TestRelatedThreshold(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "pets", 0.9)
	x.Link("cats", "dogs", 0.5)
	x.Link("cats", "rain", 0.1)

	related := x.Related("cats", 0.5)
	assert.Equal(t, []string{"dogs", "pets"}, related, "alphabetical, weight >= threshold")

	assert.Nil(t, x.Related("unknown", 0.1))
}

func TestStrongestOrderingAndTies(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "pets", 0.9)
	x.Link("cats", "dogs", 0.5)
	x.Link("cats", "birds", 0.5)
	x.Link("cats", "rain", 0.2)

	top := x.Strongest("cats", 3)
	require.Len(t, top, 3)
	assert.Equal(t, "pets", top[0].Concept)
	assert.Equal(t, "birds", top[1].Concept, "equal weights break ties alphabetically")
	assert.Equal(t, "dogs", top[2].Concept)

	assert.Nil(t, x.Strongest("cats", 0))
}

func TestRecordIndexCleanup(t *testing.T) {
	x := assoc.New()
	x.Tag(1, []string{"cats", "pets"})
	x.Tag(2, []string{"cats"})

	assert.Equal(t, []int64{1, 2}, x.RecordsFor("cats"))
	assert.Equal(t, []int64{1}, x.RecordsFor("pets"))

	// Purging record 1 must remove its ID from every concept entry.
	x.RemoveRecord(1)
	assert.Equal(t, []int64{2}, x.RecordsFor("cats"))
	assert.Nil(t, x.RecordsFor("pets"), "no dangling ids, empty entry dropped")
}

func TestDropEdgesBelow(t *testing.T) {
	x := assoc.New()
	x.Link("a", "b", 0.05)
	x.Link("a", "c", 0.9)

	dropped := x.DropEdgesBelow(0.1)
	assert.Equal(t, 1, dropped)

	_, ok := x.Weight("a", "b")
	assert.False(t, ok)
	_, ok = x.Weight("a", "c")
	assert.True(t, ok)
}

func TestDropOrphans(t *testing.T) {
	x := assoc.New()
	x.Tag(1, []string{"lonely"})
	x.RemoveRecord(1)

	// RemoveRecord already reaps concepts with no edges; DropOrphans
	// catches entries that lost their edges afterwards.
	x.Tag(2, []string{"edgy"})
	x.Link("edgy", "other", 0.05)
	x.RemoveRecord(2)
	x.DropEdgesBelow(0.1)

	x.DropOrphans()
	assert.NotContains(t, x.Concepts(), "lonely")
	assert.NotContains(t, x.Concepts(), "edgy")
}

func TestEdgesRoundTrip(t *testing.T) {
	x := assoc.New()
	x.Link("cats", "pets", 0.8)
	x.Link("dogs", "pets", 0.6)

	edges := x.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, memory.ConceptEdge{A: "cats", B: "pets", Weight: 0.8}, edges[0])
	assert.Equal(t, memory.ConceptEdge{A: "dogs", B: "pets", Weight: 0.6}, edges[1])

	restored := assoc.New()
	restored.LoadEdges(edges)
	assert.Equal(t, edges, restored.Edges())
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 0}, []float64{1, 0}, 1.0},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0.0},
		{"zero vector", []float64{0, 0}, []float64{1, 1}, 0.0},
		{"both zero", []float64{0, 0}, []float64{0, 0}, 0.0},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := assoc.CosineSimilarity(tt.a, tt.b)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.False(t, got != got, "similarity must never be NaN")
		})
	}
}
