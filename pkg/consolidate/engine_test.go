package consolidate_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allma-labs/tiermem-go/pkg/assoc"
	"github.com/allma-labs/tiermem-go/pkg/consolidate"
	"github.com/allma-labs/tiermem-go/pkg/memory"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
	"github.com/allma-labs/tiermem-go/pkg/summarizer"
	"github.com/allma-labs/tiermem-go/pkg/tier"
)

// stubSummarizer summarizes by prefixing, and fails on demand per content.
type stubSummarizer struct {
	failOn string
	calls  int
}

func (s *stubSummarizer) Summarize(_ context.Context, content string) (string, error) {
	s.calls++
	if s.failOn != "" && strings.Contains(content, s.failOn) {
		return "", errors.New("summarizer unavailable")
	}
	return "summary: " + content, nil
}

func (s *stubSummarizer) Close() error { return nil }

type fixture struct {
	store  *tier.Store
	index  *assoc.Index
	engine *consolidate.Engine
	now    time.Time
}

func newFixture(t *testing.T, cfg consolidate.Config, sum summarizer.Provider) *fixture {
	t.Helper()

	strategy := scoring.NewWeightedStrategy(scoring.DefaultConfig())
	store := tier.NewStore(tier.DefaultCapacities(), strategy)
	index := assoc.New()
	engine := consolidate.NewEngine(store, index, strategy, sum, cfg, nil)

	return &fixture{
		store:  store,
		index:  index,
		engine: engine,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// admit inserts a record directly into the given tier.
func (f *fixture) admit(t *testing.T, id int64, tr memory.Tier, base, intensity float64, accessCount int, age time.Duration) *memory.Record {
	t.Helper()
	created := f.now.Add(-age)
	r := &memory.Record{
		ID:                 id,
		Content:            "content " + strings.Repeat("x", int(id%7)),
		CreatedAt:          created,
		LastAccessedAt:     created,
		AccessCount:        accessCount,
		BaseImportance:     base,
		EmotionalIntensity: intensity,
		Tier:               tr,
	}
	ev, err := f.store.Admit(r, f.now)
	require.NoError(t, err)
	require.Nil(t, ev)
	return r
}

func TestSweepDemotesFadedRecords(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)

	// Untouched for a month: recency decays to the floor, score well
	// below the demotion threshold.
	faded := f.admit(t, 1, memory.TierWorking, 0.9, 0, 0, 30*24*time.Hour)
	// Fresh and important enough to stay put.
	fresh := f.admit(t, 2, memory.TierWorking, 0.8, 0, 0, 0)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	owner, ok := f.store.Owner(faded.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierShortTerm, owner)

	owner, ok = f.store.Owner(fresh.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierWorking, owner)

	assert.Equal(t, 1, f.engine.Stats().Demoted)
}

func TestSweepMovesAtMostOneTier(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)

	// Score near zero; repeated sweeps would eventually archive it, but a
	// single sweep moves it exactly one tier.
	faded := f.admit(t, 1, memory.TierWorking, 0.1, 0, 0, 60*24*time.Hour)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	owner, ok := f.store.Owner(faded.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierShortTerm, owner)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now.Add(time.Second)))

	owner, ok = f.store.Owner(faded.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierLongTerm, owner)
}

func TestSweepPromotesReinforcedRecords(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)

	// Recently accessed, maximal importance and intensity, many recalls.
	hot := f.admit(t, 1, memory.TierShortTerm, 1.0, 1.0, 10, 0)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	owner, ok := f.store.Owner(hot.ID)
	require.True(t, ok)
	assert.Equal(t, memory.TierWorking, owner)
	assert.Equal(t, 1, f.engine.Stats().Promoted)
}

func TestSweepIdempotentForSameNow(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)
	f.admit(t, 1, memory.TierWorking, 0.9, 0, 0, 30*24*time.Hour)

	ctx := context.Background()
	require.NoError(t, f.engine.Sweep(ctx, f.now))
	require.NoError(t, f.engine.Sweep(ctx, f.now))
	require.NoError(t, f.engine.Sweep(ctx, f.now))

	assert.Equal(t, 1, f.engine.Stats().Sweeps)
	assert.Equal(t, 1, f.engine.Stats().Demoted)
}

func TestSweepCompressesLongTermContent(t *testing.T) {
	sum := &stubSummarizer{}
	f := newFixture(t, consolidate.DefaultConfig(), sum)

	f.admit(t, 1, memory.TierLongTerm, 0.8, 0, 0, 0)
	f.admit(t, 2, memory.TierArchive, 0.8, 0, 0, 0)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	for _, id := range []int64{1, 2} {
		r, ok := f.store.Get(id)
		require.True(t, ok)
		assert.True(t, r.Compressed, "record %d", id)
		assert.True(t, strings.HasPrefix(r.Content, "summary: "), "record %d", id)
	}
	assert.Equal(t, 2, f.engine.Stats().Compressed)

	// A second sweep finds nothing left to compress.
	require.NoError(t, f.engine.Sweep(context.Background(), f.now.Add(time.Second)))
	assert.Equal(t, 2, sum.calls)
}

func TestSummarizerFailureSkipsRecordOnly(t *testing.T) {
	sum := &stubSummarizer{failOn: "poison"}
	f := newFixture(t, consolidate.DefaultConfig(), sum)

	good := f.admit(t, 1, memory.TierLongTerm, 0.8, 0, 0, 0)
	bad := &memory.Record{
		ID:             2,
		Content:        "poison payload",
		CreatedAt:      f.now,
		LastAccessedAt: f.now,
		BaseImportance: 0.8,
		Tier:           memory.TierLongTerm,
	}
	ev, err := f.store.Admit(bad, f.now)
	require.NoError(t, err)
	require.Nil(t, ev)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	r, ok := f.store.Get(good.ID)
	require.True(t, ok)
	assert.True(t, r.Compressed)

	r, ok = f.store.Get(bad.ID)
	require.True(t, ok)
	assert.False(t, r.Compressed, "failed record must stay uncompressed")
	assert.Equal(t, "poison payload", r.Content)
	assert.Equal(t, 1, f.engine.Stats().Compressed)
}

func TestSweepPurgesDecayedArchiveRecords(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)

	old := f.admit(t, 1, memory.TierArchive, 0.1, 0, 0, 30*24*time.Hour)
	young := f.admit(t, 2, memory.TierArchive, 0.1, 0, 0, 24*time.Hour)
	f.index.Tag(old.ID, []string{"stale"})
	f.index.Tag(young.ID, []string{"stale"})

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	_, ok := f.store.Get(old.ID)
	assert.False(t, ok, "decayed old record must be purged")
	assert.Equal(t, 1, f.engine.Stats().Purged)

	// Young record is protected by the minimum retention age even at the
	// purge floor.
	_, ok = f.store.Get(young.ID)
	assert.True(t, ok)

	// No dangling ID may survive a purge.
	assert.Equal(t, []int64{young.ID}, f.index.RecordsFor("stale"))
}

func TestSweepReapsWeakEdges(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)

	f.index.Link("a", "b", 0.01)
	f.index.Link("c", "d", 0.9)

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))

	_, linked := f.index.Weight("a", "b")
	assert.False(t, linked)
	w, linked := f.index.Weight("c", "d")
	require.True(t, linked)
	assert.Equal(t, 0.9, w)
}

func TestWriteTriggerFiresSweep(t *testing.T) {
	cfg := consolidate.DefaultConfig()
	cfg.WriteTrigger = 3
	f := newFixture(t, cfg, nil)

	ctx := context.Background()
	require.NoError(t, f.engine.NotifyWrite(ctx, f.now.Add(1*time.Second)))
	require.NoError(t, f.engine.NotifyWrite(ctx, f.now.Add(2*time.Second)))
	assert.Equal(t, 0, f.engine.Stats().Sweeps)

	require.NoError(t, f.engine.NotifyWrite(ctx, f.now.Add(3*time.Second)))
	assert.Equal(t, 1, f.engine.Stats().Sweeps)
}

// gateSummarizer blocks inside Summarize until released, standing in for a
// slow remote provider.
type gateSummarizer struct {
	entered chan struct{}
	release chan struct{}
}

func (g *gateSummarizer) Summarize(_ context.Context, content string) (string, error) {
	close(g.entered)
	<-g.release
	return "summary: " + content, nil
}

func (g *gateSummarizer) Close() error { return nil }

func TestWriteTriggerDoesNotBlockOnCompression(t *testing.T) {
	gate := &gateSummarizer{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := consolidate.DefaultConfig()
	cfg.WriteTrigger = 1
	f := newFixture(t, cfg, gate)

	// Scores between the thresholds, so the record sits still in
	// long-term and only the compression pass touches it.
	f.admit(t, 1, memory.TierLongTerm, 1.0, 0, 0, 0)

	swept := make(chan error, 1)
	go func() { swept <- f.engine.Sweep(context.Background(), f.now) }()
	<-gate.entered

	// The trigger is due, but the in-flight sweep covers it; the writer
	// must return while the summarizer is still hanging.
	notified := make(chan error, 1)
	go func() { notified <- f.engine.NotifyWrite(context.Background(), f.now.Add(time.Second)) }()
	select {
	case err := <-notified:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked behind an in-flight compression")
	}

	close(gate.release)
	require.NoError(t, <-swept)

	r, ok := f.store.Get(1)
	require.True(t, ok)
	assert.True(t, r.Compressed)
	assert.Equal(t, 1, f.engine.Stats().Compressed)
}

func TestDueFollowsSweepInterval(t *testing.T) {
	cfg := consolidate.DefaultConfig()
	cfg.SweepInterval = time.Minute
	f := newFixture(t, cfg, nil)

	// Nothing has swept yet, so the timer is overdue.
	assert.True(t, f.engine.Due(f.now))

	require.NoError(t, f.engine.Sweep(context.Background(), f.now))
	assert.False(t, f.engine.Due(f.now.Add(30*time.Second)))
	assert.True(t, f.engine.Due(f.now.Add(time.Minute)))
}

func TestSweepStopsAtPassBoundaryWhenCancelled(t *testing.T) {
	f := newFixture(t, consolidate.DefaultConfig(), nil)
	f.admit(t, 1, memory.TierWorking, 0.9, 0, 0, 30*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.engine.Sweep(ctx, f.now)
	require.ErrorIs(t, err, context.Canceled)

	// The demote pass never ran.
	owner, ok := f.store.Owner(1)
	require.True(t, ok)
	assert.Equal(t, memory.TierWorking, owner)
}

func TestRouteEventCascadesDownward(t *testing.T) {
	cfg := consolidate.DefaultConfig()
	f := newFixture(t, cfg, nil)

	ev := &tier.CapacityEvent{
		Evicted:     &memory.Record{ID: 9, Content: "spill", CreatedAt: f.now, LastAccessedAt: f.now, Tier: memory.TierWorking},
		From:        memory.TierWorking,
		Destination: memory.TierShortTerm,
	}
	f.engine.RouteEvent(ev, f.now)

	owner, ok := f.store.Owner(9)
	require.True(t, ok)
	assert.Equal(t, memory.TierShortTerm, owner)
	assert.Equal(t, 1, f.engine.Stats().Evicted)
}
