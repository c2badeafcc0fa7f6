package scoring_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allma-labs/tiermem-go/pkg/memory"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
)

func newRecord(created time.Time) *memory.Record {
	return &memory.Record{
		ID:                 1,
		Content:            "test",
		CreatedAt:          created,
		LastAccessedAt:     created,
		BaseImportance:     0.9,
		EmotionalIntensity: 0.9,
		Tier:               memory.TierWorking,
	}
}

func TestScoreFreshRecord(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{})
	now := time.Now()

	score := s.Score(newRecord(now), now)
	assert.Greater(t, score.Importance, 0.5, "fresh high-value record should score high")
	assert.LessOrEqual(t, score.Importance, 1.0)
	assert.InDelta(t, 0.9, score.DecayedIntensity, 1e-9, "no elapsed time, no decay")
}

func TestDecayFloorHolds(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{DecayFloor: 0.05})
	now := time.Now()

	elapsed := []time.Duration{
		time.Hour,
		24 * time.Hour,
		30 * 24 * time.Hour,
		365 * 24 * time.Hour,
		20 * 365 * 24 * time.Hour, // 20 years
	}

	for _, d := range elapsed {
		r := newRecord(now.Add(-d))
		r.EmotionalIntensity = 1.0
		score := s.Score(r, now)
		assert.GreaterOrEqual(t, score.DecayedIntensity, 0.05,
			"intensity must never drop below the floor after %v", d)
		assert.Greater(t, score.Importance, 0.0, "importance never underflows to zero")
	}
}

func TestDecayMonotonicNonIncreasing(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{})
	now := time.Now()

	prev := 2.0
	for hours := 0; hours <= 24*90; hours += 6 {
		r := newRecord(now.Add(-time.Duration(hours) * time.Hour))
		score := s.Score(r, now)
		assert.LessOrEqual(t, score.Importance, prev,
			"score must not increase with elapsed time (at %dh)", hours)
		prev = score.Importance
	}
}

func TestFutureTimestampClamped(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{})
	now := time.Now()

	// created_at in the future is clamped to now, not rejected
	future := newRecord(now.Add(72 * time.Hour))
	fresh := newRecord(now)

	futureScore := s.Score(future, now)
	freshScore := s.Score(fresh, now)
	assert.Equal(t, freshScore, futureScore, "future timestamps behave like zero elapsed time")
}

func TestFrequencyBonusDiminishingReturns(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{})
	now := time.Now()

	var gains []float64
	prev := 0.0
	for count := 0; count <= 8; count++ {
		r := newRecord(now)
		r.AccessCount = count
		score := s.Score(r, now)
		if count > 0 {
			gains = append(gains, score.Importance-prev)
		}
		prev = score.Importance
	}

	require.Len(t, gains, 8)
	for i := 1; i < len(gains); i++ {
		assert.Greater(t, gains[i-1], gains[i],
			"recall %d must contribute less than recall %d", i+1, i)
	}
}

func TestRecencyStrategyDegeneratesToLRU(t *testing.T) {
	s := scoring.NewRecencyStrategy(scoring.Config{})
	now := time.Now()

	older := newRecord(now.Add(-10 * time.Hour))
	newer := newRecord(now.Add(-1 * time.Hour))

	// Frequency and emotion must not matter
	older.AccessCount = 100
	older.EmotionalIntensity = 1.0
	newer.AccessCount = 0
	newer.EmotionalIntensity = 0.0

	// Constant base importance
	older.BaseImportance = 0.5
	newer.BaseImportance = 0.5

	assert.Less(t, s.Score(older, now).Importance, s.Score(newer, now).Importance,
		"with the recency strategy only last access ordering matters")
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{})
	cfg := s.Config()

	assert.Equal(t, 0.05, cfg.DecayFloor)
	assert.Equal(t, 24*time.Hour, cfg.DecayHalfLife)
	assert.Equal(t, 48*time.Hour, cfg.IntensityHalfLife)
	assert.InDelta(t, 1.0, cfg.BaseWeight+cfg.EmotionalWeight+cfg.FrequencyWeight, 1e-9)
}

func TestDecayFactorHalfLife(t *testing.T) {
	s := scoring.NewWeightedStrategy(scoring.Config{DecayHalfLife: 24 * time.Hour})

	assert.InDelta(t, 1.0, s.DecayFactor(0, 24*time.Hour), 1e-9)
	assert.InDelta(t, 0.5, s.DecayFactor(24*time.Hour, 24*time.Hour), 1e-9)
	assert.InDelta(t, 0.25, s.DecayFactor(48*time.Hour, 24*time.Hour), 1e-9)
}
