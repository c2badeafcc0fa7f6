// Package scoring computes retention scores for memory records.
//
// A retention score combines three signals:
//   - the caller-supplied base importance, decayed by recency
//   - the emotional intensity, decayed on its own (slower) curve down to a
//     configured floor ("it never fully forgets, but fades")
//   - a logarithmic bonus from past recalls, with diminishing returns
//
// The combination weights are policy, not mechanism: different weighting
// schemes (emotional-weighted, frequency-weighted, plain recency) plug in
// through the Strategy interface without changes to the tier store or the
// consolidation engine.
package scoring

import (
	"math"
	"time"

	"github.com/allma-labs/tiermem-go/pkg/memory"
)

// Strategy scores a record at a point in time.
//
// Implementations must be pure with respect to the record: no side effects,
// no mutation, and no error for well-formed records. Malformed timestamps
// (created or accessed in the future) are clamped to now, not rejected.
type Strategy interface {
	// Score returns the record's current retention score.
	Score(r *memory.Record, now time.Time) memory.RetentionScore
}

// Config contains the tunables for the weighted strategy.
type Config struct {
	// DecayFloor is the value below which a decay factor never drops,
	// regardless of elapsed time. Must be in (0,1). Default: 0.05.
	DecayFloor float64 `json:"decay_floor"`

	// DecayHalfLife is the half-life of the recency decay applied to
	// base importance. Default: 24h.
	DecayHalfLife time.Duration `json:"decay_half_life"`

	// IntensityHalfLife is the half-life of the emotional intensity
	// decay. Emotion fades slower than general recency. Default: 48h.
	IntensityHalfLife time.Duration `json:"intensity_half_life"`

	// BaseWeight, EmotionalWeight and FrequencyWeight are the mixing
	// weights of the three score components. Defaults: 0.4, 0.3, 0.3.
	BaseWeight      float64 `json:"base_weight"`
	EmotionalWeight float64 `json:"emotional_weight"`
	FrequencyWeight float64 `json:"frequency_weight"`
}

// DefaultConfig returns the default scoring configuration.
func DefaultConfig() Config {
	return Config{
		DecayFloor:        0.05,
		DecayHalfLife:     24 * time.Hour,
		IntensityHalfLife: 48 * time.Hour,
		BaseWeight:        0.4,
		EmotionalWeight:   0.3,
		FrequencyWeight:   0.3,
	}
}

// WeightedStrategy is the standard Strategy implementation: floored
// exponential decay plus a saturating access-frequency bonus.
type WeightedStrategy struct {
	cfg Config
}

// NewWeightedStrategy creates a WeightedStrategy. Zero-valued fields of cfg
// fall back to their defaults, so Config{} is a valid argument.
func NewWeightedStrategy(cfg Config) *WeightedStrategy {
	def := DefaultConfig()
	if cfg.DecayFloor <= 0 || cfg.DecayFloor >= 1 {
		cfg.DecayFloor = def.DecayFloor
	}
	if cfg.DecayHalfLife <= 0 {
		cfg.DecayHalfLife = def.DecayHalfLife
	}
	if cfg.IntensityHalfLife <= 0 {
		cfg.IntensityHalfLife = def.IntensityHalfLife
	}
	if cfg.BaseWeight == 0 && cfg.EmotionalWeight == 0 && cfg.FrequencyWeight == 0 {
		cfg.BaseWeight = def.BaseWeight
		cfg.EmotionalWeight = def.EmotionalWeight
		cfg.FrequencyWeight = def.FrequencyWeight
	}
	return &WeightedStrategy{cfg: cfg}
}

// NewRecencyStrategy returns a strategy whose ordering degenerates to
// least-recently-used: the frequency and emotional terms are zeroed, so with
// constant base importance only elapsed time since last access distinguishes
// records. This preserves strict insertion-order eviction for callers that
// relied on it.
func NewRecencyStrategy(cfg Config) *WeightedStrategy {
	cfg.BaseWeight = 1.0
	cfg.EmotionalWeight = 0
	cfg.FrequencyWeight = 0
	return NewWeightedStrategy(cfg)
}

// Config returns the effective configuration after defaulting.
func (s *WeightedStrategy) Config() Config {
	return s.cfg
}

// Score computes the record's retention score at now.
//
// Elapsed time is measured from LastAccessedAt (CreatedAt if the record was
// never accessed). Timestamps in the future are clamped to now, so elapsed
// time is never negative.
func (s *WeightedStrategy) Score(r *memory.Record, now time.Time) memory.RetentionScore {
	elapsed := s.elapsed(r, now)

	recency := s.DecayFactor(elapsed, s.cfg.DecayHalfLife)
	intensity := r.EmotionalIntensity * s.DecayFactor(elapsed, s.cfg.IntensityHalfLife)
	if intensity < s.cfg.DecayFloor {
		intensity = s.cfg.DecayFloor
	}

	importance := s.cfg.BaseWeight*r.BaseImportance*recency +
		s.cfg.EmotionalWeight*intensity +
		s.cfg.FrequencyWeight*frequencyBonus(r.AccessCount)

	return memory.RetentionScore{
		Importance:       clamp01(importance),
		DecayedIntensity: intensity,
	}
}

// DecayFactor returns the bounded decay multiplier for an elapsed duration:
// 2^(-elapsed/halfLife), clamped to [DecayFloor, 1]. The floor holds for
// arbitrarily large elapsed times; the factor never underflows to zero.
func (s *WeightedStrategy) DecayFactor(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1.0
	}
	f := math.Exp2(-elapsed.Hours() / halfLife.Hours())
	if f < s.cfg.DecayFloor {
		return s.cfg.DecayFloor
	}
	return f
}

// elapsed returns the time since the record was last accessed, clamping
// future timestamps to now.
func (s *WeightedStrategy) elapsed(r *memory.Record, now time.Time) time.Duration {
	ref := r.LastAccessedAt
	if ref.IsZero() {
		ref = r.CreatedAt
	}
	if ref.After(now) {
		return 0
	}
	return now.Sub(ref)
}

// frequencyBonus maps an access count to [0,1) with diminishing returns:
// each additional recall contributes less than the previous one. Zero
// accesses contribute nothing.
func frequencyBonus(accessCount int) float64 {
	if accessCount <= 0 {
		return 0
	}
	l := math.Log1p(float64(accessCount))
	return l / (l + 1)
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
