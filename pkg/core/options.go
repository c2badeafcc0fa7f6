package core

import (
	"log/slog"
	"time"

	"github.com/allma-labs/tiermem-go/pkg/scoring"
	"github.com/allma-labs/tiermem-go/pkg/snapshot"
	"github.com/allma-labs/tiermem-go/pkg/summarizer"
)

// RememberOption is a function type for configuring Remember operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type RememberOption func(*RememberOptions)

// RememberOptions contains configuration options for Remember operations.
type RememberOptions struct {
	// Importance is the caller-supplied base importance in [0,1].
	Importance float64

	// Intensity is the emotional intensity in [0,1].
	Intensity float64

	// Concepts are the tags linking the record into the associative
	// index.
	Concepts []string
}

// WithImportance sets the base importance for Remember operations.
//
// Example:
//
//	id, _ := engine.Remember(ctx, "content", core.WithImportance(0.8))
func WithImportance(importance float64) RememberOption {
	return func(opts *RememberOptions) {
		opts.Importance = importance
	}
}

// WithIntensity sets the emotional intensity for Remember operations.
func WithIntensity(intensity float64) RememberOption {
	return func(opts *RememberOptions) {
		opts.Intensity = intensity
	}
}

// WithConcepts tags the record with concepts for associative recall.
//
// Example:
//
//	id, _ := engine.Remember(ctx, "prefers aisle seats",
//	    core.WithConcepts("travel", "preference"))
func WithConcepts(concepts ...string) RememberOption {
	return func(opts *RememberOptions) {
		opts.Concepts = concepts
	}
}

// RecallOption is a function type for configuring Recall operations.
type RecallOption func(*RecallOptions)

// RecallOptions contains configuration options for Recall operations.
type RecallOptions struct {
	// Limit caps the number of returned records. Zero uses the engine
	// default.
	Limit int

	// RelatedThreshold is the minimum edge weight for expanding the
	// query through the associative index. Zero expands through every
	// edge; negative disables expansion. Nil uses the engine default.
	RelatedThreshold *float64

	// MinIntensity filters out records whose decayed emotional intensity
	// is below this value.
	MinIntensity float64
}

// WithLimit caps the number of records a Recall returns.
//
// Example:
//
//	records, _ := engine.Recall(ctx, []string{"travel"}, core.WithLimit(5))
func WithLimit(limit int) RecallOption {
	return func(opts *RecallOptions) {
		opts.Limit = limit
	}
}

// WithRelatedThreshold sets the minimum association weight for query
// expansion. Zero expands through every edge; a negative value disables
// expansion and matches the query concepts exactly.
func WithRelatedThreshold(threshold float64) RecallOption {
	return func(opts *RecallOptions) {
		opts.RelatedThreshold = &threshold
	}
}

// WithMinIntensity filters recall results by decayed emotional intensity.
func WithMinIntensity(min float64) RecallOption {
	return func(opts *RecallOptions) {
		opts.MinIntensity = min
	}
}

// EngineOption is a function type for configuring engine construction.
type EngineOption func(*engineOptions)

type engineOptions struct {
	logger    *slog.Logger
	strategy  scoring.Strategy
	summarize summarizer.Provider
	snapshots snapshot.Store
	now       func() time.Time
}

// WithLogger sets the structured logger the engine and its consolidation
// sweeps log through.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithScoringStrategy overrides the scoring strategy built from the
// configuration.
func WithScoringStrategy(s scoring.Strategy) EngineOption {
	return func(o *engineOptions) {
		o.strategy = s
	}
}

// WithSummarizer overrides the summarizer built from the configuration.
func WithSummarizer(p summarizer.Provider) EngineOption {
	return func(o *engineOptions) {
		o.summarize = p
	}
}

// WithSnapshotStore overrides the snapshot store built from the
// configuration.
func WithSnapshotStore(s snapshot.Store) EngineOption {
	return func(o *engineOptions) {
		o.snapshots = s
	}
}

// WithClock overrides the engine's time source. Tests use this to drive
// decay and consolidation deterministically.
func WithClock(now func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.now = now
	}
}
