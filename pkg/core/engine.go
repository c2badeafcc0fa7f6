package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/allma-labs/tiermem-go/pkg/assoc"
	"github.com/allma-labs/tiermem-go/pkg/consolidate"
	"github.com/allma-labs/tiermem-go/pkg/memory"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
	"github.com/allma-labs/tiermem-go/pkg/snapshot"
	mysqlStore "github.com/allma-labs/tiermem-go/pkg/snapshot/mysql"
	postgresStore "github.com/allma-labs/tiermem-go/pkg/snapshot/postgres"
	sqliteStore "github.com/allma-labs/tiermem-go/pkg/snapshot/sqlite"
	"github.com/allma-labs/tiermem-go/pkg/summarizer"
	"github.com/allma-labs/tiermem-go/pkg/summarizer/openai"
	"github.com/allma-labs/tiermem-go/pkg/tier"
)

// Engine is the tiered memory engine.
//
// It exposes four operations: Remember stores content as a new record in the
// working tier, Recall retrieves records by concept (expanded through the
// associative index), Forget removes a record, and Tick drives the
// consolidation sweep. All methods are safe for concurrent use.
//
// Example:
//
//	engine, err := core.NewEngine(core.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	id, _ := engine.Remember(ctx, "prefers window seats",
//	    core.WithImportance(0.7),
//	    core.WithConcepts("travel", "preference"),
//	)
//	records, _ := engine.Recall(ctx, []string{"travel"})
type Engine struct {
	config       *Config
	strategy     scoring.Strategy
	store        *tier.Store
	index        *assoc.Index
	consolidator *consolidate.Engine
	summarize    summarizer.Provider
	snapshots    snapshot.Store

	// node generates unique record IDs.
	node *snowflake.Node

	logger *slog.Logger
	now    func() time.Time

	// mu orders facade operations against Save, Load and Close: normal
	// operations hold it shared, snapshot restore and close hold it
	// exclusively.
	mu     sync.RWMutex
	closed bool
}

// NewEngine creates a tiered memory engine from the given configuration.
// Options override individual collaborators (logger, scoring strategy,
// summarizer, snapshot store, clock). A nil config uses DefaultConfig.
func NewEngine(cfg *Config, opts ...EngineOption) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfgCopy := *cfg
	cfg = &cfgCopy
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = DefaultConfig().RecallLimit
	}

	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	strategy := o.strategy
	if strategy == nil {
		strategy = scoring.NewWeightedStrategy(cfg.Scoring)
	}

	summarize := o.summarize
	if summarize == nil {
		var err error
		summarize, err = initSummarizer(cfg.Summarizer)
		if err != nil {
			return nil, err
		}
	}

	snapshots := o.snapshots
	if snapshots == nil {
		var err error
		snapshots, err = initSnapshotStore(cfg.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return nil, NewEngineError("NewEngine", err)
	}

	nowFn := o.now
	if nowFn == nil {
		nowFn = time.Now
	}

	store := tier.NewStore(cfg.Capacities, strategy)
	index := assoc.New()

	return &Engine{
		config:       cfg,
		strategy:     strategy,
		store:        store,
		index:        index,
		consolidator: consolidate.NewEngine(store, index, strategy, summarize, cfg.Consolidation, logger),
		summarize:    summarize,
		snapshots:    snapshots,
		node:         node,
		logger:       logger,
		now:          nowFn,
	}, nil
}

// initSummarizer initializes the summarizer provider. Remote providers are
// wrapped in a circuit breaker so a failing API degrades compression
// instead of stalling sweeps.
func initSummarizer(cfg SummarizerConfig) (summarizer.Provider, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "local":
		return summarizer.NewLocal(cfg.MaxLen), nil
	case "openai":
		client, err := openai.NewClient(&openai.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, NewEngineError("initSummarizer", err)
		}
		return summarizer.WithBreaker(client, summarizer.BreakerConfig{
			MaxFailures:   uint32(cfg.MaxFailures),
			Timeout:       cfg.BreakerTimeout,
			RatePerSecond: cfg.RatePerSecond,
		}), nil
	default:
		return nil, NewEngineError("initSummarizer", ErrInvalidConfig)
	}
}

// initSnapshotStore initializes the snapshot store backend.
func initSnapshotStore(cfg SnapshotConfig) (snapshot.Store, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: cfg.SQLite.DBPath,
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			DBName:   cfg.Postgres.DBName,
			SSLMode:  cfg.Postgres.SSLMode,
		})
	case "mysql":
		return mysqlStore.NewClient(&mysqlStore.Config{
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			DBName:   cfg.MySQL.DBName,
		})
	default:
		return nil, NewEngineError("initSnapshotStore", ErrInvalidConfig)
	}
}

// Remember stores content as a new record in the working tier and returns
// its ID.
//
// Importance and intensity must be in [0,1]; values outside that range are
// rejected with ErrInvalidArgument, never silently clamped. Concepts link
// the record into the associative index, and concepts remembered together
// are linked to each other. If admitting the record overflows the working
// tier, the lowest-scoring resident is demoted before the new record
// enters.
func (e *Engine) Remember(ctx context.Context, content string, opts ...RememberOption) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return 0, NewEngineError("Remember", ErrEngineClosed)
	}

	options := &RememberOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if content == "" {
		return 0, NewEngineError("Remember", fmt.Errorf("%w: content must not be empty", ErrInvalidArgument))
	}
	if options.Importance < 0 || options.Importance > 1 {
		return 0, NewEngineError("Remember", fmt.Errorf("%w: importance %v outside [0,1]", ErrInvalidArgument, options.Importance))
	}
	if options.Intensity < 0 || options.Intensity > 1 {
		return 0, NewEngineError("Remember", fmt.Errorf("%w: intensity %v outside [0,1]", ErrInvalidArgument, options.Intensity))
	}

	concepts := cleanConcepts(options.Concepts)
	now := e.now()

	r := &memory.Record{
		ID:                 e.node.Generate().Int64(),
		Content:            content,
		Concepts:           concepts,
		CreatedAt:          now,
		LastAccessedAt:     now,
		BaseImportance:     options.Importance,
		EmotionalIntensity: options.Intensity,
		Tier:               memory.TierWorking,
	}

	ev, err := e.store.Admit(r, now)
	if err != nil {
		return 0, NewEngineError("Remember", err)
	}
	if ev != nil {
		e.consolidator.RouteEvent(ev, now)
	}

	e.index.Tag(r.ID, concepts)
	for i := 0; i < len(concepts); i++ {
		for j := i + 1; j < len(concepts); j++ {
			e.index.Link(concepts[i], concepts[j], 0.5)
		}
	}

	if err := e.consolidator.NotifyWrite(ctx, now); err != nil {
		// The record is stored; an interrupted sweep is not a failed
		// write.
		e.logger.Warn("write-triggered sweep interrupted", "error", err)
	}

	e.logger.Debug("remembered", "id", r.ID, "concepts", concepts)
	return r.ID, nil
}

// Recall retrieves records associated with the given concepts, strongest
// first.
//
// The query expands through the associative index: concepts linked to a
// queried concept with weight at or above the threshold also match, at
// their edge weight; queried concepts match at full weight. Results are
// ranked by a blend of association weight and current retention score, ties
// broken by ID. An empty result is a normal outcome, not an error.
//
// Recalled records are touched: their access count and last-access time
// update, which feeds back into future scoring. Returned records are
// copies; mutating them does not affect the engine.
func (e *Engine) Recall(ctx context.Context, concepts []string, opts ...RecallOption) ([]*memory.Record, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, NewEngineError("Recall", ErrEngineClosed)
	}

	options := &RecallOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.MinIntensity < 0 || options.MinIntensity > 1 {
		return nil, NewEngineError("Recall", fmt.Errorf("%w: min intensity %v outside [0,1]", ErrInvalidArgument, options.MinIntensity))
	}

	limit := options.Limit
	if limit <= 0 {
		limit = e.config.RecallLimit
	}
	threshold := e.config.RelatedThreshold
	if options.RelatedThreshold != nil {
		threshold = *options.RelatedThreshold
	}

	query := cleanConcepts(concepts)
	if len(query) == 0 {
		return []*memory.Record{}, nil
	}

	// Queried concepts match at full weight; associated concepts at
	// their edge weight. A negative threshold disables expansion.
	weights := make(map[string]float64, len(query))
	for _, c := range query {
		weights[c] = 1.0
	}
	if threshold >= 0 {
		for _, c := range query {
			for _, related := range e.index.Related(c, threshold) {
				w, _ := e.index.Weight(c, related)
				if w > weights[related] {
					weights[related] = w
				}
			}
		}
	}

	now := e.now()
	type match struct {
		id        int64
		relevance float64
	}
	var matches []match
	seen := make(map[int64]struct{})

	for concept := range weights {
		for _, id := range e.index.RecordsFor(concept) {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}

			r, ok := e.store.Get(id)
			if !ok {
				// A dangling index entry means record removal
				// skipped its cleanup. Heal it and move on.
				e.logger.Warn("dangling index entry, healing", "id", id, "concept", concept)
				e.index.RemoveRecord(id)
				continue
			}

			best := e.bestWeight(r, weights)
			score := e.strategy.Score(r, now)
			if options.MinIntensity > 0 && score.DecayedIntensity < options.MinIntensity {
				continue
			}
			matches = append(matches, match{
				id:        id,
				relevance: 0.5*best + 0.5*score.Importance,
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].relevance != matches[j].relevance {
			return matches[i].relevance > matches[j].relevance
		}
		return matches[i].id < matches[j].id
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]*memory.Record, 0, len(matches))
	for _, m := range matches {
		e.store.Touch(m.id, now)
		if r, ok := e.store.Get(m.id); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// bestWeight returns the strongest query weight among the record's
// concepts.
func (e *Engine) bestWeight(r *memory.Record, weights map[string]float64) float64 {
	best := 0.0
	for _, c := range r.Concepts {
		if w, ok := weights[c]; ok && w > best {
			best = w
		}
	}
	return best
}

// Forget removes the record with the given ID from whichever tier owns it
// and scrubs it from the associative index. It reports whether a record was
// removed; forgetting an unknown ID is a no-op, not an error.
func (e *Engine) Forget(id int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}

	if _, ok := e.store.Remove(id); !ok {
		return false
	}
	e.index.RemoveRecord(id)
	e.logger.Debug("forgot", "id", id)
	return true
}

// Tick runs one consolidation sweep at the given time. Repeated ticks with
// the same now are idempotent. It is the same sweep the background runner
// and the write trigger execute.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return NewEngineError("Tick", ErrEngineClosed)
	}
	return NewEngineError("Tick", e.consolidator.Sweep(ctx, now))
}

// Run sweeps on the configured interval until the context is cancelled. It
// blocks; run it in a goroutine.
func (e *Engine) Run(ctx context.Context) {
	e.consolidator.Run(ctx)
}

// Save persists the full engine state (every record plus the associative
// edge list) through the configured snapshot store, replacing any previous
// snapshot.
func (e *Engine) Save(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewEngineError("Save", ErrEngineClosed)
	}
	if e.snapshots == nil {
		return NewEngineError("Save", ErrNoSnapshotStore)
	}

	records := e.store.All()
	snap := &memory.Snapshot{
		Records: records,
		Edges:   e.index.Edges(),
		SavedAt: e.now(),
	}
	if err := e.snapshots.Save(ctx, snap); err != nil {
		return NewEngineError("Save", fmt.Errorf("%w: %v", ErrCollaboratorFailure, err))
	}
	e.logger.Info("snapshot saved", "records", len(records), "edges", len(snap.Edges))
	return nil
}

// Load replaces the engine state with the last saved snapshot. Existing
// records are discarded. Loading with no snapshot present returns
// ErrNotFound; a snapshot violating tier exclusivity (duplicate IDs) is
// rejected with ErrInternalInconsistency and the engine keeps its previous
// state.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return NewEngineError("Load", ErrEngineClosed)
	}
	if e.snapshots == nil {
		return NewEngineError("Load", ErrNoSnapshotStore)
	}

	snap, ok, err := e.snapshots.Load(ctx)
	if err != nil {
		return NewEngineError("Load", fmt.Errorf("%w: %v", ErrCollaboratorFailure, err))
	}
	if !ok {
		return NewEngineError("Load", ErrNotFound)
	}

	ids := make(map[int64]struct{}, len(snap.Records))
	for _, r := range snap.Records {
		if !r.Tier.Valid() {
			return NewEngineError("Load", fmt.Errorf("%w: record %d has invalid tier %d", ErrInternalInconsistency, r.ID, r.Tier))
		}
		if _, dup := ids[r.ID]; dup {
			return NewEngineError("Load", fmt.Errorf("%w: duplicate record id %d", ErrInternalInconsistency, r.ID))
		}
		ids[r.ID] = struct{}{}
	}

	now := e.now()
	for _, r := range e.store.All() {
		e.store.Remove(r.ID)
	}
	for _, r := range snap.Records {
		ev, err := e.store.Admit(r.Clone(), now)
		if err != nil {
			return NewEngineError("Load", fmt.Errorf("%w: %v", ErrInternalInconsistency, err))
		}
		if ev != nil {
			e.consolidator.RouteEvent(ev, now)
		}
	}

	e.index.LoadEdges(snap.Edges)
	for _, r := range snap.Records {
		e.index.Tag(r.ID, r.Concepts)
	}

	e.logger.Info("snapshot loaded", "records", len(snap.Records), "edges", len(snap.Edges), "saved_at", snap.SavedAt)
	return nil
}

// EngineStats is a point-in-time view of the engine's contents and its
// consolidation counters.
type EngineStats struct {
	// Total is the number of records across all tiers.
	Total int `json:"total"`

	// PerTier maps tier name to resident record count.
	PerTier map[string]int `json:"per_tier"`

	// Concepts is the number of known concepts in the associative index.
	Concepts int `json:"concepts"`

	// Consolidation holds the sweep counters.
	Consolidation consolidate.Stats `json:"consolidation"`
}

// Stats returns a snapshot of engine counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	perTier := make(map[string]int, 4)
	for t := memory.TierWorking; t <= memory.TierArchive; t++ {
		perTier[t.String()] = e.store.Len(t)
	}
	return EngineStats{
		Total:         e.store.Total(),
		PerTier:       perTier,
		Concepts:      len(e.index.Concepts()),
		Consolidation: e.consolidator.Stats(),
	}
}

// Close closes the engine and its collaborators. Further operations fail
// with ErrEngineClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.summarize != nil {
		if err := e.summarize.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.snapshots != nil {
		if err := e.snapshots.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return NewEngineError("Close", errors.Join(errs...))
}

// cleanConcepts trims, deduplicates and drops empty concept strings,
// preserving first-seen order.
func cleanConcepts(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
