// Package consolidate implements the background maintenance engine that
// keeps the tier hierarchy in its steady state: rescoring records, demoting
// the faded, promoting the reinforced, compressing long-term content and
// purging what has decayed past the retention floor.
package consolidate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/allma-labs/tiermem-go/pkg/assoc"
	"github.com/allma-labs/tiermem-go/pkg/memory"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
	"github.com/allma-labs/tiermem-go/pkg/summarizer"
	"github.com/allma-labs/tiermem-go/pkg/tier"
)

// Config contains the consolidation tunables.
type Config struct {
	// DemotionThreshold is the retention score below which a record moves
	// one tier down. Default: 0.3.
	DemotionThreshold float64 `json:"demotion_threshold"`

	// PromotionThreshold is the retention score at or above which a record
	// moves one tier up. Default: 0.8.
	PromotionThreshold float64 `json:"promotion_threshold"`

	// PurgeFloor is the retention score at or below which an archive
	// record becomes eligible for purge. Default: 0.05.
	PurgeFloor float64 `json:"purge_floor"`

	// MinRetentionAge protects young records from purge regardless of
	// score. Default: 7 days.
	MinRetentionAge time.Duration `json:"min_retention_age"`

	// EdgeFloor is the association weight below which edges are reaped
	// during the purge pass. Default: 0.05.
	EdgeFloor float64 `json:"edge_floor"`

	// SweepInterval is the period of the time-based sweep trigger.
	// Default: 1 minute.
	SweepInterval time.Duration `json:"sweep_interval"`

	// WriteTrigger is the number of writes after which a sweep fires
	// early, without waiting for the interval. Zero disables the
	// write-count trigger.
	WriteTrigger int `json:"write_trigger"`
}

// DefaultConfig returns the default consolidation configuration.
func DefaultConfig() Config {
	return Config{
		DemotionThreshold:  0.3,
		PromotionThreshold: 0.8,
		PurgeFloor:         0.05,
		MinRetentionAge:    7 * 24 * time.Hour,
		EdgeFloor:          0.05,
		SweepInterval:      time.Minute,
		WriteTrigger:       100,
	}
}

// Stats counts consolidation outcomes since engine creation.
type Stats struct {
	Sweeps     int `json:"sweeps"`
	Demoted    int `json:"demoted"`
	Promoted   int `json:"promoted"`
	Compressed int `json:"compressed"`
	Purged     int `json:"purged"`
	Evicted    int `json:"evicted"`
}

// Engine runs consolidation sweeps over a tier store and its associative
// index. Sweeps are serialized: at most one runs at a time, and both the
// timer trigger and the write-count trigger funnel into the same sweep
// path, so there is exactly one consolidation code path. Write
// notifications never wait for a running sweep.
type Engine struct {
	store      *tier.Store
	index      *assoc.Index
	strategy   scoring.Strategy
	summarizer summarizer.Provider
	cfg        Config
	logger     *slog.Logger

	// sweepMu serializes sweeps and is the only lock held across
	// summarizer calls. mu guards the trigger counters and stats and is
	// held for counter bumps only, so writers never wait on a sweep.
	sweepMu sync.Mutex

	mu        sync.Mutex
	lastSweep time.Time
	writes    int
	stats     Stats
}

// NewEngine creates a consolidation engine. The summarizer may be nil, in
// which case the compression pass is skipped entirely. A nil logger falls
// back to slog.Default.
func NewEngine(store *tier.Store, index *assoc.Index, strategy scoring.Strategy, prov summarizer.Provider, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		index:      index,
		strategy:   strategy,
		summarizer: prov,
		cfg:        cfg,
		logger:     logger,
	}
}

// scored pairs a record snapshot with the score it held when the sweep
// started. Decisions are made against this snapshot so a record moves at
// most one tier per sweep; later passes never re-examine what an earlier
// pass already moved.
type scored struct {
	id    int64
	tier  memory.Tier
	score memory.RetentionScore
}

// Sweep runs one full consolidation pass at the given time: score, demote,
// promote, compress, purge, in that order. Repeated calls with the same now
// are idempotent no-ops. The context is checked between passes; a cancelled
// sweep stops cleanly at a pass boundary.
func (e *Engine) Sweep(ctx context.Context, now time.Time) error {
	e.sweepMu.Lock()
	defer e.sweepMu.Unlock()
	return e.sweep(ctx, now)
}

// sweep runs the passes. The caller holds sweepMu.
func (e *Engine) sweep(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	if !now.After(e.lastSweep) {
		e.mu.Unlock()
		return nil
	}
	e.lastSweep = now
	e.writes = 0
	e.stats.Sweeps++
	e.mu.Unlock()

	snapshot := e.scorePass(now)

	var d Stats
	err := e.runPasses(ctx, snapshot, now, &d)

	e.mu.Lock()
	e.stats.Demoted += d.Demoted
	e.stats.Promoted += d.Promoted
	e.stats.Compressed += d.Compressed
	e.stats.Purged += d.Purged
	e.stats.Evicted += d.Evicted
	e.mu.Unlock()

	if err != nil {
		return err
	}
	e.logger.Debug("sweep complete",
		"at", now,
		"demoted", d.Demoted,
		"promoted", d.Promoted,
		"compressed", d.Compressed,
		"purged", d.Purged,
	)
	return nil
}

// runPasses executes the four mutation passes, accumulating outcomes into d.
// The context is checked before each pass.
func (e *Engine) runPasses(ctx context.Context, snapshot []scored, now time.Time, d *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.demotePass(snapshot, now, d)

	if err := ctx.Err(); err != nil {
		return err
	}
	e.promotePass(snapshot, now, d)

	if err := ctx.Err(); err != nil {
		return err
	}
	e.compressPass(ctx, snapshot, d)

	if err := ctx.Err(); err != nil {
		return err
	}
	e.purgePass(snapshot, now, d)
	return nil
}

// scorePass walks every tier and records each resident's current score.
func (e *Engine) scorePass(now time.Time) []scored {
	var out []scored
	for t := memory.TierWorking; t <= memory.TierArchive; t++ {
		for _, r := range e.store.Records(t) {
			out = append(out, scored{
				id:    r.ID,
				tier:  t,
				score: e.strategy.Score(r, now),
			})
		}
	}
	return out
}

// demotePass moves records scoring below the demotion threshold one tier
// down.
func (e *Engine) demotePass(snapshot []scored, now time.Time, d *Stats) {
	for _, s := range snapshot {
		if s.score.Importance >= e.cfg.DemotionThreshold {
			continue
		}
		dest, ok := s.tier.Down()
		if !ok {
			continue
		}
		if cur, owned := e.store.Owner(s.id); !owned || cur != s.tier {
			continue
		}
		ev, err := e.store.Move(s.id, dest, now)
		if err != nil {
			e.logger.Error("demote failed", "id", s.id, "to", dest, "error", err)
			continue
		}
		d.Demoted++
		e.routeEvent(ev, now, d)
	}
}

// promotePass moves records scoring at or above the promotion threshold one
// tier up. Records the demote pass just moved are skipped: the snapshot
// still carries their pre-sweep tier, and the ownership check rejects them.
func (e *Engine) promotePass(snapshot []scored, now time.Time, d *Stats) {
	for _, s := range snapshot {
		if s.score.Importance < e.cfg.PromotionThreshold {
			continue
		}
		dest, ok := s.tier.Up()
		if !ok {
			continue
		}
		if cur, owned := e.store.Owner(s.id); !owned || cur != s.tier {
			continue
		}
		ev, err := e.store.Move(s.id, dest, now)
		if err != nil {
			e.logger.Error("promote failed", "id", s.id, "to", dest, "error", err)
			continue
		}
		d.Promoted++
		e.routeEvent(ev, now, d)
	}
}

// compressPass summarizes uncompressed long-term and archive content. The
// summarizer runs with no engine or tier lock held: candidates are collected
// first, each summary is produced outside the store, and the result is
// applied through the store afterwards. A summarizer failure skips that
// record only; it stays uncompressed and is retried next sweep.
func (e *Engine) compressPass(ctx context.Context, snapshot []scored, d *Stats) {
	if e.summarizer == nil {
		return
	}

	type candidate struct {
		id      int64
		content string
	}
	var candidates []candidate
	for _, s := range snapshot {
		if s.tier < memory.TierLongTerm {
			continue
		}
		r, ok := e.store.Get(s.id)
		if !ok || r.Compressed {
			continue
		}
		candidates = append(candidates, candidate{id: r.ID, content: r.Content})
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		summary, err := e.summarizer.Summarize(ctx, c.content)
		if err != nil {
			e.logger.Warn("summarize failed, record kept uncompressed", "id", c.id, "error", err)
			continue
		}
		if e.store.ApplyCompression(c.id, summary) {
			d.Compressed++
		}
	}
}

// purgePass removes archive records that have decayed to the purge floor
// and aged past the minimum retention age, then reaps weakened edges and
// orphaned concepts from the index. Only records already in the archive
// when the sweep started are eligible.
func (e *Engine) purgePass(snapshot []scored, now time.Time, d *Stats) {
	for _, s := range snapshot {
		if s.tier != memory.TierArchive || s.score.Importance > e.cfg.PurgeFloor {
			continue
		}
		r, ok := e.store.Get(s.id)
		if !ok || r.Tier != memory.TierArchive {
			continue
		}
		if now.Sub(r.CreatedAt) < e.cfg.MinRetentionAge {
			continue
		}
		if _, removed := e.store.Remove(s.id); removed {
			e.index.RemoveRecord(s.id)
			d.Purged++
		}
	}

	if e.cfg.EdgeFloor > 0 {
		e.index.DropEdgesBelow(e.cfg.EdgeFloor)
	}
	e.index.DropOrphans()
}

// RouteEvent disposes of a capacity eviction: the evicted record cascades
// one tier down, which may in turn evict again, until a record lands or
// falls out of the archive. A dropped record is scrubbed from the index so
// no dangling IDs remain.
func (e *Engine) RouteEvent(ev *tier.CapacityEvent, now time.Time) {
	var d Stats
	e.routeEvent(ev, now, &d)
	e.mu.Lock()
	e.stats.Evicted += d.Evicted
	e.mu.Unlock()
}

func (e *Engine) routeEvent(ev *tier.CapacityEvent, now time.Time, d *Stats) {
	for ev != nil {
		d.Evicted++
		if ev.Dropped {
			e.index.RemoveRecord(ev.Evicted.ID)
			e.logger.Debug("record dropped from archive", "id", ev.Evicted.ID)
			return
		}

		r := ev.Evicted
		r.Tier = ev.Destination
		next, err := e.store.Admit(r, now)
		if err != nil {
			// The ID vanished between eviction and re-admit. Scrub
			// the index so the record cannot linger half-tracked.
			e.logger.Error("failed to route evicted record", "id", r.ID, "error", err)
			e.index.RemoveRecord(r.ID)
			return
		}
		ev = next
	}
}

// NotifyWrite counts a write against the write trigger and fires a sweep
// when the threshold is reached. It is the same sweep the timer runs. The
// counter bump never blocks: a sweep already in flight absorbs the trigger
// and the count keeps accumulating for the next one.
func (e *Engine) NotifyWrite(ctx context.Context, now time.Time) error {
	e.mu.Lock()
	e.writes++
	due := e.cfg.WriteTrigger > 0 && e.writes >= e.cfg.WriteTrigger
	e.mu.Unlock()

	if !due {
		return nil
	}
	// A sweep already in flight covers these writes; skip rather than
	// stall the writer behind it.
	if !e.sweepMu.TryLock() {
		return nil
	}
	defer e.sweepMu.Unlock()
	return e.sweep(ctx, now)
}

// Due reports whether the time-based trigger has elapsed at now.
func (e *Engine) Due(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.SweepInterval > 0 && now.Sub(e.lastSweep) >= e.cfg.SweepInterval
}

// Run sweeps on the configured interval until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	interval := e.cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultConfig().SweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			// A write-triggered sweep may have run moments ago; the
			// timer then waits for the next full interval.
			if !e.Due(t) {
				continue
			}
			if err := e.Sweep(ctx, t); err != nil {
				e.logger.Warn("sweep interrupted", "error", err)
			}
		}
	}
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
