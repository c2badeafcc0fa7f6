// Package tier implements the four bounded record containers of the memory
// engine: working, short-term, long-term and archive.
//
// A single store owns all four tiers behind one RWMutex. One lock keeps
// admit-during-eviction and eviction-during-iteration impossible by
// construction, and makes moves between tiers atomic with respect to
// readers: a record is either fully in tier A or fully in tier B, never
// partially visible in both. Sweeps touch whole tiers, so a coarse lock is
// the correct grain here; per-record locks would buy nothing.
package tier

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/allma-labs/tiermem-go/pkg/memory"
	"github.com/allma-labs/tiermem-go/pkg/scoring"
)

// Sentinel errors for store operations.
var (
	// ErrDuplicateID indicates an admit of an ID already owned by a tier.
	// Exactly one tier owns a record at any time; a duplicate admit is a
	// programming error, not a recoverable condition.
	ErrDuplicateID = errors.New("record id already present in a tier")

	// ErrUnknownTier indicates an operation against an invalid tier value.
	ErrUnknownTier = errors.New("unknown tier")
)

// Capacities holds the hard ceilings per tier.
//
// Working is small (models attention span), short-term moderate, long-term
// large. Archive is effectively unbounded except for ArchiveCeiling, a hard
// safety limit past which the lowest-scoring archive record is purged.
type Capacities struct {
	Working        int `json:"working"`
	ShortTerm      int `json:"short_term"`
	LongTerm       int `json:"long_term"`
	ArchiveCeiling int `json:"archive_soft_ceiling"`
}

// DefaultCapacities returns the default tier capacities.
func DefaultCapacities() Capacities {
	return Capacities{
		Working:        10,
		ShortTerm:      100,
		LongTerm:       1000,
		ArchiveCeiling: 10000,
	}
}

// For returns the capacity of tier t.
func (c Capacities) For(t memory.Tier) int {
	switch t {
	case memory.TierWorking:
		return c.Working
	case memory.TierShortTerm:
		return c.ShortTerm
	case memory.TierLongTerm:
		return c.LongTerm
	case memory.TierArchive:
		return c.ArchiveCeiling
	default:
		return 0
	}
}

// Validate checks that every capacity is positive.
func (c Capacities) Validate() error {
	for t := memory.TierWorking; t <= memory.TierArchive; t++ {
		if c.For(t) <= 0 {
			return fmt.Errorf("tier %s: capacity must be positive, got %d", t, c.For(t))
		}
	}
	return nil
}

// CapacityEvent signals that admitting a record required evicting another.
// It is a normal signal, not an error: the caller (facade or consolidation
// engine) must route the evicted record to Destination, or dispose of it
// when Dropped is true (eviction from archive has nowhere to go).
type CapacityEvent struct {
	// Evicted is the record removed to make room.
	Evicted *memory.Record

	// From is the tier the record was evicted from.
	From memory.Tier

	// Destination is the tier the record should be demoted to.
	// Meaningless when Dropped is true.
	Destination memory.Tier

	// Dropped is true when the eviction happened in the archive tier:
	// there is no lower tier, the record is gone.
	Dropped bool
}

// Store owns the four tiers. All methods are safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	tiers    [4]map[int64]*memory.Record
	owner    map[int64]memory.Tier // tier-exclusivity ledger
	caps     Capacities
	strategy scoring.Strategy
}

// NewStore creates a store with the given capacities and eviction scoring
// strategy.
func NewStore(caps Capacities, strategy scoring.Strategy) *Store {
	s := &Store{
		owner:    make(map[int64]memory.Tier),
		caps:     caps,
		strategy: strategy,
	}
	for i := range s.tiers {
		s.tiers[i] = make(map[int64]*memory.Record)
	}
	return s
}

// Admit inserts the record into its Tier. If the tier is at capacity the
// lowest-scoring resident is evicted first, synchronously, before the new
// record is admitted; the returned CapacityEvent must be routed by the
// caller. The capacity ceiling is never exceeded, not even transiently.
func (s *Store) Admit(r *memory.Record, now time.Time) (*CapacityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(r, now)
}

func (s *Store) admitLocked(r *memory.Record, now time.Time) (*CapacityEvent, error) {
	if !r.Tier.Valid() {
		return nil, ErrUnknownTier
	}
	if _, exists := s.owner[r.ID]; exists {
		return nil, fmt.Errorf("admit %d into %s: %w", r.ID, r.Tier, ErrDuplicateID)
	}

	var ev *CapacityEvent
	bucket := s.tiers[r.Tier]
	if len(bucket) >= s.caps.For(r.Tier) {
		victim := s.evictionCandidateLocked(r.Tier, now)
		delete(bucket, victim.ID)
		delete(s.owner, victim.ID)

		ev = &CapacityEvent{Evicted: victim, From: r.Tier}
		if dest, ok := r.Tier.Down(); ok {
			ev.Destination = dest
		} else {
			ev.Dropped = true
		}
	}

	bucket[r.ID] = r
	s.owner[r.ID] = r.Tier
	return ev, nil
}

// evictionCandidateLocked selects the resident to evict from tier t:
// lowest current score, ties broken by oldest LastAccessedAt, then by
// smallest ID. The ordering is total, so eviction is deterministic and
// reproducible for identical inputs.
func (s *Store) evictionCandidateLocked(t memory.Tier, now time.Time) *memory.Record {
	var victim *memory.Record
	var victimScore float64
	for _, r := range s.tiers[t] {
		score := s.strategy.Score(r, now).Importance
		if victim == nil || lessForEviction(score, r, victimScore, victim) {
			victim = r
			victimScore = score
		}
	}
	return victim
}

// lessForEviction reports whether (scoreA, a) evicts before (scoreB, b).
func lessForEviction(scoreA float64, a *memory.Record, scoreB float64, b *memory.Record) bool {
	if scoreA != scoreB {
		return scoreA < scoreB
	}
	if !a.LastAccessedAt.Equal(b.LastAccessedAt) {
		return a.LastAccessedAt.Before(b.LastAccessedAt)
	}
	return a.ID < b.ID
}

// Get returns a copy of the record with the given ID, wherever it lives.
// Copies keep readers race-free against Touch and compression; mutation goes
// through store methods only.
func (s *Store) Get(id int64) (*memory.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.owner[id]
	if !ok {
		return nil, false
	}
	return s.tiers[t][id].Clone(), true
}

// Touch atomically records a recall: AccessCount and LastAccessedAt update
// together under the store lock. Returns false when the ID is unknown.
func (s *Store) Touch(id int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.owner[id]
	if !ok {
		return false
	}
	s.tiers[t][id].Touch(now)
	return true
}

// AddConcept tags a live record with an extra concept.
func (s *Store) AddConcept(id int64, concept string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.owner[id]
	if !ok {
		return false
	}
	s.tiers[t][id].AddConcept(concept)
	return true
}

// ApplyCompression replaces the record's content with its summary form and
// marks it compressed. Compressing an already-compressed record is a no-op,
// which makes the compression pass idempotent. Returns false when the ID is
// unknown.
func (s *Store) ApplyCompression(id int64, summary string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.owner[id]
	if !ok {
		return false
	}
	r := s.tiers[t][id]
	if r.Compressed {
		return true
	}
	r.Content = summary
	r.Compressed = true
	return true
}

// Remove deletes the record from whichever tier owns it and returns it.
func (s *Store) Remove(id int64) (*memory.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Store) removeLocked(id int64) (*memory.Record, bool) {
	t, ok := s.owner[id]
	if !ok {
		return nil, false
	}
	r := s.tiers[t][id]
	delete(s.tiers[t], id)
	delete(s.owner, id)
	return r, true
}

// Move atomically transfers a record to another tier. Readers never observe
// the record in both tiers or in neither: the remove and the admit happen
// under one critical section. The destination's capacity rule applies and
// may produce a CapacityEvent the caller must route.
func (s *Store) Move(id int64, to memory.Tier, now time.Time) (*CapacityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !to.Valid() {
		return nil, ErrUnknownTier
	}
	r, ok := s.removeLocked(id)
	if !ok {
		return nil, nil
	}
	r.Tier = to
	return s.admitLocked(r, now)
}

// Records returns a fresh snapshot of tier t's records (copies), sorted by
// ID for a deterministic pass. Each call starts a new iteration; the slice
// is built under the read lock, so concurrent mutation cannot interleave
// with the pass.
func (s *Store) Records(t memory.Tier) []*memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !t.Valid() {
		return nil
	}
	out := make([]*memory.Record, 0, len(s.tiers[t]))
	for _, r := range s.tiers[t] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns a fresh snapshot of every record across all tiers (copies),
// sorted by ID.
func (s *Store) All() []*memory.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*memory.Record, 0, len(s.owner))
	for _, bucket := range s.tiers {
		for _, r := range bucket {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records in tier t.
func (s *Store) Len(t memory.Tier) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !t.Valid() {
		return 0
	}
	return len(s.tiers[t])
}

// Total returns the number of records across all tiers.
func (s *Store) Total() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.owner)
}

// Capacity returns the configured ceiling of tier t.
func (s *Store) Capacity(t memory.Tier) int {
	return s.caps.For(t)
}

// Owner returns the tier currently owning the given ID.
func (s *Store) Owner(id int64) (memory.Tier, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.owner[id]
	return t, ok
}
