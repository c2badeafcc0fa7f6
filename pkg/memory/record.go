// Package memory defines the record model shared by every component of the
// tiered memory engine.
//
// The types live here, rather than in pkg/core, so that the tier store, the
// associative index, the scoring strategies and the consolidation engine can
// all reference them without import cycles.
package memory

import "time"

// Tier identifies one of the four ordered, capacity-bounded containers a
// record can occupy. Tiers are ordered from most to least active:
// Working > ShortTerm > LongTerm > Archive.
type Tier int

const (
	// TierWorking holds the records under active attention. It is small
	// (single digits to low tens) and models attention span.
	TierWorking Tier = iota

	// TierShortTerm holds recently relevant records.
	TierShortTerm

	// TierLongTerm holds consolidated records, usually compressed.
	TierLongTerm

	// TierArchive holds faded records awaiting purge. It is effectively
	// unbounded except for a hard safety ceiling.
	TierArchive
)

// tierNames maps tiers to their wire/string form.
var tierNames = [...]string{"working", "short_term", "long_term", "archive"}

// String returns the tier name ("working", "short_term", "long_term",
// "archive"), or "unknown" for an out-of-range value.
func (t Tier) String() string {
	if t < TierWorking || t > TierArchive {
		return "unknown"
	}
	return tierNames[t]
}

// Valid reports whether t is one of the four defined tiers.
func (t Tier) Valid() bool {
	return t >= TierWorking && t <= TierArchive
}

// Down returns the next less active tier. ok is false when t is already
// TierArchive, the lowest tier.
func (t Tier) Down() (next Tier, ok bool) {
	if t >= TierArchive {
		return t, false
	}
	return t + 1, true
}

// Up returns the next more active tier. ok is false when t is already
// TierWorking, the highest tier.
func (t Tier) Up() (next Tier, ok bool) {
	if t <= TierWorking {
		return t, false
	}
	return t - 1, true
}

// ParseTier converts a tier name back into a Tier.
func ParseTier(name string) (Tier, bool) {
	for i, n := range tierNames {
		if n == name {
			return Tier(i), true
		}
	}
	return TierWorking, false
}

// Record is the unit of memory.
//
// A record is created by the facade, always in the working tier, and moves
// between tiers only through consolidation or capacity-triggered eviction.
// Its ID is stable across tier transitions and is never reused.
type Record struct {
	// ID is the unique identifier of the record, assigned at creation.
	ID int64 `json:"id"`

	// Content is the opaque payload. The engine never interprets it.
	// Once Compressed is true, Content holds the derived summary form and
	// the original full content is no longer retrievable.
	Content string `json:"content"`

	// Concepts is the set of string tags used for associative linking.
	// It may grow after creation as the associative pass runs.
	Concepts []string `json:"concepts,omitempty"`

	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"created_at"`

	// LastAccessedAt is when the record was last recalled. At creation it
	// equals CreatedAt. It moves together with AccessCount.
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// AccessCount is the number of successful recalls, monotonically
	// increasing.
	AccessCount int `json:"access_count"`

	// BaseImportance is the caller-supplied importance in [0,1] at
	// creation time. Immutable after creation.
	BaseImportance float64 `json:"base_importance"`

	// EmotionalIntensity is the emotional salience in [0,1]. It decays
	// independently of general importance, down to a configured floor.
	EmotionalIntensity float64 `json:"emotional_intensity"`

	// Tier is the container currently owning this record. Exactly one
	// tier owns a record at any time.
	Tier Tier `json:"tier"`

	// Compressed is true once the content has been replaced by its
	// summary form. The transition is irreversible.
	Compressed bool `json:"compressed"`
}

// Touch records a successful recall. AccessCount and LastAccessedAt move
// together; callers must hold whatever lock protects the record.
func (r *Record) Touch(now time.Time) {
	r.AccessCount++
	r.LastAccessedAt = now
}

// HasConcept reports whether the record is tagged with concept c.
func (r *Record) HasConcept(c string) bool {
	for _, tag := range r.Concepts {
		if tag == c {
			return true
		}
	}
	return false
}

// AddConcept tags the record with c if not already tagged.
func (r *Record) AddConcept(c string) {
	if c == "" || r.HasConcept(c) {
		return
	}
	r.Concepts = append(r.Concepts, c)
}

// Clone returns a deep copy of the record. The engine hands clones to
// callers so that external mutation cannot bypass tier bookkeeping.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Concepts != nil {
		cp.Concepts = make([]string, len(r.Concepts))
		copy(cp.Concepts, r.Concepts)
	}
	return &cp
}

// RetentionScore is the combined importance/decay value a scoring strategy
// computes for a record at a point in time. It ranks records for eviction,
// demotion, promotion and recall ordering.
type RetentionScore struct {
	// Importance is the overall retention score in [0,1].
	Importance float64 `json:"importance"`

	// DecayedIntensity is the record's emotional intensity after decay,
	// never below the configured floor.
	DecayedIntensity float64 `json:"decayed_intensity"`
}

// ConceptEdge is the snapshot form of one associative edge. Concepts are
// stored in canonical order (A < B) since the graph is undirected.
type ConceptEdge struct {
	A      string  `json:"a"`
	B      string  `json:"b"`
	Weight float64 `json:"weight"`
}

// Snapshot is the persistence schema the engine defines for its snapshot
// collaborator: every record plus the associative edge list. The wire
// format (JSON, SQL, binary) is the collaborator's choice; the engine only
// requires round-trip fidelity.
type Snapshot struct {
	Records []*Record     `json:"records"`
	Edges   []ConceptEdge `json:"edges"`
	SavedAt time.Time     `json:"saved_at"`
}
