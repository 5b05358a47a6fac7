package planner

import (
	"sync"
)

// Results collects the outcome of a run. Every method is safe for
// concurrent use and holds the lock only for the insert itself.
type Results struct {
	mu         sync.Mutex
	copies     []CopyPlan
	duplicates []DuplicateMatch
	collisions []CollisionRecord
	failures   []Failure
	suppressed int
	bytes      int64
}

// NewResults returns empty results for a single run.
func NewResults() *Results {
	return &Results{}
}

func (r *Results) AddCopy(p CopyPlan) {
	r.mu.Lock()
	r.copies = append(r.copies, p)
	r.bytes += p.Size
	r.mu.Unlock()
}

func (r *Results) AddDuplicate(d DuplicateMatch) {
	r.mu.Lock()
	r.duplicates = append(r.duplicates, d)
	r.mu.Unlock()
}

func (r *Results) AddCollision(c CollisionRecord) {
	r.mu.Lock()
	r.collisions = append(r.collisions, c)
	r.mu.Unlock()
}

func (r *Results) AddFailure(f Failure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

func (r *Results) AddSuppressed() {
	r.mu.Lock()
	r.suppressed++
	r.mu.Unlock()
}

// Snapshot is a sorted, independent copy of Results.
type Snapshot struct {
	Copies      []CopyPlan
	Duplicates  []DuplicateMatch
	Collisions  []CollisionRecord
	Failures    []Failure
	Suppressed  int
	BytesCopied int64
}

// Snapshot copies the collected results and sorts them by path.
func (r *Results) Snapshot() Snapshot {
	r.mu.Lock()
	s := Snapshot{
		Copies:      append([]CopyPlan{}, r.copies...),
		Duplicates:  append([]DuplicateMatch{}, r.duplicates...),
		Collisions:  append([]CollisionRecord{}, r.collisions...),
		Failures:    append([]Failure{}, r.failures...),
		Suppressed:  r.suppressed,
		BytesCopied: r.bytes,
	}
	r.mu.Unlock()

	sortCopies(s.Copies)
	sortDuplicates(s.Duplicates)
	sortCollisions(s.Collisions)
	sortFailures(s.Failures)
	return s
}
