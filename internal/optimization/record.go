package optimization

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// IterationRecord is a snapshot of a solver after one directional minimization.
// Records are never modified once appended to a History.
type IterationRecord struct {
	// Outer iteration that produced the record; 0 for the seed record
	Iteration int `json:"iteration"`
	// Current point
	Point Point `json:"point"`
	// Raw cost function value at Point
	Function float64 `json:"function"`
	// Minimized (possibly penalty-augmented) value at Point
	Cost float64 `json:"cost"`
	// Largest constraint violation at Point
	MaxConstraint float64 `json:"max_constraint"`
	// Absolute change of Cost since the previous record
	LastFunctionChange float64 `json:"last_function_change"`
	// Euclidean distance to the previous record's point
	LastPointChange float64 `json:"last_point_change"`
	// Whether all constraints are met at Point
	ConstraintsMet bool `json:"constraints_met"`
}

// SeedRecord builds the first record of a log.
func SeedRecord(x Point, function, cost, maxConstraint float64, met bool) IterationRecord {
	return IterationRecord{
		Iteration:          0,
		Point:              x.Clone(),
		Function:           function,
		Cost:               cost,
		MaxConstraint:      maxConstraint,
		LastFunctionChange: math.Abs(cost),
		LastPointChange:    floats.Norm(x, 2),
		ConstraintsMet:     met,
	}
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return floats.Distance(a, b, 2)
}

// History is an append-only, insertion-ordered iteration log. The owning solver
// appends; any goroutine may read.
type History struct {
	mu      sync.RWMutex
	records []IterationRecord
}

// Reset discards all records and reserves room for capacity entries.
func (h *History) Reset(capacity int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = make([]IterationRecord, 0, capacity)
}

// Append adds a record at the end of the log.
func (h *History) Append(r IterationRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
}

// Len returns the number of records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Last returns the most recent record, or false when the log is empty.
func (h *History) Last() (IterationRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.records) == 0 {
		return IterationRecord{}, false
	}
	return h.records[len(h.records)-1], true
}

// Snapshot returns a copy of the log. Points are shared with the log and must not
// be modified.
func (h *History) Snapshot() []IterationRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]IterationRecord, len(h.records))
	copy(out, h.records)
	return out
}
