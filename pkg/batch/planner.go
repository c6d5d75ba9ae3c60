// Package batch sizes and partitions tensor index ranges against an advisory
// memory budget. Chunk sizes are derived from a per-index unit cost (in
// float64 elements) and a baseline allocation already held by the caller; the
// budget is advisory, so sizing never fails: it floors at one index per
// chunk and lets the caller proceed oversubscribed.
package batch

import (
	"errors"
	"fmt"
	"math"

	"github.com/Sumatoshi-tech/dhpolar/pkg/units"
)

// Planner constraints.
const (
	// safetyFactor scales the advisory budget before sizing to leave headroom
	// for transient allocations the unit cost does not capture.
	safetyFactor = 0.8

	// Unbounded is the chunk size returned when the unit cost is zero. It is
	// large enough that any planned index range fits in a single span.
	Unbounded = math.MaxInt32
)

// Sizing errors.
var (
	// ErrUsage reports invalid planning parameters.
	ErrUsage = errors.New("invalid batch parameters")

	// ErrBudgetExceeded reports that the baseline allocation alone exceeds
	// the scaled budget. Only strict-mode sizing returns it.
	ErrBudgetExceeded = errors.New("memory budget exceeded")
)

// Span is a half-open index range [Start, Stop) over one tensor dimension.
type Span struct {
	Start int // Inclusive index.
	Stop  int // Exclusive index.
}

// Len returns the number of indices covered by the span.
func (s Span) Len() int {
	return s.Stop - s.Start
}

// Plan partitions [start, stop) into contiguous spans of length chunk, the
// last span truncated to stop. A degenerate range (start == stop) yields an
// empty plan. A non-positive chunk or an inverted range is a usage error.
func Plan(start, stop, chunk int) ([]Span, error) {
	if chunk <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d must be positive", ErrUsage, chunk)
	}

	if stop < start {
		return nil, fmt.Errorf("%w: range stop %d before start %d", ErrUsage, stop, start)
	}

	if start == stop {
		return nil, nil
	}

	// Single span if the whole range fits. Also keeps start+chunk from
	// overflowing when chunk is Unbounded.
	if stop-start <= chunk {
		return []Span{{Start: start, Stop: stop}}, nil
	}

	var spans []Span

	for lo := start; lo < stop; lo += chunk {
		hi := min(lo+chunk, stop)
		spans = append(spans, Span{Start: lo, Stop: hi})
	}

	return spans, nil
}

// ChunkSize derives the largest chunk length such that
// chunk*unitCost + baseline stays within safetyFactor of the advisory budget.
// unitCost and baseline are float64 element counts (8 bytes each); availMB is
// the advisory budget in mebibytes.
//
// The result is never below 1: processing one index at a time is always
// legal, even when the baseline alone exceeds the budget. A zero unit cost
// means the loop allocates nothing per index, so the size is Unbounded.
func ChunkSize(unitCost int, availMB float64, baseline int) int {
	if unitCost <= 0 {
		return Unbounded
	}

	headroomMB := safetyFactor*availMB - units.F64MiB(baseline)

	chunk := int(math.Floor(headroomMB / units.F64MiB(unitCost)))
	if chunk < 1 {
		return 1
	}

	return chunk
}

// ChunkSizeStrict is ChunkSize with the advisory floor replaced by an error:
// when not even a single index fits the scaled budget it returns
// ErrBudgetExceeded instead of 1. Callers opt in via configuration; the
// default pipeline path never uses it.
func ChunkSizeStrict(unitCost int, availMB float64, baseline int) (int, error) {
	if unitCost <= 0 {
		return Unbounded, nil
	}

	headroomMB := safetyFactor*availMB - units.F64MiB(baseline)

	chunk := int(math.Floor(headroomMB / units.F64MiB(unitCost)))
	if chunk < 1 {
		return 0, fmt.Errorf("%w: baseline %.1f MiB with unit cost %.3f MiB/index against %.1f MiB",
			ErrBudgetExceeded, units.F64MiB(baseline), units.F64MiB(unitCost), availMB)
	}

	return chunk, nil
}
