package batch

import (
	"runtime"
	"time"

	"github.com/Sumatoshi-tech/dhpolar/pkg/safeconv"
	"github.com/Sumatoshi-tech/dhpolar/pkg/units"
)

// Memory pressure detection constants.
const (
	// PressureWarningRatio is the fraction of budget at which callers should
	// log a warning.
	PressureWarningRatio = 0.80

	// PressureCriticalRatio is the fraction of budget at which the next
	// sizing call will be flooring chunks aggressively.
	PressureCriticalRatio = 0.90
)

// PressureLevel indicates how close heap usage is to the budget.
type PressureLevel int

const (
	// PressureNone indicates heap usage is well within budget.
	PressureNone PressureLevel = iota

	// PressureWarning indicates heap usage exceeds 80% of budget.
	PressureWarning

	// PressureCritical indicates heap usage exceeds 90% of budget.
	PressureCritical
)

// String returns the pressure level name for logging.
func (p PressureLevel) String() string {
	switch p {
	case PressureWarning:
		return "warning"
	case PressureCritical:
		return "critical"
	default:
		return "none"
	}
}

// HeapSnapshot captures Go runtime memory stats at a point in time.
type HeapSnapshot struct {
	HeapInuse int64
	HeapAlloc int64
	Sys       int64 // Total bytes obtained from the OS (Go runtime).
	NumGC     uint32
	TakenAtNS int64
}

// TakeHeapSnapshot reads [runtime.MemStats] and returns a HeapSnapshot.
func TakeHeapSnapshot() HeapSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HeapSnapshot{
		HeapInuse: safeconv.MustUint64ToInt64(m.HeapInuse),
		HeapAlloc: safeconv.MustUint64ToInt64(m.HeapAlloc),
		Sys:       safeconv.MustUint64ToInt64(m.Sys),
		NumGC:     m.NumGC,
		TakenAtNS: time.Now().UnixNano(),
	}
}

// Accountant reports the advisory memory budget remaining for batch sizing.
// The budget is an estimate supplied by the caller (total allowance minus a
// reserve), not an OS-enforced limit; AvailableMB may go negative when the
// heap already exceeds it, in which case ChunkSize floors at 1.
type Accountant struct {
	// BudgetMB is the configured memory ceiling in mebibytes.
	BudgetMB float64
}

// AvailableMB returns the budget minus the current heap allocation, in MiB.
// The raw value is returned unclamped so oversubscription flows into the
// sizing floor rather than being hidden.
func (a Accountant) AvailableMB() float64 {
	snap := TakeHeapSnapshot()

	return a.BudgetMB - float64(snap.HeapAlloc)/units.MiB
}

// Pressure compares current heap usage against the budget. A zero or
// negative budget means unlimited and always reports PressureNone.
func (a Accountant) Pressure() PressureLevel {
	if a.BudgetMB <= 0 {
		return PressureNone
	}

	snap := TakeHeapSnapshot()

	return CheckPressure(snap.HeapInuse, int64(a.BudgetMB*units.MiB))
}

// CheckPressure compares heap usage in bytes against a budget in bytes and
// returns the pressure level. A non-positive budget reports PressureNone.
func CheckPressure(heapInuse, budget int64) PressureLevel {
	if budget <= 0 {
		return PressureNone
	}

	ratio := float64(heapInuse) / float64(budget)

	switch {
	case ratio >= PressureCriticalRatio:
		return PressureCritical
	case ratio >= PressureWarningRatio:
		return PressureWarning
	default:
		return PressureNone
	}
}
