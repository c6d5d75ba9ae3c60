// Package units provides binary size unit multipliers (1024-based) and
// conversions between tensor element counts and storage sizes.
package units

// Binary size multipliers.
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// F64Bytes is the storage width of one float64 tensor element.
const F64Bytes = 8

// F64MiB converts a float64 element count to mebibytes.
func F64MiB(elems int) float64 {
	return float64(elems) * F64Bytes / MiB
}

// F64Count converts a byte size to a whole float64 element count.
func F64Count(bytes int64) int64 {
	return bytes / F64Bytes
}
