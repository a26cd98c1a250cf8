package planner

import "math"

// Fanout tuning. The reducer target is how many input rows one reduce
// statement should see; the clamp keeps the reduction tree's width
// bounded and its depth predictable.
const (
	reducerTargetRows = 16_000_000
	fanoutMin         = 2
	fanoutMax         = 256
)

// Fanout picks how many level-N outputs merge into one level-N+1 output.
// rowsPerInput is the per-input row count proxy at this level (the
// planner passes the shard count). The result is always a power of two
// in [fanoutMin, fanoutMax], so the tree has no straggler leaves.
func Fanout(rowsPerInput int) int {
	if rowsPerInput < 1 {
		rowsPerInput = 1
	}
	ratio := float64(reducerTargetRows) / float64(rowsPerInput)

	k := 1
	if ratio > 1 {
		k = 1 << int(math.Round(math.Log2(ratio)))
	}

	if k < fanoutMin {
		return fanoutMin
	}
	if k > fanoutMax {
		return fanoutMax
	}
	return k
}
