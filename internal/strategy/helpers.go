package strategy

import (
	"math"

	"github.com/hmuraoka/trading-core/pkg/types"
)

// lastRowValid reports whether the final value of each column exists and
// is a real number. Strategies guard with this before reading the row.
func lastRowValid(frame *types.Frame, cols ...string) bool {
	for _, col := range cols {
		v, ok := frame.Last(col)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// crossover compares the previous and current values of two series and
// reports +1 when fast crossed above slow, -1 when it crossed below, 0
// otherwise.
func crossover(frame *types.Frame, fastCol, slowCol string) int {
	if frame.Len() < 2 {
		return 0
	}
	curFast, ok1 := frame.At(fastCol, 0)
	curSlow, ok2 := frame.At(slowCol, 0)
	prevFast, ok3 := frame.At(fastCol, 1)
	prevSlow, ok4 := frame.At(slowCol, 1)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return 0
	}
	if prevFast <= prevSlow && curFast > curSlow {
		return 1
	}
	if prevFast >= prevSlow && curFast < curSlow {
		return -1
	}
	return 0
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
