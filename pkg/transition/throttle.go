package transition

import (
	"github.com/shirou/gopsutil/v3/load"

	"github.com/nodequorum/controld/pkg/metrics"
)

// Throttle computes the current batch_limit: the maximum number of
// unconfirmed rsc-op actions allowed in flight at once, refreshed from
// system load on every scheduling pass.
type Throttle struct {
	floor int
	ceil  int
}

// NewThrottle creates a throttle bounded to [floor, ceil].
func NewThrottle(floor, ceil int) *Throttle {
	if ceil < floor {
		ceil = floor
	}
	return &Throttle{floor: floor, ceil: ceil}
}

// Limit samples 1-minute load average and scales the batch limit down as
// load rises: at a raw 1-minute load average of 1.0 or below it uses ceil
// (the value is not scaled by core count), and the limit degrades linearly
// toward floor as load approaches 2x that baseline.
// A sampling error keeps the previous (here: floor) limit rather than
// failing the pass.
func (t *Throttle) Limit() int {
	avg, err := load.Avg()
	if err != nil {
		metrics.TransitionBatchLimit.Set(float64(t.floor))
		return t.floor
	}

	ratio := avg.Load1
	limit := t.ceil
	switch {
	case ratio <= 1.0:
		limit = t.ceil
	case ratio >= 2.0:
		limit = t.floor
	default:
		span := float64(t.ceil - t.floor)
		limit = t.ceil - int(span*(ratio-1.0))
	}
	if limit < t.floor {
		limit = t.floor
	}
	metrics.TransitionBatchLimit.Set(float64(limit))
	return limit
}
