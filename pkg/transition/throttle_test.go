package transition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottleNeverBelowFloor(t *testing.T) {
	th := NewThrottle(5, 20)
	limit := th.Limit()
	assert.GreaterOrEqual(t, limit, 5)
	assert.LessOrEqual(t, limit, 20)
}

func TestThrottleCeilFallsBackToFloorWhenInverted(t *testing.T) {
	th := NewThrottle(10, 3)
	assert.Equal(t, 10, th.ceil)
}
