package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerCoalesces(t *testing.T) {
	tr := New()
	tr.Set()
	tr.Set()
	tr.Set()

	select {
	case <-tr.Chan():
	case <-time.After(time.Second):
		t.Fatal("expected pending wake-up")
	}

	select {
	case <-tr.Chan():
		t.Fatal("expected no second wake-up after coalescing")
	default:
	}
}

func TestTriggerClear(t *testing.T) {
	tr := New()
	tr.Set()
	tr.Clear()

	select {
	case <-tr.Chan():
		t.Fatal("expected cleared trigger to have no pending wake-up")
	default:
	}
}

func TestWheelScheduleFires(t *testing.T) {
	w := NewWheel()
	done := make(chan struct{})

	w.Schedule("t1", 10*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestWheelCancelPreventsFire(t *testing.T) {
	w := NewWheel()
	fired := false

	w.Schedule("t1", 50*time.Millisecond, func() { fired = true })
	assert.True(t, w.Cancel("t1"))

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired)
}

func TestWheelRescheduleReplaces(t *testing.T) {
	w := NewWheel()
	calls := 0

	w.Schedule("t1", 10*time.Millisecond, func() { calls++ })
	w.Schedule("t1", 10*time.Millisecond, func() { calls++ })

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, calls)
}
