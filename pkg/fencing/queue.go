package fencing

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/nodequorum/controld/pkg/types"
)

// defaultDeviceTimeout bounds a single fence-agent invocation when the
// coordinator's watchdog (Coordinator.SetWatchdog) doesn't override it.
const defaultDeviceTimeout = 60 * time.Second

var errQueueClosed = errors.New("fencing: device queue closed")

// agentRunner abstracts a single fence-agent invocation so deviceQueue can
// be exercised in tests without shelling out to a real agent binary.
type agentRunner interface {
	Run(ctx context.Context, agent, action string, params map[string]string) (rc int, output string, err error)
}

// deviceJob is one command serialized through a device's FIFO queue.
type deviceJob struct {
	cmd    types.AsyncFenceCommand
	params map[string]string
	result chan deviceResult
}

type deviceResult struct {
	rc     int
	output string
	err    error
}

// deviceQueue runs every command against one device strictly in order
// (matching stonith-ng's one-command-in-flight-per-device rule) and trips
// a circuit breaker after repeated consecutive agent failures so a dead
// device stops being retried on every fence request.
type deviceQueue struct {
	dev     *types.Device
	proc    agentRunner
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	jobs    chan deviceJob
	stopCh  chan struct{}
	once    sync.Once
}

// newDeviceQueueWithRunner builds a queue using the package default
// per-command timeout; production wiring goes through
// newDeviceQueueWithTimeout so the configured fencing watchdog applies.
func newDeviceQueueWithRunner(dev *types.Device, runner agentRunner) *deviceQueue {
	return newDeviceQueueWithTimeout(dev, runner, defaultDeviceTimeout)
}

func newDeviceQueueWithTimeout(dev *types.Device, runner agentRunner, timeout time.Duration) *deviceQueue {
	if timeout <= 0 {
		timeout = defaultDeviceTimeout
	}
	settings := gobreaker.Settings{
		Name:        "fence-device:" + dev.ID,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	q := &deviceQueue{
		dev:     dev,
		proc:    runner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: timeout,
		jobs:    make(chan deviceJob, 32),
		stopCh:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *deviceQueue) run() {
	for {
		select {
		case job := <-q.jobs:
			rc, output, err := q.execute(job)
			job.result <- deviceResult{rc: rc, output: output, err: err}
		case <-q.stopCh:
			return
		}
	}
}

func (q *deviceQueue) execute(job deviceJob) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	result, err := q.breaker.Execute(func() (interface{}, error) {
		rc, output, runErr := q.proc.Run(ctx, q.dev.Agent, string(job.cmd.Action), job.params)
		if runErr != nil {
			return nil, runErr
		}
		return [2]interface{}{rc, output}, nil
	})
	if err != nil {
		return -1, "", err
	}
	pair := result.([2]interface{})
	return pair[0].(int), pair[1].(string), nil
}

// submit enqueues job and blocks for its result. Checking stopCh before
// racing the send avoids a job landing in the buffer after run() has
// already returned, which would otherwise block the caller forever.
func (q *deviceQueue) submit(job deviceJob) deviceResult {
	select {
	case <-q.stopCh:
		return deviceResult{rc: -1, err: errQueueClosed}
	default:
	}

	select {
	case q.jobs <- job:
	case <-q.stopCh:
		return deviceResult{rc: -1, err: errQueueClosed}
	}
	return <-job.result
}

func (q *deviceQueue) stop() {
	q.once.Do(func() { close(q.stopCh) })
}
