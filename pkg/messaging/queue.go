package messaging

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/ctlerr"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/transport"
)

// outboundJob is one queued send.
type outboundJob struct {
	target   string // "" means broadcast
	payload  []byte
}

// Queue is the backpressured outbound send path: Enqueue never blocks
// (it returns ctlerr.Unavailable if the queue is full) and a background
// worker drains it through the transport, retrying a failed send with
// exponential backoff before giving up on that frame.
type Queue struct {
	transport transport.Transport
	logger    zerolog.Logger
	jobs      chan outboundJob
	stopCh    chan struct{}
	maxTries  int
}

// NewQueue creates a send queue of the given depth.
func NewQueue(t transport.Transport, depth int) *Queue {
	return &Queue{
		transport: t,
		logger:    log.WithComponent("messaging"),
		jobs:      make(chan outboundJob, depth),
		stopCh:    make(chan struct{}),
		maxTries:  5,
	}
}

// Enqueue queues payload for target ("" broadcasts to every peer).
func (q *Queue) Enqueue(target string, payload []byte) error {
	select {
	case q.jobs <- outboundJob{target: target, payload: payload}:
		metrics.MessagingQueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		return ctlerr.New(ctlerr.Unavailable, "messaging.Queue.Enqueue", "send queue full", nil)
	}
}

// Start begins draining the queue.
func (q *Queue) Start() {
	go q.run()
}

// Stop halts the queue's worker.
func (q *Queue) Stop() {
	close(q.stopCh)
}

func (q *Queue) run() {
	for {
		select {
		case job := <-q.jobs:
			metrics.MessagingQueueDepth.Set(float64(len(q.jobs)))
			q.deliver(job)
		case <-q.stopCh:
			return
		}
	}
}

func (q *Queue) deliver(job outboundJob) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < q.maxTries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		var err error
		if job.target == "" {
			err = q.transport.Broadcast(ctx, job.payload)
		} else {
			err = q.transport.Send(ctx, job.target, job.payload)
		}
		cancel()

		if err == nil {
			metrics.MessagingFramesTotal.WithLabelValues("sent").Inc()
			return
		}

		lastErr = err
		wait := b.NextBackOff()
		q.logger.Debug().Err(err).Str("target", job.target).Int("attempt", attempt).Dur("backoff", wait).Msg("send failed, retrying")
		time.Sleep(wait)
	}

	q.logger.Error().Err(lastErr).Str("target", job.target).Msg("dropping frame after exhausting retries")
}
