package fencing

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/ctlerr"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/log"
	"github.com/nodequorum/controld/pkg/messaging"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/security"
	"github.com/nodequorum/controld/pkg/types"
)

// privateFenceParams lists fence-agent parameter names that carry
// credentials, the conventional names stonith agents use for them
// (ipmilan, redfish, vmware agents among others).
var privateFenceParams = map[string]bool{
	"passwd":   true,
	"password": true,
	"login":    true,
	"secret":   true,
}

// Notifier broadcasts a completed fence operation to the rest of the
// cluster (stonith-ng's NOTIFY_FENCE). Implemented by *messaging.Layer in
// production; tests substitute a recorder.
type Notifier interface {
	Send(target, frameType string, body []byte) error
}

// Coordinator is the fencing coordinator: it owns the device registry,
// dispatches fence requests to the capable device with highest priority,
// serializes commands per device, and records and broadcasts outcomes.
type Coordinator struct {
	registry *Registry
	history  *History
	notifier Notifier
	broker   *events.Broker
	logger   zerolog.Logger

	listRunner ListRunner
	runner     agentRunner
	targets    *targetListCache
	watchdog   time.Duration

	mu     sync.Mutex
	queues map[string]*deviceQueue
}

// NewCoordinator builds a fencing coordinator. notifier and broker may be
// nil in tests that don't need broadcast/event fan-out. Per-device command
// timeout defaults to defaultDeviceTimeout; call SetWatchdog to override it
// with the configured fencing watchdog before any device queue is created.
func NewCoordinator(registry *Registry, notifier Notifier, broker *events.Broker) *Coordinator {
	return newCoordinatorWithRunner(registry, notifier, broker, AgentProcess{})
}

func newCoordinatorWithRunner(registry *Registry, notifier Notifier, broker *events.Broker, runner agentRunner) *Coordinator {
	return &Coordinator{
		registry:   registry,
		history:    NewHistory(),
		notifier:   notifier,
		broker:     broker,
		logger:     log.WithComponent("fencing"),
		listRunner: agentListRunner{},
		runner:     runner,
		targets:    newTargetListCache(),
		watchdog:   defaultDeviceTimeout,
		queues:     make(map[string]*deviceQueue),
	}
}

// SetWatchdog overrides the per-device command timeout used for device
// queues created from this point on. Queues already running keep their
// original timeout.
func (c *Coordinator) SetWatchdog(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.watchdog = d
	}
}

// CanFenceWithRunner resolves a device's host-check decision, refreshing
// the dynamic-list cache or invoking "status" where the mode requires it.
func (c *Coordinator) CanFenceWithRunner(ctx context.Context, dev *types.Device, target string) bool {
	if dev == nil || target == "" {
		return canFence(dev, target)
	}

	switch dev.HostCheck {
	case types.HostCheckDynamicList:
		targets := c.targets.refresh(ctx, dev, c.listRunner)
		return containsHost(targets, target)
	case types.HostCheckStatus:
		rc, err := c.listRunner.RunStatus(ctx, dev, target)
		if err != nil {
			return false
		}
		// rc == 0 (active) or rc == 2 (inactive) both mean the device
		// knows this target; rc == 1 means unknown to this device.
		return rc == 0 || rc == 2
	default:
		return canFence(dev, target)
	}
}

// CapableDevices returns every device able to fence target, highest
// priority first, resolving dynamic-list/status host checks as needed.
func (c *Coordinator) CapableDevices(ctx context.Context, target string) []*types.Device {
	all := c.registry.List()
	capable := make([]*types.Device, 0, len(all))
	for _, dev := range all {
		if c.CanFenceWithRunner(ctx, dev, target) {
			capable = append(capable, dev)
		}
	}
	sort.SliceStable(capable, func(i, j int) bool { return capable[i].Priority > capable[j].Priority })
	return capable
}

func (c *Coordinator) queueFor(dev *types.Device) *deviceQueue {
	c.mu.Lock()
	defer c.mu.Unlock()

	q, ok := c.queues[dev.ID]
	if !ok {
		q = newDeviceQueueWithTimeout(dev, c.runner, c.watchdog)
		c.queues[dev.ID] = q
	}
	return q
}

// Fence runs a fence action against target through the highest-priority
// capable device, falls back to the next device on failure, records the
// outcome in history, and broadcasts it cluster-wide.
func (c *Coordinator) Fence(ctx context.Context, target string, action types.FenceAction, origin, clientID string) (types.AsyncFenceCommand, error) {
	devices := c.CapableDevices(ctx, target)
	if len(devices) == 0 {
		return types.AsyncFenceCommand{}, ctlerr.New(ctlerr.UnknownDevice, "fencing.Fence", fmt.Sprintf("no device can fence %s", target), nil)
	}

	cmd := types.AsyncFenceCommand{
		ID:          uuid.NewString(),
		Target:      target,
		Action:      action,
		Origin:      origin,
		ClientID:    clientID,
		SubmittedAt: time.Now(),
	}

	var lastErr error
	for _, dev := range devices {
		params := mergeParams(dev.Params, target)
		c.logger.Debug().Str("device", dev.ID).Str("target", target).
			Interface("params", security.MaskPrivateParams(params, privateFenceParams)).
			Msg("dispatching fence command")

		result := c.queueFor(dev).submit(deviceJob{
			cmd:    cmd,
			params: params,
			result: make(chan deviceResult, 1),
		})

		if result.err == nil {
			dev.LastFencedAt = withFenced(dev.LastFencedAt, target)
			cmd.DeviceID = dev.ID
			cmd.RC = result.rc
			cmd.Output = result.output
			cmd.CompletedAt = time.Now()
			metrics.FenceOperationsTotal.WithLabelValues(string(action), "success").Inc()
			c.finish(cmd)
			return cmd, nil
		}
		lastErr = result.err
		c.logger.Warn().Err(lastErr).Str("device", dev.ID).Str("target", target).Msg("fence attempt failed, trying next device")
	}

	cmd.RC = -1
	cmd.Output = lastErr.Error()
	cmd.CompletedAt = time.Now()
	metrics.FenceOperationsTotal.WithLabelValues(string(action), "failure").Inc()
	c.finish(cmd)
	return cmd, ctlerr.New(ctlerr.AgentFailure, "fencing.Fence", "every capable device failed", lastErr)
}

func mergeParams(params map[string]string, target string) map[string]string {
	merged := make(map[string]string, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["port"] = target
	return merged
}

func withFenced(existing map[string]time.Time, target string) map[string]time.Time {
	if existing == nil {
		existing = make(map[string]time.Time)
	}
	existing[target] = time.Now()
	return existing
}

func (c *Coordinator) finish(cmd types.AsyncFenceCommand) {
	c.history.Record(cmd)

	if c.broker != nil {
		c.broker.Publish(&events.Event{
			Type:    events.EventFenceCompleted,
			Message: "fence operation completed",
			Metadata: map[string]string{
				"target": cmd.Target,
				"action": string(cmd.Action),
				"rc":     fmt.Sprintf("%d", cmd.RC),
				"device": cmd.DeviceID,
			},
		})
	}
	if c.notifier != nil {
		body := fmt.Sprintf("%s:%s:%d:%s", cmd.Target, cmd.Action, cmd.RC, cmd.Origin)
		if err := c.notifier.Send("", messaging.FrameTypeFenceNotify, []byte(body)); err != nil {
			c.logger.Warn().Err(err).Msg("failed to broadcast fence notification")
			if c.broker != nil {
				c.broker.Publish(&events.Event{
					Type:    events.EventFencerDisconnected,
					Message: err.Error(),
				})
			}
		}
	}
}

// Shutdown stops every per-device worker goroutine.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, q := range c.queues {
		q.stop()
	}
}
