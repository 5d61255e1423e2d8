package fencing

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nodequorum/controld/pkg/types"
)

// ListRunner runs a device's "list" or "status" agent action outside the
// normal async command path, used only by the host-check dispatch below.
// Production wiring points this at the same AgentProcess invocation the
// command queue uses; tests substitute a fake.
type ListRunner interface {
	RunList(ctx context.Context, dev *types.Device) (output string, err error)
	RunStatus(ctx context.Context, dev *types.Device, target string) (rc int, err error)
}

// targetListRefreshInterval matches commands.c's "+60 < now" dynamic-list
// cache window.
const targetListRefreshInterval = 60 * time.Second

type targetListCache struct {
	mu       sync.Mutex
	targets  map[string][]string // device id -> target aliases
	age      map[string]time.Time
	disabled map[string]bool // dynamic-list queries failed; stop retrying
}

func newTargetListCache() *targetListCache {
	return &targetListCache{
		targets:  make(map[string][]string),
		age:      make(map[string]time.Time),
		disabled: make(map[string]bool),
	}
}

// refresh re-runs the device's "list" action if the cached target list is
// stale, mirroring can_fence_host_with_device's dynamic-list branch.
func (c *targetListCache) refresh(ctx context.Context, dev *types.Device, runner ListRunner) []string {
	c.mu.Lock()
	if c.disabled[dev.ID] {
		c.mu.Unlock()
		return nil
	}
	age, known := c.age[dev.ID]
	fresh := known && time.Since(age) < targetListRefreshInterval
	cached := c.targets[dev.ID]
	c.mu.Unlock()

	if fresh {
		return cached
	}
	if runner == nil {
		return cached
	}

	output, err := runner.RunList(ctx, dev)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.disabled[dev.ID] = true
		return cached
	}
	targets := parseHostList(output)
	c.targets[dev.ID] = targets
	c.age[dev.ID] = time.Now()
	return targets
}

func parseHostList(output string) []string {
	fields := strings.Fields(output)
	hosts := make([]string, 0, len(fields))
	for _, f := range fields {
		hosts = append(hosts, strings.ToLower(strings.TrimSpace(f)))
	}
	return hosts
}

func containsHost(hosts []string, host string) bool {
	for _, h := range hosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// canFence decides whether dev is able to fence target, dispatching on the
// device's configured HostCheckMode. The "status" and "dynamic-list" modes
// require a ListRunner, used by Coordinator.CanFenceWithRunner; canFence alone
// answers the static/none cases that need no agent invocation.
func canFence(dev *types.Device, target string) bool {
	if dev == nil {
		return false
	}
	if target == "" {
		return true
	}

	switch dev.HostCheck {
	case types.HostCheckNone:
		return true
	case types.HostCheckStaticList:
		return containsHost(dev.HostList, target)
	case types.HostCheckDynamicList, types.HostCheckStatus:
		// Resolved by the coordinator via CanFenceWithRunner, which has
		// the ListRunner needed to refresh/query. Without one, fall back
		// to the static host list if present.
		return containsHost(dev.HostList, target)
	default:
		return false
	}
}

// Coordinator-level host-check dispatch requiring a ListRunner lives in
// coordinator.go's CanFenceWithRunner, which this file's cache backs.
