package fencing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/types"
)

type fakeAgentRunner struct {
	rc     int
	output string
	err    error
	calls  int
}

func (f *fakeAgentRunner) Run(ctx context.Context, agent, action string, params map[string]string) (int, string, error) {
	f.calls++
	return f.rc, f.output, f.err
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) Send(target, frameType string, body []byte) error {
	f.sent = append(f.sent, string(body))
	return f.err
}

func TestFenceSucceedsWithCapableDevice(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "ipmi-1", Agent: "fence_ipmilan", HostCheck: types.HostCheckNone})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	notifier := &fakeNotifier{}
	runner := &fakeAgentRunner{rc: 0, output: "done"}
	c := newCoordinatorWithRunner(registry, notifier, broker, runner)
	defer c.Shutdown()

	cmd, err := c.Fence(context.Background(), "node-a", types.FenceActionReboot, "test", "client-1")
	require.NoError(t, err)
	assert.Equal(t, "ipmi-1", cmd.DeviceID)
	assert.Equal(t, 0, cmd.RC)
	assert.Len(t, notifier.sent, 1)
}

func TestFenceReturnsUnknownDeviceWhenNoneCapable(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "a", HostCheck: types.HostCheckStaticList, HostList: []string{"node-b"}})

	c := newCoordinatorWithRunner(registry, nil, nil, &fakeAgentRunner{})
	defer c.Shutdown()

	_, err := c.Fence(context.Background(), "node-a", types.FenceActionOff, "test", "client-1")
	assert.Error(t, err)
}

func TestFenceFallsBackToNextDeviceOnFailure(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "low", HostCheck: types.HostCheckNone, Priority: 1})
	registry.Register(&types.Device{ID: "high", HostCheck: types.HostCheckNone, Priority: 10})

	failing := &fakeAgentRunner{err: assert.AnError}
	c := newCoordinatorWithRunner(registry, nil, nil, failing)
	defer c.Shutdown()

	// All devices share the same runner in this test, so both attempts
	// fail and the coordinator should report overall failure, not panic,
	// after trying every device.
	_, err := c.Fence(context.Background(), "node-a", types.FenceActionOff, "test", "client-1")
	assert.Error(t, err)
	assert.GreaterOrEqual(t, failing.calls, 1)
}

func TestFenceRecordsHistory(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone})

	c := newCoordinatorWithRunner(registry, nil, nil, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	_, err := c.Fence(context.Background(), "node-a", types.FenceActionReboot, "test", "client-1")
	require.NoError(t, err)

	cmd, ok := c.history.LastAgainst("node-a")
	require.True(t, ok)
	assert.Equal(t, types.FenceActionReboot, cmd.Action)
}

func TestFencePublishesEvent(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	c := newCoordinatorWithRunner(registry, nil, broker, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	_, err := c.Fence(context.Background(), "node-a", types.FenceActionReboot, "test", "client-1")
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventFenceCompleted, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("expected fence.completed event")
	}
}

func TestSetWatchdogAppliesToQueuesCreatedAfterward(t *testing.T) {
	registry := NewRegistry()
	dev := &types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone}
	registry.Register(dev)

	c := newCoordinatorWithRunner(registry, nil, nil, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	c.SetWatchdog(5 * time.Second)

	q := c.queueFor(dev)
	assert.Equal(t, 5*time.Second, q.timeout)
}

func TestFenceBroadcastsOriginInNotifyFenceBody(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone})

	notifier := &fakeNotifier{}
	c := newCoordinatorWithRunner(registry, notifier, nil, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	_, err := c.Fence(context.Background(), "node-a", types.FenceActionReboot, "node-dc", "client-1")
	require.NoError(t, err)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "node-a:reboot:0:node-dc", notifier.sent[0])
}

func TestFenceNotifierFailurePublishesFencerDisconnected(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone})

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	notifier := &fakeNotifier{err: assert.AnError}
	c := newCoordinatorWithRunner(registry, notifier, broker, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	_, err := c.Fence(context.Background(), "node-a", types.FenceActionReboot, "node-dc", "client-1")
	require.NoError(t, err)

	var saw bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			if ev.Type == events.EventFencerDisconnected {
				saw = true
			}
		case <-time.After(2 * time.Second):
			t.Fatal("expected fencer.disconnected event")
		}
		if saw {
			break
		}
	}
	assert.True(t, saw, "expected a fencer.disconnected event after notifier.Send failed")
}

func TestSetWatchdogIgnoresNonPositiveDuration(t *testing.T) {
	registry := NewRegistry()
	dev := &types.Device{ID: "ipmi-1", HostCheck: types.HostCheckNone}
	registry.Register(dev)

	c := newCoordinatorWithRunner(registry, nil, nil, &fakeAgentRunner{rc: 0})
	defer c.Shutdown()

	c.SetWatchdog(0)

	q := c.queueFor(dev)
	assert.Equal(t, defaultDeviceTimeout, q.timeout)
}
