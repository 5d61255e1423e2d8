package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nodequorum/controld/pkg/cib"
	"github.com/nodequorum/controld/pkg/ctlerr"
	"github.com/nodequorum/controld/pkg/events"
	"github.com/nodequorum/controld/pkg/metrics"
	"github.com/nodequorum/controld/pkg/security"
	"github.com/nodequorum/controld/pkg/types"
)

// AgentRunner invokes one resource-agent action and reports its outcome.
// The production implementation shells out to the agent binary; tests
// substitute a fake that returns canned results without touching os/exec.
type AgentRunner interface {
	Run(ctx context.Context, op types.PendingOperation) (rc int, output string, err error)
}

// historyKey identifies one resource operation's history slot.
type historyKey struct {
	resourceID string
	task       string
	interval   time.Duration
}

// ResourceConfig is the registration record for one resource known to this
// node's executor: agent identity plus the parameter classes needed for
// restart/secure digest computation. Remote marks a Pacemaker-Remote
// connection resource, which reprobe must never unregister — doing so
// would tear down the remote node's membership along with it.
type ResourceConfig struct {
	ID         string
	Standard   string
	Provider   string
	Type       string
	Remote     bool
	ParamSpecs []ParamSpec
}

// Client is the controller's executor client: the LRM half of the
// controller/LRM split. It tracks per-node resource registrations, history,
// cached stop-parameters, and in-flight operations, and drives
// process_event, turning a completed invocation into a history update and,
// where one is pending, a transition confirmation.
type Client struct {
	nodeUname string
	runner    AgentRunner
	broker    *events.Broker
	logger    zerolog.Logger

	cib                 cib.Client
	shutdownLockEnabled bool

	mu         sync.Mutex
	resources  map[string]ResourceConfig
	history    map[historyKey]*types.ResourceHistoryEntry
	stopParams map[string][]byte // resourceID -> encrypted JSON instance params
	pending    map[int]*types.PendingOperation
	nextID     int
}

// NewClient creates an executor client for one cluster node.
func NewClient(nodeUname string, runner AgentRunner, broker *events.Broker, logger zerolog.Logger) *Client {
	return &Client{
		nodeUname:  nodeUname,
		runner:     runner,
		broker:     broker,
		logger:     logger.With().Str("component", "executor").Str("node", nodeUname).Logger(),
		resources:  make(map[string]ResourceConfig),
		history:    make(map[historyKey]*types.ResourceHistoryEntry),
		stopParams: make(map[string][]byte),
		pending:    make(map[int]*types.PendingOperation),
	}
}

// SetCIB attaches the CIB client used to record operation history and
// shutdown-lock state. A nil CIB (the default) means process_event only
// direct-acks through the broker, which is sufficient for tests and for
// nodes that don't yet have a CIB connection.
func (c *Client) SetCIB(client cib.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cib = client
}

// SetShutdownLockEnabled toggles resource-shutdown-lock accounting in
// process_event step 6.
func (c *Client) SetShutdownLockEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownLockEnabled = enabled
}

// Register records a resource's agent identity and parameter classes so
// later invocations can compute digests and cache stop-parameters.
func (c *Client) Register(cfg ResourceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources[cfg.ID] = cfg
}

// Unregister drops a resource's registration. History and cached
// stop-parameters survive; callers that also want those gone should call
// Delete.
func (c *Client) Unregister(resourceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resources, resourceID)
}

// Delete erases local executor state for a resource (history,
// stop-parameters, registration) and, if a CIB client is attached, its CIB
// history too.
func (c *Client) Delete(ctx context.Context, resourceID string) error {
	c.mu.Lock()
	delete(c.resources, resourceID)
	delete(c.stopParams, resourceID)
	for key := range c.history {
		if key.resourceID == resourceID {
			delete(c.history, key)
		}
	}
	cibClient := c.cib
	c.mu.Unlock()

	if cibClient == nil {
		return nil
	}
	if err := cibClient.Remove(ctx, c.cibHistoryPath(resourceID)); err != nil {
		return ctlerr.New(ctlerr.Io, "executor.Delete", fmt.Sprintf("removing CIB history for %s", resourceID), err)
	}
	return nil
}

// Refresh forces a full resync of local history into the CIB.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.Lock()
	cibClient := c.cib
	entries := make([]*types.ResourceHistoryEntry, 0, len(c.history))
	for _, entry := range c.history {
		entries = append(entries, entry)
	}
	c.mu.Unlock()

	if cibClient == nil {
		return nil
	}
	for _, entry := range entries {
		doc, err := json.Marshal(entry)
		if err != nil {
			return ctlerr.New(ctlerr.Protocol, "executor.Refresh", fmt.Sprintf("encoding history for %s", entry.ResourceID), err)
		}
		path := c.cibOpPath(entry.ResourceID, entry.Task, entry.Interval)
		if err := cibClient.Update(ctx, path, doc); err != nil {
			return ctlerr.New(ctlerr.Io, "executor.Refresh", fmt.Sprintf("writing history for %s", entry.ResourceID), err)
		}
	}
	return nil
}

// Reprobe unregisters every non-remote-connection resource, deletes its
// local and CIB history, and returns the resource ids that need
// re-detection. Pacemaker-Remote connection resources are left registered:
// unregistering one would tear down the remote node's membership along
// with it.
func (c *Client) Reprobe(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	var ids []string
	for id, cfg := range c.resources {
		if cfg.Remote {
			continue
		}
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.Delete(ctx, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// Fail synthesizes a failed result for resourceID/task as though the
// executor had reported it, for callers (e.g. the fencing coordinator
// reacting to a confirmed-dead peer) that need to force a resource into
// the failed state without an actual agent invocation.
func (c *Client) Fail(ctx context.Context, resourceID, task string, interval time.Duration, reason string) {
	op := &types.PendingOperation{
		NodeUname:  c.nodeUname,
		ResourceID: resourceID,
		Task:       task,
		Interval:   interval,
		StartedAt:  time.Now(),
	}
	c.processEvent(ctx, op, ocfGenericError, opStatusError, reason, false)
}

// Invoke starts a resource-agent action asynchronously and returns the
// call ID the caller should expect back in a later op.completed event.
// key is the zero TransitionKey when the action isn't part of a transition
// graph (e.g. an operator-initiated probe).
func (c *Client) Invoke(ctx context.Context, resourceID, task string, interval, timeout time.Duration, params map[string]string, key types.TransitionKey) int {
	c.mu.Lock()
	c.nextID++
	callID := c.nextID

	runCtx, cancel := context.WithCancel(ctx)
	op := &types.PendingOperation{
		CallID:        callID,
		NodeUname:     c.nodeUname,
		ResourceID:    resourceID,
		Task:          task,
		Interval:      interval,
		Timeout:       timeout,
		Params:        params,
		TransitionKey: key,
		StartedAt:     time.Now(),
		Cancel:        cancel,
	}
	c.pending[callID] = op
	metrics.PendingOperationsTotal.Set(float64(len(c.pending)))
	c.mu.Unlock()

	go c.run(runCtx, op)
	return callID
}

// Cancel aborts a pending operation if it is still in flight.
func (c *Client) Cancel(callID int) bool {
	c.mu.Lock()
	op, ok := c.pending[callID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	op.Cancel()
	return true
}

func (c *Client) run(ctx context.Context, op *types.PendingOperation) {
	execCtx := ctx
	var cancelTimeout context.CancelFunc
	if op.Timeout > 0 {
		execCtx, cancelTimeout = context.WithTimeout(ctx, op.Timeout)
		defer cancelTimeout()
	}

	start := time.Now()
	rc, output, err := c.runner.Run(execCtx, *op)
	duration := time.Since(start)

	metrics.ExecutorCallDuration.WithLabelValues(op.Task).Observe(duration.Seconds())

	cancelled := ctx.Err() == context.Canceled
	opStatus := opStatusComplete
	switch {
	case cancelled:
		opStatus = opStatusCancelled
	case err != nil:
		opStatus = opStatusError
		c.logger.Warn().Err(err).Str("task", op.Task).Str("resource", op.ResourceID).Msg("resource agent invocation failed")
	}
	metrics.ExecutorCallsTotal.WithLabelValues(op.Task, rcLabel(rc)).Inc()

	c.processEvent(ctx, op, rc, opStatus, output, cancelled)
}

// operation status values, matching the controller's crm_op_status scale
// closely enough for history bookkeeping (exact codes aren't load-bearing
// here since nothing outside this package inspects them numerically).
const (
	opStatusComplete  = 0
	opStatusCancelled = 1
	opStatusError     = 4
)

// OCF resource-agent return codes relevant to process_event's
// error-classification normalization (step 3) and shutdown-lock
// accounting (step 6).
const (
	ocfGenericError   = 1
	ocfNotRunning     = 7
	ocfRunningMaster  = 8
	ocfDegraded       = 190
	ocfDegradedMaster = 191
)

func rcLabel(rc int) string {
	if rc == 0 {
		return "0"
	}
	return "nonzero"
}

// normalizeOpStatus implements process_event step 3: not-running,
// running-master and the degraded variants are classifications the
// scheduler makes sense of, not executor errors, so an invocation that
// merely surfaced one of these rcs is never treated as a failed op-status.
func normalizeOpStatus(rc, opStatus int) int {
	switch rc {
	case ocfNotRunning, ocfRunningMaster, ocfDegraded, ocfDegradedMaster:
		if opStatus == opStatusError {
			return opStatusComplete
		}
	}
	return opStatus
}

// cibHistoryPath returns the CIB path for a resource's lrm_resource node.
func (c *Client) cibHistoryPath(resourceID string) string {
	return fmt.Sprintf("/cib/status/node_state[@uname='%s']/lrm/lrm_resource[@id='%s']", c.nodeUname, resourceID)
}

// cibOpPath returns the CIB path for one operation's history entry.
func (c *Client) cibOpPath(resourceID, task string, interval time.Duration) string {
	return fmt.Sprintf("%s/lrm_rsc_op[@id='%s_%s_%d']", c.cibHistoryPath(resourceID), resourceID, task, interval/time.Millisecond)
}

// cibLockPath returns the CIB path for a resource's shutdown-lock marker.
func (c *Client) cibLockPath(resourceID string) string {
	return c.cibHistoryPath(resourceID) + "/lock_time"
}

// recordableEntry is the JSON shape written to the CIB for one operation.
type recordableEntry struct {
	Magic  string `json:"magic"`
	RC     int    `json:"rc"`
	Output string `json:"output,omitempty"`
}

// shouldRecord implements process_event step 5: cancellations and
// operations missing a resource id are direct-acked through the broker
// only, never written to the CIB.
func shouldRecord(op *types.PendingOperation, opStatus int) bool {
	if opStatus == opStatusCancelled {
		return false
	}
	return op.ResourceID != ""
}

// processEvent turns one completed invocation into a resource history
// update and, when a transition graph is waiting on it, a confirmation
// event carried by the transition key attached at Invoke time. It follows
// the controller's process_event pipeline: classification normalization,
// CIB recording vs. direct-ack, shutdown-lock accounting, in-memory
// history bookkeeping, and a direct ack on a stale cancellation.
func (c *Client) processEvent(ctx context.Context, op *types.PendingOperation, rc, opStatus int, output string, cancelled bool) {
	opStatus = normalizeOpStatus(rc, opStatus)

	c.mu.Lock()
	delete(c.pending, op.CallID)
	metrics.PendingOperationsTotal.Set(float64(len(c.pending)))

	key := historyKey{resourceID: op.ResourceID, task: op.Task, interval: op.Interval}
	entry := c.history[key]
	if entry == nil {
		entry = &types.ResourceHistoryEntry{
			NodeUname:  c.nodeUname,
			ResourceID: op.ResourceID,
			Task:       op.Task,
			Interval:   op.Interval,
		}
		c.history[key] = entry
	}
	entry.CallID = op.CallID
	entry.RC = rc
	entry.OpStatus = opStatus
	entry.LastRun = op.StartedAt
	entry.LastRC = time.Now()

	c.accountShutdownLock(entry, op, rc)
	c.cacheStopParamsLocked(op, rc)

	// step 7: a non-recurring, non-monitor completion drops every recurring
	// entry still tracked for this resource — the resource's steady state
	// has changed and stale monitor history would misreport it.
	if op.Interval == 0 && op.Task != "monitor" {
		for k := range c.history {
			if k.resourceID == op.ResourceID && k.interval > 0 {
				delete(c.history, k)
			}
		}
	}

	cibClient := c.cib
	lockTime := entry.LockTime
	staleFailure := cancelled && entry.OpStatus == opStatusError
	c.mu.Unlock()

	if cibClient != nil {
		c.recordToCIB(ctx, cibClient, op, rc, opStatus, output, lockTime, cancelled)
	}

	c.publish(op, rc, output, cancelled, staleFailure)
}

// accountShutdownLock implements process_event step 6. Must be called
// with c.mu held.
func (c *Client) accountShutdownLock(entry *types.ResourceHistoryEntry, op *types.PendingOperation, rc int) {
	if !c.shutdownLockEnabled {
		entry.LockTime = time.Time{}
		return
	}
	preserve := (op.Task == "stop" && rc == 0) || (op.Task == "monitor" && rc == ocfNotRunning)
	if preserve {
		entry.LockTime = time.Now()
		return
	}
	entry.LockTime = time.Time{}
}

// cacheStopParamsLocked implements the stop-parameter cache: on a
// successful start, reload, or monitor, the instance parameters are
// encrypted and cached so a later stop can use the historical parameter
// set even after the resource's configuration has changed. Must be called
// with c.mu held.
func (c *Client) cacheStopParamsLocked(op *types.PendingOperation, rc int) {
	if rc != 0 || len(op.Params) == 0 {
		return
	}
	switch op.Task {
	case "start", "reload", "monitor":
	default:
		return
	}

	doc, err := json.Marshal(op.Params)
	if err != nil {
		c.logger.Warn().Err(err).Str("resource", op.ResourceID).Msg("failed to encode stop-parameters")
		return
	}
	encrypted, err := security.Encrypt(doc)
	if err != nil {
		c.logger.Debug().Err(err).Str("resource", op.ResourceID).Msg("stop-parameter cache skipped, no cluster encryption key")
		return
	}
	c.stopParams[op.ResourceID] = encrypted
}

// StopParams returns the instance parameters cached from the last
// successful start, reload, or monitor of resourceID.
func (c *Client) StopParams(resourceID string) (map[string]string, bool) {
	c.mu.Lock()
	encrypted, ok := c.stopParams[resourceID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}

	doc, err := security.Decrypt(encrypted)
	if err != nil {
		c.logger.Warn().Err(err).Str("resource", resourceID).Msg("failed to decrypt cached stop-parameters")
		return nil, false
	}
	var params map[string]string
	if err := json.Unmarshal(doc, &params); err != nil {
		c.logger.Warn().Err(err).Str("resource", resourceID).Msg("failed to decode cached stop-parameters")
		return nil, false
	}
	return params, true
}

func (c *Client) recordToCIB(ctx context.Context, cibClient cib.Client, op *types.PendingOperation, rc, opStatus int, output string, lockTime time.Time, cancelled bool) {
	if shouldRecord(op, opStatus) {
		doc, err := json.Marshal(recordableEntry{
			Magic:  cib.EncodeMagic(opStatus, rc, op.TransitionKey),
			RC:     rc,
			Output: output,
		})
		if err != nil {
			c.logger.Warn().Err(err).Str("resource", op.ResourceID).Msg("failed to encode CIB history entry")
		} else if err := cibClient.Update(ctx, c.cibOpPath(op.ResourceID, op.Task, op.Interval), doc); err != nil {
			c.logger.Warn().Err(err).Str("resource", op.ResourceID).Msg("failed to record operation history in CIB")
		}
	}

	if op.ResourceID == "" {
		return
	}
	if lockTime.IsZero() {
		if err := cibClient.Remove(ctx, c.cibLockPath(op.ResourceID)); err != nil {
			c.logger.Debug().Err(err).Str("resource", op.ResourceID).Msg("failed to clear shutdown-lock in CIB")
		}
		return
	}
	if err := cibClient.Update(ctx, c.cibLockPath(op.ResourceID), []byte(lockTime.Format(time.RFC3339))); err != nil {
		c.logger.Warn().Err(err).Str("resource", op.ResourceID).Msg("failed to record shutdown-lock in CIB")
	}
}

func (c *Client) publish(op *types.PendingOperation, rc int, output string, cancelled, staleFailure bool) {
	if c.broker == nil {
		return
	}

	meta := map[string]string{
		"resource_id": op.ResourceID,
		"task":        op.Task,
		"node":        c.nodeUname,
		"rc":          rcLabel(rc),
		"output":      output,
	}
	if op.TransitionKey != (types.TransitionKey{}) {
		meta["transition_key"] = op.TransitionKey.String()
	}
	if cancelled {
		meta["cancelled"] = "true"
	}

	c.broker.Publish(&events.Event{
		Type:     events.EventOpCompleted,
		Message:  "resource operation completed",
		Metadata: meta,
	})

	// step 8: a user-requested cancellation that still left behind a
	// failed history entry gets a second, explicit direct ack so the
	// transition engine doesn't stall waiting for a confirmation that a
	// cancelled operation will never otherwise produce.
	if staleFailure {
		c.broker.Publish(&events.Event{
			Type:     events.EventOpCompleted,
			Message:  "direct ack for cancelled operation with stale failure",
			Metadata: meta,
		})
	}
}

// UpdateDigests records the restart and secure digests computed for the
// most recent invocation of resourceID/task, so the transition engine can
// later tell a true parameter change from a reloadable one.
func (c *Client) UpdateDigests(resourceID, task string, interval time.Duration, params map[string]string, specs []ParamSpec) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := historyKey{resourceID: resourceID, task: task, interval: interval}
	entry := c.history[key]
	if entry == nil {
		entry = &types.ResourceHistoryEntry{NodeUname: c.nodeUname, ResourceID: resourceID, Task: task, Interval: interval}
		c.history[key] = entry
	}
	entry.RestartDigest = RestartDigest(params, specs)
	entry.SecureDigest = SecureDigest(params, specs)
}

// History returns the last known outcome for one resource operation.
func (c *Client) History(resourceID, task string, interval time.Duration) (types.ResourceHistoryEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.history[historyKey{resourceID: resourceID, task: task, interval: interval}]
	if !ok {
		return types.ResourceHistoryEntry{}, false
	}
	return *entry, true
}

// PendingCount returns the number of in-flight operations.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// VerifyStopped scans pending operations and resource history to decide
// whether this client can be safely disconnected. Recurring operations
// (Interval > 0) are cancelled outright rather than counted; a single
// pending non-recurring operation blocks unless terminal is set, which
// matches S_TERMINATE logging the violation instead of blocking on it.
func (c *Client) VerifyStopped(terminal bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	blocked := false
	for callID, op := range c.pending {
		if op.Interval > 0 {
			op.Cancel()
			delete(c.pending, callID)
			continue
		}
		if terminal {
			c.logger.Error().Int("call_id", callID).Str("resource", op.ResourceID).Msg("pending operation at terminate")
			continue
		}
		blocked = true
	}
	if blocked {
		return false
	}

	latest := make(map[string]*types.ResourceHistoryEntry, len(c.history))
	for _, entry := range c.history {
		cur, ok := latest[entry.ResourceID]
		if !ok || entry.LastRC.After(cur.LastRC) {
			latest[entry.ResourceID] = entry
		}
	}

	for resourceID, entry := range latest {
		if resourceIsStopped(entry) {
			continue
		}
		if terminal {
			c.logger.Error().Str("resource", resourceID).Str("task", entry.Task).Msg("resource still active at terminate")
			continue
		}
		return false
	}
	return true
}

// resourceIsStopped mirrors controld_execd.c's is_rsc_active, inverted:
// a successful stop or migrate, "not running", or a fatally
// misconfigured non-recurring probe all count as not blocking shutdown.
func resourceIsStopped(entry *types.ResourceHistoryEntry) bool {
	const ocfNotConfigured = 6
	switch {
	case entry.RC == 0 && entry.Task == "stop":
		return true
	case entry.RC == 0 && entry.Task == "migrate_to":
		return true
	case entry.RC == ocfNotRunning:
		return true
	case entry.RC == ocfNotConfigured && entry.Interval == 0:
		return true
	}
	return false
}
