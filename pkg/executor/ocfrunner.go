package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nodequorum/controld/pkg/types"
)

// ocfResourceAgentParam is the params key carrying the resource agent's
// executable path. Populated from the CIB resource definition; kept as a
// plain map key rather than a dedicated Resource type since nothing else
// in this tree needs to model a full resource class/provider/type triad.
const ocfResourceAgentParam = "agent"

// OCFRunner invokes OCF-style resource agent scripts with OCF_RESKEY_*
// environment variables, the convention pacemaker's own resource agents
// use. One runner serves every resource on a node; agent path resolution
// happens per call via op.Params.
type OCFRunner struct{}

// NewOCFRunner creates an AgentRunner that shells out to resource agent
// scripts on the host.
func NewOCFRunner() *OCFRunner {
	return &OCFRunner{}
}

// Run executes op's resource agent with a deadline of op.Timeout and
// reports its exit code and combined output, mirroring ExecChecker's
// CommandContext/buffer-capture idiom.
func (r *OCFRunner) Run(ctx context.Context, op types.PendingOperation) (rc int, output string, err error) {
	agent, ok := op.Params[ocfResourceAgentParam]
	if !ok || agent == "" {
		return -2, "", fmt.Errorf("executor: resource %s has no agent path in params", op.ResourceID)
	}

	timeout := op.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, agent, op.Task)
	cmd.Env = ocfEnv(op)

	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined

	runErr := cmd.Run()

	if execCtx.Err() == context.DeadlineExceeded {
		return -1, combined.String(), fmt.Errorf("executor: %s %s timed out after %s", op.ResourceID, op.Task, timeout)
	}
	if runErr == nil {
		return 0, combined.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode(), combined.String(), nil
	}
	return -2, combined.String(), fmt.Errorf("executor: launching %s: %w", agent, runErr)
}

// ocfEnv maps op's params into OCF_RESKEY_* environment variables plus
// the handful of meta variables agents commonly expect.
func ocfEnv(op types.PendingOperation) []string {
	env := []string{
		"OCF_ROOT=/usr/lib/ocf",
		"OCF_RESOURCE_INSTANCE=" + op.ResourceID,
		"OCF_RESKEY_CRM_meta_timeout=" + strconv.FormatInt(op.Timeout.Milliseconds(), 10),
	}
	if op.Interval > 0 {
		env = append(env, "OCF_RESKEY_CRM_meta_interval="+strconv.FormatInt(op.Interval.Milliseconds(), 10))
	}
	for k, v := range op.Params {
		if k == ocfResourceAgentParam {
			continue
		}
		env = append(env, "OCF_RESKEY_"+strings.ToUpper(k)+"="+v)
	}
	return env
}
