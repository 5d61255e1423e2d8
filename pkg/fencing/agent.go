package fencing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/nodequorum/controld/pkg/metrics"
)

// killGracePeriod is how long a fence agent gets to exit after SIGTERM
// before the coordinator escalates to SIGKILL.
const killGracePeriod = 5 * time.Second

// AgentProcess runs a single fence-agent invocation as a child process,
// streaming parameters on stdin as "name=value\n" lines the way stonith
// agents expect, and escalating SIGTERM to SIGKILL if the agent ignores
// the context deadline.
type AgentProcess struct{}

// Run executes agent with the given action ("on", "off", "reboot",
// "status", "list", "monitor") and parameters, returning its exit code
// and captured stdout.
func (AgentProcess) Run(ctx context.Context, agent, action string, params map[string]string) (rc int, output string, err error) {
	cmd := exec.Command(agent)
	cmd.Stdin = paramStream(action, params)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = runWithEscalation(ctx, cmd)
	metrics.FenceOperationDuration.WithLabelValues(agent).Observe(time.Since(start).Seconds())

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), fmt.Errorf("%s %s: %w: %s", agent, action, err, stderr.String())
		}
		return -1, stdout.String(), fmt.Errorf("%s %s: %w: %s", agent, action, err, stderr.String())
	}
	return 0, stdout.String(), nil
}

// paramStream renders action and params as the "key=value\n" stream
// stonith fence agents read from stdin, with a deterministic key order.
func paramStream(action string, params map[string]string) io.Reader {
	names := make([]string, 0, len(params)+1)
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "action=%s\n", action)
	for _, name := range names {
		fmt.Fprintf(&buf, "%s=%s\n", name, params[name])
	}
	return &buf
}

// runWithEscalation runs cmd to completion, sending SIGTERM when ctx is
// cancelled and following up with SIGKILL if the process hasn't exited
// within killGracePeriod.
func runWithEscalation(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case err := <-done:
			return err
		case <-time.After(killGracePeriod):
			_ = cmd.Process.Kill()
			return <-done
		}
	}
}
