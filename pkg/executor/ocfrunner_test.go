package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/types"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestOCFRunnerReturnsZeroOnSuccess(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\necho ok\nexit 0\n")
	runner := NewOCFRunner()

	rc, output, err := runner.Run(context.Background(), types.PendingOperation{
		ResourceID: "db0",
		Task:       "start",
		Timeout:    2 * time.Second,
		Params:     map[string]string{"agent": script},
	})

	require.NoError(t, err)
	assert.Equal(t, 0, rc)
	assert.Contains(t, output, "ok")
}

func TestOCFRunnerPropagatesExitCode(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nexit 7\n")
	runner := NewOCFRunner()

	rc, _, err := runner.Run(context.Background(), types.PendingOperation{
		ResourceID: "db0",
		Task:       "monitor",
		Timeout:    2 * time.Second,
		Params:     map[string]string{"agent": script},
	})

	require.NoError(t, err)
	assert.Equal(t, 7, rc)
}

func TestOCFRunnerTimesOut(t *testing.T) {
	script := writeScript(t, "#!/bin/sh\nsleep 5\n")
	runner := NewOCFRunner()

	_, _, err := runner.Run(context.Background(), types.PendingOperation{
		ResourceID: "db0",
		Task:       "start",
		Timeout:    50 * time.Millisecond,
		Params:     map[string]string{"agent": script},
	})

	require.Error(t, err)
}

func TestOCFRunnerMissingAgentPathErrors(t *testing.T) {
	runner := NewOCFRunner()

	rc, _, err := runner.Run(context.Background(), types.PendingOperation{
		ResourceID: "db0",
		Task:       "start",
		Params:     map[string]string{},
	})

	require.Error(t, err)
	assert.Equal(t, -2, rc)
}
