package fencing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentProcessRunSuccess(t *testing.T) {
	proc := AgentProcess{}
	rc, output, err := proc.Run(context.Background(), "/bin/sh", "status", map[string]string{"ip": "10.0.0.1"})
	_ = output

	require.NoError(t, err)
	assert.Equal(t, 0, rc)
}

func TestAgentProcessRunNonzeroExit(t *testing.T) {
	proc := AgentProcess{}
	// /bin/false ignores stdin and always exits 1.
	rc, _, err := proc.Run(context.Background(), "/bin/false", "off", nil)
	assert.Error(t, err)
	assert.Equal(t, 1, rc)
}

func TestAgentProcessRunRespectsContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	proc := AgentProcess{}
	_, _, err := proc.Run(ctx, "/bin/sleep", "reboot", map[string]string{"duration": "5"})
	assert.Error(t, err)
}

func TestParamStreamIncludesActionAndSortedParams(t *testing.T) {
	r := paramStream("reboot", map[string]string{"b": "2", "a": "1"})
	buf := make([]byte, 64)
	n, _ := r.Read(buf)
	got := string(buf[:n])

	assert.Contains(t, got, "action=reboot\n")
	assert.Contains(t, got, "a=1\n")
	assert.Equal(t, "action=reboot\na=1\nb=2\n", got)
}
