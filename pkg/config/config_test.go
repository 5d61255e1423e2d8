package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "controld.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
node_uname: node-a
cluster_name: prod-1
data_dir: /var/lib/controld
transport_bind_addr: 10.0.0.1:5560
cib_endpoint: unix:///run/cib.sock
raft_bind_addr: 10.0.0.1:5561
election_timeout: 20s
batch_limit_floor: 1
batch_limit_ceil: 30
fencing_watchdog: 60s
shutdown_escalate: 5s
log_level: info
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", cfg.NodeUname)
	assert.Equal(t, 30, cfg.BatchLimitCeil)
}

func TestLoadMissingRequiredField(t *testing.T) {
	path := writeConfig(t, `
cluster_name: prod-1
data_dir: /var/lib/controld
transport_bind_addr: 10.0.0.1:5560
cib_endpoint: unix:///run/cib.sock
raft_bind_addr: 10.0.0.1:5561
election_timeout: 20s
batch_limit_floor: 1
batch_limit_ceil: 30
fencing_watchdog: 60s
shutdown_escalate: 5s
log_level: info
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
node_uname: node-a
cluster_name: prod-1
data_dir: /var/lib/controld
transport_bind_addr: 10.0.0.1:5560
cib_endpoint: unix:///run/cib.sock
raft_bind_addr: 10.0.0.1:5561
election_timeout: 20s
batch_limit_floor: 1
batch_limit_ceil: 30
fencing_watchdog: 60s
shutdown_escalate: 5s
log_level: verbose
`)

	_, err := Load(path)
	assert.Error(t, err)
}
