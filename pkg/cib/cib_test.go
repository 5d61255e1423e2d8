package cib

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodequorum/controld/pkg/types"
)

func newTestClient(t *testing.T) *BoltClient {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cib.db")
	c, err := NewBoltClient(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestUpdateAndQuery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, "/cib/status/node_state[@uname='node-a']", []byte("<node_state/>")))

	doc, err := c.Query(ctx, "/cib/status/node_state[@uname='node-a']")
	require.NoError(t, err)
	assert.Equal(t, "<node_state/>", string(doc))
}

func TestQueryMissingPath(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Query(context.Background(), "/cib/status/nope")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Update(ctx, "/cib/status/x", []byte("<x/>")))
	require.NoError(t, c.Remove(ctx, "/cib/status/x"))

	_, err := c.Query(ctx, "/cib/status/x")
	assert.Error(t, err)
}

func TestSubscribeReceivesScopedNotifications(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	ch := c.Subscribe("/cib/status/")

	require.NoError(t, c.Update(ctx, "/cib/status/node_state[@uname='node-a']", []byte("<node_state/>")))
	require.NoError(t, c.Update(ctx, "/cib/configuration/resources", []byte("<resources/>")))

	select {
	case n := <-ch:
		assert.Equal(t, ChangeUpdate, n.Op)
		assert.Contains(t, n.Path, "/cib/status/")
	case <-time.After(time.Second):
		t.Fatal("expected notification")
	}

	select {
	case n := <-ch:
		t.Fatalf("unexpected second notification for out-of-scope path: %+v", n)
	default:
	}
}

func TestEncodeDecodeMagic(t *testing.T) {
	key := types.TransitionKey{GraphID: 3, ActionID: 7, TargetRC: 0, UUID: "550e8400-e29b-41d4-a716-446655440000"}
	magic := EncodeMagic(0, 0, key)

	opStatus, rc, decoded, err := DecodeMagic(magic)
	require.NoError(t, err)
	assert.Equal(t, 0, opStatus)
	assert.Equal(t, 0, rc)
	assert.Equal(t, key, decoded)
}

func TestDecodeMagicMalformed(t *testing.T) {
	_, _, _, err := DecodeMagic("not-a-magic-string")
	assert.Error(t, err)
}
