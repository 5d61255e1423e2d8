package ctlerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := New(PeerUnreachable, "messaging.Send", "dial failed", cause)

	assert.Equal(t, PeerUnreachable, KindOf(err))
	assert.True(t, Is(err, PeerUnreachable))
	assert.False(t, Is(err, Timeout))
	assert.True(t, errors.Is(err, cause))
}

func TestKindOfNonCtlerr(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorString(t *testing.T) {
	err := New(BadConfig, "config.Load", "missing node uname", nil)
	assert.Contains(t, err.Error(), "config.Load")
	assert.Contains(t, err.Error(), "missing node uname")
}
