package natsclient

import (
	"errors"
	"testing"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "autoflow", cfg.Name)
	assert.Equal(t, -1, cfg.MaxReconnects)
	assert.NotZero(t, cfg.Timeout)
}

func TestNewClientStartsDisconnected(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.False(t, c.IsConnected())
}

func TestConnectionStatusString(t *testing.T) {
	assert.Equal(t, "disconnected", StatusDisconnected.String())
	assert.Equal(t, "connecting", StatusConnecting.String())
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(99).String())
}

func TestReconnectHandlerCountsAndNotifies(t *testing.T) {
	c := NewClient(DefaultConfig(), nil)

	var notified int
	c.SetReconnectCallback(func() { notified++ })

	c.handleReconnect(nil)
	c.handleReconnect(nil)

	assert.Equal(t, int32(2), c.Reconnects())
	assert.Equal(t, 2, notified)
	assert.Equal(t, StatusConnected, c.Status())
}

func TestIsConflictError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"revision mismatch sentinel", ErrRevisionMismatch, true},
		{"key exists sentinel", ErrKeyExists, true},
		{"jetstream key exists", jetstream.ErrKeyExists, true},
		{"raw wrong last sequence", errors.New("nats: wrong last sequence: 12"), true},
		{"raw error code 10071", errors.New("err_code=10071"), true},
		{"unrelated", errors.New("connection refused"), false},
		{"not found is not a conflict", ErrKeyNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConflictError(tt.err))
		})
	}
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, IsNotFoundError(ErrKeyNotFound))
	assert.True(t, IsNotFoundError(jetstream.ErrKeyNotFound))
	assert.True(t, IsNotFoundError(errors.New("nats: key not found")))
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsNotFoundError(ErrRevisionMismatch))
}
