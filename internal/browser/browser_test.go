package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/copyleftdev/gleaner/internal/config"
)

func TestLaunch_UnknownEngine(t *testing.T) {
	cfg := &config.BrowserConfig{Engine: "gecko"}
	_, err := Launch(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gecko")
}

func TestLifecycle(t *testing.T) {
	var lc lifecycle
	assert.Equal(t, StateStarting, lc.current())
	assert.ErrorIs(t, lc.requireReady(), ErrSessionNotReady)

	lc.markReady()
	assert.Equal(t, StateReady, lc.current())
	assert.NoError(t, lc.requireReady())

	closes := 0
	require.NoError(t, lc.doClose(func() error {
		closes++
		return nil
	}))
	assert.Equal(t, StateClosed, lc.current())
	assert.ErrorIs(t, lc.requireReady(), ErrSessionNotReady)

	// Close is idempotent; the close func runs once.
	require.NoError(t, lc.doClose(func() error {
		closes++
		return errors.New("must not run")
	}))
	assert.Equal(t, 1, closes)
}
