// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const reloadBase = `
nvr:
  baseUrl: http://nvr.local:5000
transport:
  retryBudget: 3
`

func loadHolder(t *testing.T, body string) (*ConfigHolder, string) {
	t.Helper()
	path := writeConfig(t, body)
	loader := NewLoader(path, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	return NewConfigHolder(cfg, loader, path), path
}

func TestConfigHolder_Reload(t *testing.T) {
	h, path := loadHolder(t, reloadBase)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte(reloadBase+"playback:\n  liveOnActivity: true\n"), 0o600))
	require.NoError(t, h.Reload(context.Background()))

	assert.True(t, h.Get().Playback.LiveOnActivity)
	select {
	case cfg := <-ch:
		assert.True(t, cfg.Playback.LiveOnActivity)
	default:
		t.Fatal("listener not notified")
	}
}

func TestConfigHolder_InvalidReloadKeepsCurrent(t *testing.T) {
	h, path := loadHolder(t, reloadBase)
	ch := make(chan AppConfig, 1)
	h.RegisterListener(ch)

	require.NoError(t, os.WriteFile(path, []byte("transport:\n  retryBudget: 0\n"), 0o600))
	require.Error(t, h.Reload(context.Background()))

	assert.Equal(t, 3, h.Get().Transport.RetryBudget)
	assert.Empty(t, ch)
}

func TestConfigHolder_FullListenerDoesNotBlock(t *testing.T) {
	h, _ := loadHolder(t, reloadBase)
	ch := make(chan AppConfig)
	h.RegisterListener(ch)
	require.NoError(t, h.Reload(context.Background()))
}

func TestConfigHolder_Watcher(t *testing.T) {
	h, path := loadHolder(t, reloadBase)
	h.debounce = 20 * time.Millisecond
	ch := make(chan AppConfig, 4)
	h.RegisterListener(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.StartWatcher(ctx))

	require.NoError(t, os.WriteFile(path, []byte(reloadBase+"backoff:\n  maxAttempts: 4\n"), 0o600))

	select {
	case cfg := <-ch:
		assert.Equal(t, 4, cfg.Backoff.MaxAttempts)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}
	h.Stop()
	// Let a debounce callback already in flight finish before the leak check.
	time.Sleep(50 * time.Millisecond)
}
