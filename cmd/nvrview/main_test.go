// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nvrview.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	good := writeConfig(t, "nvr:\n  baseUrl: http://nvr.local:5000\n")
	bad := writeConfig(t, "nvr:\n  baseUrl: http://nvr.local:5000\n  pasword: x\n")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, configCLI([]string{"validate", "-f", good}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "is valid")

	stdout.Reset()
	assert.Equal(t, 1, configCLI([]string{"validate", "--file", bad}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Configuration error")

	assert.Equal(t, 2, configCLI([]string{"explode"}, &stdout, &stderr))
}

func TestConfigDump_RedactsToken(t *testing.T) {
	path := writeConfig(t, "nvr:\n  baseUrl: http://nvr.local:5000\n  token: hunter2\ncameras: [porch]\n")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path}, &stdout, &stderr), stderr.String())
	out := stdout.String()
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "<redacted>")
	assert.Contains(t, out, "baseUrl: http://nvr.local:5000")
	assert.Contains(t, out, "- porch")

	stdout.Reset()
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path, "--format=json"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(stdout.String()), "{"))

	assert.Equal(t, 2, configCLI([]string{"dump", "-f", path, "--format=toml"}, &stdout, &stderr))
}

func TestHealthcheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	assert.Equal(t, 0, healthcheck(addr, "live", time.Second))
	assert.Equal(t, 1, healthcheck(addr, "ready", time.Second))
	assert.Equal(t, 1, healthcheck("no-port", "live", time.Second))
}
