package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeTOML(t, `
version = "1.2.0"

[lattice]
model = "gbm"
exercise = "American"
max_resolutions = 10
workers = 4

[cache]
enabled = true
ttl = "30s"
`)
	var cfg Config
	require.NoError(t, Load(path, &cfg))

	assert.Equal(t, "1.2.0", cfg.Version)
	assert.Equal(t, "gbm", cfg.Lattice.Model)
	assert.Equal(t, "American", cfg.Lattice.Exercise)
	assert.Equal(t, 10, cfg.Lattice.MaxResolutions)
	assert.Equal(t, 4, cfg.Lattice.Workers)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	// 未出现在文件中的键取默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "euler", cfg.MonteCarlo.Scheme)
	assert.Equal(t, 100, cfg.MonteCarlo.Steps)
	assert.Equal(t, 64, cfg.Cache.MaxMB)
	assert.Equal(t, 10, cfg.Lattice.Resolutions)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("APP_LATTICE_MODEL", "gbm")
	path := writeTOML(t, `[lattice]
model = "crr"
`)
	var cfg Config
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "gbm", cfg.Lattice.Model)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"resolutions":   "[lattice]\nmax_resolutions = 17\n",
		"above maximum": "[lattice]\nresolutions = 12\nmax_resolutions = 10\n",
		"zero default":  "[lattice]\nresolutions = 0\n",
		"model":         "[lattice]\nmodel = \"trinomial\"\n",
		"scheme":        "[montecarlo]\nscheme = \"milstein\"\n",
		"level":         "[log]\nlevel = \"trace\"\n",
		"ratio":         "[tracing]\nsampler_ratio = 1.5\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var cfg Config
			assert.Error(t, Load(writeTOML(t, body), &cfg))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	var cfg Config
	assert.Error(t, Load(filepath.Join(t.TempDir(), "absent.toml"), &cfg))
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestMask(t *testing.T) {
	m := map[string]any{
		"tracing": map[string]any{"otlp_endpoint": "collector:4317", "enabled": true},
		"version": "1",
	}
	mask(m)
	assert.Equal(t, "******", m["tracing"].(map[string]any)["otlp_endpoint"])
	assert.Equal(t, true, m["tracing"].(map[string]any)["enabled"])
	assert.Equal(t, "1", m["version"])
}

func TestReloadHookUnregister(t *testing.T) {
	var calls []string
	first := RegisterReloadHook(func(*Config) { calls = append(calls, "first") })
	second := RegisterReloadHook(func(*Config) { calls = append(calls, "second") })
	defer second()

	for _, hook := range reloadHooks() {
		hook(Default())
	}
	assert.Equal(t, []string{"first", "second"}, calls)

	first()
	first()
	calls = nil
	for _, hook := range reloadHooks() {
		hook(Default())
	}
	assert.Equal(t, []string{"second"}, calls)

	assert.NotPanics(t, RegisterReloadHook(nil))
}

func TestPrintWithMask(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg := Default()
	cfg.Tracing.OTLPEndpoint = "collector.internal:4317"
	PrintWithMask(logger, cfg)

	out := buf.String()
	assert.Contains(t, out, "current effective configuration")
	assert.Contains(t, out, "******")
	assert.NotContains(t, out, "collector.internal")
	assert.Contains(t, out, "crr")
}
