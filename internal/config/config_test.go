package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.85, cfg.Engine.DecayFactor)
	assert.Equal(t, 256, cfg.Audio.Spectrum.FFTSize)
	assert.Equal(t, ":8765", cfg.Server.Listen)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fps", func(c *Config) { c.Audio.FPS = 0 }},
		{"fft size", func(c *Config) { c.Audio.Spectrum.FFTSize = 100 }},
		{"decay", func(c *Config) { c.Engine.DecayFactor = 1 }},
		{"gate", func(c *Config) { c.Engine.VolumeGate = -0.1 }},
		{"listen", func(c *Config) { c.Server.Listen = "" }},
		{"path", func(c *Config) { c.Server.StreamPath = "ws" }},
		{"send buffer", func(c *Config) { c.Server.SendBuffer = 0 }},
		{"rig", func(c *Config) { c.Model.Rig = "vrm" }},
		{"log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lipsync.yaml")
	writeFile(t, path, `
engine:
  decay_factor: 0.9
  blink_interval_idle:
    min: 2
    max: 3
audio:
  fps: 30
server:
  write_timeout: 2s
`)
	t.Setenv("CORTEXLIPSYNC_SERVER_LISTEN", ":9999")

	m, err := Load(path)
	require.NoError(t, err)
	cfg := m.Config()

	assert.Equal(t, path, m.Path())
	assert.Equal(t, 0.9, cfg.Engine.DecayFactor)
	assert.Equal(t, 2.0, cfg.Engine.BlinkIntervalIdle.Min)
	assert.Equal(t, 30, cfg.Audio.FPS)
	assert.Equal(t, 2*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	// untouched keys keep their defaults
	assert.Equal(t, 0.03, cfg.Engine.VolumeGate)
	assert.Equal(t, 0.8, cfg.Audio.Spectrum.Smoothing)
	assert.Equal(t, "/ws", cfg.Server.StreamPath)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "audio:\n  fps: 1000\n")
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_DefaultLocationMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	m, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), m.Config())
	assert.Empty(t, m.Path())
}

func TestSave_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Engine.FallbackScale = 0.4
	cfg.Model.Path = "avatar.glb"
	cfg.Server.WriteTimeout = 750 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, Save(cfg, path))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, m.Config())
}

func TestWatch_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(DefaultConfig(), path))

	m, err := Load(path)
	require.NoError(t, err)

	var mu sync.Mutex
	var reloaded *Config
	var failures int
	m.Watch(func(cfg *Config, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			return
		}
		reloaded = cfg
	})

	next := DefaultConfig()
	next.Engine.DecayFactor = 0.7
	require.NoError(t, Save(next, path))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return reloaded != nil && reloaded.Engine.DecayFactor == 0.7
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 0.7, m.Config().Engine.DecayFactor)
}
