package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/config"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	return root.Execute()
}

func writeSpeechWAV(t *testing.T, path string) {
	t.Helper()
	clip := &audio.Clip{Format: audio.DefaultFormat(), Samples: make([]float64, 16000)}
	for i := 4000; i < 12000; i++ {
		clip.Samples[i] = 0.3 * math.Sin(2*math.Pi*200*float64(i)/16000)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, audio.EncodeWAV(f, clip))
}

func TestBuildReport_ARKit(t *testing.T) {
	session := avatar3d.NewSession(avatar3d.NewGroup(avatar3d.NewARKitRig()))
	r := buildReport("arkit", session)

	assert.Equal(t, 1, r.Objects)
	assert.Len(t, r.Channels, 52)
	assert.Equal(t, []string{"jawOpen"}, r.Bindings["jawOpen"])
	assert.Empty(t, r.Bindings["mouthOpen"])
	assert.ElementsMatch(t, []string{"eyeBlinkLeft", "eyeBlinkRight"}, r.Blink)
	assert.Contains(t, r.Fallback, "mouthClose")
	assert.NotContains(t, r.Fallback, "jawOpen")

	var buf bytes.Buffer
	writeReportText(&buf, r)
	assert.Contains(t, buf.String(), "Channels: 52")
	assert.Contains(t, buf.String(), "mouthOpen   (none)")
}

func TestConfigInit_WritesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "lipsync.yaml")

	require.NoError(t, execute(t, "config", "init", "--config", path))
	m, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), m.Config())

	assert.Error(t, execute(t, "config", "init", "--config", path))
	assert.NoError(t, execute(t, "config", "init", "--config", path, "--force"))
}

func TestSimulate_BuiltinRig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	wav := filepath.Join(t.TempDir(), "speech.wav")
	writeSpeechWAV(t, wav)

	assert.NoError(t, execute(t, "simulate", "--wav", wav, "--fps", "50", "--format", "yaml"))
	assert.Error(t, execute(t, "simulate", "--wav", wav, "--format", "xml"))
	assert.Error(t, execute(t, "simulate", "--wav", wav, "--out", "posed.glb"))
	assert.Error(t, execute(t, "simulate"))
}

func TestRun_RequiresInput(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	assert.EqualError(t, execute(t, "run"), "either --wav or --external is required")
}
