// Package main provides the CLI entry point for the lip-sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/avatar3d"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/driver"
	"github.com/normanking/cortexlipsync/internal/logging"
	"github.com/normanking/cortexlipsync/internal/scene"
	"github.com/normanking/cortexlipsync/internal/spectrum"
)

var (
	// Version information (set at build time)
	version = "dev"

	cfgPath string
	verbose bool

	cfgMgr *config.Manager
	log    *logging.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lipsync",
		Short: "Audio driven lip-sync for 3D avatars",
		Long: `lipsync drives the mouth, head and eyes of a morph-target avatar from audio:
  • Spectrum analysis of speech into viseme weights
  • Head sway, breathing and randomized blinks
  • Live frame stream over WebSocket with Prometheus metrics

Stream a WAV file:    lipsync run --model avatar.glb --wav speech.wav
Offline render:       lipsync simulate --wav speech.wav --model avatar.glb --out posed.glb
List channels:        lipsync inspect --model avatar.glb`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initApp,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				log.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.cortexlipsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(simulateCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

// skipConfigFile marks commands that must not read the --config file, such
// as the one that creates it.
const skipConfigFile = "skip-config-file"

// initApp loads configuration and sets up logging before any command runs.
func initApp(cmd *cobra.Command, args []string) error {
	path := cfgPath
	if cmd.Annotations[skipConfigFile] != "" {
		path = ""
	}
	mgr, err := config.Load(path)
	if err != nil {
		return err
	}
	cfgMgr = mgr

	logCfg := mgr.Config().Logging
	if verbose {
		logCfg.Level = "debug"
	}
	l, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	log = l

	logger := log.Component("cli")
	logger.Debug().
		Str("command", cmd.Name()).
		Str("config", mgr.Path()).
		Msg("Configuration loaded")
	return nil
}

// avatarScene is the scene the engine animates: a loaded glTF model, or a
// built-in rig when no model is given.
type avatarScene struct {
	scene avatar3d.Scene
	model *scene.Model
	name  string
}

func loadAvatar(path, rig string, logger zerolog.Logger) (*avatarScene, error) {
	if path != "" {
		m, err := scene.Load(path, logger)
		if err != nil {
			return nil, err
		}
		if err := m.RequireMorphTargets(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return &avatarScene{scene: m, model: m, name: path}, nil
	}

	var r *avatar3d.Rig
	switch rig {
	case "arkit":
		r = avatar3d.NewARKitRig()
	default:
		r = avatar3d.NewReadyPlayerMeRig()
	}
	logger.Info().Str("rig", r.Name()).Msg("No model given, using built-in rig")
	return &avatarScene{scene: avatar3d.NewGroup(r), name: r.Name()}, nil
}

// newPCMInput decodes a WAV file and builds the analysis chain for it.
func newPCMInput(cfg *config.Config, wavPath string, fps int, loop bool, eventBus *bus.EventBus) (*driver.PCMInput, error) {
	clip, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return nil, err
	}
	src, err := audio.NewClipSource(clip, fps, loop)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	analyzer, err := spectrum.NewAnalyzer(cfg.Audio.Spectrum)
	if err != nil {
		return nil, err
	}
	vadCfg := cfg.Audio.VAD
	tracker := audio.NewSpeechTracker(eventBus, log.Zerolog())

	logger := log.Component("audio")
	logger.Info().
		Str("file", wavPath).
		Int("sample_rate", clip.Format.SampleRate).
		Dur("duration", clip.Duration()).
		Int("chunk", src.ChunkSize()).
		Msg("Audio loaded")

	return driver.NewPCMInput(src, analyzer, audio.NewVAD(&vadCfg), tracker), nil
}

func newSession(cfg *config.Config, av *avatarScene) *avatar3d.Session {
	return avatar3d.NewSession(av.scene,
		avatar3d.WithLogger(log.Component("engine")),
		avatar3d.WithTuning(cfg.Engine),
	)
}

func printSummary(s driver.Summary) {
	fmt.Printf("Frames:          %d\n", s.Frames)
	fmt.Printf("Speech frames:   %d\n", s.SpeechFrames)
	fmt.Printf("Blinks:          %d\n", s.Blinks)
	fmt.Printf("Peak mouthOpen:  %.3f\n", s.PeakMouthOpen)
	fmt.Printf("Audio time:      %.2fs\n", s.Duration)
}
