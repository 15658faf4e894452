package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/normanking/cortexlipsync/internal/audio"
	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/config"
	"github.com/normanking/cortexlipsync/internal/driver"
	"github.com/normanking/cortexlipsync/internal/metrics"
	"github.com/normanking/cortexlipsync/internal/stream"
)

func runCmd() *cobra.Command {
	var (
		modelPath string
		wavPath   string
		listen    string
		fps       int
		loop      bool
		external  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the real-time frame loop and stream frames over WebSocket",
		Long: `Run paces the engine at the configured frame rate. Audio comes from a WAV
file, or with --external from audio frames that clients send over the stream.
Frames are broadcast to every connected client; /metrics serves Prometheus.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *cfgMgr.Config()
			if cmd.Flags().Changed("listen") {
				cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("fps") {
				cfg.Audio.FPS = fps
			}
			if cmd.Flags().Changed("loop") {
				cfg.Audio.Loop = loop
			}
			if modelPath == "" {
				modelPath = cfg.Model.Path
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if wavPath == "" && !external {
				return errors.New("either --wav or --external is required")
			}
			return runLoop(cmd.Context(), &cfg, modelPath, wavPath, external)
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "glTF/GLB avatar (default: built-in rig)")
	cmd.Flags().StringVar(&wavPath, "wav", "", "16-bit PCM WAV file to play")
	cmd.Flags().StringVar(&listen, "listen", ":8765", "HTTP listen address")
	cmd.Flags().IntVar(&fps, "fps", 60, "frames per second")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the WAV file when it ends")
	cmd.Flags().BoolVar(&external, "external", false, "take audio frames from stream clients instead of a file")

	return cmd
}

func runLoop(parent context.Context, cfg *config.Config, modelPath, wavPath string, external bool) error {
	logger := log.Component("cli")

	av, err := loadAvatar(modelPath, cfg.Model.Rig, log.Component("scene"))
	if err != nil {
		return err
	}

	m := metrics.New()
	eventBus := bus.NewEventBus()
	hub := stream.NewHub(stream.Config{
		SendBuffer:      cfg.Server.SendBuffer,
		WriteTimeout:    cfg.Server.WriteTimeout,
		MaxMessageBytes: cfg.Server.MaxMessageBytes,
	}, log.Zerolog(), eventBus, m)
	server := stream.NewServer(stream.ServerConfig{
		Listen:      cfg.Server.Listen,
		StreamPath:  cfg.Server.StreamPath,
		MetricsPath: cfg.Server.MetricsPath,
	}, hub, m.Registry, log.Zerolog())

	var input driver.Input
	if external {
		input = driver.NewExternalInput(hub.Inbound(), audio.NewSpeechTracker(eventBus, log.Zerolog()), 0)
	} else {
		input, err = newPCMInput(cfg, wavPath, cfg.Audio.FPS, cfg.Audio.Loop, eventBus)
		if err != nil {
			return err
		}
	}

	session := newSession(cfg, av)
	d := driver.New(session, input,
		driver.WithFPS(cfg.Audio.FPS),
		driver.WithRealtime(true),
		driver.WithModel(av.model),
		driver.WithBroadcaster(hub),
		driver.WithEventBus(eventBus),
		driver.WithMetrics(m),
		driver.WithLogger(log.Zerolog()),
	)

	if cfgMgr.Path() != "" {
		cfgMgr.Watch(func(next *config.Config, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("Config reload rejected, keeping previous values")
				return
			}
			d.UpdateTuning(next.Engine)
			level := next.Logging.Level
			if verbose {
				level = "debug"
			}
			if err := log.SetLevel(level); err != nil {
				logger.Warn().Err(err).Msg("Log level not changed")
			}
			m.ConfigReloads.Inc()
			eventBus.Publish(bus.Event{
				Type: bus.EventTypeConfigReloaded,
				Data: map[string]any{"path": cfgMgr.Path()},
			})
			logger.Info().Str("path", cfgMgr.Path()).Msg("Configuration reloaded")
		})
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	g.Go(func() error {
		return server.Run(runCtx)
	})

	var summary driver.Summary
	g.Go(func() error {
		// the server goes down with the loop when the audio ends
		defer cancel()
		var err error
		summary, err = d.Run(runCtx)
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if av.model != nil && cfg.Model.Output != "" {
		if err := av.model.Save(cfg.Model.Output); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Model.Output).Msg("Posed model saved")
	}

	fmt.Printf("Avatar:          %s\n", av.name)
	printSummary(summary)
	return nil
}
