package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexlipsync/internal/bus"
	"github.com/normanking/cortexlipsync/internal/driver"
)

func simulateCmd() *cobra.Command {
	var (
		modelPath string
		wavPath   string
		outPath   string
		fps       int
		format    string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a WAV file through the engine as fast as possible",
		Long: `Simulate drives the engine offline over a whole WAV file and prints a
summary. With --model and --out the final pose is written into a copy of the model.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *cfgMgr.Config()
			if !cmd.Flags().Changed("fps") {
				fps = cfg.Audio.FPS
			}
			if modelPath == "" {
				modelPath = cfg.Model.Path
			}
			if outPath == "" {
				outPath = cfg.Model.Output
			}
			if wavPath == "" {
				return errors.New("--wav is required")
			}
			if format != "text" && format != "yaml" {
				return fmt.Errorf("unknown format %q", format)
			}
			if outPath != "" && modelPath == "" {
				return errors.New("--out requires --model")
			}

			av, err := loadAvatar(modelPath, cfg.Model.Rig, log.Component("scene"))
			if err != nil {
				return err
			}
			eventBus := bus.NewEventBus()
			input, err := newPCMInput(&cfg, wavPath, fps, false, eventBus)
			if err != nil {
				return err
			}

			d := driver.New(newSession(&cfg, av), input,
				driver.WithFPS(fps),
				driver.WithModel(av.model),
				driver.WithEventBus(eventBus),
				driver.WithLogger(log.Zerolog()),
			)
			summary, err := d.Run(cmd.Context())
			if err != nil {
				return err
			}

			if outPath != "" {
				if err := av.model.Save(outPath); err != nil {
					return err
				}
				logger := log.Component("cli")
				logger.Info().Str("path", outPath).Msg("Posed model saved")
			}

			if format == "yaml" {
				return yaml.NewEncoder(os.Stdout).Encode(summary)
			}
			fmt.Printf("Avatar:          %s\n", av.name)
			printSummary(summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "glTF/GLB avatar (default: built-in rig)")
	cmd.Flags().StringVar(&wavPath, "wav", "", "16-bit PCM WAV file")
	cmd.Flags().StringVar(&outPath, "out", "", "write the posed model here (.glb or .gltf)")
	cmd.Flags().IntVar(&fps, "fps", 60, "frames per second of audio")
	cmd.Flags().StringVar(&format, "format", "text", "summary format: text or yaml")

	return cmd
}
