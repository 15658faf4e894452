package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexlipsync/internal/avatar3d"
)

// inspectReport lists what the engine would drive on a model.
type inspectReport struct {
	Avatar   string              `yaml:"avatar"`
	Objects  int                 `yaml:"objects"`
	Channels []string            `yaml:"channels"`
	Bindings map[string][]string `yaml:"bindings"`
	Blink    []string            `yaml:"blink"`
	Fallback []string            `yaml:"fallback"`
}

func buildReport(name string, session *avatar3d.Session) inspectReport {
	reg := session.Registry()
	r := inspectReport{
		Avatar:   name,
		Objects:  len(reg.Objects()),
		Bindings: make(map[string][]string, len(avatar3d.Parameters)),
		Blink:    session.Applier().BlinkBound(),
		Fallback: session.Applier().FallbackChannels(),
	}
	for _, ch := range reg.Channels() {
		r.Channels = append(r.Channels, ch.Name)
	}
	for _, p := range avatar3d.Parameters {
		r.Bindings[p.String()] = session.Applier().Bound(p)
	}
	return r
}

func writeReportText(w io.Writer, r inspectReport) {
	fmt.Fprintf(w, "Avatar:   %s\n", r.Avatar)
	fmt.Fprintf(w, "Objects:  %d\n", r.Objects)
	fmt.Fprintf(w, "Channels: %d\n", len(r.Channels))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Parameter bindings:")
	for _, p := range avatar3d.Parameters {
		fmt.Fprintf(w, "  %-11s %s\n", p.String(), joinOrNone(r.Bindings[p.String()]))
	}
	fmt.Fprintf(w, "  %-11s %s\n", "blink", joinOrNone(r.Blink))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Fallback channels: %s\n", joinOrNone(r.Fallback))
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}

func inspectCmd() *cobra.Command {
	var (
		modelPath string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List morph channels and the parameters bound to them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := cfgMgr.Config()
			if modelPath == "" {
				modelPath = cfg.Model.Path
			}

			av, err := loadAvatar(modelPath, cfg.Model.Rig, log.Component("scene"))
			if err != nil {
				return err
			}
			report := buildReport(av.name, newSession(cfg, av))

			switch format {
			case "yaml":
				return yaml.NewEncoder(os.Stdout).Encode(report)
			case "text":
				writeReportText(os.Stdout, report)
				return nil
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "glTF/GLB avatar (default: built-in rig)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text or yaml")

	return cmd
}
