package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/motion.capture/internal/config"
	"github.com/banshee-data/motion.capture/internal/frame"
	"github.com/banshee-data/motion.capture/internal/spatial"
)

// resolvedConfig is the effective configuration after defaults.
type resolvedConfig struct {
	Convention    string         `yaml:"convention"`
	Runtime       string         `yaml:"runtime"`
	TargetRuntime string         `yaml:"target_runtime"`
	Correction    bool           `yaml:"controller_correction"`
	Parts         []resolvedPart `yaml:"parts"`
	Continuous    struct {
		Window    string `yaml:"window"`
		Period    string `yaml:"period"`
		Smoothing int    `yaml:"smoothing"`
	} `yaml:"continuous"`
	JournalPath     string `yaml:"journal_path,omitempty"`
	GestureDatabase string `yaml:"gesture_database,omitempty"`
}

type resolvedPart struct {
	Name    string `yaml:"name"`
	Device  string `yaml:"device"`
	Enabled bool   `yaml:"enabled"`
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with capture configuration files",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>",
		Short: "Validate a JSON or YAML capture config and print the effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadCaptureConfig(args[0])
			if err != nil {
				return err
			}
			conv, err := frame.NewConverter(cfg.FrameSpec())
			if err != nil {
				return fmt.Errorf("frame: %w", err)
			}

			var out resolvedConfig
			spec := conv.Spec()
			out.Convention = spec.Convention
			out.Runtime = string(spec.Runtime)
			out.TargetRuntime = string(spec.TargetRuntime)
			q, _ := frame.ControllerCorrection(spec.Runtime, spec.TargetRuntime)
			out.Correction = q != spatial.Identity
			for _, p := range cfg.GetParts() {
				out.Parts = append(out.Parts, resolvedPart{Name: p.Name, Device: p.GetDevice().String(), Enabled: p.GetEnabled()})
			}
			cc := cfg.ContinuousConfig()
			out.Continuous.Window = cc.Window.String()
			out.Continuous.Period = cc.Period.String()
			out.Continuous.Smoothing = cc.Smoothing
			out.JournalPath = cfg.GetJournalPath()
			out.GestureDatabase = cfg.GetGestureDatabase()

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	return cmd
}
