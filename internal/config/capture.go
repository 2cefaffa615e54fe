package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/motion.capture/internal/continuous"
	"github.com/banshee-data/motion.capture/internal/frame"
)

// DefaultConfigPath is the path to the canonical capture defaults file.
const DefaultConfigPath = "config/capture.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// PartConfig describes one tracked body part.
type PartConfig struct {
	Name    string  `json:"name" yaml:"name"`
	Device  *string `json:"device,omitempty" yaml:"device,omitempty"` // "controller" or "headset"
	Enabled *bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// CaptureConfig is the root configuration of a capture session. Fields
// omitted from a file fall back to the defaults returned by the Get*
// methods, so partial configs are safe.
type CaptureConfig struct {
	// Coordinate frame
	Convention    *string `json:"convention,omitempty" yaml:"convention,omitempty"`
	Runtime       *string `json:"runtime,omitempty" yaml:"runtime,omitempty"`
	TargetRuntime *string `json:"target_runtime,omitempty" yaml:"target_runtime,omitempty"`

	Parts []PartConfig `json:"parts,omitempty" yaml:"parts,omitempty"`

	// Continuous identification
	ContinuousWindow    *string `json:"continuous_window,omitempty" yaml:"continuous_window,omitempty"` // duration string like "1s"
	ContinuousPeriod    *string `json:"continuous_period,omitempty" yaml:"continuous_period,omitempty"` // duration string like "100ms"
	ContinuousSmoothing *int    `json:"continuous_smoothing,omitempty" yaml:"continuous_smoothing,omitempty"`

	// Storage
	JournalPath     *string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
	GestureDatabase *string `json:"gesture_database,omitempty" yaml:"gesture_database,omitempty"`
}

func ptrString(v string) *string { return &v }
func ptrBool(v bool) *bool       { return &v }
func ptrInt(v int) *int          { return &v }

// EmptyCaptureConfig returns a CaptureConfig with every field unset.
func EmptyCaptureConfig() *CaptureConfig {
	return &CaptureConfig{}
}

// DefaultCaptureConfig returns a config with every default filled in.
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Convention:    ptrString(frame.ConventionNative),
		Runtime:       ptrString(string(frame.RuntimeOpenXR)),
		TargetRuntime: ptrString(string(frame.RuntimeOpenXR)),
		Parts: []PartConfig{
			{Name: "left", Device: ptrString("controller"), Enabled: ptrBool(true)},
			{Name: "right", Device: ptrString("controller"), Enabled: ptrBool(true)},
		},
		ContinuousWindow:    ptrString("1s"),
		ContinuousPeriod:    ptrString("100ms"),
		ContinuousSmoothing: ptrInt(3),
		JournalPath:         ptrString(""),
		GestureDatabase:     ptrString(""),
	}
}

// LoadCaptureConfig loads a CaptureConfig from a JSON or YAML file. The
// format follows the extension (.json, .yaml or .yml) and the file must be
// under 1MB.
func LoadCaptureConfig(path string) (*CaptureConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseCaptureConfig(data, ext)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseCaptureConfig decodes data in the format named by ext without
// validating it.
func ParseCaptureConfig(data []byte, ext string) (*CaptureConfig, error) {
	cfg := EmptyCaptureConfig()
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath,
// searching the current directory and its parents up to the repo root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *CaptureConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/<tool>/ or nested packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCaptureConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *CaptureConfig) Validate() error {
	if c.Convention != nil {
		if _, ok := frame.LookupConvention(*c.Convention); !ok {
			return fmt.Errorf("unknown convention %q (known: %s)", *c.Convention, strings.Join(frame.ConventionNames(), ", "))
		}
	}
	for _, r := range []struct {
		key string
		val *string
	}{{"runtime", c.Runtime}, {"target_runtime", c.TargetRuntime}} {
		if r.val != nil && !frame.KnownRuntime(frame.Runtime(*r.val)) {
			return fmt.Errorf("unknown %s %q", r.key, *r.val)
		}
	}

	seen := make(map[string]bool, len(c.Parts))
	for i, p := range c.Parts {
		if p.Name == "" {
			return fmt.Errorf("parts[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("parts[%d]: duplicate part name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Device != nil {
			if _, ok := frame.ParseDeviceType(*p.Device); !ok {
				return fmt.Errorf("parts[%d]: unknown device %q", i, *p.Device)
			}
		}
	}

	for _, d := range []struct {
		key string
		val *string
	}{{"continuous_window", c.ContinuousWindow}, {"continuous_period", c.ContinuousPeriod}} {
		if d.val == nil || *d.val == "" {
			continue
		}
		v, err := time.ParseDuration(*d.val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.key, *d.val, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, v)
		}
	}

	if c.ContinuousSmoothing != nil && *c.ContinuousSmoothing < 1 {
		return fmt.Errorf("continuous_smoothing must be at least 1, got %d", *c.ContinuousSmoothing)
	}
	return nil
}

// GetConvention returns the convention name or "native".
func (c *CaptureConfig) GetConvention() string {
	if c.Convention == nil || *c.Convention == "" {
		return frame.ConventionNative
	}
	return *c.Convention
}

// GetRuntime returns the tracking runtime or openxr.
func (c *CaptureConfig) GetRuntime() frame.Runtime {
	if c.Runtime == nil || *c.Runtime == "" {
		return frame.RuntimeOpenXR
	}
	return frame.Runtime(*c.Runtime)
}

// GetTargetRuntime returns the runtime the gesture data was recorded with,
// defaulting to the tracking runtime.
func (c *CaptureConfig) GetTargetRuntime() frame.Runtime {
	if c.TargetRuntime == nil || *c.TargetRuntime == "" {
		return c.GetRuntime()
	}
	return frame.Runtime(*c.TargetRuntime)
}

// FrameSpec assembles the converter spec.
func (c *CaptureConfig) FrameSpec() frame.Spec {
	return frame.Spec{
		Convention:    c.GetConvention(),
		Runtime:       c.GetRuntime(),
		TargetRuntime: c.GetTargetRuntime(),
	}
}

// GetParts returns the configured parts, or left and right controllers.
func (c *CaptureConfig) GetParts() []PartConfig {
	if len(c.Parts) == 0 {
		return DefaultCaptureConfig().Parts
	}
	return c.Parts
}

// GetDevice returns the part's device type, controller by default.
func (p PartConfig) GetDevice() frame.DeviceType {
	if p.Device == nil {
		return frame.DeviceController
	}
	d, _ := frame.ParseDeviceType(*p.Device)
	return d
}

// GetEnabled reports whether the part takes part in combinations.
func (p PartConfig) GetEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def // default on parse error
	}
	return d
}

// GetContinuousWindow returns the rolling window span.
func (c *CaptureConfig) GetContinuousWindow() time.Duration {
	return durationOr(c.ContinuousWindow, time.Second)
}

// GetContinuousPeriod returns the time between continuous identifications.
func (c *CaptureConfig) GetContinuousPeriod() time.Duration {
	return durationOr(c.ContinuousPeriod, 100*time.Millisecond)
}

// GetContinuousSmoothing returns the number of results that vote.
func (c *CaptureConfig) GetContinuousSmoothing() int {
	if c.ContinuousSmoothing == nil {
		return 3
	}
	return *c.ContinuousSmoothing
}

// ContinuousConfig assembles the continuous loop settings.
func (c *CaptureConfig) ContinuousConfig() continuous.Config {
	return continuous.Config{
		Window:    c.GetContinuousWindow(),
		Period:    c.GetContinuousPeriod(),
		Smoothing: c.GetContinuousSmoothing(),
	}
}

// GetJournalPath returns the SQLite journal path; empty disables the journal.
func (c *CaptureConfig) GetJournalPath() string {
	if c.JournalPath == nil {
		return ""
	}
	return *c.JournalPath
}

// GetGestureDatabase returns the gesture database loaded at session start;
// empty skips the initial load.
func (c *CaptureConfig) GetGestureDatabase() string {
	if c.GestureDatabase == nil {
		return ""
	}
	return *c.GestureDatabase
}
