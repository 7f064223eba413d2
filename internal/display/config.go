package display

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// OutputFormat controls how the run summary is rendered
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// DisplayConfig holds configuration for console output
type DisplayConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	UseIcons     bool   `mapstructure:"use_icons" yaml:"use_icons"`
	OutputFormat string `mapstructure:"output_format" yaml:"output_format"`

	VerboseMode bool `mapstructure:"verbose" yaml:"verbose"`
	QuietMode   bool `mapstructure:"quiet" yaml:"quiet"`

	// Writer receives progress lines, SummaryWriter the json or yaml summary
	Writer        io.Writer `mapstructure:"-" yaml:"-"`
	SummaryWriter io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultDisplayConfig returns a default display configuration
func DefaultDisplayConfig() *DisplayConfig {
	return &DisplayConfig{
		ColorEnabled: true,
		Theme:        "dark",
		UseIcons:     true,
		OutputFormat: string(FormatText),
		Writer:       os.Stderr,
	}
}

// Validate validates the display configuration
func (dc *DisplayConfig) Validate() error {
	var errs []string

	switch dc.Theme {
	case "dark", "light", "plain", "none":
	default:
		errs = append(errs, fmt.Sprintf("invalid theme '%s', must be one of: dark, light, plain", dc.Theme))
	}

	switch OutputFormat(dc.OutputFormat) {
	case FormatText, FormatJSON, FormatYAML:
	default:
		errs = append(errs, fmt.Sprintf("invalid output format '%s', must be one of: text, json, yaml", dc.OutputFormat))
	}

	if dc.VerboseMode && dc.QuietMode {
		errs = append(errs, "verbose and quiet modes are mutually exclusive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("display configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SetDefaults sets default values for unspecified options
func (dc *DisplayConfig) SetDefaults() {
	if dc.Theme == "" {
		dc.Theme = "dark"
	}
	if dc.OutputFormat == "" {
		dc.OutputFormat = string(FormatText)
	}
	if dc.Writer == nil {
		dc.Writer = os.Stderr
	}
	if dc.SummaryWriter == nil {
		dc.SummaryWriter = dc.Writer
	}
}

// IsColorEnabled returns true if colors should be used
func (dc *DisplayConfig) IsColorEnabled() bool {
	return dc.ColorEnabled && !dc.QuietMode
}

// IsIconsEnabled returns true if icons should be used
func (dc *DisplayConfig) IsIconsEnabled() bool {
	return dc.UseIcons && !dc.QuietMode
}
