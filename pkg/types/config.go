// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"errors"
	"fmt"
	"strings"
)

// ImageFormat identifies the raster format pages are encoded in.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// Sentinel errors for render settings validation.
var (
	ErrInvalidFormat = errors.New("invalid image format")
	ErrInvalidDPI    = errors.New("DPI out of range")
)

// DPI bounds for rendered output.
const (
	// MinDPI is the renderer's base resolution: one PDF point per pixel.
	MinDPI = 72

	// MaxDPI caps output resolution to bound memory per rendered page.
	MaxDPI = 600

	// DefaultDPI is the resolution used when none is configured.
	DefaultDPI = 300
)

// baseDPI is the resolution the renderer assumes for a scale factor of 1.
const baseDPI = 72

// ParseFormat converts a user-supplied format name to an ImageFormat.
// The comparison is case-insensitive and "jpg" is accepted for FormatJPEG.
func ParseFormat(s string) (ImageFormat, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	}
	return "", fmt.Errorf("%w: %q (must be png or jpeg)", ErrInvalidFormat, s)
}

// Ext returns the file extension for the format, without a leading dot.
func (f ImageFormat) Ext() string {
	return string(f)
}

// MediaType returns the MIME type for the format.
func (f ImageFormat) MediaType() string {
	return "image/" + string(f)
}

// RenderSettings selects the output format and resolution for a
// conversion run.
type RenderSettings struct {
	// Format is the raster format pages are encoded in.
	Format ImageFormat `json:"format" yaml:"format"`

	// DPI is the output resolution, in [MinDPI, MaxDPI].
	DPI int `json:"dpi" yaml:"dpi"`
}

// DefaultRenderSettings returns PNG at DefaultDPI.
func DefaultRenderSettings() RenderSettings {
	return RenderSettings{Format: FormatPNG, DPI: DefaultDPI}
}

// Validate checks that the format is known and the DPI is in range.
func (s RenderSettings) Validate() error {
	switch s.Format {
	case FormatPNG, FormatJPEG:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFormat, s.Format)
	}
	if s.DPI < MinDPI || s.DPI > MaxDPI {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidDPI, s.DPI, MinDPI, MaxDPI)
	}
	return nil
}

// Scale returns the multiplier applied to the document's native page size
// to reach the requested resolution.
func (s RenderSettings) Scale() float64 {
	return float64(s.DPI) / baseDPI
}

// Tab identifies which result view is active for the current session.
type Tab string

const (
	TabGallery  Tab = "gallery"
	TabAnalysis Tab = "analysis"
)

// Session holds the user-facing configuration surface: the active project,
// the active result tab, and the render settings applied to the next
// conversion run.
type Session struct {
	// ActiveProjectID selects the project currently in focus. Empty when
	// no project is active.
	ActiveProjectID string `json:"active_project_id" yaml:"active_project_id"`

	// ActiveTab selects the result view: gallery or analysis.
	ActiveTab Tab `json:"active_tab" yaml:"active_tab"`

	// Render is the output format and resolution for conversion runs.
	Render RenderSettings `json:"render" yaml:"render"`
}

// AnalysisConfig holds settings for the content analyzer.
type AnalysisConfig struct {
	// Enabled controls whether conversions dispatch the analyzer.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries is the number of retry attempts for rate-limited API
	// calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}
