package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/recognition/tesseract"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

const (
	debugLevel = "debug"
	infoLevel  = "info"
)

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() Config {
	rec := tesseract.DefaultConfig()
	return Config{
		LogLevel: infoLevel,
		Verbose:  false,
		Display: DisplayConfig{
			Width:  390,
			Height: 844,
		},
		Recognition: RecognitionConfig{
			Mode:            recognition.ModeAccurate.String(),
			IncludeBarcodes: true,
			Languages:       rec.Languages,
			MinConfidence:   rec.MinConfidence,
			WordGapFactor:   rec.WordGapFactor,
		},
		Session: SessionConfig{
			Paced:         false,
			Pacing:        pacingConfig(session.DefaultPacing()),
			CropWorkers:   4,
			ColumnTimeout: 2 * time.Minute,
		},
		Output: OutputConfig{
			Format: "text",
			Color:  true,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     20,
			TimeoutSec:      60,
			ShutdownTimeout: 10,

			MaxSessionsPerClient: 4,
		},
		Batch: BatchConfig{
			Workers: 4,
		},
	}
}

func pacingConfig(p session.Pacing) PacingConfig {
	return PacingConfig{
		ZoomSettle:    p.ZoomSettle,
		SlideUpSettle: p.SlideUpSettle,
		RevealDelay:   p.RevealDelay,
		MinShimmer:    p.MinShimmer,
		CropReveal:    p.CropReveal,
		StackDelay:    p.StackDelay,
		CollapseDelay: p.CollapseDelay,
		FinalizeDelay: p.FinalizeDelay,
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{debugLevel, infoLevel, "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "yaml"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		return fmt.Errorf("invalid display size: %gx%g (must be positive)", c.Display.Width, c.Display.Height)
	}

	if _, ok := recognition.ParseMode(c.Recognition.Mode); !ok {
		return fmt.Errorf("invalid recognition mode: %s (must be one of: accurate, fast)", c.Recognition.Mode)
	}
	if err := validateThreshold(c.Recognition.MinConfidence, "recognition.min_confidence"); err != nil {
		return err
	}
	if c.Recognition.WordGapFactor <= 0 {
		return fmt.Errorf("invalid recognition word gap factor: %.2f (must be positive)", c.Recognition.WordGapFactor)
	}

	if c.Session.CropWorkers <= 0 {
		return fmt.Errorf("invalid session crop workers: %d (must be positive)", c.Session.CropWorkers)
	}
	if c.Session.ColumnTimeout < 0 {
		return fmt.Errorf("invalid session column timeout: %s (must not be negative)", c.Session.ColumnTimeout)
	}
	if err := c.Session.Pacing.validate(); err != nil {
		return err
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.MaxSessionsPerClient < 0 {
		return fmt.Errorf("invalid max sessions per client: %d (must not be negative)", c.Server.MaxSessionsPerClient)
	}

	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	return nil
}

func (p PacingConfig) validate() error {
	delays := map[string]time.Duration{
		"zoom_settle":     p.ZoomSettle,
		"slide_up_settle": p.SlideUpSettle,
		"reveal_delay":    p.RevealDelay,
		"min_shimmer":     p.MinShimmer,
		"crop_reveal":     p.CropReveal,
		"stack_delay":     p.StackDelay,
		"collapse_delay":  p.CollapseDelay,
		"finalize_delay":  p.FinalizeDelay,
	}
	for name, d := range delays {
		if d < 0 {
			return fmt.Errorf("invalid session.pacing.%s: %s (must not be negative)", name, d)
		}
	}
	return nil
}

// Mapper returns the geometry mapper for the configured display.
func (c *Config) Mapper() geometry.Mapper {
	return geometry.NewMapper(geometry.Size{Width: c.Display.Width, Height: c.Display.Height})
}

// Mode returns the configured recognition mode.
func (c *Config) Mode() recognition.Mode {
	m, _ := recognition.ParseMode(c.Recognition.Mode)
	return m
}

// ToTesseractConfig converts the recognition settings to the gateway configuration.
func (c *Config) ToTesseractConfig() tesseract.Config {
	return tesseract.Config{
		Languages:     append([]string(nil), c.Recognition.Languages...),
		MinConfidence: c.Recognition.MinConfidence,
		WordGapFactor: c.Recognition.WordGapFactor,
	}
}

// ToPacing returns the session pacing. Unpaced sessions run without delays.
func (c *Config) ToPacing() session.Pacing {
	if !c.Session.Paced {
		return session.NoPacing()
	}
	p := c.Session.Pacing
	return session.Pacing{
		ZoomSettle:    p.ZoomSettle,
		SlideUpSettle: p.SlideUpSettle,
		RevealDelay:   p.RevealDelay,
		MinShimmer:    p.MinShimmer,
		CropReveal:    p.CropReveal,
		StackDelay:    p.StackDelay,
		CollapseDelay: p.CollapseDelay,
		FinalizeDelay: p.FinalizeDelay,
	}
}

// Helper functions

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// validateThreshold validates that a value is between 0.0 and 1.0.
func validateThreshold(value float64, name string) error {
	if value < 0.0 || value > 1.0 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0.0 and 1.0)", name, value)
	}
	return nil
}
