package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "accurate", cfg.Recognition.Mode)
	assert.True(t, cfg.Recognition.IncludeBarcodes)
	assert.Equal(t, []string{"eng"}, cfg.Recognition.Languages)
	assert.False(t, cfg.Session.Paced)
	assert.Equal(t, 4, cfg.Session.CropWorkers)
	assert.Equal(t, time.Second, cfg.Session.Pacing.MinShimmer)
	assert.Equal(t, "text", cfg.Output.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Batch.Workers)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "invalid log level"},
		{"empty format allowed", func(c *Config) { c.Output.Format = "" }, ""},
		{"yaml format", func(c *Config) { c.Output.Format = "yaml" }, ""},
		{"bad format", func(c *Config) { c.Output.Format = "csv" }, "invalid output format"},
		{"zero display width", func(c *Config) { c.Display.Width = 0 }, "invalid display size"},
		{"negative display height", func(c *Config) { c.Display.Height = -1 }, "invalid display size"},
		{"fast mode", func(c *Config) { c.Recognition.Mode = "fast" }, ""},
		{"bad mode", func(c *Config) { c.Recognition.Mode = "turbo" }, "invalid recognition mode"},
		{"confidence above one", func(c *Config) { c.Recognition.MinConfidence = 1.5 }, "recognition.min_confidence"},
		{"zero gap factor", func(c *Config) { c.Recognition.WordGapFactor = 0 }, "word gap factor"},
		{"zero crop workers", func(c *Config) { c.Session.CropWorkers = 0 }, "crop workers"},
		{"negative column timeout", func(c *Config) { c.Session.ColumnTimeout = -time.Second }, "column timeout"},
		{"negative pacing", func(c *Config) { c.Session.Pacing.StackDelay = -time.Millisecond }, "session.pacing.stack_delay"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "invalid server port"},
		{"port too large", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"upload size", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max upload size"},
		{"timeout", func(c *Config) { c.Server.TimeoutSec = 0 }, "invalid timeout"},
		{"unlimited sessions", func(c *Config) { c.Server.MaxSessionsPerClient = 0 }, ""},
		{"negative sessions", func(c *Config) { c.Server.MaxSessionsPerClient = -1 }, "max sessions per client"},
		{"batch workers", func(c *Config) { c.Batch.Workers = 0 }, "invalid batch workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMapper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Display = DisplayConfig{Width: 400, Height: 800}

	m := cfg.Mapper()
	r := m.CorrectedRect(geometry.Rect{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1},
		geometry.Size{Width: 1000, Height: 2000}, true)
	assert.InDelta(t, 200, r.X, 1e-9)
	assert.InDelta(t, 400, r.Y, 1e-9)
	assert.InDelta(t, 40, r.Width, 1e-9)
	assert.InDelta(t, 80, r.Height, 1e-9)
}

func TestMode(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, recognition.ModeAccurate, cfg.Mode())
	cfg.Recognition.Mode = "fast"
	assert.Equal(t, recognition.ModeFast, cfg.Mode())
}

func TestToTesseractConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recognition.Languages = []string{"deu", "eng"}
	cfg.Recognition.MinConfidence = 0.6
	cfg.Recognition.WordGapFactor = 2

	tc := cfg.ToTesseractConfig()
	assert.Equal(t, []string{"deu", "eng"}, tc.Languages)
	assert.InDelta(t, 0.6, tc.MinConfidence, 1e-9)
	assert.InDelta(t, 2.0, tc.WordGapFactor, 1e-9)

	tc.Languages[0] = "fra"
	assert.Equal(t, "deu", cfg.Recognition.Languages[0])
}

func TestToPacing(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, session.NoPacing(), cfg.ToPacing())

	cfg.Session.Paced = true
	assert.Equal(t, session.DefaultPacing(), cfg.ToPacing())

	cfg.Session.Pacing.MinShimmer = 3 * time.Second
	assert.Equal(t, 3*time.Second, cfg.ToPacing().MinShimmer)
}

func TestContains(t *testing.T) {
	assert.True(t, contains([]string{"a", "b"}, "b"))
	assert.False(t, contains([]string{"a", "b"}, "c"))
	assert.False(t, contains(nil, "a"))
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, validateThreshold(0, "x"))
	assert.NoError(t, validateThreshold(1, "x"))
	assert.Error(t, validateThreshold(-0.1, "x"))
	assert.Error(t, validateThreshold(1.1, "x"))
}
