//nolint:lll
package config

import "time"

// Config represents the complete configuration for labelscan.
// It covers the scan and serve commands and is loaded from configuration
// files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Display the session maps boxes onto
	Display DisplayConfig `mapstructure:"display" yaml:"display" json:"display"`

	// Text and barcode recognition
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition" json:"recognition"`

	// Scan session behaviour
	Session SessionConfig `mapstructure:"session" yaml:"session" json:"session"`

	// Output configuration
	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch configuration (for batch command)
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// DisplayConfig is the size of the screen the scan is presented on, in points.
type DisplayConfig struct {
	Width  float64 `mapstructure:"width" yaml:"width" json:"width"`
	Height float64 `mapstructure:"height" yaml:"height" json:"height"`
}

// RecognitionConfig contains recognition gateway settings.
type RecognitionConfig struct {
	Mode            string   `mapstructure:"mode" yaml:"mode" json:"mode"`
	IncludeBarcodes bool     `mapstructure:"include_barcodes" yaml:"include_barcodes" json:"include_barcodes"`
	Languages       []string `mapstructure:"languages" yaml:"languages" json:"languages"`
	MinConfidence   float64  `mapstructure:"min_confidence" yaml:"min_confidence" json:"min_confidence"`
	WordGapFactor   float64  `mapstructure:"word_gap_factor" yaml:"word_gap_factor" json:"word_gap_factor"`
}

// SessionConfig contains scan session settings.
type SessionConfig struct {
	// Paced enables the interactive delays between phases.
	Paced       bool         `mapstructure:"paced" yaml:"paced" json:"paced"`
	Pacing      PacingConfig `mapstructure:"pacing" yaml:"pacing" json:"pacing"`
	CropWorkers int          `mapstructure:"crop_workers" yaml:"crop_workers" json:"crop_workers"`
	// ColumnTimeout bounds how long a websocket session waits for a column
	// decision before it is cancelled. Zero waits forever.
	ColumnTimeout time.Duration `mapstructure:"column_timeout" yaml:"column_timeout" json:"column_timeout"`
}

// PacingConfig holds the phase delays used when Paced is set.
type PacingConfig struct {
	ZoomSettle    time.Duration `mapstructure:"zoom_settle" yaml:"zoom_settle" json:"zoom_settle"`
	SlideUpSettle time.Duration `mapstructure:"slide_up_settle" yaml:"slide_up_settle" json:"slide_up_settle"`
	RevealDelay   time.Duration `mapstructure:"reveal_delay" yaml:"reveal_delay" json:"reveal_delay"`
	MinShimmer    time.Duration `mapstructure:"min_shimmer" yaml:"min_shimmer" json:"min_shimmer"`
	CropReveal    time.Duration `mapstructure:"crop_reveal" yaml:"crop_reveal" json:"crop_reveal"`
	StackDelay    time.Duration `mapstructure:"stack_delay" yaml:"stack_delay" json:"stack_delay"`
	CollapseDelay time.Duration `mapstructure:"collapse_delay" yaml:"collapse_delay" json:"collapse_delay"`
	FinalizeDelay time.Duration `mapstructure:"finalize_delay" yaml:"finalize_delay" json:"finalize_delay"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format   string `mapstructure:"format" yaml:"format" json:"format"`
	CropsDir string `mapstructure:"crops_dir" yaml:"crops_dir" json:"crops_dir"`
	Color    bool   `mapstructure:"color" yaml:"color" json:"color"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int64  `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// MaxSessionsPerClient limits concurrently running scans per client IP. Zero disables the limit.
	MaxSessionsPerClient int `mapstructure:"max_sessions_per_client" yaml:"max_sessions_per_client" json:"max_sessions_per_client"`
}

// BatchConfig contains settings for scanning many labels at once.
type BatchConfig struct {
	Workers   int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive bool `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
}
