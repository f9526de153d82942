// Package batch scans many label images without user interaction.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
)

// DefaultDisplay is used when Config.Display is empty.
var DefaultDisplay = geometry.Size{Width: 390, Height: 844}

var (
	ErrNoImages  = errors.New("no image files found")
	ErrNoGateway = errors.New("batch: no recognition gateway")
)

// ProcessBatch scans every label found under imagePaths. A file that cannot
// be scanned is recorded as failed and does not stop the batch.
func ProcessBatch(ctx context.Context, imagePaths []string, config *Config) (*Result, error) {
	if config.Gateway == nil {
		return nil, ErrNoGateway
	}
	cfg := *config
	if cfg.Display.IsEmpty() {
		cfg.Display = DefaultDisplay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files, err := discoverImageFiles(imagePaths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, ErrNoImages
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	logger.Info("starting batch scan", "files", len(files), "workers", workers, "column", cfg.Column)

	startTime := time.Now()
	items := processImagesParallel(ctx, &cfg, logger, files)
	duration := time.Since(startTime)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch scan interrupted: %w", err)
	}

	return &Result{
		Items:       items,
		Duration:    duration,
		WorkerCount: workers,
	}, nil
}
