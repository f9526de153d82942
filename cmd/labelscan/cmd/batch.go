package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/batch"
	"github.com/MeKo-Tech/labelscan/internal/config"
)

// batchCmd scans many label images without interaction.
var batchCmd = &cobra.Command{
	Use:   "batch [flags] PATH...",
	Short: "Scan many label images in parallel",
	Long: `Scan every label image found in the given files and directories.

Each label runs through an unpaced scan session. Two-column labels are
resolved with --column; without it they are reported as needing a column.
A label that cannot be scanned is reported and does not stop the batch.

Supported formats: JPEG, PNG, GIF, BMP, TIFF, WebP and PDF

Examples:
  labelscan batch labels/
  labelscan batch labels/ --recursive --workers 8 --format csv --output values.csv
  labelscan batch a.jpg b.jpg --column 1 --format json`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// batchOptions are the batch flags that do not map onto batch.Config.
type batchOptions struct {
	Format string
	Output string
	Texts  string
	Stats  bool
	Quiet  bool
}

// configToBatchConfig maps the loaded configuration to batch.Config. Flags the
// user set take precedence.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) (*batch.Config, error) {
	batchConfig := &batch.Config{
		Display:         cfg.Mapper().Display,
		Mode:            cfg.Mode(),
		IncludeBarcodes: cfg.Recognition.IncludeBarcodes,
		CropWorkers:     cfg.Session.CropWorkers,
		Workers:         cfg.Batch.Workers,
		Recursive:       cfg.Batch.Recursive,
		Logger:          slog.Default(),
	}

	if cmd.Flags().Changed("workers") {
		batchConfig.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if cmd.Flags().Changed("recursive") {
		batchConfig.Recursive, _ = cmd.Flags().GetBool("recursive")
	}

	batchConfig.Camera, _ = cmd.Flags().GetBool("camera")
	batchConfig.Column, _ = cmd.Flags().GetInt("column")
	batchConfig.Page, _ = cmd.Flags().GetInt("page")
	batchConfig.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	batchConfig.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	if batchConfig.Workers < 1 {
		return nil, fmt.Errorf("invalid workers: %d (must be positive)", batchConfig.Workers)
	}
	if batchConfig.Column < 0 || batchConfig.Column > 2 {
		return nil, fmt.Errorf("invalid column: %d (must be 1 or 2)", batchConfig.Column)
	}
	if batchConfig.Page < 0 {
		return nil, fmt.Errorf("invalid page: %d", batchConfig.Page)
	}
	return batchConfig, nil
}

func batchOptionsFromFlags(cmd *cobra.Command) (batchOptions, error) {
	var opts batchOptions
	opts.Format, _ = cmd.Flags().GetString("format")
	opts.Output, _ = cmd.Flags().GetString("output")
	opts.Texts, _ = cmd.Flags().GetString("texts")
	opts.Stats, _ = cmd.Flags().GetBool("stats")
	opts.Quiet, _ = cmd.Flags().GetBool("quiet")

	switch opts.Format {
	case "text", "json", "csv":
	default:
		return opts, fmt.Errorf("invalid batch format: %s (must be one of: text, json, csv)", opts.Format)
	}
	return opts, nil
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}

	opts, err := batchOptionsFromFlags(cmd)
	if err != nil {
		return err
	}
	batchConfig, err := configToBatchConfig(cfg, cmd)
	if err != nil {
		return err
	}

	batchConfig.Gateway, err = newGateway(cfg, opts.Texts, "")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := batch.ProcessBatch(ctx, args, batchConfig)
	if err != nil {
		return fmt.Errorf("batch scan failed: %w", err)
	}

	if err := result.SaveResults(cmd.OutOrStdout(), opts.Format, opts.Output, opts.Quiet); err != nil {
		return err
	}
	if opts.Stats {
		result.PrintStats(cmd.ErrOrStderr(), opts.Quiet)
	}

	if stats := result.Stats(); stats.Failed > 0 {
		return fmt.Errorf("%d of %d labels failed", stats.Failed, stats.Total)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringP("format", "f", "text", "output format (text, json, csv)")
	batchCmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
	batchCmd.Flags().BoolP("recursive", "r", false, "descend into subdirectories")
	batchCmd.Flags().StringSlice("include", nil, "only scan files whose name matches these patterns")
	batchCmd.Flags().StringSlice("exclude", nil, "skip files whose name matches these patterns")
	batchCmd.Flags().IntP("workers", "w", 4, "number of labels scanned at once")
	batchCmd.Flags().Bool("camera", false, "treat every image as a camera capture")
	batchCmd.Flags().Int("column", 0, "value column to use for two-column labels (1 or 2)")
	batchCmd.Flags().Int("page", 0, "PDF page to take the image from (0 = first page with an image)")
	batchCmd.Flags().String("texts", "", "replay a recorded text set for every label instead of running Tesseract")
	batchCmd.Flags().Bool("stats", false, "print batch statistics to stderr")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress informational messages")
}

// GetBatchCommand returns the batch command for testing purposes.
func GetBatchCommand() *cobra.Command {
	return batchCmd
}
