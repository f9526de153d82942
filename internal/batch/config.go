package batch

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// Config holds all configuration for batch scans.
type Config struct {
	Gateway         recognition.Gateway
	Display         geometry.Size
	Mode            recognition.Mode
	IncludeBarcodes bool
	CropWorkers     int

	// Camera treats every image as a camera capture.
	Camera bool
	// Column resolves two-column labels. With 0 such labels are reported
	// as needing a column.
	Column int
	Page   int

	// Workers bounds the number of labels scanned at once (0 = 1).
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	Logger *slog.Logger
}

// Status is how the scan of one file ended.
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusNeedsColumn Status = "needs_column"
	StatusFailed      Status = "failed"
)

// Item is the scan of one file.
type Item struct {
	File       string                  `json:"file"`
	SessionID  string                  `json:"session_id,omitempty"`
	Status     Status                  `json:"status"`
	Result     *recognition.ScanResult `json:"result,omitempty"`
	Columns    []recognition.Column    `json:"columns,omitempty"`
	Crops      int                     `json:"crops"`
	Error      string                  `json:"error,omitempty"`
	DurationMs int64                   `json:"duration_ms"`
}

// Result holds the outcome of a batch.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Stats summarises a batch.
type Stats struct {
	Total            int
	Completed        int
	NeedsColumn      int
	Failed           int
	WorkerCount      int
	TotalDuration    time.Duration
	AveragePerImage  time.Duration
	ThroughputPerSec float64
}

// Stats counts the items of r by status.
func (r *Result) Stats() Stats {
	s := Stats{Total: len(r.Items), WorkerCount: r.WorkerCount, TotalDuration: r.Duration}
	for _, it := range r.Items {
		switch it.Status {
		case StatusCompleted:
			s.Completed++
		case StatusNeedsColumn:
			s.NeedsColumn++
		default:
			s.Failed++
		}
	}
	if s.Total > 0 {
		s.AveragePerImage = r.Duration / time.Duration(s.Total)
		if secs := r.Duration.Seconds(); secs > 0 {
			s.ThroughputPerSec = float64(s.Total) / secs
		}
	}
	return s
}

// FormatResults formats the batch results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r.Items, format)
}

// SaveResults writes the formatted results to outputFile, or to out when no
// file is given.
func (r *Result) SaveResults(out io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(out, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(out, output)
	}

	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(out io.Writer, quiet bool) {
	if quiet {
		return
	}
	stats := r.Stats()
	_, _ = fmt.Fprintf(out, "\nBatch Statistics:\n")
	_, _ = fmt.Fprintf(out, "  Total labels: %d\n", stats.Total)
	_, _ = fmt.Fprintf(out, "  Completed: %d\n", stats.Completed)
	_, _ = fmt.Fprintf(out, "  Needs column: %d\n", stats.NeedsColumn)
	_, _ = fmt.Fprintf(out, "  Failed: %d\n", stats.Failed)
	_, _ = fmt.Fprintf(out, "  Workers: %d\n", stats.WorkerCount)
	_, _ = fmt.Fprintf(out, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "  Avg per label: %v\n", stats.AveragePerImage.Round(time.Millisecond))
	_, _ = fmt.Fprintf(out, "  Throughput: %.1f labels/sec\n", stats.ThroughputPerSec)
}
