package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/imagesource"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

// processSingleImage scans one label without pacing. Failures are recorded
// on the item.
func processSingleImage(ctx context.Context, cfg *Config, logger *slog.Logger, path string) Item {
	start := time.Now()
	item := Item{File: path}

	fail := func(err error) Item {
		item.Status = StatusFailed
		item.Error = err.Error()
		item.DurationMs = time.Since(start).Milliseconds()
		return item
	}

	// Load image
	img, _, err := imagesource.Load(path, imagesource.Options{Page: cfg.Page})
	if err != nil {
		return fail(err)
	}

	var (
		sess       *session.Session
		columns    []recognition.Column
		resolveErr error
	)
	// Ambiguous labels take the configured column or stop for the user
	events := session.EventFunc(func(e session.Event) {
		if e.Kind != session.EventColumnsRequired {
			return
		}
		if cfg.Column == 0 {
			columns = append([]recognition.Column{}, e.Columns...)
			sess.Cancel()
			return
		}
		if err := sess.Resolve(session.ColumnDecision{Column: cfg.Column}); err != nil {
			resolveErr = err
			sess.Cancel()
		}
	})

	sess = session.New(session.Options{
		Gateway:         cfg.Gateway,
		Mapper:          geometry.NewMapper(cfg.Display),
		Pacing:          session.NoPacing(),
		Events:          events,
		Logger:          logger.With("file", path),
		Mode:            cfg.Mode,
		IncludeBarcodes: cfg.IncludeBarcodes,
		CropWorkers:     cfg.CropWorkers,
	})
	// Run the scan to the end
	item.SessionID = sess.ID().String()
	if err := sess.Begin(ctx, session.Source{Image: img, IsCamera: cfg.Camera}); err != nil {
		return fail(err)
	}
	<-sess.Done()
	outcome, err := sess.Wait(context.Background())

	// Map the session outcome to an item status
	switch {
	case resolveErr != nil:
		return fail(fmt.Errorf("invalid column: %w", resolveErr))
	case columns != nil:
		item.Status = StatusNeedsColumn
		item.Columns = columns
	case outcome == session.OutcomeCompleted:
		item.Status = StatusCompleted
		if result, ok := sess.Result(); ok {
			item.Result = &result
		}
		item.Crops = len(sess.Crops())
	case outcome == session.OutcomeAborted:
		return fail(err)
	default:
		return fail(context.Canceled)
	}
	item.DurationMs = time.Since(start).Milliseconds()
	return item
}

// processImagesParallel scans the labels with a bounded worker pool. Items
// keep the order of paths.
func processImagesParallel(ctx context.Context, cfg *Config, logger *slog.Logger, paths []string) []Item {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	items := make([]Item, len(paths))
	jobs := make(chan int)
	var wg sync.WaitGroup

	// Start workers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				// Labels left after cancellation are reported as failed
				if ctx.Err() != nil {
					items[i] = Item{File: paths[i], Status: StatusFailed, Error: ctx.Err().Error()}
					continue
				}
				items[i] = processSingleImage(ctx, cfg, logger, paths[i])
				logger.Debug("label scanned", "file", paths[i], "status", items[i].Status)
			}
		}()
	}

	// Send jobs
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return items
}
