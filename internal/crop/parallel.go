package crop

import (
	"context"
	"image"
	"runtime"
	"sync"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// ExtractConfig holds configuration for ExtractAll.
type ExtractConfig struct {
	MaxWorkers int // Number of parallel workers (0 = runtime.NumCPU())
	IsCamera   bool
	// OnFailure is called for every box that could not be cropped.
	OnFailure func(recognition.TextBox)
}

type boxJob struct {
	box recognition.TextBox
}

type boxResult struct {
	box   recognition.TextBox
	entry Entry
	ok    bool
}

// ExtractAll crops every box concurrently and adds the results to coll.
// Failed boxes are reported through OnFailure and skipped. Duplicate box ids
// end up in coll at most once. It returns the context error if ctx is
// cancelled before all boxes are processed.
func ExtractAll(ctx context.Context, b Builder, img image.Image, boxes []recognition.TextBox, coll *Collection, cfg ExtractConfig) error {
	if len(boxes) == 0 {
		return ctx.Err()
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = runtime.NumCPU()
	}
	if cfg.MaxWorkers > len(boxes) {
		cfg.MaxWorkers = len(boxes)
	}

	jobs := make(chan boxJob, len(boxes))
	results := make(chan boxResult, len(boxes))

	var wg sync.WaitGroup
	for range cfg.MaxWorkers {
		wg.Add(1)
		go worker(ctx, b, img, cfg.IsCamera, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for _, box := range boxes {
			select {
			case jobs <- boxJob{box: box}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if !r.ok {
			if cfg.OnFailure != nil {
				cfg.OnFailure(r.box)
			}
			continue
		}
		coll.Add(r.entry)
	}
	return ctx.Err()
}

// ExtractAll crops boxes with e. See the package-level ExtractAll.
func (e *Extractor) ExtractAll(ctx context.Context, img image.Image, boxes []recognition.TextBox, coll *Collection, cfg ExtractConfig) error {
	return ExtractAll(ctx, e, img, boxes, coll, cfg)
}

func worker(ctx context.Context, b Builder, img image.Image, isCamera bool, jobs <-chan boxJob, results chan<- boxResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		entry, ok := b.BuildEntry(img, job.box, isCamera)
		results <- boxResult{box: job.box, entry: entry, ok: ok}
	}
}
