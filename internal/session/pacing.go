package session

import (
	"context"
	"time"
)

// Pacing holds the delays between the visible steps of a scan. They exist so
// the scan reads well on screen; skipping them never changes the result.
type Pacing struct {
	ZoomSettle    time.Duration `mapstructure:"zoom_settle" yaml:"zoom_settle"`
	SlideUpSettle time.Duration `mapstructure:"slide_up_settle" yaml:"slide_up_settle"`
	RevealDelay   time.Duration `mapstructure:"reveal_delay" yaml:"reveal_delay"`
	// MinShimmer is the shortest time the shimmer stays on, so fast
	// recognition does not look instantaneous.
	MinShimmer    time.Duration `mapstructure:"min_shimmer" yaml:"min_shimmer"`
	CropReveal    time.Duration `mapstructure:"crop_reveal" yaml:"crop_reveal"`
	StackDelay    time.Duration `mapstructure:"stack_delay" yaml:"stack_delay"`
	CollapseDelay time.Duration `mapstructure:"collapse_delay" yaml:"collapse_delay"`
	FinalizeDelay time.Duration `mapstructure:"finalize_delay" yaml:"finalize_delay"`
}

// DefaultPacing returns the pacing used for interactive sessions.
func DefaultPacing() Pacing {
	return Pacing{
		ZoomSettle:    30 * time.Millisecond,
		SlideUpSettle: 200 * time.Millisecond,
		RevealDelay:   200 * time.Millisecond,
		MinShimmer:    time.Second,
		CropReveal:    500 * time.Millisecond,
		StackDelay:    500 * time.Millisecond,
		CollapseDelay: 500 * time.Millisecond,
		FinalizeDelay: 200 * time.Millisecond,
	}
}

// NoPacing returns a pacing without delays, for batch use and tests.
func NoPacing() Pacing { return Pacing{} }

// sleep waits for d or until ctx is done. Non-positive durations only check
// the context.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
