package testutil

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// Text returns a recognised text with a fresh id.
func Text(s string, x, y, w, h float64) recognition.RecognizedText {
	return recognition.RecognizedText{
		ID:          uuid.New(),
		Text:        s,
		Confidence:  0.9,
		BoundingBox: geometry.Rect{X: x, Y: y, Width: w, Height: h},
	}
}

// TwoColumnLabel returns a text set for a label with "per 100g" and "per
// serving" value columns. Its scan result needs column resolution.
func TwoColumnLabel() *recognition.TextSet {
	return &recognition.TextSet{
		ImageSize: geometry.Size{Width: 1000, Height: 1500},
		Texts: []recognition.RecognizedText{
			Text("per 100g", 0.50, 0.02, 0.12, 0.04),
			Text("per serving", 0.75, 0.02, 0.18, 0.04),
			Text("Energy", 0.05, 0.10, 0.25, 0.05),
			Text("250kcal", 0.50, 0.10, 0.12, 0.05),
			Text("125kcal", 0.75, 0.10, 0.12, 0.05),
			Text("Fat", 0.05, 0.20, 0.10, 0.05),
			Text("8.5g", 0.50, 0.20, 0.08, 0.05),
			Text("4.3g", 0.75, 0.21, 0.08, 0.05),
			Text("Protein", 0.05, 0.30, 0.20, 0.05),
			Text("5g", 0.50, 0.30, 0.05, 0.05),
			Text("2,5g", 0.75, 0.30, 0.05, 0.05),
		},
	}
}

// SingleColumnLabel returns a text set for a US style label with inline values
// and daily value percentages.
func SingleColumnLabel() *recognition.TextSet {
	return &recognition.TextSet{
		ImageSize: geometry.Size{Width: 800, Height: 1200},
		Texts: []recognition.RecognizedText{
			Text("Calories 230", 0.05, 0.10, 0.50, 0.05),
			Text("Total Fat 8g", 0.05, 0.20, 0.40, 0.05),
			Text("10%", 0.80, 0.20, 0.10, 0.05),
			Text("Total Carbohydrate 37g", 0.05, 0.30, 0.60, 0.05),
			Text("13%", 0.80, 0.30, 0.10, 0.05),
			Text("Protein 3g", 0.05, 0.40, 0.30, 0.05),
		},
	}
}

// FakeGateway is a recognition.Gateway returning a canned text set.
type FakeGateway struct {
	Set   *recognition.TextSet
	Err   error
	Delay time.Duration
	// Block, when set, makes DetectText wait until it is closed or the context
	// is cancelled.
	Block chan struct{}

	calls atomic.Int32
	mu    sync.Mutex
	modes []recognition.Mode
}

// DetectText implements recognition.Gateway. Every call returns a copy of Set
// so callers may not observe each other's changes.
func (g *FakeGateway) DetectText(ctx context.Context, _ image.Image, mode recognition.Mode, _ bool) (*recognition.TextSet, error) {
	g.calls.Add(1)
	g.mu.Lock()
	g.modes = append(g.modes, mode)
	g.mu.Unlock()

	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.Delay > 0 {
		t := time.NewTimer(g.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.Err != nil {
		return nil, g.Err
	}
	if g.Set == nil {
		return &recognition.TextSet{}, nil
	}
	out := *g.Set
	out.Texts = append([]recognition.RecognizedText(nil), g.Set.Texts...)
	out.Barcodes = append([]recognition.Barcode(nil), g.Set.Barcodes...)
	return &out, nil
}

// Calls returns how many times DetectText was called.
func (g *FakeGateway) Calls() int { return int(g.calls.Load()) }

// Modes returns the recognition modes DetectText was called with.
func (g *FakeGateway) Modes() []recognition.Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]recognition.Mode(nil), g.modes...)
}
