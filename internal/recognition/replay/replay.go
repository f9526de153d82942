// Package replay implements recognition.Gateway over a recorded text set, so
// a scan can be reproduced without running an OCR engine.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// Gateway returns the same recorded text set for every image.
type Gateway struct {
	set *recognition.TextSet
	// Latency delays each call, to mimic a real engine.
	Latency time.Duration
}

// New creates a Gateway replaying set.
func New(set *recognition.TextSet) *Gateway {
	if set == nil {
		set = &recognition.TextSet{}
	}
	return &Gateway{set: set}
}

// Load reads a text set recorded with Record.
func Load(path string) (*Gateway, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: reading a user-supplied recording is expected
	if err != nil {
		return nil, fmt.Errorf("replay: read %s: %w", path, err)
	}
	var set recognition.TextSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("replay: decode %s: %w", path, err)
	}
	return New(&set), nil
}

// Record writes set as JSON to path.
func Record(path string, set *recognition.TextSet) error {
	if set == nil {
		return errors.New("replay: nil text set")
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return fmt.Errorf("replay: encode: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("replay: write %s: %w", path, err)
	}
	return nil
}

// DetectText implements recognition.Gateway. Texts without an id get a fresh
// one; barcodes are dropped unless requested.
func (g *Gateway) DetectText(ctx context.Context, img image.Image, _ recognition.Mode, includeBarcodes bool) (*recognition.TextSet, error) {
	if img == nil {
		return nil, errors.New("replay: nil image")
	}
	if g.Latency > 0 {
		t := time.NewTimer(g.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := recognition.TextSet{
		Texts:     make([]recognition.RecognizedText, len(g.set.Texts)),
		ImageSize: g.set.ImageSize,
	}
	copy(out.Texts, g.set.Texts)
	for i := range out.Texts {
		if out.Texts[i].ID == uuid.Nil {
			out.Texts[i].ID = uuid.New()
		}
	}
	if includeBarcodes {
		out.Barcodes = append([]recognition.Barcode(nil), g.set.Barcodes...)
		for i := range out.Barcodes {
			if out.Barcodes[i].ID == uuid.Nil {
				out.Barcodes[i].ID = uuid.New()
			}
		}
	}
	if out.ImageSize.IsEmpty() {
		out.ImageSize = geometry.SizeOf(img.Bounds())
	}
	return &out, nil
}
