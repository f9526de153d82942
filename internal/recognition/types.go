// Package recognition defines the contract between a scan session and the text
// recognition engine, and derives structured nutrition-label results from the
// raw recognised text.
package recognition

import (
	"context"
	"image"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
)

// Mode selects the recognition accuracy/speed trade-off.
type Mode int

const (
	ModeAccurate Mode = iota
	ModeFast
)

func (m Mode) String() string {
	if m == ModeFast {
		return "fast"
	}
	return "accurate"
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "accurate", "":
		return ModeAccurate, true
	case "fast":
		return ModeFast, true
	default:
		return ModeAccurate, false
	}
}

// Gateway wraps a text recognition engine.
//
// DetectText may take seconds; implementations must return promptly with
// ctx.Err() once ctx is cancelled.
type Gateway interface {
	DetectText(ctx context.Context, img image.Image, mode Mode, includeBarcodes bool) (*TextSet, error)
}

// RecognizedText is a single piece of text found by the engine.
type RecognizedText struct {
	ID          uuid.UUID     `json:"id"`
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	BoundingBox geometry.Rect `json:"bounding_box"`
}

// Barcode is a decoded barcode found alongside the text.
type Barcode struct {
	ID          uuid.UUID     `json:"id"`
	Payload     string        `json:"payload"`
	Format      string        `json:"format"`
	BoundingBox geometry.Rect `json:"bounding_box"`
}

// TextSet is everything the engine recognised in one image.
type TextSet struct {
	Texts     []RecognizedText `json:"texts"`
	Barcodes  []Barcode        `json:"barcodes,omitempty"`
	ImageSize geometry.Size    `json:"image_size"`
}

// Default presentation for boxes overlaid on the scanned image.
const (
	DefaultBoxColor   = "accent"
	DefaultBoxOpacity = 0.8
)

// TextBox is a highlighted region drawn over the scanned image.
type TextBox struct {
	ID          uuid.UUID     `json:"id"`
	BoundingBox geometry.Rect `json:"bounding_box"`
	Text        string        `json:"text,omitempty"`
	Color       string        `json:"color"`
	Opacity     float64       `json:"opacity"`
	TapHandler  func()        `json:"-"`
}

func newTextBox(id uuid.UUID, box geometry.Rect, text string) TextBox {
	return TextBox{
		ID:          id,
		BoundingBox: box,
		Text:        text,
		Color:       DefaultBoxColor,
		Opacity:     DefaultBoxOpacity,
	}
}

// TextBoxes returns one overlay box per recognised text.
func (s *TextSet) TextBoxes() []TextBox {
	if s == nil {
		return nil
	}
	boxes := make([]TextBox, 0, len(s.Texts))
	for _, t := range s.Texts {
		boxes = append(boxes, newTextBox(t.ID, t.BoundingBox, t.Text))
	}
	return boxes
}
