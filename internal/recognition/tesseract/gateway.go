// Package tesseract implements recognition.Gateway on top of the Tesseract OCR
// engine, with optional barcode decoding.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/otiai10/gosseract/v2"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// Config controls the Tesseract gateway.
type Config struct {
	Languages []string
	// MinConfidence drops words below this confidence (0..1).
	MinConfidence float64
	// WordGapFactor splits a line into separate texts when the gap between two
	// words exceeds this multiple of the line height.
	WordGapFactor float64
}

// DefaultConfig returns sensible defaults for printed nutrition labels.
func DefaultConfig() Config {
	return Config{
		Languages:     []string{"eng"},
		MinConfidence: 0.3,
		WordGapFactor: 1.5,
	}
}

// engine runs OCR over an encoded image and returns word boxes.
type engine func(data []byte, mode recognition.Mode, languages []string) ([]gosseract.BoundingBox, error)

// Gateway recognises label text with Tesseract.
type Gateway struct {
	cfg      Config
	engine   engine
	barcodes barcode.Decoder
	logger   *slog.Logger
}

// New creates a Gateway. A nil logger uses slog.Default().
func New(cfg Config, logger *slog.Logger) *Gateway {
	if cfg.WordGapFactor <= 0 {
		cfg.WordGapFactor = DefaultConfig().WordGapFactor
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = DefaultConfig().Languages
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:      cfg,
		engine:   runTesseract,
		barcodes: barcode.NewDecoder(),
		logger:   logger,
	}
}

type detection struct {
	set *recognition.TextSet
	err error
}

// DetectText implements recognition.Gateway. Tesseract itself cannot be
// interrupted, so on cancellation the call returns immediately and the engine
// finishes in the background.
func (g *Gateway) DetectText(ctx context.Context, img image.Image, mode recognition.Mode, includeBarcodes bool) (*recognition.TextSet, error) {
	if img == nil {
		return nil, fmt.Errorf("tesseract: nil image")
	}
	done := make(chan detection, 1)
	go func() {
		set, err := g.detect(ctx, img, mode, includeBarcodes)
		done <- detection{set: set, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-done:
		return d.set, d.err
	}
}

func (g *Gateway) detect(ctx context.Context, img image.Image, mode recognition.Mode, includeBarcodes bool) (*recognition.TextSet, error) {
	start := time.Now()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("tesseract: encode image: %w", err)
	}

	words, err := g.engine(buf.Bytes(), mode, g.cfg.Languages)
	if err != nil {
		return nil, fmt.Errorf("tesseract: recognise: %w", err)
	}

	bounds := img.Bounds()
	set := &recognition.TextSet{
		Texts:     mergeWords(words, bounds, g.cfg.MinConfidence, g.cfg.WordGapFactor),
		ImageSize: geometry.SizeOf(bounds),
	}

	if includeBarcodes {
		results, err := g.barcodes.Decode(ctx, img, barcode.Options{TryHarder: mode == recognition.ModeAccurate})
		if err != nil {
			// barcodes are best effort; the text result still stands
			g.logger.Warn("barcode decoding failed", "error", err)
		}
		for _, r := range results {
			set.Barcodes = append(set.Barcodes, recognition.Barcode{
				ID:          uuid.New(),
				Payload:     r.Value,
				Format:      string(r.Format),
				BoundingBox: geometry.Normalize(r.BBox, bounds),
			})
		}
	}

	g.logger.Debug("text detection finished",
		"mode", mode.String(),
		"words", len(words),
		"texts", len(set.Texts),
		"barcodes", len(set.Barcodes),
		"duration_ms", time.Since(start).Milliseconds())
	return set, nil
}

func runTesseract(data []byte, mode recognition.Mode, languages []string) ([]gosseract.BoundingBox, error) {
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(languages...); err != nil {
		return nil, err
	}
	psm := gosseract.PSM_AUTO
	if mode == recognition.ModeFast {
		psm = gosseract.PSM_SPARSE_TEXT
	}
	if err := client.SetPageSegMode(psm); err != nil {
		return nil, err
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, err
	}
	return client.GetBoundingBoxes(gosseract.RIL_WORD)
}

type lineKey struct{ block, par, line int }

// mergeWords joins neighbouring words of the same line into phrases, the way
// label text is printed ("Total Fat", "8.5 g"), and normalises their boxes.
func mergeWords(words []gosseract.BoundingBox, bounds image.Rectangle, minConfidence, gapFactor float64) []recognition.RecognizedText {
	lines := make(map[lineKey][]gosseract.BoundingBox)
	var order []lineKey
	for _, w := range words {
		if w.Word == "" || w.Confidence/100 < minConfidence {
			continue
		}
		k := lineKey{w.BlockNum, w.ParNum, w.LineNum}
		if _, ok := lines[k]; !ok {
			order = append(order, k)
		}
		lines[k] = append(lines[k], w)
	}

	var out []recognition.RecognizedText
	for _, k := range order {
		line := lines[k]
		sort.SliceStable(line, func(i, j int) bool { return line[i].Box.Min.X < line[j].Box.Min.X })

		var cur *phrase
		for _, w := range line {
			if cur != nil && float64(w.Box.Min.X-cur.box.Max.X) <= gapFactor*float64(cur.box.Dy()) {
				cur.add(w)
				continue
			}
			if cur != nil {
				out = append(out, cur.text(bounds))
			}
			cur = newPhrase(w)
		}
		if cur != nil {
			out = append(out, cur.text(bounds))
		}
	}
	return out
}

type phrase struct {
	words []string
	box   image.Rectangle
	conf  float64
}

func newPhrase(w gosseract.BoundingBox) *phrase {
	return &phrase{words: []string{w.Word}, box: w.Box, conf: w.Confidence}
}

func (p *phrase) add(w gosseract.BoundingBox) {
	p.words = append(p.words, w.Word)
	p.box = p.box.Union(w.Box)
	p.conf += w.Confidence
}

func (p *phrase) text(bounds image.Rectangle) recognition.RecognizedText {
	s := p.words[0]
	for _, w := range p.words[1:] {
		s += " " + w
	}
	return recognition.RecognizedText{
		ID:          uuid.New(),
		Text:        s,
		Confidence:  p.conf / float64(len(p.words)) / 100,
		BoundingBox: geometry.Normalize(p.box, bounds),
	}
}
