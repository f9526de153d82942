// Package barcode decodes product barcodes printed next to nutrition labels.
package barcode

import (
	"context"
	"errors"
	"image"
	"image/draw"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Format is the symbology name reported by the decoder (e.g. "EAN_13").
type Format string

// Options controls decoding.
type Options struct {
	// Formats restricts results to the given symbologies; empty accepts all.
	Formats []Format
	// TryHarder enables a slower, more exhaustive search.
	TryHarder bool
	// ROI optionally restricts decoding to a sub-rectangle of the image.
	ROI image.Rectangle
}

// Result is a decoded barcode in image pixel coordinates.
type Result struct {
	Format Format
	Value  string
	BBox   image.Rectangle
}

// Decoder finds barcodes in an image.
type Decoder interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// NewDecoder returns the gozxing-backed decoder.
func NewDecoder() Decoder { return &zxingDecoder{} }

type zxingDecoder struct{}

func readers() []gozxing.Reader {
	return []gozxing.Reader{
		oned.NewEAN13Reader(),
		oned.NewEAN8Reader(),
		oned.NewUPCAReader(),
		oned.NewUPCEReader(),
		oned.NewCode128Reader(),
		oned.NewCode39Reader(),
		oned.NewITFReader(),
		qrcode.NewQRCodeReader(),
		datamatrix.NewDataMatrixReader(),
	}
}

// Decode tries every supported reader and returns one result per distinct payload.
// An image without barcodes yields no results and no error.
func (d *zxingDecoder) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	if img == nil {
		return nil, errors.New("barcode: nil image")
	}
	offset := image.Point{}
	if !opts.ROI.Empty() {
		if roi, ok := subImage(img, opts.ROI); ok {
			offset = roi.Bounds().Min
			img = roi
		}
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}

	var hints map[gozxing.DecodeHintType]interface{}
	if opts.TryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	}

	seen := make(map[string]bool)
	var out []Result
	for _, reader := range readers() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := reader.Decode(bmp, hints)
		if err != nil || r == nil {
			continue
		}
		format := Format(r.GetBarcodeFormat().String())
		if !accepts(opts.Formats, format) || seen[r.GetText()] {
			continue
		}
		seen[r.GetText()] = true
		out = append(out, Result{
			Format: format,
			Value:  r.GetText(),
			BBox:   bboxFromPoints(r.GetResultPoints()).Add(offset),
		})
	}
	return out, nil
}

func accepts(formats []Format, f Format) bool {
	if len(formats) == 0 {
		return true
	}
	for _, want := range formats {
		if want == f {
			return true
		}
	}
	return false
}

func bboxFromPoints(pts []gozxing.ResultPoint) image.Rectangle {
	if len(pts) == 0 {
		return image.Rectangle{}
	}
	minX, minY := int(pts[0].GetX()), int(pts[0].GetY())
	maxX, maxY := minX, minY
	for _, p := range pts[1:] {
		x, y := int(p.GetX()), int(p.GetY())
		minX, maxX = min(minX, x), max(maxX, x)
		minY, maxY = min(minY, y), max(maxY, y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// subImage returns the part of img inside r, copying when the image type cannot slice.
func subImage(img image.Image, r image.Rectangle) (image.Image, bool) {
	rb := r.Intersect(img.Bounds())
	if rb.Empty() {
		return nil, false
	}
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(rb), true
	}
	dst := image.NewRGBA(rb)
	draw.Draw(dst, rb, img, rb.Min, draw.Src)
	return dst, true
}
