// Package imagesource loads the images a scan runs on, from image files,
// uploaded bytes or the embedded images of a PDF.
package imagesource

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the file extensions Load accepts.
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".pdf"}

// ErrUnsupported is returned for files of an unknown type.
var ErrUnsupported = errors.New("unsupported format")

// Options controls loading.
type Options struct {
	// Page selects the PDF page to take the image from (1-based, 0 = first
	// page with an image).
	Page int
	// MaxBytes limits the size of decoded input (0 = no limit).
	MaxBytes int64
}

// Metadata describes a loaded image.
type Metadata struct {
	Path      string  `json:"path,omitempty"`
	Format    string  `json:"format"`
	SizeBytes int64   `json:"size_bytes"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Page      int     `json:"page,omitempty"`
	Ratio     float64 `json:"aspect_ratio"`
}

// IsSupported reports whether path has a supported extension.
func IsSupported(path string) bool {
	return slices.Contains(SupportedExtensions, strings.ToLower(filepath.Ext(path)))
}

// Load reads the scan image at path. PDFs yield the largest embedded image of
// the selected page.
func Load(path string, opts Options) (image.Image, Metadata, error) {
	if path == "" {
		return nil, Metadata{}, &Error{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupported(path) {
		return nil, Metadata{}, &Error{Operation: "load", Path: path, Err: fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))}
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "load", Path: path, Err: err}
	}
	if fi.IsDir() {
		return nil, Metadata{}, &Error{Operation: "load", Path: path, Err: errors.New("is a directory")}
	}
	if opts.MaxBytes > 0 && fi.Size() > opts.MaxBytes {
		return nil, Metadata{}, &Error{Operation: "load", Path: path, Err: fmt.Errorf("file too large: %d bytes", fi.Size())}
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		img, page, err := loadPDF(path, opts.Page)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta := metadataFor(img, "pdf", fi.Size())
		meta.Path = path
		meta.Page = page
		return img, meta, nil
	}

	f, err := os.Open(path) //nolint:gosec // G304: Reading user-provided image file path is expected
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "load", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "decode", Path: path, Err: err}
	}
	meta := metadataFor(img, format, fi.Size())
	meta.Path = path
	return img, meta, nil
}

// Decode reads an uploaded image or PDF from r.
func Decode(r io.Reader, opts Options) (image.Image, Metadata, error) {
	if opts.MaxBytes > 0 {
		r = io.LimitReader(r, opts.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "read", Err: err}
	}
	if opts.MaxBytes > 0 && int64(len(data)) > opts.MaxBytes {
		return nil, Metadata{}, &Error{Operation: "read", Err: fmt.Errorf("upload exceeds %d bytes", opts.MaxBytes)}
	}
	if len(data) == 0 {
		return nil, Metadata{}, &Error{Operation: "read", Err: errors.New("empty input")}
	}

	if IsPDF(data) {
		img, page, err := decodePDF(data, opts.Page)
		if err != nil {
			return nil, Metadata{}, err
		}
		meta := metadataFor(img, "pdf", int64(len(data)))
		meta.Page = page
		return img, meta, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, Metadata{}, &Error{Operation: "decode", Err: err}
	}
	return img, metadataFor(img, format, int64(len(data))), nil
}

// IsPDF reports whether data starts with the PDF signature.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

func metadataFor(img image.Image, format string, size int64) Metadata {
	b := img.Bounds()
	meta := Metadata{Format: format, SizeBytes: size, Width: b.Dx(), Height: b.Dy()}
	if b.Dy() > 0 {
		meta.Ratio = float64(b.Dx()) / float64(b.Dy())
	}
	return meta
}
