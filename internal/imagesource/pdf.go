package imagesource

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrNoImages is returned for PDFs without embedded images.
var ErrNoImages = errors.New("no embedded images")

func decodePDF(data []byte, page int) (image.Image, int, error) {
	tempDir, err := os.MkdirTemp("", "labelscan-pdf-*")
	if err != nil {
		return nil, 0, &Error{Operation: "pdf", Err: err}
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	path := filepath.Join(tempDir, "upload.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, 0, &Error{Operation: "pdf", Err: err}
	}
	return loadPDF(path, page)
}

// loadPDF extracts the images of a PDF page and returns the largest one.
func loadPDF(path string, page int) (image.Image, int, error) {
	tempDir, err := os.MkdirTemp("", "labelscan-extract-*")
	if err != nil {
		return nil, 0, &Error{Operation: "pdf", Path: path, Err: err}
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pages []string
	if page > 0 {
		pages = []string{strconv.Itoa(page)}
	}
	if err := api.ExtractImagesFile(path, tempDir, pages, nil); err != nil {
		return nil, 0, &Error{Operation: "pdf", Path: path, Err: fmt.Errorf("extract images: %w", err)}
	}

	byPage, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, 0, &Error{Operation: "pdf", Path: path, Err: err}
	}
	img, got, ok := pickImage(byPage, page)
	if !ok {
		return nil, 0, &Error{Operation: "pdf", Path: path, Err: ErrNoImages}
	}
	return img, got, nil
}

// pickImage returns the largest image of page, or of the first page with
// images when page is 0.
func pickImage(byPage map[int][]image.Image, page int) (image.Image, int, bool) {
	if page <= 0 {
		pages := make([]int, 0, len(byPage))
		for p := range byPage {
			pages = append(pages, p)
		}
		if len(pages) == 0 {
			return nil, 0, false
		}
		sort.Ints(pages)
		page = pages[0]
	}

	var best image.Image
	bestArea := -1
	for _, img := range byPage[page] {
		b := img.Bounds()
		if area := b.Dx() * b.Dy(); area > bestArea {
			best, bestArea = img, area
		}
	}
	return best, page, best != nil
}

// collectExtractedImages loads the images written by pdfcpu, keyed by page.
// It expects filenames in the pdfcpu format: <name>_page_<num>_image_<idx>.<ext>
// or page_<num>_image_<idx>.<ext>.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		page, err := parsePageFromFilename(name)
		if err != nil {
			continue
		}
		img, err := loadImageFile(filepath.Join(dir, name))
		if err != nil {
			// skip unreadable images
			continue
		}
		result[page] = append(result[page], img)
	}
	return result, nil
}

func loadImageFile(path string) (image.Image, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from our own temp dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	img, _, err := image.Decode(f)
	return img, err
}

// parsePageFromFilename extracts the page number from a pdfcpu image file name.
func parsePageFromFilename(filename string) (int, error) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(base, "_")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] != "page" || parts[i+2] != "image" {
			continue
		}
		page, err := strconv.Atoi(parts[i+1])
		if err != nil || page < 1 {
			return 0, errors.New("invalid page number")
		}
		return page, nil
	}
	return 0, errors.New("not a page image")
}
