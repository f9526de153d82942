package imagesource

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func writeImage(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path) //nolint:gosec // controlled test path
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		require.NoError(t, png.Encode(f, img))
	case ".jpg", ".jpeg":
		require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 80}))
	case ".bmp":
		require.NoError(t, bmp.Encode(f, img))
	case ".tif", ".tiff":
		require.NoError(t, tiff.Encode(f, img, nil))
	default:
		t.Fatalf("no encoder for %s", path)
	}
}

func TestLoad_Formats(t *testing.T) {
	dir := t.TempDir()
	img := testutil.CreateTestImage(40, 30, color.White)

	tests := []struct {
		file   string
		format string
	}{
		{"label.png", "png"},
		{"label.jpg", "jpeg"},
		{"label.bmp", "bmp"},
		{"label.tiff", "tiff"},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeImage(t, path, img)

			got, meta, err := Load(path, Options{})
			require.NoError(t, err)
			assert.Equal(t, 40, got.Bounds().Dx())
			assert.Equal(t, tt.format, meta.Format)
			assert.Equal(t, 30, meta.Height)
			assert.InDelta(t, 40.0/30.0, meta.Ratio, 1e-9)
			assert.Positive(t, meta.SizeBytes)
			assert.Equal(t, path, meta.Path)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, _, err := Load("", Options{})
	require.Error(t, err)

	_, _, err = Load(filepath.Join(dir, "notes.txt"), Options{})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, _, err = Load(filepath.Join(dir, "missing.png"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	corrupt := filepath.Join(dir, "corrupt.png")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a png"), 0o600))
	_, _, err = Load(corrupt, Options{})
	var srcErr *Error
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "decode", srcErr.Operation)

	big := filepath.Join(dir, "big.png")
	writeImage(t, big, testutil.CreateTestImage(50, 50, color.White))
	_, _, err = Load(big, Options{MaxBytes: 10})
	assert.ErrorContains(t, err, "too large")
}

func TestDecode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testutil.CreateTestImage(12, 8, color.Black)))

	img, meta, err := Decode(bytes.NewReader(buf.Bytes()), Options{})
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)

	_, _, err = Decode(bytes.NewReader(buf.Bytes()), Options{MaxBytes: 5})
	assert.ErrorContains(t, err, "exceeds")

	_, _, err = Decode(strings.NewReader(""), Options{})
	assert.Error(t, err)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte("\x89PNG")))
}

func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a/b/LABEL.JPG"))
	assert.True(t, IsSupported("scan.pdf"))
	assert.True(t, IsSupported("scan.webp"))
	assert.False(t, IsSupported("scan.heic"))
}
