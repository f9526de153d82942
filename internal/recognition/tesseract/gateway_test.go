package tesseract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/otiai10/gosseract/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func word(s string, x1, y1, x2, y2, line int, conf float64) gosseract.BoundingBox {
	return gosseract.BoundingBox{
		Box:        image.Rect(x1, y1, x2, y2),
		Word:       s,
		Confidence: conf,
		BlockNum:   1,
		ParNum:     1,
		LineNum:    line,
	}
}

func TestMergeWords(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 1000)
	words := []gosseract.BoundingBox{
		word("Fat", 120, 100, 170, 120, 1, 90),
		word("Total", 50, 100, 110, 120, 1, 90),
		word("8g", 500, 100, 530, 120, 1, 80),
		word("noise", 600, 100, 650, 120, 1, 10),
		word("Protein", 50, 200, 140, 220, 2, 95),
	}

	texts := mergeWords(words, bounds, 0.3, 1.5)

	require.Len(t, texts, 3)
	assert.Equal(t, "Total Fat", texts[0].Text)
	assert.InDelta(t, 0.05, texts[0].BoundingBox.X, 1e-9)
	assert.InDelta(t, 0.12, texts[0].BoundingBox.Width, 1e-9)
	assert.InDelta(t, 0.9, texts[0].Confidence, 1e-9)
	assert.Equal(t, "8g", texts[1].Text)
	assert.Equal(t, "Protein", texts[2].Text)
	for _, tx := range texts {
		assert.NotEqual(t, uuid.Nil, tx.ID)
	}
}

func fakeGateway(e engine) *Gateway {
	g := New(DefaultConfig(), nil)
	g.engine = e
	return g
}

func TestDetectText_UsesEngine(t *testing.T) {
	img := testutil.CreateTestImage(200, 100, color.White)
	var gotMode recognition.Mode
	g := fakeGateway(func(data []byte, mode recognition.Mode, langs []string) ([]gosseract.BoundingBox, error) {
		gotMode = mode
		assert.NotEmpty(t, data)
		assert.Equal(t, []string{"eng"}, langs)
		return []gosseract.BoundingBox{word("Energy", 10, 10, 60, 20, 1, 90)}, nil
	})

	set, err := g.DetectText(context.Background(), img, recognition.ModeFast, true)
	require.NoError(t, err)
	assert.Equal(t, recognition.ModeFast, gotMode)
	require.Len(t, set.Texts, 1)
	assert.Equal(t, "Energy", set.Texts[0].Text)
	assert.InDelta(t, 200, set.ImageSize.Width, 1e-9)
	assert.Empty(t, set.Barcodes)
}

func TestDetectText_EngineError(t *testing.T) {
	g := fakeGateway(func([]byte, recognition.Mode, []string) ([]gosseract.BoundingBox, error) {
		return nil, errors.New("boom")
	})

	_, err := g.DetectText(context.Background(), testutil.CreateTestImage(10, 10, color.White), recognition.ModeAccurate, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestDetectText_Cancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g := fakeGateway(func([]byte, recognition.Mode, []string) ([]gosseract.BoundingBox, error) {
		<-release
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := g.DetectText(ctx, testutil.CreateTestImage(10, 10, color.White), recognition.ModeAccurate, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDetectText_NilImage(t *testing.T) {
	_, err := New(DefaultConfig(), nil).DetectText(context.Background(), nil, recognition.ModeAccurate, false)
	assert.Error(t, err)
}
