package crop

import (
	"image/color"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func newTestExtractor() *Extractor {
	return NewExtractor(geometry.NewMapper(geometry.Size{Width: 400, Height: 800}))
}

func TestCrop(t *testing.T) {
	img := testutil.CreateTestImage(200, 100, color.White)
	e := newTestExtractor()

	sub, ok := e.Crop(img, geometry.Rect{X: 0.25, Y: 0.5, Width: 0.5, Height: 0.2})
	require.True(t, ok)
	assert.Equal(t, 100, sub.Bounds().Dx())
	assert.Equal(t, 20, sub.Bounds().Dy())
}

func TestCrop_Rejects(t *testing.T) {
	img := testutil.CreateTestImage(200, 100, color.White)
	e := newTestExtractor()

	tests := []struct {
		name string
		box  geometry.Rect
	}{
		{"zero area", geometry.Rect{X: 0.5, Y: 0.5}},
		{"outside right", geometry.Rect{X: 1.5, Y: 0.1, Width: 0.2, Height: 0.2}},
		{"outside above", geometry.Rect{X: 0.1, Y: -2, Width: 0.2, Height: 0.5}},
		{"nan", geometry.Rect{X: math.NaN(), Y: 0, Width: 0.1, Height: 0.1}},
		{"infinite", geometry.Rect{X: 0, Y: 0, Width: math.Inf(1), Height: 0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := e.Crop(img, tt.box)
			assert.False(t, ok)
		})
	}

	_, ok := e.Crop(nil, geometry.UnitRect)
	assert.False(t, ok)
}

func TestBuildEntry(t *testing.T) {
	img := testutil.CreateTestImage(1000, 2000, color.White)
	e := newTestExtractor()
	e.Rand = func() float64 { return 0.75 }
	box := recognition.TextBox{ID: uuid.New(), BoundingBox: geometry.Rect{X: 0.5, Y: 0.5, Width: 0.1, Height: 0.1}}

	entry, ok := e.BuildEntry(img, box, true)
	require.True(t, ok)
	assert.Equal(t, box.ID, entry.BoxID)
	assert.InDelta(t, 10.0, entry.Rotation, 1e-9)
	assert.InDelta(t, 200, entry.Rect.X, 1e-9)
	assert.InDelta(t, 400, entry.Rect.Y, 1e-9)
	assert.InDelta(t, 40, entry.Rect.Width, 1e-9)
	assert.InDelta(t, 80, entry.Rect.Height, 1e-9)
	assert.InDelta(t, 100, entry.Image.Bounds().Dx(), 1)
	assert.InDelta(t, 200, entry.Image.Bounds().Dy(), 1)
}

func TestBuildEntry_RotationRange(t *testing.T) {
	img := testutil.CreateTestImage(50, 50, color.White)
	e := newTestExtractor()
	box := recognition.TextBox{ID: uuid.New(), BoundingBox: geometry.UnitRect}

	for range 200 {
		entry, ok := e.BuildEntry(img, box, false)
		require.True(t, ok)
		assert.GreaterOrEqual(t, entry.Rotation, -MaxRotation)
		assert.LessOrEqual(t, entry.Rotation, MaxRotation)
	}

	e.Rand = func() float64 { return 0 }
	entry, _ := e.BuildEntry(img, box, false)
	assert.InDelta(t, -MaxRotation, entry.Rotation, 1e-9)
}

func TestCollection_Dedup(t *testing.T) {
	c := NewCollection()
	id := uuid.New()

	assert.True(t, c.Add(Entry{BoxID: id}))
	assert.False(t, c.Add(Entry{BoxID: id, Rotation: 3}))
	assert.True(t, c.Add(Entry{BoxID: uuid.New()}))
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 0.0, c.Entries()[0].Rotation)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.True(t, c.Add(Entry{BoxID: id}))
}

func TestCollection_ConcurrentAdd(t *testing.T) {
	var c Collection
	ids := make([]uuid.UUID, 10)
	for i := range ids {
		ids[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				c.Add(Entry{BoxID: id})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, len(ids), c.Len())
	seen := map[uuid.UUID]bool{}
	for _, e := range c.Entries() {
		assert.False(t, seen[e.BoxID], "duplicate entry %s", e.BoxID)
		seen[e.BoxID] = true
	}
}
