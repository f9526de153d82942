// Package crop cuts recognised text boxes out of a scanned image and keeps the
// resulting entries in a collection keyed by box identity.
package crop

import (
	"image"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// MaxRotation bounds the presentation rotation of an entry, in degrees.
const MaxRotation = 20.0

// Entry is one cropped text box ready for display.
type Entry struct {
	Image image.Image `json:"-"`
	// Rect is the box in display coordinates.
	Rect     geometry.Rect `json:"rect"`
	BoxID    uuid.UUID     `json:"box_id"`
	Rotation float64       `json:"rotation"`
}

// Builder turns a text box into a crop entry. It reports false when the box
// cannot be cut out of the image.
type Builder interface {
	BuildEntry(img image.Image, box recognition.TextBox, isCamera bool) (Entry, bool)
}

// Extractor builds crop entries using a geometry mapper for display placement.
type Extractor struct {
	Mapper geometry.Mapper
	// Rand returns values in [0, 1). Nil uses math/rand/v2.
	Rand func() float64

	mu sync.Mutex
}

// NewExtractor returns an Extractor for the given mapper.
func NewExtractor(mapper geometry.Mapper) *Extractor {
	return &Extractor{Mapper: mapper}
}

// Crop cuts the normalised box out of img. It returns false for degenerate
// boxes and boxes that fall outside the image.
func (e *Extractor) Crop(img image.Image, box geometry.Rect) (image.Image, bool) {
	if img == nil || !finite(box) {
		return nil, false
	}
	box = box.Standardized()
	if box.IsEmpty() {
		return nil, false
	}
	px := box.ToPixels(img.Bounds())
	if px.Empty() {
		return nil, false
	}
	return imaging.Crop(img, px), true
}

// BuildEntry crops box from img and places it in display space with a random
// rotation in [-MaxRotation, MaxRotation].
func (e *Extractor) BuildEntry(img image.Image, box recognition.TextBox, isCamera bool) (Entry, bool) {
	sub, ok := e.Crop(img, box.BoundingBox)
	if !ok {
		return Entry{}, false
	}
	size := geometry.SizeOf(img.Bounds())
	return Entry{
		Image:    sub,
		Rect:     e.Mapper.CorrectedRect(box.BoundingBox, size, isCamera),
		BoxID:    box.ID,
		Rotation: e.rotation(),
	}, true
}

func (e *Extractor) rotation() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := rand.Float64
	if e.Rand != nil {
		r = e.Rand
	}
	return -MaxRotation + 2*MaxRotation*r()
}

func finite(r geometry.Rect) bool {
	for _, v := range []float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Collection is an append-only set of entries keyed by box id. It is safe for
// concurrent use.
type Collection struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[uuid.UUID]struct{}
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{seen: make(map[uuid.UUID]struct{})}
}

// Add appends e unless an entry with the same box id exists. It reports
// whether the entry was added.
func (c *Collection) Add(e Entry) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen == nil {
		c.seen = make(map[uuid.UUID]struct{})
	}
	if _, dup := c.seen[e.BoxID]; dup {
		return false
	}
	c.seen[e.BoxID] = struct{}{}
	c.entries = append(c.entries, e)
	return true
}

// Entries returns a copy of the entries in insertion order.
func (c *Collection) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of entries.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear discards all entries.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.seen = make(map[uuid.UUID]struct{})
}
