package form

import (
	"errors"
	"image"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// MaxImages is the number of images a form can hold.
const MaxImages = 5

var (
	ErrTooManyImages = errors.New("form: image limit reached")
	ErrInvalidLink   = errors.New("form: invalid link")
)

// ImageSource is an image attached to the form, with its scan result if it
// was scanned.
type ImageSource struct {
	ID      uuid.UUID               `json:"id" yaml:"id"`
	Image   image.Image             `json:"-" yaml:"-"`
	Result  *recognition.ScanResult `json:"result,omitempty" yaml:"-"`
	AddedAt time.Time               `json:"added_at" yaml:"added_at"`
}

// ColumnSelection asks the user to pick a column for an image whose label has
// two value columns.
type ColumnSelection struct {
	ImageID uuid.UUID            `json:"image_id"`
	Columns []recognition.Column `json:"columns"`
}

// Sources holds the images and links backing a form. It is safe for
// concurrent use.
type Sources struct {
	mu              sync.RWMutex
	images          []ImageSource
	links           []string
	columnSelection *ColumnSelection
}

// NewSources returns empty sources.
func NewSources() *Sources { return &Sources{} }

// AddImage attaches img and its optional scan result.
func (s *Sources) AddImage(img image.Image, result *recognition.ScanResult) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.images) >= MaxImages {
		return uuid.Nil, ErrTooManyImages
	}
	src := ImageSource{ID: uuid.New(), Image: img, AddedAt: time.Now()}
	if result != nil {
		r := *result
		src.Result = &r
		if r.IsAmbiguous() {
			s.columnSelection = &ColumnSelection{ImageID: src.ID, Columns: r.Columns}
		}
	}
	s.images = append(s.images, src)
	return src.ID, nil
}

// Images returns the attached images.
func (s *Sources) Images() []ImageSource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]ImageSource(nil), s.images...)
}

// AvailableImagesCount is how many more images can be attached.
func (s *Sources) AvailableImagesCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return MaxImages - len(s.images)
}

// AddLink attaches an absolute http(s) link.
func (s *Sources) AddLink(link string) error {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidLink
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, u.String())
	return nil
}

// Links returns the attached links.
func (s *Sources) Links() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.links...)
}

// ColumnSelection returns the pending column selection, if any.
func (s *Sources) ColumnSelection() (ColumnSelection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.columnSelection == nil {
		return ColumnSelection{}, false
	}
	return *s.columnSelection, true
}

// ClearColumnSelection drops the pending column selection.
func (s *Sources) ClearColumnSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.columnSelection = nil
}

// CanBePublished reports whether the form has a source to back a public entry.
func (s *Sources) CanBePublished() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.images) > 0 || len(s.links) > 0
}
