package form

import (
	"errors"
	"image"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
)

var (
	ErrCannotSave    = errors.New("form: required fields missing")
	ErrCannotPublish = errors.New("form: no source to publish with")
)

// Handlers returns scan session handlers that feed a finished scan into the
// given form state. The image is attached first and the fields are filled
// when the scan result is final.
func Handlers(fields *Fields, sources *Sources) session.Handlers {
	return HandlersWithLogger(fields, sources, nil)
}

// HandlersWithLogger is Handlers with an explicit logger. A nil logger uses
// slog.Default().
func HandlersWithLogger(fields *Fields, sources *Sources, logger *slog.Logger) session.Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return session.Handlers{
		Image: func(img image.Image, result recognition.ScanResult) {
			// The scan result still fills the fields when the image list is full.
			if _, err := sources.AddImage(img, &result); err != nil {
				logger.Warn("could not attach scanned image",
					"max_images", MaxImages, "error", err)
			}
		},
		ScanResult: func(result recognition.ScanResult) {
			fields.ApplyScanResult(result)
		},
	}
}

// StatusMessage is the short status shown next to the form title.
func StatusMessage(fields *Fields, sources *Sources) string {
	if fields.IsInEmptyState() {
		return ""
	}
	if name, missing := fields.MissingRequiredField(); missing {
		return "Missing " + name
	}
	if !sources.CanBePublished() {
		return "Missing source"
	}
	return ""
}

// Output is a saved food entry.
type Output struct {
	Values        Values      `json:"values" yaml:"values"`
	ImageIDs      []uuid.UUID `json:"image_ids,omitempty" yaml:"image_ids,omitempty"`
	Links         []string    `json:"links,omitempty" yaml:"links,omitempty"`
	ShouldPublish bool        `json:"should_publish" yaml:"should_publish"`
}

// Save builds the output of the form.
func Save(fields *Fields, sources *Sources, publish bool) (Output, error) {
	if !fields.CanBeSaved() {
		return Output{}, ErrCannotSave
	}
	if publish && !sources.CanBePublished() {
		return Output{}, ErrCannotPublish
	}
	out := Output{
		Values:        fields.Values(),
		Links:         sources.Links(),
		ShouldPublish: publish,
	}
	for _, img := range sources.Images() {
		out.ImageIDs = append(out.ImageIDs, img.ID)
	}
	return out, nil
}
