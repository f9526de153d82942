package session

import (
	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/crop"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

// EventKind identifies a session event.
type EventKind string

const (
	EventPhase           EventKind = "phase"
	EventZoom            EventKind = "zoom"
	EventHaptic          EventKind = "haptic"
	EventView            EventKind = "view"
	EventCrop            EventKind = "crop"
	EventColumnsRequired EventKind = "columns_required"
	EventFinished        EventKind = "finished"
)

// Haptic is the style of a haptic pulse.
type Haptic string

const (
	HapticSelection Haptic = "selection"
	HapticSoft      Haptic = "soft"
)

// Event is a best-effort notification for the rendering side of a session.
// Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID uuid.UUID `json:"session_id"`
	Phase     Phase     `json:"phase"`

	Zoom    *geometry.ZoomBox    `json:"zoom,omitempty"`
	Haptic  Haptic               `json:"haptic,omitempty"`
	View    *ViewState           `json:"view,omitempty"`
	Crop    *crop.Entry          `json:"crop,omitempty"`
	Columns []recognition.Column `json:"columns,omitempty"`
	Outcome Outcome              `json:"outcome,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// EventSink receives session events. Emit is called from the session's run
// goroutine and should not block for long.
type EventSink interface {
	Emit(Event)
}

// EventFunc adapts a function to an EventSink.
type EventFunc func(Event)

// Emit calls f(e).
func (f EventFunc) Emit(e Event) { f(e) }

// ViewState is what the rendering side needs to draw the current scan.
type ViewState struct {
	ZoomBox               *geometry.ZoomBox     `json:"zoom_box,omitempty"`
	HideCamera            bool                  `json:"hide_camera"`
	BlackBackground       bool                  `json:"black_background"`
	ShowingBoxes          bool                  `json:"showing_boxes"`
	Shimmering            bool                  `json:"shimmering"`
	TextBoxes             []recognition.TextBox `json:"text_boxes,omitempty"`
	ShowingColumnPicker   bool                  `json:"showing_column_picker"`
	Columns               []recognition.Column  `json:"columns,omitempty"`
	ShowingCroppedImages  bool                  `json:"showing_cropped_images"`
	ScannedTextBoxes      []recognition.TextBox `json:"scanned_text_boxes,omitempty"`
	StackedOnTop          bool                  `json:"stacked_on_top"`
	CollapsingCutouts     bool                  `json:"collapsing_cutouts"`
	CollapsingCroppedImgs bool                  `json:"collapsing_cropped_images"`
	ClearSelectedImage    bool                  `json:"clear_selected_image"`
}

func (v ViewState) clone() ViewState {
	out := v
	if v.ZoomBox != nil {
		z := *v.ZoomBox
		out.ZoomBox = &z
	}
	out.TextBoxes = append([]recognition.TextBox(nil), v.TextBoxes...)
	out.ScannedTextBoxes = append([]recognition.TextBox(nil), v.ScannedTextBoxes...)
	out.Columns = append([]recognition.Column(nil), v.Columns...)
	return out
}
