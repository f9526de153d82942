package geometry

// ZoomBox tells the image viewer which region to zoom to so that it lines up
// with what the user saw when the image was captured or picked.
type ZoomBox struct {
	BoundingBox Rect `json:"bounding_box"`
	Animated    bool `json:"animated"`
	// Padded is set for picked images. Without padding the initial zoom can
	// scroll the image completely off screen.
	Padded    bool `json:"padded"`
	ImageSize Size `json:"image_size"`
}

// Mapper maps normalised image boxes onto a display of a fixed size.
type Mapper struct {
	Display Size
}

// NewMapper returns a Mapper for the given display size.
func NewMapper(display Size) Mapper {
	return Mapper{Display: display}
}

// ZoomBox computes the initial zoom for a scan. Camera captures zoom to the part
// of the image that filled the screen, measured against the image's own size.
// Picked images show the whole image measured against the display size.
func (m Mapper) ZoomBox(imageSize Size, screenFill Rect, isCamera bool) ZoomBox {
	if isCamera {
		return ZoomBox{
			BoundingBox: screenFill,
			Animated:    false,
			Padded:      false,
			ImageSize:   imageSize,
		}
	}
	return ZoomBox{
		BoundingBox: UnitRect,
		Animated:    false,
		Padded:      true,
		ImageSize:   m.Display,
	}
}

// ScreenFillBox returns the normalised region of an image that is visible when
// the image aspect-fills the display, as a camera preview does.
func (m Mapper) ScreenFillBox(imageSize Size) Rect {
	img := imageSize.positive()
	disp := m.Display.positive()
	imageRatio := img.AspectRatio()
	displayRatio := disp.AspectRatio()
	if imageRatio > displayRatio {
		visible := displayRatio / imageRatio
		return Rect{X: (1 - visible) / 2, Y: 0, Width: visible, Height: 1}
	}
	visible := imageRatio / displayRatio
	return Rect{X: 0, Y: (1 - visible) / 2, Width: 1, Height: visible}
}

// CorrectedRect maps a normalised box into display space.
//
// Camera images are scaled to the display height and centre-cropped, so the
// box is shifted left by half the horizontal overflow. Picked images are
// fitted: letterboxed when relatively wider than the display, pillarboxed
// otherwise, and the box is shifted by half the empty strip.
func (m Mapper) CorrectedRect(box Rect, imageSize Size, isCamera bool) Rect {
	img := imageSize.positive()
	disp := m.Display.positive()

	if isCamera {
		scaledWidth := (img.Width * disp.Height) / img.Height
		r := box.RectForSize(Size{Width: scaledWidth, Height: disp.Height})
		return r.Offset(-((scaledWidth - disp.Width) / 2.0), 0)
	}

	if img.AspectRatio() > disp.AspectRatio() {
		scaledHeight := (img.Height * disp.Width) / img.Width
		r := box.RectForSize(Size{Width: disp.Width, Height: scaledHeight})
		return r.Offset(0, (disp.Height-scaledHeight)/2.0)
	}

	scaledWidth := (img.Width * disp.Height) / img.Height
	r := box.RectForSize(Size{Width: scaledWidth, Height: disp.Height})
	return r.Offset((disp.Width-scaledWidth)/2.0, 0)
}
