// Package geometry converts normalised image-space boxes into display space.
//
// Normalised boxes use a top-left origin with every coordinate in the 0..1 range
// relative to the image. Display rectangles are expressed in display points.
package geometry

import (
	"fmt"
	"image"
	"math"
)

// minDimension keeps every scale factor strictly positive.
const minDimension = 1e-9

// Size is a width/height pair in pixels or display points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SizeOf returns the size of an image rectangle.
func SizeOf(b image.Rectangle) Size {
	return Size{Width: float64(b.Dx()), Height: float64(b.Dy())}
}

// AspectRatio returns width divided by height (0 for degenerate sizes).
func (s Size) AspectRatio() float64 {
	if s.Height <= 0 {
		return 0
	}
	return s.Width / s.Height
}

// IsEmpty reports whether either dimension is not positive.
func (s Size) IsEmpty() bool { return s.Width <= 0 || s.Height <= 0 }

// positive returns a copy whose dimensions are clamped to a strictly positive minimum.
func (s Size) positive() Size {
	return Size{Width: math.Max(s.Width, minDimension), Height: math.Max(s.Height, minDimension)}
}

func (s Size) String() string { return fmt.Sprintf("%gx%g", s.Width, s.Height) }

// Rect is an axis-aligned rectangle given by its origin and size.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// UnitRect covers the whole image in normalised coordinates.
var UnitRect = Rect{X: 0, Y: 0, Width: 1, Height: 1}

// NewRect constructs a standardised Rect from two corners.
func NewRect(x1, y1, x2, y2 float64) Rect {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Rect{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// MaxX returns the right edge.
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY returns the bottom edge.
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// MidX returns the horizontal centre.
func (r Rect) MidX() float64 { return r.X + r.Width/2 }

// MidY returns the vertical centre.
func (r Rect) MidY() float64 { return r.Y + r.Height/2 }

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool { return r.Width <= 0 || r.Height <= 0 }

// Standardized returns an equivalent rectangle with non-negative width and
// height. Sides that are already non-negative are returned untouched.
func (r Rect) Standardized() Rect {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// Union returns the smallest rectangle containing both r and o.
func (r Rect) Union(o Rect) Rect {
	if r.IsEmpty() {
		return o
	}
	if o.IsEmpty() {
		return r
	}
	return NewRect(
		math.Min(r.X, o.X), math.Min(r.Y, o.Y),
		math.Max(r.MaxX(), o.MaxX()), math.Max(r.MaxY(), o.MaxY()),
	)
}

// VerticalOverlap returns the fraction of the shorter rectangle's height shared with o.
func (r Rect) VerticalOverlap(o Rect) float64 {
	top := math.Max(r.Y, o.Y)
	bottom := math.Min(r.MaxY(), o.MaxY())
	shortest := math.Min(r.Height, o.Height)
	if bottom <= top || shortest <= 0 {
		return 0
	}
	return (bottom - top) / shortest
}

// RectForSize maps a normalised rectangle into a space of the given size.
func (r Rect) RectForSize(s Size) Rect {
	r = r.Standardized()
	return Rect{
		X:      r.X * s.Width,
		Y:      r.Y * s.Height,
		Width:  r.Width * s.Width,
		Height: r.Height * s.Height,
	}
}

// Offset returns the rectangle translated by dx, dy.
func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Normalize converts a pixel rectangle into normalised coordinates for bounds.
func Normalize(px image.Rectangle, bounds image.Rectangle) Rect {
	s := SizeOf(bounds).positive()
	return Rect{
		X:      float64(px.Min.X-bounds.Min.X) / s.Width,
		Y:      float64(px.Min.Y-bounds.Min.Y) / s.Height,
		Width:  float64(px.Dx()) / s.Width,
		Height: float64(px.Dy()) / s.Height,
	}
}

// ToPixels converts a normalised rectangle to pixel coordinates clamped to bounds.
func (r Rect) ToPixels(bounds image.Rectangle) image.Rectangle {
	p := r.RectForSize(SizeOf(bounds))
	x1 := clampInt(int(math.Floor(p.X))+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	y1 := clampInt(int(math.Floor(p.Y))+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)
	x2 := clampInt(int(math.Ceil(p.MaxX()))+bounds.Min.X, bounds.Min.X, bounds.Max.X)
	y2 := clampInt(int(math.Ceil(p.MaxY()))+bounds.Min.Y, bounds.Min.Y, bounds.Max.Y)
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return image.Rect(x1, y1, x2, y2)
}

func (r Rect) String() string {
	return fmt.Sprintf("{x:%g y:%g w:%g h:%g}", r.X, r.Y, r.Width, r.Height)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
