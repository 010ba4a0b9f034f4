package models

// Size is a width/height pair. For viewports it is in CSS pixels; for PDF
// pages it is in points.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// SelectionRectangle is a region of the viewport in CSS pixels.
type SelectionRectangle struct {
	X                float64 `json:"x"`
	Y                float64 `json:"y"`
	Width            float64 `json:"width"`
	Height           float64 `json:"height"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
}

// MeetsMinimum reports whether both sides are at least minDim CSS pixels.
func (r SelectionRectangle) MeetsMinimum(minDim float64) bool {
	return r.Width >= minDim && r.Height >= minDim
}

// RectFromPoints returns the axis-aligned bounding box of two points.
func RectFromPoints(x0, y0, x1, y1 float64) SelectionRectangle {
	left, right := x0, x1
	if right < left {
		left, right = right, left
	}
	top, bottom := y0, y1
	if bottom < top {
		top, bottom = bottom, top
	}
	return SelectionRectangle{
		X:      left,
		Y:      top,
		Width:  right - left,
		Height: bottom - top,
	}
}
