package models

import "image"

// CapturedImage is a full-frame raster together with the logical size of the
// surface it was taken from. The raster's pixel size and Viewport are
// independent: their ratio is the capture scale.
type CapturedImage struct {
	Image    image.Image
	Viewport Size
	Format   string
}

func (c CapturedImage) Width() int {
	return c.Image.Bounds().Dx()
}

func (c CapturedImage) Height() int {
	return c.Image.Bounds().Dy()
}
