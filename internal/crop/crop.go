// Package crop maps a selection made in CSS pixels onto a captured raster
// and cuts that region out.
package crop

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

// Scale returns the horizontal and vertical ratio between raster pixels and
// viewport units. The two are independent; neither is assumed to equal the
// page's device pixel ratio.
func Scale(imgW, imgH int, viewport models.Size) (float64, float64, error) {
	if viewport.Width <= 0 || viewport.Height <= 0 {
		return 0, 0, models.Errorf(models.KindInvalidRegion,
			"viewport %.2fx%.2f has no area", viewport.Width, viewport.Height)
	}
	return float64(imgW) / viewport.Width, float64(imgH) / viewport.Height, nil
}

// Region converts a CSS-pixel rectangle to source pixels, rounding every
// coordinate to the nearest pixel. The result must lie inside the raster.
func Region(imgW, imgH int, viewport models.Size, rect models.SelectionRectangle) (image.Rectangle, error) {
	scaleX, scaleY, err := Scale(imgW, imgH, viewport)
	if err != nil {
		return image.Rectangle{}, err
	}

	sx := int(math.Round(rect.X * scaleX))
	sy := int(math.Round(rect.Y * scaleY))
	sw := int(math.Round(rect.Width * scaleX))
	sh := int(math.Round(rect.Height * scaleY))

	if sw <= 0 || sh <= 0 {
		return image.Rectangle{}, models.Errorf(models.KindInvalidRegion,
			"crop %dx%d has no area", sw, sh)
	}
	if sx < 0 || sy < 0 || sx+sw > imgW || sy+sh > imgH {
		return image.Rectangle{}, models.Errorf(models.KindInvalidRegion,
			"crop (%d,%d %dx%d) outside image %dx%d", sx, sy, sw, sh, imgW, imgH)
	}

	return image.Rect(sx, sy, sx+sw, sy+sh), nil
}

// Crop cuts the selected region out of a capture. The returned image has its
// origin at (0,0).
func Crop(captured models.CapturedImage, rect models.SelectionRectangle) (*image.RGBA, error) {
	if captured.Image == nil {
		return nil, models.Errorf(models.KindCaptureFailed, "capture has no image")
	}

	bounds := captured.Image.Bounds()
	region, err := Region(bounds.Dx(), bounds.Dy(), captured.Viewport, rect)
	if err != nil {
		return nil, err
	}

	src := region.Add(bounds.Min)
	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Copy(dst, image.Point{}, captured.Image, src, draw.Src, nil)
	return dst, nil
}

// Decode reads a PNG, JPEG or WebP screenshot.
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDataURL accepts either a data URL ("data:image/png;base64,...") or a
// bare base64 payload and returns the raw bytes.
func DecodeDataURL(s string) ([]byte, error) {
	payload := s
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, fmt.Errorf("malformed data url")
		}
		if !strings.Contains(s[:idx], ";base64") {
			return nil, fmt.Errorf("data url is not base64 encoded")
		}
		payload = s[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}
	return data, nil
}
