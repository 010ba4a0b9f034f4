package crop_test

import (
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kpauljoseph/ankisnap/internal/crop"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

// createTestImage paints the left half red and the right half blue.
func createTestImage(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	midPoint := width / 2

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < midPoint {
				img.Set(x, y, color.RGBA{255, 0, 0, 255})
			} else {
				img.Set(x, y, color.RGBA{0, 0, 255, 255})
			}
		}
	}
	return img
}

var _ = Describe("Crop Transform", func() {
	Context("Region", func() {
		It("should scale a selection on a 2x capture", func() {
			region, err := crop.Region(2400, 1600,
				models.Size{Width: 1200, Height: 800},
				models.SelectionRectangle{X: 100, Y: 50, Width: 200, Height: 100, DevicePixelRatio: 2},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(region).To(Equal(image.Rect(200, 100, 600, 300)))
		})

		It("should take the scale from the raster, not the device pixel ratio", func() {
			// A capture surface downscaled to 1.5x while the page reports dpr 2.
			region, err := crop.Region(1800, 1200,
				models.Size{Width: 1200, Height: 800},
				models.SelectionRectangle{X: 100, Y: 50, Width: 200, Height: 100, DevicePixelRatio: 2},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(region).To(Equal(image.Rect(150, 75, 450, 225)))
		})

		It("should allow different horizontal and vertical scales", func() {
			region, err := crop.Region(2000, 900,
				models.Size{Width: 1000, Height: 600},
				models.SelectionRectangle{X: 10, Y: 10, Width: 100, Height: 100},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(region).To(Equal(image.Rect(20, 15, 220, 165)))
		})

		DescribeTable("output dimensions are round(w*W/Vw) x round(h*H/Vh)",
			func(w, h int, vw, vh float64, rect models.SelectionRectangle) {
				region, err := crop.Region(w, h, models.Size{Width: vw, Height: vh}, rect)
				Expect(err).NotTo(HaveOccurred())
				Expect(region.Dx()).To(Equal(int(math.Round(rect.Width * float64(w) / vw))))
				Expect(region.Dy()).To(Equal(int(math.Round(rect.Height * float64(h) / vh))))
			},
			Entry("identity", 800, 600, 800.0, 600.0, models.SelectionRectangle{X: 0, Y: 0, Width: 800, Height: 600}),
			Entry("fractional dpr 1.25", 1500, 1000, 1200.0, 800.0, models.SelectionRectangle{X: 33.3, Y: 12.7, Width: 101.1, Height: 57.9}),
			Entry("fractional dpr 1.75", 2100, 1400, 1200.0, 800.0, models.SelectionRectangle{X: 1, Y: 1, Width: 10, Height: 10}),
			Entry("downscaled capture", 600, 400, 1200.0, 800.0, models.SelectionRectangle{X: 200, Y: 200, Width: 334, Height: 112}),
		)

		DescribeTable("out of bounds selections fail with InvalidRegion",
			func(rect models.SelectionRectangle, viewport models.Size) {
				_, err := crop.Region(1200, 800, viewport, rect)
				Expect(errors.Is(err, models.ErrInvalidRegion)).To(BeTrue())
			},
			Entry("past the right edge", models.SelectionRectangle{X: 1100, Y: 0, Width: 200, Height: 100}, models.Size{Width: 1200, Height: 800}),
			Entry("past the bottom edge", models.SelectionRectangle{X: 0, Y: 750, Width: 100, Height: 100}, models.Size{Width: 1200, Height: 800}),
			Entry("negative origin", models.SelectionRectangle{X: -5, Y: 0, Width: 100, Height: 100}, models.Size{Width: 1200, Height: 800}),
			Entry("empty selection", models.SelectionRectangle{X: 10, Y: 10, Width: 0, Height: 100}, models.Size{Width: 1200, Height: 800}),
			Entry("viewport without area", models.SelectionRectangle{X: 10, Y: 10, Width: 10, Height: 10}, models.Size{Width: 0, Height: 800}),
		)

		It("should accept a selection touching the far edges", func() {
			region, err := crop.Region(2400, 1600,
				models.Size{Width: 1200, Height: 800},
				models.SelectionRectangle{X: 1000, Y: 700, Width: 200, Height: 100},
			)
			Expect(err).NotTo(HaveOccurred())
			Expect(region.Max).To(Equal(image.Pt(2400, 1600)))
		})
	})

	Context("Crop", func() {
		It("should copy the selected pixels into a new image", func() {
			captured := models.CapturedImage{
				Image:    createTestImage(400, 200),
				Viewport: models.Size{Width: 200, Height: 100},
			}

			// Straddles the red/blue boundary at CSS x=100.
			out, err := crop.Crop(captured, models.SelectionRectangle{X: 90, Y: 10, Width: 20, Height: 30})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Bounds()).To(Equal(image.Rect(0, 0, 40, 60)))
			Expect(out.RGBAAt(0, 0)).To(Equal(color.RGBA{255, 0, 0, 255}))
			Expect(out.RGBAAt(19, 59)).To(Equal(color.RGBA{255, 0, 0, 255}))
			Expect(out.RGBAAt(20, 0)).To(Equal(color.RGBA{0, 0, 255, 255}))
			Expect(out.RGBAAt(39, 59)).To(Equal(color.RGBA{0, 0, 255, 255}))
		})

		It("should honour captures whose bounds do not start at the origin", func() {
			full := createTestImage(400, 200)
			sub := full.SubImage(image.Rect(200, 0, 400, 200))
			captured := models.CapturedImage{
				Image:    sub,
				Viewport: models.Size{Width: 200, Height: 200},
			}

			out, err := crop.Crop(captured, models.SelectionRectangle{X: 0, Y: 0, Width: 10, Height: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.RGBAAt(0, 0)).To(Equal(color.RGBA{0, 0, 255, 255}))
		})

		It("should fail without an image", func() {
			_, err := crop.Crop(models.CapturedImage{}, models.SelectionRectangle{Width: 10, Height: 10})
			Expect(errors.Is(err, models.ErrCaptureFailed)).To(BeTrue())
		})
	})

	Context("encoding", func() {
		It("should round trip through PNG and a data URL", func() {
			data, err := crop.EncodePNG(createTestImage(20, 10))
			Expect(err).NotTo(HaveOccurred())

			url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
			raw, err := crop.DecodeDataURL(url)
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal(data))

			img, format, err := crop.Decode(raw)
			Expect(err).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
			Expect(img.Bounds().Dx()).To(Equal(20))
			Expect(img.Bounds().Dy()).To(Equal(10))
		})

		It("should accept bare base64 payloads", func() {
			raw, err := crop.DecodeDataURL(base64.StdEncoding.EncodeToString([]byte("abc")))
			Expect(err).NotTo(HaveOccurred())
			Expect(raw).To(Equal([]byte("abc")))
		})

		It("should reject data URLs that are not base64", func() {
			_, err := crop.DecodeDataURL("data:text/plain,hello")
			Expect(err).To(HaveOccurred())
		})

		It("should reject bytes that are not an image", func() {
			_, _, err := crop.Decode([]byte("definitely not a png"))
			Expect(err).To(HaveOccurred())
		})
	})
})
