// Package pdf renders pages of local PDF files as capture sources, so a
// selection can be cut from a document the same way as from a browser tab.
package pdf

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

const (
	Scheme = "pdf"

	DefaultDPI = 144.0
	// PointsPerInch is the PDF user-space unit.
	PointsPerInch = 72.0
)

// PageRef addresses one page of a PDF. Page numbers start at 1.
type PageRef struct {
	Path string
	Page int
}

// TabID renders the reference as "pdf:<path>#<page>".
func (r PageRef) TabID() string {
	return fmt.Sprintf("%s:%s#%d", Scheme, r.Path, r.Page)
}

// ParseTabID reads "pdf:<path>#<page>". The page defaults to 1.
func ParseTabID(tabID string) (PageRef, error) {
	rest, ok := strings.CutPrefix(tabID, Scheme+":")
	if !ok {
		return PageRef{}, fmt.Errorf("not a pdf tab id: %q", tabID)
	}

	ref := PageRef{Path: rest, Page: 1}
	if idx := strings.LastIndex(rest, "#"); idx >= 0 {
		page, err := strconv.Atoi(rest[idx+1:])
		if err != nil || page < 1 {
			return PageRef{}, fmt.Errorf("invalid page in %q", tabID)
		}
		ref.Path, ref.Page = rest[:idx], page
	}
	if ref.Path == "" {
		return PageRef{}, fmt.Errorf("missing path in %q", tabID)
	}
	return ref, nil
}

// PageCapturer treats a PDF page as a viewport measured in points and
// rasterizes it at a fixed resolution.
type PageCapturer struct {
	dpi    float64
	logger *logger.Logger
}

func NewPageCapturer(dpi float64, logger *logger.Logger) *PageCapturer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &PageCapturer{dpi: dpi, logger: logger}
}

func (c *PageCapturer) Capture(ctx context.Context, tabID string) (*models.CapturedImage, error) {
	ref, err := ParseTabID(tabID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	viewport, err := PageSize(ref)
	if err != nil {
		return nil, err
	}

	doc, err := fitz.New(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	//Page numbers are zero indexed in the fitz package.
	img, err := doc.ImageDPI(ref.Page-1, c.dpi)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d of %s: %w", ref.Page, filepath.Base(ref.Path), err)
	}

	// The media box does not account for /Rotate; the raster does.
	b := img.Bounds()
	if (b.Dx() > b.Dy()) != (viewport.Width > viewport.Height) {
		viewport.Width, viewport.Height = viewport.Height, viewport.Width
	}

	c.logger.Debug("Rendered %s page %d: %dx%d px for %.2fx%.2f pt",
		filepath.Base(ref.Path), ref.Page, b.Dx(), b.Dy(), viewport.Width, viewport.Height)
	return &models.CapturedImage{Image: img, Viewport: viewport, Format: "png"}, nil
}

// PageSize returns the size of a page in points.
func PageSize(ref PageRef) (models.Size, error) {
	dims, err := api.PageDimsFile(ref.Path)
	if err != nil {
		return models.Size{}, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	if ref.Page > len(dims) {
		return models.Size{}, fmt.Errorf("page %d out of range: %s has %d page(s)",
			ref.Page, filepath.Base(ref.Path), len(dims))
	}
	dim := dims[ref.Page-1]
	return models.Size{Width: dim.Width, Height: dim.Height}, nil
}

// Pages lists a reference for every page of the document.
func Pages(path string) ([]PageRef, error) {
	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dimensions: %w", err)
	}
	refs := make([]PageRef, len(dims))
	for i := range dims {
		refs[i] = PageRef{Path: path, Page: i + 1}
	}
	return refs, nil
}
