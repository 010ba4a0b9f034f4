package browser

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

//go:embed overlay.js
var overlayScript string

const bindingName = "ankisnapEvent"

// pageOverlay drives the overlay script inside one tab. Each overlay carries
// its own id and the script ignores calls from an overlay it no longer shows,
// so a late Remove from an earlier selection cannot take down a newer one.
type pageOverlay struct {
	tabCtx context.Context
	id     string
}

func newPageOverlay(tabCtx context.Context) *pageOverlay {
	return &pageOverlay{tabCtx: tabCtx, id: uuid.NewString()}
}

func (o *pageOverlay) Install(ctx context.Context) error {
	return o.run(ctx, overlayScript+";"+OverlayCall(o.id, "install"))
}

func (o *pageOverlay) DrawSelection(ctx context.Context, rect models.SelectionRectangle) error {
	return o.run(ctx, OverlayCall(o.id, "draw",
		rect.X, rect.Y, rect.Width, rect.Height))
}

func (o *pageOverlay) Hide(ctx context.Context) error {
	return o.run(ctx, OverlayCall(o.id, "hide"))
}

func (o *pageOverlay) Remove(ctx context.Context) error {
	return o.run(ctx, OverlayCall(o.id, "remove"))
}

func (o *pageOverlay) run(ctx context.Context, expr string) error {
	runCtx, cancel := context.WithCancel(o.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, chromedp.Evaluate(expr, nil))
}

// OverlayCall builds the expression invoking method on the page overlay on
// behalf of the overlay with the given id.
func OverlayCall(id, method string, args ...float64) string {
	expr := fmt.Sprintf("window.__ankisnap && window.__ankisnap.%s(%s", method, strconv.Quote(id))
	for _, a := range args {
		expr += "," + strconv.FormatFloat(a, 'f', -1, 64)
	}
	return expr + ")"
}
