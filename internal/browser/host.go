// Package browser connects to a running Chrome over the DevTools protocol and
// provides the tab primitives the capture pipeline needs.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/kpauljoseph/ankisnap/internal/crop"
	"github.com/kpauljoseph/ankisnap/internal/selection"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

const DefaultChromeURL = "http://127.0.0.1:9222"

// OutcomeHandler receives the end of every selection started on a tab.
type OutcomeHandler func(ctx context.Context, tabID string, outcome selection.Outcome) models.Response

type Host struct {
	logger       *logger.Logger
	selectorOpts []selection.Option

	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancel      context.CancelFunc

	mu      sync.Mutex
	handler OutcomeHandler
	tabs    map[string]*tab
}

type tab struct {
	id       string
	ctx      context.Context
	cancel   context.CancelFunc
	selector *selection.Selector
	events   *EventQueue
	done     chan struct{}
	bindOnce sync.Once
	bindErr  error
}

type Option func(*Host)

func WithSelectorOptions(opts ...selection.Option) Option {
	return func(h *Host) {
		h.selectorOpts = append(h.selectorOpts, opts...)
	}
}

// NewHost attaches to the browser whose DevTools endpoint is at url, e.g.
// http://127.0.0.1:9222 for a Chrome started with --remote-debugging-port.
func NewHost(ctx context.Context, url string, logger *logger.Logger, opts ...Option) (*Host, error) {
	allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, url)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", url, err)
	}

	h := &Host{
		logger:      logger,
		ctx:         browserCtx,
		cancelAlloc: cancelAlloc,
		cancel:      cancel,
		tabs:        map[string]*tab{},
	}
	for _, opt := range opts {
		opt(h)
	}

	logger.Info("Connected to browser at %s", url)
	return h, nil
}

// OnOutcome sets where selection outcomes go.
func (h *Host) OnOutcome(handler OutcomeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// ActiveTab returns the id of the first regular page the browser lists, which
// Chrome orders by most recent activation.
func (h *Host) ActiveTab(ctx context.Context) (string, error) {
	targets, err := chromedp.Targets(h.ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list tabs: %w", err)
	}

	own := chromedp.FromContext(h.ctx).Target
	for _, t := range targets {
		if t.Type != "page" || strings.HasPrefix(t.URL, "devtools://") {
			continue
		}
		if own != nil && t.TargetID == own.TargetID {
			continue
		}
		return string(t.TargetID), nil
	}
	return "", fmt.Errorf("no open tab")
}

// Capture screenshots the visible viewport of a tab together with its size in
// CSS pixels.
func (h *Host) Capture(ctx context.Context, tabID string) (*models.CapturedImage, error) {
	t, err := h.tab(tabID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var (
		viewport models.Size
		buf      []byte
	)
	err = chromedp.Run(runCtx,
		chromedp.Evaluate(`({width: window.innerWidth, height: window.innerHeight})`, &viewport),
		chromedp.CaptureScreenshot(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to capture tab %s: %w", tabID, err)
	}

	img, format, err := crop.Decode(buf)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("Captured tab %s: %dx%d px, viewport %.0fx%.0f",
		tabID, img.Bounds().Dx(), img.Bounds().Dy(), viewport.Width, viewport.Height)
	return &models.CapturedImage{Image: img, Viewport: viewport, Format: format}, nil
}

// StartCapture installs the selection overlay on a tab. Any selection already
// running on that tab is cancelled first.
func (h *Host) StartCapture(ctx context.Context, tabID string, card models.Card) error {
	t, err := h.tab(tabID)
	if err != nil {
		return err
	}
	if err := h.bind(t); err != nil {
		return err
	}

	var dpr float64
	if err := chromedp.Run(t.ctx, chromedp.Evaluate(`window.devicePixelRatio || 1`, &dpr)); err != nil {
		return fmt.Errorf("failed to read device pixel ratio: %w", err)
	}

	if _, err := t.selector.Start(t.ctx, card, newPageOverlay(t.ctx), dpr); err != nil {
		return err
	}
	h.logger.Info("Selection started on tab %s for card %d", tabID, card.CardID)
	return nil
}

// Close detaches from the browser. The browser itself keeps running.
func (h *Host) Close() {
	h.mu.Lock()
	for id, t := range h.tabs {
		if s := t.selector.Active(); s != nil {
			s.Cancel(selection.ReasonReplaced)
		}
		close(t.done)
		delete(h.tabs, id)
	}
	h.mu.Unlock()

	h.cancel()
	h.cancelAlloc()
}

func (h *Host) tab(tabID string) (*tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if t, ok := h.tabs[tabID]; ok {
		return t, nil
	}

	tabCtx, cancel := chromedp.NewContext(h.ctx, chromedp.WithTargetID(target.ID(tabID)))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to attach to tab %s: %w", tabID, err)
	}

	t := &tab{
		id:     tabID,
		ctx:    tabCtx,
		cancel: cancel,
		events: NewEventQueue(),
		done:   make(chan struct{}),
	}
	t.selector = selection.NewSelector(func(ctx context.Context, o selection.Outcome) {
		h.deliver(ctx, tabID, o)
	}, h.logger, h.selectorOpts...)

	h.tabs[tabID] = t
	go h.pump(t)
	return t, nil
}

// bind exposes the event binding to the page and starts listening for it.
func (h *Host) bind(t *tab) error {
	t.bindOnce.Do(func() {
		chromedp.ListenTarget(t.ctx, func(ev interface{}) {
			called, ok := ev.(*runtime.EventBindingCalled)
			if !ok || called.Name != bindingName {
				return
			}
			pe, err := ParseEvent(called.Payload)
			if err != nil {
				h.logger.Debug("Ignoring page event: %v", err)
				return
			}
			// Listeners must not block; sessions are driven from pump.
			t.events.Push(pe)
		})
		t.bindErr = chromedp.Run(t.ctx, runtime.AddBinding(bindingName))
	})
	if t.bindErr != nil {
		return fmt.Errorf("failed to bind page events: %w", t.bindErr)
	}
	return nil
}

func (h *Host) pump(t *tab) {
	defer t.cancel()
	for {
		select {
		case <-t.done:
			return
		case <-t.events.Ready():
			for _, ev := range t.events.Drain() {
				if session := t.selector.Active(); session != nil {
					Dispatch(session, ev)
				}
			}
		}
	}
}

func (h *Host) deliver(ctx context.Context, tabID string, o selection.Outcome) {
	h.mu.Lock()
	handler := h.handler
	h.mu.Unlock()

	if handler == nil {
		h.logger.Info("No handler for selection %s on tab %s", o.SessionID, tabID)
		return
	}
	resp := handler(ctx, tabID, o)
	if resp.Success {
		h.logger.Debug("Selection %s on tab %s done: %+v", o.SessionID, tabID, resp.Result)
	}
}
