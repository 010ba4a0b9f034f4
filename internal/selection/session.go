// Package selection tracks one rectangle-drag interaction over a viewport,
// from the start-capture signal until the user either finishes a selection
// or abandons it.
package selection

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

type State int

const (
	Idle State = iota
	Armed
	Dragging
	Finalized
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Dragging:
		return "dragging"
	case Finalized:
		return "finalized"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

// Cancellation reasons.
const (
	ReasonEscape   = "escape"
	ReasonTooSmall = "too-small"
	ReasonReplaced = "replaced"
)

const EscapeKey = "Escape"

// Overlay is the input-capturing layer drawn over the viewport.
type Overlay interface {
	Install(ctx context.Context) error
	DrawSelection(ctx context.Context, rect models.SelectionRectangle) error
	// Hide makes the overlay invisible while keeping it installed.
	Hide(ctx context.Context) error
	Remove(ctx context.Context) error
}

type Outcome struct {
	SessionID string
	Card      models.Card
	Rect      models.SelectionRectangle
	Cancelled bool
	Reason    string
}

type Handler func(ctx context.Context, outcome Outcome)

// Session is a single capture interaction. It is created armed by
// Selector.Start. After Finalized or Cancelled it tears down its overlay,
// delivers the outcome and settles back in Idle, at which point Done is
// closed and the session is spent.
type Session struct {
	id      string
	card    models.Card
	dpr     float64
	ctx     context.Context
	overlay Overlay
	handler Handler
	logger  *logger.Logger
	opts    options
	onDone  func(*Session)

	mu      sync.Mutex
	state   State
	anchorX float64
	anchorY float64
	rect    models.SelectionRectangle
	// superseded is set when a newer session owns the viewport; the overlay
	// then belongs to that session and must not be removed from here.
	superseded bool
	done       chan struct{}
}

func newSession(ctx context.Context, card models.Card, overlay Overlay, dpr float64, handler Handler, log *logger.Logger, opts options) *Session {
	return &Session{
		id:      uuid.NewString(),
		card:    card,
		dpr:     dpr,
		ctx:     ctx,
		overlay: overlay,
		handler: handler,
		logger:  log,
		opts:    opts,
		state:   Idle,
		done:    make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Card() models.Card {
	return s.card
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Rect returns the current selection in CSS pixels.
func (s *Session) Rect() models.SelectionRectangle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rect
}

// Done is closed once the outcome has been delivered, the overlay removed and
// the session is back in Idle.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) arm() error {
	if err := s.overlay.Install(s.ctx); err != nil {
		s.settle()
		return err
	}
	s.mu.Lock()
	s.state = Armed
	s.mu.Unlock()
	s.logger.Debug("Selection %s armed for card %d", s.id, s.card.CardID)
	return nil
}

func (s *Session) PointerDown(x, y float64) {
	s.mu.Lock()
	if s.state != Armed {
		s.mu.Unlock()
		return
	}
	s.state = Dragging
	s.anchorX, s.anchorY = x, y
	s.rect = s.rectTo(x, y)
	rect := s.rect
	s.mu.Unlock()

	s.draw(rect)
}

func (s *Session) PointerMove(x, y float64) {
	s.mu.Lock()
	if s.state != Dragging {
		s.mu.Unlock()
		return
	}
	s.rect = s.rectTo(x, y)
	rect := s.rect
	s.mu.Unlock()

	s.draw(rect)
}

func (s *Session) PointerUp(x, y float64) {
	s.mu.Lock()
	if s.state != Dragging {
		s.mu.Unlock()
		return
	}
	s.rect = s.rectTo(x, y)
	if !s.rect.MeetsMinimum(s.opts.minSelection) {
		s.mu.Unlock()
		s.cancel(ReasonTooSmall)
		return
	}
	s.state = Finalized
	rect := s.rect
	s.mu.Unlock()

	s.finalize(rect)
}

func (s *Session) KeyDown(key string) {
	if key == EscapeKey {
		s.Cancel(ReasonEscape)
	}
}

// Cancel abandons the session if it has not reached a terminal state.
func (s *Session) Cancel(reason string) {
	s.cancel(reason)
}

func (s *Session) cancel(reason string) {
	s.mu.Lock()
	if s.state != Armed && s.state != Dragging {
		s.mu.Unlock()
		return
	}
	s.state = Cancelled
	outcome := Outcome{
		SessionID: s.id,
		Card:      s.card,
		Rect:      s.rect,
		Cancelled: true,
		Reason:    reason,
	}
	s.mu.Unlock()

	s.logger.Debug("Selection %s cancelled: %s", s.id, reason)
	s.teardown()
	go s.deliver(outcome)
}

func (s *Session) finalize(rect models.SelectionRectangle) {
	if err := s.overlay.Hide(s.ctx); err != nil {
		s.logger.Debug("Failed to hide overlay: %v", err)
	}
	s.logger.Debug("Selection %s finalized: %.0fx%.0f at (%.0f,%.0f)",
		s.id, rect.Width, rect.Height, rect.X, rect.Y)

	outcome := Outcome{SessionID: s.id, Card: s.card, Rect: rect}
	// The overlay must be gone from the next rendered frame before the
	// full-viewport screenshot is taken.
	time.AfterFunc(s.opts.settleDelay, func() {
		s.handler(s.ctx, outcome)
		s.teardown()
		s.settle()
	})
}

func (s *Session) deliver(outcome Outcome) {
	s.handler(s.ctx, outcome)
	s.settle()
}

// supersede hands the viewport to a newer session. An active session is
// cancelled; a finalized one still finishing its capture keeps running but
// leaves the overlay alone.
func (s *Session) supersede() {
	s.mu.Lock()
	s.superseded = true
	s.mu.Unlock()
	s.cancel(ReasonReplaced)
}

func (s *Session) teardown() {
	s.mu.Lock()
	superseded := s.superseded && s.state == Finalized
	s.mu.Unlock()

	if superseded {
		s.logger.Debug("Selection %s superseded, leaving overlay in place", s.id)
	} else if err := s.overlay.Remove(s.ctx); err != nil {
		s.logger.Debug("Failed to remove overlay: %v", err)
	}
	if s.onDone != nil {
		s.onDone(s)
	}
}

func (s *Session) settle() {
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	close(s.done)
}

func (s *Session) draw(rect models.SelectionRectangle) {
	if err := s.overlay.DrawSelection(s.ctx, rect); err != nil {
		s.logger.Trace("Failed to draw selection: %v", err)
	}
}

func (s *Session) rectTo(x, y float64) models.SelectionRectangle {
	rect := models.RectFromPoints(s.anchorX, s.anchorY, x, y)
	rect.DevicePixelRatio = s.dpr
	return rect
}
