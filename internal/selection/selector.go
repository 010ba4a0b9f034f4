package selection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

const (
	DefaultMinSelection = 10.0
	DefaultSettleDelay  = 100 * time.Millisecond
)

type options struct {
	minSelection float64
	settleDelay  time.Duration
}

type Option func(*options)

func WithMinSelection(px float64) Option {
	return func(o *options) {
		o.minSelection = px
	}
}

func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		o.settleDelay = d
	}
}

// Selector owns the selection sessions of one viewport. At most one session
// is active at a time.
type Selector struct {
	handler Handler
	logger  *logger.Logger
	opts    options

	mu     sync.Mutex
	active *Session
}

func NewSelector(handler Handler, logger *logger.Logger, opts ...Option) *Selector {
	o := options{
		minSelection: DefaultMinSelection,
		settleDelay:  DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Selector{
		handler: handler,
		logger:  logger,
		opts:    o,
	}
}

// Start cancels any active session and arms a new one for card. ctx is used
// for overlay calls and passed to the handler, so it must outlive the
// interaction.
func (s *Selector) Start(ctx context.Context, card models.Card, overlay Overlay, dpr float64) (*Session, error) {
	s.mu.Lock()
	previous := s.active
	s.active = nil
	s.mu.Unlock()

	if previous != nil {
		s.logger.Debug("Replacing active selection %s", previous.ID())
		previous.supersede()
	}

	session := newSession(ctx, card, overlay, dpr, s.handler, s.logger, s.opts)
	session.onDone = s.release

	s.mu.Lock()
	s.active = session
	s.mu.Unlock()

	if err := session.arm(); err != nil {
		s.release(session)
		return nil, fmt.Errorf("failed to install overlay: %w", err)
	}
	return session, nil
}

// Active returns the session in progress, or nil when the viewport is idle.
func (s *Selector) Active() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Selector) release(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == session {
		s.active = nil
	}
}
