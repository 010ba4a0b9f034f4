// Package guided walks a fixed queue of cards, selecting each in turn as the
// capture target.
package guided

import (
	"fmt"

	"github.com/kpauljoseph/ankisnap/internal/metrics"
	"github.com/kpauljoseph/ankisnap/internal/notify"
	"github.com/kpauljoseph/ankisnap/internal/store"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
	"github.com/kpauljoseph/ankisnap/pkg/utils"
)

const DefaultPreviewLength = 50

// Advance results, as recorded in metrics.
const (
	ResultNext     = "next"
	ResultComplete = "complete"
)

type Sequencer struct {
	store         store.Store
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	logger        *logger.Logger
	previewLength int
}

type Option func(*Sequencer)

func WithPreviewLength(n int) Option {
	return func(s *Sequencer) {
		s.previewLength = n
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sequencer) {
		s.metrics = m
	}
}

func NewSequencer(st store.Store, notifier notify.Notifier, logger *logger.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		store:         st,
		notifier:      notifier,
		logger:        logger,
		previewLength: DefaultPreviewLength,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins a run over cards. The queue is fixed for the whole run.
func (s *Sequencer) Start(deckName string, cards []models.Card) (models.GuidedModeState, error) {
	if len(cards) == 0 {
		return models.GuidedModeState{}, models.Errorf(models.KindEmptyQueue,
			"all cards in %q already have images", deckName)
	}

	state := models.GuidedModeState{
		Active:       true,
		CardQueue:    append([]models.Card(nil), cards...),
		CurrentIndex: 0,
		DeckName:     deckName,
	}

	err := s.store.Set(map[string]interface{}{
		models.GuidedModeKey:   state,
		models.SelectedCardKey: state.CardQueue[0],
	})
	if err != nil {
		return models.GuidedModeState{}, fmt.Errorf("failed to save guided mode: %w", err)
	}

	s.logger.Info("Guided mode started: %d card(s) in %s", state.Total(), deckName)
	s.notify("Guided Mode Started",
		fmt.Sprintf("Card 1 of %d: %s", state.Total(), s.preview(state.CardQueue[0])))
	return state, nil
}

// Advance moves past the card at state.CurrentIndex, which has just been
// captured. After the last card the run ends and the selection is cleared.
func (s *Sequencer) Advance(state models.GuidedModeState) (models.GuidedModeState, error) {
	next := state.CurrentIndex + 1

	if next >= state.Total() {
		if err := s.store.Remove(models.GuidedModeKey, models.SelectedCardKey); err != nil {
			return state, fmt.Errorf("failed to finish guided mode: %w", err)
		}
		s.metrics.GuidedAdvance(ResultComplete)
		s.logger.Info("Guided mode complete: %d card(s)", state.Total())
		s.notify("Guided Mode Complete!",
			fmt.Sprintf("All %d cards now have images!", state.Total()))
		return models.GuidedModeState{}, nil
	}

	advanced := state
	advanced.CurrentIndex = next
	card := advanced.CardQueue[next]

	err := s.store.Set(map[string]interface{}{
		models.GuidedModeKey:   advanced,
		models.SelectedCardKey: card,
	})
	if err != nil {
		return state, fmt.Errorf("failed to advance guided mode: %w", err)
	}

	s.metrics.GuidedAdvance(ResultNext)
	s.logger.Debug("Guided mode advanced to card %d of %d", next+1, advanced.Total())
	s.notify(fmt.Sprintf("Card %d of %d", next+1, advanced.Total()),
		fmt.Sprintf("Next: %s...", s.preview(card)))
	return advanced, nil
}

// Stop ends the run and keeps the selected card.
func (s *Sequencer) Stop() error {
	if err := s.store.Remove(models.GuidedModeKey); err != nil {
		return fmt.Errorf("failed to stop guided mode: %w", err)
	}
	s.logger.Info("Guided mode stopped")
	return nil
}

// Current returns the stored run, or false when none is active.
func (s *Sequencer) Current() (models.GuidedModeState, bool, error) {
	var state models.GuidedModeState
	found, err := s.store.Get(models.GuidedModeKey, &state)
	if err != nil {
		return models.GuidedModeState{}, false, err
	}
	if !found || !state.Active {
		return models.GuidedModeState{}, false, nil
	}
	return state, true, nil
}

func (s *Sequencer) preview(card models.Card) string {
	return utils.Preview(card.Question, s.previewLength)
}

func (s *Sequencer) notify(title, message string) {
	if err := s.notifier.Notify(title, message); err != nil {
		s.logger.Debug("Notification %q not shown: %v", title, err)
	}
}
