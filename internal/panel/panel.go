// Package panel implements the control panel: browsing decks, choosing the
// card captures are attached to, and running guided mode.
package panel

import (
	"context"
	"fmt"

	"github.com/kpauljoseph/ankisnap/internal/store"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

type CardSource interface {
	CheckConnection(ctx context.Context) error
	DeckNames(ctx context.Context) ([]string, error)
	CardsInDeck(ctx context.Context, deckName string) ([]models.Card, error)
	CardsWithoutImages(ctx context.Context, deckName string) ([]models.Card, error)
}

type Guided interface {
	Start(deckName string, cards []models.Card) (models.GuidedModeState, error)
	Stop() error
	Current() (models.GuidedModeState, bool, error)
}

type Panel struct {
	cards  CardSource
	store  store.Store
	guided Guided
	logger *logger.Logger
}

// GuidedStatus summarizes a guided run for display.
type GuidedStatus struct {
	Active   bool         `json:"active"`
	DeckName string       `json:"deckName,omitempty"`
	Position int          `json:"position,omitempty"`
	Total    int          `json:"total,omitempty"`
	Current  *models.Card `json:"current,omitempty"`
}

func New(cards CardSource, st store.Store, guided Guided, logger *logger.Logger) *Panel {
	return &Panel{
		cards:  cards,
		store:  st,
		guided: guided,
		logger: logger,
	}
}

func (p *Panel) CheckConnection(ctx context.Context) error {
	return p.cards.CheckConnection(ctx)
}

func (p *Panel) Decks(ctx context.Context) ([]string, error) {
	return p.cards.DeckNames(ctx)
}

func (p *Panel) Cards(ctx context.Context, deckName string, withoutImagesOnly bool) ([]models.Card, error) {
	if withoutImagesOnly {
		return p.cards.CardsWithoutImages(ctx, deckName)
	}
	return p.cards.CardsInDeck(ctx, deckName)
}

// SelectCard makes a card of deckName the capture target.
func (p *Panel) SelectCard(ctx context.Context, deckName string, cardID int64) (models.Card, error) {
	cards, err := p.cards.CardsInDeck(ctx, deckName)
	if err != nil {
		return models.Card{}, err
	}

	for _, card := range cards {
		if card.CardID != cardID {
			continue
		}
		if err := p.store.Set(map[string]interface{}{models.SelectedCardKey: card}); err != nil {
			return models.Card{}, fmt.Errorf("failed to save selected card: %w", err)
		}
		p.logger.Info("Selected card %d from %s", cardID, deckName)
		return card, nil
	}
	return models.Card{}, fmt.Errorf("card %d not found in deck %q", cardID, deckName)
}

// SelectedCard returns the current capture target, or false when there is none.
func (p *Panel) SelectedCard() (models.Card, bool, error) {
	var card models.Card
	found, err := p.store.Get(models.SelectedCardKey, &card)
	if err != nil {
		return models.Card{}, false, err
	}
	return card, found, nil
}

func (p *Panel) ClearSelection() error {
	if err := p.store.Remove(models.SelectedCardKey); err != nil {
		return fmt.Errorf("failed to clear selected card: %w", err)
	}
	p.logger.Debug("Cleared selected card")
	return nil
}

// StartGuided queues every card of deckName without an image. It fails with
// EmptyQueue when there is nothing to do.
func (p *Panel) StartGuided(ctx context.Context, deckName string) (models.GuidedModeState, error) {
	cards, err := p.cards.CardsWithoutImages(ctx, deckName)
	if err != nil {
		return models.GuidedModeState{}, err
	}
	return p.guided.Start(deckName, cards)
}

func (p *Panel) StopGuided() error {
	return p.guided.Stop()
}

func (p *Panel) GuidedStatus() (GuidedStatus, error) {
	state, active, err := p.guided.Current()
	if err != nil {
		return GuidedStatus{}, err
	}
	if !active {
		return GuidedStatus{}, nil
	}

	status := GuidedStatus{
		Active:   true,
		DeckName: state.DeckName,
		Position: state.CurrentIndex + 1,
		Total:    state.Total(),
	}
	if card, ok := state.Current(); ok {
		status.Current = &card
	}
	return status, nil
}
