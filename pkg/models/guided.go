package models

// Keys shared by every process through the store.
const (
	SelectedCardKey = "selectedCard"
	GuidedModeKey   = "guidedMode"
)

type GuidedModeState struct {
	Active       bool   `json:"active"`
	CardQueue    []Card `json:"cardQueue"`
	CurrentIndex int    `json:"currentIndex"`
	DeckName     string `json:"deckName"`
}

func (g GuidedModeState) Total() int {
	return len(g.CardQueue)
}

// Current returns the card being captured, or false once the index has run
// past the queue.
func (g GuidedModeState) Current() (Card, bool) {
	if g.CurrentIndex < 0 || g.CurrentIndex >= len(g.CardQueue) {
		return Card{}, false
	}
	return g.CardQueue[g.CurrentIndex], true
}
