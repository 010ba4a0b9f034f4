package anki

import (
	"fmt"
	"strings"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

const (
	ANKI_CONNECT_VERSION = 6

	imageMarker = "<img"
	soundMarker = "[sound:"
)

// DeckQuery builds the search expression matching every card in a deck.
func DeckQuery(deckName string) string {
	escaped := strings.ReplaceAll(deckName, `"`, `\"`)
	return fmt.Sprintf(`deck:"%s"`, escaped)
}

// CardHasImage reports whether a card's Front field already carries media.
func CardHasImage(card models.Card) bool {
	front := card.Front()
	return strings.Contains(front, imageMarker) || strings.Contains(front, soundMarker)
}

func FilterWithoutImages(cards []models.Card) []models.Card {
	var out []models.Card
	for _, card := range cards {
		if !CardHasImage(card) {
			out = append(out, card)
		}
	}
	return out
}

// AppendImage returns front with an image tag appended after a line break.
// Existing content is always preserved.
func AppendImage(front, filename string) string {
	return front + "<br>" + fmt.Sprintf("<img src=\"%s\">", filename)
}

// MediaFilename names a capture for a note. The millisecond timestamp keeps
// names unique per note without any coordination.
func MediaFilename(noteID int64, unixMillis int64) string {
	return fmt.Sprintf("anki_screenshot_%d_%d.png", noteID, unixMillis)
}
