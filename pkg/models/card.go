package models

// FieldValue mirrors the shape AnkiConnect uses for note fields.
type FieldValue struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type Card struct {
	CardID   int64                 `json:"cardId"`
	NoteID   int64                 `json:"noteId"`
	Fields   map[string]FieldValue `json:"fields"`
	Question string                `json:"question"`
	Answer   string                `json:"answer"`
	DeckName string                `json:"deckName"`
}

const (
	FrontField = "Front"
	BackField  = "Back"
)

// Front returns the current Front field value, or "" when the note has none.
func (c Card) Front() string {
	return c.Fields[FrontField].Value
}

func (c Card) Back() string {
	return c.Fields[BackField].Value
}
