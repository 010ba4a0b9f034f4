package anki

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kpauljoseph/ankisnap/internal/metrics"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

const (
	DefaultAnkiConnectURL = "http://localhost:8765"
	DefaultMaxFailures    = 5
	DefaultOpenTimeout    = 30 * time.Second
)

type Service struct {
	ankiConnectURL string
	client         *http.Client
	breaker        *gobreaker.CircuitBreaker
	metrics        *metrics.Metrics
	logger         *logger.Logger
}

type AnkiConnectRequest struct {
	Action  string      `json:"action"`
	Version int         `json:"version"`
	Params  interface{} `json:"params"`
}

type ankiConnectResponse struct {
	Error  *string         `json:"error"`
	Result json.RawMessage `json:"result"`
}

// ServiceError is an error AnkiConnect reported in its response payload. The
// request itself reached a working Anki.
type ServiceError struct {
	Action  string
	Message string
}

func (e *ServiceError) Error() string {
	return "anki error: " + e.Message
}

// CardInfo is one entry of a cardsInfo result.
type CardInfo struct {
	CardID   int64                        `json:"cardId"`
	Note     int64                        `json:"note"`
	DeckName string                       `json:"deckName"`
	Question string                       `json:"question"`
	Answer   string                       `json:"answer"`
	Fields   map[string]models.FieldValue `json:"fields"`
}

// ToCard converts the raw record into the model shared through the store.
// Question and Answer come from the Front and Back fields rather than the
// rendered templates, which embed styling.
func (ci CardInfo) ToCard() models.Card {
	card := models.Card{
		CardID:   ci.CardID,
		NoteID:   ci.Note,
		Fields:   ci.Fields,
		DeckName: ci.DeckName,
	}
	if card.Fields == nil {
		card.Fields = map[string]models.FieldValue{}
	}
	card.Question = card.Front()
	card.Answer = card.Back()
	return card
}

type Option func(*Service)

func WithURL(url string) Option {
	return func(s *Service) {
		s.ankiConnectURL = url
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) {
		s.client = client
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBreaker opens the circuit after maxFailures consecutive failures and
// keeps it open for openTimeout. Calls made while open fail immediately.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(s *Service) {
		s.breaker = newBreaker(maxFailures, openTimeout, s.logger)
	}
}

func NewService(logger *logger.Logger, opts ...Option) *Service {
	s := &Service{
		ankiConnectURL: DefaultAnkiConnectURL,
		client:         &http.Client{},
		logger:         logger,
	}
	s.breaker = newBreaker(DefaultMaxFailures, DefaultOpenTimeout, logger)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newBreaker(maxFailures uint32, openTimeout time.Duration, log *logger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "anki-connect",
		Timeout: openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Only an unreachable or failing AnkiConnect trips the breaker, not a
		// request it answered with an error.
		IsSuccessful: func(err error) bool {
			var svcErr *ServiceError
			return err == nil || errors.As(err, &svcErr)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info("Circuit breaker '%s' state changed from %v to %v", name, from, to)
		},
	})
}

func (s *Service) CheckConnection(ctx context.Context) error {
	_, err := s.sendRequest(ctx, "version", map[string]interface{}{})
	if err != nil {
		s.logger.Info("Error sending request to Anki: %v", err)
		return fmt.Errorf("could not connect to Anki. Please ensure:\n" +
			"1. Anki is running https://apps.ankiweb.net/#download\n" +
			"2. AnkiConnect add-on is installed (code: 2055492159) https://ankiweb.net/shared/info/2055492159\n" +
			"3. Anki has been restarted after installing AnkiConnect")
	}
	return nil
}

func (s *Service) DeckNames(ctx context.Context) ([]string, error) {
	result, err := s.sendRequest(ctx, "deckNames", map[string]interface{}{})
	if err != nil {
		return nil, fmt.Errorf("failed to get deck names: %w", err)
	}

	var decks []string
	if err := json.Unmarshal(result, &decks); err != nil {
		return nil, fmt.Errorf("failed to parse deck names: %w", err)
	}
	return decks, nil
}

func (s *Service) FindCards(ctx context.Context, query string) ([]int64, error) {
	result, err := s.sendRequest(ctx, "findCards", map[string]interface{}{
		"query": query,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search cards: %w", err)
	}

	var cardIDs []int64
	if err := json.Unmarshal(result, &cardIDs); err != nil {
		return nil, fmt.Errorf("failed to parse card IDs: %w", err)
	}
	return cardIDs, nil
}

func (s *Service) CardsInfo(ctx context.Context, cardIDs []int64) ([]CardInfo, error) {
	if len(cardIDs) == 0 {
		return nil, nil
	}

	result, err := s.sendRequest(ctx, "cardsInfo", map[string]interface{}{
		"cards": cardIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get cards info: %w", err)
	}

	var infos []CardInfo
	if err := json.Unmarshal(result, &infos); err != nil {
		return nil, fmt.Errorf("failed to parse cards info: %w", err)
	}
	return infos, nil
}

func (s *Service) CardsInDeck(ctx context.Context, deckName string) ([]models.Card, error) {
	cardIDs, err := s.FindCards(ctx, DeckQuery(deckName))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Found %d cards in deck %s", len(cardIDs), deckName)

	infos, err := s.CardsInfo(ctx, cardIDs)
	if err != nil {
		return nil, err
	}

	cards := make([]models.Card, 0, len(infos))
	for _, info := range infos {
		cards = append(cards, info.ToCard())
	}
	return cards, nil
}

// CardsWithoutImages returns the cards of a deck whose Front field carries no
// image or sound, in the order AnkiConnect lists them.
func (s *Service) CardsWithoutImages(ctx context.Context, deckName string) ([]models.Card, error) {
	cards, err := s.CardsInDeck(ctx, deckName)
	if err != nil {
		return nil, err
	}
	return FilterWithoutImages(cards), nil
}

func (s *Service) StoreMediaFile(ctx context.Context, filename string, data []byte) error {
	s.logger.Debug("Storing media file %s (%d bytes)", filename, len(data))
	_, err := s.sendRequest(ctx, "storeMediaFile", map[string]string{
		"filename": filename,
		"data":     base64.StdEncoding.EncodeToString(data),
	})
	if err != nil {
		return fmt.Errorf("failed to store media file %s: %w", filename, err)
	}
	return nil
}

func (s *Service) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	_, err := s.sendRequest(ctx, "updateNoteFields", map[string]interface{}{
		"note": map[string]interface{}{
			"id":     noteID,
			"fields": fields,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update note %d: %w", noteID, err)
	}
	return nil
}

// AddImageToCard appends an image reference to the Front field of a note.
func (s *Service) AddImageToCard(ctx context.Context, noteID int64, currentFront, filename string) error {
	return s.UpdateNoteFields(ctx, noteID, map[string]string{
		models.FrontField: AppendImage(currentFront, filename),
	})
}

// sendRequest performs exactly one AnkiConnect call. Failures are returned to
// the caller as-is; nothing here retries.
func (s *Service) sendRequest(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.do(ctx, action, params)
	})
	s.metrics.ObserveAnkiRequest(action, time.Since(start), err)

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("anki-connect unavailable: %w", err)
		}
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (s *Service) do(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(AnkiConnectRequest{
		Action:  action,
		Version: ANKI_CONNECT_VERSION,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ankiConnectURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	s.logger.Trace("AnkiConnect request: %s", action)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AnkiConnect request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("AnkiConnect request failed: %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var result ankiConnectResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Error != nil {
		return nil, &ServiceError{Action: action, Message: *result.Error}
	}

	return result.Result, nil
}
