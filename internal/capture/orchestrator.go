// Package capture turns a finished selection into an image attached to a
// card, and drives guided mode forward after each success.
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/kpauljoseph/ankisnap/internal/anki"
	"github.com/kpauljoseph/ankisnap/internal/crop"
	"github.com/kpauljoseph/ankisnap/internal/metrics"
	"github.com/kpauljoseph/ankisnap/internal/notify"
	"github.com/kpauljoseph/ankisnap/internal/selection"
	"github.com/kpauljoseph/ankisnap/internal/store"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

// Capturer takes a full-frame screenshot of a tab.
type Capturer interface {
	Capture(ctx context.Context, tabID string) (*models.CapturedImage, error)
}

// Signaler begins an interactive selection on a tab.
type Signaler interface {
	StartCapture(ctx context.Context, tabID string, card models.Card) error
}

type CardService interface {
	StoreMediaFile(ctx context.Context, filename string, data []byte) error
	UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error
}

type GuidedRun interface {
	Current() (models.GuidedModeState, bool, error)
	Advance(state models.GuidedModeState) (models.GuidedModeState, error)
}

type Orchestrator struct {
	capturer Capturer
	signaler Signaler
	anki     CardService
	store    store.Store
	guided   GuidedRun
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithSignaler(s Signaler) Option {
	return func(o *Orchestrator) {
		o.signaler = s
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock replaces the time source used to name media files.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(
	capturer Capturer,
	service CardService,
	st store.Store,
	guided GuidedRun,
	notifier notify.Notifier,
	logger *logger.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		capturer: capturer,
		anki:     service,
		store:    st,
		guided:   guided,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetSignaler attaches the selection host after construction, for hosts that
// themselves need the orchestrator.
func (o *Orchestrator) SetSignaler(s Signaler) {
	o.signaler = s
}

// SelectedCard returns the card captures are currently attached to.
func (o *Orchestrator) SelectedCard() (models.Card, error) {
	var card models.Card
	found, err := o.store.Get(models.SelectedCardKey, &card)
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to read selected card: %w", err)
	}
	if !found {
		return models.Card{}, models.ErrNoCardSelected
	}
	return card, nil
}

// StartCapture asks the selection host to begin a selection on tabID for the
// selected card.
func (o *Orchestrator) StartCapture(ctx context.Context, tabID string) error {
	card, err := o.SelectedCard()
	if err != nil {
		if models.KindOf(err) == models.KindNoCardSelected {
			o.notify("No Card Selected", "Please select a card in the control panel first.")
		}
		return err
	}
	if o.signaler == nil {
		return models.Errorf(models.KindCaptureFailed, "no selection host configured")
	}

	o.logger.Debug("Starting capture on tab %s for card %d", tabID, card.CardID)
	if err := o.signaler.StartCapture(ctx, tabID, card); err != nil {
		return models.NewError(models.KindCaptureFailed, err)
	}
	return nil
}

// OnSelectionFinalized screenshots tabID, crops it to rect and attaches the
// result to card.
func (o *Orchestrator) OnSelectionFinalized(ctx context.Context, tabID string, rect models.SelectionRectangle, card models.Card) (*models.CaptureResult, error) {
	captured, err := o.capturer.Capture(ctx, tabID)
	if err != nil {
		return nil, models.NewError(models.KindCaptureFailed, err)
	}
	o.logger.Debug("Captured %dx%d raster for viewport %.0fx%.0f",
		captured.Width(), captured.Height(), captured.Viewport.Width, captured.Viewport.Height)

	cropped, err := crop.Crop(*captured, rect)
	if err != nil {
		return nil, err
	}

	data, err := crop.EncodePNG(cropped)
	if err != nil {
		return nil, models.NewError(models.KindCaptureFailed, err)
	}

	return o.attach(ctx, card, data)
}

// OnCaptureComplete attaches an image that was already cropped by the page.
// imageData is a data URL or bare base64.
func (o *Orchestrator) OnCaptureComplete(ctx context.Context, imageData string, card models.Card) (*models.CaptureResult, error) {
	raw, err := crop.DecodeDataURL(imageData)
	if err != nil {
		return nil, models.NewError(models.KindCaptureFailed, err)
	}

	img, format, err := crop.Decode(raw)
	if err != nil {
		return nil, models.NewError(models.KindCaptureFailed, err)
	}
	if format != "png" {
		if raw, err = crop.EncodePNG(img); err != nil {
			return nil, models.NewError(models.KindCaptureFailed, err)
		}
	}

	return o.attach(ctx, card, raw)
}

func (o *Orchestrator) OnSelectionCancelled(outcome selection.Outcome) {
	o.metrics.CaptureOutcome(metrics.OutcomeCancelled)
	o.logger.Debug("Selection %s cancelled (%s)", outcome.SessionID, outcome.Reason)
}

// HandleOutcome is the end of a selection session on tabID.
func (o *Orchestrator) HandleOutcome(ctx context.Context, tabID string, outcome selection.Outcome) models.Response {
	if outcome.Cancelled {
		o.OnSelectionCancelled(outcome)
		return models.Response{Success: false, Error: string(models.KindSelectionCancelled)}
	}
	return o.Respond(o.OnSelectionFinalized(ctx, tabID, outcome.Rect, outcome.Card))
}

// Respond converts a capture result into the response envelope, telling the
// user about failures.
func (o *Orchestrator) Respond(result *models.CaptureResult, err error) models.Response {
	if err != nil {
		kind := models.KindOf(err)
		if kind == "" {
			kind = models.KindCaptureFailed
		}
		o.metrics.CaptureOutcome(string(kind))
		o.logger.Info("Capture failed: %v", err)
		if kind != models.KindNoCardSelected {
			o.notify("Screenshot Failed", err.Error())
		}
		return models.Failure(err)
	}
	return models.Success(result)
}

func (o *Orchestrator) attach(ctx context.Context, card models.Card, png []byte) (*models.CaptureResult, error) {
	filename := anki.MediaFilename(card.NoteID, o.now().UnixMilli())

	if err := o.anki.StoreMediaFile(ctx, filename, png); err != nil {
		return nil, models.NewError(models.KindUploadFailed, err)
	}

	front := anki.AppendImage(card.Front(), filename)
	if err := o.anki.UpdateNoteFields(ctx, card.NoteID, map[string]string{models.FrontField: front}); err != nil {
		o.logger.Info("Media file %s was stored but note %d was not updated", filename, card.NoteID)
		return nil, models.NewError(models.KindUpdateFailed, err)
	}

	o.metrics.CaptureOutcome(metrics.OutcomeSuccess)
	o.logger.Info("Added %s to note %d", filename, card.NoteID)

	// The image is on the note from here on. A guided-mode failure must not
	// read as a failed capture, or a retry would attach the image twice.
	if err := o.afterSuccess(); err != nil {
		o.logger.Info("Image added to note %d but guided mode did not advance: %v", card.NoteID, err)
		o.notify("Guided Mode Not Advanced",
			"The image was added, but the next card could not be selected: "+err.Error())
	}
	return &models.CaptureResult{Filename: filename}, nil
}

func (o *Orchestrator) afterSuccess() error {
	state, active, err := o.guided.Current()
	if err != nil {
		return fmt.Errorf("failed to read guided mode: %w", err)
	}
	if active {
		_, err := o.guided.Advance(state)
		return err
	}

	o.notify("Screenshot Added", "Image successfully added to Anki card!")
	return nil
}

func (o *Orchestrator) notify(title, message string) {
	if err := o.notifier.Notify(title, message); err != nil {
		o.logger.Debug("Notification %q not shown: %v", title, err)
	}
}
