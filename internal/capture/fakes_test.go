package capture_test

import (
	"context"
	"image"
	"image/color"
	"sync"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

type fakeCapturer struct {
	img      image.Image
	viewport models.Size
	err      error
	tabs     []string
}

func (f *fakeCapturer) Capture(ctx context.Context, tabID string) (*models.CapturedImage, error) {
	f.tabs = append(f.tabs, tabID)
	if f.err != nil {
		return nil, f.err
	}
	return &models.CapturedImage{Image: f.img, Viewport: f.viewport, Format: "png"}, nil
}

// gradient fills an image so that each pixel encodes its own coordinates.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0, A: 255})
		}
	}
	return img
}

type mediaCall struct {
	Filename string
	Data     []byte
}

type updateCall struct {
	NoteID int64
	Fields map[string]string
}

type fakeCardService struct {
	mu        sync.Mutex
	media     []mediaCall
	updates   []updateCall
	mediaErr  error
	updateErr error
}

func (f *fakeCardService) StoreMediaFile(ctx context.Context, filename string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.media = append(f.media, mediaCall{filename, data})
	return f.mediaErr
}

func (f *fakeCardService) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{noteID, fields})
	return f.updateErr
}

type notification struct {
	Title   string
	Message string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (r *recordingNotifier) Notify(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification{title, message})
	return nil
}

func (r *recordingNotifier) Titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var titles []string
	for _, n := range r.sent {
		titles = append(titles, n.Title)
	}
	return titles
}

type fakeSignaler struct {
	tabID string
	card  models.Card
	err   error
}

func (f *fakeSignaler) StartCapture(ctx context.Context, tabID string, card models.Card) error {
	f.tabID = tabID
	f.card = card
	return f.err
}

// brokenGuidedRun reports an active run whose state can never be advanced.
type brokenGuidedRun struct {
	state      models.GuidedModeState
	currentErr error
	advanceErr error
	advances   int
}

func (b *brokenGuidedRun) Current() (models.GuidedModeState, bool, error) {
	if b.currentErr != nil {
		return models.GuidedModeState{}, false, b.currentErr
	}
	return b.state, true, nil
}

func (b *brokenGuidedRun) Advance(state models.GuidedModeState) (models.GuidedModeState, error) {
	b.advances++
	return state, b.advanceErr
}
