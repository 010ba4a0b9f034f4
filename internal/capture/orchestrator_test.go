package capture_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/jpeg"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kpauljoseph/ankisnap/internal/capture"
	"github.com/kpauljoseph/ankisnap/internal/crop"
	"github.com/kpauljoseph/ankisnap/internal/guided"
	"github.com/kpauljoseph/ankisnap/internal/selection"
	"github.com/kpauljoseph/ankisnap/internal/store"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		st       *store.MemoryStore
		service  *fakeCardService
		capturer *fakeCapturer
		notifier *recordingNotifier
		signaler *fakeSignaler
		seq      *guided.Sequencer
		orch     *capture.Orchestrator
		card     models.Card
		clock    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		log := logger.New(logger.WithOutput(GinkgoWriter))
		st = store.NewMemoryStore()
		service = &fakeCardService{}
		capturer = &fakeCapturer{img: gradient(240, 160), viewport: models.Size{Width: 120, Height: 80}}
		notifier = &recordingNotifier{}
		signaler = &fakeSignaler{}
		seq = guided.NewSequencer(st, notifier, log)
		clock = time.UnixMilli(1700000000123)
		orch = capture.NewOrchestrator(capturer, service, st, seq, notifier, log,
			capture.WithSignaler(signaler),
			capture.WithClock(func() time.Time { return clock }))

		card = models.Card{
			CardID:   5,
			NoteID:   50,
			Question: "What is X?",
			Fields:   map[string]models.FieldValue{"Front": {Value: "What is X?"}},
		}
	})

	Context("StartCapture", func() {
		It("should refuse to start without a selected card", func() {
			err := orch.StartCapture(ctx, "tab-1")
			Expect(errors.Is(err, models.ErrNoCardSelected)).To(BeTrue())
			Expect(signaler.tabID).To(BeEmpty())
			Expect(notifier.Titles()).To(Equal([]string{"No Card Selected"}))
		})

		It("should signal the selection host with the selected card", func() {
			Expect(st.Set(map[string]interface{}{models.SelectedCardKey: card})).To(Succeed())
			Expect(orch.StartCapture(ctx, "tab-1")).To(Succeed())
			Expect(signaler.tabID).To(Equal("tab-1"))
			Expect(signaler.card.NoteID).To(Equal(int64(50)))
		})

		It("should classify a host failure as a capture failure", func() {
			Expect(st.Set(map[string]interface{}{models.SelectedCardKey: card})).To(Succeed())
			signaler.err = errors.New("tab crashed")
			err := orch.StartCapture(ctx, "tab-1")
			Expect(errors.Is(err, models.ErrCaptureFailed)).To(BeTrue())
		})
	})

	Context("OnSelectionFinalized", func() {
		rect := models.SelectionRectangle{X: 10, Y: 5, Width: 20, Height: 10}

		It("should crop, upload and append the image to the Front field", func() {
			result, err := orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Filename).To(Equal("anki_screenshot_50_1700000000123.png"))

			Expect(service.media).To(HaveLen(1))
			Expect(service.media[0].Filename).To(Equal(result.Filename))
			img, format, err := crop.Decode(service.media[0].Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
			Expect(img.Bounds()).To(Equal(image.Rect(0, 0, 40, 20)))
			r, g, _, _ := img.At(0, 0).RGBA()
			Expect(r >> 8).To(Equal(uint32(20)))
			Expect(g >> 8).To(Equal(uint32(10)))

			Expect(service.updates).To(Equal([]updateCall{{
				NoteID: 50,
				Fields: map[string]string{"Front": `What is X?<br><img src="anki_screenshot_50_1700000000123.png">`},
			}}))
			Expect(notifier.Titles()).To(Equal([]string{"Screenshot Added"}))
		})

		It("should append after existing media", func() {
			card.Fields["Front"] = models.FieldValue{Value: `Q<br><img src="old.png">`}
			_, err := orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(err).NotTo(HaveOccurred())
			Expect(service.updates[0].Fields["Front"]).To(HavePrefix(`Q<br><img src="old.png"><br><img src="anki_screenshot_50_`))
		})

		It("should fail with CaptureFailed when the screenshot fails", func() {
			capturer.err = errors.New("permission denied")
			_, err := orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(errors.Is(err, models.ErrCaptureFailed)).To(BeTrue())
			Expect(service.media).To(BeEmpty())
		})

		It("should fail with InvalidRegion when the selection leaves the viewport", func() {
			_, err := orch.OnSelectionFinalized(ctx, "tab-1",
				models.SelectionRectangle{X: 100, Y: 70, Width: 40, Height: 20}, card)
			Expect(errors.Is(err, models.ErrInvalidRegion)).To(BeTrue())
			Expect(service.media).To(BeEmpty())
		})

		It("should fail with UploadFailed and skip the note update", func() {
			service.mediaErr = errors.New("AnkiConnect request failed: 500 Internal Server Error")
			_, err := orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(errors.Is(err, models.ErrUploadFailed)).To(BeTrue())
			Expect(service.updates).To(BeEmpty())
		})

		It("should report UpdateFailed and leave guided mode untouched", func() {
			state, err := seq.Start("Biology", []models.Card{card, {CardID: 6, NoteID: 60}})
			Expect(err).NotTo(HaveOccurred())
			service.updateErr = errors.New("anki error: note was not found")

			result, err := orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(result).To(BeNil())
			Expect(errors.Is(err, models.ErrUpdateFailed)).To(BeTrue())

			resp := orch.Respond(result, err)
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error).To(Equal("UpdateFailed"))

			current, active, err := seq.Current()
			Expect(err).NotTo(HaveOccurred())
			Expect(active).To(BeTrue())
			Expect(current).To(Equal(state))
			selected, err := orch.SelectedCard()
			Expect(err).NotTo(HaveOccurred())
			Expect(selected.CardID).To(Equal(card.CardID))
			Expect(notifier.Titles()).To(ContainElement("Screenshot Failed"))
		})

		It("should advance guided mode after a success", func() {
			next := models.Card{CardID: 6, NoteID: 60, Question: "Next one"}
			_, err := seq.Start("Biology", []models.Card{card, next})
			Expect(err).NotTo(HaveOccurred())

			_, err = orch.OnSelectionFinalized(ctx, "tab-1", rect, card)
			Expect(err).NotTo(HaveOccurred())

			selected, err := orch.SelectedCard()
			Expect(err).NotTo(HaveOccurred())
			Expect(selected.CardID).To(Equal(int64(6)))
			Expect(notifier.Titles()).To(ContainElement("Card 2 of 2"))
			Expect(notifier.Titles()).NotTo(ContainElement("Screenshot Added"))
		})

		DescribeTable("should report success when the note was updated but guided mode could not move on",
			func(run *brokenGuidedRun) {
				log := logger.New(logger.WithOutput(GinkgoWriter))
				orch := capture.NewOrchestrator(capturer, service, st, run, notifier, log,
					capture.WithClock(func() time.Time { return clock }))

				resp := orch.Respond(orch.OnSelectionFinalized(ctx, "tab-1", rect, card))

				Expect(resp.Success).To(BeTrue())
				Expect(resp.Result).To(Equal(&models.CaptureResult{Filename: "anki_screenshot_50_1700000000123.png"}))
				Expect(service.updates).To(HaveLen(1))
				Expect(notifier.Titles()).To(ConsistOf("Guided Mode Not Advanced"))
			},
			Entry("advance fails", &brokenGuidedRun{
				state:      models.GuidedModeState{Active: true},
				advanceErr: errors.New("disk full"),
			}),
			Entry("reading the run fails", &brokenGuidedRun{
				currentErr: errors.New("corrupt state"),
			}),
		)
	})

	Context("OnCaptureComplete", func() {
		It("should upload a page-cropped png data url as-is", func() {
			data, err := crop.EncodePNG(gradient(8, 8))
			Expect(err).NotTo(HaveOccurred())
			url := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)

			result, err := orch.OnCaptureComplete(ctx, url, card)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Filename).To(HaveSuffix(".png"))
			Expect(service.media[0].Data).To(Equal(data))
		})

		It("should convert other formats to png", func() {
			var buf bytes.Buffer
			Expect(jpeg.Encode(&buf, gradient(8, 8), nil)).To(Succeed())

			_, err := orch.OnCaptureComplete(ctx, base64.StdEncoding.EncodeToString(buf.Bytes()), card)
			Expect(err).NotTo(HaveOccurred())
			_, format, err := crop.Decode(service.media[0].Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(format).To(Equal("png"))
		})

		It("should reject data that is not an image", func() {
			_, err := orch.OnCaptureComplete(ctx, "bm90IGFuIGltYWdl", card)
			Expect(errors.Is(err, models.ErrCaptureFailed)).To(BeTrue())
		})
	})

	Context("HandleOutcome", func() {
		It("should do nothing for a cancelled selection", func() {
			resp := orch.HandleOutcome(ctx, "tab-1", selection.Outcome{
				Card: card, Cancelled: true, Reason: selection.ReasonTooSmall,
			})
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error).To(Equal("SelectionCancelled"))
			Expect(capturer.tabs).To(BeEmpty())
			Expect(service.media).To(BeEmpty())
			Expect(notifier.Titles()).To(BeEmpty())
		})

		It("should capture a finalized selection", func() {
			resp := orch.HandleOutcome(ctx, "tab-9", selection.Outcome{
				Card: card, Rect: models.SelectionRectangle{X: 0, Y: 0, Width: 10, Height: 10},
			})
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Result).To(Equal(&models.CaptureResult{Filename: "anki_screenshot_50_1700000000123.png"}))
			Expect(capturer.tabs).To(Equal([]string{"tab-9"}))
		})
	})
})

var _ = Describe("Mux", func() {
	It("should route tab ids by scheme", func() {
		browser := &fakeCapturer{img: gradient(2, 2), viewport: models.Size{Width: 2, Height: 2}}
		pdf := &fakeCapturer{img: gradient(2, 2), viewport: models.Size{Width: 2, Height: 2}}
		mux := capture.NewMux(browser)
		mux.Handle("pdf", pdf)

		_, err := mux.Capture(context.Background(), "pdf:/tmp/notes.pdf#2")
		Expect(err).NotTo(HaveOccurred())
		_, err = mux.Capture(context.Background(), "E3A1F0")
		Expect(err).NotTo(HaveOccurred())

		Expect(pdf.tabs).To(Equal([]string{"pdf:/tmp/notes.pdf#2"}))
		Expect(browser.tabs).To(Equal([]string{"E3A1F0"}))
	})

	It("should fail without a default capturer", func() {
		_, err := capture.NewMux(nil).Capture(context.Background(), "E3A1F0")
		Expect(err).To(HaveOccurred())
	})
})
