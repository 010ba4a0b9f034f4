package models_test

import (
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

var _ = Describe("Models", func() {
	Context("SelectionRectangle", func() {
		DescribeTable("RectFromPoints",
			func(x0, y0, x1, y1 float64, expected models.SelectionRectangle) {
				Expect(models.RectFromPoints(x0, y0, x1, y1)).To(Equal(expected))
			},
			Entry("dragging down-right", 10.0, 20.0, 110.0, 70.0,
				models.SelectionRectangle{X: 10, Y: 20, Width: 100, Height: 50}),
			Entry("dragging up-left", 110.0, 70.0, 10.0, 20.0,
				models.SelectionRectangle{X: 10, Y: 20, Width: 100, Height: 50}),
			Entry("dragging up-right", 10.0, 70.0, 110.0, 20.0,
				models.SelectionRectangle{X: 10, Y: 20, Width: 100, Height: 50}),
			Entry("no movement", 5.0, 5.0, 5.0, 5.0,
				models.SelectionRectangle{X: 5, Y: 5}),
		)

		It("should enforce the minimum dimension on both sides", func() {
			Expect(models.SelectionRectangle{Width: 10, Height: 10}.MeetsMinimum(10)).To(BeTrue())
			Expect(models.SelectionRectangle{Width: 9.5, Height: 200}.MeetsMinimum(10)).To(BeFalse())
			Expect(models.SelectionRectangle{Width: 200, Height: 9}.MeetsMinimum(10)).To(BeFalse())
		})
	})

	Context("Card", func() {
		It("should read Front and Back fields", func() {
			card := models.Card{Fields: map[string]models.FieldValue{
				"Front": {Value: "What is X?"},
				"Back":  {Value: "X", Order: 1},
			}}
			Expect(card.Front()).To(Equal("What is X?"))
			Expect(card.Back()).To(Equal("X"))
		})

		It("should treat a missing field as empty", func() {
			Expect(models.Card{}.Front()).To(BeEmpty())
		})
	})

	Context("GuidedModeState", func() {
		It("should return the current card while inside the queue", func() {
			state := models.GuidedModeState{
				CardQueue:    []models.Card{{CardID: 1}, {CardID: 2}},
				CurrentIndex: 1,
			}
			card, ok := state.Current()
			Expect(ok).To(BeTrue())
			Expect(card.CardID).To(Equal(int64(2)))

			state.CurrentIndex = 2
			_, ok = state.Current()
			Expect(ok).To(BeFalse())
		})
	})

	Context("CaptureError", func() {
		It("should match sentinels by kind through wrapping", func() {
			err := fmt.Errorf("attach: %w", models.Errorf(models.KindUpdateFailed, "anki error: %s", "note not found"))
			Expect(errors.Is(err, models.ErrUpdateFailed)).To(BeTrue())
			Expect(errors.Is(err, models.ErrUploadFailed)).To(BeFalse())
			Expect(models.KindOf(err)).To(Equal(models.KindUpdateFailed))
			Expect(err.Error()).To(ContainSubstring("note not found"))
		})

		It("should build a failure response carrying the kind name", func() {
			resp := models.Failure(models.NewError(models.KindUpdateFailed, errors.New("boom")))
			Expect(resp.Success).To(BeFalse())
			Expect(resp.Error).To(Equal("UpdateFailed"))
			Expect(resp.Detail).To(ContainSubstring("boom"))
		})

		It("should fall back to the message for unclassified errors", func() {
			resp := models.Failure(errors.New("disk full"))
			Expect(resp.Error).To(Equal("disk full"))
		})
	})
})
