package browser_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kpauljoseph/ankisnap/internal/browser"
	"github.com/kpauljoseph/ankisnap/internal/selection"
	"github.com/kpauljoseph/ankisnap/pkg/logger"
	"github.com/kpauljoseph/ankisnap/pkg/models"
)

type nopOverlay struct{}

func (nopOverlay) Install(ctx context.Context) error { return nil }
func (nopOverlay) DrawSelection(ctx context.Context, rect models.SelectionRectangle) error {
	return nil
}
func (nopOverlay) Hide(ctx context.Context) error   { return nil }
func (nopOverlay) Remove(ctx context.Context) error { return nil }

var _ = Describe("Page events", func() {
	DescribeTable("ParseEvent",
		func(payload string, expected browser.PageEvent, ok bool) {
			ev, err := browser.ParseEvent(payload)
			if !ok {
				Expect(err).To(HaveOccurred())
				return
			}
			Expect(err).NotTo(HaveOccurred())
			Expect(ev).To(Equal(expected))
		},
		Entry("pointer down", `{"type":"down","x":12.5,"y":40}`,
			browser.PageEvent{Type: "down", X: 12.5, Y: 40}, true),
		Entry("key", `{"type":"key","key":"Escape"}`,
			browser.PageEvent{Type: "key", Key: "Escape"}, true),
		Entry("unknown type", `{"type":"wheel"}`, browser.PageEvent{}, false),
		Entry("not json", `down 1 2`, browser.PageEvent{}, false),
	)

	It("should drive a session from page events", func() {
		var (
			mu       sync.Mutex
			outcomes []selection.Outcome
		)
		selector := selection.NewSelector(func(ctx context.Context, o selection.Outcome) {
			mu.Lock()
			defer mu.Unlock()
			outcomes = append(outcomes, o)
		}, logger.New(logger.WithOutput(GinkgoWriter)), selection.WithSettleDelay(0))

		session, err := selector.Start(context.Background(), models.Card{CardID: 1}, nopOverlay{}, 1)
		Expect(err).NotTo(HaveOccurred())

		for _, payload := range []string{
			`{"type":"down","x":100,"y":50}`,
			`{"type":"move","x":200,"y":100}`,
			`{"type":"up","x":300,"y":150}`,
		} {
			ev, err := browser.ParseEvent(payload)
			Expect(err).NotTo(HaveOccurred())
			browser.Dispatch(session, ev)
		}

		Eventually(func() int {
			mu.Lock()
			defer mu.Unlock()
			return len(outcomes)
		}).Should(Equal(1))
		Expect(outcomes[0].Rect).To(Equal(models.SelectionRectangle{
			X: 100, Y: 50, Width: 200, Height: 100, DevicePixelRatio: 1,
		}))
	})

	It("should cancel a session on the Escape key", func() {
		reasons := make(chan string, 1)
		selector := selection.NewSelector(func(ctx context.Context, o selection.Outcome) {
			reasons <- o.Reason
		}, logger.New(logger.WithOutput(GinkgoWriter)))
		session, _ := selector.Start(context.Background(), models.Card{}, nopOverlay{}, 1)

		browser.Dispatch(session, browser.PageEvent{Type: browser.EventKey, Key: "Escape"})
		Eventually(reasons).Should(Receive(Equal(selection.ReasonEscape)))
		Eventually(session.Done()).Should(BeClosed())
		Expect(session.State()).To(Equal(selection.Idle))
	})
})
