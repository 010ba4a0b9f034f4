package capture

import (
	"context"
	"fmt"
	"strings"

	"github.com/kpauljoseph/ankisnap/pkg/models"
)

// Mux routes tab ids to capturers by scheme, e.g. "pdf:/tmp/a.pdf#2". Ids
// without a registered scheme go to the default capturer.
type Mux struct {
	fallback Capturer
	schemes  map[string]Capturer
}

func NewMux(fallback Capturer) *Mux {
	return &Mux{
		fallback: fallback,
		schemes:  map[string]Capturer{},
	}
}

func (m *Mux) Handle(scheme string, c Capturer) {
	m.schemes[scheme] = c
}

func (m *Mux) Capture(ctx context.Context, tabID string) (*models.CapturedImage, error) {
	if idx := strings.Index(tabID, ":"); idx > 0 {
		if c, ok := m.schemes[tabID[:idx]]; ok {
			return c.Capture(ctx, tabID)
		}
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no capturer for tab %q", tabID)
	}
	return m.fallback.Capture(ctx, tabID)
}
