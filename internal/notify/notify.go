// Package notify shows short user-facing messages.
package notify

import (
	"fmt"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
)

type Notifier interface {
	Notify(title, message string) error
}

// LogNotifier writes notifications to the log. It is used when no desktop
// session is available.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(logger *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(title, message string) error {
	n.logger.Info("[%s] %s", title, message)
	return nil
}

// Fallback tries each notifier in order and stops at the first success.
type Fallback []Notifier

func (f Fallback) Notify(title, message string) error {
	var lastErr error
	for _, n := range f {
		if err := n.Notify(title, message); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		return fmt.Errorf("no notifier configured")
	}
	return lastErr
}
