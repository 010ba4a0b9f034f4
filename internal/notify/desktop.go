package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/kpauljoseph/ankisnap/pkg/logger"
)

const (
	notificationsDest   = "org.freedesktop.Notifications"
	notificationsPath   = "/org/freedesktop/Notifications"
	notificationsMethod = "org.freedesktop.Notifications.Notify"

	appName       = "AnkiSnap"
	appIcon       = "camera-photo"
	expireDefault = int32(-1)
)

// DesktopNotifier sends notifications over the session bus.
type DesktopNotifier struct {
	logger *logger.Logger

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDesktopNotifier(logger *logger.Logger) *DesktopNotifier {
	return &DesktopNotifier{logger: logger}
}

func (n *DesktopNotifier) Notify(title, message string) error {
	conn, err := n.connection()
	if err != nil {
		return err
	}

	obj := conn.Object(notificationsDest, dbus.ObjectPath(notificationsPath))
	call := obj.Call(notificationsMethod, 0,
		appName,
		uint32(0),
		appIcon,
		title,
		message,
		[]string{},
		map[string]dbus.Variant{},
		expireDefault,
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	n.logger.Trace("Desktop notification %d: %s", id, title)
	return nil
}

func (n *DesktopNotifier) connection() (*dbus.Conn, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn != nil && n.conn.Connected() {
		return n.conn, nil
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	n.conn = conn
	return conn, nil
}

func (n *DesktopNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	err := n.conn.Close()
	n.conn = nil
	return err
}
