package notify

import (
	"sync"

	"github.com/esiqveland/notify"
	"github.com/godbus/dbus/v5"

	"codeberg.org/mutker/battguard/internal/errors"
	"codeberg.org/mutker/battguard/internal/logger"
)

const appName = "battguard"

// Sender delivers notification events.
type Sender interface {
	Send(ev Event) error
	Close() error
}

// Notifier sends desktop notifications over the session bus. Each kind
// keeps its own notification ID, so an updated battery warning replaces the
// previous one instead of stacking.
type Notifier struct {
	errFactory errors.Factory
	conn       *dbus.Conn
	mu         sync.Mutex
	lastID     map[Kind]uint32
}

func NewNotifier() (*Notifier, error) {
	errFactory := errors.New()

	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrNotifyFailed, err)
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()

		return nil, errFactory.Wrap(errors.ErrNotifyFailed, err)
	}
	if err := conn.Hello(); err != nil {
		conn.Close()

		return nil, errFactory.Wrap(errors.ErrNotifyFailed, err)
	}

	return &Notifier{
		errFactory: errFactory,
		conn:       conn,
		lastID:     make(map[Kind]uint32),
	}, nil
}

func (n *Notifier) Send(ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	notification := notify.Notification{
		AppName:       appName,
		ReplacesID:    n.lastID[ev.Kind],
		AppIcon:       ev.Icon,
		Summary:       ev.Title,
		Body:          ev.Body,
		ExpireTimeout: notify.ExpireTimeoutSetByNotificationServer,
	}

	switch ev.Urgency {
	case UrgencyCritical:
		notification.ExpireTimeout = notify.ExpireTimeoutNever
		notification.SetUrgency(notify.UrgencyCritical)
	case UrgencyLow:
		notification.SetUrgency(notify.UrgencyLow)
	default:
		notification.SetUrgency(notify.UrgencyNormal)
	}

	id, err := notify.SendNotification(n.conn, notification)
	if err != nil {
		return n.errFactory.Wrap(errors.ErrNotifyFailed, err)
	}

	n.lastID[ev.Kind] = id

	logger.Debug().
		Str("kind", string(ev.Kind)).
		Uint32("id", id).
		Msg("Notification sent")

	return nil
}

func (n *Notifier) Close() error {
	return n.conn.Close()
}
