package worker

import (
	"context"
	"errors"
)

// Event kinds the worker registers handlers for.
const (
	EventPush              = "push"
	EventNotificationClick = "notificationclick"
)

var ErrUnknownEvent = errors.New("unknown event kind")

// Host is the platform that renders notifications and opens locations.
type Host interface {
	ShowNotification(ctx context.Context, title string, opts NotificationOptions) error
	OpenWindow(ctx context.Context, absoluteURL string) error
}

// ShownNotification is the host's handle to a notification it has displayed.
// Close must be idempotent.
type ShownNotification interface {
	Close()
	Data() NotificationData
}

// Event is anything the host delivers to the worker.
type Event interface {
	Kind() string
}

// PushEvent carries the optional payload bytes of an incoming push. A nil or empty Data
// means the push had no payload.
type PushEvent struct {
	Data []byte
}

func (PushEvent) Kind() string { return EventPush }

// ClickEvent is delivered when the user activates a notification.
type ClickEvent struct {
	Notification ShownNotification
}

func (ClickEvent) Kind() string { return EventNotificationClick }
