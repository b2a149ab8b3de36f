//go:build !linux

package desktop

import (
	"context"
	"sync"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/rs/zerolog"
)

// Host is a placeholder on platforms without a notification backend.
type Host struct {
	interrupt chan struct{}
	once      sync.Once
}

// NewHost returns a host whose calls fail with ErrUnsupported.
func NewHost(_, _ string, _ zerolog.Logger) (*Host, error) {
	return &Host{interrupt: make(chan struct{})}, nil
}

// OnClick is a no-op.
func (h *Host) OnClick(ClickFunc) {}

func (h *Host) ShowNotification(context.Context, string, worker.NotificationOptions) error {
	return ErrUnsupported
}

func (h *Host) OpenWindow(context.Context, string) error {
	return ErrUnsupported
}

// Listen blocks until Interrupt.
func (h *Host) Listen() error {
	<-h.interrupt
	return nil
}

func (h *Host) Interrupt(error) {
	h.once.Do(func() { close(h.interrupt) })
}
