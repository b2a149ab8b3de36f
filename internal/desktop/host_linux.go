//go:build linux

package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	notificationServiceObj       = "/org/freedesktop/Notifications"
	notificationServiceInterface = "org.freedesktop.Notifications"
	methodNotify                 = "org.freedesktop.Notifications.Notify"
	methodCloseNotification      = "org.freedesktop.Notifications.CloseNotification"
	signalActionInvoked          = "org.freedesktop.Notifications.ActionInvoked"
	signalNotificationClosed     = "org.freedesktop.Notifications.NotificationClosed"
)

var browserProviders = []string{"/usr/bin/xdg-open", "/usr/bin/x-www-browser"}

// Host is a worker host backed by the freedesktop notification service.
type Host struct {
	appName   string
	iconDir   string
	log       zerolog.Logger
	conn      *dbus.Conn
	reg       *registry
	onClick   ClickFunc
	signal    chan *dbus.Signal
	interrupt chan struct{}
	once      sync.Once
}

// NewHost connects to the session bus.
func NewHost(appName, iconDir string, log zerolog.Logger) (*Host, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Host{
		appName:   appName,
		iconDir:   iconDir,
		log:       log,
		conn:      conn,
		reg:       newRegistry(),
		signal:    make(chan *dbus.Signal, 10),
		interrupt: make(chan struct{}),
	}, nil
}

// OnClick sets the handler for activated notifications. Call before Listen.
func (h *Host) OnClick(fn ClickFunc) {
	h.onClick = fn
}

// ShowNotification sends the notification over dbus. A live notification with the same
// tag is replaced in place.
func (h *Host) ShowNotification(ctx context.Context, title string, opts worker.NotificationOptions) error {
	req := buildNotifyRequest(opts, h.iconDir)
	obj := h.conn.Object(notificationServiceInterface, notificationServiceObj)
	call := obj.CallWithContext(ctx, methodNotify, 0,
		h.appName,
		h.reg.replaces(opts.Tag),
		req.icon,
		title,
		opts.Body,
		req.actions,
		req.hints,
		req.expire,
	)
	if call.Err != nil {
		return fmt.Errorf("notify via dbus: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("read notification id: %w", err)
	}
	h.reg.remember(&Notification{id: id, tag: opts.Tag, data: opts.Data, close: h.closeNotification})
	h.log.Debug().Uint32("id", id).Str("tag", opts.Tag).Msg("notification shown")
	return nil
}

// OpenWindow opens absoluteURL in the user's browser. The launcher is detached from ctx:
// it must outlive the click that started it.
func (h *Host) OpenWindow(ctx context.Context, absoluteURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var lastErr error
	for _, provider := range browserProviders {
		cmd := exec.Command(provider, absoluteURL)
		if err := cmd.Start(); err != nil {
			h.log.Debug().Err(err).Str("provider", provider).Msg("couldn't start browser")
			lastErr = err
			continue
		}
		go func() { _ = cmd.Wait() }()
		return nil
	}
	return fmt.Errorf("open %s: %w", absoluteURL, lastErr)
}

// Listen dispatches ActionInvoked signals for our notifications until Interrupt.
func (h *Host) Listen() error {
	if err := h.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(notificationServiceObj),
		dbus.WithMatchInterface(notificationServiceInterface),
	); err != nil {
		return fmt.Errorf("couldn't register to listen to signals in dbus: %w", err)
	}
	h.conn.Signal(h.signal)

	for {
		select {
		case sig := <-h.signal:
			h.handleSignal(sig)
		case <-h.interrupt:
			return nil
		}
	}
}

// Interrupt stops Listen and releases the bus.
func (h *Host) Interrupt(error) {
	h.once.Do(func() {
		close(h.interrupt)
		h.conn.RemoveSignal(h.signal)
		_ = h.conn.RemoveMatchSignal(
			dbus.WithMatchObjectPath(notificationServiceObj),
			dbus.WithMatchInterface(notificationServiceInterface),
		)
		_ = h.conn.Close()
	})
}

func (h *Host) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) == 0 {
		return
	}
	id, ok := sig.Body[0].(uint32)
	if !ok {
		return
	}
	switch sig.Name {
	case signalNotificationClosed:
		h.reg.forget(id)
	case signalActionInvoked:
		n, found := h.reg.lookup(id)
		if !found {
			// not one of ours
			return
		}
		if h.onClick == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.onClick(ctx, n)
	}
}

func (h *Host) closeNotification(id uint32) {
	h.reg.forget(id)
	obj := h.conn.Object(notificationServiceInterface, notificationServiceObj)
	if call := obj.Call(methodCloseNotification, 0, id); call.Err != nil {
		h.log.Debug().Err(call.Err).Uint32("id", id).Msg("close notification")
	}
}
