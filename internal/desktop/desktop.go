// Package desktop shows worker notifications on the local desktop and feeds clicks back
// into the worker.
package desktop

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/godbus/dbus/v5"
)

// ErrUnsupported is returned on platforms without a notification backend.
var ErrUnsupported = errors.New("desktop notifications are not supported on this platform")

// ClickFunc receives notifications the user activated.
type ClickFunc func(ctx context.Context, n worker.ShownNotification)

// freedesktop urgency levels
const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// Notification is a notification this process put on screen.
type Notification struct {
	id    uint32
	tag   string
	data  worker.NotificationData
	close func(id uint32)
	once  sync.Once
}

// ID is the server assigned notification id.
func (n *Notification) ID() uint32 { return n.id }

// Data returns what was attached at show time.
func (n *Notification) Data() worker.NotificationData { return n.data }

// Close dismisses the notification. Repeated calls are no-ops.
func (n *Notification) Close() {
	n.once.Do(func() {
		if n.close != nil {
			n.close(n.id)
		}
	})
}

// registry maps tags to live notification ids so a new notification with a known tag
// replaces the old one.
type registry struct {
	mu    sync.Mutex
	byTag map[string]uint32
	byID  map[uint32]*Notification
}

func newRegistry() *registry {
	return &registry{
		byTag: make(map[string]uint32),
		byID:  make(map[uint32]*Notification),
	}
}

// replaces returns the id a notification tagged tag should replace, 0 for none.
func (r *registry) replaces(tag string) uint32 {
	if tag == "" {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTag[tag]
}

func (r *registry) remember(n *Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n.tag != "" {
		r.byTag[n.tag] = n.id
	}
	r.byID[n.id] = n
}

func (r *registry) lookup(id uint32) (*Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	return n, ok
}

func (r *registry) forget(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if n.tag != "" && r.byTag[n.tag] == id {
		delete(r.byTag, n.tag)
	}
}

// notifyRequest holds the arguments of org.freedesktop.Notifications.Notify that depend
// on the notification options.
type notifyRequest struct {
	icon    string
	actions []string
	hints   map[string]dbus.Variant
	expire  int32
}

func buildNotifyRequest(opts worker.NotificationOptions, iconDir string) notifyRequest {
	req := notifyRequest{
		icon:    localIcon(iconDir, opts.Icon),
		actions: []string{"default", "Open"},
		hints:   map[string]dbus.Variant{},
		expire:  -1,
	}
	if opts.RequireInteraction {
		req.hints["urgency"] = dbus.MakeVariant(urgencyCritical)
		req.expire = 0
	} else {
		req.hints["urgency"] = dbus.MakeVariant(urgencyNormal)
	}
	if opts.Silent {
		req.hints["suppress-sound"] = dbus.MakeVariant(true)
	}
	if img := localIcon(iconDir, opts.Image); img != "" && img != req.icon {
		req.hints["image-path"] = dbus.MakeVariant(img)
	}
	return req
}

// localIcon maps an icon URL to a file of the same base name in iconDir. Notification
// servers cannot load remote images.
func localIcon(iconDir, iconURL string) string {
	if iconDir == "" || iconURL == "" {
		return ""
	}
	u, err := url.Parse(iconURL)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	candidate := filepath.Join(iconDir, name)
	if info, err := os.Stat(candidate); err != nil || info.IsDir() {
		return ""
	}
	return candidate
}
