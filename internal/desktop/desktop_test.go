package desktop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReplacesByTag(t *testing.T) {
	reg := newRegistry()
	assert.Zero(t, reg.replaces("critical"))

	reg.remember(&Notification{id: 7, tag: "critical"})
	reg.remember(&Notification{id: 8, tag: "1700000000000-ab12cd34"})
	assert.Equal(t, uint32(7), reg.replaces("critical"))
	assert.Zero(t, reg.replaces(""))

	// the server reuses the id when replacing
	reg.remember(&Notification{id: 7, tag: "critical", data: worker.NotificationData{URL: "/new"}})
	n, ok := reg.lookup(7)
	require.True(t, ok)
	assert.Equal(t, "/new", n.Data().URL)

	reg.forget(7)
	assert.Zero(t, reg.replaces("critical"))
	_, ok = reg.lookup(7)
	assert.False(t, ok)
	reg.forget(42)
}

func TestNotificationCloseOnce(t *testing.T) {
	var closed []uint32
	n := &Notification{id: 3, close: func(id uint32) { closed = append(closed, id) }}
	n.Close()
	n.Close()
	assert.Equal(t, []uint32{3}, closed)
	assert.Equal(t, uint32(3), n.ID())
}

func TestBuildNotifyRequest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notification-icon.png"), []byte("png"), 0o600))

	critical := buildNotifyRequest(worker.NotificationOptions{
		Icon:               "https://nas.example.com/static/notification-icon.png",
		Image:              "https://nas.example.com/static/notification-icon.png",
		RequireInteraction: true,
	}, dir)
	assert.Equal(t, filepath.Join(dir, "notification-icon.png"), critical.icon)
	assert.Equal(t, int32(0), critical.expire)
	assert.Equal(t, dbus.MakeVariant(urgencyCritical), critical.hints["urgency"])
	assert.Equal(t, []string{"default", "Open"}, critical.actions)
	assert.NotContains(t, critical.hints, "image-path")

	info := buildNotifyRequest(worker.NotificationOptions{
		Icon:   "https://nas.example.com/static/missing.png",
		Silent: true,
	}, dir)
	assert.Empty(t, info.icon)
	assert.Equal(t, int32(-1), info.expire)
	assert.Equal(t, dbus.MakeVariant(urgencyNormal), info.hints["urgency"])
	assert.Equal(t, dbus.MakeVariant(true), info.hints["suppress-sound"])
}

func TestLocalIcon(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "static"), 0o700))
	assert.Empty(t, localIcon("", "https://x/static/a.png"))
	assert.Empty(t, localIcon(dir, ""))
	assert.Empty(t, localIcon(dir, "https://x/"))
	assert.Empty(t, localIcon(dir, "https://x/static"), "directories are not icons")
}
