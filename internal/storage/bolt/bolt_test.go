package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "nested", "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSubscriptionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	sub := &model.Subscription{
		Endpoint: "https://push.example.com/a",
		Keys:     model.SubscriptionKeys{P256dh: "p", Auth: "x"},
		Status:   model.SubscriptionStatusActive,
	}
	require.NoError(t, s.UpsertSubscription(ctx, sub))
	require.NotEmpty(t, sub.ID)
	firstID, created := sub.ID, sub.CreatedAt

	again := &model.Subscription{Endpoint: sub.Endpoint, Keys: model.SubscriptionKeys{P256dh: "p2", Auth: "y"}, Status: model.SubscriptionStatusStop}
	require.NoError(t, s.UpsertSubscription(ctx, again))
	assert.Equal(t, firstID, again.ID, "upsert keeps the id")
	assert.True(t, created.Equal(again.CreatedAt))

	got, err := s.GetSubscription(ctx, sub.Endpoint)
	require.NoError(t, err)
	assert.Equal(t, "p2", got.Keys.P256dh)

	require.NoError(t, s.UpsertSubscription(ctx, &model.Subscription{Endpoint: "https://push.example.com/b"}))
	all, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	active, err := s.ListActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "https://push.example.com/b", active[0].Endpoint)

	require.NoError(t, s.DeleteSubscription(ctx, "https://push.example.com/b"))
	require.ErrorIs(t, s.DeleteSubscription(ctx, "https://push.example.com/b"), storage.ErrNotFound)
	_, err = s.GetSubscription(ctx, "https://push.example.com/b")
	require.ErrorIs(t, err, storage.ErrNotFound)

	n, err := s.DeleteAllSubscriptions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	all, err = s.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNoticesSinceAndPrune(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Now().UTC()

	for i, age := range []time.Duration{100 * 24 * time.Hour, 2 * time.Hour, time.Hour} {
		require.NoError(t, s.AppendNotice(ctx, &model.Notice{
			Title:     string(rune('a' + i)),
			CreatedAt: now.Add(-age),
		}))
	}

	recent, err := s.ListNoticesSince(ctx, now.Add(-3*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Title, "newest first")
	assert.Equal(t, "b", recent[1].Title)

	removed, err := s.PruneNotices(ctx, now.AddDate(0, -3, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	all, err := s.ListNoticesSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeliveryLogsAndMeta(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	old := &model.DeliveryLog{Endpoint: "e", Status: model.ResultSuccess, CreatedAt: time.Now().Add(-48 * time.Hour)}
	require.NoError(t, s.AppendDeliveryLog(ctx, old))
	require.NoError(t, s.AppendDeliveryLog(ctx, &model.DeliveryLog{Endpoint: "e", Status: model.ResultFailed}))
	assert.Equal(t, uint64(1), old.ID)

	logs, err := s.ListDeliveryLogs(ctx)
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	removed, err := s.PruneDeliveryLogs(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.GetMeta(ctx, "vapid")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.PutMeta(ctx, "vapid", "v"))
	v, err := s.GetMeta(ctx, "vapid")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestCancelledContext(t *testing.T) {
	s := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ListSubscriptions(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
