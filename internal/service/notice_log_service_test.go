package service

import (
	"context"
	"testing"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLogs(t *testing.T, svc *DeliveryLogService) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	entries := []*model.DeliveryLog{
		{Endpoint: "https://push.example.com/a", Status: model.ResultSuccess, Severity: "critical", CreatedAt: base},
		{Endpoint: "https://push.example.com/a", Status: model.ResultFailed, Severity: "info", CreatedAt: base.Add(time.Hour)},
		{Endpoint: "https://push.example.com/b", Status: model.ResultSuccess, Severity: "info", CreatedAt: base.AddDate(0, 0, 1)},
		{Endpoint: "https://push.example.com/b", Status: model.ResultGone, CreatedAt: base.AddDate(0, 1, 0)},
	}
	for _, e := range entries {
		require.NoError(t, svc.store.AppendDeliveryLog(ctx, e))
	}
}

func TestDeliveryLogQuery(t *testing.T) {
	store := openStore(t)
	svc := NewDeliveryLogService(store, NewSubscriptionService(store))
	seedLogs(t, svc)
	ctx := context.Background()

	page, err := svc.Query(ctx, model.DeliveryLogFilter{PageSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Data, 3)
	assert.Equal(t, model.ResultGone, page.Data[0].Status, "newest first")

	page, err = svc.Query(ctx, model.DeliveryLogFilter{Page: 2, PageSize: 3})
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)

	page, err = svc.Query(ctx, model.DeliveryLogFilter{Endpoint: "https://push.example.com/a", Status: "success"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, 10, page.PageSize)

	begin := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)
	page, err = svc.Query(ctx, model.DeliveryLogFilter{BeginTime: &begin, Severity: "INFO"})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	page, err = svc.Query(ctx, model.DeliveryLogFilter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
}

func TestDeliveryLogCounts(t *testing.T) {
	store := openStore(t)
	subs := NewSubscriptionService(store)
	addSubscription(t, subs, "https://push.example.com/a", "laptop")
	svc := NewDeliveryLogService(store, subs)
	seedLogs(t, svc)
	ctx := context.Background()

	byDay, err := svc.CountByDate(ctx, "day", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"date": "2024-03-10", "count": 2},
		{"date": "2024-03-11", "count": 1},
		{"date": "2024-04-10", "count": 1},
	}, byDay)

	byMonth, err := svc.CountByDate(ctx, "month", nil, nil)
	require.NoError(t, err)
	assert.Len(t, byMonth, 2)

	byStatus, err := svc.CountByStatus(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"status": model.ResultFailed, "count": 1},
		{"status": model.ResultGone, "count": 1},
		{"status": model.ResultSuccess, "count": 2},
	}, byStatus)

	bySeverity, err := svc.CountBySeverity(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"severity": "critical", "count": 1},
		{"severity": "info", "count": 3},
	}, bySeverity)

	bySub, err := svc.CountBySubscription(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"subscription": "https://push.example.com/b", "count": 2},
		{"subscription": "laptop", "count": 2},
	}, bySub)
}
