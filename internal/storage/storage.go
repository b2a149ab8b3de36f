package storage

import (
	"context"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
)

// Store abstracts subscription, history and delivery-log persistence.
type Store interface {
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.Subscription, error)
	ListSubscriptions(ctx context.Context) ([]*model.Subscription, error)
	ListActiveSubscriptions(ctx context.Context) ([]*model.Subscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	DeleteAllSubscriptions(ctx context.Context) (int, error)

	AppendNotice(ctx context.Context, notice *model.Notice) error
	ListNoticesSince(ctx context.Context, since time.Time) ([]*model.Notice, error)
	PruneNotices(ctx context.Context, before time.Time) (int, error)

	AppendDeliveryLog(ctx context.Context, log *model.DeliveryLog) error
	ListDeliveryLogs(ctx context.Context) ([]*model.DeliveryLog, error)
	PruneDeliveryLogs(ctx context.Context, before time.Time) (int, error)

	GetMeta(ctx context.Context, key string) (string, error)
	PutMeta(ctx context.Context, key, value string) error

	Close() error
}
