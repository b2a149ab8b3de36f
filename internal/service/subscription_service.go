package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/storage"
)

// ErrInvalidSubscription wraps every subscribe validation failure.
var ErrInvalidSubscription = errors.New("invalid subscription")

// SubscriptionService manages browser push subscriptions.
type SubscriptionService struct {
	store storage.Store
}

// SubscribeRequest is the PushSubscription JSON a browser hands out, plus an optional label.
type SubscribeRequest struct {
	Endpoint       string                 `json:"endpoint"`
	ExpirationTime *int64                 `json:"expirationTime"`
	Keys           model.SubscriptionKeys `json:"keys"`
	Name           string                 `json:"name"`
}

// NewSubscriptionService constructs SubscriptionService.
func NewSubscriptionService(store storage.Store) *SubscriptionService {
	return &SubscriptionService{store: store}
}

// Subscribe validates req and upserts it by endpoint. A known endpoint keeps its status.
func (s *SubscriptionService) Subscribe(ctx context.Context, req SubscribeRequest, userAgent string) (*model.Subscription, error) {
	endpoint := strings.TrimSpace(req.Endpoint)
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Keys.P256dh) == "" || strings.TrimSpace(req.Keys.Auth) == "" {
		return nil, fmt.Errorf("%w: keys.p256dh and keys.auth are required", ErrInvalidSubscription)
	}

	sub, err := s.store.GetSubscription(ctx, endpoint)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		sub = &model.Subscription{Endpoint: endpoint, Status: model.SubscriptionStatusActive}
	}
	sub.ExpirationTime = req.ExpirationTime
	sub.Keys = model.SubscriptionKeys{
		P256dh: strings.TrimSpace(req.Keys.P256dh),
		Auth:   strings.TrimSpace(req.Keys.Auth),
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		sub.Name = name
	}
	if ua := strings.TrimSpace(userAgent); ua != "" {
		sub.UserAgent = ua
	}
	if sub.Status == "" {
		sub.Status = model.SubscriptionStatusActive
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes one subscription.
func (s *SubscriptionService) Unsubscribe(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	return s.store.DeleteSubscription(ctx, endpoint)
}

// DeleteAll removes every subscription and reports how many were removed.
func (s *SubscriptionService) DeleteAll(ctx context.Context) (int, error) {
	return s.store.DeleteAllSubscriptions(ctx)
}

// Get fetches one subscription.
func (s *SubscriptionService) Get(ctx context.Context, endpoint string) (*model.Subscription, error) {
	return s.store.GetSubscription(ctx, strings.TrimSpace(endpoint))
}

// List returns stored subscriptions.
func (s *SubscriptionService) List(ctx context.Context) ([]*model.Subscription, error) {
	return s.store.ListSubscriptions(ctx)
}

// ListViews returns subscriptions with key material masked.
func (s *SubscriptionService) ListViews(ctx context.Context) ([]*model.SubscriptionView, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.SubscriptionView, 0, len(subs))
	for _, sub := range subs {
		views = append(views, &model.SubscriptionView{
			ID:            sub.ID,
			Endpoint:      sub.Endpoint,
			Name:          sub.Name,
			UserAgent:     sub.UserAgent,
			P256dh:        maskKey(sub.Keys.P256dh),
			Auth:          maskKey(sub.Keys.Auth),
			Status:        sub.Status,
			LastSuccessAt: sub.LastSuccessAt,
			FailureCount:  sub.FailureCount,
			CreatedAt:     sub.CreatedAt,
		})
	}
	return views, nil
}

// UpdateStatus switches a subscription between ACTIVE and STOP.
func (s *SubscriptionService) UpdateStatus(ctx context.Context, endpoint, status string) (*model.Subscription, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != model.SubscriptionStatusActive && status != model.SubscriptionStatusStop {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	sub, err := s.store.GetSubscription(ctx, strings.TrimSpace(endpoint))
	if err != nil {
		return nil, err
	}
	sub.Status = status
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Counts reports total and active subscriptions.
func (s *SubscriptionService) Counts(ctx context.Context) (total, active int, err error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, sub := range subs {
		if isActive(sub.Status) {
			active++
		}
	}
	return len(subs), active, nil
}

// RecordDelivery updates the health counters of a subscription after a send.
func (s *SubscriptionService) RecordDelivery(ctx context.Context, endpoint string, ok bool, at time.Time) error {
	sub, err := s.store.GetSubscription(ctx, endpoint)
	if err != nil {
		return err
	}
	if ok {
		t := at.UTC()
		sub.LastSuccessAt = &t
		sub.FailureCount = 0
	} else {
		sub.FailureCount++
	}
	return s.store.UpsertSubscription(ctx, sub)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidSubscription)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: endpoint: %v", ErrInvalidSubscription, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: endpoint must be an absolute http(s) URL", ErrInvalidSubscription)
	}
	return nil
}

func isActive(status string) bool {
	status = strings.ToUpper(strings.TrimSpace(status))
	return status == "" || status == model.SubscriptionStatusActive
}

func maskKey(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	if len(runes) <= 4 {
		return value
	}
	return string(runes[:4]) + strings.Repeat("*", len(runes)-4)
}
