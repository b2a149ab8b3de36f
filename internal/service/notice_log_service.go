package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/storage"
)

// DeliveryLogService provides filtering and statistics over delivery logs.
type DeliveryLogService struct {
	store storage.Store
	subs  *SubscriptionService
}

// NewDeliveryLogService builds the delivery log service.
func NewDeliveryLogService(store storage.Store, subs *SubscriptionService) *DeliveryLogService {
	return &DeliveryLogService{store: store, subs: subs}
}

// Query returns paginated logs.
func (s *DeliveryLogService) Query(ctx context.Context, filter model.DeliveryLogFilter) (*model.DeliveryLogPage, error) {
	logs, err := s.filteredLogs(ctx, filter)
	if err != nil {
		return nil, err
	}

	total := len(logs)
	if filter.PageSize <= 0 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	start := (filter.Page - 1) * filter.PageSize
	if start > total {
		start = total
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}

	return &model.DeliveryLogPage{
		Data:     logs[start:end],
		Total:    total,
		Pages:    (total + filter.PageSize - 1) / filter.PageSize,
		PageNum:  filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// CountByDate aggregates logs per day/month/year.
func (s *DeliveryLogService) CountByDate(ctx context.Context, dateType string, begin, end *time.Time) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DeliveryLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}

	layout := "2006-01-02"
	switch strings.ToLower(dateType) {
	case "year":
		layout = "2006"
	case "month":
		layout = "2006-01"
	}

	counter := make(map[string]int)
	for _, log := range logs {
		counter[log.CreatedAt.Format(layout)]++
	}
	return mapToKV(counter, "date"), nil
}

// CountByStatus aggregates by delivery status.
func (s *DeliveryLogService) CountByStatus(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	return s.countBy(ctx, begin, end, "status", func(log *model.DeliveryLog) string {
		if log.Status == "" {
			return "UNKNOWN"
		}
		return log.Status
	})
}

// CountBySeverity aggregates by notification severity.
func (s *DeliveryLogService) CountBySeverity(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	return s.countBy(ctx, begin, end, "severity", func(log *model.DeliveryLog) string {
		if sev := strings.TrimSpace(log.Severity); sev != "" {
			return sev
		}
		return "info"
	})
}

// CountBySubscription aggregates using subscription names when available.
func (s *DeliveryLogService) CountBySubscription(ctx context.Context, begin, end *time.Time) ([]map[string]any, error) {
	names := make(map[string]string)
	if s.subs != nil {
		if subs, err := s.subs.List(ctx); err == nil {
			for _, sub := range subs {
				if sub.Name != "" {
					names[sub.Endpoint] = sub.Name
				}
			}
		}
	}
	return s.countBy(ctx, begin, end, "subscription", func(log *model.DeliveryLog) string {
		if name := names[log.Endpoint]; name != "" {
			return name
		}
		return log.Endpoint
	})
}

func (s *DeliveryLogService) countBy(ctx context.Context, begin, end *time.Time, key string, label func(*model.DeliveryLog) string) ([]map[string]any, error) {
	logs, err := s.filteredLogs(ctx, model.DeliveryLogFilter{BeginTime: begin, EndTime: end})
	if err != nil {
		return nil, err
	}
	counter := make(map[string]int)
	for _, log := range logs {
		counter[label(log)]++
	}
	return mapToKV(counter, key), nil
}

func (s *DeliveryLogService) filteredLogs(ctx context.Context, filter model.DeliveryLogFilter) ([]*model.DeliveryLog, error) {
	all, err := s.store.ListDeliveryLogs(ctx)
	if err != nil {
		return nil, err
	}
	matches := make([]*model.DeliveryLog, 0, len(all))
	for _, log := range all {
		if filter.Endpoint != "" && log.Endpoint != filter.Endpoint {
			continue
		}
		if filter.Severity != "" && !strings.EqualFold(log.Severity, filter.Severity) {
			continue
		}
		if filter.Status != "" && !strings.EqualFold(log.Status, filter.Status) {
			continue
		}
		if filter.BeginTime != nil && log.CreatedAt.Before(filter.BeginTime.UTC()) {
			continue
		}
		if filter.EndTime != nil && log.CreatedAt.After(filter.EndTime.UTC()) {
			continue
		}
		matches = append(matches, log)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

func mapToKV(counter map[string]int, key string) []map[string]any {
	result := make([]map[string]any, 0, len(counter))
	for k, v := range counter {
		result = append(result, map[string]any{
			key:     k,
			"count": v,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i][key].(string) < result[j][key].(string)
	})
	return result
}
