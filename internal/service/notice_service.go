package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/bark-labs/webpush-relay/internal/metrics"
	"github.com/bark-labs/webpush-relay/internal/model"
	"github.com/bark-labs/webpush-relay/internal/pushclient"
	"github.com/bark-labs/webpush-relay/internal/storage"
	"github.com/bark-labs/webpush-relay/internal/worker"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
)

// ErrEmptyNotice is returned when a request has neither title nor body.
var ErrEmptyNotice = errors.New("title or body is required")

// Sender delivers one encrypted push to a subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.Subscription, payload []byte, so pushclient.SendOptions) (*pushclient.Result, error)
}

// Publisher fans a raw payload out to stream clients and returns how many received it.
type Publisher interface {
	Broadcast(payload []byte) int
}

// NoticeOptions configures NoticeService.
type NoticeOptions struct {
	Publisher    Publisher
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	PayloadLimit int
	BodyMaxRunes int
	CriticalTag  string
	// Retention prunes history after every stored notice; zero disables.
	Retention time.Duration
}

// NoticeService builds push payloads and fans them out to subscriptions.
type NoticeService struct {
	store     storage.Store
	sender    Sender
	subs      *SubscriptionService
	publisher Publisher
	metrics   *metrics.Metrics
	sanitizer *bluemonday.Policy
	opts      NoticeOptions
	log       zerolog.Logger
	now       func() time.Time
}

// NewNoticeService builds NoticeService.
func NewNoticeService(store storage.Store, sender Sender, subs *SubscriptionService, opts NoticeOptions) *NoticeService {
	if opts.CriticalTag == "" {
		opts.CriticalTag = worker.DefaultCriticalTag
	}
	return &NoticeService{
		store:     store,
		sender:    sender,
		subs:      subs,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		sanitizer: bluemonday.StrictPolicy(),
		opts:      opts,
		log:       opts.Logger,
		now:       time.Now,
	}
}

// Broadcast sends req to the listed endpoints, or to every active subscription.
func (s *NoticeService) Broadcast(ctx context.Context, req model.NoticeRequest) (model.NoticeSummary, []model.NoticeResult, error) {
	msg, severity, err := s.buildMessage(req)
	if err != nil {
		return model.NoticeSummary{}, nil, err
	}
	payload, err := pushclient.BuildPayload(msg, s.opts.PayloadLimit, s.opts.BodyMaxRunes)
	if err != nil {
		return model.NoticeSummary{}, nil, err
	}
	if payload.Truncated {
		s.log.Warn().Int("bytes", len(payload.Data)).Msg("push payload over limit, body truncated")
	}

	targets, lookupFailures, err := s.pickTargets(ctx, req.Endpoints)
	if err != nil {
		return model.NoticeSummary{}, nil, err
	}

	summary := model.NoticeSummary{SendNum: len(targets), Truncated: payload.Truncated}
	if s.publisher != nil {
		summary.Streamed = s.publisher.Broadcast(payload.Data)
	}

	so := pushclient.SendOptions{Urgency: webpush.UrgencyNormal}
	if severity.IsCritical() {
		so = pushclient.SendOptions{Urgency: webpush.UrgencyHigh, Topic: s.opts.CriticalTag}
	}

	var (
		results = make([]model.NoticeResult, 0, len(targets)+len(lookupFailures))
		mu      sync.Mutex
		wg      sync.WaitGroup
	)
	results = append(results, lookupFailures...)

	wg.Add(len(targets))
	for _, sub := range targets {
		go func(sub *model.Subscription) {
			defer wg.Done()
			res := s.deliver(ctx, sub, msg, payload.Data, so)
			mu.Lock()
			switch res.Status {
			case model.ResultSuccess:
				summary.SuccessNum++
			case model.ResultGone:
				summary.Removed++
			}
			results = append(results, res)
			mu.Unlock()
		}(sub)
	}
	wg.Wait()

	s.metrics.ObserveNotice(string(severity))
	s.saveHistory(ctx, msg, severity)
	return summary, results, nil
}

// SendTest broadcasts a fixed critical notification to every active subscription.
func (s *NoticeService) SendTest(ctx context.Context) (model.NoticeSummary, []model.NoticeResult, error) {
	return s.Broadcast(ctx, model.NoticeRequest{
		Title:    "Test notification",
		Body:     "If you can read this, push delivery works.",
		URL:      "/",
		Severity: string(worker.SeverityCritical),
	})
}

// History returns notices created at or after since, newest first.
func (s *NoticeService) History(ctx context.Context, since time.Time) ([]*model.Notice, error) {
	return s.store.ListNoticesSince(ctx, since)
}

func (s *NoticeService) buildMessage(req model.NoticeRequest) (model.PushMessage, worker.Severity, error) {
	title := s.clean(req.Title)
	body := s.clean(req.Body)
	if title == "" && body == "" {
		return model.PushMessage{}, "", ErrEmptyNotice
	}
	severity := worker.ParseSeverity(req.Severity)
	if req.Critical {
		severity = worker.SeverityCritical
	}
	relURL := strings.TrimSpace(req.URL)
	if relURL == "" {
		relURL = worker.DefaultURL
	}
	msg := model.PushMessage{
		Title:    title,
		Body:     body,
		URL:      relURL,
		Icon:     strings.TrimSpace(req.Icon),
		Badge:    strings.TrimSpace(req.Badge),
		Image:    strings.TrimSpace(req.Image),
		Severity: string(severity),
	}
	if severity.IsCritical() {
		msg.Critical = "true"
	}
	return msg, severity, nil
}

// clean strips markup; notifications render plain text so entities are decoded back.
func (s *NoticeService) clean(value string) string {
	return strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
}

func (s *NoticeService) deliver(ctx context.Context, sub *model.Subscription, msg model.PushMessage, payload []byte, so pushclient.SendOptions) model.NoticeResult {
	result := model.NoticeResult{Endpoint: sub.Endpoint}
	started := s.now()
	res, err := s.sender.Send(ctx, sub, payload, so)
	switch {
	case err != nil:
		result.Status = model.ResultFailed
		result.Message = err.Error()
	case res.Gone():
		result.Status = model.ResultGone
		result.Code = res.StatusCode
		result.Message = res.Body
		if delErr := s.store.DeleteSubscription(ctx, sub.Endpoint); delErr != nil && !errors.Is(delErr, storage.ErrNotFound) {
			s.log.Error().Err(delErr).Str("endpoint", sub.Endpoint).Msg("remove expired subscription")
		} else {
			s.log.Info().Str("endpoint", sub.Endpoint).Int("code", res.StatusCode).Msg("removed expired subscription")
		}
	case !res.OK():
		result.Status = model.ResultFailed
		result.Code = res.StatusCode
		result.Message = res.Body
	default:
		result.Status = model.ResultSuccess
		result.Code = res.StatusCode
	}
	s.metrics.ObservePush(result.Status, s.now().Sub(started))

	if result.Status != model.ResultGone && s.subs != nil {
		if err := s.subs.RecordDelivery(ctx, sub.Endpoint, result.Status == model.ResultSuccess, s.now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.log.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("update subscription health")
		}
	}
	s.appendLog(ctx, sub, msg, result)
	return result
}

func (s *NoticeService) pickTargets(ctx context.Context, endpoints []string) ([]*model.Subscription, []model.NoticeResult, error) {
	if len(endpoints) == 0 {
		list, err := s.store.ListActiveSubscriptions(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("list subscriptions: %w", err)
		}
		return list, nil, nil
	}
	var (
		subs     []*model.Subscription
		failures []model.NoticeResult
		seen     = make(map[string]struct{}, len(endpoints))
	)
	for _, endpoint := range endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if _, dup := seen[endpoint]; dup || endpoint == "" {
			continue
		}
		seen[endpoint] = struct{}{}
		sub, err := s.store.GetSubscription(ctx, endpoint)
		if err != nil {
			failures = append(failures, model.NoticeResult{
				Endpoint: endpoint,
				Status:   model.ResultFailed,
				Message:  err.Error(),
			})
			continue
		}
		subs = append(subs, sub)
	}
	return subs, failures, nil
}

func (s *NoticeService) appendLog(ctx context.Context, sub *model.Subscription, msg model.PushMessage, res model.NoticeResult) {
	entry := &model.DeliveryLog{
		SubscriptionID: sub.ID,
		Endpoint:       sub.Endpoint,
		Title:          msg.Title,
		Body:           msg.Body,
		Severity:       msg.Severity,
		StatusCode:     res.Code,
		Result:         res.Message,
		Status:         res.Status,
	}
	if err := s.store.AppendDeliveryLog(ctx, entry); err != nil {
		s.log.Error().Err(err).Msg("append delivery log")
	}
}

func (s *NoticeService) saveHistory(ctx context.Context, msg model.PushMessage, severity worker.Severity) {
	notice := &model.Notice{
		Title:     msg.Title,
		Body:      msg.Body,
		RelURL:    msg.URL,
		Severity:  string(severity),
		Critical:  severity.IsCritical(),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.AppendNotice(ctx, notice); err != nil {
		s.log.Error().Err(err).Msg("store notice history")
		return
	}
	if s.opts.Retention <= 0 {
		return
	}
	if _, err := s.store.PruneNotices(ctx, s.now().Add(-s.opts.Retention)); err != nil {
		s.log.Warn().Err(err).Msg("prune notice history")
	}
}
