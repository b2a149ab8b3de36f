package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bark-labs/webpush-relay/internal/storage"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RetentionService periodically deletes notices and delivery logs older than the
// retention window.
type RetentionService struct {
	store     storage.Store
	retention time.Duration
	schedule  string
	parser    cron.Parser
	log       zerolog.Logger
	now       func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// NewRetentionService validates schedule and builds the service.
func NewRetentionService(store storage.Store, retention time.Duration, schedule string, log zerolog.Logger) (*RetentionService, error) {
	if schedule == "" {
		schedule = "@daily"
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("prune schedule %q: %w", schedule, err)
	}
	return &RetentionService{
		store:     store,
		retention: retention,
		schedule:  schedule,
		parser:    parser,
		log:       log,
		now:       time.Now,
	}, nil
}

// Start registers the prune job. It is a no-op when retention is disabled or already started.
func (s *RetentionService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retention <= 0 || s.c != nil {
		return nil
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(time.UTC))
	if _, err := s.c.AddFunc(s.schedule, func() {
		if _, _, err := s.Prune(ctx); err != nil {
			s.log.Error().Err(err).Msg("retention prune failed")
		}
	}); err != nil {
		s.c = nil
		return err
	}
	s.c.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("retention", s.retention).Msg("retention started")
	return nil
}

// Stop waits for a running job and stops the scheduler.
func (s *RetentionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

// Prune deletes expired rows now and reports how many of each were removed.
func (s *RetentionService) Prune(ctx context.Context) (notices, logs int, err error) {
	if s.retention <= 0 {
		return 0, 0, nil
	}
	cutoff := s.now().Add(-s.retention)
	if notices, err = s.store.PruneNotices(ctx, cutoff); err != nil {
		return 0, 0, fmt.Errorf("prune notices: %w", err)
	}
	if logs, err = s.store.PruneDeliveryLogs(ctx, cutoff); err != nil {
		return notices, 0, fmt.Errorf("prune delivery logs: %w", err)
	}
	if notices > 0 || logs > 0 {
		s.log.Info().Int("notices", notices).Int("logs", logs).Time("cutoff", cutoff).Msg("pruned history")
	}
	return notices, logs, nil
}
