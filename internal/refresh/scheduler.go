// Package refresh keeps served views warm and publishes the daily export.
package refresh

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/powerdash/internal/calendar"
	"github.com/lox/powerdash/internal/dashboard"
	"github.com/lox/powerdash/internal/export"
)

// Publisher receives the daily export.
type Publisher interface {
	Publish(ctx context.Context, name string, f export.Format, r io.Reader) error
}

type Config struct {
	// WarmInterval is how often cached views are dropped and recomputed.
	// Zero disables warming.
	WarmInterval time.Duration
	// PublishHour is the local hour the daily export is published in.
	PublishHour int
	Format      export.Format
}

type Scheduler struct {
	svc       *dashboard.Service
	publisher Publisher
	cfg       Config
	now       func() time.Time
	log       *zap.Logger

	mu            sync.Mutex
	lastPublished calendar.Date
}

// NewScheduler builds a scheduler. A nil publisher disables the daily export.
func NewScheduler(svc *dashboard.Service, publisher Publisher, cfg Config) *Scheduler {
	if cfg.Format == "" {
		cfg.Format = export.FormatCSV
	}
	return &Scheduler{
		svc:       svc,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       zap.L().With(zap.String("component", "refresh")),
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	s.Warm(ctx)
	s.publishIfDue(ctx)

	var warmC <-chan time.Time
	if s.cfg.WarmInterval > 0 {
		warmTicker := time.NewTicker(s.cfg.WarmInterval)
		defer warmTicker.Stop()
		warmC = warmTicker.C
	}
	publishTicker := time.NewTicker(10 * time.Minute)
	defer publishTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down")
			return
		case <-warmC:
			s.Warm(ctx)
		case <-publishTicker.C:
			s.publishIfDue(ctx)
		}
	}
}

// Warm drops every cached view and recomputes the unfiltered dashboard so
// the next page load is served from cache.
func (s *Scheduler) Warm(ctx context.Context) {
	if s.cfg.WarmInterval <= 0 {
		return
	}
	start := time.Now()
	if err := s.svc.Invalidate(ctx, ""); err != nil {
		s.log.Warn("invalidate cache", zap.Error(err))
	}
	page := s.svc.Page(ctx, "")
	if failed := page.Failed(); len(failed) > 0 {
		s.log.Warn("warmed with failures", zap.Strings("views", failed), zap.Duration("duration", time.Since(start)))
		return
	}
	s.log.Debug("views warmed", zap.Duration("duration", time.Since(start)))
}

// publishIfDue publishes today's export once, during the configured hour.
func (s *Scheduler) publishIfDue(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	now := s.now().In(calendar.Location)
	if now.Hour() != s.cfg.PublishHour {
		return
	}
	today := calendar.Of(now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPublished.Equal(today) {
		return
	}
	if err := s.Publish(ctx, today); err != nil {
		s.log.Error("publish export", zap.Error(err))
		return
	}
	s.lastPublished = today
}

// Publish exports the default window around today and hands it to the
// publisher.
func (s *Scheduler) Publish(ctx context.Context, today calendar.Date) error {
	window := dashboard.ExportWindow(today)
	rows, err := s.svc.ExportRows(ctx, "", window)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := export.Write(&buf, s.cfg.Format, rows); err != nil {
		return err
	}
	name := export.Filename(window, s.cfg.Format)
	if err := s.publisher.Publish(ctx, name, s.cfg.Format, &buf); err != nil {
		return err
	}
	s.log.Info("published export", zap.String("name", name), zap.Int("rows", len(rows)))
	return nil
}
