package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"maxrelay/internal/constants"
)

// Refresher is satisfied by TitleCache
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Scheduler refreshes chat titles periodically so renamed chats show up
// without a restart.
type Scheduler struct {
	target   Refresher
	interval time.Duration
	logger   *logrus.Logger
	stopCh   chan struct{}
}

func NewScheduler(target Refresher, intervalMinutes int, logger *logrus.Logger) *Scheduler {
	if intervalMinutes <= 0 {
		intervalMinutes = constants.DefaultTitleRefreshMinutes
	}
	return &Scheduler{
		target:   target,
		interval: time.Duration(intervalMinutes) * time.Minute,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks until ctx is done or Stop is called
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithField("interval", s.interval.String()).Info("Starting title refresh scheduler")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.runRefresh(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) runRefresh(ctx context.Context) {
	if err := s.target.Refresh(ctx); err != nil {
		s.logger.WithError(err).Warn("Scheduled title refresh failed")
		return
	}
	s.logger.Debug("Scheduled title refresh completed")
}
