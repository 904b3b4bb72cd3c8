// Package scheduler runs the confirmation poller on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/questchain/node/extensions/settlement"
)

type poller interface {
	Poll(ctx context.Context) (settlement.Report, error)
}

type PollScheduler struct {
	poller poller
	logger *zap.Logger
	cron   *gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex

	running bool
}

type NewPollSchedulerParams struct {
	Poller poller
	Logger *zap.Logger
}

func NewPollScheduler(params NewPollSchedulerParams) *PollScheduler {
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollScheduler{
		poller: params.Poller,
		logger: logger.Named("poll_scheduler"),
		cron:   gocron.NewScheduler(time.UTC),
	}
}

// SetPoller swaps the poller used by subsequent runs.
func (s *PollScheduler) SetPoller(p poller) {
	s.mu.Lock()
	s.poller = p
	s.mu.Unlock()
}

// Start registers a single cron job with the provided cron expression. An
// empty expression uses DefaultPollSchedule. Calling Start again replaces the
// previous job.
func (s *PollScheduler) Start(ctx context.Context, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(cronExpr) == "" {
		cronExpr = DefaultPollSchedule
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Clear any existing jobs to avoid duplicates on (re)start
	s.cron.Clear()

	jobFunc := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("panic in poll job", zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
			}
		}()

		// Snapshot dependencies under lock to avoid races with setters
		s.mu.Lock()
		jobCtx := s.ctx
		p := s.poller
		s.mu.Unlock()

		if p == nil {
			s.logger.Warn("poller not configured; skipping run")
			return
		}
		if jobCtx.Err() != nil {
			return
		}

		report, err := p.Poll(jobCtx)
		if err != nil {
			s.logger.Error("poll run failed", zap.Error(err), zap.Any("report", report))
			return
		}
		if report.Checked == 0 && report.Resubmitted == 0 {
			s.logger.Debug("no transactions awaiting confirmation")
			return
		}
		s.logger.Info("poll run completed",
			zap.Int("checked", report.Checked),
			zap.Int("confirmed", report.Confirmed),
			zap.Int("retried", report.Retried),
			zap.Int("failed", report.Failed),
			zap.Int("resubmitted", report.Resubmitted),
			zap.Int("errors", report.Errors))
	}

	if j, err := s.cron.Cron(cronExpr).Do(jobFunc); err != nil {
		// Fallback for schedules that include seconds
		j2, err2 := s.cron.CronWithSeconds(cronExpr).Do(jobFunc)
		if err2 != nil {
			return fmt.Errorf("register poll job: %w", err)
		}
		j2.SingletonMode()
	} else {
		// Prevent overlapping runs
		j.SingletonMode()
	}

	s.cron.StartAsync()
	s.running = true
	s.logger.Info("poll scheduler started", zap.String("schedule", cronExpr))
	return nil
}

func (s *PollScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Stop()
	if s.cancel != nil {
		s.cancel()
	}
	if s.running {
		s.logger.Info("poll scheduler stopped")
	}
	s.running = false
	return nil
}

// Running reports whether Start succeeded and Stop has not been called since.
func (s *PollScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce executes one poll synchronously (for tests and manual triggering)
func (s *PollScheduler) RunOnce(ctx context.Context) (settlement.Report, error) {
	s.mu.Lock()
	p := s.poller
	s.mu.Unlock()

	if p == nil {
		return settlement.Report{}, fmt.Errorf("missing poller to run once")
	}
	report, err := p.Poll(ctx)
	if err != nil {
		return report, fmt.Errorf("poll: %w", err)
	}
	return report, nil
}
