package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ganeshchavan786/TallyConnect-sub000/internal/schema"
	"github.com/ganeshchavan786/TallyConnect-sub000/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SchedulerConfig configures the auto-sync loop.
type SchedulerConfig struct {
	// Interval is how long after a sync each identity becomes due again.
	Interval time.Duration

	// LookbackDays bounds the trailing date window each auto-sync covers.
	LookbackDays int

	// BatchSize is passed through to each triggered job.
	BatchSize int
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:     time.Hour,
		LookbackDays: 30,
	}
}

// Scheduler periodically re-triggers the orchestrator for every company
// currently synced. It ticks once per second; an identity is re-synced when
// its next-due time has passed. A held identity gate makes the attempt a
// silent no-op and the identity is simply rescheduled.
type Scheduler struct {
	orch   *Orchestrator
	db     *store.DB
	logger *logrus.Logger

	cron *cron.Cron

	mu      sync.Mutex
	cfg     SchedulerConfig
	nextDue map[schema.Identity]time.Time
	running bool
}

// NewScheduler wires an auto-sync scheduler.
func NewScheduler(orch *Orchestrator, db *store.DB, cfg SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSchedulerConfig().Interval
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultSchedulerConfig().LookbackDays
	}
	return &Scheduler{
		orch:    orch,
		db:      db,
		logger:  logger,
		cfg:     cfg,
		nextDue: make(map[schema.Identity]time.Time),
	}
}

// Start begins the polling tick. Safe to call once; a second call while
// running is an error.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	// Enabling resets every per-identity timer: an identity left past-due
	// across a disable/enable cycle is rescheduled, not fired immediately.
	s.nextDue = make(map[schema.Identity]time.Time)

	s.cron = cron.New()
	if _, err := s.cron.AddFunc("@every 1s", func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule tick: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Infof("auto-sync scheduler started (interval %s, lookback %dd)",
		s.cfg.Interval, s.cfg.LookbackDays)
	return nil
}

// Stop halts the tick and waits for the in-flight tick to return. Jobs the
// scheduler already started keep running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.logger.Info("auto-sync scheduler stopped")
}

// SetInterval changes the re-sync interval and resets all per-identity
// timers.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Interval = d
	s.nextDue = make(map[schema.Identity]time.Time)
}

// tick checks every synced company against its next-due time.
func (s *Scheduler) tick(ctx context.Context) {
	companies, err := s.db.GetCompanies(ctx, schema.StatusSynced)
	if err != nil {
		s.logger.Warnf("auto-sync: failed to list companies: %v", err)
		return
	}

	now := time.Now()

	s.mu.Lock()
	cfg := s.cfg
	due := make([]*schema.Company, 0)
	for _, c := range companies {
		id := c.Identity()
		next, seen := s.nextDue[id]
		if !seen {
			// First sighting: schedule one interval out rather than
			// immediately re-syncing everything at startup.
			s.nextDue[id] = now.Add(cfg.Interval)
			continue
		}
		if !now.Before(next) {
			due = append(due, c)
			s.nextDue[id] = now.Add(cfg.Interval)
		}
	}
	s.mu.Unlock()

	for _, c := range due {
		s.trigger(ctx, c, cfg)
	}
}

func (s *Scheduler) trigger(ctx context.Context, c *schema.Company, cfg SchedulerConfig) {
	to := time.Now()
	from := to.AddDate(0, 0, -cfg.LookbackDays)

	_, err := s.orch.Start(ctx, JobParams{
		Identity:     c.Identity(),
		Name:         c.Name,
		SourceHandle: c.SourceHandle,
		FromDate:     from,
		ToDate:       to,
		BatchSize:    cfg.BatchSize,
	})
	if errors.Is(err, ErrAlreadyRunning) {
		// A manual or previous auto sync holds the gate; rescheduled above.
		return
	}
	if err != nil {
		s.logger.Warnf("auto-sync: failed to start job for %s: %v", c.Identity(), err)
		return
	}

	s.logger.WithField("identity", c.Identity().String()).Info("auto-sync triggered")
}
