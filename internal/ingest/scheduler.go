package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// SchedulerConfig holds configuration for the daemon scheduler
type SchedulerConfig struct {
	// TickInterval is how often due daemons are looked up
	TickInterval time.Duration
	// MaxConcurrent bounds cycles running at the same time
	MaxConcurrent int
	// CycleTimeout bounds a single cycle
	CycleTimeout time.Duration
}

// Scheduler starts daemons whose interval has elapsed
type Scheduler struct {
	daemons repository.DaemonRepository
	runner  *Runner
	config  SchedulerConfig
	logger  *slog.Logger
	now     func() time.Time
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewScheduler creates a Scheduler
func NewScheduler(db *gorm.DB, runner *Runner, config SchedulerConfig, log *slog.Logger) *Scheduler {
	if config.TickInterval <= 0 {
		config.TickInterval = 10 * time.Second
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}
	if config.CycleTimeout <= 0 {
		config.CycleTimeout = 30 * time.Minute
	}
	return &Scheduler{
		daemons: repository.NewDaemonRepository(db),
		runner:  runner,
		config:  config,
		logger:  logger.OrDefault(log),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start begins the scheduling loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("daemon scheduler started",
		slog.Duration("tick_interval", s.config.TickInterval),
		slog.Int("max_concurrent", s.config.MaxConcurrent))
}

// Stop waits for running cycles and stops the loop
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("daemon scheduler stopped")
}

// IsRunning returns whether the loop is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stopCh
		cancel()
	}()

	s.Tick(ctx)

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every due daemon once and returns when they have finished
func (s *Scheduler) Tick(ctx context.Context) {
	daemons, err := s.daemons.List(ctx)
	if err != nil {
		s.logger.Error("failed to list daemons", slog.Any("error", err))
		return
	}

	now := s.now()
	var due []models.Daemon
	for _, d := range daemons {
		if d.Due(now) {
			due = append(due, d)
		}
	}
	if len(due) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrent)
	for _, d := range due {
		d := d
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(gctx, s.config.CycleTimeout)
			defer cancel()

			report, err := s.runner.RunDaemon(cctx, d.MailboxID, d.ID)
			if err != nil {
				s.logger.Warn("daemon cycle failed",
					slog.Uint64("daemon_id", uint64(d.ID)),
					slog.Uint64("mailbox_id", uint64(d.MailboxID)),
					slog.Any("error", err))
				return nil
			}
			s.logger.Debug("daemon cycle done",
				slog.Uint64("daemon_id", uint64(d.ID)),
				slog.Int("imported", report.Imported))
			return nil
		})
	}
	_ = g.Wait()
}
