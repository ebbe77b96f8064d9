package ingest

import (
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
)

func (s *CycleTestSuite) newScheduler() *Scheduler {
	sched := NewScheduler(s.db, NewRunner(s.cycle, logger.Discard()), SchedulerConfig{
		TickInterval:  time.Hour,
		MaxConcurrent: 2,
		CycleTimeout:  time.Minute,
	}, logger.Discard())
	sched.now = func() time.Time { return fixedNow }
	return sched
}

func (s *CycleTestSuite) lastRun(id uint) *time.Time {
	var d models.Daemon
	s.Require().NoError(s.db.First(&d, id).Error)
	return d.LastRunAt
}

// ==================== Scheduler Loop Tests ====================

func (s *CycleTestSuite) TestScheduler_TickMarksDaemonHealthy() {
	// Arrange
	s.expectSession(s.recent())
	sched := s.newScheduler()

	// Act
	sched.Tick(s.ctx)

	// Assert
	s.Equal(1, s.factoryCalls)
	s.Require().NotNil(s.lastRun(s.seed.Daemon.ID))
	s.True(fixedNow.Equal(*s.lastRun(s.seed.Daemon.ID)))
	s.Equal(models.HealthHealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
	s.fetcher.AssertExpectations(s.T())
}

func (s *CycleTestSuite) TestScheduler_StartTicksImmediately() {
	s.expectSession(s.recent())
	sched := s.newScheduler()

	sched.Start()
	s.Eventually(func() bool { return s.lastRun(s.seed.Daemon.ID) != nil }, 2*time.Second, 10*time.Millisecond)
	sched.Stop()

	s.False(sched.IsRunning())
}

// ==================== Daemon Sharing Tests ====================

func (s *CycleTestSuite) TestRunner_JoiningDaemonRecordsItsRun() {
	// Arrange
	second := &models.Daemon{MailboxID: s.seed.Mailbox.ID, FetchingCriterion: "ALL", CycleIntervalSeconds: 60}
	s.Require().NoError(s.db.Create(second).Error)

	started := make(chan struct{})
	release := make(chan struct{})
	s.fetcher.On("Login", mock.Anything, s.credentials()).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil).Once()
	s.fetcher.On("Search", mock.Anything, "INBOX", s.recent()).Return([]fetcher.Handle{}, nil).Once()
	s.fetcher.On("Close").Return(nil)
	runner := NewRunner(s.cycle, logger.Discard())

	// Act
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = runner.RunDaemon(s.ctx, s.seed.Mailbox.ID, s.seed.Daemon.ID)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, errs[1] = runner.RunDaemon(s.ctx, s.seed.Mailbox.ID, second.ID)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	s.NoError(errs[0])
	s.NoError(errs[1])
	s.Equal(1, s.factoryCalls)
	s.Require().NotNil(s.lastRun(second.ID))
	s.True(fixedNow.Equal(*s.lastRun(second.ID)))
	s.Equal(models.HealthUnknown, s.state(&models.Daemon{}, second.ID))
}

func (s *CycleTestSuite) TestRunner_LeadingDaemonRecordsHealth() {
	s.expectSession(s.recent())
	runner := NewRunner(s.cycle, logger.Discard())

	_, err := runner.RunDaemon(s.ctx, s.seed.Mailbox.ID, s.seed.Daemon.ID)

	s.NoError(err)
	s.Equal(models.HealthHealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
	s.True(fixedNow.Equal(*s.lastRun(s.seed.Daemon.ID)))
}
