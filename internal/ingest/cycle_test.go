package ingest

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/health"
	"github.com/welldanyogia/mailarchive/internal/importer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"github.com/welldanyogia/mailarchive/internal/testutil"
	"github.com/welldanyogia/mailarchive/internal/testutil/mocks"
	"gorm.io/gorm"
)

var fixedNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

// CycleTestSuite runs cycles with a mocked server against a real index
type CycleTestSuite struct {
	suite.Suite
	db           *gorm.DB
	ctx          context.Context
	seed         testutil.Seed
	fetcher      *mocks.MockFetcher
	factoryCalls int
	parser       *parser.Parser
	importer     *importer.Importer
	chain        *health.Chain
	cycle        *Cycle
}

// SetupSuite runs once before all tests
func (s *CycleTestSuite) SetupSuite() {
	s.db = testutil.NewDB(s.T())
	s.ctx = context.Background()
	s.parser = parser.New(parser.Config{Logger: logger.Discard()})
}

// SetupTest runs before each test - fresh data, mocks and cycle
func (s *CycleTestSuite) SetupTest() {
	testutil.Reset(s.T(), s.db)
	s.seed = testutil.SeedMailbox(s.T(), s.db)

	store, err := storage.NewShardedStore(s.db, storage.Config{Root: s.T().TempDir(), Logger: logger.Discard()})
	s.Require().NoError(err)
	s.importer = importer.New(&importer.Config{DB: s.db, Store: store, Logger: logger.Discard()})
	s.chain = health.New(&health.Config{DB: s.db, Logger: logger.Discard(), Now: func() time.Time { return fixedNow }})

	s.fetcher = new(mocks.MockFetcher)
	s.factoryCalls = 0
	s.cycle = s.newCycle(s.importer)
}

func (s *CycleTestSuite) newCycle(imp Importer) *Cycle {
	return New(&Config{
		DB:       s.db,
		Factory:  s.fetcher.Factory(&s.factoryCalls),
		Parser:   s.parser,
		Importer: imp,
		Health:   s.chain,
		Logger:   logger.Discard(),
		Now:      func() time.Time { return fixedNow },
	})
}

// TestCycleTestSuite runs the test suite
func TestCycleTestSuite(t *testing.T) {
	suite.Run(t, new(CycleTestSuite))
}

func (s *CycleTestSuite) credentials() fetcher.Credentials {
	return fetcher.Credentials{Username: "archive@example.com", Password: "s3cret"}
}

func (s *CycleTestSuite) expectSession(criterion fetcher.Criterion, handles ...fetcher.Handle) {
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil).Once()
	s.fetcher.On("Search", mock.Anything, "INBOX", criterion).Return(handles, nil).Once()
	s.fetcher.On("Close").Return(nil)
}

func (s *CycleTestSuite) message(id, subject string) []byte {
	return testutil.NewMessageBuilder().WithMessageID(id).WithHeader("Subject", subject).Build()
}

func (s *CycleTestSuite) state(model any, id uint) models.HealthState {
	var h models.Health
	s.Require().NoError(s.db.Model(model).Select("is_healthy", "last_error", "last_error_at").Where("id = ?", id).Scan(&h).Error)
	return h.State()
}

func (s *CycleTestSuite) emailCount() int64 {
	var n int64
	s.Require().NoError(s.db.Model(&models.Email{}).Count(&n).Error)
	return n
}

func (s *CycleTestSuite) recent() fetcher.Criterion {
	c, err := fetcher.ParseCriterion("RECENT")
	s.Require().NoError(err)
	return c
}

// ==================== Run Tests ====================

func (s *CycleTestSuite) TestRun_UnparsableMessageIsSkipped() {
	// Arrange
	s.expectSession(s.recent(), 1, 2, 3)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).Return(s.message("one@example.com", "One"), nil)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(2)).Return([]byte("garbage line\r\n\r\n"), nil)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(3)).Return(s.message("three@example.com", "Three"), nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, s.recent())

	// Assert
	s.Require().NoError(err)
	s.Equal(Report{Fetched: 3, Imported: 2, Skipped: 1}, report)
	s.Equal(int64(2), s.emailCount())
	s.Equal(models.HealthHealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.Equal(models.HealthHealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.fetcher.AssertExpectations(s.T())
}

func (s *CycleTestSuite) TestRun_ImportsInSearchOrder() {
	// Arrange
	s.expectSession(fetcher.All, 7, 3)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(7)).Return(s.message("seven@example.com", "Seven"), nil)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(3)).Return(s.message("three@example.com", "Three"), nil)

	// Act
	_, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	var emails []models.Email
	s.Require().NoError(s.db.Order("id ASC").Find(&emails).Error)
	s.Require().Len(emails, 2)
	s.Equal("seven@example.com", emails[0].MessageID)
	s.Equal("three@example.com", emails[1].MessageID)
}

func (s *CycleTestSuite) TestRun_OverlappingWindowCountsDuplicates() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil)
	s.fetcher.On("Search", mock.Anything, "INBOX", fetcher.All).Return([]fetcher.Handle{1}, nil)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).Return(s.message("one@example.com", "One"), nil)
	s.fetcher.On("Close").Return(nil)
	_, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)
	s.Require().NoError(err)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	s.Equal(Report{Fetched: 1, Duplicates: 1}, report)
	s.Equal(int64(1), s.emailCount())
}

func (s *CycleTestSuite) TestRun_FetchFailureIsSkipped() {
	// Arrange
	s.expectSession(fetcher.All, 1, 2)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).
		Return(nil, apperrors.NewFetchError("fetch", "archive@example.com", apperrors.ErrMessageFetch, errors.New("i/o timeout")))
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(2)).Return(s.message("two@example.com", "Two"), nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	s.Equal(Report{Fetched: 1, Imported: 1, Skipped: 1}, report)
	s.Equal(models.HealthHealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
}

func (s *CycleTestSuite) TestRun_ImportFailureIsCounted() {
	// Arrange
	imp := new(mocks.MockImporter)
	imp.On("Import", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(importer.Result{}, &apperrors.ImportError{MessageID: "one@example.com", Err: errors.New("constraint")}).Once()
	imp.On("Import", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(importer.Result{EmailID: 9}, nil).Once()
	s.cycle = s.newCycle(imp)
	s.expectSession(fetcher.All, 1, 2)
	s.fetcher.On("Fetch", mock.Anything, mock.Anything).Return(s.message("one@example.com", "One"), nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	s.Equal(Report{Fetched: 2, Imported: 1, Failed: 1}, report)
	imp.AssertExpectations(s.T())
}

func (s *CycleTestSuite) TestRun_SpamIsSkipped() {
	// Arrange
	imp := new(mocks.MockImporter)
	imp.On("Import", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(importer.Result{}, apperrors.ErrSpam)
	s.cycle = s.newCycle(imp)
	s.expectSession(fetcher.All, 1)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).Return(s.message("one@example.com", "One"), nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	s.Equal(Report{Fetched: 1, Skipped: 1}, report)
}

func (s *CycleTestSuite) TestRun_LostIndexAbortsCycle() {
	// Arrange
	imp := new(mocks.MockImporter)
	imp.On("Import", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(importer.Result{}, driver.ErrBadConn).Once()
	s.cycle = s.newCycle(imp)
	s.expectSession(fetcher.All, 1, 2)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).Return(s.message("one@example.com", "One"), nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.ErrorIs(err, driver.ErrBadConn)
	s.Equal(Report{Fetched: 1}, report)
	s.Equal(models.HealthUnhealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.fetcher.AssertNotCalled(s.T(), "Fetch", mock.Anything, fetcher.Handle(2))
}

func (s *CycleTestSuite) TestRun_CancelledBetweenMessages() {
	// Arrange
	ctx, cancel := context.WithCancel(s.ctx)
	s.expectSession(fetcher.All, 1, 2)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).
		Run(func(mock.Arguments) { cancel() }).
		Return(s.message("one@example.com", "One"), nil)

	// Act
	report, err := s.cycle.Run(ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.ErrorIs(err, context.Canceled)
	s.Equal(1, report.Imported)
	s.Equal(models.HealthUnknown, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
}

// ==================== Health Tests ====================

func (s *CycleTestSuite) TestRun_LoginFailureCascades() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).
		Return(apperrors.NewFetchError("login", "archive@example.com", apperrors.ErrAuthentication, errors.New("[AUTHENTICATIONFAILED] Invalid credentials")))
	s.fetcher.On("Close").Return(nil)

	// Act
	report, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, s.recent())

	// Assert
	s.True(apperrors.IsAuthentication(err))
	s.Equal(Report{}, report)
	s.Equal(models.HealthUnhealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
	s.fetcher.AssertCalled(s.T(), "Close")
	s.fetcher.AssertNotCalled(s.T(), "Search", mock.Anything, mock.Anything, mock.Anything)
}

func (s *CycleTestSuite) TestRun_RecoveryAfterLoginFailure() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).
		Return(apperrors.NewFetchError("login", "", apperrors.ErrAuthentication, nil)).Once()
	s.fetcher.On("Close").Return(nil)
	_, _ = s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)
	s.expectSession(fetcher.All)

	// Act
	_, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Require().NoError(err)
	s.Equal(models.HealthHealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.Equal(models.HealthHealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
}

func (s *CycleTestSuite) TestRun_RejectedFolderMarksMailbox() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil)
	s.fetcher.On("Search", mock.Anything, "INBOX", fetcher.All).
		Return(nil, apperrors.NewFetchError("select", "", apperrors.ErrMailbox, errors.New("Mailbox doesn't exist")))
	s.fetcher.On("Close").Return(nil)

	// Act
	_, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.ErrorIs(err, apperrors.ErrMailbox)
	s.Equal(models.HealthHealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
}

func (s *CycleTestSuite) TestRun_SearchConnectionLossMarksAccount() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil)
	s.fetcher.On("Search", mock.Anything, "INBOX", fetcher.All).Return(nil, errors.New("connection reset by peer"))
	s.fetcher.On("Close").Return(nil)

	// Act
	_, err := s.cycle.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)

	// Assert
	s.Error(err)
	s.Equal(models.HealthUnhealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
}

func (s *CycleTestSuite) TestRun_UnknownMailbox() {
	_, err := s.cycle.Run(s.ctx, 99999, fetcher.All)
	s.ErrorIs(err, apperrors.ErrNotFound)
	s.Zero(s.factoryCalls)
}

// ==================== Daemon Tests ====================

func (s *CycleTestSuite) TestRunDaemon_Success() {
	// Arrange
	s.expectSession(s.recent(), 1)
	s.fetcher.On("Fetch", mock.Anything, fetcher.Handle(1)).Return(s.message("one@example.com", "One"), nil)

	// Act
	report, err := s.cycle.RunDaemon(s.ctx, s.seed.Daemon.ID)

	// Assert
	s.Require().NoError(err)
	s.Equal(1, report.Imported)
	s.Equal(models.HealthHealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
	var d models.Daemon
	s.Require().NoError(s.db.First(&d, s.seed.Daemon.ID).Error)
	s.Require().NotNil(d.LastRunAt)
	s.True(fixedNow.Equal(*d.LastRunAt))
}

func (s *CycleTestSuite) TestRunDaemon_BadCriterion() {
	// Arrange
	s.Require().NoError(s.db.Model(&models.Daemon{}).Where("id = ?", s.seed.Daemon.ID).Update("fetching_criterion", "EVERYTHING").Error)

	// Act
	_, err := s.cycle.RunDaemon(s.ctx, s.seed.Daemon.ID)

	// Assert
	s.ErrorIs(err, apperrors.ErrUnsupportedCriterion)
	s.Zero(s.factoryCalls)
	s.Equal(models.HealthUnhealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
	s.Equal(models.HealthUnknown, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
}

func (s *CycleTestSuite) TestRunDaemon_UnsupportedOnServer() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil)
	s.fetcher.On("Search", mock.Anything, "INBOX", s.recent()).
		Return(nil, apperrors.NewFetchError("search", "", apperrors.ErrUnsupportedCriterion, nil))
	s.fetcher.On("Close").Return(nil)

	// Act
	_, err := s.cycle.RunDaemon(s.ctx, s.seed.Daemon.ID)

	// Assert
	s.ErrorIs(err, apperrors.ErrUnsupportedCriterion)
	s.Equal(models.HealthHealthy, s.state(&models.Account{}, s.seed.Account.ID))
	s.Equal(models.HealthUnknown, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.Equal(models.HealthUnhealthy, s.state(&models.Daemon{}, s.seed.Daemon.ID))
}

// ==================== Mailbox Tests ====================

func (s *CycleTestSuite) TestTestMailbox() {
	// Arrange
	s.expectSession(fetcher.All)

	// Act
	err := s.cycle.TestMailbox(s.ctx, s.seed.Mailbox.ID)

	// Assert
	s.Require().NoError(err)
	s.Equal(models.HealthHealthy, s.state(&models.Mailbox{}, s.seed.Mailbox.ID))
	s.fetcher.AssertNotCalled(s.T(), "Fetch", mock.Anything, mock.Anything)
}

func (s *CycleTestSuite) TestDiscoverMailboxes() {
	// Arrange
	s.fetcher.On("Login", mock.Anything, s.credentials()).Return(nil)
	s.fetcher.On("ListMailboxes", mock.Anything).Return([]string{"INBOX", "Sent", "Archive"}, nil)
	s.fetcher.On("Close").Return(nil)

	// Act
	created, err := s.cycle.DiscoverMailboxes(s.ctx, s.seed.Account.ID)

	// Assert
	s.Require().NoError(err)
	s.Require().Len(created, 2)
	s.Equal("Sent", created[0].Name)
	s.Equal("Archive", created[1].Name)
	var n int64
	s.db.Model(&models.Mailbox{}).Where("account_id = ?", s.seed.Account.ID).Count(&n)
	s.Equal(int64(3), n)
}

// ==================== Runner Tests ====================

func (s *CycleTestSuite) TestRunner_SharesInFlightCycle() {
	// Arrange
	release := make(chan struct{})
	started := make(chan struct{})
	s.fetcher.On("Login", mock.Anything, s.credentials()).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(nil).Once()
	s.fetcher.On("Search", mock.Anything, "INBOX", fetcher.All).Return([]fetcher.Handle{}, nil).Once()
	s.fetcher.On("Close").Return(nil)
	runner := NewRunner(s.cycle, logger.Discard())

	// Act
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = runner.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)
	}()
	<-started
	go func() {
		defer wg.Done()
		_, errs[1] = runner.Run(s.ctx, s.seed.Mailbox.ID, fetcher.All)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Assert
	s.NoError(errs[0])
	s.NoError(errs[1])
	s.Equal(1, s.factoryCalls)
}

// ==================== Scheduler Tests ====================

func (s *CycleTestSuite) TestScheduler_TickRunsDueDaemonsOnly() {
	// Arrange
	recent := fixedNow.Add(-10 * time.Second)
	idle := &models.Daemon{MailboxID: s.seed.Mailbox.ID, FetchingCriterion: "ALL", CycleIntervalSeconds: 3600, LastRunAt: &recent}
	s.Require().NoError(s.db.Create(idle).Error)
	s.expectSession(s.recent())

	scheduler := NewScheduler(s.db, NewRunner(s.cycle, logger.Discard()), SchedulerConfig{}, logger.Discard())
	scheduler.now = func() time.Time { return fixedNow }

	// Act
	scheduler.Tick(s.ctx)

	// Assert
	s.Equal(1, s.factoryCalls)
	s.fetcher.AssertExpectations(s.T())
	var d models.Daemon
	s.Require().NoError(s.db.First(&d, idle.ID).Error)
	s.True(recent.Equal(*d.LastRunAt))
}

func (s *CycleTestSuite) TestScheduler_StartStop() {
	scheduler := NewScheduler(s.db, NewRunner(s.cycle, logger.Discard()), SchedulerConfig{TickInterval: time.Hour}, logger.Discard())
	s.Require().NoError(s.db.Exec("DELETE FROM daemons").Error)

	scheduler.Start()
	s.True(scheduler.IsRunning())
	scheduler.Stop()
	s.False(scheduler.IsRunning())
	scheduler.Stop()
}
