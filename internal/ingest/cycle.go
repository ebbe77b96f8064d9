// Package ingest runs ingestion cycles: log in, search one mailbox, then
// fetch, parse and import every match in search order.
//
// Login failures mark the account unhealthy. A rejected folder marks the
// mailbox unhealthy. Failures of a single message are logged and counted
// and the batch carries on; the message is picked up again by the next
// cycle if it still matches the criterion.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/healer"
	"github.com/welldanyogia/mailarchive/internal/health"
	"github.com/welldanyogia/mailarchive/internal/importer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/parser"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"github.com/welldanyogia/mailarchive/internal/validator"
	"gorm.io/gorm"
)

// Importer stores one parsed message
type Importer interface {
	Import(ctx context.Context, mailbox *models.Mailbox, msg *parser.ParsedMessage, raw []byte) (importer.Result, error)
}

// Report counts what one cycle did
type Report struct {
	Fetched    int `json:"fetched"`
	Imported   int `json:"imported"`
	Duplicates int `json:"duplicates"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Config holds the collaborators of a Cycle
type Config struct {
	DB       *gorm.DB
	Factory  fetcher.Factory
	Parser   *parser.Parser
	Importer Importer
	Health   *health.Chain
	Healer   *healer.Healer
	Logger   *slog.Logger
	Now      func() time.Time
}

// Cycle runs ingestion for one mailbox at a time. It does not serialize
// runs itself; use a Runner for that.
type Cycle struct {
	accounts  repository.AccountRepository
	mailboxes repository.MailboxRepository
	daemons   repository.DaemonRepository
	factory   fetcher.Factory
	parser    *parser.Parser
	importer  Importer
	health    *health.Chain
	healer    *healer.Healer
	logger    *slog.Logger
	events    *logger.EventLogger
	now       func() time.Time
}

// New creates a Cycle
func New(cfg *Config) *Cycle {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	log := logger.OrDefault(cfg.Logger)
	return &Cycle{
		accounts:  repository.NewAccountRepository(cfg.DB),
		mailboxes: repository.NewMailboxRepository(cfg.DB),
		daemons:   repository.NewDaemonRepository(cfg.DB),
		factory:   cfg.Factory,
		parser:    cfg.Parser,
		importer:  cfg.Importer,
		health:    cfg.Health,
		healer:    cfg.Healer,
		logger:    log,
		events:    logger.NewEventLogger(log),
		now:       now,
	}
}

// Run ingests every message of a mailbox matching criterion. The error is
// non-nil only when the cycle as a whole was aborted.
func (c *Cycle) Run(ctx context.Context, mailboxID uint, criterion fetcher.Criterion) (Report, error) {
	var report Report

	mailbox, err := c.loadMailbox(ctx, mailboxID)
	if err != nil {
		return report, err
	}
	log := c.logger.With(
		slog.Uint64("mailbox_id", uint64(mailbox.ID)),
		slog.String("mailbox", mailbox.Name),
		slog.String("account", mailbox.Account.MailAddress),
		slog.String("criterion", criterion.String()),
	)

	session, err := c.login(ctx, &mailbox.Account)
	if err != nil {
		return report, err
	}
	defer session.Close()

	handles, err := session.Search(ctx, mailbox.Name, criterion)
	if err != nil {
		return report, c.searchFailed(ctx, mailbox, err)
	}
	log.Info("ingestion cycle started", slog.Int("matches", len(handles)))

	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			log.Warn("ingestion cycle cancelled", slog.Any("report", report))
			return report, err
		}

		raw, err := session.Fetch(ctx, h)
		if err != nil {
			c.events.MessageSkipped(mailbox.ID, h.String(), "fetch", err)
			report.Skipped++
			continue
		}
		report.Fetched++

		msg, err := c.parser.Parse(raw)
		if err != nil {
			c.events.MessageSkipped(mailbox.ID, h.String(), "parse", err)
			report.Skipped++
			continue
		}

		result, err := c.importer.Import(ctx, mailbox, msg, raw)
		switch {
		case err == nil && result.Duplicate:
			report.Duplicates++
		case err == nil:
			report.Imported++
		case errors.Is(err, apperrors.ErrSpam):
			report.Skipped++
		case apperrors.IsMessageLevel(err):
			c.events.MessageSkipped(mailbox.ID, h.String(), "import", err)
			report.Failed++
		default:
			log.Error("ingestion cycle aborted", slog.Any("error", err))
			c.markMailboxUnhealthy(ctx, mailbox.ID, err)
			return report, err
		}
	}

	if err := c.health.MarkMailboxHealthy(ctx, mailbox.ID); err != nil {
		return report, err
	}
	log.Info("ingestion cycle finished",
		slog.Int("fetched", report.Fetched),
		slog.Int("imported", report.Imported),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

// RunDaemon runs the cycle a daemon describes and records the daemon's
// own health and run time
func (c *Cycle) RunDaemon(ctx context.Context, daemonID uint) (Report, error) {
	var daemon *models.Daemon
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		daemon, err = c.daemons.GetByID(ctx, daemonID)
		return err
	})
	if err != nil {
		return Report{}, err
	}

	startedAt := c.now()
	if err := c.run(ctx, func(ctx context.Context) error {
		return c.daemons.MarkRun(ctx, daemon.ID, startedAt)
	}); err != nil {
		return Report{}, err
	}

	criterion, err := fetcher.ParseCriterion(daemon.FetchingCriterion)
	if err != nil {
		c.markDaemonUnhealthy(ctx, daemon.ID, err)
		return Report{}, err
	}

	report, err := c.Run(ctx, daemon.MailboxID, criterion)
	if err != nil {
		if ctx.Err() == nil {
			c.markDaemonUnhealthy(ctx, daemon.ID, err)
		}
		return report, err
	}
	if err := c.health.MarkDaemonHealthy(ctx, daemon.ID); err != nil {
		return report, err
	}
	return report, nil
}

// MarkDaemonRun records now as the daemon's last run without running it
func (c *Cycle) MarkDaemonRun(ctx context.Context, daemonID uint) error {
	at := c.now()
	return c.run(ctx, func(ctx context.Context) error {
		return c.daemons.MarkRun(ctx, daemonID, at)
	})
}

// TestMailbox logs in and selects the mailbox without fetching anything,
// recording the outcome on the account and mailbox
func (c *Cycle) TestMailbox(ctx context.Context, mailboxID uint) error {
	mailbox, err := c.loadMailbox(ctx, mailboxID)
	if err != nil {
		return err
	}
	session, err := c.login(ctx, &mailbox.Account)
	if err != nil {
		return err
	}
	defer session.Close()

	if _, err := session.Search(ctx, mailbox.Name, fetcher.All); err != nil {
		return c.searchFailed(ctx, mailbox, err)
	}
	return c.health.MarkMailboxHealthy(ctx, mailbox.ID)
}

// DiscoverMailboxes lists the account's folders on the server and creates
// a mailbox for every folder not yet known. It returns the created ones.
func (c *Cycle) DiscoverMailboxes(ctx context.Context, accountID uint) ([]models.Mailbox, error) {
	var account *models.Account
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		account, err = c.accounts.GetByID(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}

	session, err := c.login(ctx, account)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	names, err := session.ListMailboxes(ctx)
	if err != nil {
		c.markAccountUnhealthy(ctx, account.ID, err)
		return nil, err
	}

	var existing []models.Mailbox
	if err := c.run(ctx, func(ctx context.Context) error {
		var err error
		existing, err = c.mailboxes.ListByAccount(ctx, account.ID)
		return err
	}); err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(existing))
	for _, m := range existing {
		known[m.Name] = true
	}

	var created []models.Mailbox
	for _, name := range names {
		if known[name] {
			continue
		}
		if err := validator.ValidateMailboxName(name); err != nil {
			c.logger.Warn("skipping server folder", slog.String("name", name), slog.Any("error", err))
			continue
		}
		m := models.Mailbox{AccountID: account.ID, Name: name, SaveAttachments: true}
		if err := c.run(ctx, func(ctx context.Context) error { return c.mailboxes.Create(ctx, &m) }); err != nil {
			return created, err
		}
		known[name] = true
		created = append(created, m)
	}
	c.logger.Info("mailboxes discovered",
		slog.String("account", account.MailAddress),
		slog.Int("listed", len(names)),
		slog.Int("created", len(created)),
	)
	return created, nil
}

func (c *Cycle) loadMailbox(ctx context.Context, id uint) (*models.Mailbox, error) {
	var mailbox *models.Mailbox
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		mailbox, err = c.mailboxes.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load mailbox %d: %w", id, err)
	}
	return mailbox, nil
}

// login opens an authenticated session and records the account's health
func (c *Cycle) login(ctx context.Context, account *models.Account) (fetcher.Fetcher, error) {
	session, err := c.factory(account)
	if err != nil {
		c.markAccountUnhealthy(ctx, account.ID, err)
		return nil, err
	}
	if err := session.Login(ctx, fetcher.CredentialsFor(account)); err != nil {
		session.Close()
		if apperrors.IsAuthentication(err) {
			c.events.AuthFailure(account.MailAddress, account.MailHost, err.Error())
		}
		if ctx.Err() == nil {
			c.markAccountUnhealthy(ctx, account.ID, err)
		}
		return nil, err
	}
	if err := c.health.MarkAccountHealthy(ctx, account.ID); err != nil {
		session.Close()
		return nil, err
	}
	return session, nil
}

// searchFailed blames the mailbox when the server rejected the folder and
// the account for anything else
func (c *Cycle) searchFailed(ctx context.Context, mailbox *models.Mailbox, err error) error {
	switch {
	case ctx.Err() != nil:
	case errors.Is(err, apperrors.ErrUnsupportedCriterion):
	case errors.Is(err, apperrors.ErrMailbox):
		c.markMailboxUnhealthy(ctx, mailbox.ID, err)
	default:
		c.markAccountUnhealthy(ctx, mailbox.AccountID, err)
	}
	return err
}

func (c *Cycle) markAccountUnhealthy(ctx context.Context, id uint, cause error) {
	if err := c.health.MarkAccountUnhealthy(ctx, id, cause.Error()); err != nil {
		c.logger.Error("failed to record account health", slog.Uint64("account_id", uint64(id)), slog.Any("error", err))
	}
}

func (c *Cycle) markMailboxUnhealthy(ctx context.Context, id uint, cause error) {
	if err := c.health.MarkMailboxUnhealthy(ctx, id, cause.Error()); err != nil {
		c.logger.Error("failed to record mailbox health", slog.Uint64("mailbox_id", uint64(id)), slog.Any("error", err))
	}
}

func (c *Cycle) markDaemonUnhealthy(ctx context.Context, id uint, cause error) {
	if err := c.health.MarkDaemonUnhealthy(ctx, id, cause.Error()); err != nil {
		c.logger.Error("failed to record daemon health", slog.Uint64("daemon_id", uint64(id)), slog.Any("error", err))
	}
}

func (c *Cycle) run(ctx context.Context, op healer.Op) error {
	if c.healer == nil {
		return op(ctx)
	}
	return c.healer.Do(ctx, op)
}
