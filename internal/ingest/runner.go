package ingest

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/welldanyogia/mailarchive/internal/fetcher"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"golang.org/x/sync/singleflight"
)

// Runner serializes cycles per mailbox. A call for a mailbox whose cycle is
// already running waits for it and shares its report instead of starting
// a second session.
type Runner struct {
	cycle  *Cycle
	group  singleflight.Group
	logger *slog.Logger
}

// NewRunner wraps cycle
func NewRunner(cycle *Cycle, log *slog.Logger) *Runner {
	return &Runner{cycle: cycle, logger: logger.OrDefault(log)}
}

// Run runs a mailbox cycle unless one is in flight
func (r *Runner) Run(ctx context.Context, mailboxID uint, criterion fetcher.Criterion) (Report, error) {
	return r.do(mailboxKey(mailboxID), func() (Report, error) {
		return r.cycle.Run(ctx, mailboxID, criterion)
	})
}

// RunDaemon runs a daemon's cycle unless one is in flight for its mailbox.
// A daemon that joins another daemon's cycle shares its report and only has
// its run time recorded; its own criterion and health are left for its
// next turn.
func (r *Runner) RunDaemon(ctx context.Context, mailboxID, daemonID uint) (Report, error) {
	led := false
	report, err := r.do(mailboxKey(mailboxID), func() (Report, error) {
		led = true
		return r.cycle.RunDaemon(ctx, daemonID)
	})
	if !led {
		r.logger.Info("daemon joined a cycle already running on its mailbox",
			slog.Uint64("daemon_id", uint64(daemonID)),
			slog.Uint64("mailbox_id", uint64(mailboxID)))
		if markErr := r.cycle.MarkDaemonRun(ctx, daemonID); markErr != nil {
			r.logger.Warn("failed to record daemon run",
				slog.Uint64("daemon_id", uint64(daemonID)),
				slog.Any("error", markErr))
		}
	}
	return report, err
}

// TestMailbox checks that a mailbox can be logged into and searched
func (r *Runner) TestMailbox(ctx context.Context, mailboxID uint) error {
	return r.cycle.TestMailbox(ctx, mailboxID)
}

// DiscoverMailboxes records the server's folders for an account
func (r *Runner) DiscoverMailboxes(ctx context.Context, accountID uint) ([]models.Mailbox, error) {
	return r.cycle.DiscoverMailboxes(ctx, accountID)
}

func (r *Runner) do(key string, fn func() (Report, error)) (Report, error) {
	v, err, shared := r.group.Do(key, func() (any, error) {
		return fn()
	})
	if shared {
		r.logger.Debug("joined running ingestion cycle", slog.String("key", key))
	}
	report, _ := v.(Report)
	return report, err
}

func mailboxKey(id uint) string {
	return "mailbox:" + strconv.FormatUint(uint64(id), 10)
}
