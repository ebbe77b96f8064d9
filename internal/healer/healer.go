// Package healer retries operations across lost database connections.
//
// An operation that fails with a connection-level error blocks while the
// probe is retried at a fixed interval; once the probe succeeds the same
// operation is run again. Callers observe latency, not disconnects.
package healer

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
)

// DefaultInterval is the fixed wait between reconnect probes
const DefaultInterval = 5 * time.Second

// Op is a unit of work that may touch the connection
type Op func(ctx context.Context) error

// Probe checks whether the connection is usable again
type Probe func(ctx context.Context) error

// Policy decides which errors qualify for a reconnect and how long to try.
// MaxAttempts of zero retries the probe until ctx is done.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Retryable   func(error) bool
}

// DefaultPolicy retries connection errors forever every DefaultInterval
func DefaultPolicy() Policy {
	return Policy{
		Interval:  DefaultInterval,
		Retryable: IsConnectionError,
	}
}

// Healer runs operations under a Policy
type Healer struct {
	policy Policy
	probe  Probe
	logger *slog.Logger
}

// New creates a Healer. A nil Retryable falls back to IsConnectionError.
func New(probe Probe, policy Policy, logger *slog.Logger) *Healer {
	if policy.Interval <= 0 {
		policy.Interval = DefaultInterval
	}
	if policy.Retryable == nil {
		policy.Retryable = IsConnectionError
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{policy: policy, probe: probe, logger: logger}
}

// Policy returns the active policy
func (h *Healer) Policy() Policy {
	return h.policy
}

// Do runs op, reconnecting and re-running it while it fails with a
// retryable error. Other errors are returned unchanged.
func (h *Healer) Do(ctx context.Context, op Op) error {
	for {
		err := op(ctx)
		if err == nil || !h.policy.Retryable(err) {
			return err
		}

		h.logger.Warn("connection lost, waiting for reconnect",
			slog.Any("error", err),
			slog.Duration("interval", h.policy.Interval),
		)

		if rerr := h.reconnect(ctx); rerr != nil {
			return fmt.Errorf("%w: %v (last error: %v)", apperrors.ErrConnection, rerr, err)
		}

		h.logger.Info("connection restored, resuming operation")
	}
}

// Run is Do for operations that return a value
func Run[T any](ctx context.Context, h *Healer, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := h.Do(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

func (h *Healer) reconnect(ctx context.Context) error {
	var b backoff.BackOff = backoff.NewConstantBackOff(h.policy.Interval)
	if h.policy.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(h.policy.MaxAttempts-1))
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		if err := h.probe(ctx); err != nil {
			h.logger.Debug("reconnect probe failed", slog.Int("attempt", attempt), slog.Any("error", err))
			return err
		}
		return nil
	}, backoff.WithContext(b, ctx))
}

var connectionErrorTexts = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"server closed the connection",
	"database is closed",
	"no connection to the server",
	"terminating connection",
	"i/o timeout",
	"unexpected eof",
}

// IsConnectionError reports whether err means the connection itself is gone
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, apperrors.ErrConnection) {
		return true
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, text := range connectionErrorTexts {
		if strings.Contains(msg, text) {
			return true
		}
	}
	return false
}
