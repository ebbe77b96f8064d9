// Package health records health transitions of accounts, mailboxes and
// daemons and propagates failures downward.
//
// Every Mark call writes the entity's own flag. Subscribers run, in the
// order they were registered, only when the stored state actually changes.
// The built-in cascades force an unhealthy account's mailboxes unhealthy
// and an unhealthy mailbox's daemons unhealthy. Nothing ever heals a
// parent: recovery is reported by each entity's own successful run.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/healer"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/repository"
	"gorm.io/gorm"
)

// Kind names the entity a Change is about
type Kind string

const (
	KindAccount Kind = "account"
	KindMailbox Kind = "mailbox"
	KindDaemon  Kind = "daemon"
)

// Change is one stored health transition
type Change struct {
	Kind     Kind
	ID       uint
	From     models.HealthState
	To       models.HealthState
	Error    string
	At       time.Time
	Cascaded bool
}

// Subscriber reacts to a Change. An error stops the remaining subscribers
// and is returned from the Mark call.
type Subscriber interface {
	HealthChanged(ctx context.Context, chain *Chain, change Change) error
}

// SubscriberFunc adapts a function to Subscriber
type SubscriberFunc func(ctx context.Context, chain *Chain, change Change) error

// HealthChanged calls f
func (f SubscriberFunc) HealthChanged(ctx context.Context, chain *Chain, change Change) error {
	return f(ctx, chain, change)
}

// Config holds the collaborators of a Chain
type Config struct {
	DB     *gorm.DB
	Healer *healer.Healer
	Logger *slog.Logger
	Now    func() time.Time
}

// Chain owns the health columns and the ordered subscriber list
type Chain struct {
	accounts    repository.AccountRepository
	mailboxes   repository.MailboxRepository
	daemons     repository.DaemonRepository
	healer      *healer.Healer
	logger      *slog.Logger
	now         func() time.Time
	mu          sync.RWMutex
	subscribers []Subscriber
}

// New creates a Chain with the account and mailbox cascades registered first
func New(cfg *Config) *Chain {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	c := &Chain{
		accounts:  repository.NewAccountRepository(cfg.DB),
		mailboxes: repository.NewMailboxRepository(cfg.DB),
		daemons:   repository.NewDaemonRepository(cfg.DB),
		healer:    cfg.Healer,
		logger:    logger.OrDefault(cfg.Logger),
		now:       now,
	}
	c.Subscribe(SubscriberFunc(cascadeToMailboxes))
	c.Subscribe(SubscriberFunc(cascadeToDaemons))
	return c
}

// Subscribe appends s; it runs after every subscriber registered before it
func (c *Chain) Subscribe(s Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, s)
}

// MarkAccountHealthy records a successful account operation
func (c *Chain) MarkAccountHealthy(ctx context.Context, id uint) error {
	return c.markHealthy(ctx, KindAccount, id)
}

// MarkAccountUnhealthy records a failed account operation and cascades
func (c *Chain) MarkAccountUnhealthy(ctx context.Context, id uint, reason string) error {
	return c.markUnhealthy(ctx, KindAccount, id, reason, false)
}

// MarkMailboxHealthy records a successful mailbox operation. It fails with
// ErrParentUnhealthy while the account is unhealthy.
func (c *Chain) MarkMailboxHealthy(ctx context.Context, id uint) error {
	return c.markHealthy(ctx, KindMailbox, id)
}

// MarkMailboxUnhealthy records a failed mailbox operation and cascades
func (c *Chain) MarkMailboxUnhealthy(ctx context.Context, id uint, reason string) error {
	return c.markUnhealthy(ctx, KindMailbox, id, reason, false)
}

// MarkDaemonHealthy records a successful daemon run. It fails with
// ErrParentUnhealthy while the mailbox is unhealthy.
func (c *Chain) MarkDaemonHealthy(ctx context.Context, id uint) error {
	return c.markHealthy(ctx, KindDaemon, id)
}

// MarkDaemonUnhealthy records a failed daemon run
func (c *Chain) MarkDaemonUnhealthy(ctx context.Context, id uint, reason string) error {
	return c.markUnhealthy(ctx, KindDaemon, id, reason, false)
}

func (c *Chain) markHealthy(ctx context.Context, kind Kind, id uint) error {
	current, parent, err := c.load(ctx, kind, id)
	if err != nil {
		return err
	}
	if parent != nil && parent.Unhealthy() {
		return fmt.Errorf("%w: %s %d", apperrors.ErrParentUnhealthy, kind, id)
	}

	healthy := true
	next := models.Health{IsHealthy: &healthy, LastError: current.LastError, LastErrorAt: current.LastErrorAt}
	if err := c.store(ctx, kind, id, next); err != nil {
		return err
	}
	if current.State() == models.HealthHealthy {
		return nil
	}
	return c.publish(ctx, Change{Kind: kind, ID: id, From: current.State(), To: models.HealthHealthy, At: c.now()})
}

func (c *Chain) markUnhealthy(ctx context.Context, kind Kind, id uint, reason string, cascaded bool) error {
	current, _, err := c.load(ctx, kind, id)
	if err != nil {
		return err
	}

	healthy := false
	at := c.now()
	next := models.Health{IsHealthy: &healthy, LastError: reason, LastErrorAt: &at}
	if err := c.store(ctx, kind, id, next); err != nil {
		return err
	}
	if current.State() == models.HealthUnhealthy {
		return nil
	}
	return c.publish(ctx, Change{
		Kind: kind, ID: id,
		From: current.State(), To: models.HealthUnhealthy,
		Error: reason, At: at, Cascaded: cascaded,
	})
}

func (c *Chain) publish(ctx context.Context, change Change) error {
	level := slog.LevelInfo
	if change.To == models.HealthUnhealthy {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "health changed",
		slog.String("kind", string(change.Kind)),
		slog.Uint64("id", uint64(change.ID)),
		slog.String("from", string(change.From)),
		slog.String("to", string(change.To)),
		slog.String("error", change.Error),
		slog.Bool("cascaded", change.Cascaded),
	)

	c.mu.RLock()
	subscribers := append([]Subscriber(nil), c.subscribers...)
	c.mu.RUnlock()

	for _, s := range subscribers {
		if err := s.HealthChanged(ctx, c, change); err != nil {
			return err
		}
	}
	return nil
}

// load returns the stored health of an entity and of its parent, if any
func (c *Chain) load(ctx context.Context, kind Kind, id uint) (models.Health, *models.Health, error) {
	var (
		own    models.Health
		parent *models.Health
	)
	err := c.run(ctx, func(ctx context.Context) error {
		switch kind {
		case KindAccount:
			a, err := c.accounts.GetByID(ctx, id)
			if err != nil {
				return err
			}
			own = a.Health
		case KindMailbox:
			m, err := c.mailboxes.GetByID(ctx, id)
			if err != nil {
				return err
			}
			own, parent = m.Health, &m.Account.Health
		case KindDaemon:
			d, err := c.daemons.GetByID(ctx, id)
			if err != nil {
				return err
			}
			own, parent = d.Health, &d.Mailbox.Health
		default:
			return fmt.Errorf("%w: unknown health kind %q", apperrors.ErrInvalidInput, kind)
		}
		return nil
	})
	return own, parent, err
}

func (c *Chain) store(ctx context.Context, kind Kind, id uint, h models.Health) error {
	return c.run(ctx, func(ctx context.Context) error {
		switch kind {
		case KindAccount:
			return c.accounts.UpdateHealth(ctx, id, h)
		case KindMailbox:
			return c.mailboxes.UpdateHealth(ctx, id, h)
		default:
			return c.daemons.UpdateHealth(ctx, id, h)
		}
	})
}

func (c *Chain) run(ctx context.Context, op healer.Op) error {
	if c.healer == nil {
		return op(ctx)
	}
	return c.healer.Do(ctx, op)
}

// cascadeToMailboxes forces every mailbox of a failed account unhealthy
func cascadeToMailboxes(ctx context.Context, c *Chain, change Change) error {
	if change.Kind != KindAccount || change.To != models.HealthUnhealthy {
		return nil
	}
	var mailboxes []models.Mailbox
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		mailboxes, err = c.mailboxes.ListByAccount(ctx, change.ID)
		return err
	})
	if err != nil {
		return err
	}
	for _, m := range mailboxes {
		if err := c.markUnhealthy(ctx, KindMailbox, m.ID, change.Error, true); err != nil {
			return err
		}
	}
	return nil
}

// cascadeToDaemons forces every daemon of a failed mailbox unhealthy
func cascadeToDaemons(ctx context.Context, c *Chain, change Change) error {
	if change.Kind != KindMailbox || change.To != models.HealthUnhealthy {
		return nil
	}
	var daemons []models.Daemon
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		daemons, err = c.daemons.ListByMailbox(ctx, change.ID)
		return err
	})
	if err != nil {
		return err
	}
	for _, d := range daemons {
		if err := c.markUnhealthy(ctx, KindDaemon, d.ID, change.Error, true); err != nil {
			return err
		}
	}
	return nil
}
