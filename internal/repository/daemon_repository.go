package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
)

// DaemonRepository defines the interface for daemon data access
type DaemonRepository interface {
	Create(ctx context.Context, daemon *models.Daemon) error
	GetByID(ctx context.Context, id uint) (*models.Daemon, error)
	ListByMailbox(ctx context.Context, mailboxID uint) ([]models.Daemon, error)
	List(ctx context.Context) ([]models.Daemon, error)
	UpdateHealth(ctx context.Context, id uint, health models.Health) error
	MarkRun(ctx context.Context, id uint, at time.Time) error
}

// daemonRepository implements DaemonRepository using GORM
type daemonRepository struct {
	db *gorm.DB
}

// NewDaemonRepository creates a new DaemonRepository instance
func NewDaemonRepository(db *gorm.DB) DaemonRepository {
	return &daemonRepository{db: db}
}

// Create creates a new daemon
func (r *daemonRepository) Create(ctx context.Context, daemon *models.Daemon) error {
	if err := r.db.WithContext(ctx).Create(daemon).Error; err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	return nil
}

// GetByID retrieves a daemon with its mailbox and account
func (r *daemonRepository) GetByID(ctx context.Context, id uint) (*models.Daemon, error) {
	var daemon models.Daemon
	result := r.db.WithContext(ctx).Preload("Mailbox.Account").First(&daemon, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get daemon by ID: %w", result.Error)
	}
	return &daemon, nil
}

// ListByMailbox retrieves the daemons of a mailbox ordered by id
func (r *daemonRepository) ListByMailbox(ctx context.Context, mailboxID uint) ([]models.Daemon, error) {
	var daemons []models.Daemon
	result := r.db.WithContext(ctx).Where("mailbox_id = ?", mailboxID).Order("id ASC").Find(&daemons)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list daemons: %w", result.Error)
	}
	return daemons, nil
}

// List retrieves every daemon ordered by id
func (r *daemonRepository) List(ctx context.Context) ([]models.Daemon, error) {
	var daemons []models.Daemon
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&daemons).Error; err != nil {
		return nil, fmt.Errorf("failed to list daemons: %w", err)
	}
	return daemons, nil
}

// UpdateHealth overwrites the daemon's health columns
func (r *daemonRepository) UpdateHealth(ctx context.Context, id uint, health models.Health) error {
	return updateHealth(ctx, r.db, &models.Daemon{}, id, health)
}

// MarkRun records when a daemon last started a cycle
func (r *daemonRepository) MarkRun(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.Daemon{}).Where("id = ?", id).Update("last_run_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to mark daemon run: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
