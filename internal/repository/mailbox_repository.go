package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
)

// MailboxRepository defines the interface for mailbox data access
type MailboxRepository interface {
	Create(ctx context.Context, mailbox *models.Mailbox) error
	GetByID(ctx context.Context, id uint) (*models.Mailbox, error)
	ListByAccount(ctx context.Context, accountID uint) ([]models.Mailbox, error)
	UpdateHealth(ctx context.Context, id uint, health models.Health) error
}

// mailboxRepository implements MailboxRepository using GORM
type mailboxRepository struct {
	db *gorm.DB
}

// NewMailboxRepository creates a new MailboxRepository instance
func NewMailboxRepository(db *gorm.DB) MailboxRepository {
	return &mailboxRepository{db: db}
}

// Create creates a new mailbox
func (r *mailboxRepository) Create(ctx context.Context, mailbox *models.Mailbox) error {
	if err := r.db.WithContext(ctx).Create(mailbox).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEntry
		}
		return fmt.Errorf("failed to create mailbox: %w", err)
	}
	return nil
}

// GetByID retrieves a mailbox with its account
func (r *mailboxRepository) GetByID(ctx context.Context, id uint) (*models.Mailbox, error) {
	var mailbox models.Mailbox
	result := r.db.WithContext(ctx).Preload("Account").First(&mailbox, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get mailbox by ID: %w", result.Error)
	}
	return &mailbox, nil
}

// ListByAccount retrieves the mailboxes of an account ordered by id
func (r *mailboxRepository) ListByAccount(ctx context.Context, accountID uint) ([]models.Mailbox, error) {
	var mailboxes []models.Mailbox
	result := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id ASC").Find(&mailboxes)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", result.Error)
	}
	return mailboxes, nil
}

// UpdateHealth overwrites the mailbox's health columns
func (r *mailboxRepository) UpdateHealth(ctx context.Context, id uint, health models.Health) error {
	return updateHealth(ctx, r.db, &models.Mailbox{}, id, health)
}
