package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmailRepository defines the interface for email data access
type EmailRepository interface {
	// CreateIfAbsent inserts email unless its message-id is already stored.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, email *models.Email) (bool, error)
	GetByID(ctx context.Context, id uint) (*models.Email, error)
	GetByMessageID(ctx context.Context, messageID string) (*models.Email, error)
	CountByMailbox(ctx context.Context, mailboxID uint) (int64, error)
	LinkReplies(ctx context.Context, parent *models.Email) (int64, error)
}

// emailRepository implements EmailRepository using GORM
type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository creates a new EmailRepository instance. db may be a
// transaction.
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

// CreateIfAbsent relies on ON CONFLICT DO NOTHING so a concurrent duplicate
// never aborts a surrounding postgres transaction
func (r *emailRepository) CreateIfAbsent(ctx context.Context, email *models.Email) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Omit(clause.Associations).
		Create(email)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create email: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetByID retrieves an email with attachments and correspondents
func (r *emailRepository) GetByID(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	result := r.db.WithContext(ctx).
		Preload("Attachments").
		Preload("Correspondents.Correspondent").
		First(&email, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email by ID: %w", result.Error)
	}
	return &email, nil
}

// GetByMessageID retrieves an email by its message-id
func (r *emailRepository) GetByMessageID(ctx context.Context, messageID string) (*models.Email, error) {
	var email models.Email
	result := r.db.WithContext(ctx).Where("message_id = ?", messageID).First(&email)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get email by message-id: %w", result.Error)
	}
	return &email, nil
}

// CountByMailbox counts the emails archived from a mailbox
func (r *emailRepository) CountByMailbox(ctx context.Context, mailboxID uint) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.Email{}).Where("mailbox_id = ?", mailboxID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count emails: %w", result.Error)
	}
	return count, nil
}

// LinkReplies points earlier-archived replies at parent. Candidates are
// narrowed with a LIKE on the JSON column and confirmed in Go, which keeps
// the query portable between postgres and sqlite.
func (r *emailRepository) LinkReplies(ctx context.Context, parent *models.Email) (int64, error) {
	var candidates []models.Email
	result := r.db.WithContext(ctx).
		Select("id", "in_reply_to").
		Where("in_reply_to_email_id IS NULL AND id <> ? AND CAST(in_reply_to AS TEXT) LIKE ?", parent.ID, "%"+parent.MessageID+"%").
		Find(&candidates)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to find replies: %w", result.Error)
	}

	var ids []uint
	for _, c := range candidates {
		for _, id := range c.InReplyTo {
			if id == parent.MessageID {
				ids = append(ids, c.ID)
				break
			}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result = r.db.WithContext(ctx).Model(&models.Email{}).Where("id IN ?", ids).Update("in_reply_to_email_id", parent.ID)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to link replies: %w", result.Error)
	}
	return result.RowsAffected, nil
}
