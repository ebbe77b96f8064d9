package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/storage"
	"gorm.io/gorm"
)

// BlobDeleter removes a stored file by its shard-relative path
type BlobDeleter interface {
	Delete(ctx context.Context, path string) error
}

// AttachmentRepository defines the interface for attachment data access
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	GetByID(ctx context.Context, id uint) (*models.Attachment, error)
	ListByEmail(ctx context.Context, emailID uint) ([]models.Attachment, error)
	Delete(ctx context.Context, id uint) error
	DeleteByEmail(ctx context.Context, emailID uint) error
}

// attachmentRepository implements AttachmentRepository using GORM
type attachmentRepository struct {
	db    *gorm.DB
	blobs BlobDeleter
}

// NewAttachmentRepository creates a new AttachmentRepository instance
func NewAttachmentRepository(db *gorm.DB, blobs BlobDeleter) AttachmentRepository {
	return &attachmentRepository{
		db:    db,
		blobs: blobs,
	}
}

// Create creates a new attachment record
func (r *attachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	result := r.db.WithContext(ctx).Omit("Email").Create(attachment)
	if result.Error != nil {
		return fmt.Errorf("failed to create attachment: %w", result.Error)
	}
	return nil
}

// GetByID retrieves an attachment by its ID
func (r *attachmentRepository) GetByID(ctx context.Context, id uint) (*models.Attachment, error) {
	var attachment models.Attachment
	result := r.db.WithContext(ctx).First(&attachment, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attachment by ID: %w", result.Error)
	}
	return &attachment, nil
}

// ListByEmail retrieves all attachments of an email in part order
func (r *attachmentRepository) ListByEmail(ctx context.Context, emailID uint) ([]models.Attachment, error) {
	var attachments []models.Attachment
	result := r.db.WithContext(ctx).Where("email_id = ?", emailID).Order("id ASC").Find(&attachments)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", result.Error)
	}
	return attachments, nil
}

// Delete removes an attachment row and its stored file
func (r *attachmentRepository) Delete(ctx context.Context, id uint) error {
	attachment, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return r.delete(ctx, []models.Attachment{*attachment})
}

// DeleteByEmail removes every attachment of an email and their files
func (r *attachmentRepository) DeleteByEmail(ctx context.Context, emailID uint) error {
	attachments, err := r.ListByEmail(ctx, emailID)
	if err != nil {
		return err
	}
	return r.delete(ctx, attachments)
}

// delete removes rows before files so no row ever points at a missing file
func (r *attachmentRepository) delete(ctx context.Context, attachments []models.Attachment) error {
	if len(attachments) == 0 {
		return nil
	}
	ids := make([]uint, len(attachments))
	for i, a := range attachments {
		ids[i] = a.ID
	}
	if err := r.db.WithContext(ctx).Delete(&models.Attachment{}, ids).Error; err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}

	for _, a := range attachments {
		if a.FilePath == nil || r.blobs == nil {
			continue
		}
		if err := r.blobs.Delete(ctx, *a.FilePath); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
			return fmt.Errorf("failed to delete attachment file: %w", err)
		}
	}
	return nil
}
