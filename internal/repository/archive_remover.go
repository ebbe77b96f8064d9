package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
)

// RawRemover deletes an archived .eml file by name
type RawRemover interface {
	Remove(name string) error
}

// ArchiveRemover deletes emails and mailboxes together with the files they
// own. Deleting those rows directly lets the database cascade drop the
// attachment rows while their files and shard counts stay behind.
type ArchiveRemover struct {
	db    *gorm.DB
	blobs BlobDeleter
	raw   RawRemover
}

// NewArchiveRemover creates a remover; raw may be nil
func NewArchiveRemover(db *gorm.DB, blobs BlobDeleter, raw RawRemover) *ArchiveRemover {
	return &ArchiveRemover{db: db, blobs: blobs, raw: raw}
}

// DeleteEmail removes an email, its attachment files and its raw message
func (r *ArchiveRemover) DeleteEmail(ctx context.Context, id uint) error {
	var email models.Email
	if err := r.db.WithContext(ctx).Select("id", "eml_file_path").First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get email by ID: %w", err)
	}
	return r.deleteEmail(ctx, email)
}

// DeleteMailbox removes a mailbox after deleting each of its emails' files.
// The remaining rows (daemons, correspondent links) go with the cascade.
func (r *ArchiveRemover) DeleteMailbox(ctx context.Context, id uint) error {
	if _, err := NewMailboxRepository(r.db).GetByID(ctx, id); err != nil {
		return err
	}

	var emails []models.Email
	if err := r.db.WithContext(ctx).Select("id", "eml_file_path").Where("mailbox_id = ?", id).Find(&emails).Error; err != nil {
		return fmt.Errorf("failed to list mailbox emails: %w", err)
	}
	for _, email := range emails {
		if err := r.deleteEmail(ctx, email); err != nil {
			return err
		}
	}

	if err := r.db.WithContext(ctx).Delete(&models.Mailbox{}, id).Error; err != nil {
		return fmt.Errorf("failed to delete mailbox: %w", err)
	}
	return nil
}

func (r *ArchiveRemover) deleteEmail(ctx context.Context, email models.Email) error {
	if err := NewAttachmentRepository(r.db, r.blobs).DeleteByEmail(ctx, email.ID); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Delete(&models.Email{}, email.ID).Error; err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	if email.EMLFilePath != nil && r.raw != nil {
		if err := r.raw.Remove(*email.EMLFilePath); err != nil {
			return fmt.Errorf("failed to delete raw message: %w", err)
		}
	}
	return nil
}
