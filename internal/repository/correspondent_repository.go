package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CorrespondentRepository defines the interface for correspondent data access
type CorrespondentRepository interface {
	// Upsert stores c keyed by address and sets c.ID. An existing name is
	// never replaced by a blank one; a stored mailing-list descriptor is
	// filled in when the new one has it.
	Upsert(ctx context.Context, c *models.Correspondent) error
	GetByAddress(ctx context.Context, address string) (*models.Correspondent, error)
}

// correspondentRepository implements CorrespondentRepository using GORM
type correspondentRepository struct {
	db *gorm.DB
}

// NewCorrespondentRepository creates a new CorrespondentRepository instance
func NewCorrespondentRepository(db *gorm.DB) CorrespondentRepository {
	return &correspondentRepository{db: db}
}

func (r *correspondentRepository) Upsert(ctx context.Context, c *models.Correspondent) error {
	if c.EmailAddress == "" {
		return fmt.Errorf("%w: correspondent address is empty", ErrInvalidInput)
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email_address"}}, DoNothing: true}).
		Create(c)
	if result.Error != nil {
		return fmt.Errorf("failed to create correspondent: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	existing, err := r.GetByAddress(ctx, c.EmailAddress)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if existing.EmailName == "" && c.EmailName != "" {
		updates["email_name"] = c.EmailName
	}
	if existing.ListID == "" && c.ListID != "" {
		updates["list_id"] = c.ListID
		updates["list_owner"] = c.ListOwner
		updates["list_subscribe"] = c.ListSubscribe
		updates["list_unsubscribe"] = c.ListUnsubscribe
		updates["list_unsubscribe_post"] = c.ListUnsubscribePost
		updates["list_post"] = c.ListPost
		updates["list_help"] = c.ListHelp
		updates["list_archive"] = c.ListArchive
	}
	if len(updates) > 0 {
		if err := r.db.WithContext(ctx).Model(existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update correspondent: %w", err)
		}
	}

	c.ID = existing.ID
	if c.EmailName == "" {
		c.EmailName = existing.EmailName
	}
	return nil
}

// GetByAddress retrieves a correspondent by address
func (r *correspondentRepository) GetByAddress(ctx context.Context, address string) (*models.Correspondent, error) {
	var c models.Correspondent
	result := r.db.WithContext(ctx).Where("email_address = ?", address).First(&c)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get correspondent: %w", result.Error)
	}
	return &c, nil
}

// EmailCorrespondentRepository defines the interface for role links
type EmailCorrespondentRepository interface {
	// Link records a role; an existing identical triple is left alone
	Link(ctx context.Context, emailID, correspondentID uint, mention models.Mention) error
	ListByEmail(ctx context.Context, emailID uint) ([]models.EmailCorrespondent, error)
}

// emailCorrespondentRepository implements EmailCorrespondentRepository using GORM
type emailCorrespondentRepository struct {
	db *gorm.DB
}

// NewEmailCorrespondentRepository creates a new EmailCorrespondentRepository instance
func NewEmailCorrespondentRepository(db *gorm.DB) EmailCorrespondentRepository {
	return &emailCorrespondentRepository{db: db}
}

func (r *emailCorrespondentRepository) Link(ctx context.Context, emailID, correspondentID uint, mention models.Mention) error {
	link := &models.EmailCorrespondent{EmailID: emailID, CorrespondentID: correspondentID, Mention: mention}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email_id"}, {Name: "correspondent_id"}, {Name: "mention"}},
			DoNothing: true,
		}).
		Omit(clause.Associations).
		Create(link).Error
	if err != nil {
		return fmt.Errorf("failed to link correspondent: %w", err)
	}
	return nil
}

// ListByEmail retrieves the role links of an email with their correspondents
func (r *emailCorrespondentRepository) ListByEmail(ctx context.Context, emailID uint) ([]models.EmailCorrespondent, error) {
	var links []models.EmailCorrespondent
	result := r.db.WithContext(ctx).
		Preload("Correspondent").
		Where("email_id = ?", emailID).
		Order("id ASC").
		Find(&links)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list correspondents: %w", result.Error)
	}
	return links, nil
}
