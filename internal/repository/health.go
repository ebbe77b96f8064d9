package repository

import (
	"context"
	"fmt"

	"github.com/welldanyogia/mailarchive/internal/models"
	"gorm.io/gorm"
)

// updateHealth writes all three health columns, including zero values
func updateHealth(ctx context.Context, db *gorm.DB, model any, id uint, h models.Health) error {
	result := db.WithContext(ctx).Model(model).Where("id = ?", id).Updates(map[string]any{
		"is_healthy":    h.IsHealthy,
		"last_error":    h.LastError,
		"last_error_at": h.LastErrorAt,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update health: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
