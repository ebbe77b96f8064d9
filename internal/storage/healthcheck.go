package storage

import (
	"context"
	"fmt"
	"os"

	"github.com/welldanyogia/mailarchive/internal/models"
)

// Integrity checks run by Check
const (
	CheckCurrentShard = "current_shard"
	CheckDirectories  = "shard_directories"
	CheckLooseFiles   = "loose_files"
)

// Violation is one broken storage invariant
type Violation struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

// Check verifies that at most one shard is current, that every top-level
// directory has a shard row and that no file sits directly in the root.
// It never repairs anything.
func (s *ShardedStore) Check(ctx context.Context) ([]Violation, error) {
	var violations []Violation

	var current int64
	if err := s.db.WithContext(ctx).Model(&models.StorageShard{}).
		Where("is_current = ?", true).
		Count(&current).Error; err != nil {
		return nil, fmt.Errorf("failed to count current shards: %w", err)
	}
	if current > 1 {
		violations = append(violations, Violation{
			Check:  CheckCurrentShard,
			Detail: fmt.Sprintf("%d shards are marked current", current),
		})
	}

	var rows int64
	if err := s.db.WithContext(ctx).Model(&models.StorageShard{}).Count(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to count shards: %w", err)
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root: %w", err)
	}

	var dirs, files int
	for _, entry := range entries {
		if entry.IsDir() {
			dirs++
		} else {
			files++
		}
	}

	if int64(dirs) != rows {
		violations = append(violations, Violation{
			Check:  CheckDirectories,
			Detail: fmt.Sprintf("%d directories on disk, %d shard rows", dirs, rows),
		})
	}
	if files > 0 {
		violations = append(violations, Violation{
			Check:  CheckLooseFiles,
			Detail: fmt.Sprintf("%d files outside any shard", files),
		})
	}

	return violations, nil
}

// Healthcheck runs Check and logs every violation at critical level
func (s *ShardedStore) Healthcheck(ctx context.Context) bool {
	violations, err := s.Check(ctx)
	if err != nil {
		s.events.StorageIntegrityViolation("healthcheck", err.Error())
		return false
	}
	for _, v := range violations {
		s.events.StorageIntegrityViolation(v.Check, v.Detail)
	}
	return len(violations) == 0
}
