package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/welldanyogia/mailarchive/internal/errors"
	"github.com/welldanyogia/mailarchive/internal/logger"
	"github.com/welldanyogia/mailarchive/internal/models"
	"github.com/welldanyogia/mailarchive/internal/validator"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Security errors
var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrFileNotFound  = errors.New("file not found")
)

// DefaultMaxFilesPerDir bounds a shard when no limit is configured
const DefaultMaxFilesPerDir = 10000

// maxShardCreateAttempts bounds identifier regeneration on directory collisions
const maxShardCreateAttempts = 16

// Config for a ShardedStore
type Config struct {
	Root           string
	MaxFilesPerDir int
	Logger         *slog.Logger
}

// ShardedStore keeps files in bounded directories tracked by StorageShard
// rows. Shard metadata is transactional, the files are not.
type ShardedStore struct {
	root     string
	maxFiles int
	db       *gorm.DB
	logger   *slog.Logger
	events   *logger.EventLogger
	newID    func() string
}

// NewShardedStore creates the storage root if needed
func NewShardedStore(db *gorm.DB, cfg Config) (*ShardedStore, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if cfg.MaxFilesPerDir <= 0 {
		cfg.MaxFilesPerDir = DefaultMaxFilesPerDir
	}

	log := logger.OrDefault(cfg.Logger)
	return &ShardedStore{
		root:     cfg.Root,
		maxFiles: cfg.MaxFilesPerDir,
		db:       db,
		logger:   log,
		events:   logger.NewEventLogger(log),
		newID:    uuid.NewString,
	}, nil
}

// Root returns the storage root directory
func (s *ShardedStore) Root() string {
	return s.root
}

// MaxFilesPerDir returns the shard capacity
func (s *ShardedStore) MaxFilesPerDir() int {
	return s.maxFiles
}

// Save writes data under the current shard in its own transaction and
// returns the shard-relative path.
func (s *ShardedStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	var (
		path string
		w    *Writer
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w = s.Begin(tx)
		var err error
		path, err = w.Save(ctx, name, data)
		return err
	})
	if err != nil {
		if w != nil {
			w.Discard()
		}
		return "", err
	}
	return path, nil
}

// Get opens a stored file by its shard-relative path
func (s *ShardedStore) Get(path string) (io.ReadCloser, error) {
	fullPath, err := s.validatePath(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file and decrements its shard's count, floored at zero.
// A file that is already gone still decrements.
func (s *ShardedStore) Delete(ctx context.Context, path string) error {
	fullPath, err := s.validatePath(path)
	if err != nil {
		return err
	}

	shardDir := strings.SplitN(filepath.ToSlash(filepath.Clean(path)), "/", 2)[0]

	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to delete file: %v", apperrors.ErrStorage, err)
	}

	result := s.db.WithContext(ctx).
		Model(&models.StorageShard{}).
		Where("directory_name = ? AND file_count > 0", shardDir).
		Update("file_count", gorm.Expr("file_count - 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to decrement shard %s: %w", shardDir, result.Error)
	}
	return nil
}

// validatePath ensures path is within the storage root (prevents traversal)
func (s *ShardedStore) validatePath(filePath string) (string, error) {
	cleanPath := filepath.Clean(filePath)

	if filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") || strings.Contains(filePath, "\\") {
		s.events.PathTraversalAttempt(filePath)
		return "", ErrPathTraversal
	}

	absPath, err := filepath.Abs(filepath.Join(s.root, cleanPath))
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}

	absBase, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		s.events.PathTraversalAttempt(filePath)
		return "", ErrPathTraversal
	}

	return absPath, nil
}

// Begin binds a Writer to tx. The caller must call Discard if tx rolls back.
func (s *ShardedStore) Begin(tx *gorm.DB) *Writer {
	return &Writer{store: s, tx: tx}
}

// Writer performs saves inside a caller-owned transaction and remembers
// what it created on disk so a rollback can undo it.
type Writer struct {
	store *ShardedStore
	tx    *gorm.DB
	files []string
	dirs  []string
}

// Save writes data into the current shard. If the write fills the shard,
// the shard stops being current and a new current shard is created.
func (w *Writer) Save(ctx context.Context, name string, data []byte) (string, error) {
	shard, err := w.currentShard(ctx)
	if err != nil {
		return "", err
	}

	relPath, err := w.writeFile(shard.DirectoryName, validator.SanitizeFilename(name), data)
	if err != nil {
		return "", err
	}

	tx := w.tx.WithContext(ctx)
	if err := tx.Model(&models.StorageShard{}).
		Where("id = ?", shard.ID).
		Update("file_count", gorm.Expr("file_count + 1")).Error; err != nil {
		return "", fmt.Errorf("failed to increment shard %s: %w", shard.DirectoryName, err)
	}
	shard.FileCount++

	if shard.FileCount >= w.store.maxFiles {
		if err := tx.Model(&models.StorageShard{}).
			Where("id = ?", shard.ID).
			Update("is_current", false).Error; err != nil {
			return "", fmt.Errorf("failed to retire shard %s: %w", shard.DirectoryName, err)
		}
		next, err := w.createShard(ctx)
		if err != nil {
			return "", err
		}
		w.store.logger.Info("storage shard full, rolled over",
			slog.String("full_shard", shard.DirectoryName),
			slog.String("current_shard", next.DirectoryName),
			slog.Int("file_count", shard.FileCount),
		)
	}

	return relPath, nil
}

// Discard removes every file and shard directory created by this writer
func (w *Writer) Discard() {
	for i := len(w.files) - 1; i >= 0; i-- {
		if err := os.Remove(w.files[i]); err != nil && !os.IsNotExist(err) {
			w.store.logger.Warn("failed to remove file after rollback",
				slog.String("path", w.files[i]), slog.Any("error", err))
		}
	}
	for i := len(w.dirs) - 1; i >= 0; i-- {
		if err := os.Remove(w.dirs[i]); err != nil && !os.IsNotExist(err) {
			w.store.logger.Warn("failed to remove shard directory after rollback",
				slog.String("path", w.dirs[i]), slog.Any("error", err))
		}
	}
	w.files, w.dirs = nil, nil
}

// Written returns the shard-relative paths of files created so far
func (w *Writer) Written() []string {
	paths := make([]string, 0, len(w.files))
	for _, f := range w.files {
		rel, err := filepath.Rel(w.store.root, f)
		if err == nil {
			paths = append(paths, filepath.ToSlash(rel))
		}
	}
	return paths
}

func (w *Writer) currentShard(ctx context.Context) (*models.StorageShard, error) {
	var shard models.StorageShard
	err := w.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("is_current = ?", true).
		First(&shard).Error
	if err == nil {
		return &shard, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load current shard: %w", err)
	}
	return w.createShard(ctx)
}

// createShard makes a fresh directory and a current shard row for it.
// An identifier whose directory already exists is never reused.
func (w *Writer) createShard(ctx context.Context) (*models.StorageShard, error) {
	for attempt := 0; attempt < maxShardCreateAttempts; attempt++ {
		name := w.store.newID()
		dir := filepath.Join(w.store.root, name)

		if err := os.Mkdir(dir, 0755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				w.store.logger.Warn("shard directory collision, regenerating", slog.String("directory", name))
				continue
			}
			return nil, fmt.Errorf("%w: failed to create shard directory: %v", apperrors.ErrStorage, err)
		}
		w.dirs = append(w.dirs, dir)

		shard := &models.StorageShard{DirectoryName: name, IsCurrent: true}
		if err := w.tx.WithContext(ctx).Create(shard).Error; err != nil {
			return nil, fmt.Errorf("failed to record shard %s: %w", name, err)
		}
		return shard, nil
	}
	return nil, fmt.Errorf("%w: no free shard identifier after %d attempts", apperrors.ErrStorage, maxShardCreateAttempts)
}

// writeFile creates name inside shardDir without overwriting; a taken name
// gets a short random suffix before its extension.
func (w *Writer) writeFile(shardDir, name string, data []byte) (string, error) {
	candidate := name
	for attempt := 0; attempt < maxShardCreateAttempts; attempt++ {
		relPath := filepath.ToSlash(filepath.Join(shardDir, candidate))
		fullPath, err := w.store.validatePath(relPath)
		if err != nil {
			return "", err
		}

		file, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				ext := filepath.Ext(name)
				suffix := w.store.newID()
				if len(suffix) > 8 {
					suffix = suffix[:8]
				}
				candidate = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(name, ext), suffix, ext)
				continue
			}
			return "", fmt.Errorf("%w: failed to create file: %v", apperrors.ErrStorage, err)
		}
		w.files = append(w.files, fullPath)

		if _, err := file.Write(data); err != nil {
			file.Close()
			return "", fmt.Errorf("%w: failed to write file: %v", apperrors.ErrStorage, err)
		}
		if err := file.Close(); err != nil {
			return "", fmt.Errorf("%w: failed to close file: %v", apperrors.ErrStorage, err)
		}
		return relPath, nil
	}
	return "", fmt.Errorf("%w: no free file name for %s", apperrors.ErrStorage, name)
}
