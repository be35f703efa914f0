package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/liuran001/MusicPlayer-Go/core/media"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository persists preferences, linked lyrics and plugin user variables.
type Repository struct {
	db *gorm.DB
}

// NewSQLiteRepository creates a repository backed by SQLite.
func NewSQLiteRepository(dsn string, gormLogger logger.Interface) (*Repository, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn required")
	}
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Silent)
	}

	dbDir := filepath.Dir(dsn)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 gormLogger,
	})
	if err != nil {
		return nil, err
	}
	if err := applySQLitePragmas(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PreferenceModel{}, &LinkedLyricModel{}, &UserVariableModel{}); err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &Repository{db: db}, nil
}

// Load decodes the preference stored under key into out.
func (r *Repository) Load(ctx context.Context, key string, out any) (bool, error) {
	var model PreferenceModel
	err := r.db.WithContext(ctx).Where("key = ?", key).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(model.Value), out); err != nil {
		return false, fmt.Errorf("decode preference %s: %w", key, err)
	}
	return true, nil
}

// Store encodes value and upserts it under key.
func (r *Repository) Store(ctx context.Context, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode preference %s: %w", key, err)
	}
	model := PreferenceModel{Key: key, Value: string(encoded)}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&model).Error
}

// LinkedLyric returns the item whose lyric replaces the lyric of from, or nil.
func (r *Repository) LinkedLyric(ctx context.Context, from media.Identity) (*media.MusicItem, error) {
	var model LinkedLyricModel
	err := r.db.WithContext(ctx).
		Where("platform = ? AND media_id = ?", from.Platform, from.ID).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return linkedTarget(model)
}

// LinkLyric associates target's lyric with from.
func (r *Repository) LinkLyric(ctx context.Context, from media.Identity, target media.MusicItem) error {
	model, err := toLinkedModel(from, target)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "media_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"target", "updated_at", "deleted_at"}),
	}).Create(model).Error
}

// UnlinkLyric removes the association of from, if any.
func (r *Repository) UnlinkLyric(ctx context.Context, from media.Identity) error {
	return r.db.WithContext(ctx).Unscoped().
		Where("platform = ? AND media_id = ?", from.Platform, from.ID).
		Delete(&LinkedLyricModel{}).Error
}

// UserVariables returns the stored user variables of a plugin.
func (r *Repository) UserVariables(ctx context.Context, platform string) (map[string]string, error) {
	var models []UserVariableModel
	if err := r.db.WithContext(ctx).Where("platform = ?", platform).Find(&models).Error; err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(models))
	for _, model := range models {
		vars[model.Key] = model.Value
	}
	return vars, nil
}

// SetUserVariables replaces the stored user variables of a plugin.
func (r *Repository) SetUserVariables(ctx context.Context, platform string, vars map[string]string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("platform = ?", platform).Delete(&UserVariableModel{}).Error; err != nil {
			return err
		}
		for key, value := range vars {
			if key == "" {
				continue
			}
			if err := tx.Create(&UserVariableModel{Platform: platform, Key: key, Value: value}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func applySQLitePragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, stmt := range pragmas {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
