package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cacheEntry struct {
	Key              string `gorm:"column:key;primaryKey;size:190;not null"`
	ValueJSON        string `gorm:"column:value_json;type:text;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (cacheEntry) TableName() string {
	return "cache_entries"
}

// SQLiteCache stores mirrored state in a local SQLite database. All failures
// are logged and reported as boolean false; callers are expected to continue
// against in-memory state.
type SQLiteCache struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// OpenSQLite establishes a SQLite-backed cache at path and migrates the
// key-value schema.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteCache, error) {
	if path == "" {
		return nil, fmt.Errorf("cache database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&cacheEntry{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("cache database initialized", zap.String("path", path))
	}

	return NewSQLiteCache(db, logger), nil
}

// NewSQLiteCache wraps an existing GORM handle. The logger may be nil.
func NewSQLiteCache(db *gorm.DB, logger *zap.Logger) *SQLiteCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteCache{db: db, logger: logger, clock: time.Now}
}

// Get reads and unmarshals the value stored under key into target.
func (c *SQLiteCache) Get(key string, target any) bool {
	var entry cacheEntry
	err := c.db.Where("key = ?", key).Take(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal([]byte(entry.ValueJSON), target); err != nil {
		c.logger.Warn("cache entry corrupt", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Set marshals value and upserts it under key.
func (c *SQLiteCache) Set(key string, value any) bool {
	encoded, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	entry := cacheEntry{
		Key:              key,
		ValueJSON:        string(encoded),
		UpdatedAtSeconds: c.clock().Unix(),
	}
	err = c.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_json", "updated_at_s"}),
	}).Create(&entry).Error
	if err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Remove deletes the entry stored under key. Removing an absent key succeeds.
func (c *SQLiteCache) Remove(key string) bool {
	if err := c.db.Where("key = ?", key).Delete(&cacheEntry{}).Error; err != nil {
		c.logger.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
