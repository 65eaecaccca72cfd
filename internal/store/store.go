// Package store provides the key/value persistence layer: JSON-serialized
// values mapped to string keys in a SQL backend. It is a collaborator of the
// connection core, which consumes nothing from it directly.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dmreichard/PantsMUD/internal/core"
)

// ErrKeyNotFound is returned by Get when no value exists under a key.
var ErrKeyNotFound = errors.New("key not found in store")

// Entry is one persisted key/value pair. Data always holds valid JSON.
type Entry struct {
	Key  string `gorm:"primaryKey"`
	Data string `gorm:"not null"`
}

func (Entry) TableName() string { return "mud_data" }

// Store is a dict-style JSON blob store with an explicit open/close
// lifecycle. Values read through the store are cached until the key is
// written or deleted.
type Store struct {
	db     *gorm.DB
	cache  *gocache.Cache
	logger *zap.SugaredLogger
}

// Open connects the store to the configured database engine and ensures the
// schema exists.
func Open(cfg *core.Config, logger *zap.SugaredLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Database.Engine {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.Database.Filename)
	case "postgres":
		dialector = postgres.Open(cfg.DatabaseURL())
	default:
		return nil, fmt.Errorf("unsupported database engine %q", cfg.Database.Engine)
	}

	// By default only log errors but enable full SQL query prints-to-console
	// with debug mode.
	gormLog := gormlogger.Default.LogMode(gormlogger.Error)
	if cfg.Debugging.DatabaseLoggingEnabled {
		gormLog = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("error auto migrating db: %w", err)
	}

	return &Store{
		db:     db,
		cache:  gocache.New(-1, 10*time.Minute),
		logger: logger,
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	database, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}

// Put serializes value to JSON and stores it under key, overwriting any
// previous value.
func (s *Store) Put(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error serializing value for key %s: %w", key, err)
	}

	err = s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data"}),
	}).Create(&Entry{Key: key, Data: string(raw)}).Error
	if err != nil {
		return fmt.Errorf("error storing key %s: %w", key, err)
	}

	s.cache.Set(key, json.RawMessage(raw), gocache.DefaultExpiration)
	return nil
}

// Get deserializes the value stored under key into out. Returns
// ErrKeyNotFound if the key does not exist.
func (s *Store) Get(key string, out interface{}) error {
	raw, err := s.getRaw(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("error deserializing value for key %s: %w", key, err)
	}
	return nil
}

// Has tests for the presence of a key in the store.
func (s *Store) Has(key string) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}

	var count int64
	if err := s.db.Model(&Entry{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return false, fmt.Errorf("error checking key %s: %w", key, err)
	}
	return count > 0, nil
}

// Delete removes the value stored under key. Deleting a missing key is not
// an error.
func (s *Store) Delete(key string) error {
	if err := s.db.Delete(&Entry{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("error deleting key %s: %w", key, err)
	}
	s.cache.Delete(key)
	return nil
}

// Keys returns every key present in the store.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	if err := s.db.Model(&Entry{}).Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("error listing keys: %w", err)
	}
	return keys, nil
}

// Select returns every key matching the given SQL LIKE pattern.
func (s *Store) Select(pattern string) ([]string, error) {
	var keys []string
	err := s.db.Model(&Entry{}).Where("key LIKE ?", pattern).Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("error selecting keys matching %s: %w", pattern, err)
	}
	return keys, nil
}

func (s *Store) getRaw(key string) (json.RawMessage, error) {
	if cached, ok := s.cache.Get(key); ok {
		return cached.(json.RawMessage), nil
	}

	var entry Entry
	err := s.db.First(&entry, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("error loading key %s: %w", key, err)
	}

	raw := json.RawMessage(entry.Data)
	s.cache.Set(key, raw, gocache.DefaultExpiration)
	return raw, nil
}
