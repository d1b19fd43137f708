package store

import (
	"context"
	"errors"
	"time"

	"storefront/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MySQLStore 以 MySQL 单表 kv_entry 作为持久化后端
type MySQLStore struct {
	db *gorm.DB
}

func NewMySQLStore(db *gorm.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

func (s *MySQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry model.KVEntry
	err := s.db.WithContext(ctx).Where("k = ?", key).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry.Value, nil
}

func (s *MySQLStore) Set(ctx context.Context, key string, value []byte) error {
	entry := &model.KVEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "k"}},
			DoUpdates: clause.AssignmentColumns([]string{"v", "updated_at"}),
		}).
		Create(entry).Error
}

func (s *MySQLStore) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("k = ?", key).Delete(&model.KVEntry{}).Error
}
