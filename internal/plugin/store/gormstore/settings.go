package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fableforge/chronicle/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSettings returns the singleton settings row, creating it with defaults
// on first read.
func (s *Store) GetSettings(ctx context.Context) (*model.MemorySettings, error) {
	var settings model.MemorySettings
	result := s.db.WithContext(ctx).Where("id = ?", model.SettingsSingletonID).Limit(1).Find(&settings)
	if result.Error != nil {
		return nil, fmt.Errorf("get settings: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		settings = model.DefaultSettings()
		err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&settings).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("seed default settings: %w", err)
		}
	}
	return &settings, nil
}

// UpdateSettings replaces the singleton settings row.
func (s *Store) UpdateSettings(ctx context.Context, settings model.MemorySettings) (*model.MemorySettings, error) {
	settings.ID = model.SettingsSingletonID
	settings.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&settings).Error; err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return &settings, nil
}
