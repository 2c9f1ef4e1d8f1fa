package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/courier-risk/internal/logging"
)

// ProviderSetting stores the configuration fields of one courier provider.
type ProviderSetting struct {
	Slug      string            `gorm:"column:slug;primaryKey;size:50"`
	Fields    datatypes.JSONMap `gorm:"column:fields"`
	UpdatedAt time.Time         `gorm:"column:updated_at"`
}

// TableName overrides the default table name.
func (ProviderSetting) TableName() string {
	return "courier_provider_settings"
}

// SettingsRepository persists provider settings keyed by slug.
type SettingsRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *gorm.DB, logger *zap.Logger) *SettingsRepository {
	return &SettingsRepository{db: db, logger: logger.Named("settings_repository")}
}

// LoadSettings returns the stored fields of every provider.
func (r *SettingsRepository) LoadSettings(ctx context.Context) (map[string]map[string]any, error) {
	var rows []ProviderSetting
	if err := r.db.WithContext(ctx).Order("slug ASC").Find(&rows).Error; err != nil {
		r.logger.Error("failed to load provider settings", zap.Error(err))
		return nil, logging.WrapContext(ctx, "repository.load_settings", err)
	}

	out := make(map[string]map[string]any, len(rows))
	for _, row := range rows {
		out[row.Slug] = map[string]any(row.Fields)
	}
	return out, nil
}

// SaveSettings replaces the stored fields of a provider.
func (r *SettingsRepository) SaveSettings(ctx context.Context, slug string, fields map[string]any) error {
	row := &ProviderSetting{
		Slug:      slug,
		Fields:    datatypes.JSONMap(fields),
		UpdatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"fields", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		r.logger.Error("failed to save provider settings", zap.String("slug", slug), zap.Error(err))
		return logging.WrapContext(ctx, "repository.save_settings", err)
	}
	return nil
}
