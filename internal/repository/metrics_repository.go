package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/scoring"
)

// ErrInvalidRecord is returned when a metric input cannot be stored.
var ErrInvalidRecord = errors.New("invalid metric record")

// MetricRecord represents the stored counters for one (phone, courier) pair.
type MetricRecord struct {
	ID            uint      `gorm:"primaryKey"`
	Phone         string    `gorm:"column:phone;size:20;not null;uniqueIndex:idx_courier_metrics_phone_courier,priority:1;index:idx_courier_metrics_phone"`
	Courier       string    `gorm:"column:courier;size:50;not null;uniqueIndex:idx_courier_metrics_phone_courier,priority:2;index:idx_courier_metrics_courier"`
	Delivered     int64     `gorm:"column:delivered;not null;default:0"`
	Returned      int64     `gorm:"column:returned;not null;default:0"`
	Cancelled     int64     `gorm:"column:cancelled;not null;default:0"`
	CompleteRatio float64   `gorm:"column:complete_ratio;not null;default:0"`
	CancelRatio   float64   `gorm:"column:cancel_ratio;not null;default:0"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;autoUpdateTime:false"`
}

// TableName overrides the default table name.
func (MetricRecord) TableName() string {
	return "courier_metrics"
}

// MetricInput carries the counters written by an upsert. A zero UpdatedAt means now.
type MetricInput struct {
	Phone     string
	Courier   string
	Delivered int64
	Returned  int64
	Cancelled int64
	UpdatedAt time.Time
}

// PhoneSummary aggregates every courier row for one phone.
type PhoneSummary struct {
	Phone     string    `json:"phone"`
	Delivered int64     `json:"delivered"`
	Returned  int64     `json:"returned"`
	Cancelled int64     `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
	scoring.Ratios
}

// ProviderMetric is a single stored row enriched with its ratios.
type ProviderMetric struct {
	ID        uint      `json:"id"`
	Phone     string    `json:"phone"`
	Courier   string    `json:"courier"`
	Delivered int64     `json:"delivered"`
	Returned  int64     `json:"returned"`
	Cancelled int64     `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
	scoring.Ratios
}

// GlobalSummary aggregates the whole store.
type GlobalSummary struct {
	Customers int64 `json:"customers"`
	Delivered int64 `json:"delivered"`
	Returned  int64 `json:"returned"`
	Cancelled int64 `json:"cancelled"`
	scoring.Ratios
}

// ProviderBreakdown aggregates one courier across all phones.
type ProviderBreakdown struct {
	Courier   string    `json:"courier"`
	Customers int64     `json:"customers"`
	Delivered int64     `json:"delivered"`
	Returned  int64     `json:"returned"`
	Cancelled int64     `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
	scoring.Ratios
}

// RiskEntry is a phone ranked by its risk ratio.
type RiskEntry struct {
	Phone     string    `json:"phone"`
	Delivered int64     `json:"delivered"`
	Returned  int64     `json:"returned"`
	Cancelled int64     `json:"cancelled"`
	UpdatedAt time.Time `json:"updated_at"`
	scoring.Ratios
}

// MetricsRepository persists courier metrics and serves aggregate views over them.
type MetricsRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewMetricsRepository creates a new repository instance.
func NewMetricsRepository(db *gorm.DB, logger *zap.Logger) *MetricsRepository {
	return &MetricsRepository{db: db, logger: logger.Named("metrics_repository")}
}

// AutoMigrate ensures the schema is available.
func (r *MetricsRepository) AutoMigrate(ctx context.Context) error {
	err := r.db.WithContext(ctx).AutoMigrate(&MetricRecord{}, &ProviderSetting{})
	return r.wrap(ctx, "repository.auto_migrate", err)
}

// DropTables removes every table owned by the service.
func (r *MetricsRepository) DropTables(ctx context.Context) error {
	err := r.db.WithContext(ctx).Migrator().DropTable(&MetricRecord{}, &ProviderSetting{})
	return r.wrap(ctx, "repository.drop_tables", err)
}

// Upsert writes the counters for (phone, courier), replacing any previous values.
func (r *MetricsRepository) Upsert(ctx context.Context, in MetricInput) error {
	phone := scoring.NormalizePhone(in.Phone)
	if !scoring.ValidPhone(phone) || in.Courier == "" || in.Delivered < 0 || in.Returned < 0 || in.Cancelled < 0 {
		return logging.WrapContext(ctx, "repository.upsert", ErrInvalidRecord)
	}

	updatedAt := in.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	ratios := scoring.Compute(in.Delivered, in.Returned, in.Cancelled)
	record := &MetricRecord{
		Phone:         phone,
		Courier:       in.Courier,
		Delivered:     in.Delivered,
		Returned:      in.Returned,
		Cancelled:     in.Cancelled,
		CompleteRatio: ratios.CompletionRatio,
		CancelRatio:   ratios.CancelRatio,
		UpdatedAt:     updatedAt.UTC().Truncate(time.Microsecond),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "phone"}, {Name: "courier"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"delivered", "returned", "cancelled", "complete_ratio", "cancel_ratio", "updated_at",
		}),
	}).Create(record).Error
	return r.wrap(ctx, "repository.upsert", err)
}

// GetByPhone sums every courier row for the phone. It returns nil when no rows exist.
func (r *MetricsRepository) GetByPhone(ctx context.Context, phone string) (*PhoneSummary, error) {
	phone = scoring.NormalizePhone(phone)

	var row struct {
		RowCount  int64
		Delivered int64
		Returned  int64
		Cancelled int64
		UpdatedAt dbTime
	}
	err := r.db.WithContext(ctx).Model(&MetricRecord{}).
		Select("COUNT(*) AS row_count, " + sumColumns + ", MAX(updated_at) AS updated_at").
		Where("phone = ?", phone).
		Scan(&row).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_by_phone", err)
	}
	if row.RowCount == 0 {
		return nil, nil
	}

	return &PhoneSummary{
		Phone:     phone,
		Delivered: row.Delivered,
		Returned:  row.Returned,
		Cancelled: row.Cancelled,
		UpdatedAt: row.UpdatedAt.Time,
		Ratios:    scoring.Compute(row.Delivered, row.Returned, row.Cancelled),
	}, nil
}

// GetByPhonePerProvider returns one row per courier for the phone, most recent first.
func (r *MetricsRepository) GetByPhonePerProvider(ctx context.Context, phone string) ([]ProviderMetric, error) {
	phone = scoring.NormalizePhone(phone)

	var records []MetricRecord
	err := r.db.WithContext(ctx).
		Where("phone = ?", phone).
		Order("updated_at DESC").Order("id DESC").
		Find(&records).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_by_phone_per_provider", err)
	}
	return toProviderMetrics(records), nil
}

// GetSummary aggregates counters across the whole store.
func (r *MetricsRepository) GetSummary(ctx context.Context) (*GlobalSummary, error) {
	var row struct {
		Customers int64
		Delivered int64
		Returned  int64
		Cancelled int64
	}
	err := r.db.WithContext(ctx).Model(&MetricRecord{}).
		Select("COUNT(DISTINCT phone) AS customers, " + sumColumns).
		Scan(&row).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_summary", err)
	}

	return &GlobalSummary{
		Customers: row.Customers,
		Delivered: row.Delivered,
		Returned:  row.Returned,
		Cancelled: row.Cancelled,
		Ratios:    scoring.Compute(row.Delivered, row.Returned, row.Cancelled),
	}, nil
}

// GetProviderBreakdown aggregates counters per courier, ordered by courier name.
func (r *MetricsRepository) GetProviderBreakdown(ctx context.Context) ([]ProviderBreakdown, error) {
	var rows []struct {
		Courier   string
		Customers int64
		Delivered int64
		Returned  int64
		Cancelled int64
		UpdatedAt dbTime
	}
	err := r.db.WithContext(ctx).Model(&MetricRecord{}).
		Select("courier, COUNT(DISTINCT phone) AS customers, " + sumColumns + ", MAX(updated_at) AS updated_at").
		Group("courier").
		Order("courier ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_provider_breakdown", err)
	}

	out := make([]ProviderBreakdown, 0, len(rows))
	for _, row := range rows {
		out = append(out, ProviderBreakdown{
			Courier:   row.Courier,
			Customers: row.Customers,
			Delivered: row.Delivered,
			Returned:  row.Returned,
			Cancelled: row.Cancelled,
			UpdatedAt: row.UpdatedAt.Time,
			Ratios:    scoring.Compute(row.Delivered, row.Returned, row.Cancelled),
		})
	}
	return out, nil
}

// GetTopRisk ranks phones by risk ratio. Phones without any orders are excluded.
// Equal ratios are ordered by total orders, then phone.
func (r *MetricsRepository) GetTopRisk(ctx context.Context, limit int) ([]RiskEntry, error) {
	var rows []struct {
		Phone     string
		Delivered int64
		Returned  int64
		Cancelled int64
		UpdatedAt dbTime
	}
	err := r.db.WithContext(ctx).Model(&MetricRecord{}).
		Select("phone, " + sumColumns + ", MAX(updated_at) AS updated_at").
		Group("phone").
		Having("SUM(delivered + returned + cancelled) > 0").
		Order("(SUM(returned) + SUM(cancelled)) * 1.0 / SUM(delivered + returned + cancelled) DESC").
		Order("SUM(delivered + returned + cancelled) DESC").
		Order("phone ASC").
		Limit(clampLimit(limit)).
		Scan(&rows).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_top_risk", err)
	}

	out := make([]RiskEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, RiskEntry{
			Phone:     row.Phone,
			Delivered: row.Delivered,
			Returned:  row.Returned,
			Cancelled: row.Cancelled,
			UpdatedAt: row.UpdatedAt.Time,
			Ratios:    scoring.Compute(row.Delivered, row.Returned, row.Cancelled),
		})
	}
	return out, nil
}

// GetRecent returns the most recently written rows.
func (r *MetricsRepository) GetRecent(ctx context.Context, limit int) ([]ProviderMetric, error) {
	var records []MetricRecord
	err := r.db.WithContext(ctx).
		Order("updated_at DESC").Order("id DESC").
		Limit(clampLimit(limit)).
		Find(&records).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.get_recent", err)
	}
	return toProviderMetrics(records), nil
}

// Delete removes a row by id. Missing or non-positive ids are ignored.
func (r *MetricsRepository) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Delete(&MetricRecord{}, id).Error
	return r.wrap(ctx, "repository.delete", err)
}

// ListPhones returns every distinct phone in the store, sorted.
func (r *MetricsRepository) ListPhones(ctx context.Context) ([]string, error) {
	var phones []string
	err := r.db.WithContext(ctx).Model(&MetricRecord{}).
		Distinct("phone").
		Order("phone ASC").
		Pluck("phone", &phones).Error
	if err != nil {
		return nil, r.wrap(ctx, "repository.list_phones", err)
	}
	return phones, nil
}

// Ping checks that the database is reachable.
func (r *MetricsRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return r.wrap(ctx, "repository.ping", err)
	}
	return r.wrap(ctx, "repository.ping", sqlDB.PingContext(ctx))
}

func (r *MetricsRepository) wrap(ctx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	wrapped := logging.WrapContext(ctx, operation, err)
	r.logger.Error("storage operation failed", zap.String("operation", operation), zap.Error(err))
	return wrapped
}

const sumColumns = "CAST(COALESCE(SUM(delivered), 0) AS BIGINT) AS delivered, " +
	"CAST(COALESCE(SUM(returned), 0) AS BIGINT) AS returned, " +
	"CAST(COALESCE(SUM(cancelled), 0) AS BIGINT) AS cancelled"

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	return limit
}

func toProviderMetrics(records []MetricRecord) []ProviderMetric {
	out := make([]ProviderMetric, 0, len(records))
	for _, rec := range records {
		out = append(out, ProviderMetric{
			ID:        rec.ID,
			Phone:     rec.Phone,
			Courier:   rec.Courier,
			Delivered: rec.Delivered,
			Returned:  rec.Returned,
			Cancelled: rec.Cancelled,
			UpdatedAt: rec.UpdatedAt,
			Ratios:    scoring.Compute(rec.Delivered, rec.Returned, rec.Cancelled),
		})
	}
	return out
}
