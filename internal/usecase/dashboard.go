package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/repository"
)

const (
	// DashboardTopRiskLimit is the number of risky customers shown on the dashboard.
	DashboardTopRiskLimit = 6
	// DashboardRecentLimit is the number of recent rows shown on the dashboard.
	DashboardRecentLimit = 8
	// DefaultRecentLimit is the page size of the recent activity feed.
	DefaultRecentLimit = 12
	maxRecentLimit     = 200
)

// Dashboard represents aggregated courier insights.
type Dashboard struct {
	Summary          *repository.GlobalSummary      `json:"summary"`
	Providers        []repository.ProviderBreakdown `json:"providers"`
	TopRisk          []repository.RiskEntry         `json:"top_risk"`
	Recent           []repository.ProviderMetric    `json:"recent"`
	EnabledProviders []string                       `json:"enabled_providers"`
}

// LookupResult is the stored view of a single phone.
type LookupResult struct {
	Phone     string                      `json:"phone"`
	Summary   *repository.PhoneSummary    `json:"summary"`
	Providers []repository.ProviderMetric `json:"providers"`
}

// GetDashboard aggregates metrics across the whole store.
func (uc *FraudCheckUseCase) GetDashboard(ctx context.Context) (*Dashboard, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.dashboard", logging.RequestIDFromContext(ctx))

	summary, err := uc.repo.GetSummary(ctx)
	if err != nil {
		opLogger.Error("failed to load summary", zap.Error(err))
		return nil, err
	}
	breakdown, err := uc.repo.GetProviderBreakdown(ctx)
	if err != nil {
		opLogger.Error("failed to load provider breakdown", zap.Error(err))
		return nil, err
	}
	topRisk, err := uc.repo.GetTopRisk(ctx, DashboardTopRiskLimit)
	if err != nil {
		opLogger.Error("failed to load top risk customers", zap.Error(err))
		return nil, err
	}
	recent, err := uc.repo.GetRecent(ctx, DashboardRecentLimit)
	if err != nil {
		opLogger.Error("failed to load recent activity", zap.Error(err))
		return nil, err
	}
	enabled, err := uc.resolveProviders(ctx, nil)
	if err != nil {
		opLogger.Error("failed to resolve providers", zap.Error(err))
		return nil, err
	}

	return &Dashboard{
		Summary:          summary,
		Providers:        breakdown,
		TopRisk:          topRisk,
		Recent:           recent,
		EnabledProviders: enabled,
	}, nil
}

// Lookup returns the stored summary and per-provider rows of a phone.
// Summary is nil when nothing is stored.
func (uc *FraudCheckUseCase) Lookup(ctx context.Context, rawPhone string) (*LookupResult, error) {
	phone, err := normalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	summary, err := uc.repo.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	providers, err := uc.repo.GetByPhonePerProvider(ctx, phone)
	if err != nil {
		return nil, err
	}
	return &LookupResult{Phone: phone, Summary: summary, Providers: providers}, nil
}

// Recent returns the latest stored rows. Non-positive limits use DefaultRecentLimit.
func (uc *FraudCheckUseCase) Recent(ctx context.Context, limit int) ([]repository.ProviderMetric, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}
	return uc.repo.GetRecent(ctx, limit)
}
