package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/courier"
	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/metrics"
	"github.com/example/courier-risk/internal/repository"
	"github.com/example/courier-risk/internal/scoring"
)

const maxCourierLength = 50

// MetricsRepository defines the persistence operations needed by the use case.
type MetricsRepository interface {
	Upsert(ctx context.Context, in repository.MetricInput) error
	GetByPhone(ctx context.Context, phone string) (*repository.PhoneSummary, error)
	GetByPhonePerProvider(ctx context.Context, phone string) ([]repository.ProviderMetric, error)
	GetSummary(ctx context.Context) (*repository.GlobalSummary, error)
	GetProviderBreakdown(ctx context.Context) ([]repository.ProviderBreakdown, error)
	GetTopRisk(ctx context.Context, limit int) ([]repository.RiskEntry, error)
	GetRecent(ctx context.Context, limit int) ([]repository.ProviderMetric, error)
	Delete(ctx context.Context, id int64) error
	ListPhones(ctx context.Context) ([]string, error)
}

// SettingsRepository defines provider settings persistence.
type SettingsRepository interface {
	LoadSettings(ctx context.Context) (map[string]map[string]any, error)
	SaveSettings(ctx context.Context, slug string, fields map[string]any) error
}

// FraudCheckUseCase encapsulates lookup, refresh and administration of courier metrics.
type FraudCheckUseCase struct {
	repo           MetricsRepository
	settings       SettingsRepository
	registry       *courier.Registry
	cache          Cache
	recorder       *metrics.Recorder
	logger         *zap.Logger
	liveCacheTTL   time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

// CheckResult answers a phone check. Stored data is returned as a summary with
// Cached set; otherwise Providers holds the raw live payloads.
type CheckResult struct {
	*repository.PhoneSummary
	Providers map[string]*courier.Payload `json:"providers"`
	Cached    bool                        `json:"cached"`
}

// RefreshReport lists the providers written and the providers that failed for a phone.
type RefreshReport struct {
	Phone   string            `json:"phone"`
	Updated []string          `json:"updated"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// RefreshSummary aggregates a refresh over every stored phone.
type RefreshSummary struct {
	Phones  int `json:"phones"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// ImportInput is a manually entered metric row.
type ImportInput struct {
	Phone     string     `json:"phone"`
	Courier   string     `json:"courier"`
	Delivered int64      `json:"delivered"`
	Returned  int64      `json:"returned"`
	Cancelled int64      `json:"cancelled"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// NewFraudCheckUseCase constructs a new use case instance.
func NewFraudCheckUseCase(repo MetricsRepository, settings SettingsRepository, registry *courier.Registry, cache Cache, recorder *metrics.Recorder, logger *zap.Logger) *FraudCheckUseCase {
	if cache == nil {
		cache = NopCache{}
	}
	return &FraudCheckUseCase{
		repo:           repo,
		settings:       settings,
		registry:       registry,
		cache:          cache,
		recorder:       recorder,
		logger:         logger.Named("fraud_check_usecase"),
		liveCacheTTL:   5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
		now:            time.Now,
	}
}

// SetLiveCacheTTL changes how long live provider payloads are memoized. Zero disables it.
func (uc *FraudCheckUseCase) SetLiveCacheTTL(ttl time.Duration) {
	uc.liveCacheTTL = ttl
}

// Check answers from stored metrics when any exist for the phone, otherwise it asks
// the enabled providers (restricted to providers when given) without storing anything.
func (uc *FraudCheckUseCase) Check(ctx context.Context, rawPhone string, providers []string) (*CheckResult, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.check", requestID)

	phone, err := normalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}
	requested, err := uc.validateProviders(providers)
	if err != nil {
		return nil, err
	}

	summary, err := uc.repo.GetByPhone(ctx, phone)
	if err != nil {
		opLogger.Error("failed to load stored metrics", zap.Error(err))
		return nil, err
	}
	if summary != nil {
		uc.recorder.ObserveCheck(true)
		return &CheckResult{
			PhoneSummary: summary,
			Providers:    map[string]*courier.Payload{},
			Cached:       true,
		}, nil
	}

	slugs, err := uc.resolveProviders(ctx, requested)
	if err != nil {
		opLogger.Error("failed to resolve providers", zap.Error(err))
		return nil, err
	}

	payloads := uc.liveFetch(ctx, phone, slugs, opLogger)
	uc.recorder.ObserveCheck(false)
	return &CheckResult{Providers: payloads, Cached: false}, nil
}

// RefreshPhone pulls fresh counters from every enabled provider and stores them.
// Provider failures are logged and reported; storage failures abort the refresh.
func (uc *FraudCheckUseCase) RefreshPhone(ctx context.Context, rawPhone string) (*RefreshReport, error) {
	requestID := logging.RequestIDFromContext(ctx)
	opLogger := logging.WithOperation(uc.logger, "usecase.refresh_phone", requestID)

	phone, err := normalizePhone(rawPhone)
	if err != nil {
		return nil, err
	}

	slugs, err := uc.resolveProviders(ctx, nil)
	if err != nil {
		opLogger.Error("failed to resolve providers", zap.Error(err))
		return nil, err
	}

	start := uc.now()
	defer func() { uc.recorder.ObserveRefresh(uc.now().Sub(start)) }()

	payloads, failures := uc.registry.FetchAll(ctx, phone, slugs)
	report := &RefreshReport{Phone: phone, Updated: []string{}}
	uc.recordFailures(opLogger, phone, failures, report)

	for _, slug := range sortedSlugs(payloads) {
		p := payloads[slug]
		if p.Delivered < 0 || p.Returned < 0 || p.Cancelled < 0 {
			adapterErr := &courier.AdapterError{Provider: slug, Err: errors.New("negative counters in payload")}
			uc.recordFailures(opLogger, phone, []*courier.AdapterError{adapterErr}, report)
			continue
		}

		err := uc.repo.Upsert(ctx, repository.MetricInput{
			Phone:     phone,
			Courier:   slug,
			Delivered: p.Delivered,
			Returned:  p.Returned,
			Cancelled: p.Cancelled,
			UpdatedAt: p.UpdatedAt,
		})
		if err != nil {
			opLogger.Error("failed to persist provider metrics", zap.String("provider", slug), zap.Error(err))
			return nil, err
		}
		uc.recorder.ObserveUpsert()
		report.Updated = append(report.Updated, slug)
	}

	opLogger.Info("phone refreshed",
		zap.String("phone", phone),
		zap.Strings("updated", report.Updated),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

// RefreshAll refreshes every phone already present in the store.
func (uc *FraudCheckUseCase) RefreshAll(ctx context.Context) (*RefreshSummary, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.refresh_all", logging.RequestIDFromContext(ctx))

	phones, err := uc.repo.ListPhones(ctx)
	if err != nil {
		opLogger.Error("failed to list phones", zap.Error(err))
		return nil, err
	}

	summary := &RefreshSummary{}
	for _, phone := range phones {
		if err := ctx.Err(); err != nil {
			return summary, logging.WrapContext(ctx, "usecase.refresh_all", err)
		}
		report, err := uc.RefreshPhone(ctx, phone)
		if err != nil {
			if IsValidationError(err) {
				opLogger.Warn("skipping unusable stored phone", zap.String("phone", phone), zap.Error(err))
				continue
			}
			return summary, err
		}
		summary.Phones++
		summary.Updated += len(report.Updated)
		summary.Failed += len(report.Failed)
	}

	opLogger.Info("refresh completed",
		zap.Int("phones", summary.Phones),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// ImportMetrics validates and stores a manually entered row.
func (uc *FraudCheckUseCase) ImportMetrics(ctx context.Context, in ImportInput) error {
	opLogger := logging.WithOperation(uc.logger, "usecase.import_metrics", logging.RequestIDFromContext(ctx))

	phone, err := normalizePhone(in.Phone)
	if err != nil {
		return err
	}
	courierSlug := strings.TrimSpace(in.Courier)
	if courierSlug == "" {
		return invalid("courier", "courier is required")
	}
	if len(courierSlug) > maxCourierLength {
		return invalid("courier", "courier must be at most %d characters", maxCourierLength)
	}
	if in.Delivered < 0 || in.Returned < 0 || in.Cancelled < 0 {
		return invalid("counters", "counters must not be negative")
	}

	input := repository.MetricInput{
		Phone:     phone,
		Courier:   courierSlug,
		Delivered: in.Delivered,
		Returned:  in.Returned,
		Cancelled: in.Cancelled,
	}
	if in.UpdatedAt != nil {
		input.UpdatedAt = *in.UpdatedAt
	}

	if err := uc.repo.Upsert(ctx, input); err != nil {
		opLogger.Error("failed to import metrics", zap.Error(err))
		return err
	}
	uc.recorder.ObserveUpsert()
	return nil
}

// DeleteMetric removes a stored row. Unknown ids are ignored.
func (uc *FraudCheckUseCase) DeleteMetric(ctx context.Context, id int64) error {
	if err := uc.repo.Delete(ctx, id); err != nil {
		logging.WithOperation(uc.logger, "usecase.delete_metric", logging.RequestIDFromContext(ctx)).
			Error("failed to delete metric", zap.Int64("id", id), zap.Error(err))
		return err
	}
	return nil
}

func (uc *FraudCheckUseCase) liveFetch(ctx context.Context, phone string, slugs []string, opLogger *zap.Logger) map[string]*courier.Payload {
	if len(slugs) == 0 {
		return map[string]*courier.Payload{}
	}

	requestID := logging.RequestIDFromContext(ctx)
	cacheKey := "courier-check:" + phone + ":" + strings.Join(slugs, ",")

	if uc.liveCacheTTL > 0 {
		cached, err := uc.withCacheGet(ctx, requestID, "cache.get.live_payloads", cacheKey)
		switch {
		case err == nil:
			var payloads map[string]*courier.Payload
			if err := json.Unmarshal([]byte(cached), &payloads); err == nil {
				return payloads
			}
			opLogger.Warn("failed to decode cached payloads", zap.Error(err))
		case !errors.Is(err, redis.Nil):
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	payloads, failures := uc.registry.FetchAll(ctx, phone, slugs)
	uc.recordFailures(opLogger, phone, failures, nil)

	if uc.liveCacheTTL > 0 && len(failures) == 0 {
		serialized, err := json.Marshal(payloads)
		if err != nil {
			opLogger.Warn("failed to serialize live payloads", zap.Error(err))
			return payloads
		}
		if err := uc.withCacheRetry(ctx, requestID, "cache.set.live_payloads", func() error {
			return uc.cache.Set(ctx, cacheKey, string(serialized), uc.liveCacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache live payloads", zap.Error(err))
		}
	}
	return payloads
}

func (uc *FraudCheckUseCase) recordFailures(opLogger *zap.Logger, phone string, failures []*courier.AdapterError, report *RefreshReport) {
	for _, failure := range failures {
		uc.recorder.ObserveAdapterFailure(failure.Provider)
		opLogger.Warn("courier adapter failed",
			zap.String("provider", failure.Provider),
			zap.String("phone", phone),
			zap.Error(failure.Err),
		)
		if report != nil {
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[failure.Provider] = failure.Err.Error()
		}
	}
}

func (uc *FraudCheckUseCase) validateProviders(providers []string) ([]string, error) {
	var out []string
	for _, slug := range providers {
		slug = strings.TrimSpace(slug)
		if slug == "" {
			continue
		}
		if _, ok := courier.LookupProvider(slug); !ok && !uc.registry.Has(slug) {
			return nil, invalid("providers", "unknown provider %q", slug)
		}
		out = append(out, slug)
	}
	return out, nil
}

func (uc *FraudCheckUseCase) resolveProviders(ctx context.Context, requested []string) ([]string, error) {
	stored, err := uc.settings.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	enabled := courier.EnabledProviders(courier.MergeSettings(stored))
	return uc.registry.Resolve(enabled, requested), nil
}

func (uc *FraudCheckUseCase) withCacheRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("cache operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient cache error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *FraudCheckUseCase) withCacheGet(ctx context.Context, requestID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withCacheRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}

func normalizePhone(raw string) (string, error) {
	phone := scoring.NormalizePhone(raw)
	if !scoring.ValidPhone(phone) {
		return "", invalid("phone", "a valid phone number is required")
	}
	if len(phone) > 20 {
		return "", invalid("phone", "phone number is too long")
	}
	return phone, nil
}

func sortedSlugs(payloads map[string]*courier.Payload) []string {
	out := make([]string, 0, len(payloads))
	for slug := range payloads {
		out = append(out, slug)
	}
	sort.Strings(out)
	return out
}
