package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/courier"
	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/repository"
	"github.com/example/courier-risk/internal/scoring"
)

type stubRepository struct {
	summary    *repository.PhoneSummary
	summaryErr error
	upserts    []repository.MetricInput
	upsertErr  error
	deleted    []int64
	phones     []string
	recent     []repository.ProviderMetric
	recentArgs []int
}

func (s *stubRepository) Upsert(ctx context.Context, in repository.MetricInput) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, in)
	return nil
}

func (s *stubRepository) GetByPhone(ctx context.Context, phone string) (*repository.PhoneSummary, error) {
	return s.summary, s.summaryErr
}

func (s *stubRepository) GetByPhonePerProvider(ctx context.Context, phone string) ([]repository.ProviderMetric, error) {
	return nil, nil
}

func (s *stubRepository) GetSummary(ctx context.Context) (*repository.GlobalSummary, error) {
	return &repository.GlobalSummary{}, nil
}

func (s *stubRepository) GetProviderBreakdown(ctx context.Context) ([]repository.ProviderBreakdown, error) {
	return nil, nil
}

func (s *stubRepository) GetTopRisk(ctx context.Context, limit int) ([]repository.RiskEntry, error) {
	return nil, nil
}

func (s *stubRepository) GetRecent(ctx context.Context, limit int) ([]repository.ProviderMetric, error) {
	s.recentArgs = append(s.recentArgs, limit)
	return s.recent, nil
}

func (s *stubRepository) Delete(ctx context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubRepository) ListPhones(ctx context.Context) ([]string, error) {
	return s.phones, nil
}

type stubSettings struct {
	stored map[string]map[string]any
	saved  map[string]map[string]any
}

func (s *stubSettings) LoadSettings(ctx context.Context) (map[string]map[string]any, error) {
	return s.stored, nil
}

func (s *stubSettings) SaveSettings(ctx context.Context, slug string, fields map[string]any) error {
	if s.saved == nil {
		s.saved = make(map[string]map[string]any)
	}
	if s.stored == nil {
		s.stored = make(map[string]map[string]any)
	}
	s.saved[slug] = fields
	s.stored[slug] = fields
	return nil
}

type stubCache struct {
	values  map[string]string
	getErrs []error
	setKeys []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.setKeys = append(s.setKeys, key)
	s.values[key] = value.(string)
	return nil
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	if len(s.getErrs) > 0 {
		err := s.getErrs[0]
		s.getErrs = s.getErrs[1:]
		return "", err
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

type transientCacheError struct{}

func (transientCacheError) Error() string   { return "redis transient" }
func (transientCacheError) Timeout() bool   { return true }
func (transientCacheError) Temporary() bool { return true }

func newTestUseCase(repo *stubRepository, settings *stubSettings, cache Cache, adapters map[string]courier.Adapter) *FraudCheckUseCase {
	registry := courier.NewRegistry()
	for slug, adapter := range adapters {
		registry.Register(slug, adapter)
	}
	uc := NewFraudCheckUseCase(repo, settings, registry, cache, nil, zap.NewNop())
	uc.initialBackoff = time.Millisecond
	uc.maxBackoff = 2 * time.Millisecond
	return uc
}

func TestCheckReturnsStoredSummary(t *testing.T) {
	summary := &repository.PhoneSummary{Phone: "+8801700000000", Delivered: 3, Returned: 1, Ratios: scoring.Compute(3, 1, 0)}
	repo := &stubRepository{summary: summary}
	calls := 0
	adapter := courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
		calls++
		return nil, nil
	})
	uc := newTestUseCase(repo, &stubSettings{}, nil, map[string]courier.Adapter{"mock": adapter})

	res, err := uc.Check(context.Background(), "+8801700000000", nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if !res.Cached {
		t.Fatal("expected cached result")
	}
	if res.PhoneSummary != summary {
		t.Fatalf("expected stored summary, got %+v", res.PhoneSummary)
	}
	if calls != 0 {
		t.Fatalf("expected no adapter calls, got %d", calls)
	}

	body, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["total_orders"] != float64(4) || decoded["risk_ratio"] != 0.25 || decoded["cached"] != true {
		t.Fatalf("unexpected payload: %s", body)
	}
}

func TestCheckFallsBackToLiveProvidersAndCaches(t *testing.T) {
	repo := &stubRepository{}
	cache := &stubCache{}
	uc := newTestUseCase(repo, &stubSettings{}, cache, map[string]courier.Adapter{"mock": courier.NewMockAdapter()})

	res, err := uc.Check(context.Background(), "01700000000", nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if res.Cached {
		t.Fatal("expected live result")
	}
	mock := res.Providers["mock"]
	if mock == nil || mock.Delivered != 3 || mock.Phone != "+1700000000" {
		t.Fatalf("unexpected live payload: %+v", mock)
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("live check must not write to the store, got %d upserts", len(repo.upserts))
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "courier-check:+1700000000:mock" {
		t.Fatalf("unexpected cache keys: %v", cache.setKeys)
	}
}

func TestCheckServesLivePayloadsFromCache(t *testing.T) {
	cache := &stubCache{values: map[string]string{
		"courier-check:+8801700000000:mock": `{"mock":{"phone":"+8801700000000","courier":"mock","delivered":9}}`,
	}}
	calls := 0
	adapter := courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
		calls++
		return &courier.Payload{}, nil
	})
	uc := newTestUseCase(&stubRepository{}, &stubSettings{}, cache, map[string]courier.Adapter{"mock": adapter})

	res, err := uc.Check(context.Background(), "+8801700000000", nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected adapter to be skipped, got %d calls", calls)
	}
	if res.Providers["mock"].Delivered != 9 {
		t.Fatalf("expected cached payload, got %+v", res.Providers["mock"])
	}
}

func TestCheckRetriesTransientCacheErrors(t *testing.T) {
	cache := &stubCache{getErrs: []error{transientCacheError{}}}
	uc := newTestUseCase(&stubRepository{}, &stubSettings{}, cache, map[string]courier.Adapter{"mock": courier.NewMockAdapter()})

	res, err := uc.Check(context.Background(), "+8801700000000", nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if res.Providers["mock"] == nil {
		t.Fatal("expected live payload after cache retry")
	}
}

func TestCheckRejectsInvalidInput(t *testing.T) {
	uc := newTestUseCase(&stubRepository{}, &stubSettings{}, nil, nil)

	if _, err := uc.Check(context.Background(), "   ", nil); !IsValidationError(err) {
		t.Fatalf("expected validation error for empty phone, got %v", err)
	}
	if _, err := uc.Check(context.Background(), "+8801700000000", []string{"dhl"}); !IsValidationError(err) {
		t.Fatalf("expected validation error for unknown provider, got %v", err)
	}
	if _, err := uc.Check(context.Background(), "0171+2345", nil); !IsValidationError(err) {
		t.Fatalf("expected validation error for interior plus, got %v", err)
	}
}

func TestCheckPropagatesStorageErrors(t *testing.T) {
	storageErr := logging.NewOperationError("repository.get_by_phone", "", errors.New("connection refused"))
	uc := newTestUseCase(&stubRepository{summaryErr: storageErr}, &stubSettings{}, nil, nil)

	_, err := uc.Check(context.Background(), "+8801700000000", nil)
	if !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if IsValidationError(err) {
		t.Fatal("storage error must not look like a validation error")
	}
}

func TestCheckHonoursRequestedProviders(t *testing.T) {
	settings := &stubSettings{stored: map[string]map[string]any{"redx": {"enabled": true}}}
	redxCalls := 0
	uc := newTestUseCase(&stubRepository{}, settings, nil, map[string]courier.Adapter{
		"mock": courier.NewMockAdapter(),
		"redx": courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
			redxCalls++
			return &courier.Payload{Delivered: 1}, nil
		}),
	})

	res, err := uc.Check(context.Background(), "+8801700000000", []string{"redx"})
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(res.Providers) != 1 || res.Providers["redx"] == nil {
		t.Fatalf("expected only redx payload, got %v", res.Providers)
	}
	if redxCalls != 1 {
		t.Fatalf("expected 1 redx call, got %d", redxCalls)
	}
}

func TestRefreshPhoneUpsertsAndIsolatesAdapterErrors(t *testing.T) {
	repo := &stubRepository{}
	settings := &stubSettings{stored: map[string]map[string]any{"pathao": {"enabled": true}}}
	updatedAt := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	uc := newTestUseCase(repo, settings, nil, map[string]courier.Adapter{
		"mock": courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
			return &courier.Payload{Courier: "mock", Delivered: 3, Returned: 1, UpdatedAt: updatedAt}, nil
		}),
		"pathao": courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
			return nil, errors.New("token expired")
		}),
	})

	report, err := uc.RefreshPhone(context.Background(), "+880 1700-000000")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(repo.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(repo.upserts))
	}
	in := repo.upserts[0]
	if in.Phone != "+8801700000000" || in.Courier != "mock" || in.Delivered != 3 || in.Returned != 1 || !in.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("unexpected upsert: %+v", in)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "mock" {
		t.Fatalf("unexpected updated list: %v", report.Updated)
	}
	if report.Failed["pathao"] != "token expired" {
		t.Fatalf("expected pathao failure to be reported, got %v", report.Failed)
	}
}

func TestRefreshPhoneStoresUnderRegistrySlug(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubSettings{}, nil, map[string]courier.Adapter{
		"mock": courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
			return &courier.Payload{Courier: "Mock Courier Services Limited, Dhaka Regional Distribution Hub", Delivered: 2}, nil
		}),
	})

	report, err := uc.RefreshPhone(context.Background(), "+8801700000000")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(repo.upserts) != 1 || repo.upserts[0].Courier != "mock" {
		t.Fatalf("expected row keyed by slug, got %+v", repo.upserts)
	}
	if len(report.Updated) != 1 || report.Updated[0] != "mock" {
		t.Fatalf("unexpected updated list: %v", report.Updated)
	}
}

func TestRefreshPhoneSkipsNegativePayloads(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubSettings{}, nil, map[string]courier.Adapter{
		"mock": courier.AdapterFunc(func(ctx context.Context, phone string) (*courier.Payload, error) {
			return &courier.Payload{Delivered: -1}, nil
		}),
	})

	report, err := uc.RefreshPhone(context.Background(), "+8801700000000")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(repo.upserts) != 0 {
		t.Fatalf("expected no upserts, got %d", len(repo.upserts))
	}
	if _, ok := report.Failed["mock"]; !ok {
		t.Fatalf("expected mock failure, got %v", report.Failed)
	}
}

func TestRefreshPhoneAbortsOnStorageError(t *testing.T) {
	storageErr := errors.New("disk full")
	uc := newTestUseCase(&stubRepository{upsertErr: storageErr}, &stubSettings{}, nil, map[string]courier.Adapter{
		"mock": courier.NewMockAdapter(),
	})

	if _, err := uc.RefreshPhone(context.Background(), "+8801700000000"); !errors.Is(err, storageErr) {
		t.Fatalf("expected storage error, got %v", err)
	}
}

func TestRefreshAllVisitsEveryPhone(t *testing.T) {
	repo := &stubRepository{phones: []string{"+8801700000001", "+8801700000002"}}
	uc := newTestUseCase(repo, &stubSettings{}, nil, map[string]courier.Adapter{"mock": courier.NewMockAdapter()})

	summary, err := uc.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.Phones != 2 || summary.Updated != 2 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if len(repo.upserts) != 2 || repo.upserts[1].Phone != "+8801700000002" {
		t.Fatalf("unexpected upserts: %+v", repo.upserts)
	}
}

func TestImportMetricsValidates(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubSettings{}, nil, nil)
	ctx := context.Background()

	cases := []ImportInput{
		{Phone: "", Courier: "mock"},
		{Phone: "+8801700000000", Courier: "  "},
		{Phone: "+8801700000000", Courier: "mock", Cancelled: -2},
		{Phone: "+8801700000000", Courier: "this-courier-slug-is-far-too-long-to-fit-the-column-size"},
	}
	for _, in := range cases {
		if err := uc.ImportMetrics(ctx, in); !IsValidationError(err) {
			t.Fatalf("expected validation error for %+v, got %v", in, err)
		}
	}

	if err := uc.ImportMetrics(ctx, ImportInput{Phone: "01700000000", Courier: " steadfast ", Delivered: 4}); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(repo.upserts) != 1 || repo.upserts[0].Courier != "steadfast" || repo.upserts[0].Phone != "+1700000000" {
		t.Fatalf("unexpected upserts: %+v", repo.upserts)
	}
}

func TestDeleteMetricPassesThrough(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubSettings{}, nil, nil)

	if err := uc.DeleteMetric(context.Background(), 0); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
	if err := uc.DeleteMetric(context.Background(), 12); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(repo.deleted) != 2 || repo.deleted[1] != 12 {
		t.Fatalf("unexpected deletes: %v", repo.deleted)
	}
}

func TestRecentAppliesDefaultLimit(t *testing.T) {
	repo := &stubRepository{}
	uc := newTestUseCase(repo, &stubSettings{}, nil, nil)

	if _, err := uc.Recent(context.Background(), 0); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if _, err := uc.Recent(context.Background(), 5000); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if repo.recentArgs[0] != DefaultRecentLimit || repo.recentArgs[1] != maxRecentLimit {
		t.Fatalf("unexpected limits: %v", repo.recentArgs)
	}
}
