package usecase

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/courier"
	"github.com/example/courier-risk/internal/logging"
)

// ProviderView is a catalog entry with its current values.
type ProviderView struct {
	courier.Provider
	Values     map[string]any `json:"values"`
	Enabled    bool           `json:"enabled"`
	Registered bool           `json:"registered"`
}

// ProviderSettings lists every supported provider with its effective settings.
func (uc *FraudCheckUseCase) ProviderSettings(ctx context.Context) ([]ProviderView, error) {
	stored, err := uc.settings.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}
	merged := courier.MergeSettings(stored)

	enabled := make(map[string]bool)
	for _, slug := range courier.EnabledProviders(merged) {
		enabled[slug] = true
	}

	providers := courier.SupportedProviders()
	out := make([]ProviderView, 0, len(providers))
	for _, p := range providers {
		out = append(out, ProviderView{
			Provider:   p,
			Values:     merged[p.Slug],
			Enabled:    enabled[p.Slug],
			Registered: uc.registry.Has(p.Slug),
		})
	}
	return out, nil
}

// UpdateProviderSettings merges fields into the stored settings of one provider.
func (uc *FraudCheckUseCase) UpdateProviderSettings(ctx context.Context, slug string, fields map[string]any) error {
	provider, ok := courier.LookupProvider(slug)
	if !ok {
		return invalid("provider", "unknown provider %q", slug)
	}

	types := make(map[string]courier.FieldType, len(provider.Fields))
	for _, f := range provider.Fields {
		types[f.Key] = f.Type
	}
	for key, value := range fields {
		fieldType, known := types[key]
		if !known {
			return invalid("fields", "unknown field %q for provider %q", key, slug)
		}
		if fieldType == courier.FieldToggle {
			if _, isBool := value.(bool); !isBool {
				return invalid("fields", "field %q must be a boolean", key)
			}
			continue
		}
		if _, isString := value.(string); !isString {
			return invalid("fields", "field %q must be a string", key)
		}
	}

	stored, err := uc.settings.LoadSettings(ctx)
	if err != nil {
		return err
	}
	next := make(map[string]any, len(stored[slug])+len(fields))
	for k, v := range stored[slug] {
		next[k] = v
	}
	for k, v := range fields {
		next[k] = v
	}

	if err := uc.settings.SaveSettings(ctx, slug, next); err != nil {
		logging.WithOperation(uc.logger, "usecase.update_provider_settings", logging.RequestIDFromContext(ctx)).
			Error("failed to save provider settings", zap.String("provider", slug), zap.Error(err))
		return err
	}
	return nil
}

// SeedProviderSettings stores seed values for providers that have no stored settings yet.
func (uc *FraudCheckUseCase) SeedProviderSettings(ctx context.Context, seed courier.Settings) error {
	stored, err := uc.settings.LoadSettings(ctx)
	if err != nil {
		return err
	}

	slugs := make([]string, 0, len(seed))
	for slug := range seed {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	for _, slug := range slugs {
		if _, exists := stored[slug]; exists {
			continue
		}
		if err := uc.UpdateProviderSettings(ctx, slug, seed[slug]); err != nil {
			return err
		}
		uc.logger.Info("seeded provider settings", zap.String("provider", slug))
	}
	return nil
}
