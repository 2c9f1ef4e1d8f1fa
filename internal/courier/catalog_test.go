package courier

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDefaultsEnableOnlyMock(t *testing.T) {
	got := EnabledProviders(Defaults())
	if want := []string{"mock"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestMergeSettingsIgnoresUnknownProvidersAndFields(t *testing.T) {
	merged := MergeSettings(Settings{
		"pathao":  {"enabled": true, "client_id": "abc", "nonsense": 1},
		"unknown": {"enabled": true},
	})

	if _, ok := merged["unknown"]; ok {
		t.Fatal("unknown provider should be dropped")
	}
	if _, ok := merged["pathao"]["nonsense"]; ok {
		t.Fatal("unknown field should be dropped")
	}
	if merged["pathao"]["client_id"] != "abc" {
		t.Fatalf("expected stored value, got %v", merged["pathao"]["client_id"])
	}
	if merged["pathao"]["password"] != "" {
		t.Fatalf("expected default for missing field, got %v", merged["pathao"]["password"])
	}
	if got, want := EnabledProviders(merged), []string{"mock", "pathao"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLoadSettingsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	doc := "providers:\n  mock:\n    enabled: false\n  redx:\n    enabled: true\n    api_key: k-1\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	settings, err := LoadSettingsFile(path)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if got, want := EnabledProviders(MergeSettings(settings)), []string{"redx"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if settings["redx"]["api_key"] != "k-1" {
		t.Fatalf("unexpected api key: %v", settings["redx"]["api_key"])
	}
}

func TestLoadSettingsFileRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "providers.yaml")
	if err := os.WriteFile(path, []byte("providers:\n  dhl:\n    enabled: true\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if _, err := LoadSettingsFile(path); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
