package courier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type settingsFile struct {
	Providers map[string]map[string]any `yaml:"providers"`
}

// LoadSettingsFile reads provider settings from a YAML document of the form
//
//	providers:
//	  mock:
//	    enabled: true
//
// Unknown providers are rejected so typos do not silently disable a courier.
func LoadSettingsFile(path string) (Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider settings: %w", err)
	}

	var doc settingsFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse provider settings %s: %w", path, err)
	}

	out := make(Settings, len(doc.Providers))
	for slug, fields := range doc.Providers {
		if _, ok := LookupProvider(slug); !ok {
			return nil, fmt.Errorf("parse provider settings %s: unknown provider %q", path, slug)
		}
		if fields == nil {
			fields = map[string]any{}
		}
		out[slug] = fields
	}
	return out, nil
}
