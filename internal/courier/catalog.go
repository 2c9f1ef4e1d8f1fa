package courier

import "sort"

// FieldType describes how a provider setting is edited.
type FieldType string

const (
	FieldToggle   FieldType = "toggle"
	FieldText     FieldType = "text"
	FieldPassword FieldType = "password"
	FieldURL      FieldType = "url"
)

// Field is a single configurable provider setting.
type Field struct {
	Key         string    `json:"key"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Description string    `json:"description"`
	Default     any       `json:"default"`
}

// Provider describes a supported courier and its settings.
type Provider struct {
	Slug        string  `json:"slug"`
	Label       string  `json:"label"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

// Settings holds provider field values keyed by slug, then field key.
type Settings map[string]map[string]any

var supportedProviders = []Provider{
	{
		Slug:        MockSlug,
		Label:       "Mock Provider",
		Description: "Synthetic data source for demos, QA and fallback testing.",
		Fields: []Field{
			{Key: "enabled", Type: FieldToggle, Label: "Enable Mock Provider", Default: true},
			{Key: "api_key", Type: FieldText, Label: "API Key", Description: "Optional token used to emulate authentication.", Default: ""},
		},
	},
	{
		Slug:        "pathao",
		Label:       "Pathao",
		Description: "Pathao Merchant API delivery and return history.",
		Fields: []Field{
			{Key: "enabled", Type: FieldToggle, Label: "Enable Pathao Sync", Default: false},
			{Key: "client_id", Type: FieldText, Label: "Client ID", Default: ""},
			{Key: "client_secret", Type: FieldPassword, Label: "Client Secret", Default: ""},
			{Key: "username", Type: FieldText, Label: "Username / Merchant ID", Default: ""},
			{Key: "password", Type: FieldPassword, Label: "Password", Default: ""},
		},
	},
	{
		Slug:        "steadfast",
		Label:       "Steadfast",
		Description: "Steadfast courier performance metrics.",
		Fields: []Field{
			{Key: "enabled", Type: FieldToggle, Label: "Enable Steadfast Sync", Default: false},
			{Key: "api_key", Type: FieldText, Label: "API Key", Default: ""},
			{Key: "api_secret", Type: FieldPassword, Label: "API Secret", Default: ""},
			{Key: "base_url", Type: FieldURL, Label: "Base URL", Description: "Leave blank for the default endpoint.", Default: ""},
		},
	},
	{
		Slug:        "redx",
		Label:       "REDX",
		Description: "REDX courier reports.",
		Fields: []Field{
			{Key: "enabled", Type: FieldToggle, Label: "Enable REDX Sync", Default: false},
			{Key: "api_key", Type: FieldText, Label: "API Key", Default: ""},
			{Key: "api_secret", Type: FieldPassword, Label: "API Secret", Default: ""},
			{Key: "warehouse_code", Type: FieldText, Label: "Warehouse / Store Code", Default: ""},
		},
	},
}

// SupportedProviders returns the provider catalog.
func SupportedProviders() []Provider {
	out := make([]Provider, len(supportedProviders))
	copy(out, supportedProviders)
	return out
}

// LookupProvider finds a provider in the catalog.
func LookupProvider(slug string) (Provider, bool) {
	for _, p := range supportedProviders {
		if p.Slug == slug {
			return p, true
		}
	}
	return Provider{}, false
}

// Defaults returns the default value of every provider field.
func Defaults() Settings {
	out := make(Settings, len(supportedProviders))
	for _, p := range supportedProviders {
		fields := make(map[string]any, len(p.Fields))
		for _, f := range p.Fields {
			switch {
			case f.Default != nil:
				fields[f.Key] = f.Default
			case f.Type == FieldToggle:
				fields[f.Key] = false
			default:
				fields[f.Key] = ""
			}
		}
		out[p.Slug] = fields
	}
	return out
}

// MergeSettings overlays stored values on the defaults. Unknown providers and
// fields are dropped.
func MergeSettings(stored Settings) Settings {
	out := Defaults()
	for slug, fields := range stored {
		defaults, ok := out[slug]
		if !ok {
			continue
		}
		for key, value := range fields {
			if _, known := defaults[key]; known {
				defaults[key] = value
			}
		}
	}
	return out
}

// EnabledProviders returns the sorted slugs whose "enabled" field is truthy.
func EnabledProviders(settings Settings) []string {
	var out []string
	for slug, fields := range settings {
		if truthy(fields["enabled"]) {
			out = append(out, slug)
		}
	}
	sort.Strings(out)
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && t != "0" && t != "false"
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}
