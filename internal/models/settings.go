package models

// SettingsVersion is the schema version written with every settings record.
const SettingsVersion = 1

// Model selects the remote model variant.
type Model string

const (
	ModelGemini10Pro       Model = "gemini-1.0-pro"
	ModelGemini10ProVision Model = "gemini-1.0-pro-vision"
	ModelGemini15Pro       Model = "gemini-1.5-pro"
	ModelGemini15Flash     Model = "gemini-1.5-flash"
)

// KnownModels lists the built-in model ids in display order.
var KnownModels = []Model{
	ModelGemini10Pro,
	ModelGemini10ProVision,
	ModelGemini15Pro,
	ModelGemini15Flash,
}

type MessageLayout string

const (
	LayoutDefault MessageLayout = "default"
	LayoutCompact MessageLayout = "compact"
)

type TextSize string

const (
	TextSmall  TextSize = "small"
	TextMedium TextSize = "medium"
	TextLarge  TextSize = "large"
)

// Settings holds the user-configurable generation parameters and the API
// credential. There is exactly one record per installation.
type Settings struct {
	Version            int           `json:"version"`
	APIKey             *string       `json:"apiKey"`
	Model              Model         `json:"model"`
	Temperature        float64       `json:"temperature"`
	MaxTokens          int           `json:"maxTokens"`
	TopK               int           `json:"topK"`
	TopP               float64       `json:"topP"`
	MessageLayout      MessageLayout `json:"messageLayout"`
	TextSize           TextSize      `json:"textSize"`
	StatelessMode      bool          `json:"statelessMode"`
	CustomInstructions *string       `json:"customInstructions"`
}

// DefaultSettings returns a fresh copy of the documented defaults.
func DefaultSettings() Settings {
	return Settings{
		Version:       SettingsVersion,
		Model:         ModelGemini15Pro,
		Temperature:   0.7,
		MaxTokens:     1024,
		TopK:          40,
		TopP:          0.95,
		MessageLayout: LayoutDefault,
		TextSize:      TextMedium,
	}
}

// Clone copies the optional string fields so the copy shares no pointers.
func (s Settings) Clone() Settings {
	out := s
	if s.APIKey != nil {
		v := *s.APIKey
		out.APIKey = &v
	}
	if s.CustomInstructions != nil {
		v := *s.CustomInstructions
		out.CustomInstructions = &v
	}
	return out
}

// HasAPIKey reports whether a usable credential is configured.
func (s Settings) HasAPIKey() bool {
	return s.APIKey != nil && *s.APIKey != ""
}
