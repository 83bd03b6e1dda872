package speech

// Providers understood by the voice relay.
const (
	ProviderVolcengine = "volcengine"
	ProviderElevenLabs = "elevenlabs"
)

// SpeechConfig configures the text-to-speech upstream.
type SpeechConfig struct {
	Provider string `json:"provider"`

	// Volcengine
	AppID       string `json:"appId"`
	AccessToken string `json:"accessToken"`
	BaseURL     string `json:"baseUrl"`

	// ElevenLabs
	APIKey  string `json:"apiKey,omitempty"`
	ModelID string `json:"modelId,omitempty"`

	Voice    string  `json:"voice"`
	Speed    float32 `json:"speed"`
	Volume   float32 `json:"volume"`
	Language string  `json:"language"`

	Timeout int `json:"timeout"` // seconds
}
