package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
	speechmodel "github.com/islandproperties/concierge/backend/internal/model/speech"
)

var envKeys = []string{
	"PORT", "CORS_ALLOWED_ORIGINS",
	"LLM_PROVIDER", "LLM_MODEL_ID", "SOPHIA_MODEL_ID", "LLM_TEMPERATURE", "LLM_TOP_P", "LLM_MAX_TOKENS", "LLM_STREAM",
	"ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_BASE_URL", "ARK_REGION", "GEMINI_API_KEY",
	"CONCIERGE_ENABLED", "CONCIERGE_DEFAULT_PERSONA", "CONCIERGE_SESSION_TIMEOUT", "CONCIERGE_CONFIG_FILE",
	"CONCIERGE_MAX_MESSAGES", "CONCIERGE_CIRCUIT_THRESHOLD", "CONCIERGE_MAX_INPUT_CHARS", "CONCIERGE_HISTORY_WINDOW", "CONCIERGE_MAX_SESSIONS",
	"KB_SERVER_URL", "KB_TIMEOUT", "KB_TOP_K", "KB_MIN_SCORE",
	"COST_LEDGER_PATH", "COST_QUEUE_SIZE", "COST_VOICE_CHAR_RATE",
	"VOICE_MAX_REQUESTS", "VOICE_COOLDOWN", "VOICE_MAX_TEXT", "VOICE_PROVIDER", "VOICE_ID", "SOPHIA_VOICE_ID",
	"ELEVENLABS_API_KEY", "ELEVENLABS_MODEL_ID",
	"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_BASE_URL", "SPEECH_TIMEOUT", "SPEECH_TTS_SPEED", "SPEECH_TTS_VOLUME", "SPEECH_TTS_LANGUAGE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, ProviderArk, cfg.AI.Provider)
	assert.Equal(t, float32(0.7), cfg.AI.Temperature)
	assert.Equal(t, float32(0.9), cfg.AI.TopP)
	assert.Equal(t, 300, cfg.AI.MaxTokens)
	assert.True(t, cfg.AI.StreamResponse)
	assert.False(t, cfg.AI.Enabled())

	assert.True(t, cfg.Concierge.Enabled)
	assert.Equal(t, "yuna", cfg.Concierge.DefaultPersona)
	assert.Equal(t, 50, cfg.Concierge.MaxMessagesPerSession)
	assert.Equal(t, 30*time.Minute, cfg.Concierge.SessionTimeout)
	assert.Equal(t, 5, cfg.Concierge.CircuitBreakerThreshold)
	assert.Equal(t, 1000, cfg.Concierge.MaxInputChars)
	assert.Equal(t, 8, cfg.Concierge.HistoryWindow)

	assert.Equal(t, "http://localhost:3002", cfg.Knowledge.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Knowledge.Timeout)
	assert.Equal(t, 3, cfg.Knowledge.TopK)
	assert.Equal(t, 0.3, cfg.Knowledge.MinScore)

	assert.Equal(t, "costs.jsonl", filepath.Base(cfg.Cost.LedgerPath))
	assert.Equal(t, 0.016, cfg.Cost.VoiceCharRate)
	assert.Empty(t, cfg.Cost.Rates)

	assert.Equal(t, 20, cfg.Voice.MaxRequestsPerSession)
	assert.Equal(t, 3*time.Second, cfg.Voice.Cooldown)
	assert.Equal(t, 500, cfg.Voice.MaxTextLength)

	assert.Equal(t, speechmodel.ProviderVolcengine, cfg.Speech.Provider)
	assert.False(t, cfg.Speech.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://islandproperties.ph, https://www.islandproperties.ph")
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_MAX_TOKENS", "512")
	t.Setenv("LLM_STREAM", "false")
	t.Setenv("CONCIERGE_ENABLED", "false")
	t.Setenv("CONCIERGE_MAX_MESSAGES", "10")
	t.Setenv("CONCIERGE_SESSION_TIMEOUT", "45m")
	t.Setenv("KB_SERVER_URL", "http://kb.internal:3002/")
	t.Setenv("KB_MIN_SCORE", "0.5")
	t.Setenv("VOICE_COOLDOWN", "5s")
	t.Setenv("ELEVENLABS_API_KEY", "xi")
	t.Setenv("SOPHIA_VOICE_ID", "trained-voice")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://islandproperties.ph", "https://www.islandproperties.ph"}, cfg.Server.AllowedOrigins)

	assert.Equal(t, ProviderGemini, cfg.AI.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.AI.Model)
	assert.True(t, cfg.AI.Enabled())
	assert.Equal(t, float32(0.2), cfg.AI.Temperature)
	assert.Equal(t, 350, cfg.AI.MaxTokens, "reply budget is clamped")
	assert.False(t, cfg.AI.StreamResponse)

	assert.False(t, cfg.Concierge.Enabled)
	assert.Equal(t, 10, cfg.Concierge.MaxMessagesPerSession)
	assert.Equal(t, 45*time.Minute, cfg.Concierge.SessionTimeout)

	assert.Equal(t, "http://kb.internal:3002", cfg.Knowledge.BaseURL)
	assert.Equal(t, 0.5, cfg.Knowledge.MinScore)
	assert.Equal(t, 5*time.Second, cfg.Voice.Cooldown)

	assert.Equal(t, speechmodel.ProviderElevenLabs, cfg.Speech.Provider)
	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, "trained-voice", cfg.Speech.Voice)

	model := cfg.Speech.Model()
	assert.Equal(t, "xi", model.APIKey)
	assert.Equal(t, "eleven_multilingual_v2", model.ModelID)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := map[string]string{
		"PORT":                   "80 80",
		"LLM_PROVIDER":           "openai",
		"LLM_TEMPERATURE":        "warm",
		"LLM_MAX_TOKENS":         "0",
		"CONCIERGE_ENABLED":      "maybe",
		"CONCIERGE_MAX_MESSAGES": "-1",
		"KB_TIMEOUT":             "soon",
		"VOICE_COOLDOWN":         "-3s",
		"VOICE_PROVIDER":         "polly",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadRateOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "concierge.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[rates]]
match = "claude-3-5-haiku"
input = 0.0008
output = 0.004

[[personas]]
id = "yuna"
opening_line = "Welcome back."
`), 0o644))
	t.Setenv("CONCIERGE_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Concierge.ConfigFile)
	assert.Equal(t, []costmodel.Rate{{Match: "claude-3-5-haiku", Input: 0.0008, Output: 0.004}}, cfg.Cost.Rates)
}

func TestLoadRateOverlayMissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONCIERGE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestSpeechVolcengineNeedsBothCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPEECH_APP_ID", "app")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Speech.Enabled)

	t.Setenv("SPEECH_ACCESS_TOKEN", "token")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, speechmodel.ProviderVolcengine, cfg.Speech.Provider)
}

func TestMaxTokensClampedToReplyBudget(t *testing.T) {
	tests := map[string]int{
		"100":  250,
		"280":  280,
		"350":  350,
		"4096": 350,
	}
	for raw, want := range tests {
		t.Run(raw, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("LLM_MAX_TOKENS", raw)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, want, cfg.AI.MaxTokens)
		})
	}
}

func TestAIEnabled(t *testing.T) {
	assert.False(t, AIConfig{Provider: ProviderArk, APIKey: "k"}.Enabled(), "model id required")
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{Provider: ProviderArk, Model: "m", AccessKey: "a", SecretKey: "s"}.Enabled())
	assert.False(t, AIConfig{Provider: ProviderArk, Model: "m", AccessKey: "a"}.Enabled())
	assert.False(t, AIConfig{Provider: ProviderGemini, Model: "m", APIKey: "k"}.Enabled())
}
