package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
	speechmodel "github.com/islandproperties/concierge/backend/internal/model/speech"
	"github.com/islandproperties/concierge/backend/internal/service/ai/gemini"
)

// LLM providers.
const (
	ProviderArk    = "ark"
	ProviderGemini = "gemini"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Concierge ConciergeConfig
	Knowledge KnowledgeConfig
	Cost      CostConfig
	Voice     VoiceConfig
	Speech    SpeechConfig
}

// Load reads configuration from environment variables. Every value has a
// default; only malformed values are errors.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	concierge, err := loadConciergeConfig()
	if err != nil {
		return nil, err
	}

	knowledge, err := loadKnowledgeConfig()
	if err != nil {
		return nil, err
	}

	cost, err := loadCostConfig(concierge.ConfigFile)
	if err != nil {
		return nil, err
	}

	voice, err := loadVoiceConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Concierge: concierge,
		Knowledge: knowledge,
		Cost:      cost,
		Voice:     voice,
		Speech:    speech,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"))

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" verbatim.
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// AIConfig describes the upstream language model.
type AIConfig struct {
	Provider       string
	APIKey         string
	AccessKey      string
	SecretKey      string
	GeminiAPIKey   string
	Model          string
	BaseURL        string
	Region         string
	Temperature    float32
	TopP           float32
	MaxTokens      int
	StreamResponse bool
}

// Enabled reports whether the credentials for the selected provider exist.
func (c AIConfig) Enabled() bool {
	if c.Model == "" {
		return false
	}
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey != ""
	default:
		return c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != "")
	}
}

// NewChatModel builds the configured model backend. Sampling parameters are
// applied per call by the gateway, not here.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s credentials or model id missing", c.Provider)
	}

	switch c.Provider {
	case ProviderGemini:
		return gemini.NewChatModel(ctx, c.GeminiAPIKey, c.Model)
	case ProviderArk:
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:   c.BaseURL,
			Region:    c.Region,
			APIKey:    c.APIKey,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			Model:     c.Model,
		})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", c.Provider)
	}
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderArk))
	if provider != ProviderArk && provider != ProviderGemini {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("LLM_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	defaultModel := "doubao-1-5-pro-32k-250115"
	if provider == ProviderGemini {
		defaultModel = "gemini-2.5-flash"
	}
	modelID := getEnvOrDefault("LLM_MODEL_ID", getEnvOrDefault("SOPHIA_MODEL_ID", defaultModel))

	cfg := AIConfig{
		Provider:       provider,
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		GeminiAPIKey:   strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:          modelID,
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    0.7,
		TopP:           0.9,
		MaxTokens:      300,
		StreamResponse: stream,
	}
	if temperature != nil {
		cfg.Temperature = float32(*temperature)
	}
	if topP != nil {
		cfg.TopP = float32(*topP)
	}
	if maxTokens != nil {
		if *maxTokens < 1 {
			return AIConfig{}, fmt.Errorf("LLM_MAX_TOKENS must be positive, got %d", *maxTokens)
		}
		cfg.MaxTokens = clampMaxTokens(*maxTokens)
	}
	return cfg, nil
}

// Reply budget bounds; the per-turn cost ceiling assumes a short answer.
const (
	minReplyTokens = 250
	maxReplyTokens = 350
)

func clampMaxTokens(n int) int {
	clamped := min(max(n, minReplyTokens), maxReplyTokens)
	if clamped != n {
		log.Printf("warning: LLM_MAX_TOKENS=%d outside %d-%d, using %d", n, minReplyTokens, maxReplyTokens, clamped)
	}
	return clamped
}

// ConciergeConfig holds the chat gateway limits and persona selection.
type ConciergeConfig struct {
	Enabled                 bool
	DefaultPersona          string
	MaxMessagesPerSession   int
	SessionTimeout          time.Duration
	CircuitBreakerThreshold int
	MaxInputChars           int
	HistoryWindow           int
	MaxSessions             int
	ConfigFile              string
}

func loadConciergeConfig() (ConciergeConfig, error) {
	enabled, err := parseBoolEnv("CONCIERGE_ENABLED", true)
	if err != nil {
		return ConciergeConfig{}, err
	}

	timeout, err := parseDurationEnv("CONCIERGE_SESSION_TIMEOUT", 30*time.Minute)
	if err != nil {
		return ConciergeConfig{}, err
	}

	cfg := ConciergeConfig{
		Enabled:        enabled,
		DefaultPersona: getEnvOrDefault("CONCIERGE_DEFAULT_PERSONA", "yuna"),
		SessionTimeout: timeout,
		ConfigFile:     strings.TrimSpace(os.Getenv("CONCIERGE_CONFIG_FILE")),
	}

	type intSetting struct {
		key string
		def int
		dst *int
	}
	for _, item := range []intSetting{
		{"CONCIERGE_MAX_MESSAGES", 50, &cfg.MaxMessagesPerSession},
		{"CONCIERGE_CIRCUIT_THRESHOLD", 5, &cfg.CircuitBreakerThreshold},
		{"CONCIERGE_MAX_INPUT_CHARS", 1000, &cfg.MaxInputChars},
		{"CONCIERGE_HISTORY_WINDOW", 8, &cfg.HistoryWindow},
		{"CONCIERGE_MAX_SESSIONS", 10000, &cfg.MaxSessions},
	} {
		val, err := parsePositiveIntEnv(item.key, item.def)
		if err != nil {
			return ConciergeConfig{}, err
		}
		*item.dst = val
	}
	return cfg, nil
}

// KnowledgeConfig points at the semantic search service.
type KnowledgeConfig struct {
	BaseURL  string
	Timeout  time.Duration
	TopK     int
	MinScore float64
}

func loadKnowledgeConfig() (KnowledgeConfig, error) {
	timeout, err := parseDurationEnv("KB_TIMEOUT", 2*time.Second)
	if err != nil {
		return KnowledgeConfig{}, err
	}

	topK, err := parsePositiveIntEnv("KB_TOP_K", 3)
	if err != nil {
		return KnowledgeConfig{}, err
	}

	minScore := 0.3
	if override, err := parseOptionalFloatEnv("KB_MIN_SCORE"); err != nil {
		return KnowledgeConfig{}, err
	} else if override != nil {
		minScore = *override
	}

	return KnowledgeConfig{
		BaseURL:  strings.TrimRight(getEnvOrDefault("KB_SERVER_URL", "http://localhost:3002"), "/"),
		Timeout:  timeout,
		TopK:     topK,
		MinScore: minScore,
	}, nil
}

// CostConfig locates the ledger and prices usage.
type CostConfig struct {
	LedgerPath    string
	QueueSize     int
	VoiceCharRate float64
	Rates         []costmodel.Rate
}

type rateFile struct {
	Rates []costmodel.Rate `toml:"rates"`
}

func loadCostConfig(overlayPath string) (CostConfig, error) {
	queueSize, err := parsePositiveIntEnv("COST_QUEUE_SIZE", 256)
	if err != nil {
		return CostConfig{}, err
	}

	charRate := 0.016
	if override, err := parseOptionalFloatEnv("COST_VOICE_CHAR_RATE"); err != nil {
		return CostConfig{}, err
	} else if override != nil {
		charRate = *override
	}

	cfg := CostConfig{
		LedgerPath:    getEnvOrDefault("COST_LEDGER_PATH", defaultLedgerPath()),
		QueueSize:     queueSize,
		VoiceCharRate: charRate,
	}

	if overlayPath != "" {
		var file rateFile
		if _, err := toml.DecodeFile(overlayPath, &file); err != nil {
			return CostConfig{}, fmt.Errorf("decode %s: %w", overlayPath, err)
		}
		cfg.Rates = file.Rates
	}
	return cfg, nil
}

func defaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join("data", "cost-tracker", "costs.jsonl")
	}
	return filepath.Join(home, ".openclaw", "workspace", "cost-tracker", "costs.jsonl")
}

// VoiceConfig holds the voice relay limits.
type VoiceConfig struct {
	MaxRequestsPerSession int
	Cooldown              time.Duration
	MaxTextLength         int
}

func loadVoiceConfig() (VoiceConfig, error) {
	maxRequests, err := parsePositiveIntEnv("VOICE_MAX_REQUESTS", 20)
	if err != nil {
		return VoiceConfig{}, err
	}

	cooldown, err := parseDurationEnv("VOICE_COOLDOWN", 3*time.Second)
	if err != nil {
		return VoiceConfig{}, err
	}

	maxText, err := parsePositiveIntEnv("VOICE_MAX_TEXT", 500)
	if err != nil {
		return VoiceConfig{}, err
	}

	return VoiceConfig{
		MaxRequestsPerSession: maxRequests,
		Cooldown:              cooldown,
		MaxTextLength:         maxText,
	}, nil
}

// SpeechConfig describes the text-to-speech upstream.
type SpeechConfig struct {
	Provider    string
	AppID       string
	AccessToken string
	BaseURL     string
	APIKey      string
	ModelID     string
	Voice       string
	Speed       float32
	Volume      float32
	Language    string
	Timeout     int
	Enabled     bool
}

// Model converts the section into the speech service configuration.
func (c SpeechConfig) Model() *speechmodel.SpeechConfig {
	return &speechmodel.SpeechConfig{
		Provider:    c.Provider,
		AppID:       c.AppID,
		AccessToken: c.AccessToken,
		BaseURL:     c.BaseURL,
		APIKey:      c.APIKey,
		ModelID:     c.ModelID,
		Voice:       c.Voice,
		Speed:       c.Speed,
		Volume:      c.Volume,
		Language:    c.Language,
		Timeout:     c.Timeout,
	}
}

func loadSpeechConfig() (SpeechConfig, error) {
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	speed, err := parseOptionalFloat32Env("SPEECH_TTS_SPEED")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsSpeed := float32(1.0)
	if speed != nil {
		ttsSpeed = *speed
	}

	volume, err := parseOptionalFloat32Env("SPEECH_TTS_VOLUME")
	if err != nil {
		return SpeechConfig{}, err
	}
	ttsVolume := float32(1.0)
	if volume != nil {
		ttsVolume = *volume
	}

	apiKey := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY"))
	appID := strings.TrimSpace(os.Getenv("SPEECH_APP_ID"))
	accessToken := strings.TrimSpace(os.Getenv("SPEECH_ACCESS_TOKEN"))

	defaultProvider := speechmodel.ProviderVolcengine
	if apiKey != "" {
		defaultProvider = speechmodel.ProviderElevenLabs
	}
	provider := strings.ToLower(getEnvOrDefault("VOICE_PROVIDER", defaultProvider))

	var enabled bool
	switch provider {
	case speechmodel.ProviderElevenLabs:
		enabled = apiKey != ""
	case speechmodel.ProviderVolcengine:
		enabled = appID != "" && accessToken != ""
	default:
		return SpeechConfig{}, fmt.Errorf("invalid VOICE_PROVIDER value %q", provider)
	}

	return SpeechConfig{
		Provider:    provider,
		AppID:       appID,
		AccessToken: accessToken,
		BaseURL:     getEnvOrDefault("SPEECH_BASE_URL", ""),
		APIKey:      apiKey,
		ModelID:     getEnvOrDefault("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		Voice:       getEnvOrDefault("VOICE_ID", getEnvOrDefault("SOPHIA_VOICE_ID", "")),
		Speed:       ttsSpeed,
		Volume:      ttsVolume,
		Language:    getEnvOrDefault("SPEECH_TTS_LANGUAGE", "en-US"),
		Timeout:     timeoutSeconds,
		Enabled:     enabled,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 1 {
		return 0, fmt.Errorf("invalid %s value %d: must be positive", key, *val)
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
