package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
	"github.com/islandproperties/concierge/backend/internal/model/speech"
)

var (
	ErrVoiceLimit    = errors.New("voice limit reached for this session")
	ErrVoiceCooldown = errors.New("please wait a moment before requesting voice again")
	ErrEmptyText     = errors.New("text is required")
	ErrSynthesis     = errors.New("voice generation temporarily unavailable")
)

// DefaultVoice is used when neither the persona nor the config names one.
const DefaultVoice = "Danielle"

// Synthesizer renders text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Name() string
}

// NewSynthesizer picks the client for cfg.Provider.
func NewSynthesizer(cfg *speech.SpeechConfig) (Synthesizer, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case speech.ProviderElevenLabs:
		return NewElevenLabsClient(cfg), nil
	case speech.ProviderVolcengine, "":
		return NewVolcengineTTSClient(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported speech provider: %s", cfg.Provider)
	}
}

// CostSink accepts usage reports without blocking.
type CostSink interface {
	Submit(u costmodel.Usage)
}

// RelayConfig holds the voice limits.
type RelayConfig struct {
	MaxRequests   int
	Cooldown      time.Duration
	MaxTextLength int
	// IdleTimeout drops limiter state for sessions not seen for this long.
	IdleTimeout time.Duration
	// MaxEntries caps the number of tracked sessions.
	MaxEntries int
	Now        func() time.Time
}

type voiceSession struct {
	count   int
	limiter *rate.Limiter
}

// Relay is the rate-limited proxy in front of a Synthesizer. Its counters are
// independent of the chat session store.
type Relay struct {
	synth Synthesizer
	costs CostSink
	cfg   RelayConfig

	mu       sync.Mutex
	sessions *expirable.LRU[string, *voiceSession]
}

// NewRelay creates the relay. costs may be nil.
func NewRelay(synth Synthesizer, costs CostSink, cfg RelayConfig) *Relay {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 20
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 3 * time.Second
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 500
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Relay{
		synth:    synth,
		costs:    costs,
		cfg:      cfg,
		sessions: expirable.NewLRU[string, *voiceSession](cfg.MaxEntries, nil, cfg.IdleTimeout),
	}
}

// Provider names the synthesizer in use.
func (r *Relay) Provider() string {
	return r.synth.Name()
}

// Synthesize checks the per-session count and cooldown, truncates text and
// forwards it. A request counts once it passes both checks, even if the
// upstream call then fails.
func (r *Relay) Synthesize(ctx context.Context, text, sessionKey, voice string) (*speech.TTSResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if err := r.admit(sessionKey); err != nil {
		log.Printf("[voice] session %s rejected: %v", sessionKey, err)
		return nil, err
	}

	text = truncateRunes(text, r.cfg.MaxTextLength)
	if strings.TrimSpace(voice) == "" {
		voice = DefaultVoice
	}

	resp, err := r.synth.Synthesize(ctx, &speech.TTSRequest{
		SessionID: sessionKey,
		Text:      text,
		Voice:     voice,
		Format:    "mp3",
	})
	if err != nil {
		log.Printf("[voice] %s synthesis failed for session %s: %v", r.synth.Name(), sessionKey, err)
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	if r.costs != nil {
		r.costs.Submit(costmodel.Usage{
			Source:    costmodel.SourceVoice,
			Model:     r.synth.Name(),
			SessionID: sessionKey,
			Chars:     utf8.RuneCountInString(text),
		})
	}
	return resp, nil
}

func (r *Relay) admit(key string) error {
	now := r.cfg.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Get(key)
	if !ok {
		s = &voiceSession{limiter: rate.NewLimiter(rate.Every(r.cfg.Cooldown), 1)}
	}
	// re-adding restarts the idle timer
	r.sessions.Add(key, s)

	if s.count >= r.cfg.MaxRequests {
		return ErrVoiceLimit
	}
	if !s.limiter.AllowN(now, 1) {
		return ErrVoiceCooldown
	}
	s.count++
	return nil
}

// Used reports how many requests a session has made.
func (r *Relay) Used(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions.Peek(key); ok {
		return s.count
	}
	return 0
}

// Tracked reports how many sessions hold limiter state.
func (r *Relay) Tracked() int {
	return r.sessions.Len()
}

// Close drops all limiter state.
func (r *Relay) Close() {
	r.sessions.Purge()
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
