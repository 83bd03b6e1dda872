package cost

import (
	"math"
	"strings"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
)

// DefaultRates prices the model families the service talks to, in USD per
// 1000 tokens. Order matters: the first substring match wins.
var DefaultRates = []costmodel.Rate{
	{Match: "claude-3-5-haiku", Input: 0.001, Output: 0.005},
	{Match: "claude-3-5-sonnet", Input: 0.003, Output: 0.015},
	{Match: "claude-3-sonnet", Input: 0.003, Output: 0.015},
	{Match: "claude-3-haiku", Input: 0.00025, Output: 0.00125},
	{Match: "titan-embed", Input: 0.0002, Output: 0},
	{Match: "polly-neural", Input: 0, Output: 0},
	{Match: "gemini-2.5-flash", Input: 0.0003, Output: 0.0025},
	{Match: "gemini-2.5-pro", Input: 0.00125, Output: 0.01},
	{Match: "doubao-1-5-pro", Input: 0.00011, Output: 0.00028},
	{Match: "doubao-1-5-lite", Input: 0.00004, Output: 0.00008},
}

// DefaultRate applies when no entry matches the model id.
var DefaultRate = costmodel.Rate{Input: 0.001, Output: 0.005}

// DefaultCharRate is the voice price in USD per 1000 characters.
const DefaultCharRate = 0.016

// Pricer turns reported usage into a rounded USD amount.
type Pricer struct {
	rates    []costmodel.Rate
	charRate float64
}

// NewPricer puts overrides ahead of the default table so they win on match.
func NewPricer(overrides []costmodel.Rate, charRate float64) Pricer {
	rates := make([]costmodel.Rate, 0, len(overrides)+len(DefaultRates))
	for _, r := range overrides {
		if strings.TrimSpace(r.Match) == "" {
			continue
		}
		rates = append(rates, r)
	}
	rates = append(rates, DefaultRates...)
	if charRate <= 0 {
		charRate = DefaultCharRate
	}
	return Pricer{rates: rates, charRate: charRate}
}

// RateFor returns the first rate whose Match occurs in model.
func (p Pricer) RateFor(model string) costmodel.Rate {
	model = strings.ToLower(model)
	for _, r := range p.rates {
		if strings.Contains(model, strings.ToLower(r.Match)) {
			return r
		}
	}
	return DefaultRate
}

// Price computes the cost of one usage report rounded to six decimals.
func (p Pricer) Price(u costmodel.Usage) float64 {
	rate := p.RateFor(u.Model)
	total := float64(u.InputTokens)/1000*rate.Input + float64(u.OutputTokens)/1000*rate.Output
	if IsVoiceSource(u.Source) {
		total += float64(u.Chars) / 1000 * p.charRate
	}
	return round6(total)
}

// IsVoiceSource reports whether the source is billed per character.
func IsVoiceSource(source string) bool {
	switch strings.ToLower(source) {
	case costmodel.SourceVoice, "polly", "tts":
		return true
	}
	return false
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
