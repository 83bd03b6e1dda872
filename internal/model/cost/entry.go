package cost

// Sources recorded in the ledger.
const (
	SourceChat  = "chat"
	SourceVoice = "voice"
)

// Usage is what a caller reports about one upstream invocation. It is also
// the body accepted by the cost-log endpoint.
type Usage struct {
	Source       string `json:"source"`
	Model        string `json:"model"`
	SessionID    string `json:"session_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Chars        int    `json:"chars,omitempty"`
	Note         string `json:"note,omitempty"`
}

// Entry is one immutable line of the cost ledger.
type Entry struct {
	TS           string  `json:"ts"`
	Date         string  `json:"date"`
	Source       string  `json:"source"`
	Model        string  `json:"model"`
	SessionID    string  `json:"session_id"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
	Note         string  `json:"note,omitempty"`
}

// Rate prices one model family in USD per 1000 tokens. Match is a substring
// of the model identifier.
type Rate struct {
	Match  string  `json:"match" toml:"match"`
	Input  float64 `json:"input" toml:"input"`
	Output float64 `json:"output" toml:"output"`
}
