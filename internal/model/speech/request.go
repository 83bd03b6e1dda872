package speech

// TTSRequest is a synthesis request passed to a Synthesizer.
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`
	Speed     float32 `json:"speed"`
	Volume    float32 `json:"volume"`
	Format    string  `json:"format"`
	Language  string  `json:"language"`
}
