package speech

import "time"

// TTSResponse carries the synthesized audio.
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ContentType maps the audio format to a MIME type.
func (r *TTSResponse) ContentType() string {
	switch r.Format {
	case "", "mp3", "mpeg":
		return "audio/mpeg"
	case "ogg_opus", "opus":
		return "audio/ogg"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/" + r.Format
	}
}
