package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/islandproperties/concierge/backend/internal/model/speech"
)

// DefaultVolcengineURL is the unidirectional streaming TTS endpoint.
const DefaultVolcengineURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

const (
	volcDefaultResource = "volc.service_type.10029"
	volcMegaResource    = "volc.megatts.default"
	volcSeedResource    = "seed-tts-2.0"

	volcDefaultSpeaker = "en_female_amy_jupiter_bigtts"
)

var errResourceMismatch = errors.New("resource ID is mismatched with speaker related resource")

// VolcengineTTSClient synthesizes speech over the Volcengine websocket API.
type VolcengineTTSClient struct {
	config *speech.SpeechConfig
	dialer *websocket.Dialer

	url          string
	dialAttempts int
	retryDelay   time.Duration
	now          func() time.Time
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// NewVolcengineTTSClient creates the client.
func NewVolcengineTTSClient(config *speech.SpeechConfig) *VolcengineTTSClient {
	url := strings.TrimSpace(config.BaseURL)
	if url == "" {
		url = DefaultVolcengineURL
	}
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VolcengineTTSClient{
		config:       config,
		dialer:       &websocket.Dialer{HandshakeTimeout: timeout},
		url:          url,
		dialAttempts: 3,
		retryDelay:   time.Second,
		now:          time.Now,
	}
}

// Name identifies the provider in cost entries.
func (c *VolcengineTTSClient) Name() string {
	return speech.ProviderVolcengine
}

// Synthesize renders req.Text to audio. Speakers are tried in order and each
// speaker falls back across resource ids when the server reports a mismatch.
func (c *VolcengineTTSClient) Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("TTS text is empty")
	}
	appKey := strings.TrimSpace(c.config.AppID)
	accessKey := strings.TrimSpace(c.config.AccessToken)
	if appKey == "" || accessKey == "" {
		return nil, fmt.Errorf("volcengine credentials are not configured")
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := resolveSpeakerCandidates(req.Voice, c.config.Voice)
	var lastMismatch error
	for _, speaker := range speakers {
		for idx, resourceID := range resolveResourceCandidates(speaker) {
			resp, err := c.synthesizeWithResource(ctx, req, appKey, accessKey, speaker, encoding, resourceID)
			if err == nil {
				if idx > 0 {
					log.Printf("[voice] speaker %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return resp, nil
			}
			if !errors.Is(err, errResourceMismatch) {
				return nil, err
			}
			log.Printf("[voice] speaker %s resource %s mismatch", speaker, resourceID)
			lastMismatch = err
		}
	}
	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("no compatible resource for speakers %v", speakers)
}

func (c *VolcengineTTSClient) synthesizeWithResource(
	ctx context.Context,
	req *speech.TTSRequest,
	appKey, accessKey, speaker, encoding, resourceID string,
) (*speech.TTSResponse, error) {
	connectID := uuid.New().String()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, err := c.dial(ctx, header)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// unblock ReadMessage when the caller goes away
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	ttsReq, uid := c.buildRequest(req, speaker, encoding)
	payload, err := sonic.ConfigStd.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, NewRequestFrame(payload).Encode()); err != nil {
		return nil, fmt.Errorf("send TTS request: %w", err)
	}

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read TTS response: %w", err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}
		body, err := frame.Body()
		if err != nil {
			return nil, fmt.Errorf("decompress TTS frame: %w", err)
		}

		switch frame.Type {
		case FrameError:
			if strings.Contains(string(body), errResourceMismatch.Error()) {
				return nil, fmt.Errorf("TTS error %d: %w", frame.ErrorCode, errResourceMismatch)
			}
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(body))

		case FrameAudioOnlyReply:
			audio.Write(body)
			if !frame.IsLast() {
				continue
			}

		case FrameFullServerReply:
			var msg ttsServerMessage
			if len(body) > 0 {
				if err := sonic.ConfigStd.Unmarshal(body, &msg); err != nil {
					log.Printf("[voice] unreadable TTS reply: %v", err)
				}
			}
			if msg.Code != 0 && msg.Code != 3000 {
				if strings.Contains(msg.Message, errResourceMismatch.Error()) {
					return nil, fmt.Errorf("TTS API error %d: %w", msg.Code, errResourceMismatch)
				}
				return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
			}
			if msg.ReqID != "" {
				reqID = msg.ReqID
			}
			if msg.Addition.Duration != "" {
				if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
					duration = ms
				}
			}
			if msg.Data != "" {
				chunk, err := base64.StdEncoding.DecodeString(msg.Data)
				if err != nil {
					return nil, fmt.Errorf("decode base64 audio chunk: %w", err)
				}
				audio.Write(chunk)
			}

			finished := frame.hasEvent() && frame.Event == EventSessionFinished
			if !finished && !frame.IsLast() && msg.Sequence >= 0 {
				continue
			}

		default:
			log.Printf("[voice] unexpected TTS frame type: %d", frame.Type)
			continue
		}

		if audio.Len() == 0 {
			return nil, fmt.Errorf("TTS audio is empty")
		}
		if reqID == "" {
			reqID = connectID
		}
		sessionID := strings.TrimSpace(req.SessionID)
		if sessionID == "" {
			sessionID = uid
		}
		return &speech.TTSResponse{
			SessionID: sessionID,
			AudioData: audio.Bytes(),
			Duration:  duration,
			Format:    encoding,
			RequestID: reqID,
			CreatedAt: c.now(),
		}, nil
	}
}

// dial connects with linear backoff. Handshake rejections other than 5xx are
// final.
func (c *VolcengineTTSClient) dial(ctx context.Context, header http.Header) (*websocket.Conn, error) {
	attempts := c.dialAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
		if err == nil {
			if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
				log.Printf("[voice] TTS connected, logid %s", logid)
			}
			return conn, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isRetryableDialError(resp, err) {
			break
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * c.retryDelay):
		}
	}
	return nil, fmt.Errorf("connect to TTS websocket: %w", lastErr)
}

func isRetryableDialError(resp *http.Response, err error) bool {
	if resp != nil {
		return resp.StatusCode >= http.StatusInternalServerError
	}
	if websocket.IsCloseError(err, websocket.CloseAbnormalClosure, websocket.CloseGoingAway) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, websocket.ErrBadHandshake)
}

func (c *VolcengineTTSClient) buildRequest(req *speech.TTSRequest, speaker, encoding string) (*volcengineTTSRequest, string) {
	ttsReq := &volcengineTTSRequest{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.New().String()
	}
	ttsReq.User.UID = uid

	ttsReq.ReqParams.Speaker = speaker
	ttsReq.ReqParams.Text = req.Text
	ttsReq.ReqParams.AudioParams.Format = encoding
	ttsReq.ReqParams.AudioParams.SampleRate = 24000

	speed := req.Speed
	if speed <= 0 {
		speed = c.config.Speed
	}
	if speed > 0 && speed != 1.0 {
		ttsReq.ReqParams.AudioParams.SpeedRatio = speed
	}

	volume := req.Volume
	if volume <= 0 {
		volume = c.config.Volume
	}
	if volume > 0 && volume != 1.0 {
		ttsReq.ReqParams.AudioParams.VolumeRatio = volume
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = strings.TrimSpace(c.config.Language)
	}
	ttsReq.ReqParams.Language = language
	ttsReq.ReqParams.Additions = `{"disable_markdown_filter":true}`

	return ttsReq, uid
}

// Resource ids differ between the classic and the seed voice families.
func resolveResourceCandidates(speaker string) []string {
	if strings.HasPrefix(speaker, "S_") {
		return []string{volcMegaResource}
	}
	normalized := strings.ToLower(speaker)
	for _, hint := range []string{"bigtts", "seed", "megatts", "jupiter", "uranus", "venus", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{volcSeedResource, volcDefaultResource}
		}
	}
	return []string{volcDefaultResource, volcSeedResource}
}

// speakerAliases maps the voice names the web client sends to Volcengine
// speakers.
var speakerAliases = map[string]string{
	"danielle": "en_female_amy_jupiter_bigtts",
	"joanna":   "en_female_amy_jupiter_bigtts",
	"salli":    "en_female_sarah_mars_bigtts",
	"matthew":  "en_male_adam_mars_bigtts",
	"seoyeon":  "ko_female_sohee_mars_bigtts",
	"default":  volcDefaultSpeaker,
}

func resolveSpeakerCandidates(requested, configured string) []string {
	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := speakerAliases[strings.ToLower(s)]; ok {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(configured)
	add(volcDefaultSpeaker)
	return candidates
}
