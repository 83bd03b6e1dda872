package speech

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandproperties/concierge/backend/internal/model/speech"
)

type volcServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	// reply writes the server side of one session.
	reply func(conn *websocket.Conn, resource string, req volcengineTTSRequest)

	mu        sync.Mutex
	resources []string
	headers   []http.Header
	requests  []volcengineTTSRequest
}

func (s *volcServer) seen() ([]string, []http.Header, []volcengineTTSRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resources, s.headers, s.requests
}

func (s *volcServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if !assert.NoError(s.t, err) {
		return
	}
	defer conn.Close()

	resource := r.Header.Get("X-Api-Resource-Id")
	s.mu.Lock()
	s.resources = append(s.resources, resource)
	s.headers = append(s.headers, r.Header.Clone())
	s.mu.Unlock()

	_, data, err := conn.ReadMessage()
	if !assert.NoError(s.t, err) {
		return
	}
	frame, err := DecodeFrame(data)
	if !assert.NoError(s.t, err) {
		return
	}
	assert.Equal(s.t, FrameFullClientRequest, frame.Type)

	var req volcengineTTSRequest
	assert.NoError(s.t, sonic.ConfigStd.Unmarshal(frame.Payload, &req))
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	s.reply(conn, resource, req)
}

func send(t *testing.T, conn *websocket.Conn, f *Frame) {
	t.Helper()
	assert.NoError(t, conn.WriteMessage(websocket.BinaryMessage, f.Encode()))
}

func newVolcClient(t *testing.T, handler *volcServer) *VolcengineTTSClient {
	t.Helper()
	handler.t = t
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewVolcengineTTSClient(&speech.SpeechConfig{
		Provider:    speech.ProviderVolcengine,
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		Language:    "en-US",
		Timeout:     5,
	})
	client.retryDelay = time.Millisecond
	return client
}

func TestVolcengineSynthesizeAudioFrames(t *testing.T) {
	handler := &volcServer{reply: func(conn *websocket.Conn, _ string, _ volcengineTTSRequest) {
		send(t, conn, &Frame{Type: FrameAudioOnlyReply, Flags: FlagSequence, Sequence: 1, Payload: []byte("ID3")})
		send(t, conn, &Frame{Type: FrameAudioOnlyReply, Flags: FlagLastWithSeq, Sequence: -2, Payload: []byte("tail")})
	}}
	client := newVolcClient(t, handler)

	resp, err := client.Synthesize(context.Background(), &speech.TTSRequest{SessionID: "sophia:abc", Text: "Hello there", Voice: "Danielle"})
	require.NoError(t, err)
	assert.Equal(t, "ID3tail", string(resp.AudioData))
	assert.Equal(t, "mp3", resp.Format)
	assert.Equal(t, "sophia:abc", resp.SessionID)
	assert.NotEmpty(t, resp.RequestID)

	_, headers, requests := handler.seen()
	require.Len(t, requests, 1)
	gotReq := requests[0]
	assert.Equal(t, "en_female_amy_jupiter_bigtts", gotReq.ReqParams.Speaker)
	assert.Equal(t, "Hello there", gotReq.ReqParams.Text)
	assert.Equal(t, "sophia:abc", gotReq.User.UID)
	assert.Equal(t, "en-US", gotReq.ReqParams.Language)

	require.Len(t, headers, 1)
	h := headers[0]
	assert.Equal(t, "app", h.Get("X-Api-App-Key"))
	assert.Equal(t, "token", h.Get("X-Api-Access-Key"))
	assert.Equal(t, volcSeedResource, h.Get("X-Api-Resource-Id"))
	assert.NotEmpty(t, h.Get("X-Api-Connect-Id"))
}

func TestVolcengineSynthesizeJSONReply(t *testing.T) {
	handler := &volcServer{reply: func(conn *websocket.Conn, _ string, _ volcengineTTSRequest) {
		payload, _ := sonic.ConfigStd.Marshal(map[string]any{
			"reqid":    "req-42",
			"code":     3000,
			"data":     base64.StdEncoding.EncodeToString([]byte("mp3bytes")),
			"addition": map[string]string{"duration": "1250"},
		})
		send(t, conn, &Frame{
			Type:          FrameFullServerReply,
			Flags:         FlagEvent,
			Serialization: SerializationJSON,
			Event:         EventSessionFinished,
			SessionID:     "sess",
			Payload:       payload,
		})
	}}
	client := newVolcClient(t, handler)

	resp, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(resp.AudioData))
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, int64(1250), resp.Duration)
}

func TestVolcengineResourceFallback(t *testing.T) {
	handler := &volcServer{reply: func(conn *websocket.Conn, resource string, _ volcengineTTSRequest) {
		if resource == volcSeedResource {
			send(t, conn, &Frame{
				Type:      FrameError,
				ErrorCode: 45000000,
				Payload:   []byte(`{"error":"resource ID is mismatched with speaker related resource"}`),
			})
			return
		}
		send(t, conn, &Frame{Type: FrameAudioOnlyReply, Flags: FlagLastNoSeq, Payload: []byte("ok")})
	}}
	client := newVolcClient(t, handler)

	resp, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi", Voice: "Joanna"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.AudioData))
	resources, _, _ := handler.seen()
	assert.Equal(t, []string{volcSeedResource, volcDefaultResource}, resources)
}

func TestVolcengineServerError(t *testing.T) {
	handler := &volcServer{reply: func(conn *websocket.Conn, _ string, _ volcengineTTSRequest) {
		send(t, conn, &Frame{Type: FrameError, ErrorCode: 40000001, Payload: []byte("quota exceeded")})
	}}
	client := newVolcClient(t, handler)

	_, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi"})
	assert.ErrorContains(t, err, "quota exceeded")
	resources, _, _ := handler.seen()
	assert.Len(t, resources, 1)
}

func TestVolcengineRequiresCredentials(t *testing.T) {
	client := NewVolcengineTTSClient(&speech.SpeechConfig{})
	_, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi"})
	assert.ErrorContains(t, err, "credentials")
}

func TestVolcengineDialDoesNotRetryRejectedHandshake(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewVolcengineTTSClient(&speech.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	client.retryDelay = time.Millisecond

	_, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi"})
	assert.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestVolcengineDialRetriesServerErrors(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewVolcengineTTSClient(&speech.SpeechConfig{
		AppID:       "app",
		AccessToken: "token",
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
	})
	client.retryDelay = time.Millisecond

	_, err := client.Synthesize(context.Background(), &speech.TTSRequest{Text: "Hi"})
	assert.Error(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestResolveSpeakerCandidates(t *testing.T) {
	assert.Equal(t, []string{"en_female_amy_jupiter_bigtts"}, resolveSpeakerCandidates("Danielle", ""))
	assert.Equal(t,
		[]string{"S_custom", "en_female_sarah_mars_bigtts", "en_female_amy_jupiter_bigtts"},
		resolveSpeakerCandidates("S_custom", "salli"))
	assert.Equal(t, []string{volcDefaultSpeaker}, resolveSpeakerCandidates("", ""))
}

func TestResolveResourceCandidates(t *testing.T) {
	assert.Equal(t, []string{volcMegaResource}, resolveResourceCandidates("S_custom"))
	assert.Equal(t, []string{volcSeedResource, volcDefaultResource}, resolveResourceCandidates("en_female_amy_jupiter_bigtts"))
	assert.Equal(t, []string{volcDefaultResource, volcSeedResource}, resolveResourceCandidates("BV001_streaming"))
}
