package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSSEChunkAndDone(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)

	require.NoError(t, SendSSEChunk(rec, rec, map[string]string{"delta": "Hello"}))
	require.NoError(t, SendSSEDone(rec, rec))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "data: {\"delta\":\"Hello\"}\n\ndata: [DONE]\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusBadRequest, "message is required")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"message is required"}`, rec.Body.String())
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":"hi","sessionId":"s1"}`))

	var body struct {
		Message   string `json:"message"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), req, &body))
	assert.Equal(t, "hi", body.Message)
	assert.Equal(t, "s1", body.SessionID)

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"message":`))
	err := DecodeJSON(httptest.NewRecorder(), bad, &body)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, DecodeStatus(err))
}

func TestDecodeJSONRejectsOversizedBody(t *testing.T) {
	payload := `{"message":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))

	var body struct {
		Message string `json:"message"`
	}
	err := DecodeJSON(httptest.NewRecorder(), req, &body)
	require.Error(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, DecodeStatus(err))
	assert.Empty(t, body.Message)
}
