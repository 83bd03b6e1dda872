package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/islandproperties/concierge/backend/internal/model/persona"
	"github.com/islandproperties/concierge/backend/internal/model/speech"
	chatservice "github.com/islandproperties/concierge/backend/internal/service/chat"
	speechsvc "github.com/islandproperties/concierge/backend/internal/service/speech"
	"github.com/islandproperties/concierge/backend/pkg/utils"
)

// VoiceRelay abstracts the rate-limited synthesizer for tests.
type VoiceRelay interface {
	Synthesize(ctx context.Context, text, sessionKey, voice string) (*speech.TTSResponse, error)
}

// Handler serves the voice endpoint.
type Handler struct {
	relay        VoiceRelay
	personaStore persona.Store
}

// New creates the voice handler.
func New(relay VoiceRelay, personaStore persona.Store) *Handler {
	return &Handler{
		relay:        relay,
		personaStore: personaStore,
	}
}

// RegisterRoutes mounts POST /{persona}/voice.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/{persona}/voice", h.handleVoice)
}

type voiceRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	p, ok := h.personaStore.FindByID(chi.URLParam(r, "persona"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}

	var req voiceRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, utils.DecodeStatus(err), "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "Text is required")
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = chatservice.AnonymousSession
	}

	resp, err := h.relay.Synthesize(r.Context(), req.Text, p.ID+":"+sessionID, p.VoiceID)
	switch {
	case err == nil:
	case errors.Is(err, speechsvc.ErrVoiceLimit):
		utils.RespondError(w, http.StatusTooManyRequests, "Voice limit reached for this session")
		return
	case errors.Is(err, speechsvc.ErrVoiceCooldown):
		utils.RespondError(w, http.StatusTooManyRequests, "Please wait a moment before requesting voice again")
		return
	default:
		log.Printf("[voice] persona=%s session=%s: %v", p.ID, sessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "Voice generation temporarily unavailable")
		return
	}

	w.Header().Set("Content-Type", resp.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("[voice] session=%s write audio: %v", sessionID, err)
	}
}
