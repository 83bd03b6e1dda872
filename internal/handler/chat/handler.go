package chat

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/islandproperties/concierge/backend/internal/model/chat"
	"github.com/islandproperties/concierge/backend/internal/model/persona"
	chatService "github.com/islandproperties/concierge/backend/internal/service/chat"
	"github.com/islandproperties/concierge/backend/internal/service/prompt"
	"github.com/islandproperties/concierge/backend/pkg/utils"
)

// Handler serves the chat endpoint.
type Handler struct {
	gateway        *chatService.Gateway
	personaStore   persona.Store
	defaultPersona string
}

// New creates the chat handler.
func New(gateway *chatService.Gateway, personaStore persona.Store) *Handler {
	return &Handler{
		gateway:      gateway,
		personaStore: personaStore,
	}
}

// WithDefaultPersona also serves POST /chat as the given persona.
func (h *Handler) WithDefaultPersona(id string) *Handler {
	h.defaultPersona = strings.TrimSpace(id)
	return h
}

// RegisterRoutes mounts POST /{persona}/chat, and POST /chat when a default
// persona is set.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/{persona}/chat", h.handleChat)
	if h.defaultPersona != "" {
		r.Post("/chat", h.handleChat)
	}
}

// handleChat answers with an SSE stream of deltas, or with a JSON reply for
// every canned outcome and when streaming is off.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "persona")
	if id == "" {
		id = h.defaultPersona
	}
	p, ok := h.personaStore.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "persona not found")
		return
	}

	var req chat.Request
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, utils.DecodeStatus(err), "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	req.PersonaID = p.ID

	ctx := r.Context()
	var (
		turn    *chatService.Turn
		started bool
	)
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[chat] persona=%s panic: %v", p.ID, rec)
			if started {
				return
			}
			sessionID := strings.TrimSpace(req.SessionID)
			if sessionID == "" {
				sessionID = chatService.AnonymousSession
			}
			generic := chat.Reply{Reply: p.RepliesFor(prompt.DetectLanguage(req.Message)).Generic, SessionID: sessionID}
			if turn != nil {
				generic = turn.FallbackReply()
			}
			utils.RespondJSON(w, http.StatusOK, generic)
		}
	}()

	turn, canned := h.gateway.Begin(ctx, p, req)
	if canned != nil {
		utils.RespondJSON(w, http.StatusOK, canned)
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !h.gateway.Streaming() || !canFlush {
		reply, err := turn.Generate(ctx)
		if errors.Is(err, chatService.ErrAborted) {
			return
		}
		utils.RespondJSON(w, http.StatusOK, reply)
		return
	}

	err := turn.Stream(ctx, func(delta string) error {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return utils.SendSSEChunk(w, flusher, chat.Delta{Delta: delta})
	})

	switch {
	case err == nil:
		if !started {
			// empty reply: answer in one piece so the widget still shows text
			utils.RespondJSON(w, http.StatusOK, turn.FallbackReply())
			return
		}
		if err := utils.SendSSEDone(w, flusher); err != nil {
			log.Printf("[chat] session=%s: %v", turn.SessionID(), err)
		}
	case errors.Is(err, chatService.ErrAborted):
		log.Printf("[chat] session=%s stream ended early: %v", turn.SessionID(), err)
	case !started:
		utils.RespondJSON(w, http.StatusOK, turn.FallbackReply())
	default:
		if err := utils.SendSSEChunk(w, flusher, chat.StreamError{Error: true}); err != nil {
			log.Printf("[chat] session=%s: %v", turn.SessionID(), err)
		}
	}
}
