package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/islandproperties/concierge/backend/internal/handler/chat"
	"github.com/islandproperties/concierge/backend/internal/handler/cost"
	"github.com/islandproperties/concierge/backend/internal/handler/persona"
	"github.com/islandproperties/concierge/backend/internal/handler/speech"
	middlewarePkg "github.com/islandproperties/concierge/backend/internal/middleware"
	personaModel "github.com/islandproperties/concierge/backend/internal/model/persona"
	chatService "github.com/islandproperties/concierge/backend/internal/service/chat"
	"github.com/islandproperties/concierge/backend/pkg/utils"
)

// Deps are the services the router exposes. Voice and Costs may be nil, in
// which case their routes answer 503.
type Deps struct {
	Personas       personaModel.Store
	DefaultPersona string
	Gateway        *chatService.Gateway
	Voice          speech.VoiceRelay
	Costs          cost.Recorder
	AllowedOrigins []string
	Features       map[string]bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	startedAt := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"uptime":   time.Since(startedAt).Round(time.Second).String(),
				"features": deps.Features,
			})
		})

		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Gateway, deps.Personas).WithDefaultPersona(deps.DefaultPersona).RegisterRoutes(api)

		if deps.Voice != nil {
			speech.New(deps.Voice, deps.Personas).RegisterRoutes(api)
		} else {
			api.Post("/{persona}/voice", unavailable("voice unavailable"))
		}

		if deps.Costs != nil {
			cost.New(deps.Costs).RegisterRoutes(api)
		} else {
			api.Post("/cost-log", unavailable("cost ledger unavailable"))
		}
	})

	return r
}

func unavailable(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, message)
	}
}
