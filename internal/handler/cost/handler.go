package cost

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	costmodel "github.com/islandproperties/concierge/backend/internal/model/cost"
	"github.com/islandproperties/concierge/backend/pkg/utils"
)

// Recorder prices and persists one usage report.
type Recorder interface {
	Record(ctx context.Context, u costmodel.Usage) (costmodel.Entry, error)
}

// Handler serves the cost-log endpoint.
type Handler struct {
	ledger Recorder
}

// New creates the cost handler.
func New(ledger Recorder) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes mounts POST /cost-log.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/cost-log", h.handleCostLog)
}

type costLogResponse struct {
	OK      bool    `json:"ok"`
	CostUSD float64 `json:"cost_usd"`
	Error   string  `json:"error,omitempty"`
}

func (h *Handler) handleCostLog(w http.ResponseWriter, r *http.Request) {
	var usage costmodel.Usage
	if err := utils.DecodeJSON(w, r, &usage); err != nil {
		utils.RespondJSON(w, utils.DecodeStatus(err), costLogResponse{Error: "invalid request body"})
		return
	}

	entry, err := h.ledger.Record(r.Context(), usage)
	if err != nil {
		log.Printf("[cost] record %s/%s failed: %v", usage.Source, usage.Model, err)
		utils.RespondJSON(w, http.StatusInternalServerError, costLogResponse{Error: "failed to log cost"})
		return
	}
	utils.RespondJSON(w, http.StatusOK, costLogResponse{OK: true, CostUSD: entry.CostUSD})
}
