package interfaces

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"fulfillment/internal/pkg/logger"
	"fulfillment/internal/saga/domain"
	"fulfillment/internal/saga/domain/port"
)

// OpsHandler exposes the read-only query surface over the ledger for
// operational visibility. All writes stay with the orchestrator.
type OpsHandler struct {
	repo port.TransactionRepository
}

func NewOpsHandler(repo port.TransactionRepository) *OpsHandler {
	return &OpsHandler{repo: repo}
}

func (h *OpsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/transactions", h.getTransaction)
	mux.HandleFunc("/transactions/stats", h.getStats)
}

type stepView struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
}

type transactionView struct {
	ID                 string     `json:"id"`
	OrderNumber        string     `json:"orderNumber"`
	Status             string     `json:"status"`
	ClientRegistration stepView   `json:"clientRegistration"`
	WarehouseAdd       stepView   `json:"warehouseAdd"`
	RouteOptimization  stepView   `json:"routeOptimization"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

func (h *OpsHandler) getTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	orderNumber := r.URL.Query().Get("order")
	if orderNumber == "" {
		http.Error(w, "missing order query parameter", http.StatusBadRequest)
		return
	}

	tx, err := h.repo.FindByOrderNumber(r.Context(), orderNumber)
	if errors.Is(err, domain.ErrNotFound) {
		http.Error(w, "no transaction for order", http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Ctx(r.Context()).Error().Err(err).Msg("transaction lookup failed")
		http.Error(w, "ledger unavailable", http.StatusInternalServerError)
		return
	}

	writeJSON(w, transactionView{
		ID:                 tx.ID,
		OrderNumber:        tx.OrderNumber,
		Status:             string(tx.Status),
		ClientRegistration: stepView{Status: string(tx.Registration.Status), Response: tx.Registration.Response},
		WarehouseAdd:       stepView{Status: string(tx.Warehouse.Status), Response: tx.Warehouse.Response},
		RouteOptimization:  stepView{Status: string(tx.Routing.Status), Response: tx.Routing.Response},
		ErrorMessage:       tx.ErrorMessage,
		CreatedAt:          tx.CreatedAt,
		CompletedAt:        tx.CompletedAt,
	})
}

func (h *OpsHandler) getStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]int64{}
	for _, status := range []domain.Status{domain.StatusStarted, domain.StatusCompleted, domain.StatusFailed} {
		count, err := h.repo.CountByStatus(r.Context(), status)
		if err != nil {
			logger.Ctx(r.Context()).Error().Err(err).Msg("status count failed")
			http.Error(w, "ledger unavailable", http.StatusInternalServerError)
			return
		}
		stats[string(status)] = count
	}
	writeJSON(w, stats)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
