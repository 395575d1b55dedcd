package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/settlement"
	u "github.com/riteshkumar/agent-cash-ledger/internal/utils"
)

type SettlementHandler struct {
	batcher *settlement.Batcher
	logger  *slog.Logger
}

func NewSettlementHandler(batcher *settlement.Batcher, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{batcher: batcher, logger: logger}
}

func (h *SettlementHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/settlements/reconcile", h.Reconcile).Methods(http.MethodPost)
	router.HandleFunc("/settlements/{id}", h.GetBatch).Methods(http.MethodGet)
	router.HandleFunc("/settlements/{id}/submit", h.SubmitBatch).Methods(http.MethodPost)
	router.HandleFunc("/agents/{id}/settlements", h.ListByAgent).Methods(http.MethodGet)
}

func (h *SettlementHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req models.ReconcileRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid reconcile request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	batch, err := h.batcher.Reconcile(r.Context(), req.AgentID, req.BusinessDate)
	if err != nil {
		if errors.IsBatchAlreadyExists(err) && batch != nil {
			// Surface the existing batch so re-driven triggers can tell
			// "done" from "broken".
			u.WriteJSON(w, http.StatusConflict, batch)
			return
		}
		h.handleServiceError(w, err, "reconcile")
		return
	}
	u.WriteJSON(w, http.StatusCreated, batch)
}

func (h *SettlementHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	batch, err := h.batcher.GetBatch(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err, "get batch")
		return
	}
	u.WriteJSON(w, http.StatusOK, batch)
}

func (h *SettlementHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "settlement"
	}

	batch, err := h.batcher.SubmitBatch(r.Context(), id, actor)
	if err != nil {
		if errors.IsAlreadyProcessed(err) {
			u.WriteError(w, http.StatusConflict, "batch already submitted", err.Error())
			return
		}
		h.handleServiceError(w, err, "submit batch")
		return
	}
	u.WriteJSON(w, http.StatusOK, batch)
}

func (h *SettlementHandler) ListByAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	batches, err := h.batcher.ListByAgent(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err, "list batches")
		return
	}
	u.WriteJSON(w, http.StatusOK, batches)
}

func (h *SettlementHandler) handleServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", err.Error())
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case errors.IsConflict(err):
		u.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
