package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/ledger"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/repository"
	u "github.com/riteshkumar/agent-cash-ledger/internal/utils"
)

type AgentHandler struct {
	agents repository.AgentRepository
	floats *ledger.FloatLedger
	logger *slog.Logger
}

func NewAgentHandler(agents repository.AgentRepository, floats *ledger.FloatLedger, logger *slog.Logger) *AgentHandler {
	return &AgentHandler{
		agents: agents,
		floats: floats,
		logger: logger,
	}
}

func (h *AgentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/agents", h.CreateAgent).Methods(http.MethodPost)
	router.HandleFunc("/agents/{id}", h.GetAgent).Methods(http.MethodGet)
	router.HandleFunc("/agents/{id}/topup", h.TopUp).Methods(http.MethodPost)
	router.HandleFunc("/agents/{id}/deactivate", h.Deactivate).Methods(http.MethodPost)
}

func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAgentRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid create agent request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	if req.ID == "" || req.Name == "" {
		u.WriteError(w, http.StatusBadRequest, "validation error", "id and name must be non-empty")
		return
	}
	if req.InitialFloat < 0 {
		u.WriteError(w, http.StatusBadRequest, "validation error", "initial float cannot be negative")
		return
	}

	agent := &models.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Rank:         req.Rank,
		Tier:         req.Tier,
		FloatBalance: req.InitialFloat,
		Active:       true,
		Online:       true,
	}
	if err := h.agents.Create(r.Context(), agent); err != nil {
		h.handleServiceError(w, err, "create agent")
		return
	}
	u.WriteJSON(w, http.StatusCreated, agent)
}

func (h *AgentHandler) GetAgent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	agent, err := h.agents.GetByID(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err, "get agent")
		return
	}
	u.WriteJSON(w, http.StatusOK, agent)
}

func (h *AgentHandler) TopUp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.TopUpRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	newBalance, err := h.floats.TopUp(r.Context(), id, req.Amount, req.Actor)
	if err != nil {
		h.handleServiceError(w, err, "top up float")
		return
	}
	u.WriteJSON(w, http.StatusOK, map[string]any{
		"agent_id":      id,
		"float_balance": newBalance,
	})
}

func (h *AgentHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.agents.SetActive(r.Context(), id, false); err != nil {
		h.handleServiceError(w, err, "deactivate agent")
		return
	}
	u.WriteJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "deactivated"})
}

func (h *AgentHandler) handleServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "agent not found", err.Error())
	case errors.IsConflict(err):
		u.WriteError(w, http.StatusConflict, "agent already exists", err.Error())
	case err == errors.ErrInvalidAmount:
		u.WriteError(w, http.StatusBadRequest, "invalid amount", err.Error())
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	default:
		h.logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
