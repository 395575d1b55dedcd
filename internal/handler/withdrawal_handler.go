package handler

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/agent-cash-ledger/internal/approval"
	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	u "github.com/riteshkumar/agent-cash-ledger/internal/utils"
)

type WithdrawalHandler struct {
	workflow *approval.Workflow
	logger   *slog.Logger
}

func NewWithdrawalHandler(workflow *approval.Workflow, logger *slog.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{workflow: workflow, logger: logger}
}

func (h *WithdrawalHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/withdrawals", h.SubmitWithdrawal).Methods(http.MethodPost)
	router.HandleFunc("/withdrawals", h.ListWithdrawals).Methods(http.MethodGet).Queries("status", "{status}")
	router.HandleFunc("/withdrawals/{id}", h.GetWithdrawal).Methods(http.MethodGet)
	router.HandleFunc("/withdrawals/{id}/decision", h.DecideWithdrawal).Methods(http.MethodPost)
	router.HandleFunc("/withdrawals/{id}/complete", h.CompleteWithdrawal).Methods(http.MethodPost)
}

func (h *WithdrawalHandler) SubmitWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitWithdrawalRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid withdrawal submission", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	request, err := h.workflow.Submit(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, err, "submit withdrawal")
		return
	}
	u.WriteJSON(w, http.StatusCreated, request)
}

func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	status := models.WithdrawalStatus(mux.Vars(r)["status"])
	requests, err := h.workflow.ListByStatus(r.Context(), status)
	if err != nil {
		h.handleServiceError(w, err, "list withdrawals")
		return
	}
	u.WriteJSON(w, http.StatusOK, requests)
}

func (h *WithdrawalHandler) GetWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	request, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err, "get withdrawal")
		return
	}
	u.WriteJSON(w, http.StatusOK, request)
}

func (h *WithdrawalHandler) DecideWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.DecideWithdrawalRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	request, err := h.workflow.Decide(r.Context(), id, req)
	if err != nil {
		if stderrors.Is(err, errors.ErrDenialReasonRequired) {
			u.WriteError(w, http.StatusBadRequest, "denial reason required", "denials must carry an enumerated reason")
			return
		}
		h.handleServiceError(w, err, "decide withdrawal")
		return
	}
	u.WriteJSON(w, http.StatusOK, request)
}

func (h *WithdrawalHandler) CompleteWithdrawal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "payout"
	}

	request, err := h.workflow.Complete(r.Context(), id, actor)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidState) {
			u.WriteError(w, http.StatusConflict, "request not approved", err.Error())
			return
		}
		h.handleServiceError(w, err, "complete withdrawal")
		return
	}
	u.WriteJSON(w, http.StatusOK, request)
}

func (h *WithdrawalHandler) handleServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "withdrawal request not found", err.Error())
	case errors.IsAlreadyProcessed(err):
		// The first decision stands; the racing administrator is told why.
		u.WriteError(w, http.StatusConflict, "already processed", "another administrator already decided this request")
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case err == errors.ErrInvalidAmount:
		u.WriteError(w, http.StatusBadRequest, "invalid amount", err.Error())
	default:
		h.logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
