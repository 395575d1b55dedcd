package handler

import (
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/lifecycle"
	"github.com/riteshkumar/agent-cash-ledger/internal/models"
	"github.com/riteshkumar/agent-cash-ledger/internal/offline"
	u "github.com/riteshkumar/agent-cash-ledger/internal/utils"
)

type MovementHandler struct {
	machine *lifecycle.Machine
	queue   *offline.Queue
	logger  *slog.Logger
}

func NewMovementHandler(machine *lifecycle.Machine, queue *offline.Queue, logger *slog.Logger) *MovementHandler {
	return &MovementHandler{
		machine: machine,
		queue:   queue,
		logger:  logger,
	}
}

func (h *MovementHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/movements", h.SubmitMovement).Methods(http.MethodPost)
	router.HandleFunc("/movements/{id}", h.GetMovement).Methods(http.MethodGet)
	router.HandleFunc("/movements/{id}/otp", h.VerifyOtp).Methods(http.MethodPost)
	router.HandleFunc("/movements/{id}/cancel", h.CancelMovement).Methods(http.MethodPost)
}

// SubmitMovement executes a movement synchronously, or captures it in the
// offline queue when the client flags itself disconnected.
func (h *MovementHandler) SubmitMovement(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitMovement
	if err := u.DecodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid submit movement request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	if req.Offline {
		entry, err := h.queue.Enqueue(r.Context(), req)
		if err != nil {
			h.handleServiceError(w, err, "enqueue movement")
			return
		}
		u.WriteJSON(w, http.StatusAccepted, entry)
		return
	}

	movement, err := h.machine.Submit(r.Context(), req)
	if err != nil {
		// A failed reservation still produced a terminal movement record.
		if movement != nil && errors.IsInsufficientFloat(err) {
			u.WriteJSON(w, http.StatusUnprocessableEntity, movement)
			return
		}
		h.handleServiceError(w, err, "submit movement")
		return
	}
	u.WriteJSON(w, http.StatusCreated, movement)
}

func (h *MovementHandler) GetMovement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	movement, err := h.machine.GetMovement(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err, "get movement")
		return
	}
	u.WriteJSON(w, http.StatusOK, movement)
}

func (h *MovementHandler) VerifyOtp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req models.VerifyOtpRequest
	if err := u.DecodeJSON(r, &req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	movement, err := h.machine.VerifyOtp(r.Context(), id, req.Code)
	if err != nil {
		var attemptErr *errors.OtpAttemptError
		switch {
		case stderrors.As(err, &attemptErr):
			u.WriteError(w, http.StatusUnauthorized, "otp incorrect", attemptErr.Error())
		case stderrors.Is(err, errors.ErrOtpExpired):
			u.WriteError(w, http.StatusGone, "otp expired", err.Error())
		case stderrors.Is(err, errors.ErrOtpNotPending):
			u.WriteError(w, http.StatusConflict, "movement not awaiting otp", err.Error())
		default:
			h.handleServiceError(w, err, "verify otp")
		}
		return
	}
	u.WriteJSON(w, http.StatusOK, movement)
}

func (h *MovementHandler) CancelMovement(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "agent"
	}

	movement, err := h.machine.Cancel(r.Context(), id, actor)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidState) {
			u.WriteError(w, http.StatusConflict, "movement already terminal", err.Error())
			return
		}
		h.handleServiceError(w, err, "cancel movement")
		return
	}
	u.WriteJSON(w, http.StatusOK, movement)
}

func (h *MovementHandler) handleServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", err.Error())
	case errors.IsInsufficientFloat(err):
		u.WriteError(w, http.StatusUnprocessableEntity, "insufficient float", "agent float cannot cover the movement")
	case errors.IsValidationError(err):
		u.WriteError(w, http.StatusBadRequest, "validation error", err.Error())
	case err == errors.ErrInvalidAmount:
		u.WriteError(w, http.StatusBadRequest, "invalid amount", err.Error())
	case err == errors.ErrAgentInactive:
		u.WriteError(w, http.StatusForbidden, "agent deactivated", err.Error())
	default:
		h.logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
