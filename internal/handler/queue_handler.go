package handler

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/agent-cash-ledger/internal/errors"
	"github.com/riteshkumar/agent-cash-ledger/internal/offline"
	u "github.com/riteshkumar/agent-cash-ledger/internal/utils"
)

type QueueHandler struct {
	queue  *offline.Queue
	logger *slog.Logger
}

func NewQueueHandler(queue *offline.Queue, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{queue: queue, logger: logger}
}

func (h *QueueHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/queue/{id}/retry", h.RetryEntry).Methods(http.MethodPost)
	router.HandleFunc("/queue/attention", h.ListNeedsAttention).Methods(http.MethodGet)
}

// RetryEntry replays one entry on demand. A nil body means the wrapped
// movement reached a terminal state and the entry was removed.
func (h *QueueHandler) RetryEntry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, err := h.queue.Retry(r.Context(), id)
	if err != nil {
		if errors.IsNotFound(err) {
			u.WriteError(w, http.StatusNotFound, "queue entry not found", err.Error())
			return
		}
		h.logger.Error("internal server error during queue retry", "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	if entry == nil {
		u.WriteJSON(w, http.StatusOK, map[string]string{"entry_id": id, "status": "replayed"})
		return
	}
	u.WriteJSON(w, http.StatusOK, entry)
}

func (h *QueueHandler) ListNeedsAttention(w http.ResponseWriter, r *http.Request) {
	entries, err := h.queue.NeedsAttention(r.Context())
	if err != nil {
		h.logger.Error("internal server error listing attention entries", "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	u.WriteJSON(w, http.StatusOK, entries)
}
