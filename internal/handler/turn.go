package handler

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/host"
	"github.com/capitalize-ai/mirror-speech/internal/middleware"
	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

// StatusSource exposes the running turn.
type StatusSource interface {
	SessionID() string
	Status() host.Status
}

// RecordLister pages through stored turn records.
type RecordLister interface {
	List(ctx context.Context, sessionID string, afterSequence uint64, limit int) (*model.ListRecordsResponse, error)
}

// TurnHandler handles turn endpoints.
type TurnHandler struct {
	status  StatusSource
	records RecordLister
	stop    func()
	logger  *logger.Logger
}

// NewTurnHandler creates a new turn handler. records may be nil when the
// record stream is disabled.
func NewTurnHandler(status StatusSource, records RecordLister, stop func(), log *logger.Logger) *TurnHandler {
	return &TurnHandler{
		status:  status,
		records: records,
		stop:    stop,
		logger:  logger.OrGlobal(log),
	}
}

// Get handles GET /api/v1/turn
func (h *TurnHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status.Status())
}

// Stop handles POST /api/v1/turn/stop
func (h *TurnHandler) Stop(w http.ResponseWriter, r *http.Request) {
	st := h.status.Status()
	if st.Finished {
		writeError(w, http.StatusConflict, "turn already finished")
		return
	}

	h.logger.Info("turn stop requested",
		zap.String("operator", middleware.GetOperator(r.Context())),
		zap.String("correlation_id", middleware.GetCorrelationID(r.Context())),
	)
	h.stop()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "stopping",
		"session_id": st.SessionID,
	})
}

// ListRecords handles GET /api/v1/turns
// Supports ?session_id=, ?after_sequence=N and ?limit=N
func (h *TurnHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeError(w, http.StatusNotFound, "turn records are disabled")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = h.status.SessionID()
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	afterSequence := queryUint(r, "after_sequence", 0)
	limit := int(queryUint(r, "limit", 50))

	resp, err := h.records.List(r.Context(), sessionID, afterSequence, limit)
	if err != nil {
		h.logger.Error("failed to list turn records", zap.String("session_id", sessionID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list turn records")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
