package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/mirror-speech/internal/host"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
	"github.com/capitalize-ai/mirror-speech/pkg/metrics"
)

// HeartbeatEvent keeps idle streams open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ReplayCompleteEvent is sent after stored records have been replayed.
type ReplayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	RecordCount  int    `json:"record_count"`
}

// StreamHandler streams turn status over server-sent events.
type StreamHandler struct {
	status    StatusSource
	records   RecordLister
	poll      time.Duration
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler. records may be nil.
func NewStreamHandler(status StatusSource, records RecordLister, poll time.Duration, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		status:    status,
		records:   records,
		poll:      poll,
		heartbeat: 30 * time.Second,
		logger:    logger.OrGlobal(log),
	}
}

// Stream handles GET /api/v1/turn/stream
// With ?after_sequence=N stored records of the session after N are replayed
// first. A status event is sent whenever the turn changes; the stream ends
// with a done event once the turn is finished.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := h.status.SessionID()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"session_id": sessionID,
	})

	if h.records != nil && r.URL.Query().Has("after_sequence") {
		h.replay(w, r, flusher, sessionID, queryUint(r, "after_sequence", 0))
	}

	last := h.status.Status()
	sendSSEEvent(w, flusher, "status", last)
	if last.Finished {
		sendSSEEvent(w, flusher, "done", map[string]bool{"success": last.Failure == ""})
		return
	}

	poll := time.NewTicker(h.poll)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("session_id", sessionID))
			return

		case <-poll.C:
			st := h.status.Status()
			if !changed(last, st) {
				continue
			}
			last = st
			sendSSEEvent(w, flusher, "status", st)
			if st.Finished {
				sendSSEEvent(w, flusher, "done", map[string]bool{"success": st.Failure == ""})
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

func (h *StreamHandler) replay(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sessionID string, afterSequence uint64) {
	var total int
	lastSequence := afterSequence

	for {
		resp, err := h.records.List(r.Context(), sessionID, lastSequence, 50)
		if err != nil {
			h.logger.Error("failed to replay turn records", zap.String("session_id", sessionID), zap.Error(err))
			sendSSEEvent(w, flusher, "error", map[string]string{
				"code":    "replay_error",
				"message": "Failed to replay turn records",
			})
			return
		}

		for _, rec := range resp.Records {
			if r.Context().Err() != nil {
				return
			}
			sendSSEEvent(w, flusher, "record", rec)
			total++
		}
		lastSequence = resp.LastSequence

		if !resp.HasMore {
			break
		}
	}

	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{
		LastSequence: lastSequence,
		RecordCount:  total,
	})
}

// changed reports whether anything but the clock readings differ.
func changed(a, b host.Status) bool {
	return a.State != b.State ||
		a.Turns != b.Turns ||
		a.Outstanding != b.Outstanding ||
		a.Answer != b.Answer ||
		a.Prompt != b.Prompt ||
		a.Failure != b.Failure ||
		a.Finished != b.Finished
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
