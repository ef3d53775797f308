package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/mirror-speech/internal/host"
	"github.com/capitalize-ai/mirror-speech/internal/model"
	"github.com/capitalize-ai/mirror-speech/internal/turn"
	"github.com/capitalize-ai/mirror-speech/pkg/logger"
)

type fakeStatus struct {
	mu sync.Mutex
	st host.Status
}

func (f *fakeStatus) SessionID() string { return "s1" }

func (f *fakeStatus) Status() host.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStatus) set(st host.Status) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

type fakeRecords struct {
	resp       *model.ListRecordsResponse
	err        error
	gotSession string
	gotAfter   uint64
	gotLimit   int
}

func (f *fakeRecords) List(ctx context.Context, sessionID string, afterSequence uint64, limit int) (*model.ListRecordsResponse, error) {
	f.gotSession, f.gotAfter, f.gotLimit = sessionID, afterSequence, limit
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

func TestHealth(t *testing.T) {
	h := NewHealthHandler(fakeConn(false))

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(fakeConn(true)).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTurnHandler_Get(t *testing.T) {
	status := &fakeStatus{st: host.Status{SessionID: "s1", State: turn.StateListenInput, Turns: 2}}
	h := NewTurnHandler(status, nil, func() {}, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Get(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turn", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "listen_input", body["state"])
	assert.Equal(t, float64(2), body["turns"])
}

func TestTurnHandler_Stop(t *testing.T) {
	status := &fakeStatus{st: host.Status{SessionID: "s1", State: turn.StateAskPerformed}}
	stopped := 0
	h := NewTurnHandler(status, nil, func() { stopped++ }, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/turn/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, stopped)

	status.set(host.Status{SessionID: "s1", State: turn.StateClose, Finished: true})
	rec = httptest.NewRecorder()
	h.Stop(rec, httptest.NewRequest(http.MethodPost, "/api/v1/turn/stop", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 1, stopped)
}

func TestTurnHandler_ListRecords(t *testing.T) {
	records := &fakeRecords{resp: &model.ListRecordsResponse{
		Records:      []model.TurnRecord{{ID: "r1", SessionID: "s1", Outcome: model.OutcomeClosed, Sequence: 3}},
		LastSequence: 3,
	}}
	h := NewTurnHandler(&fakeStatus{}, records, func() {}, logger.NewNop())

	rec := httptest.NewRecorder()
	h.ListRecords(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns?after_sequence=2&limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "s1", records.gotSession)
	assert.Equal(t, uint64(2), records.gotAfter)
	assert.Equal(t, 10, records.gotLimit)

	var resp model.ListRecordsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "r1", resp.Records[0].ID)

	rec = httptest.NewRecorder()
	h.ListRecords(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns?session_id=a.b", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	records.err = errors.New("down")
	rec = httptest.NewRecorder()
	h.ListRecords(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns?session_id=other", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "other", records.gotSession)

	rec = httptest.NewRecorder()
	NewTurnHandler(&fakeStatus{}, nil, func() {}, logger.NewNop()).
		ListRecords(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turns", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamHandler_FinishedTurn(t *testing.T) {
	status := &fakeStatus{st: host.Status{SessionID: "s1", State: turn.StateClose, Finished: true}}
	records := &fakeRecords{resp: &model.ListRecordsResponse{
		Records:      []model.TurnRecord{{ID: "r1", Sequence: 1}},
		LastSequence: 1,
	}}
	h := NewStreamHandler(status, records, time.Millisecond, logger.NewNop())

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turn/stream?after_sequence=0", nil))

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connected")
	assert.Contains(t, body, "event: record")
	assert.Contains(t, body, "event: replay_complete")
	assert.Contains(t, body, "event: status")
	assert.Contains(t, body, "event: done\ndata: {\"success\":true}")
}

func TestStreamHandler_FollowsTurnUntilFinished(t *testing.T) {
	status := &fakeStatus{st: host.Status{SessionID: "s1", State: turn.StateListenInput}}
	h := NewStreamHandler(status, nil, time.Millisecond, logger.NewNop())

	go func() {
		time.Sleep(20 * time.Millisecond)
		status.set(host.Status{SessionID: "s1", State: turn.StateFailed, Failure: "state_timeout", Finished: true})
	}()

	rec := httptest.NewRecorder()
	h.Stream(rec, httptest.NewRequest(http.MethodGet, "/api/v1/turn/stream", nil))

	body := rec.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: status"))
	assert.NotContains(t, body, "event: record")
	assert.Contains(t, body, "\"state\":\"failed\"")
	assert.Contains(t, body, "event: done\ndata: {\"success\":false}")
}

func TestStreamHandler_ClientGone(t *testing.T) {
	status := &fakeStatus{st: host.Status{SessionID: "s1", State: turn.StateListenInput}}
	h := NewStreamHandler(status, nil, time.Millisecond, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/turn/stream", nil).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		h.Stream(httptest.NewRecorder(), req)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not stop")
	}
}
