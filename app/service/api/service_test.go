package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"xianyuagent/app/config"
	"xianyuagent/app/service/conversation"
	"xianyuagent/app/service/deadletter"
	"xianyuagent/app/service/engine"
	"xianyuagent/app/service/expert"
	"xianyuagent/app/service/identity"
	"xianyuagent/app/service/message"
	"xianyuagent/app/service/negotiation"
	"xianyuagent/app/service/queue"
	"xianyuagent/app/service/reply"
	"xianyuagent/app/service/strategy"

	"github.com/samber/do"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticGenerator struct{}

func (staticGenerator) Generate(context.Context, reply.Request) (string, error) {
	return "ok", nil
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, message.Outbound) error {
	return nil
}

func newTestAPI(t *testing.T, queueSize int) (*Service, *do.Injector) {
	t.Helper()

	cfg := &config.Config{Seller: config.Seller{ID: "seller-1"}}
	config.ApplyDefaults(cfg)
	cfg.Store.DataDir = t.TempDir()
	cfg.Middleware.QueueSize = queueSize

	di := do.New()
	do.ProvideValue(di, cfg)
	do.Provide(di, conversation.New)
	do.Provide(di, identity.New)
	do.Provide(di, strategy.New)
	do.Provide(di, negotiation.New)
	do.Provide(di, expert.New)
	do.Provide(di, deadletter.New)
	do.Provide(di, queue.New)
	do.ProvideValue[reply.Generator](di, staticGenerator{})
	do.ProvideValue[reply.Deliverer](di, nopDeliverer{})
	do.Provide(di, engine.New)

	s, err := New(di)
	require.NoError(t, err)

	return s, di
}

func request(t *testing.T, s *Service, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestPostEvent(t *testing.T) {
	s, _ := newTestAPI(t, 10)

	ev := map[string]any{
		"id":              "m1",
		"conversation_id": "c1",
		"sender_handle":   "buyer-1",
		"text":            "还在吗",
	}

	code, body := request(t, s, http.MethodPost, "/api/events", ev)
	require.Equal(t, http.StatusAccepted, code, string(body))

	var receipt engine.Receipt
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, engine.StatusQueued, receipt.Status)
	assert.Equal(t, "c1", receipt.ConversationID)

	code, body = request(t, s, http.MethodPost, "/api/events", ev)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &receipt))
	assert.Equal(t, engine.StatusDuplicate, receipt.Status)
}

func TestPostEventRejectsMalformed(t *testing.T) {
	s, di := newTestAPI(t, 10)

	code, body := request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c1",
		"sender_handle":   "buyer-1",
		"text":            "",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "error")

	req := httptest.NewRequest(http.MethodPost, "/api/events", bytes.NewReader([]byte("{")))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Zero(t, do.MustInvoke[*queue.Service](di).Stats().Enqueued)
}

func TestPostEventQueueFull(t *testing.T) {
	s, _ := newTestAPI(t, 1)

	code, _ := request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c1", "sender_handle": "b", "text": "a",
	})
	require.Equal(t, http.StatusAccepted, code)

	code, _ = request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c2", "sender_handle": "b", "text": "b",
	})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestPostEventConversationBacklogFull(t *testing.T) {
	s, di := newTestAPI(t, 100)
	laneSize := do.MustInvoke[*config.Config](di).Middleware.LaneSize

	for i := 0; i < laneSize; i++ {
		code, _ := request(t, s, http.MethodPost, "/api/events", map[string]any{
			"conversation_id": "c1", "sender_handle": "b", "text": fmt.Sprint("msg ", i),
		})
		require.Equal(t, http.StatusAccepted, code)
	}

	code, _ := request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c1", "sender_handle": "b", "text": "one more",
	})
	assert.Equal(t, http.StatusTooManyRequests, code)

	code, _ = request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c2", "sender_handle": "b", "text": "hello",
	})
	assert.Equal(t, http.StatusAccepted, code)
}

func TestStats(t *testing.T) {
	s, _ := newTestAPI(t, 10)

	request(t, s, http.MethodPost, "/api/events", map[string]any{
		"conversation_id": "c1", "sender_handle": "b", "text": "a",
	})

	code, body := request(t, s, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, code)

	var stats statsResponse
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Queue.Queued)
	assert.Zero(t, stats.DeadLetters)
}

func TestConversationEndpoints(t *testing.T) {
	s, di := newTestAPI(t, 10)

	code, _ := request(t, s, http.MethodGet, "/api/conversations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)

	store := do.MustInvoke[*conversation.Service](di)
	require.NoError(t, store.AppendTurn("c1", conversation.Turn{Sender: "b", Text: "还在吗"}))

	code, body := request(t, s, http.MethodGet, "/api/conversations/c1", nil)
	require.Equal(t, http.StatusOK, code)

	var state conversation.State
	require.NoError(t, json.Unmarshal(body, &state))
	require.Len(t, state.History, 1)
	assert.Equal(t, "还在吗", state.History[0].Text)

	code, body = request(t, s, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	var states []conversation.State
	require.NoError(t, json.Unmarshal(body, &states))
	assert.Len(t, states, 1)
}

func TestPauseResume(t *testing.T) {
	s, di := newTestAPI(t, 10)
	q := do.MustInvoke[*queue.Service](di)

	code, _ := request(t, s, http.MethodPost, "/api/conversations/c1/pause", nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.True(t, q.Paused("c1"))

	code, _ = request(t, s, http.MethodPost, "/api/conversations/c1/resume", nil)
	require.Equal(t, http.StatusNoContent, code)
	assert.False(t, q.Paused("c1"))

	code, _ = request(t, s, http.MethodPost, "/api/conversations/c1/pause", map[string]any{"minutes": 10})
	require.Equal(t, http.StatusNoContent, code)
	assert.True(t, q.Paused("c1"))

	code, _ = request(t, s, http.MethodPost, "/api/conversations/c1/pause", map[string]any{"minutes": -1})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestDeadLettersAndHealth(t *testing.T) {
	s, di := newTestAPI(t, 10)

	require.NoError(t, do.MustInvoke[*deadletter.Service](di).Put(context.Background(),
		deadletter.Letter{ID: "x", ConversationID: "c1", Reason: "timeout"}))

	code, body := request(t, s, http.MethodGet, "/api/deadletters?conversation_id=c1", nil)
	require.Equal(t, http.StatusOK, code)

	var letters []deadletter.Letter
	require.NoError(t, json.Unmarshal(body, &letters))
	require.Len(t, letters, 1)
	assert.Equal(t, "timeout", letters[0].Reason)

	code, body = request(t, s, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))
}
