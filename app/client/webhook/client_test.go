package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"xianyuagent/app/service/message"
	"xianyuagent/app/util/fault"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func outbound() message.Outbound {
	return message.Outbound{
		ID:             "r1",
		ConversationID: "c1",
		ReplyTo:        "m1",
		Text:           "最低 92.5",
		Strategy:       "pricing",
		Timestamp:      time.Now(),
	}
}

func TestDeliver(t *testing.T) {
	var got payload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, NewClient(server.URL, false).Deliver(ctx, outbound()))
	assert.Equal(t, "c1", got.ConversationID)
	assert.Equal(t, "最低 92.5", got.Text)
	assert.Equal(t, "m1", got.ReplyTo)
}

func TestDeliverClassifiesFailures(t *testing.T) {
	cases := map[int]func(error) bool{
		http.StatusServiceUnavailable: fault.IsRecoverable,
		http.StatusTooManyRequests:    fault.IsRecoverable,
		http.StatusUnauthorized:       fault.IsFatal,
		http.StatusBadRequest:         fault.IsValidation,
	}

	for status, check := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		err := NewClient(server.URL, false).Deliver(context.Background(), outbound())
		assert.True(t, check(err), "status %d: %v", status, err)

		server.Close()
	}
}

func TestDeliverUnreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := NewClient(url, false).Deliver(context.Background(), outbound())
	assert.True(t, fault.IsRecoverable(err))
}

func TestDeliverDisabled(t *testing.T) {
	require.NoError(t, NewClient("", true).Deliver(context.Background(), outbound()))
}

func TestDeliverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewClient("http://127.0.0.1:1", false).Deliver(ctx, outbound())
	assert.True(t, fault.IsRecoverable(err))
}
