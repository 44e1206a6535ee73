package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookForward(t *testing.T) {
	var received Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	hook := NewWebhook(server.URL, time.Second)
	err := hook.Forward(context.Background(), Message{ID: "1", Name: "Jane", Email: "jane@example.com", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "jane@example.com", received.Email)
}

func TestWebhookForwardReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhook(server.URL, time.Second).Forward(context.Background(), Message{ID: "1"})
	assert.ErrorContains(t, err, "HTTP 502")
}

func TestWebhookDisabled(t *testing.T) {
	hook := NewWebhook("", 0)
	assert.False(t, hook.Enabled())
	assert.NoError(t, hook.Forward(context.Background(), Message{}))
}
