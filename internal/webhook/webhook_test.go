package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldSend(t *testing.T) {
	warn := LevelWarn
	require.True(t, ShouldSend(LevelError, &warn))
	require.False(t, ShouldSend(LevelInfo, &warn))
	require.True(t, ShouldSend(LevelInfo, nil))
}

func TestBuildPayloadShapeByHost(t *testing.T) {
	n := Notification{Level: LevelError, Title: "loss spiked", Text: "nan detected", Project: "demo", Run: "swift-otter-1"}

	slack := buildPayload("https://hooks.slack.com/services/x", n)
	_, ok := slack["blocks"]
	require.True(t, ok)

	discord := buildPayload("https://discord.com/api/webhooks/1/2", n)
	_, ok = discord["embeds"]
	require.True(t, ok)

	generic := buildPayload("https://example.com/hook", n)
	require.Equal(t, "loss spiked", generic["title"])
}

func TestDispatchPostsJSON(t *testing.T) {
	received := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received <- body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := Dispatch(context.Background(), srv.Client(), nil, srv.URL, Notification{
		Level: LevelInfo, Title: "started", Project: "demo", Run: "swift-otter-1",
	})
	require.NoError(t, err)

	body := <-received
	require.Equal(t, "started", body["title"])
}

func TestDispatchReturnsErrorOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := Dispatch(context.Background(), srv.Client(), nil, srv.URL, Notification{Level: LevelError, Title: "x"})
	require.Error(t, err)
}
