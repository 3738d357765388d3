package remotesink

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/trackhive/trackhive/internal/sender"
)

func TestSendEncodesNonFiniteFloatsAndSucceeds(t *testing.T) {
	var gotReq Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		var params BulkLogParams
		require.NoError(t, json.Unmarshal(gotReq.Params, &params))
		require.Equal(t, "Infinity", params.Logs[0].Metrics["loss"])

		result, _ := json.Marshal(BulkLogResult{Accepted: []string{params.Logs[0].LogID}})
		resp := Message{Type: MessageTypeResponse, CorrelationID: gotReq.CorrelationID, Result: result}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	adapter := New(srv.Client(), srv.URL, "demo", "secret-token", false)
	err := adapter.Send(context.Background(), "swift-otter-1", []sender.Entry{
		{LogID: "log-1", Metrics: map[string]any{"loss": math.Inf(1)}},
	})
	require.NoError(t, err)
}

func TestSendReturnsTransientSinkErrorOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	adapter := New(srv.Client(), srv.URL, "demo", "", false)
	err := adapter.Send(context.Background(), "run", []sender.Entry{{LogID: "log-1", Metrics: map[string]any{"loss": 1.0}}})
	require.Error(t, err)
}

func TestIsTransientCode(t *testing.T) {
	require.True(t, isTransientCode("rate_limited"))
	require.True(t, isTransientCode("http_503"))
	require.False(t, isTransientCode("http_404"))
	require.False(t, isTransientCode("invalid_project"))
}
