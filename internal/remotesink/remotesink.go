// Package remotesink presents the same bulk-log interface as the local
// project store but forwards each batch over a request/reply RPC
// (JSON-over-HTTP POST) to a hosted process, authenticating with a
// bearer token. It performs no retries of its own: a failed batch stays
// in the durable buffer for the reconciler to replay.
package remotesink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/trackhive/trackhive/internal/codec"
	trackerrors "github.com/trackhive/trackhive/internal/errors"
	"github.com/trackhive/trackhive/internal/sender"
)

// MessageType discriminates the RPC envelope.
type MessageType string

const (
	MessageTypeRequest  MessageType = "request"
	MessageTypeResponse MessageType = "response"
	MessageTypeError    MessageType = "error"
)

// Message is the request/reply envelope exchanged with the hosted
// dashboard process.
type Message struct {
	Type          MessageType     `json:"type"`
	CorrelationID string          `json:"correlationId"`
	Method        string          `json:"method,omitempty"`
	Params        json.RawMessage `json:"params,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *ErrorResponse  `json:"error,omitempty"`
}

// ErrorResponse carries a machine-readable error code alongside a
// human-readable message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BulkLogEntry is one log entry in the wire request:
// {project, run, metrics, step?, log_id?}.
type BulkLogEntry struct {
	Project string         `json:"project"`
	Run     string         `json:"run"`
	Metrics map[string]any `json:"metrics"`
	Step    *int           `json:"step,omitempty"`
	LogID   string         `json:"log_id,omitempty"`
}

// BulkLogParams is the request payload for the bulk_log RPC method.
type BulkLogParams struct {
	Logs []BulkLogEntry `json:"logs"`
}

// BulkLogResult is the per-entry delivery status the dashboard replies
// with.
type BulkLogResult struct {
	Accepted []string `json:"accepted"` // log_ids committed
}

// Adapter forwards batches to a hosted dashboard process over HTTP.
type Adapter struct {
	client  *http.Client
	url     string
	project string
	token   string
	system  bool
}

// New builds an Adapter targeting url (the hosted Space's RPC endpoint)
// authenticating with token. system selects the system-metric RPC method
// instead of the metric one.
func New(client *http.Client, url, project, token string, system bool) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client, url: url, project: project, token: token, system: system}
}

// Send implements sender.Sink: it builds a bulk_log request carrying
// every entry and performs a single round trip, bounded by ctx.
func (a *Adapter) Send(ctx context.Context, run string, entries []sender.Entry) error {
	method := "bulk_log"
	if a.system {
		method = "bulk_log_system"
	}

	logs := make([]BulkLogEntry, len(entries))
	for i, e := range entries {
		// encoding/json cannot marshal NaN/±Inf directly; the codec's
		// quoted-string markers make the wire payload valid JSON.
		encoded, err := codec.Encode(e.Metrics)
		if err != nil {
			return err
		}
		logs[i] = BulkLogEntry{
			Project: a.project,
			Run:     run,
			Metrics: encoded.(map[string]any),
			Step:    e.Step,
			LogID:   e.LogID,
		}
	}

	params, err := json.Marshal(BulkLogParams{Logs: logs})
	if err != nil {
		return err
	}

	req := Message{
		Type:          MessageTypeRequest,
		CorrelationID: uuid.New().String(),
		Method:        method,
		Params:        params,
	}

	reply, err := a.roundTrip(ctx, req)
	if err != nil {
		return &trackerrors.SinkError{Transient: true, Message: err.Error(), Cause: err}
	}

	if reply.Error != nil {
		transient := isTransientCode(reply.Error.Code)
		return &trackerrors.SinkError{Transient: transient, Message: reply.Error.Message}
	}

	return nil
}

func (a *Adapter) roundTrip(ctx context.Context, msg Message) (*Message, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("remote sink returned status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return &Message{
			Type:          MessageTypeError,
			CorrelationID: msg.CorrelationID,
			Error:         &ErrorResponse{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: "request rejected"},
		}, nil
	}

	var reply Message
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// isTransientCode reports whether a dashboard-reported error code should
// be retried by the reconciler: 5xx and network errors are transient,
// non-retryable 4xx codes are permanent.
func isTransientCode(code string) bool {
	switch code {
	case "rate_limited", "unavailable", "timeout":
		return true
	default:
		return len(code) >= 5 && code[:5] == "http_" && code[5] == '5'
	}
}
