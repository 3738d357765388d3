// Package webhook dispatches alert notifications to Slack, Discord, or a
// generic JSON endpoint, sniffing the target shape from the URL host.
// Outbound POSTs are rate-limited per destination URL so a burst of
// alerts cannot get a project's webhook integration banned upstream.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	tlog "github.com/trackhive/trackhive/internal/log"
)

// defaultRateLimit caps outbound webhook POSTs to one per 2 seconds per
// destination URL, with a small burst allowance, well under Slack's and
// Discord's per-webhook rate limits.
const (
	defaultRateLimit = rate.Limit(0.5)
	defaultBurst     = 3
)

var (
	limitersMu sync.Mutex
	limiters   = map[string]*rate.Limiter{}
)

func limiterFor(url string) *rate.Limiter {
	limitersMu.Lock()
	defer limitersMu.Unlock()
	l, ok := limiters[url]
	if !ok {
		l = rate.NewLimiter(defaultRateLimit, defaultBurst)
		limiters[url] = l
	}
	return l
}

// Level is an alert severity, ordered info < warn < error.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelOrder = map[Level]int{LevelInfo: 0, LevelWarn: 1, LevelError: 2}

// ShouldSend reports whether an alert at level meets the configured
// minimum (nil minLevel means "always send").
func ShouldSend(level Level, minLevel *Level) bool {
	if minLevel == nil {
		return true
	}
	return levelOrder[level] >= levelOrder[*minLevel]
}

// Notification is the alert content handed to Dispatch.
type Notification struct {
	Level     Level
	Title     string
	Text      string
	Project   string
	Run       string
	Step      *int
	Timestamp string
}

var emoji = map[Level]string{LevelInfo: "ℹ️", LevelWarn: "⚠️", LevelError: "🚨"}

// Dispatch POSTs a notification to url, shaping the payload for Slack,
// Discord, or a generic JSON body depending on the host. Failures are
// logged and swallowed: per spec this is a WebhookError the caller never
// has to handle, only observe via the returned error for status
// reporting.
func Dispatch(ctx context.Context, client *http.Client, logger *slog.Logger, url string, n Notification) error {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = tlog.WithComponent(logger, "webhook")

	if err := limiterFor(url).Wait(ctx); err != nil {
		logger.Warn("webhook rate limiter wait aborted", tlog.Error(err))
		return err
	}

	payload := buildPayload(url, n)
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Warn("failed to marshal webhook payload", tlog.Error(err))
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		logger.Warn("failed to build webhook request", tlog.Error(err))
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("failed to send webhook", "url", url, tlog.Error(err))
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook %s returned status %d", url, resp.StatusCode)
		logger.Warn("webhook delivery rejected", "url", url, "status", resp.StatusCode)
		return err
	}
	return nil
}

func isSlackURL(url string) bool {
	return strings.Contains(url, "hooks.slack.com")
}

func isDiscordURL(url string) bool {
	return strings.Contains(url, "discord.com/api/webhooks") || strings.Contains(url, "discordapp.com/api/webhooks")
}

func buildPayload(url string, n Notification) map[string]any {
	switch {
	case isSlackURL(url):
		return buildSlackPayload(n)
	case isDiscordURL(url):
		return buildDiscordPayload(n)
	default:
		return buildGenericPayload(n)
	}
}

func stepSuffix(step *int, sep string) string {
	if step == nil {
		return ""
	}
	return fmt.Sprintf("%sStep %d", sep, *step)
}

func buildSlackPayload(n Notification) map[string]any {
	header := fmt.Sprintf("%s *[%s] %s*", emoji[n.Level], strings.ToUpper(string(n.Level)), n.Title)
	context := fmt.Sprintf("Project: %s  •  Run: %s%s", n.Project, n.Run, stepSuffix(n.Step, "  •  "))

	blocks := []map[string]any{
		{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": header}},
	}
	if n.Text != "" {
		blocks = append(blocks, map[string]any{"type": "section", "text": map[string]any{"type": "mrkdwn", "text": n.Text}})
	}
	blocks = append(blocks, map[string]any{
		"type":     "context",
		"elements": []map[string]any{{"type": "mrkdwn", "text": context}},
	})
	return map[string]any{"blocks": blocks}
}

var discordColor = map[Level]int{LevelInfo: 3447003, LevelWarn: 16776960, LevelError: 15158332}

func buildDiscordPayload(n Notification) map[string]any {
	embed := map[string]any{
		"title": fmt.Sprintf("%s [%s] %s", emoji[n.Level], strings.ToUpper(string(n.Level)), n.Title),
		"color": discordColor[n.Level],
		"footer": map[string]any{
			"text": fmt.Sprintf("Project: %s  •  Run: %s%s", n.Project, n.Run, stepSuffix(n.Step, "  •  ")),
		},
	}
	if n.Text != "" {
		embed["description"] = n.Text
	}
	return map[string]any{"embeds": []map[string]any{embed}}
}

func buildGenericPayload(n Notification) map[string]any {
	return map[string]any{
		"level":     string(n.Level),
		"title":     n.Title,
		"text":      n.Text,
		"project":   n.Project,
		"run":       n.Run,
		"step":      n.Step,
		"timestamp": n.Timestamp,
	}
}
