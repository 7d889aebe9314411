package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenSource supplies the current set of push recipients. Tokens are
// fetched fresh on every delivery so newly registered devices are picked up
// without a restart.
type TokenSource interface {
	ListDeviceTokens(ctx context.Context) ([]string, error)
}

// ExpoPush fans a notification out to all registered devices through the
// Expo push service.
type ExpoPush struct {
	pushURL string
	tokens  TokenSource
	client  *http.Client
	logger  zerolog.Logger
}

// NewExpoPush constructs an Expo push notifier.
func NewExpoPush(pushURL string, tokens TokenSource, timeout time.Duration, logger zerolog.Logger) *ExpoPush {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if pushURL == "" {
		pushURL = "https://exp.host/--/api/v2/push/send"
	}

	return &ExpoPush{
		pushURL: strings.TrimRight(pushURL, "/"),
		tokens:  tokens,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "notify_expo").Logger(),
	}
}

type expoMessage struct {
	To    string         `json:"to"`
	Sound string         `json:"sound"`
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data"`
}

// Notify delivers the notification to every registered device in one batch
// request. No recipients is not an error; the message is simply dropped.
func (e *ExpoPush) Notify(ctx context.Context, note Notification) error {
	tokens, err := e.tokens.ListDeviceTokens(ctx)
	if err != nil {
		return fmt.Errorf("list device tokens: %w", err)
	}
	if len(tokens) == 0 {
		e.logger.Debug().Str("symbol", note.Symbol).Msg("no device tokens registered, skipping push")
		return nil
	}

	data := map[string]any{
		"type":         "drawdown",
		"kind":         string(note.Kind),
		"asset":        note.Symbol,
		"drawdown":     note.Drawdown.InexactFloat64(),
		"currentPrice": note.Price.InexactFloat64(),
		"peak":         note.Peak.InexactFloat64(),
	}

	title := Title(note)
	body := Body(note)
	messages := make([]expoMessage, 0, len(tokens))
	for _, token := range tokens {
		messages = append(messages, expoMessage{
			To:    token,
			Sound: "default",
			Title: title,
			Body:  body,
			Data:  data,
		})
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal expo payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.pushURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send expo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("expo unexpected status: %d", resp.StatusCode)
	}

	e.logger.Info().
		Str("symbol", note.Symbol).
		Str("kind", string(note.Kind)).
		Int("devices", len(tokens)).
		Msg("notification sent (expo push)")
	return nil
}

var _ Notifier = (*ExpoPush)(nil)
