package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"VaultKeeper/internal/logger"
)

// Notifier delivers operator messages. Both methods are best-effort:
// callers log a returned error and carry on.
type Notifier interface {
	// Send is a user-visible alert.
	Send(ctx context.Context, text string) error
	// Log is a routine record.
	Log(ctx context.Context, text string) error
}

// TelegramNotifier sends messages via the Telegram Bot API.
type TelegramNotifier struct {
	BotToken   string
	ChatID     string
	LogChatID  string
	Prefix     string
	APIBase    string
	MaxRetries uint64
	Client     *http.Client

	log zerolog.Logger
}

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, logChatID, prefix, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		BotToken:   botToken,
		ChatID:     chatID,
		LogChatID:  logChatID,
		Prefix:     prefix,
		APIBase:    "https://api.telegram.org",
		MaxRetries: 3,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log: logger.GetForComponent("telegram"),
	}
}

// Configured reports whether alerts can be delivered at all.
func (t *TelegramNotifier) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// Send posts an alert to the main chat, or only logs it when Telegram is not configured.
func (t *TelegramNotifier) Send(ctx context.Context, text string) error {
	t.log.Info().Str("kind", "alert").Msg(text)
	if !t.Configured() {
		return nil
	}
	return t.SendWithRetry(ctx, t.ChatID, t.withPrefix(text))
}

// Log posts a routine record to the log chat, if one is configured.
func (t *TelegramNotifier) Log(ctx context.Context, text string) error {
	t.log.Info().Str("kind", "log").Msg(text)
	if t.BotToken == "" || t.LogChatID == "" {
		return nil
	}
	return t.SendWithRetry(ctx, t.LogChatID, t.withPrefix(text))
}

func (t *TelegramNotifier) withPrefix(text string) string {
	if t.Prefix == "" {
		return text
	}
	return t.Prefix + "\n" + text
}

// SendWithRetry sends a message with exponential backoff retry.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, chatID, text string) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), t.MaxRetries), ctx)
	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		return t.sendTo(ctx, chatID, text)
	}, bo, func(err error, wait time.Duration) {
		t.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("telegram send failed")
	})
}

func (t *TelegramNotifier) sendTo(ctx context.Context, chatID, text string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.APIBase, t.BotToken)
	payload := map[string]string{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}
