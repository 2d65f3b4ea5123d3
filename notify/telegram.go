package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// TelegramConfig configures the Telegram Bot API channel.
type TelegramConfig struct {
	// Token is the bot token from @BotFather.
	Token string `yaml:"token"`
	// APIBase is the Bot API root. Default: https://api.telegram.org.
	APIBase string `yaml:"api_base"`
	// Timeout bounds each sendMessage call. Default: 10s.
	Timeout time.Duration `yaml:"timeout"`
	// MaxRetryAfter caps how long a rate-limited send waits before its
	// single retry. Default: 30s.
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
}

func (c *TelegramConfig) defaults() {
	if c.APIBase == "" {
		c.APIBase = "https://api.telegram.org"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetryAfter <= 0 {
		c.MaxRetryAfter = 30 * time.Second
	}
}

// Telegram sends MarkdownV2 messages through the Bot API.
type Telegram struct {
	config TelegramConfig
	client *http.Client
	logger *slog.Logger
}

// NewTelegram creates a Telegram channel. A nil logger uses slog.Default().
func NewTelegram(cfg TelegramConfig, logger *slog.Logger) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: token is required")
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// rateLimited is returned by send when Telegram asks to slow down.
type rateLimited struct{ after time.Duration }

func (e *rateLimited) Error() string { return fmt.Sprintf("rate limited, retry after %s", e.after) }

// Notify sends text to every recipient.
func (t *Telegram) Notify(ctx context.Context, recipients []int64, text string) error {
	var errs []error
	for _, chatID := range recipients {
		err := t.send(ctx, chatID, text)
		var rl *rateLimited
		if errors.As(err, &rl) && rl.after <= t.config.MaxRetryAfter {
			t.logger.Warn("telegram: rate limited", "chat_id", chatID, "retry_after", rl.after)
			select {
			case <-time.After(rl.after):
				err = t.send(ctx, chatID, text)
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
		if err != nil {
			t.logger.Warn("telegram: send failed", "chat_id", chatID, "error", err)
			errs = append(errs, &SendError{Channel: "telegram", Recipient: chatID, Cause: err})
		}
	}
	return errors.Join(errs...)
}

func (t *Telegram) send(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             "MarkdownV2",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := strings.TrimRight(t.config.APIBase, "/") + "/bot" + t.config.Token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the token; keep it out of logs.
		return errors.New("telegram: request failed: " + redact(err.Error(), t.config.Token))
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("telegram: decode response (status %d): %w", resp.StatusCode, err)
	}
	if out.OK {
		return nil
	}
	if resp.StatusCode == http.StatusTooManyRequests && out.Parameters.RetryAfter > 0 {
		return &rateLimited{after: time.Duration(out.Parameters.RetryAfter) * time.Second}
	}
	return fmt.Errorf("telegram: api error %d: %s", out.ErrorCode, out.Description)
}

func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "<token>")
}

// Close is a no-op.
func (t *Telegram) Close() error { return nil }
