package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"slothive/config"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramSender posts hunt events to a Telegram chat through the bot API.
type TelegramSender struct {
	cfg     config.TelegramConfig
	client  *http.Client
	baseURL string
}

func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	return &TelegramSender{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: telegramAPIBase,
	}
}

// SetBaseURL points the sender at a different API host, for tests.
func (t *TelegramSender) SetBaseURL(u string) { t.baseURL = u }

func (t *TelegramSender) Name() string { return "telegram" }

func (t *TelegramSender) Send(ctx context.Context, ev Event) error {
	if t.cfg.BotToken == "" || t.cfg.ChatID == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": t.cfg.ChatID,
		"text":    ev.Message(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}
	return nil
}
