package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Telegram posts confirmation messages to users through the Bot API.
// A zero-valued client (empty token) is a no-op, so callers never need to
// branch on whether notifications are configured.
type Telegram struct {
	apiBase string
	token   string
	http    *http.Client
}

func NewTelegram(apiBase, token string) *Telegram {
	if apiBase == "" {
		apiBase = "https://api.telegram.org"
	}
	return &Telegram{
		apiBase: apiBase,
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) SendMessage(ctx context.Context, chatID int64, text string) error {
	if t == nil || t.token == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: sendMessage: status %d", resp.StatusCode)
	}
	return nil
}
