// Package notify pushes pipeline news to a Telegram chat: a notice
// when counting starts or stops, an alert with the last frame when it
// fails, and periodic traffic summaries.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"
)

const defaultAPIBase = "https://api.telegram.org"

// Config holds the Telegram bot configuration.
type Config struct {
	BotToken        string
	ChatID          string
	CooldownSeconds int
}

// ValidateConfig rejects configurations that cannot work.
func ValidateConfig(config Config) error {
	if config.BotToken != "" && config.ChatID == "" {
		return fmt.Errorf("telegram chat ID is required when a bot token is set")
	}
	if config.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds cannot be negative")
	}
	return nil
}

type apiResponse struct {
	OK          bool        `json:"ok"`
	Result      interface{} `json:"result,omitempty"`
	ErrorCode   int         `json:"error_code,omitempty"`
	Description string      `json:"description,omitempty"`
}

// Bot talks to the Telegram Bot API directly over HTTP. Sends are
// rate-limited per notification kind so a flapping pipeline cannot
// flood the chat.
type Bot struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client

	cooldownMu     sync.Mutex
	cooldown       map[string]time.Time
	cooldownPeriod time.Duration
}

// NewBot creates a bot from the given config.
func NewBot(config Config) *Bot {
	cooldownPeriod := time.Duration(config.CooldownSeconds) * time.Second
	if cooldownPeriod == 0 {
		cooldownPeriod = 30 * time.Second
	}

	return &Bot{
		apiBase:        defaultAPIBase,
		botToken:       config.BotToken,
		chatID:         config.ChatID,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		cooldown:       make(map[string]time.Time),
		cooldownPeriod: cooldownPeriod,
	}
}

// Configured reports whether both token and chat ID are set.
func (b *Bot) Configured() bool {
	return b.botToken != "" && b.chatID != ""
}

// SendMessage sends an HTML-formatted text message. kind keys the
// cooldown; messages of one kind are dropped while its cooldown runs.
func (b *Bot) SendMessage(ctx context.Context, kind, text string) error {
	if !b.Configured() {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	if !b.takeCooldown(kind) {
		return fmt.Errorf("%s cooldown period not yet elapsed", kind)
	}

	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}

	if err := b.call(ctx, "sendMessage", payload); err != nil {
		b.releaseCooldown(kind)
		return err
	}
	return nil
}

// SendPhoto sends a photo with an HTML caption, under the same per-kind
// cooldown as SendMessage.
func (b *Bot) SendPhoto(ctx context.Context, kind string, photo []byte, caption string) error {
	if !b.Configured() {
		return fmt.Errorf("telegram bot token or chat ID not configured")
	}
	if !b.takeCooldown(kind) {
		return fmt.Errorf("%s cooldown period not yet elapsed", kind)
	}

	if err := b.sendPhoto(ctx, photo, caption); err != nil {
		b.releaseCooldown(kind)
		return err
	}
	return nil
}

// Me fetches the bot's username, verifying the token works.
func (b *Bot) Me(ctx context.Context) (string, error) {
	if b.botToken == "" {
		return "", fmt.Errorf("bot token not configured")
	}

	url := fmt.Sprintf("%s/bot%s/getMe", b.apiBase, b.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	apiResp, err := decodeResponse(resp)
	if err != nil {
		return "", err
	}

	if result, ok := apiResp.Result.(map[string]interface{}); ok {
		if username, ok := result["username"].(string); ok {
			return username, nil
		}
	}
	return "", fmt.Errorf("unexpected response format")
}

func (b *Bot) sendPhoto(ctx context.Context, photo []byte, caption string) error {
	url := fmt.Sprintf("%s/bot%s/sendPhoto", b.apiBase, b.botToken)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "frame.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeResponse(resp)
	return err
}

func (b *Bot) call(ctx context.Context, method string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.botToken, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	_, err = decodeResponse(resp)
	return err
}

func decodeResponse(resp *http.Response) (*apiResponse, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !apiResp.OK {
		return nil, fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}
	return &apiResp, nil
}

// takeCooldown claims the cooldown slot for kind. The claim is released
// again if the send fails, so an error does not silence the next try.
func (b *Bot) takeCooldown(kind string) bool {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()

	if last, ok := b.cooldown[kind]; ok && time.Since(last) < b.cooldownPeriod {
		return false
	}
	b.cooldown[kind] = time.Now()
	return true
}

func (b *Bot) releaseCooldown(kind string) {
	b.cooldownMu.Lock()
	defer b.cooldownMu.Unlock()
	delete(b.cooldown, kind)
}
