// Package telegram is a minimal Telegram Bot API client: long-polled
// updates in, plain-text messages out.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultBaseURL = "https://api.telegram.org"

	// MaxMessageLen is the Bot API limit on message text length.
	MaxMessageLen = 4096
)

// Update is one incoming event. Only messages are requested.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// APIError is a Bot API call that returned ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %d %s", e.Method, e.Code, e.Description)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	SendTimeout time.Duration // per sendMessage call, default 10s
}

// Client calls the Bot API for one bot token.
type Client struct {
	base        string
	client      *http.Client
	sendTimeout time.Duration
}

func New(token string, opts Options) *Client {
	base := strings.TrimSuffix(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		// No client timeout: long polls are bounded per call by context.
		hc = &http.Client{}
	}
	sendTimeout := opts.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Client{
		base:        fmt.Sprintf("%s/bot%s", base, token),
		client:      hc,
		sendTimeout: sendTimeout,
	}
}

func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var zero T

	body, err := json.Marshal(params)
	if err != nil {
		return zero, fmt.Errorf("telegram: %s: marshal: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/"+method, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("telegram: %s: create request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return zero, fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return zero, fmt.Errorf("telegram: %s: read: %w", method, err)
	}

	var out apiResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return zero, fmt.Errorf("telegram: %s: unexpected status %d", method, resp.StatusCode)
	}
	if !out.OK {
		apiErr := &APIError{Method: method, Code: out.ErrorCode, Description: out.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode
		}
		if out.Parameters != nil && out.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(out.Parameters.RetryAfter) * time.Second
		}
		return zero, apiErr
	}
	return out.Result, nil
}

// GetUpdates long-polls for updates with id >= offset. A negative offset
// returns only the most recent pending updates.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
	defer cancel()

	return call[[]Update](ctx, c, "getUpdates", map[string]any{
		"offset":          offset,
		"timeout":         int(timeout / time.Second),
		"allowed_updates": []string{"message"},
	})
}

// SendMessage sends plain text to chatID, split at line boundaries when it
// exceeds MaxMessageLen.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.send(ctx, chatID, text, "")
}

// SendFormatted sends text to a chat id or @channel name with a parse mode.
func (c *Client) SendFormatted(ctx context.Context, chatID, text, parseMode string) error {
	return c.send(ctx, chatID, text, parseMode)
}

func (c *Client) send(ctx context.Context, chatID any, text, parseMode string) error {
	for _, part := range SplitText(text, MaxMessageLen) {
		params := map[string]any{
			"chat_id": chatID,
			"text":    part,
		}
		if parseMode != "" {
			params["parse_mode"] = parseMode
		}
		if err := c.sendPart(ctx, params); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendPart(ctx context.Context, params map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, c.sendTimeout)
	defer cancel()

	_, err := call[json.RawMessage](ctx, c, "sendMessage", params)
	return err
}

// SplitText cuts text into chunks of at most limit runes, preferring to
// break after a newline. Lines longer than limit are hard-split.
func SplitText(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			parts = append(parts, strings.TrimSuffix(cur.String(), "\n"))
			cur.Reset()
			curLen = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return parts
}
