package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rsi-reportbot/internal/metrics"
)

const token = "123:abc"

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(token, Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func decodeParams(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var params map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
	return params
}

func TestSendMessage_PlainText(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+token+"/sendMessage", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = decodeParams(t, r)
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	require.NoError(t, c.SendMessage(context.Background(), 42, "BTCUSDT – Giá: 1.5 – RSI: 18.5"))
	assert.Equal(t, float64(42), got["chat_id"])
	assert.Equal(t, "BTCUSDT – Giá: 1.5 – RSI: 18.5", got["text"])
	_, hasMode := got["parse_mode"]
	assert.False(t, hasMode)
}

func TestSendMessage_APIError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 3","parameters":{"retry_after":3}}`))
	})

	err := c.SendMessage(context.Background(), 1, "hi")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, "sendMessage", apiErr.Method)
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter)
}

func TestSendMessage_StalledServerTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c := New(token, Options{BaseURL: srv.URL, HTTPClient: srv.Client(), SendTimeout: 50 * time.Millisecond})

	start := time.Now()
	err := c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSendMessage_SplitsLongText(t *testing.T) {
	var mu sync.Mutex
	var parts []string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		p := decodeParams(t, r)
		mu.Lock()
		parts = append(parts, p["text"].(string))
		mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	line := strings.Repeat("x", 99)
	lines := make([]string, 60)
	for i := range lines {
		lines[i] = line
	}
	require.NoError(t, c.SendMessage(context.Background(), 1, strings.Join(lines, "\n")))

	require.Len(t, parts, 2)
	assert.Equal(t, strings.Join(lines, "\n"), parts[0]+"\n"+parts[1])
	for _, p := range parts {
		assert.LessOrEqual(t, len(p), MaxMessageLen)
	}
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitText("short", 10))
	assert.Equal(t, []string{"aaaa", "bbbb"}, SplitText("aaaa\nbbbb", 6))
	assert.Equal(t, []string{"abcdef", "ghij"}, SplitText("abcdefghij", 6))
	// Rune counting, not bytes.
	assert.Equal(t, []string{"gửi gửi"}, SplitText("gửi gửi", 7))
}

func TestSendFormatted_ChannelName(t *testing.T) {
	var got map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = decodeParams(t, r)
		w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	require.NoError(t, c.SendFormatted(context.Background(), "@ops", "*hi*", "MarkdownV2"))
	assert.Equal(t, "@ops", got["chat_id"])
	assert.Equal(t, "MarkdownV2", got["parse_mode"])
}

func TestGetUpdates(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bot"+token+"/getUpdates", r.URL.Path)
		p := decodeParams(t, r)
		assert.Equal(t, float64(5), p["offset"])
		assert.Equal(t, float64(30), p["timeout"])
		w.Write([]byte(`{"ok":true,"result":[{"update_id":5,"message":{"message_id":9,"chat":{"id":77,"type":"private"},"date":1,"text":"gửi 4h"}}]}`))
	})

	ups, err := c.GetUpdates(context.Background(), 5, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, int64(5), ups[0].UpdateID)
	assert.Equal(t, int64(77), ups[0].Message.Chat.ID)
	assert.Equal(t, "gửi 4h", ups[0].Message.Text)
}

// fakeBotAPI serves getUpdates from a scripted queue keyed by offset.
type fakeBotAPI struct {
	mu      sync.Mutex
	offsets []float64
	fail    int
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var p map[string]any
	json.NewDecoder(r.Body).Decode(&p)
	offset := p["offset"].(float64)

	f.mu.Lock()
	f.offsets = append(f.offsets, offset)
	if f.fail > 0 {
		f.fail--
		f.mu.Unlock()
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
		return
	}
	f.mu.Unlock()

	switch offset {
	case -1:
		w.Write([]byte(`{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"chat":{"id":1},"text":"old request"}}]}`))
	case 11:
		w.Write([]byte(`{"ok":true,"result":[
			{"update_id":11,"message":{"message_id":2,"chat":{"id":1},"text":"gửi 4h"}},
			{"update_id":12},
			{"update_id":13,"message":{"message_id":3,"chat":{"id":2},"text":"/help"}}
		]}`))
	default:
		select {
		case <-r.Context().Done():
		case <-time.After(10 * time.Millisecond):
		}
		w.Write([]byte(`{"ok":true,"result":[]}`))
	}
}

func (f *fakeBotAPI) seen() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.offsets...)
}

func TestPoller_DropsPendingAndDispatches(t *testing.T) {
	api := &fakeBotAPI{fail: 1}
	srv := httptest.NewServer(api)
	defer srv.Close()
	c := New(token, Options{BaseURL: srv.URL, HTTPClient: srv.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var texts []string
	handled := make(chan struct{}, 2)
	handle := func(_ context.Context, msg *Message) {
		mu.Lock()
		texts = append(texts, msg.Text)
		mu.Unlock()
		handled <- struct{}{}
	}

	health := metrics.NewHealthStatus()
	p := NewPoller(c, handle, 0, health, nil)
	p.minBackoff = time.Millisecond

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-handled:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for updates")
		}
	}
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	assert.ElementsMatch(t, []string{"gửi 4h", "/help"}, texts)
	mu.Unlock()

	seen := api.seen()
	require.GreaterOrEqual(t, len(seen), 4)
	assert.Equal(t, []float64{-1, -1, 11}, seen[:3], "retry the skip, then poll past the dropped update")
	assert.Equal(t, float64(14), seen[3])
}
