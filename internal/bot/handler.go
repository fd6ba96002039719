// Package bot turns chat messages into report commands and replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"rsi-reportbot/internal/logger"
	"rsi-reportbot/internal/metrics"
	"rsi-reportbot/internal/model"
	"rsi-reportbot/internal/report"
)

// Reply texts.
const (
	HelpText              = "Chào bạn! Gõ ví dụ: gửi 4h 20coin hoặc gửi 1d 100coin"
	InvalidResolutionText = "Khung thời gian không hợp lệ. Dùng 1h, 4h, hoặc 1d."
	progressFormat        = "⏳ Đang tạo báo cáo RSI %s cho top %d coin..."
	errorFormat           = "Lỗi xử lý lệnh: %s"
)

// Message is an incoming chat message.
type Message struct {
	ChatID int64
	Text   string
}

// Sender delivers a plain-text reply to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Reporter builds reports.
type Reporter interface {
	Build(ctx context.Context, res model.Resolution, limit int) (model.Report, error)
	Thresholds() report.Thresholds
}

// Alerter is told about failures operators should see.
type Alerter interface {
	CatalogOutage(ctx context.Context, err error)
}

// Options tunes a Handler.
type Options struct {
	DefaultLimit int
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Alerter      Alerter
	Now          func() time.Time
}

type build struct {
	id     uint64
	cancel context.CancelFunc
}

// Handler processes one message at a time per call; calls may run
// concurrently. A new report request from a chat cancels that chat's
// in-flight build.
type Handler struct {
	reports Reporter
	sender  Sender
	parser  Parser
	metrics *metrics.Metrics
	log     *slog.Logger
	alerter Alerter
	now     func() time.Time

	mu       sync.Mutex
	seq      uint64
	inflight map[int64]build
}

func NewHandler(reports Reporter, sender Sender, opts Options) *Handler {
	h := &Handler{
		reports:  reports,
		sender:   sender,
		parser:   Parser{DefaultLimit: opts.DefaultLimit},
		metrics:  opts.Metrics,
		log:      opts.Logger,
		alerter:  opts.Alerter,
		now:      opts.Now,
		inflight: make(map[int64]build),
	}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Handle processes msg and sends any replies. It never panics.
func (h *Handler) Handle(ctx context.Context, msg Message) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(strconv.FormatInt(msg.ChatID, 10), h.now()))

	defer func() {
		if r := recover(); r != nil {
			h.log.ErrorContext(ctx, "command handler panic", append(logger.LogWithTrace(ctx), "chat_id", msg.ChatID, "panic", r)...)
			h.reply(ctx, msg.ChatID, fmt.Sprintf(errorFormat, r))
		}
	}()

	cmd, err := h.parser.Parse(msg.Text)
	switch {
	case errors.Is(err, ErrNotCommand):
		return
	case errors.Is(err, ErrInvalidResolution):
		h.count("invalid_resolution")
		h.reply(ctx, msg.ChatID, InvalidResolutionText)
		return
	case err != nil:
		h.count("parse_error")
		h.reply(ctx, msg.ChatID, fmt.Sprintf(errorFormat, err))
		return
	}

	h.count(cmd.Kind.String())
	switch cmd.Kind {
	case KindHelp:
		h.reply(ctx, msg.ChatID, HelpText)
	case KindReport:
		h.runReport(ctx, msg.ChatID, cmd)
	}
}

func (h *Handler) runReport(ctx context.Context, chatID int64, cmd Command) {
	h.log.InfoContext(ctx, "report requested", append(logger.LogWithTrace(ctx),
		"chat_id", chatID, "resolution", cmd.Resolution.String(), "limit", cmd.Limit)...)

	buildCtx, done := h.begin(ctx, chatID)
	defer done()

	h.reply(ctx, chatID, fmt.Sprintf(progressFormat, cmd.Resolution.Label(), cmd.Limit))

	rep, err := h.reports.Build(buildCtx, cmd.Resolution, cmd.Limit)
	if err != nil {
		if buildCtx.Err() != nil {
			// Superseded by a newer request or shutting down; nothing to send.
			h.log.InfoContext(ctx, "report cancelled", append(logger.LogWithTrace(ctx), "chat_id", chatID)...)
			return
		}
		if errors.Is(err, model.ErrCatalogUnavailable) && h.alerter != nil {
			h.alerter.CatalogOutage(ctx, err)
		}
		h.reply(ctx, chatID, fmt.Sprintf(errorFormat, err))
		return
	}

	h.reply(ctx, chatID, report.Render(rep, h.reports.Thresholds()))
}

// begin registers a build for chatID, cancelling the previous one.
func (h *Handler) begin(ctx context.Context, chatID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if prev, ok := h.inflight[chatID]; ok {
		prev.cancel()
	}
	h.seq++
	id := h.seq
	h.inflight[chatID] = build{id: id, cancel: cancel}
	h.mu.Unlock()

	return ctx, func() {
		cancel()
		h.mu.Lock()
		if cur, ok := h.inflight[chatID]; ok && cur.id == id {
			delete(h.inflight, chatID)
		}
		h.mu.Unlock()
	}
}

// InFlight returns the number of chats with a build running.
func (h *Handler) InFlight() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	if err := h.sender.SendMessage(ctx, chatID, text); err != nil {
		if h.metrics != nil {
			h.metrics.RepliesFailed.Inc()
		}
		h.log.WarnContext(ctx, "reply failed", append(logger.LogWithTrace(ctx),
			"chat_id", chatID, "text", firstLine(text), "error", err)...)
	}
}

func (h *Handler) count(kind string) {
	if h.metrics != nil {
		h.metrics.CommandsTotal.WithLabelValues(kind).Inc()
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
