// cmd/reportbot runs the Telegram bot that answers "gửi <tf> [Ncoin]" with
// an RSI extreme-zone report.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rsi-reportbot/config"
	"rsi-reportbot/internal/api"
	"rsi-reportbot/internal/app"
	"rsi-reportbot/internal/bot"
	"rsi-reportbot/internal/logger"
	"rsi-reportbot/internal/metrics"
	"rsi-reportbot/internal/telegram"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[reportbot] config: %v", err)
	}
	if cfg.BotToken == "" {
		log.Fatal("[reportbot] BOT_TOKEN is required")
	}

	lg := logger.Init("reportbot", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("[reportbot] shutting down")
		cancel()
	}()

	a, err := app.New(ctx, cfg, lg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("[reportbot] init failed: %v", err)
	}
	defer a.Close()

	tg := telegram.New(cfg.BotToken, telegram.Options{})
	alerter := a.Alerter(tg)

	handler := bot.NewHandler(a.Builder, tg, bot.Options{
		DefaultLimit: cfg.Scan.DefaultLimit,
		Metrics:      a.Metrics,
		Logger:       lg,
		Alerter:      alerter,
	})
	poller := telegram.NewPoller(tg, func(ctx context.Context, m *telegram.Message) {
		handler.Handle(ctx, bot.Message{ChatID: m.Chat.ID, Text: m.Text})
	}, time.Duration(cfg.PollTimeoutS)*time.Second, a.Health, lg)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, a.Health, prometheus.DefaultGatherer)
	metricsSrv.Start()
	a.Health.StartLivenessChecker(ctx, a.Redis, 15*time.Second)

	var apiSrv *api.Server
	if cfg.HTTPAddr != "" {
		apiSrv = api.NewServer(cfg.HTTPAddr, api.NewRouter(api.Deps{
			Reports:      a.Builder,
			DefaultLimit: cfg.Scan.DefaultLimit,
			Logger:       lg,
		}))
		apiSrv.Start()
	}

	log.Printf("[reportbot] started: provider=%s workers=%d window=%d tz=%s",
		cfg.BinanceBaseURL, cfg.Scan.Workers, cfg.Scan.CandleWindow, cfg.Scan.Timezone)
	alerter.Started(ctx, fmt.Sprintf("workers=%d window=%d", cfg.Scan.Workers, cfg.Scan.CandleWindow))

	if err := poller.Run(ctx); err != nil {
		log.Printf("[reportbot] poller stopped: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if apiSrv != nil {
		apiSrv.Stop(shutdownCtx)
	}
	metricsSrv.Stop(shutdownCtx)
	log.Printf("[reportbot] stopped")
}
