// cmd/scan builds one report and prints it to stdout, without Telegram.
//
// Usage:
//
//	go run ./cmd/scan --tf=4h --limit=20
//	go run ./cmd/scan --tf=1d --format=json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"rsi-reportbot/config"
	"rsi-reportbot/internal/app"
	"rsi-reportbot/internal/logger"
	"rsi-reportbot/internal/model"
	"rsi-reportbot/internal/report"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Flags
	tfStr := flag.String("tf", "4h", "Candle resolution: 1h, 4h or 1d")
	limit := flag.Int("limit", 0, "Number of catalog instruments to scan (0=DEFAULT_COIN_LIMIT)")
	format := flag.String("format", "text", "Output format: text or json")
	flag.Parse()

	res, ok := model.ParseResolution(*tfStr)
	if !ok {
		log.Fatalf("[scan] unsupported resolution %q", *tfStr)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[scan] config: %v", err)
	}
	if *limit <= 0 {
		*limit = cfg.Scan.DefaultLimit
	}

	// Logs go to stderr so stdout carries only the report.
	lg := logger.InitWriter(os.Stderr, "scan", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	a, err := app.New(ctx, cfg, lg, prometheus.NewRegistry())
	if err != nil {
		log.Fatalf("[scan] init failed: %v", err)
	}
	defer a.Close()

	rep, err := a.Builder.Build(logger.WithTraceID(ctx, logger.GenerateTraceID("cli", time.Now())), res, *limit)
	if err != nil {
		log.Fatalf("[scan] %v", err)
	}

	switch *format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			log.Fatalf("[scan] encode: %v", err)
		}
	default:
		fmt.Println(report.Render(rep, a.Builder.Thresholds()))
	}
	log.Printf("[scan] scanned=%d skipped=%d signals=%d", rep.Scanned, rep.Skipped, len(rep.Signals))
}
