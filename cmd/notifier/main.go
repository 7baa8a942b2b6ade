// Standalone notification worker. Runs the same subscriber the API binary
// embeds, for deployments that scale event fan-out separately.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"PredictionMarket/internal/config"
	"PredictionMarket/internal/notifications"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	nc, err := nats.Connect(cfg.NatsCfg.URL)
	if err != nil {
		log.Error("failed to connect to nats", "url", cfg.NatsCfg.URL, "err", err)
		panic(err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := notifications.NewWorker(log, nc, []notifications.Sender{
		&notifications.LogSender{Log: log},
	})
	if err := worker.Start(ctx); err != nil {
		log.Error("failed to start notification worker", "err", err)
		panic(err)
	}

	<-ctx.Done()
	log.Info("shutting down")
	worker.Stop()
}
