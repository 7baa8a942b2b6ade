package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	natsbroker "PredictionMarket/internal/brokers/nats"
	"PredictionMarket/internal/config"
	"PredictionMarket/internal/notifications"
	"PredictionMarket/internal/services/market"
	"PredictionMarket/internal/services/order"
	"PredictionMarket/internal/services/payment"
	"PredictionMarket/internal/services/user"
	"PredictionMarket/internal/storage/postgres"
	"PredictionMarket/internal/storage/redis"
	handler "PredictionMarket/transport"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	log.Info("starting prediction market", slog.String("env", cfg.Env))

	storage, err := postgres.New(cfg.PostgresCfg.ConnString())
	if err != nil {
		log.Error("failed to connect to postgres", "err", err)
		panic(err)
	}
	defer storage.Close()

	redisClient := redis.New(cfg.RedisCfg)

	nc, err := nats.Connect(cfg.NatsCfg.URL)
	if err != nil {
		log.Error("failed to connect to nats", "url", cfg.NatsCfg.URL, "err", err)
		panic(err)
	}
	defer nc.Close()

	publisher, err := natsbroker.New(nc, log)
	if err != nil {
		log.Error("failed to init event publisher", "err", err)
		panic(err)
	}

	gateway := payment.NewClient(cfg.GatewayCfg, log)

	userService := user.New(log, storage, redisClient)
	orderService := order.New(log, storage, publisher)
	marketService := market.New(log, storage, redisClient, publisher, cfg.Settlement.Rate(), cfg.Settlement.LockTTL)
	paymentService := payment.New(log, storage, storage, gateway, cfg.GatewayCfg.SecretHash, cfg.GatewayCfg.Currency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	notifier := notifications.NewWorker(log, nc, []notifications.Sender{
		&notifications.LogSender{Log: log},
	})
	if err := notifier.Start(ctx); err != nil {
		log.Error("failed to start notification worker", "err", err)
		panic(err)
	}
	defer notifier.Stop()

	validate := validator.New()

	userHandler := handler.NewUserHandler(log, userService, validate)
	walletHandler := handler.NewWalletHandler(log, userService, paymentService, validate)
	orderHandler := handler.NewOrderHandler(log, orderService, validate)
	marketHandler := handler.NewMarketHandler(log, marketService, orderService, validate, cfg.AdminAPIKey)
	webhookHandler := handler.NewWebhookHandler(log, paymentService)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Mount("/api/user", userHandler.Routes())
	router.Mount("/api/wallet", walletHandler.Routes())
	router.Mount("/api/orders", orderHandler.Routes())
	router.Mount("/api/markets", marketHandler.Routes())
	router.Mount("/api/webhooks", webhookHandler.Routes())

	server := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("server listening", "address", cfg.HTTPServer.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPServer.Timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "err", err)
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal, envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
