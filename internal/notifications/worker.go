// Package notifications turns market events into user-facing notices.
// A NATS subscriber feeds a worker pool, which fans each event out to the
// configured senders.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/nats-io/nats.go"

	natsbroker "PredictionMarket/internal/brokers/nats"
)

// Sender delivers one notification over a single channel (log, email,
// chat). Failures in one sender never block the others.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

type Worker struct {
	log     *slog.Logger
	nc      *nats.Conn
	senders []Sender

	sub    *nats.Subscription
	events chan natsbroker.MarketResolvedEvent
	wg     sync.WaitGroup
}

func NewWorker(log *slog.Logger, nc *nats.Conn, senders []Sender) *Worker {
	return &Worker{
		log:     log,
		nc:      nc,
		senders: senders,
		events:  make(chan natsbroker.MarketResolvedEvent, 1024),
	}
}

// Start subscribes to resolution events and launches the worker pool.
func (w *Worker) Start(ctx context.Context) error {
	const op = "notifications.Start"

	workerCount := runtime.NumCPU()
	for i := 0; i < workerCount; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for event := range w.events {
				w.handle(ctx, event)
			}
		}()
	}

	sub, err := w.nc.Subscribe(natsbroker.SubjectWildcardMarkets, func(msg *nats.Msg) {
		var event natsbroker.MarketResolvedEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			w.log.Error("invalid resolution event", "subject", msg.Subject, "err", err)
			return
		}
		select {
		case w.events <- event:
		default:
			w.log.Error("notification queue full, dropping event", "market_id", event.MarketId)
		}
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	w.sub = sub

	w.log.Info("notification worker started", "workers", workerCount)
	return nil
}

// Stop drains the queue and waits for in-flight deliveries.
func (w *Worker) Stop() {
	if w.sub != nil {
		_ = w.sub.Unsubscribe()
	}
	close(w.events)
	w.wg.Wait()
}

func (w *Worker) handle(ctx context.Context, event natsbroker.MarketResolvedEvent) {
	title := "Market resolved"
	message := fmt.Sprintf("Market %s resolved %s: %d winners credited %s, %d stakes refunded %s",
		event.MarketId, event.Outcome,
		event.Winners, event.TotalCredited,
		event.Refunds, event.TotalRefunded)

	for _, sender := range w.senders {
		if err := sender.Send(ctx, title, message); err != nil {
			w.log.Error("failed to send notification",
				"sender", sender.Name(),
				"market_id", event.MarketId,
				"err", err)
		}
	}
}

// LogSender writes notifications to the application log. It is the default
// channel and keeps the fan-out path exercised without external services.
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(_ context.Context, title, message string) error {
	s.Log.Info("notification", "title", title, "message", message)
	return nil
}

func (s *LogSender) Name() string { return "log" }
