package nats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

const (
	StreamName             = "MARKET-EVENTS"
	SubjectOrderMatched    = "orders.matched."
	SubjectMarketResolved  = "markets.resolved."
	SubjectWildcardOrders  = "orders.matched.*"
	SubjectWildcardMarkets = "markets.resolved.*"
)

// OrderMatchedEvent is published whenever a placement fills any quantity.
type OrderMatchedEvent struct {
	OrderId         uuid.UUID `json:"order_id"`
	MarketId        uuid.UUID `json:"market_id"`
	UserId          int64     `json:"user_id"`
	MatchedQuantity int64     `json:"matched_quantity"`
	Counterparties  []int64   `json:"counterparties"`
	At              time.Time `json:"at"`
}

// MarketResolvedEvent is published after a market settles.
type MarketResolvedEvent struct {
	MarketId      uuid.UUID       `json:"market_id"`
	Outcome       models.Outcome  `json:"outcome"`
	Winners       int             `json:"winners"`
	Refunds       int             `json:"refunds"`
	TotalCredited decimal.Decimal `json:"total_credited"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	At            time.Time       `json:"at"`
}

type Publisher struct {
	log *slog.Logger
	js  nats.JetStreamContext
}

// New builds a Publisher and ensures the event stream exists.
func New(nc *nats.Conn, log *slog.Logger) (*Publisher, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectWildcardOrders, SubjectWildcardMarkets},
	})
	if err != nil {
		return nil, fmt.Errorf("add stream %s: %w", StreamName, err)
	}

	return &Publisher{log: log, js: js}, nil
}

// PublishOrderMatched emits an order-matched event. Publishing is best
// effort relative to the already committed placement; failures are logged
// and returned, never rolled back into the trade.
func (p *Publisher) PublishOrderMatched(event OrderMatchedEvent) error {
	const op = "nats.PublishOrderMatched"

	subject := SubjectOrderMatched + event.MarketId.String()
	if err := p.publish(subject, event); err != nil {
		p.log.Error("failed to publish order matched", "op", op, "subject", subject, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// PublishMarketResolved emits a market-resolved event.
func (p *Publisher) PublishMarketResolved(event MarketResolvedEvent) error {
	const op = "nats.PublishMarketResolved"

	subject := SubjectMarketResolved + event.MarketId.String()
	if err := p.publish(subject, event); err != nil {
		p.log.Error("failed to publish market resolved", "op", op, "subject", subject, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (p *Publisher) publish(subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", msg, err)
	}
	if _, err := p.js.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug("event published", "subject", subject)
	return nil
}
