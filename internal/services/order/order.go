package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	natsbroker "PredictionMarket/internal/brokers/nats"
	"PredictionMarket/internal/domain/models"
)

var (
	ErrInvalidSide     = errors.New("side must be BUY or SELL")
	ErrInvalidPrice    = errors.New("price must be positive")
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

type OrderService struct {
	log       *slog.Logger
	manager   Manager
	publisher Publisher
}

// Manager is the transactional order store. PlaceOrder runs the full
// matching pass (market check, duplicate guard, debit, fills, insert)
// atomically and surfaces the storage sentinel errors.
type Manager interface {
	PlaceOrder(ctx context.Context, order models.Order) (models.Order, models.PairingSummary, error)
	CancelOrder(ctx context.Context, orderId uuid.UUID, userId int64) (models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetUserOrders(ctx context.Context, userId int64) ([]models.Order, error)
	GetMarketOrders(ctx context.Context, marketId uuid.UUID) ([]models.Order, error)
}

type Publisher interface {
	PublishOrderMatched(event natsbroker.OrderMatchedEvent) error
}

func New(log *slog.Logger, manager Manager, publisher Publisher) *OrderService {
	return &OrderService{
		log:       log,
		manager:   manager,
		publisher: publisher,
	}
}

// PlaceOrder validates the request and runs the matching pass. The returned
// summary reports matched quantity, remaining quantity and the counter-orders
// touched.
func (o *OrderService) PlaceOrder(ctx context.Context,
	userId int64,
	marketId uuid.UUID,
	side models.Side,
	price decimal.Decimal,
	quantity int64) (models.Order, models.PairingSummary, error) {
	const op = "order.PlaceOrder"

	if !side.Valid() {
		return models.Order{}, models.PairingSummary{}, ErrInvalidSide
	}
	if !price.IsPositive() {
		return models.Order{}, models.PairingSummary{}, ErrInvalidPrice
	}
	if quantity <= 0 {
		return models.Order{}, models.PairingSummary{}, ErrInvalidQuantity
	}

	order := models.Order{
		Id:        uuid.New(),
		MarketId:  marketId,
		UserId:    userId,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		Status:    models.OrderOpen,
		CreatedAt: time.Now(),
	}

	placed, summary, err := o.manager.PlaceOrder(ctx, order)
	if err != nil {
		o.log.Error("failed to place order", "user_id", userId, "market_id", marketId, "err", err)
		return models.Order{}, models.PairingSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	if summary.MatchedQuantity > 0 {
		event := natsbroker.OrderMatchedEvent{
			OrderId:         placed.Id,
			MarketId:        placed.MarketId,
			UserId:          placed.UserId,
			MatchedQuantity: summary.MatchedQuantity,
			Counterparties:  placed.Counterparties,
			At:              time.Now(),
		}
		if err := o.publisher.PublishOrderMatched(event); err != nil {
			// The trade is committed; the missed event is log-only.
			o.log.Error("failed to publish match event", "order_id", placed.Id, "err", err)
		}
	}

	return placed, summary, nil
}

// CancelOrder cancels the caller's own Open or PartiallyPaired order.
func (o *OrderService) CancelOrder(ctx context.Context, userId int64, orderId uuid.UUID) (models.Order, error) {
	const op = "order.CancelOrder"

	cancelled, err := o.manager.CancelOrder(ctx, orderId, userId)
	if err != nil {
		o.log.Error("failed to cancel order", "order_id", orderId, "user_id", userId, "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	o.log.Info("order cancelled", "order_id", orderId, "user_id", userId)
	return cancelled, nil
}

func (o *OrderService) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	const op = "order.GetOrder"

	order, err := o.manager.GetOrder(ctx, id)
	if err != nil {
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

// GetUserOrders returns the user's orders split into open (still live) and
// filled (terminal) buckets.
func (o *OrderService) GetUserOrders(ctx context.Context, userId int64) (open, closed []models.Order, err error) {
	const op = "order.GetUserOrders"

	orders, err := o.manager.GetUserOrders(ctx, userId)
	if err != nil {
		o.log.Error("failed to get user orders", "user_id", userId, "err", err)
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, ord := range orders {
		switch ord.Status {
		case models.OrderFilled, models.OrderCancelled:
			closed = append(closed, ord)
		default:
			open = append(open, ord)
		}
	}
	return open, closed, nil
}

// GetMarketOrders returns every order on a market in placement order.
func (o *OrderService) GetMarketOrders(ctx context.Context, marketId uuid.UUID) ([]models.Order, error) {
	const op = "order.GetMarketOrders"

	orders, err := o.manager.GetMarketOrders(ctx, marketId)
	if err != nil {
		o.log.Error("failed to get market orders", "market_id", marketId, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}
