package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/engine"
)

const orderColumns = `id, market_id, user_id, side, price, quantity, filled_quantity, status, counterparties, created_at`

// PlaceOrder executes the whole matching pass in one transaction: market
// check, duplicate guard, stake debit, counter-order fills, order insert,
// ledger entry for the debit.
// If anything fails after the debit the transaction rolls back, so the
// caller is never charged without a persisted order.
//
// The FOR UPDATE locks on the wallet row and the counter-order rows
// serialize placements racing for the same resting quantity; FOR SHARE on
// the market row blocks a concurrent resolution from closing the market
// mid-placement.
func (s *Storage) PlaceOrder(ctx context.Context, order models.Order) (models.Order, models.PairingSummary, error) {
	const op = "postgres.PlaceOrder"
	log := slog.With("op", op, "user_id", order.UserId, "market_id", order.MarketId)

	var summary models.PairingSummary

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	// 1. Market must exist, be open and inside its trading window.
	var marketStatus models.MarketStatus
	var endDate time.Time
	err = tx.QueryRow(ctx,
		`SELECT status, end_date FROM markets WHERE id = $1 FOR SHARE`,
		order.MarketId,
	).Scan(&marketStatus, &endDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, summary, ErrMarketNotExists
	}
	if err != nil {
		log.Error("failed to get market", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}
	if marketStatus != models.MarketOpen || !order.CreatedAt.Before(endDate) {
		return models.Order{}, summary, ErrMarketClosed
	}

	// 2. One live order per (user, market, side, price).
	var exists bool
	err = tx.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM orders
            WHERE user_id = $1 AND market_id = $2 AND side = $3 AND price = $4
              AND status NOT IN ('Cancelled', 'Filled')
        )`,
		order.UserId, order.MarketId, order.Side, order.Price,
	).Scan(&exists)
	if err != nil {
		log.Error("failed to check duplicate order", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		return models.Order{}, summary, ErrDuplicateOrder
	}

	// 3. Reserve the stake.
	var newBalance decimal.Decimal
	err = tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance - $1 WHERE user_id = $2 RETURNING balance`,
		order.Price, order.UserId,
	).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, summary, ErrWalletNotExists
	}
	if err != nil {
		if isCheckViolation(err) {
			return models.Order{}, summary, ErrInsufficientFunds
		}
		log.Error("failed to debit stake", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}
	if newBalance.IsNegative() {
		return models.Order{}, summary, ErrInsufficientFunds
	}

	// 4. Lock and load counter-orders, oldest first.
	rows, err := tx.Query(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE market_id = $1 AND price = $2 AND side = $3 AND user_id <> $4
          AND status IN ('Open', 'PartiallyPaired')
        ORDER BY created_at ASC
        FOR UPDATE`,
		order.MarketId, order.Price, order.Side.Opposite(), order.UserId)
	if err != nil {
		log.Error("failed to load counter orders", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}
	counters, err := scanOrders(rows)
	if err != nil {
		log.Error("failed to scan counter orders", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}

	// 5. Allocate fills and write back every touched counter-order.
	res := engine.Match(order, counters)
	for _, touched := range res.Touched {
		_, err = tx.Exec(ctx,
			`UPDATE orders SET filled_quantity = $1, status = $2, counterparties = $3 WHERE id = $4`,
			touched.FilledQuantity, touched.Status, touched.Counterparties, touched.Id)
		if err != nil {
			log.Error("failed to update counter order", "counter_id", touched.Id, "err", err)
			return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
		}
	}

	placed := res.Order
	_, err = tx.Exec(ctx, `
        INSERT INTO orders(`+orderColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		placed.Id, placed.MarketId, placed.UserId, placed.Side, placed.Price,
		placed.Quantity, placed.FilledQuantity, placed.Status, placed.Counterparties, placed.CreatedAt)
	if err != nil {
		log.Error("failed to insert order", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}

	if err := insertLedgerEntry(ctx, tx, placementEntry(placed)); err != nil {
		log.Error("failed to insert placement entry", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return models.Order{}, summary, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("order placed",
		"order_id", placed.Id,
		"status", placed.Status,
		"matched", res.Summary.MatchedQuantity,
		"balance", newBalance)
	return placed, res.Summary, nil
}

// placementEntry is the ledger record for the stake debit of a new order.
// The negative amount is what lets a user's history explain the balance
// drop at placement time.
func placementEntry(o models.Order) models.LedgerEntry {
	return models.LedgerEntry{
		Id:          uuid.New(),
		UserId:      o.UserId,
		Kind:        models.EntryTrade,
		Amount:      o.Price.Neg(),
		Fee:         decimal.Zero,
		Status:      models.EntryCompleted,
		Description: fmt.Sprintf("Order placed: %s", o.Id),
		Reference:   fmt.Sprintf("order:%s", o.Id),
		Metadata:    models.EntryMetadata{OrderId: o.Id, MarketId: o.MarketId, Stake: o.Price},
		CreatedAt:   o.CreatedAt,
	}
}

// CancelOrder transitions an Open or PartiallyPaired order to Cancelled.
// Cancelling an Open order refunds the full stake; a PartiallyPaired
// order's stake is forfeited and recorded at resolution.
func (s *Storage) CancelOrder(ctx context.Context, orderId uuid.UUID, userId int64) (models.Order, error) {
	const op = "postgres.CancelOrder"
	log := slog.With("op", op, "order_id", orderId)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderId)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrOrderNotExists
	}
	if err != nil {
		log.Error("failed to get order", "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	if order.UserId != userId {
		return models.Order{}, ErrOrderNotExists
	}
	if !order.Cancellable() {
		return models.Order{}, ErrOrderNotCancellable
	}

	_, err = tx.Exec(ctx, `UPDATE orders SET status = $1 WHERE id = $2`,
		models.OrderCancelled, orderId)
	if err != nil {
		log.Error("failed to cancel order", "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	if order.Status == models.OrderOpen {
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET balance = balance + $1 WHERE user_id = $2`,
			order.Price, userId)
		if err != nil {
			log.Error("failed to refund stake", "err", err)
			return models.Order{}, fmt.Errorf("%s: %w", op, err)
		}
		entry := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      userId,
			Kind:        models.EntryRefund,
			Amount:      order.Price,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: fmt.Sprintf("Order cancelled: %s", orderId),
			Reference:   fmt.Sprintf("cancel:%s", orderId),
			Metadata:    models.EntryMetadata{OrderId: orderId, MarketId: order.MarketId, Stake: order.Price},
			CreatedAt:   time.Now(),
		}
		if err := insertLedgerEntry(ctx, tx, entry); err != nil {
			log.Error("failed to insert refund entry", "err", err)
			return models.Order{}, fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}

	order.Status = models.OrderCancelled
	log.Info("order cancelled", "user_id", userId)
	return order, nil
}

func (s *Storage) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	const op = "postgres.GetOrder"

	row := s.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Order{}, ErrOrderNotExists
	}
	if err != nil {
		slog.Error("failed to get order", "op", op, "id", id, "err", err)
		return models.Order{}, fmt.Errorf("%s: %w", op, err)
	}
	return order, nil
}

func (s *Storage) GetUserOrders(ctx context.Context, userId int64) ([]models.Order, error) {
	const op = "postgres.GetUserOrders"

	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userId)
	if err != nil {
		slog.Error("failed to get user orders", "op", op, "user_id", userId, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

func (s *Storage) GetMarketOrders(ctx context.Context, marketId uuid.UUID) ([]models.Order, error) {
	const op = "postgres.GetMarketOrders"

	rows, err := s.db.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE market_id = $1 ORDER BY created_at ASC`, marketId)
	if err != nil {
		slog.Error("failed to get market orders", "op", op, "market_id", marketId, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (models.Order, error) {
	var o models.Order
	err := row.Scan(&o.Id, &o.MarketId, &o.UserId, &o.Side, &o.Price,
		&o.Quantity, &o.FilledQuantity, &o.Status, &o.Counterparties, &o.CreatedAt)
	return o, err
}

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
