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

const marketColumns = `id, question, category, status, outcome, image_url, image_hint, history, is_daily, start_date, end_date, created_at`

func (s *Storage) CreateMarket(ctx context.Context, m models.Market) (uuid.UUID, error) {
	const op = "postgres.CreateMarket"
	log := slog.With("op", op)

	_, err := s.db.Exec(ctx, `
        INSERT INTO markets(`+marketColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.Id, m.Question, m.Category, m.Status, m.Outcome,
		m.Image.URL, m.Image.Hint, m.History, m.IsDaily,
		m.StartDate, m.EndDate, m.CreatedAt)
	if err != nil {
		log.Error("failed to create market", "question", m.Question, "err", err)
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("market created", "id", m.Id, "question", m.Question)
	return m.Id, nil
}

func (s *Storage) GetMarket(ctx context.Context, id uuid.UUID) (models.Market, error) {
	const op = "postgres.GetMarket"

	row := s.db.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Market{}, ErrMarketNotExists
	}
	if err != nil {
		slog.Error("failed to get market", "op", op, "id", id, "err", err)
		return models.Market{}, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

// ListMarkets returns markets newest first. Archived markets are excluded
// unless includeArchived is set.
func (s *Storage) ListMarkets(ctx context.Context, includeArchived bool) ([]models.Market, error) {
	const op = "postgres.ListMarkets"

	query := `SELECT ` + marketColumns + ` FROM markets`
	if !includeArchived {
		query += ` WHERE status <> 'archived'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		slog.Error("failed to list markets", "op", op, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var markets []models.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

// ArchiveMarket moves a closed market into the read-only archive.
func (s *Storage) ArchiveMarket(ctx context.Context, id uuid.UUID) error {
	const op = "postgres.ArchiveMarket"
	log := slog.With("op", op, "market_id", id)

	tag, err := s.db.Exec(ctx,
		`UPDATE markets SET status = $1 WHERE id = $2 AND status = $3`,
		models.MarketArchived, id, models.MarketClosed)
	if err != nil {
		log.Error("failed to archive market", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetMarket(ctx, id); err != nil {
			return err
		}
		return ErrMarketClosed
	}

	log.Info("market archived")
	return nil
}

// ResolveMarket settles a market atomically. The compare-and-set close is
// the idempotency guard: a second resolve finds the market already closed,
// takes the early return and moves no money.
func (s *Storage) ResolveMarket(ctx context.Context,
	marketId uuid.UUID,
	outcome models.Outcome,
	feeRate decimal.Decimal) (models.ResolutionSummary, error) {
	const op = "postgres.ResolveMarket"
	log := slog.With("op", op, "market_id", marketId, "outcome", outcome)

	var summary models.ResolutionSummary

	tx, err := s.db.Begin(ctx)
	if err != nil {
		log.Error("failed to begin transaction", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	// 1. Close the market. Only an Open market can transition.
	tag, err := tx.Exec(ctx,
		`UPDATE markets SET status = $1, outcome = $2 WHERE id = $3 AND status = $4`,
		models.MarketClosed, outcome, marketId, models.MarketOpen)
	if err != nil {
		log.Error("failed to close market", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM markets WHERE id = $1)`, marketId,
		).Scan(&exists); err != nil {
			return summary, fmt.Errorf("%s: %w", op, err)
		}
		if !exists {
			return summary, ErrMarketNotExists
		}
		return summary, ErrMarketClosed
	}

	// 2. Lock every order of the market for the duration of settlement.
	rows, err := tx.Query(ctx, `
        SELECT `+orderColumns+`
        FROM orders
        WHERE market_id = $1
        ORDER BY created_at ASC
        FOR UPDATE`, marketId)
	if err != nil {
		log.Error("failed to load market orders", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}
	orders, err := scanOrders(rows)
	if err != nil {
		log.Error("failed to scan market orders", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}

	// 3. Compute and apply the settlement plan.
	settlement := engine.Settle(orders, outcome, feeRate)
	now := time.Now()

	for _, credit := range settlement.Credits {
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET balance = balance + $1 WHERE user_id = $2`,
			credit.Payout, credit.UserId)
		if err != nil {
			log.Error("failed to credit winner", "user_id", credit.UserId, "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
		entry := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      credit.UserId,
			Kind:        models.EntryTrade,
			Amount:      credit.Payout,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: fmt.Sprintf("Market resolved: %s, win", marketId),
			Reference:   fmt.Sprintf("market:%s:order:%s", marketId, credit.OrderId),
			Metadata: models.EntryMetadata{
				OrderId:  credit.OrderId,
				MarketId: marketId,
				Outcome:  outcome,
				Stake:    credit.Stake,
				Winnings: credit.Winnings,
				Share:    credit.Share,
				GroupKey: credit.GroupKey,
			},
			CreatedAt: now,
		}
		if err := insertLedgerEntry(ctx, tx, entry); err != nil {
			log.Error("failed to insert win entry", "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, loss := range settlement.Losses {
		entry := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      loss.UserId,
			Kind:        models.EntryTrade,
			Amount:      decimal.Zero,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: fmt.Sprintf("Market resolved: %s, loss", marketId),
			Reference:   fmt.Sprintf("market:%s:order:%s", marketId, loss.OrderId),
			Metadata: models.EntryMetadata{
				OrderId:  loss.OrderId,
				MarketId: marketId,
				Outcome:  outcome,
				Stake:    loss.Stake,
				GroupKey: loss.GroupKey,
			},
			CreatedAt: now,
		}
		if err := insertLedgerEntry(ctx, tx, entry); err != nil {
			log.Error("failed to insert loss entry", "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, refund := range settlement.Refunds {
		_, err = tx.Exec(ctx,
			`UPDATE wallets SET balance = balance + $1 WHERE user_id = $2`,
			refund.Amount, refund.UserId)
		if err != nil {
			log.Error("failed to refund stake", "user_id", refund.UserId, "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
		entry := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      refund.UserId,
			Kind:        models.EntryRefund,
			Amount:      refund.Amount,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: fmt.Sprintf("Market resolved: %s, unmatched stake refunded", marketId),
			Reference:   fmt.Sprintf("market:%s:order:%s", marketId, refund.OrderId),
			Metadata: models.EntryMetadata{
				OrderId:  refund.OrderId,
				MarketId: marketId,
				Outcome:  outcome,
				Stake:    refund.Amount,
			},
			CreatedAt: now,
		}
		if err := insertLedgerEntry(ctx, tx, entry); err != nil {
			log.Error("failed to insert refund entry", "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
	}

	for _, forfeit := range settlement.Forfeits {
		entry := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      forfeit.UserId,
			Kind:        models.EntryTrade,
			Amount:      decimal.Zero,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: fmt.Sprintf("Market resolved: %s, cancelled stake forfeited", marketId),
			Reference:   fmt.Sprintf("market:%s:order:%s", marketId, forfeit.OrderId),
			Metadata: models.EntryMetadata{
				OrderId:  forfeit.OrderId,
				MarketId: marketId,
				Outcome:  outcome,
				Stake:    forfeit.Stake,
			},
			CreatedAt: now,
		}
		if err := insertLedgerEntry(ctx, tx, entry); err != nil {
			log.Error("failed to insert forfeit entry", "err", err)
			return summary, fmt.Errorf("%s: %w", op, err)
		}
	}

	// 4. Every live order reaches the terminal Filled state. Cancelled
	// stays terminal.
	_, err = tx.Exec(ctx,
		`UPDATE orders SET status = $1 WHERE market_id = $2 AND status <> $3`,
		models.OrderFilled, marketId, models.OrderCancelled)
	if err != nil {
		log.Error("failed to finalize orders", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		log.Error("failed to commit transaction", "err", err)
		return summary, fmt.Errorf("%s: %w", op, err)
	}

	summary = models.ResolutionSummary{
		MarketId:      marketId,
		Outcome:       outcome,
		Groups:        settlement.Groups,
		Winners:       len(settlement.Credits),
		Refunds:       len(settlement.Refunds),
		TotalCredited: settlement.TotalCredited(),
		TotalRefunded: settlement.TotalRefunded(),
		FeeRetained:   settlement.FeeRetained,
	}
	log.Info("market resolved",
		"groups", summary.Groups,
		"winners", summary.Winners,
		"refunds", summary.Refunds,
		"credited", summary.TotalCredited,
		"refunded", summary.TotalRefunded)
	return summary, nil
}

func scanMarket(row pgx.Row) (models.Market, error) {
	var m models.Market
	err := row.Scan(&m.Id, &m.Question, &m.Category, &m.Status, &m.Outcome,
		&m.Image.URL, &m.Image.Hint, &m.History, &m.IsDaily,
		&m.StartDate, &m.EndDate, &m.CreatedAt)
	return m, err
}
