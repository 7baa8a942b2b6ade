package market

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
	"PredictionMarket/internal/storage/redis"
)

var (
	ErrInvalidOutcome       = errors.New("outcome must be yes or no")
	ErrInvalidWindow        = errors.New("market end date must be after start date")
	ErrResolutionInProgress = errors.New("resolution already in progress")
)

type MarketService struct {
	log       *slog.Logger
	manager   Manager
	locks     LockManager
	publisher Publisher
	feeRate   decimal.Decimal
	lockTTL   time.Duration
}

type Manager interface {
	CreateMarket(ctx context.Context, m models.Market) (uuid.UUID, error)
	GetMarket(ctx context.Context, id uuid.UUID) (models.Market, error)
	ListMarkets(ctx context.Context, includeArchived bool) ([]models.Market, error)
	ArchiveMarket(ctx context.Context, id uuid.UUID) error
	ResolveMarket(ctx context.Context, marketId uuid.UUID, outcome models.Outcome, feeRate decimal.Decimal) (models.ResolutionSummary, error)
}

// LockManager serializes resolutions in flight for the same market.
type LockManager interface {
	AcquireResolveLock(ctx context.Context, marketId uuid.UUID, ttl time.Duration) (func(), error)
}

type Publisher interface {
	PublishMarketResolved(event natsbroker.MarketResolvedEvent) error
}

func New(log *slog.Logger,
	manager Manager,
	locks LockManager,
	publisher Publisher,
	feeRate decimal.Decimal,
	lockTTL time.Duration) *MarketService {
	return &MarketService{
		log:       log,
		manager:   manager,
		locks:     locks,
		publisher: publisher,
		feeRate:   feeRate,
		lockTTL:   lockTTL,
	}
}

func (m *MarketService) CreateMarket(ctx context.Context,
	question, category string,
	image models.MarketImage,
	isDaily bool,
	startDate, endDate time.Time) (models.Market, error) {
	const op = "market.CreateMarket"

	if !endDate.After(startDate) {
		return models.Market{}, ErrInvalidWindow
	}
	if category == "" {
		category = "General"
	}

	mk := models.Market{
		Id:        uuid.New(),
		Question:  question,
		Category:  category,
		Status:    models.MarketOpen,
		Outcome:   models.OutcomeUnset,
		Image:     image,
		History:   []models.HistoryPoint{},
		IsDaily:   isDaily,
		StartDate: startDate,
		EndDate:   endDate,
		CreatedAt: time.Now(),
	}

	if _, err := m.manager.CreateMarket(ctx, mk); err != nil {
		m.log.Error("failed to create market", "question", question, "err", err)
		return models.Market{}, fmt.Errorf("%s: %w", op, err)
	}

	return mk, nil
}

func (m *MarketService) GetMarket(ctx context.Context, id uuid.UUID) (models.Market, error) {
	const op = "market.GetMarket"

	mk, err := m.manager.GetMarket(ctx, id)
	if err != nil {
		return models.Market{}, fmt.Errorf("%s: %w", op, err)
	}
	return mk, nil
}

// ListMarkets returns the public listing; archived markets are excluded.
func (m *MarketService) ListMarkets(ctx context.Context) ([]models.Market, error) {
	const op = "market.ListMarkets"

	markets, err := m.manager.ListMarkets(ctx, false)
	if err != nil {
		m.log.Error("failed to list markets", "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return markets, nil
}

// ArchiveMarket moves a closed market out of public listings.
func (m *MarketService) ArchiveMarket(ctx context.Context, id uuid.UUID) error {
	const op = "market.ArchiveMarket"

	if err := m.manager.ArchiveMarket(ctx, id); err != nil {
		m.log.Error("failed to archive market", "market_id", id, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	m.log.Info("market archived", "market_id", id)
	return nil
}

// ResolveMarket settles the market to the given outcome: winners are
// credited from the losing pool net of the platform fee, orders that never
// fully paired are refunded, and the market closes. The settlement itself
// is one storage transaction; the redis lock only keeps two concurrent
// resolve requests from both doing the work.
func (m *MarketService) ResolveMarket(ctx context.Context, marketId uuid.UUID, outcome models.Outcome) (models.ResolutionSummary, error) {
	const op = "market.ResolveMarket"

	if !outcome.Valid() {
		return models.ResolutionSummary{}, ErrInvalidOutcome
	}

	unlock, err := m.locks.AcquireResolveLock(ctx, marketId, m.lockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockHeld) {
			return models.ResolutionSummary{}, ErrResolutionInProgress
		}
		m.log.Error("failed to acquire resolution lock", "market_id", marketId, "err", err)
		return models.ResolutionSummary{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	summary, err := m.manager.ResolveMarket(ctx, marketId, outcome, m.feeRate)
	if err != nil {
		m.log.Error("failed to resolve market", "market_id", marketId, "outcome", outcome, "err", err)
		return models.ResolutionSummary{}, fmt.Errorf("%s: %w", op, err)
	}

	event := natsbroker.MarketResolvedEvent{
		MarketId:      marketId,
		Outcome:       outcome,
		Winners:       summary.Winners,
		Refunds:       summary.Refunds,
		TotalCredited: summary.TotalCredited,
		TotalRefunded: summary.TotalRefunded,
		At:            time.Now(),
	}
	if err := m.publisher.PublishMarketResolved(event); err != nil {
		// Settlement is committed; the missed event is log-only.
		m.log.Error("failed to publish resolution event", "market_id", marketId, "err", err)
	}

	m.log.Info("market resolved",
		"market_id", marketId,
		"outcome", outcome,
		"winners", summary.Winners,
		"refunds", summary.Refunds)
	return summary, nil
}
