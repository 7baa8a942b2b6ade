package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

func TestPlacementEntry_DebitsStake(t *testing.T) {
	order := models.Order{
		Id:        uuid.New(),
		MarketId:  uuid.New(),
		UserId:    7,
		Side:      models.Buy,
		Price:     decimal.RequireFromString("150"),
		Quantity:  2,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	entry := placementEntry(order)

	if entry.UserId != 7 {
		t.Errorf("user = %d, want 7", entry.UserId)
	}
	if entry.Kind != models.EntryTrade {
		t.Errorf("kind = %s, want %s", entry.Kind, models.EntryTrade)
	}
	if !entry.Amount.Equal(decimal.RequireFromString("-150")) {
		t.Errorf("amount = %s, want -150", entry.Amount)
	}
	if want := "order:" + order.Id.String(); entry.Reference != want {
		t.Errorf("reference = %q, want %q", entry.Reference, want)
	}
	if entry.Status != models.EntryCompleted {
		t.Errorf("status = %s, want %s", entry.Status, models.EntryCompleted)
	}
	if entry.Metadata.OrderId != order.Id || entry.Metadata.MarketId != order.MarketId {
		t.Errorf("metadata ids = %+v, want order %s market %s", entry.Metadata, order.Id, order.MarketId)
	}
	if !entry.Metadata.Stake.Equal(order.Price) {
		t.Errorf("metadata stake = %s, want %s", entry.Metadata.Stake, order.Price)
	}
}
