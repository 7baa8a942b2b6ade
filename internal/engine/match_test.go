package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

func newTestOrder(userId int64, side models.Side, price string, qty, filled int64, createdOffset time.Duration) models.Order {
	o := models.Order{
		Id:             uuid.New(),
		MarketId:       uuid.New(),
		UserId:         userId,
		Side:           side,
		Price:          decimal.RequireFromString(price),
		Quantity:       qty,
		FilledQuantity: filled,
		CreatedAt:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC).Add(createdOffset),
	}
	o.Status = models.DeriveOrderStatus(filled, qty)
	return o
}

func TestMatch_NoCounters_StaysOpen(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "100", 3, 0, 0)

	res := Match(incoming, nil)

	if res.Order.Status != models.OrderOpen {
		t.Errorf("expected status Open, got %s", res.Order.Status)
	}
	if res.Summary.MatchedQuantity != 0 {
		t.Errorf("expected 0 matched, got %d", res.Summary.MatchedQuantity)
	}
	if res.Summary.RemainingQuantity != 3 {
		t.Errorf("expected 3 remaining, got %d", res.Summary.RemainingQuantity)
	}
	if len(res.Touched) != 0 {
		t.Errorf("expected no touched counters, got %d", len(res.Touched))
	}
}

func TestMatch_FullFill_SingleCounter(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "100", 1, 0, time.Minute)
	counter := newTestOrder(2, models.Sell, "100", 1, 0, 0)

	res := Match(incoming, []models.Order{counter})

	if res.Order.Status != models.OrderPaired {
		t.Errorf("expected incoming Paired, got %s", res.Order.Status)
	}
	if res.Order.FilledQuantity != 1 {
		t.Errorf("expected filled 1, got %d", res.Order.FilledQuantity)
	}
	if len(res.Touched) != 1 {
		t.Fatalf("expected 1 touched counter, got %d", len(res.Touched))
	}
	if res.Touched[0].Status != models.OrderPaired {
		t.Errorf("expected counter Paired, got %s", res.Touched[0].Status)
	}
	if got := res.Touched[0].Counterparties; len(got) != 1 || got[0] != 1 {
		t.Errorf("expected counter counterparties [1], got %v", got)
	}
	if got := res.Order.Counterparties; len(got) != 1 || got[0] != 2 {
		t.Errorf("expected incoming counterparties [2], got %v", got)
	}
}

func TestMatch_PartialFill_IncomingLarger(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 3, 0, time.Minute)
	counter := newTestOrder(2, models.Sell, "50", 1, 0, 0)

	res := Match(incoming, []models.Order{counter})

	if res.Order.Status != models.OrderPartiallyPaired {
		t.Errorf("expected incoming PartiallyPaired, got %s", res.Order.Status)
	}
	if res.Summary.MatchedQuantity != 1 {
		t.Errorf("expected 1 matched, got %d", res.Summary.MatchedQuantity)
	}
	if res.Summary.RemainingQuantity != 2 {
		t.Errorf("expected 2 remaining, got %d", res.Summary.RemainingQuantity)
	}
	if res.Touched[0].Status != models.OrderPaired {
		t.Errorf("expected counter fully Paired, got %s", res.Touched[0].Status)
	}
}

func TestMatch_FIFO_OldestCounterServedFirst(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 2, 0, time.Hour)
	oldest := newTestOrder(2, models.Sell, "50", 2, 0, 0)
	newer := newTestOrder(3, models.Sell, "50", 2, 0, time.Minute)

	res := Match(incoming, []models.Order{oldest, newer})

	// The oldest counter absorbs the whole fill; the newer one is untouched.
	if len(res.Touched) != 1 {
		t.Fatalf("expected 1 touched counter, got %d", len(res.Touched))
	}
	if res.Touched[0].Id != oldest.Id {
		t.Errorf("expected oldest counter consumed first")
	}
	if res.Touched[0].FilledQuantity != 2 {
		t.Errorf("expected oldest filled 2, got %d", res.Touched[0].FilledQuantity)
	}
}

func TestMatch_SpansMultipleCounters(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 3, 0, time.Hour)
	first := newTestOrder(2, models.Sell, "50", 1, 0, 0)
	second := newTestOrder(3, models.Sell, "50", 5, 0, time.Minute)

	res := Match(incoming, []models.Order{first, second})

	if res.Order.Status != models.OrderPaired {
		t.Errorf("expected incoming Paired, got %s", res.Order.Status)
	}
	if len(res.Touched) != 2 {
		t.Fatalf("expected 2 touched counters, got %d", len(res.Touched))
	}
	if res.Touched[0].FilledQuantity != 1 || res.Touched[0].Status != models.OrderPaired {
		t.Errorf("first counter: filled=%d status=%s", res.Touched[0].FilledQuantity, res.Touched[0].Status)
	}
	if res.Touched[1].FilledQuantity != 2 || res.Touched[1].Status != models.OrderPartiallyPaired {
		t.Errorf("second counter: filled=%d status=%s", res.Touched[1].FilledQuantity, res.Touched[1].Status)
	}
	if got := res.Order.Counterparties; len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected counterparties [2 3], got %v", got)
	}
}

func TestMatch_SkipsExhaustedCounters(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 1, 0, time.Hour)
	exhausted := newTestOrder(2, models.Sell, "50", 2, 2, 0)
	live := newTestOrder(3, models.Sell, "50", 1, 0, time.Minute)

	res := Match(incoming, []models.Order{exhausted, live})

	if len(res.Touched) != 1 {
		t.Fatalf("expected 1 touched counter, got %d", len(res.Touched))
	}
	if res.Touched[0].Id != live.Id {
		t.Errorf("expected exhausted counter to be skipped")
	}
}

func TestMatch_ResumesPartiallyPairedCounter(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 2, 0, time.Hour)
	partial := newTestOrder(2, models.Sell, "50", 5, 3, 0)

	res := Match(incoming, []models.Order{partial})

	if res.Touched[0].FilledQuantity != 5 {
		t.Errorf("expected counter filled 5, got %d", res.Touched[0].FilledQuantity)
	}
	if res.Touched[0].Status != models.OrderPaired {
		t.Errorf("expected counter Paired, got %s", res.Touched[0].Status)
	}
}

func TestMatch_DoesNotMutateInput(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 1, 0, time.Hour)
	counter := newTestOrder(2, models.Sell, "50", 1, 0, 0)
	counters := []models.Order{counter}

	Match(incoming, counters)

	if counters[0].FilledQuantity != 0 || counters[0].Status != models.OrderOpen {
		t.Errorf("input counter mutated: %+v", counters[0])
	}
	if len(incoming.Counterparties) != 0 {
		t.Errorf("input order mutated: %+v", incoming)
	}
}

func TestMatch_DoesNotWriteThroughCounterpartyBackingArray(t *testing.T) {
	incoming := newTestOrder(1, models.Buy, "50", 1, 0, time.Hour)
	counter := newTestOrder(9, models.Sell, "50", 2, 1, 0)
	// Spare capacity behind the visible elements: an in-place insert on the
	// copied counter would shift values inside the shared backing array.
	counter.Counterparties = append(make([]int64, 0, 8), 7)
	counters := []models.Order{counter}

	res := Match(incoming, counters)

	if got := counters[0].Counterparties; len(got) != 1 || got[0] != 7 {
		t.Errorf("input counterparties mutated: %v", got)
	}
	if got := res.Touched[0].Counterparties; len(got) != 2 || got[0] != 1 || got[1] != 7 {
		t.Errorf("touched counterparties = %v, want [1 7]", got)
	}
}
