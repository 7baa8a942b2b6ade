package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

var feeTenPercent = decimal.RequireFromString("0.1")

func pairedOrder(userId int64, side models.Side, price string, qty int64, counterparties []int64, createdOffset time.Duration) models.Order {
	o := newTestOrder(userId, side, price, qty, qty, createdOffset)
	for _, cp := range counterparties {
		o.AddCounterparty(cp)
	}
	return o
}

func decEq(t *testing.T, got decimal.Decimal, want string, what string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}

func TestSettle_TwoUserFullPair(t *testing.T) {
	// A bought, B sold, both staked 100. Outcome yes means buyers win.
	a := pairedOrder(1, models.Buy, "100", 1, []int64{2}, 0)
	b := pairedOrder(2, models.Sell, "100", 1, []int64{1}, time.Minute)

	s := Settle([]models.Order{a, b}, models.OutcomeYes, feeTenPercent)

	if s.Groups != 1 {
		t.Fatalf("expected 1 group, got %d", s.Groups)
	}
	if len(s.Credits) != 1 || len(s.Losses) != 1 || len(s.Refunds) != 0 {
		t.Fatalf("credits=%d losses=%d refunds=%d", len(s.Credits), len(s.Losses), len(s.Refunds))
	}

	c := s.Credits[0]
	if c.UserId != 1 {
		t.Errorf("winner user = %d, want 1", c.UserId)
	}
	decEq(t, c.Winnings, "90", "winnings")
	decEq(t, c.Payout, "190", "payout")
	decEq(t, s.Losses[0].Stake, "100", "loser stake")
	decEq(t, s.FeeRetained, "10", "fee retained")
}

func TestSettle_ProportionalSplitAcrossCounterparties(t *testing.T) {
	// A's BUY qty=3 filled against B (qty=1) and C (qty=2), all staking 50.
	// Outcome no means sellers win; B and C split A's pool 1:2.
	a := pairedOrder(1, models.Buy, "50", 3, []int64{2, 3}, 0)
	b := pairedOrder(2, models.Sell, "50", 1, []int64{1}, time.Minute)
	c := pairedOrder(3, models.Sell, "50", 2, []int64{1}, 2*time.Minute)

	s := Settle([]models.Order{a, b, c}, models.OutcomeNo, feeTenPercent)

	if s.Groups != 1 {
		t.Fatalf("expected 1 connected group, got %d", s.Groups)
	}
	if len(s.Credits) != 2 {
		t.Fatalf("expected 2 winners, got %d", len(s.Credits))
	}

	byUser := map[int64]Credit{}
	for _, cr := range s.Credits {
		byUser[cr.UserId] = cr
	}
	decEq(t, byUser[2].Winnings, "15", "B winnings")
	decEq(t, byUser[2].Payout, "65", "B payout")
	decEq(t, byUser[3].Winnings, "30", "C winnings")
	decEq(t, byUser[3].Payout, "80", "C payout")
	decEq(t, s.FeeRetained, "5", "fee retained")
}

func TestSettle_UnmatchedOrderRefunded(t *testing.T) {
	open := newTestOrder(4, models.Buy, "75", 1, 0, 0)

	for _, outcome := range []models.Outcome{models.OutcomeYes, models.OutcomeNo} {
		s := Settle([]models.Order{open}, outcome, feeTenPercent)

		if len(s.Refunds) != 1 {
			t.Fatalf("outcome %s: expected 1 refund, got %d", outcome, len(s.Refunds))
		}
		decEq(t, s.Refunds[0].Amount, "75", "refund")
		if len(s.Credits) != 0 || len(s.Losses) != 0 {
			t.Errorf("outcome %s: unexpected credits/losses", outcome)
		}
	}
}

func TestSettle_PartiallyPairedRefundedInFull(t *testing.T) {
	// A matched 1 of 3 against B. A is refunded its whole stake; B still
	// settles in its group.
	a := newTestOrder(1, models.Buy, "60", 3, 1, 0)
	a.AddCounterparty(2)
	b := pairedOrder(2, models.Sell, "60", 1, []int64{1}, time.Minute)

	s := Settle([]models.Order{a, b}, models.OutcomeNo, feeTenPercent)

	if len(s.Refunds) != 1 || s.Refunds[0].UserId != 1 {
		t.Fatalf("expected A refunded, got %+v", s.Refunds)
	}
	decEq(t, s.Refunds[0].Amount, "60", "refund")

	// B's group has no losing order, so the pool is empty.
	if len(s.Credits) != 1 {
		t.Fatalf("expected B credited, got %d credits", len(s.Credits))
	}
	decEq(t, s.Credits[0].Winnings, "0", "B winnings")
	decEq(t, s.Credits[0].Payout, "60", "B payout")
}

func TestSettle_CancelledUnfilledOrderIgnored(t *testing.T) {
	// An unfilled order was refunded when it was cancelled; resolution
	// moves no money for it.
	cancelled := newTestOrder(5, models.Buy, "40", 1, 0, 0)
	cancelled.Status = models.OrderCancelled

	s := Settle([]models.Order{cancelled}, models.OutcomeYes, feeTenPercent)

	if len(s.Credits)+len(s.Losses)+len(s.Refunds)+len(s.Forfeits) != 0 {
		t.Errorf("cancelled order produced settlement records: %+v", s)
	}
	decEq(t, s.FeeRetained, "0", "fee retained")
}

func TestSettle_CancelledPartialFillForfeitsStake(t *testing.T) {
	// A matched 1 of 3 against B and then cancelled. Cancellation never
	// refunded the stake, so it stays with the house at resolution.
	a := newTestOrder(1, models.Buy, "60", 3, 1, 0)
	a.AddCounterparty(2)
	a.Status = models.OrderCancelled
	b := pairedOrder(2, models.Sell, "60", 1, []int64{1}, time.Minute)

	s := Settle([]models.Order{a, b}, models.OutcomeNo, feeTenPercent)

	if len(s.Refunds) != 0 {
		t.Fatalf("cancelled order refunded: %+v", s.Refunds)
	}
	if len(s.Forfeits) != 1 || s.Forfeits[0].UserId != 1 {
		t.Fatalf("expected A's stake forfeited, got %+v", s.Forfeits)
	}
	decEq(t, s.Forfeits[0].Stake, "60", "forfeited stake")
	decEq(t, s.FeeRetained, "60", "fee retained")

	// B's group has no losing order left; B gets its stake back.
	if len(s.Credits) != 1 {
		t.Fatalf("expected B credited, got %d credits", len(s.Credits))
	}
	decEq(t, s.Credits[0].Payout, "60", "B payout")
}

func TestSettle_GroupWithNoWinnersKeepsPool(t *testing.T) {
	// Both paired orders on the losing side cannot happen through matching,
	// but a group where the winning side was refunded leaves the pool with
	// the house.
	loser := pairedOrder(2, models.Sell, "80", 1, []int64{1}, 0)

	s := Settle([]models.Order{loser}, models.OutcomeYes, feeTenPercent)

	if len(s.Credits) != 0 {
		t.Fatalf("expected no credits, got %d", len(s.Credits))
	}
	decEq(t, s.FeeRetained, "80", "fee retained")
}

func TestSettle_ConfigurableFeeRate(t *testing.T) {
	a := pairedOrder(1, models.Buy, "100", 1, []int64{2}, 0)
	b := pairedOrder(2, models.Sell, "100", 1, []int64{1}, time.Minute)

	s := Settle([]models.Order{a, b}, models.OutcomeYes, decimal.RequireFromString("0.25"))

	decEq(t, s.Credits[0].Winnings, "75", "winnings at 25% fee")
	decEq(t, s.Credits[0].Payout, "175", "payout at 25% fee")
	decEq(t, s.FeeRetained, "25", "fee retained at 25%")
}

func TestSettle_SeparateGroupsSettleIndependently(t *testing.T) {
	// Two disjoint pairs on the same market.
	a := pairedOrder(1, models.Buy, "100", 1, []int64{2}, 0)
	b := pairedOrder(2, models.Sell, "100", 1, []int64{1}, time.Minute)
	c := pairedOrder(3, models.Buy, "200", 1, []int64{4}, 2*time.Minute)
	d := pairedOrder(4, models.Sell, "200", 1, []int64{3}, 3*time.Minute)

	s := Settle([]models.Order{a, b, c, d}, models.OutcomeYes, feeTenPercent)

	if s.Groups != 2 {
		t.Fatalf("expected 2 groups, got %d", s.Groups)
	}

	byUser := map[int64]Credit{}
	for _, cr := range s.Credits {
		byUser[cr.UserId] = cr
	}
	decEq(t, byUser[1].Payout, "190", "first pair payout")
	decEq(t, byUser[3].Payout, "380", "second pair payout")
	if byUser[1].GroupKey == byUser[3].GroupKey {
		t.Errorf("disjoint pairs share a group key %q", byUser[1].GroupKey)
	}
}

func TestSettle_PriceLevelsSettleSeparately(t *testing.T) {
	// B sold at two price levels against different buyers. Each level is
	// its own pairing group; B appearing in both must not fuse them.
	a := pairedOrder(1, models.Buy, "100", 1, []int64{2}, 0)
	b1 := pairedOrder(2, models.Sell, "100", 1, []int64{1}, time.Minute)
	d := pairedOrder(4, models.Buy, "50", 1, []int64{2}, 2*time.Minute)
	b2 := pairedOrder(2, models.Sell, "50", 1, []int64{4}, 3*time.Minute)

	s := Settle([]models.Order{a, b1, d, b2}, models.OutcomeYes, feeTenPercent)

	if s.Groups != 2 {
		t.Fatalf("expected 2 price-level groups, got %d", s.Groups)
	}

	byUser := map[int64]Credit{}
	for _, cr := range s.Credits {
		byUser[cr.UserId] = cr
	}
	decEq(t, byUser[1].Payout, "190", "payout at level 100")
	decEq(t, byUser[4].Payout, "95", "payout at level 50")
	decEq(t, s.FeeRetained, "15", "fee retained")
	if byUser[1].GroupKey == byUser[4].GroupKey {
		t.Errorf("price levels share a group key %q", byUser[1].GroupKey)
	}
}

func TestSettle_NWayFillFormsOneGroup(t *testing.T) {
	// A filled against B and C; B and C never met directly but belong to
	// the same component through A.
	a := pairedOrder(1, models.Buy, "90", 2, []int64{2, 3}, 0)
	b := pairedOrder(2, models.Sell, "90", 1, []int64{1}, time.Minute)
	c := pairedOrder(3, models.Sell, "90", 1, []int64{1}, 2*time.Minute)

	s := Settle([]models.Order{a, b, c}, models.OutcomeYes, feeTenPercent)

	if s.Groups != 1 {
		t.Fatalf("expected a single group, got %d", s.Groups)
	}
	// A wins the pool of both sellers' stakes: 180 * 0.9 = 162.
	if len(s.Credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(s.Credits))
	}
	decEq(t, s.Credits[0].Winnings, "162", "winnings")
	decEq(t, s.Credits[0].Payout, "252", "payout")
	decEq(t, s.FeeRetained, "18", "fee retained")
}
