package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"PredictionMarket/internal/domain/models"
)

// Settlement conservation: every losing stake ends up either distributed to
// winners or retained as fee, and refunds return exactly the unpaired stakes.
func TestProperty_SettlementConservesMoney(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pairCount := rapid.IntRange(1, 8).Draw(t, "pairCount")
		openCount := rapid.IntRange(0, 4).Draw(t, "openCount")
		feeRate := decimal.New(int64(rapid.IntRange(0, 50).Draw(t, "feePercent")), -2)

		var orders []models.Order
		totalLosing := decimal.Zero
		totalUnpaired := decimal.Zero

		outcome := models.OutcomeYes
		if rapid.Bool().Draw(t, "outcomeNo") {
			outcome = models.OutcomeNo
		}
		winning := outcome.WinningSide()

		nextUser := int64(1)
		for i := 0; i < pairCount; i++ {
			stake := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "stake"))
			qty := rapid.Int64Range(1, 5).Draw(t, "qty")

			buyer, seller := nextUser, nextUser+1
			nextUser += 2

			buy := pairedOrder(buyer, models.Buy, stake.String(), qty, []int64{seller}, time.Duration(i)*time.Minute)
			sell := pairedOrder(seller, models.Sell, stake.String(), qty, []int64{buyer}, time.Duration(i)*time.Minute+time.Second)
			orders = append(orders, buy, sell)

			// Exactly one of the pair is on the losing side.
			if winning == models.Buy {
				totalLosing = totalLosing.Add(sell.Price)
			} else {
				totalLosing = totalLosing.Add(buy.Price)
			}
		}

		for i := 0; i < openCount; i++ {
			stake := decimal.NewFromInt(rapid.Int64Range(1, 1000).Draw(t, "openStake"))
			o := newTestOrder(nextUser, models.Buy, stake.String(), 2, 0, time.Duration(i)*time.Minute)
			nextUser++
			orders = append(orders, o)
			totalUnpaired = totalUnpaired.Add(stake)
		}

		s := Settle(orders, outcome, feeRate)

		winningsTotal := decimal.Zero
		for _, c := range s.Credits {
			if c.Payout.LessThan(c.Stake) {
				t.Fatalf("winner payout %s below returned stake %s", c.Payout, c.Stake)
			}
			winningsTotal = winningsTotal.Add(c.Winnings)
		}

		if !winningsTotal.Add(s.FeeRetained).Equal(totalLosing) {
			t.Fatalf("winnings %s + fee %s != losing stakes %s",
				winningsTotal, s.FeeRetained, totalLosing)
		}
		if !s.TotalRefunded().Equal(totalUnpaired) {
			t.Fatalf("refunded %s != unpaired stakes %s", s.TotalRefunded(), totalUnpaired)
		}
		if s.FeeRetained.IsNegative() {
			t.Fatalf("negative retained fee %s", s.FeeRetained)
		}
	})
}
