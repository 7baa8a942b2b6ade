package engine

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

// payoutPlaces bounds the precision of a winner's payout. Truncating (never
// rounding up) keeps the sum of winnings at or below the profit pool, so
// settlement can never credit more than was staked; the dust stays in the
// retained fee.
const payoutPlaces = 8

// Credit is a winner payout: the returned stake plus a share of the pool.
type Credit struct {
	OrderId  uuid.UUID
	UserId   int64
	Stake    decimal.Decimal
	Winnings decimal.Decimal
	Payout   decimal.Decimal
	Share    decimal.Decimal
	GroupKey string
}

// Loss is a zero-amount record for a losing paired order.
type Loss struct {
	OrderId  uuid.UUID
	UserId   int64
	Stake    decimal.Decimal
	GroupKey string
}

// Refund returns the full stake of an order that never fully paired.
type Refund struct {
	OrderId uuid.UUID
	UserId  int64
	Amount  decimal.Decimal
}

// Forfeit records a cancelled, partially paired order whose stake stays
// with the house.
type Forfeit struct {
	OrderId uuid.UUID
	UserId  int64
	Stake   decimal.Decimal
}

// Settlement is the complete money movement plan for resolving one market.
type Settlement struct {
	Credits     []Credit
	Losses      []Loss
	Refunds     []Refund
	Forfeits    []Forfeit
	FeeRetained decimal.Decimal
	Groups      int
}

// Settle computes the settlement for all orders of a market given the
// resolved outcome and the platform fee rate (e.g. 0.10).
//
// Paired orders are grouped into pairing groups per price level: matching
// only ever pairs orders at the same price, so a user holding positions at
// two prices belongs to two unrelated groups. Within a level the groups are
// the connected components of the matched-with relation over user ids.
// Grouping by each order's raw counterparty list would split an N-way
// partial fill into fragments, because the order that filled against
// several counterparties stores them all while each counterparty stores
// only it.
//
// Within a group the losing side's stakes form the pool; after the fee is
// retained, winners split the remainder in proportion to filled quantity.
// Orders that never fully paired (Open, PartiallyPaired) are refunded their
// whole stake. A cancelled order that had partially filled forfeits its
// stake to the retained fee; a cancelled order that never filled was
// already refunded when it was cancelled and is skipped.
func Settle(orders []models.Order, outcome models.Outcome, feeRate decimal.Decimal) Settlement {
	winning := outcome.WinningSide()

	var paired, unpaired, forfeited []models.Order
	for _, o := range orders {
		switch o.Status {
		case models.OrderPaired:
			paired = append(paired, o)
		case models.OrderOpen, models.OrderPartiallyPaired:
			unpaired = append(unpaired, o)
		case models.OrderCancelled:
			if o.FilledQuantity > 0 {
				forfeited = append(forfeited, o)
			}
		}
	}

	var s Settlement
	s.FeeRetained = decimal.Zero

	// Bucket paired orders by component within their price level, keyed by
	// the sorted member list plus the price. StringFixed gives equal prices
	// of different scale ("100" vs "100.00") the same bucket.
	byPrice := make(map[string][]models.Order)
	for _, o := range paired {
		price := o.Price.StringFixed(payoutPlaces)
		byPrice[price] = append(byPrice[price], o)
	}

	groups := make(map[string][]models.Order)
	for price, level := range byPrice {
		uf := newUnionFind()
		for _, o := range level {
			for _, cp := range o.Counterparties {
				uf.union(o.UserId, cp)
			}
		}
		for _, o := range level {
			key := models.GroupKey(uf.members(o.UserId)) + "@" + price
			groups[key] = append(groups[key], o)
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := decimal.NewFromInt(1).Sub(feeRate)
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool {
			if group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].Id.String() < group[j].Id.String()
			}
			return group[i].CreatedAt.Before(group[j].CreatedAt)
		})

		var winners, losers []models.Order
		for _, o := range group {
			if o.Side == winning {
				winners = append(winners, o)
			} else {
				losers = append(losers, o)
			}
		}

		totalLosingStake := decimal.Zero
		for _, l := range losers {
			totalLosingStake = totalLosingStake.Add(l.Price)
		}
		pool := totalLosingStake.Mul(keep)

		var totalWinningFilled int64
		for _, w := range winners {
			totalWinningFilled += w.FilledQuantity
		}

		distributed := decimal.Zero
		for _, w := range winners {
			share := decimal.Zero
			winnings := decimal.Zero
			if totalWinningFilled > 0 {
				filled := decimal.NewFromInt(w.FilledQuantity)
				total := decimal.NewFromInt(totalWinningFilled)
				share = filled.Div(total)
				winnings = pool.Mul(filled).Div(total).Truncate(payoutPlaces)
			}
			distributed = distributed.Add(winnings)
			s.Credits = append(s.Credits, Credit{
				OrderId:  w.Id,
				UserId:   w.UserId,
				Stake:    w.Price,
				Winnings: winnings,
				Payout:   w.Price.Add(winnings),
				Share:    share,
				GroupKey: key,
			})
		}
		for _, l := range losers {
			s.Losses = append(s.Losses, Loss{
				OrderId:  l.Id,
				UserId:   l.UserId,
				Stake:    l.Price,
				GroupKey: key,
			})
		}

		// Whatever the pool did not pay out (fee plus truncation dust,
		// or everything when the group has no winners) stays retained.
		s.FeeRetained = s.FeeRetained.Add(totalLosingStake.Sub(distributed))
		s.Groups++
	}

	for _, o := range unpaired {
		s.Refunds = append(s.Refunds, Refund{
			OrderId: o.Id,
			UserId:  o.UserId,
			Amount:  o.Price,
		})
	}

	for _, o := range forfeited {
		s.Forfeits = append(s.Forfeits, Forfeit{
			OrderId: o.Id,
			UserId:  o.UserId,
			Stake:   o.Price,
		})
		s.FeeRetained = s.FeeRetained.Add(o.Price)
	}

	return s
}

// TotalCredited sums all winner payouts.
func (s Settlement) TotalCredited() decimal.Decimal {
	total := decimal.Zero
	for _, c := range s.Credits {
		total = total.Add(c.Payout)
	}
	return total
}

// TotalRefunded sums all refunds.
func (s Settlement) TotalRefunded() decimal.Decimal {
	total := decimal.Zero
	for _, r := range s.Refunds {
		total = total.Add(r.Amount)
	}
	return total
}

// unionFind tracks connected components of user ids.
type unionFind struct {
	parent map[int64]int64
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64)}
}

func (u *unionFind) find(x int64) int64 {
	p, ok := u.parent[x]
	if !ok {
		u.parent[x] = x
		return x
	}
	if p == x {
		return x
	}
	root := u.find(p)
	u.parent[x] = root
	return root
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}

// members returns every id sharing x's component.
func (u *unionFind) members(x int64) []int64 {
	root := u.find(x)
	var out []int64
	for id := range u.parent {
		if u.find(id) == root {
			out = append(out, id)
		}
	}
	return out
}
