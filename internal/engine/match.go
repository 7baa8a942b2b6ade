// Package engine holds the pure matching and settlement algorithms. The
// storage layer runs them inside its transactions; nothing in here touches
// the database, the clock or the network.
package engine

import (
	"PredictionMarket/internal/domain/models"
)

// MatchResult describes the outcome of running one incoming order against
// the FIFO queue of counter-orders at the same price.
type MatchResult struct {
	// Order is the incoming order with fill state, status and
	// counterparties populated.
	Order models.Order
	// Touched are the counter-orders whose fill state changed, in the
	// order they were consumed.
	Touched []models.Order
	Summary models.PairingSummary
}

// Match allocates the incoming order's requested quantity greedily across
// counters, which must already be filtered (same market, same price,
// opposite side, not the caller's, status Open or PartiallyPaired) and
// sorted by creation time ascending. Oldest resting demand is served first.
//
// Counters are not mutated; updated copies are returned in Touched.
func Match(incoming models.Order, counters []models.Order) MatchResult {
	res := MatchResult{Order: incoming}
	remaining := incoming.Quantity

	for _, counter := range counters {
		if remaining == 0 {
			break
		}
		available := counter.RemainingQuantity()
		if available <= 0 {
			continue
		}

		alloc := remaining
		if available < alloc {
			alloc = available
		}

		counter.FilledQuantity += alloc
		counter.Status = models.DeriveOrderStatus(counter.FilledQuantity, counter.Quantity)
		counter.AddCounterparty(incoming.UserId)

		res.Order.AddCounterparty(counter.UserId)
		res.Touched = append(res.Touched, counter)
		res.Summary.CounterOrderIds = append(res.Summary.CounterOrderIds, counter.Id)
		remaining -= alloc
	}

	res.Order.FilledQuantity = incoming.Quantity - remaining
	res.Order.Status = models.DeriveOrderStatus(res.Order.FilledQuantity, res.Order.Quantity)
	res.Summary.MatchedQuantity = res.Order.FilledQuantity
	res.Summary.RemainingQuantity = remaining
	return res
}
