package models

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool {
	return s == Buy || s == Sell
}

type OrderStatus string

const (
	OrderOpen            OrderStatus = "Open"
	OrderPartiallyPaired OrderStatus = "PartiallyPaired"
	OrderPaired          OrderStatus = "Paired"
	OrderFilled          OrderStatus = "Filled"
	OrderCancelled       OrderStatus = "Cancelled"
)

// DeriveOrderStatus maps fill state to the pre-resolution status.
// Filled is terminal and is only ever set by market resolution.
func DeriveOrderStatus(filled, requested int64) OrderStatus {
	switch {
	case filled == 0:
		return OrderOpen
	case filled < requested:
		return OrderPartiallyPaired
	default:
		return OrderPaired
	}
}

// Order is a fixed-stake position on a yes/no market. Price is the full
// amount at risk, independent of Quantity; Quantity only weighs the payout
// share at resolution.
type Order struct {
	Id             uuid.UUID
	MarketId       uuid.UUID
	UserId         int64
	Side           Side
	Price          decimal.Decimal
	Quantity       int64
	FilledQuantity int64
	Status         OrderStatus
	// Counterparties holds every user this order has been matched against,
	// sorted ascending. It grows as partial fills accumulate.
	Counterparties []int64
	CreatedAt      time.Time
}

func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// AddCounterparty inserts userId into the sorted counterparty set. The set
// is rebuilt into a fresh slice: orders are copied by value during matching,
// and an in-place insert could write through a shared backing array into the
// original's list.
func (o *Order) AddCounterparty(userId int64) {
	i := sort.Search(len(o.Counterparties), func(i int) bool {
		return o.Counterparties[i] >= userId
	})
	if i < len(o.Counterparties) && o.Counterparties[i] == userId {
		return
	}
	cps := make([]int64, len(o.Counterparties)+1)
	copy(cps, o.Counterparties[:i])
	cps[i] = userId
	copy(cps[i+1:], o.Counterparties[i:])
	o.Counterparties = cps
}

func (o *Order) Cancellable() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyPaired
}

// GroupKey builds a stable pairing-group key from a set of user ids.
func GroupKey(userIds []int64) string {
	ids := make([]int64, len(userIds))
	copy(ids, userIds)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, "-")
}

// PairingSummary reports what a placement matched against.
type PairingSummary struct {
	MatchedQuantity   int64       `json:"matched_quantity"`
	RemainingQuantity int64       `json:"remaining_quantity"`
	CounterOrderIds   []uuid.UUID `json:"counter_order_ids"`
}
