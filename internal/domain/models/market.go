package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MarketStatus string

const (
	MarketOpen     MarketStatus = "Open"
	MarketClosed   MarketStatus = "closed"
	MarketArchived MarketStatus = "archived"
)

type Outcome string

const (
	OutcomeUnset Outcome = ""
	OutcomeYes   Outcome = "yes"
	OutcomeNo    Outcome = "no"
)

func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// WinningSide maps a resolved outcome to the side that gets paid.
func (o Outcome) WinningSide() Side {
	if o == OutcomeYes {
		return Buy
	}
	return Sell
}

// MarketImage is the display image attached to a market.
type MarketImage struct {
	URL  string `json:"url"`
	Hint string `json:"hint"`
}

// HistoryPoint is one entry of a market's volume history.
type HistoryPoint struct {
	Date   time.Time       `json:"date"`
	Volume decimal.Decimal `json:"volume"`
}

type Market struct {
	Id        uuid.UUID
	Question  string
	Category  string
	Status    MarketStatus
	Outcome   Outcome
	Image     MarketImage
	History   []HistoryPoint
	IsDaily   bool
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
}

// AcceptsOrders reports whether new orders may be placed on the market.
func (m *Market) AcceptsOrders(now time.Time) bool {
	return m.Status == MarketOpen && now.Before(m.EndDate)
}

// ResolutionSummary is the audit result of settling one market.
type ResolutionSummary struct {
	MarketId      uuid.UUID       `json:"market_id"`
	Outcome       Outcome         `json:"outcome"`
	Groups        int             `json:"groups"`
	Winners       int             `json:"winners"`
	Refunds       int             `json:"refunds"`
	TotalCredited decimal.Decimal `json:"total_credited"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	FeeRetained   decimal.Decimal `json:"fee_retained"`
}
