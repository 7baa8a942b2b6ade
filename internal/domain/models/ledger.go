package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryDeposit    EntryKind = "deposit"
	EntryWithdrawal EntryKind = "withdrawal"
	EntryTrade      EntryKind = "trade"
	EntryRefund     EntryKind = "refund"
)

type EntryStatus string

const (
	EntryPending   EntryStatus = "pending"
	EntryCompleted EntryStatus = "completed"
	EntryFailed    EntryStatus = "failed"
)

// EntryMetadata captures what produced a ledger entry. Stored as a typed
// record rather than a loose JSON blob so the store can validate it.
type EntryMetadata struct {
	OrderId  uuid.UUID       `json:"order_id,omitempty"`
	MarketId uuid.UUID       `json:"market_id,omitempty"`
	Outcome  Outcome         `json:"outcome,omitempty"`
	Stake    decimal.Decimal `json:"stake,omitempty"`
	Winnings decimal.Decimal `json:"winnings,omitempty"`
	Share    decimal.Decimal `json:"share,omitempty"`
	GroupKey string          `json:"group_key,omitempty"`
}

// LedgerEntry is one immutable row of a user's money history.
type LedgerEntry struct {
	Id          uuid.UUID
	UserId      int64
	Kind        EntryKind
	Amount      decimal.Decimal
	Fee         decimal.Decimal
	Status      EntryStatus
	Description string
	// Reference ties the entry to an external event (gateway tx ref,
	// "market:<id>") and is unique per entry, which makes credits idempotent.
	Reference string
	Metadata  EntryMetadata
	CreatedAt time.Time
}
