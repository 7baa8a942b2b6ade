package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	Id       int64
	Email    string
	PassHash string
	Verified bool
	Created  time.Time
}

type Wallet struct {
	Id       uuid.UUID
	UserId   int64
	Balance  decimal.Decimal
	Currency string
	Created  time.Time
}
