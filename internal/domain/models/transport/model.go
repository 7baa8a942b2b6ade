package transport

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type RegisterResponse struct {
	Id int64 `json:"id"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Id    int64  `json:"id"`
	Email string `json:"email"`
}

type VerificationRequest struct {
	UserId int64 `json:"user_id" validate:"required,gt=0"`
}

type ConfirmVerificationRequest struct {
	UserId int64  `json:"user_id" validate:"required,gt=0"`
	Code   string `json:"code" validate:"required,len=6,numeric"`
}

type WalletResponse struct {
	Id       uuid.UUID       `json:"id"`
	UserId   int64           `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

type DepositRequest struct {
	UserId int64           `json:"user_id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type DepositResponse struct {
	Link      string `json:"link"`
	Reference string `json:"reference"`
}

type WithdrawRequest struct {
	UserId        int64           `json:"user_id" validate:"required,gt=0"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	BankCode      string          `json:"bank_code" validate:"required"`
	AccountNumber string          `json:"account_number" validate:"required,min=10"`
}

type LedgerResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
}

type PlaceOrderRequest struct {
	UserId   int64           `json:"user_id" validate:"required,gt=0"`
	MarketId uuid.UUID       `json:"market_id" validate:"required"`
	Side     models.Side     `json:"side" validate:"required"`
	Price    decimal.Decimal `json:"price" validate:"required"`
	Quantity int64           `json:"quantity" validate:"required,gt=0"`
}

type PlaceOrderResponse struct {
	Order             models.Order `json:"order"`
	MatchedQuantity   int64        `json:"matched_quantity"`
	RemainingQuantity int64        `json:"remaining_quantity"`
}

type CancelOrderRequest struct {
	UserId int64 `json:"user_id" validate:"required,gt=0"`
}

type OrdersResponse struct {
	Open   []models.Order `json:"open"`
	Closed []models.Order `json:"closed"`
}

type CreateMarketRequest struct {
	Question  string    `json:"question" validate:"required,min=10"`
	Category  string    `json:"category"`
	ImageURL  string    `json:"image_url" validate:"omitempty,url"`
	ImageHint string    `json:"image_hint"`
	IsDaily   bool      `json:"is_daily"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

type ResolveMarketRequest struct {
	Outcome models.Outcome `json:"outcome" validate:"required"`
}

type ResolveMarketResponse struct {
	MarketId      uuid.UUID       `json:"market_id"`
	Outcome       models.Outcome  `json:"outcome"`
	Groups        int             `json:"groups"`
	Winners       int             `json:"winners"`
	Refunds       int             `json:"refunds"`
	TotalCredited decimal.Decimal `json:"total_credited"`
	TotalRefunded decimal.Decimal `json:"total_refunded"`
	FeeRetained   decimal.Decimal `json:"fee_retained"`
}

type MarketsResponse struct {
	Markets []models.Market `json:"markets"`
}
