package payment

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/storage/postgres"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

type PaymentService struct {
	log        *slog.Logger
	ledger     Ledger
	users      UserProvider
	gateway    Gateway
	secretHash string
	currency   string
}

// Ledger is the wallet side of a money movement; Credit is idempotent on
// the entry reference.
type Ledger interface {
	Credit(ctx context.Context, userId int64, amount decimal.Decimal, entry models.LedgerEntry) (decimal.Decimal, error)
	Debit(ctx context.Context, userId int64, amount decimal.Decimal, entry models.LedgerEntry) (decimal.Decimal, error)
	GetLedgerEntries(ctx context.Context, userId int64) ([]models.LedgerEntry, error)
}

type UserProvider interface {
	GetUserById(ctx context.Context, id int64) (models.User, error)
}

type Gateway interface {
	InitiateDeposit(ctx context.Context, txRef, email string, amount decimal.Decimal) (string, error)
	VerifyTransaction(ctx context.Context, transactionId string) (VerifiedTransaction, error)
	InitiateTransfer(ctx context.Context, reference string, account BankAccount, amount decimal.Decimal) error
	GetBalances(ctx context.Context) (Balances, error)
	TransferToSettlement(ctx context.Context, amount decimal.Decimal) error
}

func New(log *slog.Logger, ledger Ledger, users UserProvider, gateway Gateway, secretHash, currency string) *PaymentService {
	return &PaymentService{
		log:        log,
		ledger:     ledger,
		users:      users,
		gateway:    gateway,
		secretHash: secretHash,
		currency:   currency,
	}
}

// Deposit starts a gateway charge and returns the hosted payment link.
// The wallet is credited only when the gateway's webhook confirms the
// charge; nothing moves here.
func (p *PaymentService) Deposit(ctx context.Context, userId int64, amount decimal.Decimal) (link, txRef string, err error) {
	const op = "payment.Deposit"

	if !amount.IsPositive() {
		return "", "", ErrInvalidAmount
	}

	user, err := p.users.GetUserById(ctx, userId)
	if err != nil {
		p.log.Error("failed to get user", "user_id", userId, "err", err)
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	txRef = fmt.Sprintf("dep:%d:%s", userId, uuid.New())
	link, err = p.gateway.InitiateDeposit(ctx, txRef, user.Email, amount)
	if err != nil {
		p.log.Error("failed to initiate deposit", "user_id", userId, "err", err)
		return "", "", fmt.Errorf("%s: %w", op, err)
	}

	p.log.Info("deposit initiated", "user_id", userId, "tx_ref", txRef, "amount", amount)
	return link, txRef, nil
}

// Withdraw debits the wallet and sends the funds out through the gateway.
// If the transfer fails the debit is compensated so the user keeps their
// balance.
func (p *PaymentService) Withdraw(ctx context.Context, userId int64, amount decimal.Decimal, account BankAccount) error {
	const op = "payment.Withdraw"

	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	reference := fmt.Sprintf("wd:%d:%s", userId, uuid.New())
	entry := models.LedgerEntry{
		Id:          uuid.New(),
		UserId:      userId,
		Kind:        models.EntryWithdrawal,
		Amount:      amount.Neg(),
		Fee:         decimal.Zero,
		Status:      models.EntryCompleted,
		Description: "Withdrawal to bank account",
		Reference:   reference,
		CreatedAt:   time.Now(),
	}
	if _, err := p.ledger.Debit(ctx, userId, amount, entry); err != nil {
		if errors.Is(err, postgres.ErrInsufficientFunds) {
			return ErrInsufficientFunds
		}
		p.log.Error("failed to debit for withdrawal", "user_id", userId, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	// Transfers draw from the provider's settlement balance; top it up
	// from collections when it cannot cover the payout.
	if err := p.ensureSettlementFunds(ctx, amount); err != nil {
		p.log.Error("failed to fund settlement balance", "user_id", userId, "err", err)
	}

	if err := p.gateway.InitiateTransfer(ctx, reference, account, amount); err != nil {
		p.log.Error("transfer failed, compensating debit", "user_id", userId, "reference", reference, "err", err)
		compensation := models.LedgerEntry{
			Id:          uuid.New(),
			UserId:      userId,
			Kind:        models.EntryRefund,
			Amount:      amount,
			Fee:         decimal.Zero,
			Status:      models.EntryCompleted,
			Description: "Withdrawal transfer failed, funds returned",
			Reference:   reference + ":reversal",
			CreatedAt:   time.Now(),
		}
		if _, cerr := p.ledger.Credit(ctx, userId, amount, compensation); cerr != nil {
			p.log.Error("failed to compensate debit", "user_id", userId, "reference", reference, "err", cerr)
			return fmt.Errorf("%s: compensate: %w", op, cerr)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Info("withdrawal sent", "user_id", userId, "reference", reference, "amount", amount)
	return nil
}

// ensureSettlementFunds tops up the settlement balance from collections
// when it cannot cover amount. Best effort: the transfer attempt itself
// decides whether the payout goes through.
func (p *PaymentService) ensureSettlementFunds(ctx context.Context, amount decimal.Decimal) error {
	balances, err := p.gateway.GetBalances(ctx)
	if err != nil {
		return err
	}
	if balances.Settlement[p.currency].GreaterThanOrEqual(amount) {
		return nil
	}
	return p.gateway.TransferToSettlement(ctx, amount)
}

// WebhookEvent is the provider's notification payload.
type WebhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Id     int64  `json:"id"`
		TxRef  string `json:"tx_ref"`
		Status string `json:"status"`
	} `json:"data"`
}

// HandleWebhook verifies the provider's signature header against the
// configured secret hash, re-verifies the charge with the gateway and
// credits the wallet. Replays are absorbed by the ledger reference.
func (p *PaymentService) HandleWebhook(ctx context.Context, signature string, payload []byte) error {
	const op = "payment.HandleWebhook"

	if subtle.ConstantTimeCompare([]byte(signature), []byte(p.secretHash)) != 1 {
		p.log.Error("webhook signature mismatch")
		return ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.log.Error("failed to decode webhook payload", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if event.Event != "charge.completed" || event.Data.Status != "successful" {
		p.log.Info("webhook ignored", "event", event.Event, "status", event.Data.Status)
		return nil
	}

	verified, err := p.gateway.VerifyTransaction(ctx, fmt.Sprintf("%d", event.Data.Id))
	if err != nil {
		p.log.Error("failed to verify charge", "tx_ref", event.Data.TxRef, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if verified.Status != "successful" {
		p.log.Info("charge not successful on verification", "tx_ref", verified.TxRef, "status", verified.Status)
		return nil
	}

	userId, err := userIdFromTxRef(verified.TxRef)
	if err != nil {
		p.log.Error("unrecognized tx_ref", "tx_ref", verified.TxRef, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	entry := models.LedgerEntry{
		Id:          uuid.New(),
		UserId:      userId,
		Kind:        models.EntryDeposit,
		Amount:      verified.Amount,
		Fee:         decimal.Zero,
		Status:      models.EntryCompleted,
		Description: "Deposit via payment gateway",
		Reference:   verified.TxRef,
		CreatedAt:   time.Now(),
	}
	if _, err := p.ledger.Credit(ctx, userId, verified.Amount, entry); err != nil {
		if errors.Is(err, postgres.ErrDuplicateReference) {
			p.log.Info("webhook replay ignored", "tx_ref", verified.TxRef)
			return nil
		}
		p.log.Error("failed to credit deposit", "user_id", userId, "tx_ref", verified.TxRef, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	p.log.Info("deposit credited", "user_id", userId, "tx_ref", verified.TxRef, "amount", verified.Amount)
	return nil
}

func (p *PaymentService) GetLedger(ctx context.Context, userId int64) ([]models.LedgerEntry, error) {
	const op = "payment.GetLedger"

	entries, err := p.ledger.GetLedgerEntries(ctx, userId)
	if err != nil {
		p.log.Error("failed to get ledger entries", "user_id", userId, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}

// userIdFromTxRef parses our "dep:<userId>:<uuid>" reference format.
func userIdFromTxRef(txRef string) (int64, error) {
	var userId int64
	var rest string
	if _, err := fmt.Sscanf(txRef, "dep:%d:%s", &userId, &rest); err != nil {
		return 0, fmt.Errorf("parse tx_ref %q: %w", txRef, err)
	}
	return userId, nil
}
