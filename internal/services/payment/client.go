package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"PredictionMarket/internal/config"
)

// GatewayClient talks to the payment provider's REST API (Flutterwave
// shaped): hosted payment pages for deposits, transfers for withdrawals
// and payouts, and the dual collection/settlement balances.
type GatewayClient struct {
	baseURL   string
	secretKey string
	currency  string
	log       *slog.Logger
	client    *http.Client
}

func NewClient(cfg config.GatewayConfig, log *slog.Logger) *GatewayClient {
	return &GatewayClient{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		currency:  cfg.Currency,
		log:       log,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

type paymentRequest struct {
	TxRef    string          `json:"tx_ref"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type paymentResponse struct {
	Status string `json:"status"`
	Data   struct {
		Link string `json:"link"`
	} `json:"data"`
}

// InitiateDeposit creates a hosted payment page for the given reference
// and returns its link. The wallet is only credited later, when the
// provider's webhook confirms the charge.
func (c *GatewayClient) InitiateDeposit(ctx context.Context, txRef, email string, amount decimal.Decimal) (string, error) {
	const op = "payment.InitiateDeposit"
	log := c.log.With("op", op, "tx_ref", txRef)

	req := paymentRequest{TxRef: txRef, Amount: amount, Currency: c.currency}
	req.Customer.Email = email

	var resp paymentResponse
	if err := c.post(ctx, "/payments", req, &resp); err != nil {
		log.Error("failed to initiate deposit", "err", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		log.Error("gateway rejected deposit", "status", resp.Status)
		return "", fmt.Errorf("%s: gateway status %s", op, resp.Status)
	}

	return resp.Data.Link, nil
}

// VerifiedTransaction is the provider's view of one charge.
type VerifiedTransaction struct {
	TxRef    string          `json:"tx_ref"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// VerifyTransaction re-checks a charge with the provider before any wallet
// credit; webhook payloads alone are never trusted for amounts.
func (c *GatewayClient) VerifyTransaction(ctx context.Context, transactionId string) (VerifiedTransaction, error) {
	const op = "payment.VerifyTransaction"
	log := c.log.With("op", op, "transaction_id", transactionId)

	var resp struct {
		Status string              `json:"status"`
		Data   VerifiedTransaction `json:"data"`
	}
	if err := c.get(ctx, "/transactions/"+transactionId+"/verify", &resp); err != nil {
		log.Error("failed to verify transaction", "err", err)
		return VerifiedTransaction{}, fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		return VerifiedTransaction{}, fmt.Errorf("%s: gateway status %s", op, resp.Status)
	}

	return resp.Data, nil
}

// BankAccount identifies a payout destination.
type BankAccount struct {
	BankCode      string `json:"account_bank"`
	AccountNumber string `json:"account_number"`
}

// InitiateTransfer sends funds out to a bank account (withdrawal/payout).
func (c *GatewayClient) InitiateTransfer(ctx context.Context, reference string, account BankAccount, amount decimal.Decimal) error {
	const op = "payment.InitiateTransfer"
	log := c.log.With("op", op, "reference", reference)

	req := struct {
		BankAccount
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		Reference string          `json:"reference"`
	}{account, amount, c.currency, reference}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/transfers", req, &resp); err != nil {
		log.Error("failed to initiate transfer", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		log.Error("gateway rejected transfer", "status", resp.Status)
		return fmt.Errorf("%s: gateway status %s", op, resp.Status)
	}

	return nil
}

// Balances reports the provider-held funds per currency.
type Balances struct {
	Collection map[string]decimal.Decimal
	Settlement map[string]decimal.Decimal
}

// GetBalances fetches the provider's collection and settlement balances.
func (c *GatewayClient) GetBalances(ctx context.Context) (Balances, error) {
	const op = "payment.GetBalances"

	var resp struct {
		Status string `json:"status"`
		Data   []struct {
			Currency         string          `json:"currency"`
			LedgerBalance    decimal.Decimal `json:"ledger_balance"`
			AvailableBalance decimal.Decimal `json:"available_balance"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/balances", &resp); err != nil {
		c.log.Error("failed to get balances", "op", op, "err", err)
		return Balances{}, fmt.Errorf("%s: %w", op, err)
	}

	balances := Balances{
		Collection: make(map[string]decimal.Decimal),
		Settlement: make(map[string]decimal.Decimal),
	}
	for _, b := range resp.Data {
		balances.Collection[b.Currency] = b.LedgerBalance
		balances.Settlement[b.Currency] = b.AvailableBalance
	}
	return balances, nil
}

// TransferToSettlement moves collection funds into the settlement balance
// so payouts can be made from it.
func (c *GatewayClient) TransferToSettlement(ctx context.Context, amount decimal.Decimal) error {
	const op = "payment.TransferToSettlement"

	req := struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}{amount, c.currency}

	var resp struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/balances/settlement", req, &resp); err != nil {
		c.log.Error("failed to transfer to settlement", "op", op, "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.Status != "success" {
		return fmt.Errorf("%s: gateway status %s", op, resp.Status)
	}
	return nil
}

func (c *GatewayClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *GatewayClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	return c.do(req, out)
}

func (c *GatewayClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
