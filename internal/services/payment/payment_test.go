package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/storage/postgres"
)

const testSecretHash = "whsec_test"

type fakeLedger struct {
	credits    []models.LedgerEntry
	debits     []models.LedgerEntry
	references map[string]bool
	debitErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{references: map[string]bool{}}
}

func (f *fakeLedger) Credit(_ context.Context, _ int64, amount decimal.Decimal, entry models.LedgerEntry) (decimal.Decimal, error) {
	if f.references[entry.Reference] {
		return decimal.Zero, postgres.ErrDuplicateReference
	}
	f.references[entry.Reference] = true
	f.credits = append(f.credits, entry)
	return amount, nil
}

func (f *fakeLedger) Debit(_ context.Context, _ int64, amount decimal.Decimal, entry models.LedgerEntry) (decimal.Decimal, error) {
	if f.debitErr != nil {
		return decimal.Zero, f.debitErr
	}
	f.references[entry.Reference] = true
	f.debits = append(f.debits, entry)
	return amount.Neg(), nil
}

func (f *fakeLedger) GetLedgerEntries(_ context.Context, _ int64) ([]models.LedgerEntry, error) {
	return append(f.credits, f.debits...), nil
}

type fakeUsers struct{}

func (fakeUsers) GetUserById(_ context.Context, id int64) (models.User, error) {
	return models.User{Id: id, Email: fmt.Sprintf("user%d@example.com", id)}, nil
}

type fakeGateway struct {
	depositLink string
	verified    VerifiedTransaction
	verifyErr   error
	transferErr error
	transfers   []string
}

func (f *fakeGateway) InitiateDeposit(_ context.Context, txRef, _ string, _ decimal.Decimal) (string, error) {
	return f.depositLink + "?ref=" + txRef, nil
}

func (f *fakeGateway) VerifyTransaction(_ context.Context, _ string) (VerifiedTransaction, error) {
	if f.verifyErr != nil {
		return VerifiedTransaction{}, f.verifyErr
	}
	return f.verified, nil
}

func (f *fakeGateway) InitiateTransfer(_ context.Context, reference string, _ BankAccount, _ decimal.Decimal) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.transfers = append(f.transfers, reference)
	return nil
}

func (f *fakeGateway) GetBalances(context.Context) (Balances, error) {
	return Balances{
		Collection: map[string]decimal.Decimal{"NGN": decimal.NewFromInt(100000)},
		Settlement: map[string]decimal.Decimal{"NGN": decimal.NewFromInt(100000)},
	}, nil
}

func (f *fakeGateway) TransferToSettlement(context.Context, decimal.Decimal) error {
	return nil
}

func newTestService(ledger *fakeLedger, gateway *fakeGateway) *PaymentService {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(log, ledger, fakeUsers{}, gateway, testSecretHash, "NGN")
}

func TestDeposit_ReturnsHostedLink(t *testing.T) {
	svc := newTestService(newFakeLedger(), &fakeGateway{depositLink: "https://pay.example.com/abc"})

	link, txRef, err := svc.Deposit(context.Background(), 7, decimal.NewFromInt(500))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(txRef, "dep:7:") {
		t.Errorf("txRef = %q, want dep:7:<uuid>", txRef)
	}
	if !strings.Contains(link, txRef) {
		t.Errorf("link %q missing tx ref", link)
	}
}

func TestDeposit_RejectsNonPositiveAmount(t *testing.T) {
	svc := newTestService(newFakeLedger(), &fakeGateway{})

	if _, _, err := svc.Deposit(context.Background(), 7, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("got %v, want ErrInvalidAmount", err)
	}
}

func TestWithdraw_DebitThenTransfer(t *testing.T) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{}
	svc := newTestService(ledger, gateway)

	account := BankAccount{BankCode: "044", AccountNumber: "0690000040"}
	if err := svc.Withdraw(context.Background(), 7, decimal.NewFromInt(200), account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.debits) != 1 {
		t.Fatalf("expected 1 debit, got %d", len(ledger.debits))
	}
	if len(gateway.transfers) != 1 {
		t.Fatalf("expected 1 transfer, got %d", len(gateway.transfers))
	}
	if gateway.transfers[0] != ledger.debits[0].Reference {
		t.Errorf("transfer reference %q != debit reference %q", gateway.transfers[0], ledger.debits[0].Reference)
	}
}

func TestWithdraw_InsufficientFunds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.debitErr = postgres.ErrInsufficientFunds
	svc := newTestService(ledger, &fakeGateway{})

	err := svc.Withdraw(context.Background(), 7, decimal.NewFromInt(200), BankAccount{})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
}

func TestWithdraw_TransferFailureCompensatesDebit(t *testing.T) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{transferErr: errors.New("provider unavailable")}
	svc := newTestService(ledger, gateway)

	err := svc.Withdraw(context.Background(), 7, decimal.NewFromInt(200), BankAccount{})
	if err == nil {
		t.Fatal("expected error from failed transfer")
	}
	if len(ledger.debits) != 1 || len(ledger.credits) != 1 {
		t.Fatalf("debits=%d credits=%d, want 1/1", len(ledger.debits), len(ledger.credits))
	}
	comp := ledger.credits[0]
	if comp.Kind != models.EntryRefund {
		t.Errorf("compensation kind = %s, want refund", comp.Kind)
	}
	if comp.Reference != ledger.debits[0].Reference+":reversal" {
		t.Errorf("compensation reference = %q", comp.Reference)
	}
}

func webhookPayload(txRef string) []byte {
	return []byte(`{"event":"charge.completed","data":{"id":12345,"tx_ref":"` + txRef + `","status":"successful"}}`)
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	svc := newTestService(newFakeLedger(), &fakeGateway{})

	err := svc.HandleWebhook(context.Background(), "wrong", webhookPayload("dep:7:x"))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("got %v, want ErrInvalidSignature", err)
	}
}

func TestHandleWebhook_CreditsVerifiedDeposit(t *testing.T) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{verified: VerifiedTransaction{
		TxRef:  "dep:7:abc",
		Status: "successful",
		Amount: decimal.NewFromInt(500),
	}}
	svc := newTestService(ledger, gateway)

	if err := svc.HandleWebhook(context.Background(), testSecretHash, webhookPayload("dep:7:abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.credits) != 1 {
		t.Fatalf("expected 1 credit, got %d", len(ledger.credits))
	}
	entry := ledger.credits[0]
	if entry.UserId != 7 {
		t.Errorf("credited user %d, want 7", entry.UserId)
	}
	if entry.Kind != models.EntryDeposit {
		t.Errorf("kind = %s, want deposit", entry.Kind)
	}
	if !entry.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("amount = %s, want 500", entry.Amount)
	}
}

func TestHandleWebhook_ReplayIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{verified: VerifiedTransaction{
		TxRef:  "dep:7:abc",
		Status: "successful",
		Amount: decimal.NewFromInt(500),
	}}
	svc := newTestService(ledger, gateway)
	payload := webhookPayload("dep:7:abc")

	if err := svc.HandleWebhook(context.Background(), testSecretHash, payload); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := svc.HandleWebhook(context.Background(), testSecretHash, payload); err != nil {
		t.Fatalf("replay should be absorbed, got %v", err)
	}
	if len(ledger.credits) != 1 {
		t.Errorf("expected exactly 1 credit after replay, got %d", len(ledger.credits))
	}
}

func TestHandleWebhook_IgnoresUnrelatedEvents(t *testing.T) {
	ledger := newFakeLedger()
	svc := newTestService(ledger, &fakeGateway{})

	payload := []byte(`{"event":"transfer.completed","data":{"id":1,"tx_ref":"x","status":"successful"}}`)
	if err := svc.HandleWebhook(context.Background(), testSecretHash, payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.credits) != 0 {
		t.Errorf("unrelated event credited the wallet")
	}
}

func TestHandleWebhook_UnverifiedChargeNotCredited(t *testing.T) {
	ledger := newFakeLedger()
	gateway := &fakeGateway{verified: VerifiedTransaction{TxRef: "dep:7:abc", Status: "pending"}}
	svc := newTestService(ledger, gateway)

	if err := svc.HandleWebhook(context.Background(), testSecretHash, webhookPayload("dep:7:abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ledger.credits) != 0 {
		t.Errorf("unverified charge credited the wallet")
	}
}

func TestUserIdFromTxRef(t *testing.T) {
	id, err := userIdFromTxRef("dep:42:550e8400-e29b-41d4-a716-446655440000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}

	if _, err := userIdFromTxRef("bogus-reference"); err == nil {
		t.Error("expected error for unrecognized reference")
	}
}
