package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/domain/models/transport"
	"PredictionMarket/internal/services/payment"
	"PredictionMarket/internal/storage/postgres"
)

type WalletHandler struct {
	log            *slog.Logger
	walletService  walletService
	paymentService paymentService
	validate       *validator.Validate
}

type walletService interface {
	GetWallet(ctx context.Context, userId int64) (models.Wallet, error)
}

type paymentService interface {
	Deposit(ctx context.Context, userId int64, amount decimal.Decimal) (link, txRef string, err error)
	Withdraw(ctx context.Context, userId int64, amount decimal.Decimal, account payment.BankAccount) error
	GetLedger(ctx context.Context, userId int64) ([]models.LedgerEntry, error)
}

func NewWalletHandler(log *slog.Logger, walletService walletService, paymentService paymentService, validate *validator.Validate) *WalletHandler {
	return &WalletHandler{
		log:            log,
		walletService:  walletService,
		paymentService: paymentService,
		validate:       validate,
	}
}

func (h *WalletHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/{userId}", h.GetWallet)
	router.Get("/{userId}/ledger", h.GetLedger)
	router.Post("/deposit", h.PostDeposit)
	router.Post("/withdraw", h.PostWithdraw)

	return router
}

func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userId, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userId <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	wallet, err := h.walletService.GetWallet(r.Context(), userId)
	if err != nil {
		if errors.Is(err, postgres.ErrWalletNotExists) {
			writeError(w, http.StatusNotFound, "wallet not found")
			return
		}
		h.log.Error("failed to get wallet", "user_id", userId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get wallet")
		return
	}

	writeJSON(w, http.StatusOK, transport.WalletResponse{
		Id:       wallet.Id,
		UserId:   wallet.UserId,
		Balance:  wallet.Balance,
		Currency: wallet.Currency,
	})
}

func (h *WalletHandler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userId, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userId <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	entries, err := h.paymentService.GetLedger(r.Context(), userId)
	if err != nil {
		h.log.Error("failed to get ledger", "user_id", userId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get ledger")
		return
	}

	writeJSON(w, http.StatusOK, transport.LedgerResponse{Entries: entries})
}

func (h *WalletHandler) PostDeposit(w http.ResponseWriter, r *http.Request) {
	var req transport.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid deposit request")
		return
	}

	link, txRef, err := h.paymentService.Deposit(r.Context(), req.UserId, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, postgres.ErrUserNotExists):
			writeError(w, http.StatusNotFound, "user not found")
		default:
			h.log.Error("failed to initiate deposit", "user_id", req.UserId, "err", err)
			writeError(w, http.StatusBadGateway, "failed to initiate deposit")
		}
		return
	}

	writeJSON(w, http.StatusOK, transport.DepositResponse{Link: link, Reference: txRef})
}

func (h *WalletHandler) PostWithdraw(w http.ResponseWriter, r *http.Request) {
	var req transport.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid withdraw request")
		return
	}

	account := payment.BankAccount{
		BankCode:      req.BankCode,
		AccountNumber: req.AccountNumber,
	}
	if err := h.paymentService.Withdraw(r.Context(), req.UserId, req.Amount, account); err != nil {
		switch {
		case errors.Is(err, payment.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "amount must be positive")
		case errors.Is(err, payment.ErrInsufficientFunds), errors.Is(err, postgres.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient funds")
		case errors.Is(err, postgres.ErrWalletNotExists):
			writeError(w, http.StatusNotFound, "wallet not found")
		default:
			h.log.Error("failed to withdraw", "user_id", req.UserId, "err", err)
			writeError(w, http.StatusBadGateway, "failed to process withdrawal")
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
