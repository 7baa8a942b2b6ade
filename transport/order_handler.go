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
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/domain/models/transport"
	"PredictionMarket/internal/services/order"
	"PredictionMarket/internal/storage/postgres"
)

type OrderHandler struct {
	log          *slog.Logger
	orderService orderService
	validate     *validator.Validate
}

type orderService interface {
	PlaceOrder(ctx context.Context, userId int64, marketId uuid.UUID, side models.Side,
		price decimal.Decimal, quantity int64) (models.Order, models.PairingSummary, error)
	CancelOrder(ctx context.Context, userId int64, orderId uuid.UUID) (models.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error)
	GetUserOrders(ctx context.Context, userId int64) (open, closed []models.Order, err error)
}

func NewOrderHandler(log *slog.Logger, orderService orderService, validate *validator.Validate) *OrderHandler {
	return &OrderHandler{
		log:          log,
		orderService: orderService,
		validate:     validate,
	}
}

func (h *OrderHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Post("/", h.PostPlaceOrder)
	router.Get("/{orderId}", h.GetOrder)
	router.Delete("/{orderId}", h.DeleteOrder)
	router.Get("/user/{userId}", h.GetUserOrders)

	return router
}

func (h *OrderHandler) PostPlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req transport.PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order request")
		return
	}

	placed, summary, err := h.orderService.PlaceOrder(r.Context(), req.UserId, req.MarketId, req.Side, req.Price, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, order.ErrInvalidSide),
			errors.Is(err, order.ErrInvalidPrice),
			errors.Is(err, order.ErrInvalidQuantity):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, postgres.ErrMarketNotExists):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, postgres.ErrMarketClosed):
			writeError(w, http.StatusConflict, "market is not accepting orders")
		case errors.Is(err, postgres.ErrDuplicateOrder):
			writeError(w, http.StatusConflict, "identical active order already exists")
		case errors.Is(err, postgres.ErrInsufficientFunds):
			writeError(w, http.StatusPaymentRequired, "insufficient funds")
		case errors.Is(err, postgres.ErrWalletNotExists):
			writeError(w, http.StatusNotFound, "wallet not found")
		default:
			h.log.Error("failed to place order", "user_id", req.UserId, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	writeJSON(w, http.StatusCreated, transport.PlaceOrderResponse{
		Order:             placed,
		MatchedQuantity:   summary.MatchedQuantity,
		RemainingQuantity: summary.RemainingQuantity,
	})
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderId, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	ord, err := h.orderService.GetOrder(r.Context(), orderId)
	if err != nil {
		if errors.Is(err, postgres.ErrOrderNotExists) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.log.Error("failed to get order", "order_id", orderId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, ord)
}

func (h *OrderHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderId, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	var req transport.CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cancel request")
		return
	}

	cancelled, err := h.orderService.CancelOrder(r.Context(), req.UserId, orderId)
	if err != nil {
		switch {
		case errors.Is(err, postgres.ErrOrderNotExists):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, postgres.ErrOrderNotCancellable):
			writeError(w, http.StatusConflict, "order is already paired or terminal")
		default:
			h.log.Error("failed to cancel order", "order_id", orderId, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, cancelled)
}

func (h *OrderHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userId, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil || userId <= 0 {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	open, closed, err := h.orderService.GetUserOrders(r.Context(), userId)
	if err != nil {
		h.log.Error("failed to get user orders", "user_id", userId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get orders")
		return
	}

	writeJSON(w, http.StatusOK, transport.OrdersResponse{Open: open, Closed: closed})
}
