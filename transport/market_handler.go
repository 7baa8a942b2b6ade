package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"PredictionMarket/internal/domain/models"
	"PredictionMarket/internal/domain/models/transport"
	"PredictionMarket/internal/services/market"
	"PredictionMarket/internal/storage/postgres"
)

type MarketHandler struct {
	log           *slog.Logger
	marketService marketService
	orderLister   orderLister
	validate      *validator.Validate
	adminKey      string
}

type marketService interface {
	CreateMarket(ctx context.Context, question, category string, image models.MarketImage,
		isDaily bool, startDate, endDate time.Time) (models.Market, error)
	GetMarket(ctx context.Context, id uuid.UUID) (models.Market, error)
	ListMarkets(ctx context.Context) ([]models.Market, error)
	ArchiveMarket(ctx context.Context, id uuid.UUID) error
	ResolveMarket(ctx context.Context, marketId uuid.UUID, outcome models.Outcome) (models.ResolutionSummary, error)
}

type orderLister interface {
	GetMarketOrders(ctx context.Context, marketId uuid.UUID) ([]models.Order, error)
}

func NewMarketHandler(log *slog.Logger, marketService marketService, orderLister orderLister,
	validate *validator.Validate, adminKey string) *MarketHandler {
	return &MarketHandler{
		log:           log,
		marketService: marketService,
		orderLister:   orderLister,
		validate:      validate,
		adminKey:      adminKey,
	}
}

func (h *MarketHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/", h.GetMarkets)
	router.Get("/{marketId}", h.GetMarket)
	router.Get("/{marketId}/orders", h.GetMarketOrders)

	router.Group(func(admin chi.Router) {
		admin.Use(AdminOnly(h.adminKey))

		admin.Post("/", h.PostCreateMarket)
		admin.Post("/{marketId}/resolve", h.PostResolveMarket)
		admin.Post("/{marketId}/archive", h.PostArchiveMarket)
	})

	return router
}

func (h *MarketHandler) GetMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := h.marketService.ListMarkets(r.Context())
	if err != nil {
		h.log.Error("failed to list markets", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	writeJSON(w, http.StatusOK, transport.MarketsResponse{Markets: markets})
}

func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	marketId, err := uuid.Parse(chi.URLParam(r, "marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	mk, err := h.marketService.GetMarket(r.Context(), marketId)
	if err != nil {
		if errors.Is(err, postgres.ErrMarketNotExists) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.log.Error("failed to get market", "market_id", marketId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, mk)
}

func (h *MarketHandler) GetMarketOrders(w http.ResponseWriter, r *http.Request) {
	marketId, err := uuid.Parse(chi.URLParam(r, "marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	orders, err := h.orderLister.GetMarketOrders(r.Context(), marketId)
	if err != nil {
		h.log.Error("failed to get market orders", "market_id", marketId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to get market orders")
		return
	}

	writeJSON(w, http.StatusOK, orders)
}

func (h *MarketHandler) PostCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req transport.CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid market request")
		return
	}

	image := models.MarketImage{URL: req.ImageURL, Hint: req.ImageHint}
	mk, err := h.marketService.CreateMarket(r.Context(), req.Question, req.Category, image, req.IsDaily, req.StartDate, req.EndDate)
	if err != nil {
		if errors.Is(err, market.ErrInvalidWindow) {
			writeError(w, http.StatusBadRequest, "end date must be after start date")
			return
		}
		h.log.Error("failed to create market", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, mk)
}

func (h *MarketHandler) PostResolveMarket(w http.ResponseWriter, r *http.Request) {
	marketId, err := uuid.Parse(chi.URLParam(r, "marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	var req transport.ResolveMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}

	summary, err := h.marketService.ResolveMarket(r.Context(), marketId, req.Outcome)
	if err != nil {
		switch {
		case errors.Is(err, market.ErrInvalidOutcome):
			writeError(w, http.StatusBadRequest, "outcome must be yes or no")
		case errors.Is(err, postgres.ErrMarketNotExists):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, postgres.ErrMarketClosed):
			writeError(w, http.StatusConflict, "market already resolved")
		case errors.Is(err, market.ErrResolutionInProgress):
			writeError(w, http.StatusConflict, "resolution already in progress")
		default:
			h.log.Error("failed to resolve market", "market_id", marketId, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to resolve market")
		}
		return
	}

	writeJSON(w, http.StatusOK, transport.ResolveMarketResponse{
		MarketId:      summary.MarketId,
		Outcome:       summary.Outcome,
		Groups:        summary.Groups,
		Winners:       summary.Winners,
		Refunds:       summary.Refunds,
		TotalCredited: summary.TotalCredited,
		TotalRefunded: summary.TotalRefunded,
		FeeRetained:   summary.FeeRetained,
	})
}

func (h *MarketHandler) PostArchiveMarket(w http.ResponseWriter, r *http.Request) {
	marketId, err := uuid.Parse(chi.URLParam(r, "marketId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	if err := h.marketService.ArchiveMarket(r.Context(), marketId); err != nil {
		switch {
		case errors.Is(err, postgres.ErrMarketNotExists):
			writeError(w, http.StatusNotFound, "market not found")
		case errors.Is(err, postgres.ErrMarketClosed):
			writeError(w, http.StatusConflict, "only resolved markets can be archived")
		default:
			h.log.Error("failed to archive market", "market_id", marketId, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to archive market")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
