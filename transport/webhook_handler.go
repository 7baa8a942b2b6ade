package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"PredictionMarket/internal/services/payment"
)

// maxWebhookBody bounds the gateway payload size.
const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	log            *slog.Logger
	paymentService webhookService
}

type webhookService interface {
	HandleWebhook(ctx context.Context, signature string, payload []byte) error
}

func NewWebhookHandler(log *slog.Logger, paymentService webhookService) *WebhookHandler {
	return &WebhookHandler{
		log:            log,
		paymentService: paymentService,
	}
}

func (h *WebhookHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Post("/flutterwave", h.PostGatewayEvent)

	return router
}

// PostGatewayEvent receives payment notifications from the gateway. The
// gateway retries on non-2xx, so everything past signature validation
// answers 200 even when the event is ignored.
func (h *WebhookHandler) PostGatewayEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	signature := r.Header.Get("verif-hash")
	if err := h.paymentService.HandleWebhook(r.Context(), signature, payload); err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		h.log.Error("failed to process gateway event", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	w.WriteHeader(http.StatusOK)
}
