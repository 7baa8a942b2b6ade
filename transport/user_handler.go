package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"PredictionMarket/internal/domain/models/transport"
	"PredictionMarket/internal/services/user"
	"PredictionMarket/internal/storage/postgres"
)

type UserHandler struct {
	log         *slog.Logger
	userService userService
	validate    *validator.Validate
}

type userService interface {
	RegisterNewUser(ctx context.Context, email string, password string) (int64, error)
	Login(ctx context.Context, email, password string) (int64, string, error)
	RequestVerification(ctx context.Context, userId int64) (string, error)
	ConfirmVerification(ctx context.Context, userId int64, code string) error
}

func NewUserHandler(log *slog.Logger, userService userService, validate *validator.Validate) *UserHandler {
	return &UserHandler{
		log:         log,
		userService: userService,
		validate:    validate,
	}
}

func (h *UserHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Post("/register", h.PostRegister)
	router.Post("/login", h.PostLogin)
	router.Post("/verification/request", h.PostRequestVerification)
	router.Post("/verification/confirm", h.PostConfirmVerification)

	return router
}

func (h *UserHandler) PostRegister(w http.ResponseWriter, r *http.Request) {
	var req transport.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email or password format")
		return
	}

	userId, err := h.userService.RegisterNewUser(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrUserAlreadyExists) {
			writeError(w, http.StatusConflict, "user already exists")
			return
		}
		h.log.Error("failed to register user", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, transport.RegisterResponse{Id: userId})
}

func (h *UserHandler) PostLogin(w http.ResponseWriter, r *http.Request) {
	var req transport.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email or password format")
		return
	}

	userId, email, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.log.Error("failed to login user", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	writeJSON(w, http.StatusOK, transport.LoginResponse{Id: userId, Email: email})
}

func (h *UserHandler) PostRequestVerification(w http.ResponseWriter, r *http.Request) {
	var req transport.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if _, err := h.userService.RequestVerification(r.Context(), req.UserId); err != nil {
		if errors.Is(err, postgres.ErrUserNotExists) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.log.Error("failed to request verification", "user_id", req.UserId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to request verification")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *UserHandler) PostConfirmVerification(w http.ResponseWriter, r *http.Request) {
	var req transport.ConfirmVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "failed to decode request body")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid verification request")
		return
	}

	if err := h.userService.ConfirmVerification(r.Context(), req.UserId, req.Code); err != nil {
		if errors.Is(err, user.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, "invalid or expired code")
			return
		}
		h.log.Error("failed to confirm verification", "user_id", req.UserId, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to confirm verification")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
