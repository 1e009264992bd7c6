package handler

import (
	"encoding/json"
	"net/http"

	"mentorship/internal/api/v1/dto"
	"mentorship/internal/middleware"
	"mentorship/internal/model"
	"mentorship/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	subSvc   service.SubscriptionService
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(subSvc service.SubscriptionService, validate *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		subSvc:   subSvc,
		validate: validate,
		logger:   logger.With().Str("handler", "SubscriptionHandler").Logger(),
	}
}

// RegisterRoutes registers the subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware func(http.Handler) http.Handler) {
	mux.Handle("GET /subscriptions/me", authMiddleware(http.HandlerFunc(h.Get)))
	mux.Handle("POST /subscriptions/trial", authMiddleware(http.HandlerFunc(h.StartTrial)))
	mux.Handle("POST /subscriptions/cancel", authMiddleware(http.HandlerFunc(h.Cancel)))
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sub, err := h.subSvc.GetSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewSubscriptionResponse(sub), h.logger)
}

// StartTrial starts the caller's free trial on the requested plan.
func (h *SubscriptionHandler) StartTrial(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req dto.TrialStartDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request payload", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	sub, err := h.subSvc.StartTrial(r.Context(), userID, model.Plan(req.Plan))
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewSubscriptionResponse(sub), h.logger)
}

// Cancel stops renewal at the end of the current period.
func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	sub, err := h.subSvc.CancelSubscription(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewSubscriptionResponse(sub), h.logger)
}
