package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"mentorship/internal/api/v1/dto"
	"mentorship/internal/middleware"
	"mentorship/internal/model"
	"mentorship/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type SessionHandler struct {
	sessionSvc service.SessionService
	validate   *validator.Validate
	logger     zerolog.Logger
}

func NewSessionHandler(sessionSvc service.SessionService, validate *validator.Validate, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionSvc: sessionSvc,
		validate:   validate,
		logger:     logger.With().Str("handler", "SessionHandler").Logger(),
	}
}

// RegisterRoutes mounts v1 session routes
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("POST /sessions", authMw(http.HandlerFunc(h.bookSession)))
	mux.Handle("GET /sessions/{id}", authMw(http.HandlerFunc(h.getSession)))
	mux.Handle("POST /sessions/{id}/start", authMw(http.HandlerFunc(h.startSession)))
	mux.Handle("POST /sessions/{id}/complete", authMw(http.HandlerFunc(h.completeSession)))
	mux.Handle("POST /sessions/{id}/cancel", authMw(http.HandlerFunc(h.cancelSession)))
}

func (h *SessionHandler) bookSession(w http.ResponseWriter, r *http.Request) {
	// 1. Extract UserID from context
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}

	// 2. Decode and validate request body
	var req dto.SessionBookDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON payload: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		http.Error(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	// 3. Book for the caller
	b := &model.SessionBooking{
		MentorID:       req.MentorID,
		UserID:         userID,
		SessionType:    model.SessionType(req.SessionType),
		ScheduledStart: req.ScheduledStart.UTC(),
		ScheduledEnd:   req.ScheduledEnd,
	}
	created, err := h.sessionSvc.BookSession(r.Context(), b)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, dto.NewSessionResponse(created), h.logger)
}

func (h *SessionHandler) getSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	b, err := h.sessionSvc.GetSession(r.Context(), r.PathValue("id"), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewSessionResponse(b), h.logger)
}

func (h *SessionHandler) startSession(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, h.sessionSvc.StartSession)
}

func (h *SessionHandler) completeSession(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, h.sessionSvc.CompleteSession)
}

func (h *SessionHandler) cancelSession(w http.ResponseWriter, r *http.Request) {
	h.override(w, r, h.sessionSvc.CancelSession)
}

// override runs a manual status change on the booking named in the path.
func (h *SessionHandler) override(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, id, callerID string) (*model.SessionBooking, error)) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized: User ID not found in context", http.StatusUnauthorized)
		return
	}
	id := r.PathValue("id")
	b, err := apply(r.Context(), id, userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	h.logger.Info().Str("booking_id", id).Str("by", userID).Str("status", string(b.Status)).Msg("Manual session override")
	writeJSON(w, http.StatusOK, dto.NewSessionResponse(b), h.logger)
}
