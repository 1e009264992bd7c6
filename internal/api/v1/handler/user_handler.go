package handler

import (
	"net/http"

	"mentorship/internal/api/v1/dto"
	"mentorship/internal/middleware"
	"mentorship/internal/service"

	"github.com/rs/zerolog"
)

type UserHandler struct {
	userService service.UserService
	logger      zerolog.Logger
}

func NewUserHandler(userService service.UserService, logger zerolog.Logger) *UserHandler {
	return &UserHandler{userService: userService, logger: logger.With().Str("handler", "UserHandler").Logger()}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(mux *http.ServeMux, authMw func(http.Handler) http.Handler) {
	mux.Handle("GET /dashboard", authMw(http.HandlerFunc(h.getDashboard)))
}

func (h *UserHandler) getDashboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserID(r.Context())
	if !ok {
		http.Error(w, "User ID not found in context", http.StatusUnauthorized)
		return
	}
	d, err := h.userService.Dashboard(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewDashboardResponse(d), h.logger)
}
