package handler

import (
	"context"
	"net/http"
	"time"

	"mentorship/internal/api/v1/dto"
	"mentorship/internal/repository"
	"mentorship/internal/service"

	"github.com/rs/zerolog"
)

// CronHandler exposes the batch passes to the scheduler.
type CronHandler struct {
	sessionSvc service.SessionService
	renewalSvc service.RenewalService
	timeout    time.Duration
	logger     zerolog.Logger
}

func NewCronHandler(sessionSvc service.SessionService, renewalSvc service.RenewalService, timeout time.Duration, logger zerolog.Logger) *CronHandler {
	return &CronHandler{
		sessionSvc: sessionSvc,
		renewalSvc: renewalSvc,
		timeout:    timeout,
		logger:     logger.With().Str("handler", "CronHandler").Logger(),
	}
}

// RegisterRoutes mounts the cron routes for both GET and POST.
func (h *CronHandler) RegisterRoutes(mux *http.ServeMux, cronMw func(http.Handler) http.Handler) {
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		mux.Handle(method+" /cron/session-status", cronMw(http.HandlerFunc(h.sessionStatus)))
		mux.Handle(method+" /cron/subscription-renewal", cronMw(http.HandlerFunc(h.subscriptionRenewal)))
		mux.Handle(method+" /cron/trial-expiry", cronMw(http.HandlerFunc(h.trialExpiry)))
	}
}

func (h *CronHandler) sessionStatus(w http.ResponseWriter, r *http.Request) {
	var window repository.BookingFilter
	for param, dst := range map[string]*time.Time{"from": &window.From, "to": &window.To} {
		v := r.URL.Query().Get(param)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid "+param+": expected RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		*dst = t
	}

	ctx, cancel := h.passContext(r)
	defer cancel()
	res, err := h.sessionSvc.RunStatusPass(ctx, window)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.SessionStatusPassResponseDTO{Updates: res.Updates, Failures: res.Failures}, h.logger)
}

func (h *CronHandler) subscriptionRenewal(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.passContext(r)
	defer cancel()
	res, err := h.renewalSvc.RunRenewalPass(ctx)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.RenewalPassResponseDTO{
		Processed: res.Processed,
		Renewed:   res.Renewed,
		Expired:   res.Expired,
		Errored:   res.Errored,
		Skipped:   res.Skipped,
		Errors:    res.Errors,
	}, h.logger)
}

func (h *CronHandler) trialExpiry(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.passContext(r)
	defer cancel()
	res, err := h.renewalSvc.RunTrialExpiryPass(ctx)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, dto.TrialExpiryResponseDTO{Processed: res.Processed, Expired: res.Expired, Errors: res.Errors}, h.logger)
}

func (h *CronHandler) passContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}
