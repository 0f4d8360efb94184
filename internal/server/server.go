package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ParlayPool/internal/observability"
)

// NewRouter assembles the HTTP surface: trading and LP operations served
// by the engine, historical queries served from the audit tables, and the
// admin/closing endpoints.
func NewRouter(h *Handler, q *QueryHandler, health *observability.HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Trading
		r.Post("/trades", h.PlaceTrade)
		r.Post("/trades/{ticketID}/cancel", h.CancelTrade)
		r.Get("/tickets/{ticketID}", h.GetTicket)
		r.Post("/capacity", h.GetCapacityBatch)

		// Liquidity providers
		r.Post("/deposits", h.Deposit)
		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Get("/rounds/current", h.GetRound)

		// History
		r.Get("/history/trades/{owner}", q.GetTradeHistory)
		r.Get("/history/settlements/{ticketID}", q.GetSettlement)
		r.Get("/history/rounds", q.GetRoundHistory)
		r.Get("/history/rounds/settlements", q.GetRoundSettlements)

		// Admin
		r.Route("/admin", func(r chi.Router) {
			r.Post("/pool/start", h.StartPool)
			r.Post("/rounds/prepare", h.PrepareRoundClosing)
			r.Post("/rounds/process", h.ProcessRoundClosingBatch)
			r.Post("/rounds/close", h.CloseRound)
			r.Post("/tickets/exercise", h.ExerciseBatch)
			r.Post("/tickets/{ticketID}/mark-lost", h.MarkTicketLost)
			r.Post("/tickets/{ticketID}/pause", h.PauseTicket)
			r.Post("/tickets/{ticketID}/resume", h.ResumeTicket)
			r.Put("/caps", h.UpdateCaps)
		})
	})

	return r
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
