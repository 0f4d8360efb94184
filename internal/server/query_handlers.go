package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ParlayPool/internal/query"
)

// QueryHandler serves the historical surface from the audit tables.
type QueryHandler struct {
	service *query.Service
	log     zerolog.Logger
}

func NewQueryHandler(service *query.Service, log zerolog.Logger) *QueryHandler {
	return &QueryHandler{service: service, log: log}
}

// GetTradeHistory returns a bettor's accepted trades.
func (h *QueryHandler) GetTradeHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := uuid.Parse(chi.URLParam(r, "owner"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner id")
		return
	}
	limit := parseIntParam(r, "limit", 100)
	offset := parseIntParam(r, "offset", 0)

	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	trades, err := h.service.TradesByOwner(ctx, owner, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("trade history query failed")
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

// GetSettlement returns one ticket's terminal record.
func (h *QueryHandler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	settlement, err := h.service.Settlement(ctx, ticketID)
	if err != nil {
		h.log.Error().Err(err).Msg("settlement query failed")
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if settlement == nil {
		respondError(w, http.StatusNotFound, "no settlement for ticket")
		return
	}
	respondJSON(w, http.StatusOK, settlement)
}

// GetRoundHistory returns finalized rounds.
func (h *QueryHandler) GetRoundHistory(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 100)
	offset := parseIntParam(r, "offset", 0)

	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	closes, err := h.service.RoundHistory(ctx, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("round history query failed")
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"rounds": closes})
}

// GetRoundSettlements returns every settlement attributed to one round.
func (h *QueryHandler) GetRoundSettlements(w http.ResponseWriter, r *http.Request) {
	roundID := parseIntParam(r, "round", 0)
	if roundID <= 0 {
		respondError(w, http.StatusBadRequest, "round parameter required")
		return
	}
	limit := parseIntParam(r, "limit", 100)
	offset := parseIntParam(r, "offset", 0)

	ctx, cancel := contextWithTimeout(r, 5*time.Second)
	defer cancel()

	settlements, err := h.service.SettlementsByRound(ctx, int64(roundID), limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("round settlements query failed")
		respondError(w, http.StatusInternalServerError, "query failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"settlements": settlements})
}
