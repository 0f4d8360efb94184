package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ParlayPool/internal/core"
	"ParlayPool/internal/market"
	"ParlayPool/internal/risk"
)

// Handler serves the live trading and LP surface straight off the engine.
type Handler struct {
	engine *core.Engine
	log    zerolog.Logger
}

func NewHandler(engine *core.Engine, log zerolog.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

type legJSON struct {
	GameID       string `json:"game_id"`
	TypeID       uint16 `json:"type_id"`
	Player       string `json:"player,omitempty"`
	Line         int64  `json:"line,omitempty"`
	Position     uint8  `json:"position"`
	Odds         int64  `json:"odds"`
	CombinedMask uint32 `json:"combined_mask,omitempty"`
}

func (j legJSON) toLeg() market.Leg {
	return market.Leg{
		Game:         market.GameID(j.GameID),
		TypeID:       market.TypeID(j.TypeID),
		Player:       j.Player,
		Line:         j.Line,
		Position:     market.Position(j.Position),
		Odds:         j.Odds,
		CombinedMask: j.CombinedMask,
	}
}

type placeTradeJSON struct {
	Owner           string    `json:"owner"`
	Legs            []legJSON `json:"legs"`
	BuyIn           int64     `json:"buy_in"`
	IsSystem        bool      `json:"is_system"`
	RequiredCorrect int       `json:"required_correct,omitempty"`
}

// PlaceTrade accepts a new ticket.
func (h *Handler) PlaceTrade(w http.ResponseWriter, r *http.Request) {
	var req placeTradeJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	owner, err := uuid.Parse(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid owner id")
		return
	}
	legs := make([]market.Leg, len(req.Legs))
	for i, l := range req.Legs {
		legs[i] = l.toLeg()
	}

	t, err := h.engine.PlaceTrade(core.TradeRequest{
		Owner:           owner,
		Legs:            legs,
		BuyIn:           req.BuyIn,
		IsSystem:        req.IsSystem,
		RequiredCorrect: req.RequiredCorrect,
	})
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"ticket_id":       t.ID,
		"round":           t.Round,
		"buy_in":          t.BuyIn,
		"expected_payout": t.ExpectedPayout - t.Fee,
		"fee":             t.Fee,
		"backstop_funded": t.IsBackstopFunded(),
	})
}

type cancelTradeJSON struct {
	CurrentOdds []int64 `json:"current_odds"`
}

// CancelTrade unwinds a ticket at current odds.
func (h *Handler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	var req cancelTradeJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	refund, err := h.engine.CancelTrade(ticketID, req.CurrentOdds)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id": ticketID,
		"refund":    refund,
	})
}

// GetTicket returns live or historical ticket state.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	t, ok := h.engine.GetTicket(ticketID)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown ticket")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"ticket_id":       t.ID,
		"owner":           t.Owner,
		"round":           t.Round,
		"state":           t.State.String(),
		"buy_in":          t.BuyIn,
		"expected_payout": t.ExpectedPayout - t.Fee,
		"fee":             t.Fee,
		"legs":            len(t.Legs),
		"is_system":       t.IsSystem,
		"backstop_funded": t.IsBackstopFunded(),
	})
}

type capacityQueryJSON struct {
	GameID   string `json:"game_id"`
	TypeID   uint16 `json:"type_id"`
	Player   string `json:"player,omitempty"`
	Line     int64  `json:"line,omitempty"`
	Position uint8  `json:"position"`
	Odds     int64  `json:"odds"`
}

type capacityBatchJSON struct {
	Queries []capacityQueryJSON `json:"queries"`
}

// GetCapacityBatch answers max-stake and liquidity queries in bulk.
func (h *Handler) GetCapacityBatch(w http.ResponseWriter, r *http.Request) {
	var req capacityBatchJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	queries := make([]core.CapacityQuery, len(req.Queries))
	for i, q := range req.Queries {
		queries[i] = core.CapacityQuery{
			Market: market.Key{
				Game:   market.GameID(q.GameID),
				TypeID: market.TypeID(q.TypeID),
				Player: q.Player,
				Line:   q.Line,
			},
			Position: market.Position(q.Position),
			Odds:     q.Odds,
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": h.engine.GetMaxStakeAndLiquidityBatch(queries),
	})
}

type depositJSON struct {
	Provider string `json:"provider"`
	Amount   int64  `json:"amount"`
}

// Deposit adds LP capital.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	provider, err := uuid.Parse(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	if err := h.engine.Deposit(provider, req.Amount); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "deposited"})
}

type withdrawJSON struct {
	Provider string `json:"provider"`
	Share    int64  `json:"share,omitempty"` // ShareConfig scale; omitted = full exit
}

// RequestWithdrawal registers a full or partial exit.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req withdrawJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	provider, err := uuid.Parse(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid provider id")
		return
	}
	if req.Share > 0 {
		err = h.engine.RequestPartialWithdrawal(provider, req.Share)
	} else {
		err = h.engine.RequestWithdrawal(provider)
	}
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "withdrawal requested"})
}

// GetRound returns a live round snapshot.
func (h *Handler) GetRound(w http.ResponseWriter, r *http.Request) {
	roundID := parseIntParam(r, "round", int(h.engine.CurrentRoundID()))
	info, ok := h.engine.GetRoundInfo(uint64(roundID))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown round")
		return
	}
	respondJSON(w, http.StatusOK, info)
}

// --- Admin surface ---

type capsJSON struct {
	Sport              string `json:"sport"`
	MaxRiskPerPosition int64  `json:"max_risk_per_position"`
	MaxSpendPerGame    int64  `json:"max_spend_per_game"`
	MaxSpendPerSport   int64  `json:"max_spend_per_sport"`
	SGPCapDivider      int64  `json:"sgp_cap_divider"`
	CombiningEnabled   bool   `json:"combining_enabled"`
}

// UpdateCaps installs new risk caps for a sport.
func (h *Handler) UpdateCaps(w http.ResponseWriter, r *http.Request) {
	var req capsJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.engine.UpdateCaps(&risk.SportCaps{
		Sport:              req.Sport,
		MaxRiskPerPosition: req.MaxRiskPerPosition,
		MaxSpendPerGame:    req.MaxSpendPerGame,
		MaxSpendPerSport:   req.MaxSpendPerSport,
		SGPCapDivider:      req.SGPCapDivider,
		CombiningEnabled:   req.CombiningEnabled,
	})
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "caps updated"})
}

// StartPool opens the first round.
func (h *Handler) StartPool(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StartPool(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "started",
		"round":  h.engine.CurrentRoundID(),
	})
}

// PrepareRoundClosing freezes the current round.
func (h *Handler) PrepareRoundClosing(w http.ResponseWriter, r *http.Request) {
	skim, err := h.engine.PrepareRoundClosing()
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"safe_box_skim": skim})
}

// ProcessRoundClosingBatch rebases a slice of LPs into the next round.
func (h *Handler) ProcessRoundClosingBatch(w http.ResponseWriter, r *http.Request) {
	batchSize := parseIntParam(r, "batch_size", 100)
	processed, err := h.engine.ProcessRoundClosingBatch(batchSize)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"processed": processed})
}

// CloseRound finalizes the frozen round.
func (h *Handler) CloseRound(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CloseRound(); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "closed",
		"current_round": h.engine.CurrentRoundID(),
	})
}

// MarkTicketLost force-resolves a ticket as lost.
func (h *Handler) MarkTicketLost(w http.ResponseWriter, r *http.Request) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	if err := h.engine.MarkTicketLost(ticketID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "marked lost"})
}

// PauseTicket suspends a ticket; ResumeTicket lifts the pause.
func (h *Handler) PauseTicket(w http.ResponseWriter, r *http.Request) {
	h.ticketTransition(w, r, h.engine.PauseTicket, "paused")
}

func (h *Handler) ResumeTicket(w http.ResponseWriter, r *http.Request) {
	h.ticketTransition(w, r, h.engine.ResumeTicket, "trading")
}

func (h *Handler) ticketTransition(w http.ResponseWriter, r *http.Request, op func(uuid.UUID) error, status string) {
	ticketID, err := uuid.Parse(chi.URLParam(r, "ticketID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}
	if err := op(ticketID); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": status})
}

// ExerciseBatch settles a batch of resolved tickets.
func (h *Handler) ExerciseBatch(w http.ResponseWriter, r *http.Request) {
	batchSize := parseIntParam(r, "batch_size", 100)
	settled, err := h.engine.ExerciseTicketsReadyBatch(batchSize)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"settled": settled})
}
