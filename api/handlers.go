package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/subledger"
	"github.com/xraph/subledger/subscription"
	"github.com/xraph/subledger/user"
)

// Handler holds the ledger that handlers operate on.
type Handler struct {
	ledger *subledger.Ledger
	logger *slog.Logger
}

// NewHandler creates a Handler for l.
func NewHandler(l *subledger.Ledger, logger *slog.Logger) *Handler {
	return &Handler{ledger: l, logger: logger}
}

type transitionFunc func(ctx context.Context, subID int64) (*subscription.Transition, error)

type createSubscriptionRequest struct {
	UserID int64 `json:"userId"`
	PlanID int64 `json:"planId"`
}

type backfillRequest struct {
	UserID    int64  `json:"userId"`
	PlanID    int64  `json:"planId"`
	StartDate string `json:"startDate"`
}

type startDateRequest struct {
	StartDate string `json:"startDate"`
}

type transitionResponse struct {
	Success        bool                 `json:"success"`
	Outcome        subscription.Outcome `json:"outcome"`
	SubscriptionID int64                `json:"subscriptionId"`
	PeriodID       int64                `json:"periodId,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Ping(r.Context()); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "database unhealthy")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"status": "ok", "ready": h.ledger.Ready()})
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.ledger.ListPlans(r.Context())
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	opts := user.ListOpts{}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		opts.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		opts.Offset = v
	}

	users, err := h.ledger.ListUsers(r.Context(), opts)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, users)
}

// handleUserSubscriptions returns the flat subscription/period rows of a user.
func (h *Handler) handleUserSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	rows, err := h.ledger.GetUserSubscriptions(r.Context(), userID)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rows)
}

func (h *Handler) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	hist, err := h.ledger.GetUserHistory(r.Context(), userID)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, hist)
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	if req.UserID == 0 || req.PlanID == 0 {
		respondWithError(w, http.StatusBadRequest, "userId and planId required")
		return
	}

	sub, err := h.ledger.CreateSubscription(r.Context(), req.UserID, req.PlanID)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]int64{"subscriptionId": sub.ID})
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.ledger.PauseSubscription)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	h.handleTransition(w, r, h.ledger.ResumeSubscription)
}

// handleTransition answers 409 when there was no open period to move.
func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, op transitionFunc) {
	subID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}

	t, err := op(r.Context(), subID)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}

	code := http.StatusOK
	if !t.Applied() {
		code = http.StatusConflict
	}
	respondWithJSON(w, code, transitionResponse{
		Success:        t.Applied(),
		Outcome:        t.Outcome,
		SubscriptionID: t.SubscriptionID,
		PeriodID:       t.PeriodID,
	})
}

func (h *Handler) handleUpdateStartDate(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	var req startDateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	date, err := parseDate("startDate", req.StartDate)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}

	if err := h.ledger.UpdateSubscriptionStartDate(r.Context(), subID, date); err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	if err := h.ledger.DeleteSubscription(r.Context(), subID); err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleDeletePeriods(w http.ResponseWriter, r *http.Request) {
	subID, err := pathID(r)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	n, err := h.ledger.DeleteSubscriptionPeriods(r.Context(), subID)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "deleted": n})
}

// handleBackfill replaces the user's subscriptions to a plan with one
// starting at the given date.
func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var req backfillRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	start, err := parseDate("startDate", req.StartDate)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}

	sub, err := h.ledger.ReplaceSubscription(r.Context(), req.UserID, req.PlanID, start)
	if err != nil {
		respondWithLedgerError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"success": true, "subscriptionId": sub.ID})
}
