package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/hongminglow/all-in-floor/internal/http/respond"
	"github.com/hongminglow/all-in-floor/internal/ledger"
	"github.com/hongminglow/all-in-floor/internal/middleware"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/models/dto"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

// Ledger is the slice of the engine the admin endpoints drive.
type Ledger interface {
	ApplyAdjustment(ctx context.Context, adj ledger.Adjustment) (ledger.Result, error)
	History(ctx context.Context, userID int64) ([]models.Transaction, error)
	Audit(ctx context.Context, userID int64) (ledger.AuditReport, error)
}

// AdminHandler exposes balance administration. Every route is mounted
// behind the admin gate, so handlers assume an authorized caller.
type AdminHandler struct {
	users  storage.UserStore
	ledger Ledger
	logger *slog.Logger
}

func NewAdminHandler(users storage.UserStore, l Ledger, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{users: users, ledger: l, logger: logger}
}

// Register mounts the admin routes behind gate.
func (h *AdminHandler) Register(mux *http.ServeMux, gate func(http.Handler) http.Handler) {
	mux.Handle("GET /api/admin/users", gate(http.HandlerFunc(h.handleListUsers)))
	mux.Handle("POST /api/admin/credit", gate(http.HandlerFunc(h.handleCredit)))
	mux.Handle("GET /api/admin/users/{id}/transactions", gate(http.HandlerFunc(h.handleTransactions)))
	mux.Handle("GET /api/admin/users/{id}/audit", gate(http.HandlerFunc(h.handleAudit)))
}

func (h *AdminHandler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("list users", "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respond.JSON(w, http.StatusOK, users)
}

func (h *AdminHandler) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req dto.CreditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	userID := req.TargetUser()
	if userID <= 0 {
		respond.Error(w, http.StatusBadRequest, "user_id is required")
		return
	}
	kind, ok := models.ParseKind(req.KindValue())
	if !ok {
		respond.Error(w, http.StatusBadRequest, ledger.ErrInvalidKind.Error())
		return
	}

	claims, _ := middleware.ClaimsFrom(r.Context())
	res, err := h.ledger.ApplyAdjustment(r.Context(), ledger.Adjustment{
		UserID:      userID,
		Kind:        kind,
		Amount:      req.Amount,
		Description: describe(claims.Username, kind, req.Description),
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, dto.CreditResponse{Success: true, NewBalance: res.NewBalance})
}

func (h *AdminHandler) handleTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	history, err := h.ledger.History(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if history == nil {
		history = []models.Transaction{}
	}
	respond.JSON(w, http.StatusOK, history)
}

func (h *AdminHandler) handleAudit(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUserID(w, r)
	if !ok {
		return
	}
	report, err := h.ledger.Audit(r.Context(), userID)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	if !report.Consistent {
		h.logger.Error("ledger audit mismatch", "user_id", userID,
			"stored", report.StoredBalance.String(), "replayed", report.Replayed.String())
	}
	respond.JSON(w, http.StatusOK, report)
}

func (h *AdminHandler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		respond.Error(w, http.StatusNotFound, "user not found")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidKind):
		respond.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		respond.Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrOperationFailed):
		respond.Error(w, http.StatusServiceUnavailable, operationFailedMessage)
	default:
		h.logger.Error("ledger request", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal error")
	}
}

// The commit may have landed when the deadline expired during it, so the
// caller is told to look before retrying.
const operationFailedMessage = "balance update could not be confirmed; check the user's balance and transaction history before retrying"

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		respond.Error(w, http.StatusBadRequest, "invalid user id")
		return 0, false
	}
	return id, true
}

func describe(actor string, kind models.Kind, note string) string {
	base := fmt.Sprintf("admin %s: %s", actor, kind)
	if note = strings.TrimSpace(note); note != "" {
		return base + " (" + note + ")"
	}
	return base
}
