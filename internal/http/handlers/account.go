package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/hongminglow/all-in-floor/internal/http/respond"
	"github.com/hongminglow/all-in-floor/internal/middleware"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

// AccountHandler serves the signed-in player's own view.
type AccountHandler struct {
	store  storage.UserStore
	logger *slog.Logger
}

func NewAccountHandler(store storage.UserStore, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{store: store, logger: logger}
}

// Register mounts routes behind authenticate.
func (h *AccountHandler) Register(mux *http.ServeMux, authenticate func(http.Handler) http.Handler) {
	mux.Handle("GET /api/me", authenticate(http.HandlerFunc(h.handleMe)))
}

func (h *AccountHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())
	id, err := claims.UserID()
	if err != nil {
		respond.Error(w, http.StatusUnauthorized, "invalid token subject")
		return
	}
	user, err := h.store.FindByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusNotFound, "user not found")
			return
		}
		h.logger.Error("load account", "user_id", id, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to load account")
		return
	}
	respond.JSON(w, http.StatusOK, user)
}
