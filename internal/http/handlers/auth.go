package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/http/respond"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/models/dto"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

// AuthHandler owns signup/login endpoints.
type AuthHandler struct {
	store       storage.UserStore
	tokens      *auth.TokenManager
	initBalance decimal.Decimal
	logger      *slog.Logger
}

// NewAuthHandler constructs the handler. New accounts start with initBalance.
func NewAuthHandler(store storage.UserStore, tokens *auth.TokenManager, initBalance decimal.Decimal, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{store: store, tokens: tokens, initBalance: initBalance, logger: logger}
}

// Register attaches auth routes to the mux.
func (h *AuthHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/signup", h.handleSignup)
	mux.HandleFunc("POST /api/login", h.handleLogin)
}

func (h *AuthHandler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req dto.SignupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	username := strings.TrimSpace(req.Username)
	if err := validateCredentials(username, req.Password); err != nil {
		respond.Error(w, http.StatusBadRequest, err.Error())
		return
	}
	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	created, err := h.store.CreateUser(r.Context(), models.User{
		Username:     username,
		Role:         models.RoleUser,
		Balance:      h.initBalance,
		PasswordHash: passwordHash,
	})
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrAlreadyExists):
			respond.Error(w, http.StatusConflict, "username already taken")
		default:
			h.logger.Error("create user", "username", username, "error", err)
			respond.Error(w, http.StatusInternalServerError, "failed to create user")
		}
		return
	}

	h.logger.Info("signup", "user_id", created.ID, "username", created.Username)
	respond.JSON(w, http.StatusCreated, created)
}

func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		respond.Error(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, err := h.store.FindByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respond.Error(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.logger.Error("login: fetch user", "username", req.Username, "error", err)
		respond.Error(w, http.StatusInternalServerError, "failed to fetch user")
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		respond.Error(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := h.tokens.Generate(user)
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "failed to generate token")
		return
	}
	respond.JSON(w, http.StatusOK, dto.LoginResponse{Token: token, User: user})
}

func validateCredentials(username, password string) error {
	if username == "" || password == "" {
		return errors.New("missing username or password")
	}
	if !models.ValidUsername(username) {
		return errors.New("username must be at least 5 letters or numbers")
	}
	if len(strings.TrimSpace(password)) < 8 || !utf8.ValidString(password) {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
