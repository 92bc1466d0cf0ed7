package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/ledger"
	"github.com/hongminglow/all-in-floor/internal/middleware"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/models/dto"
	"github.com/hongminglow/all-in-floor/internal/storage/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type floor struct {
	store  *memory.Store
	tokens *auth.TokenManager
	mux    *http.ServeMux
}

func newFloor(t *testing.T, l func(*memory.Store) Ledger) *floor {
	t.Helper()
	store := memory.NewStore()
	tokens := auth.NewTokenManager("secret", "floor", time.Hour)
	mux := http.NewServeMux()
	NewHealthHandler(time.Now()).Register(mux)
	NewAuthHandler(store, tokens, decimal.NewFromInt(1000), quiet).Register(mux)
	NewAccountHandler(store, quiet).Register(mux, middleware.Authenticate(tokens))
	NewAdminHandler(store, l(store), quiet).Register(mux, middleware.AdminGate(tokens))
	return &floor{store: store, tokens: tokens, mux: mux}
}

func realLedger(store *memory.Store) Ledger {
	return ledger.NewEngine(store, nil, quiet, ledger.DefaultOptions())
}

func (f *floor) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *floor) signup(t *testing.T, username string) models.User {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/signup", "", map[string]string{"username": username, "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var user models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	return user
}

func (f *floor) login(t *testing.T, username string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": username, "password": "correct-horse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out dto.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Token
}

func (f *floor) adminToken(t *testing.T) string {
	t.Helper()
	admin := f.signup(t, "pitboss")
	require.NoError(t, f.store.SetRole(context.Background(), admin.ID, models.RoleAdmin))
	return f.login(t, "pitboss")
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func TestSignupAndLogin(t *testing.T) {
	f := newFloor(t, realLedger)

	user := f.signup(t, "player1")
	assert.Equal(t, models.RoleUser, user.Role)
	assert.True(t, user.Balance.Equal(decimal.NewFromInt(1000)))

	rec := f.do(t, http.MethodPost, "/api/signup", "", map[string]string{"username": "PLAYER1", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/signup", "", map[string]string{"username": "ab!", "password": "correct-horse"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "at least 5")

	rec = f.do(t, http.MethodPost, "/api/signup", "", map[string]string{"username": "player2", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "player1", "password": "wrong-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/login", "", map[string]string{"username": "ghost", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := f.login(t, "player1")
	rec = f.do(t, http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var me models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, user.ID, me.ID)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestAdminCreditFlow(t *testing.T) {
	f := newFloor(t, realLedger)
	adminToken := f.adminToken(t)
	player := f.signup(t, "player1")

	rec := f.do(t, http.MethodPost, "/api/admin/credit", adminToken, map[string]any{"userId": player.ID, "amount": "250", "type": "deposit"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var credit dto.CreditResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &credit))
	assert.True(t, credit.Success)
	assert.True(t, credit.NewBalance.Equal(decimal.NewFromInt(1250)))
	assert.JSONEq(t, `{"success":true,"new_balance":"1250"}`, rec.Body.String(), "money is sent as a decimal string")

	rec = f.do(t, http.MethodPost, "/api/admin/credit", adminToken, map[string]any{"user_id": player.ID, "amount": 100, "kind": "withdraw", "description": "cash out"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &credit))
	assert.True(t, credit.NewBalance.Equal(decimal.NewFromInt(1150)))

	rec = f.do(t, http.MethodGet, "/api/admin/users/"+strconv.FormatInt(player.ID, 10)+"/transactions", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []models.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, models.KindDeposit, history[0].Kind)
	assert.Equal(t, "admin pitboss: deposit", history[0].Description)
	assert.Equal(t, "admin pitboss: withdraw (cash out)", history[1].Description)

	rec = f.do(t, http.MethodGet, "/api/admin/users/"+strconv.FormatInt(player.ID, 10)+"/audit", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report ledger.AuditReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Consistent)
	assert.Equal(t, 2, report.Records)

	rec = f.do(t, http.MethodGet, "/api/admin/users", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []models.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 2)
	assert.True(t, users[1].Balance.Equal(decimal.NewFromInt(1150)))
}

func TestAdminCreditRejections(t *testing.T) {
	f := newFloor(t, realLedger)
	adminToken := f.adminToken(t)
	player := f.signup(t, "player1")
	playerToken := f.login(t, "player1")

	cases := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"no token", "", map[string]any{"userId": player.ID, "amount": 5, "type": "deposit"}, http.StatusUnauthorized},
		{"not admin", playerToken, map[string]any{"userId": player.ID, "amount": 5, "type": "deposit"}, http.StatusForbidden},
		{"negative amount", adminToken, map[string]any{"userId": player.ID, "amount": -5, "type": "deposit"}, http.StatusBadRequest},
		{"sub-cent amount", adminToken, map[string]any{"userId": player.ID, "amount": "0.005", "type": "deposit"}, http.StatusBadRequest},
		{"amount beyond storable range", adminToken, map[string]any{"userId": player.ID, "amount": "1e30", "type": "deposit"}, http.StatusBadRequest},
		{"huge exponent", adminToken, map[string]any{"userId": player.ID, "amount": "1e5000000", "type": "deposit"}, http.StatusBadRequest},
		{"unknown kind", adminToken, map[string]any{"userId": player.ID, "amount": 5, "type": "bonus"}, http.StatusBadRequest},
		{"missing user", adminToken, map[string]any{"amount": 5, "type": "deposit"}, http.StatusBadRequest},
		{"unknown user", adminToken, map[string]any{"userId": 9999, "amount": 5, "type": "deposit"}, http.StatusNotFound},
		{"bad json", adminToken, "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/admin/credit", tc.token, tc.body)
			assert.Equal(t, tc.want, rec.Code)
			assert.NotEmpty(t, errorMessage(t, rec))
		})
	}

	got, err := f.store.FindByID(context.Background(), player.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(1000)), "rejected requests must not move the balance")
}

type failingLedger struct{ Ledger }

func (failingLedger) ApplyAdjustment(context.Context, ledger.Adjustment) (ledger.Result, error) {
	return ledger.Result{}, &ledger.OperationFailedError{UserID: 1, Err: errors.New("connection reset")}
}

func TestOperationFailedMapsToServiceUnavailable(t *testing.T) {
	f := newFloor(t, func(s *memory.Store) Ledger { return failingLedger{realLedger(s)} })
	adminToken := f.adminToken(t)

	rec := f.do(t, http.MethodPost, "/api/admin/credit", adminToken, map[string]any{"userId": 1, "amount": 5, "type": "deposit"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	msg := errorMessage(t, rec)
	assert.Contains(t, msg, "before retrying")
	assert.NotContains(t, msg, "no changes")
}

func TestOversizedBodyRejected(t *testing.T) {
	f := newFloor(t, realLedger)
	adminToken := f.adminToken(t)

	amount := "1" + strings.Repeat("0", maxBodyBytes)
	rec := f.do(t, http.MethodPost, "/api/admin/credit", adminToken, map[string]any{"userId": 1, "amount": amount, "type": "deposit"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	f := newFloor(t, realLedger)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = f.do(t, http.MethodPost, "/health", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
