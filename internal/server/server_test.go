package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/config"
	"github.com/hongminglow/all-in-floor/internal/ledger"
	"github.com/hongminglow/all-in-floor/internal/live"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/models/dto"
	"github.com/hongminglow/all-in-floor/internal/storage/memory"
)

func post(t *testing.T, url, token string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestCreditReachesPlayerSocket(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{CORSOrigins: []string{"*"}, InitBalance: decimal.NewFromInt(1000)}
	store := memory.NewStore()
	tokens := auth.NewTokenManager("secret", "floor", time.Hour)
	hub := live.NewHub(tokens, cfg.CORSOrigins, logger)
	engine := ledger.NewEngine(store, hub, logger, ledger.DefaultOptions())

	ts := httptest.NewServer(Routes(cfg, Deps{Store: store, Ledger: engine, Tokens: tokens, Hub: hub, Logger: logger}))
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})

	creds := func(name string) map[string]string {
		return map[string]string{"username": name, "password": "correct-horse"}
	}
	require.Equal(t, http.StatusCreated, post(t, ts.URL+"/api/signup", "", creds("pitboss")).StatusCode)
	resp := post(t, ts.URL+"/api/signup", "", creds("player1"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var player models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&player))

	admin, err := store.FindByUsername(context.Background(), "pitboss")
	require.NoError(t, err)
	require.NoError(t, store.SetRole(context.Background(), admin.ID, models.RoleAdmin))

	login := func(name string) string {
		resp := post(t, ts.URL+"/api/login", "", creds(name))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out dto.LoginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out.Token
	}
	adminToken, playerToken := login("pitboss"), login("player1")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws?token="+playerToken, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Online() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp = post(t, ts.URL+"/api/admin/credit", adminToken, map[string]any{"userId": player.ID, "amount": 250, "type": "deposit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env live.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, live.TypeBalance, env.Type)
	require.NotNil(t, env.Balance)
	assert.Equal(t, player.ID, env.Balance.UserID)
	assert.True(t, env.Balance.NewBalance.Equal(decimal.NewFromInt(1250)), env.Balance.NewBalance.String())

	resp = post(t, ts.URL+"/api/admin/credit", playerToken, map[string]any{"userId": player.ID, "amount": 250, "type": "deposit"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebsocketRouteOptional(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	tokens := auth.NewTokenManager("secret", "floor", time.Hour)
	handler := Routes(config.Config{}, Deps{Store: store, Ledger: ledger.NewEngine(store, nil, logger, ledger.DefaultOptions()), Tokens: tokens, Logger: logger})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
