package live

import (
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
	"github.com/hongminglow/all-in-floor/internal/models"
)

type harness struct {
	hub    *Hub
	tokens *auth.TokenManager
	url    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tokens := auth.NewTokenManager("secret", "floor", time.Hour)
	hub := NewHub(tokens, []string{"*"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &harness{hub: hub, tokens: tokens, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (h *harness) dial(t *testing.T, user models.User) *websocket.Conn {
	t.Helper()
	token, err := h.tokens.Generate(user)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestChatIsRelayedToEveryoneUnderTokenName(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, models.User{ID: 1, Username: "alice"})
	bobby := h.dial(t, models.User{ID: 2, Username: "bobby"})
	require.Eventually(t, func() bool { return h.hub.Online() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, alice.WriteJSON(map[string]string{"type": "message", "user": "mallory", "text": "  red 17  "}))

	for _, conn := range []*websocket.Conn{alice, bobby} {
		env := readEnvelope(t, conn)
		assert.Equal(t, TypeMessage, env.Type)
		assert.Equal(t, "alice", env.User)
		assert.Equal(t, "red 17", env.Text)
	}
}

func TestBalanceReachesOnlyAffectedUser(t *testing.T) {
	h := newHarness(t)
	alice := h.dial(t, models.User{ID: 1, Username: "alice"})
	bobby := h.dial(t, models.User{ID: 2, Username: "bobby"})
	require.Eventually(t, func() bool { return h.hub.Online() == 2 }, 2*time.Second, 10*time.Millisecond)

	err := h.hub.Publish(context.Background(), models.BalanceChanged{
		UserID:     2,
		Kind:       models.KindDeposit,
		Amount:     decimal.NewFromInt(50),
		NewBalance: decimal.NewFromInt(1050),
	})
	require.NoError(t, err)

	env := readEnvelope(t, bobby)
	assert.Equal(t, TypeBalance, env.Type)
	require.NotNil(t, env.Balance)
	assert.True(t, env.Balance.NewBalance.Equal(decimal.NewFromInt(1050)))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err = alice.ReadMessage()
	assert.Error(t, err, "alice must not receive bobby's balance")
}

func TestRejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	_, resp, err := websocket.DefaultDialer.Dial(h.url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDisconnectUnregisters(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, models.User{ID: 3, Username: "carol"})
	require.Eventually(t, func() bool { return h.hub.Online() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return h.hub.Online() == 0 }, 2*time.Second, 10*time.Millisecond)
}
