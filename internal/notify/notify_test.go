package notify

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hongminglow/all-in-floor/internal/models"
)

type recorder struct {
	events []models.BalanceChanged
	err    error
}

func (r *recorder) Publish(_ context.Context, e models.BalanceChanged) error {
	r.events = append(r.events, e)
	return r.err
}

func sampleEvent() models.BalanceChanged {
	return models.BalanceChanged{
		EventID:       "evt-1",
		UserID:        42,
		TransactionID: 7,
		Kind:          models.KindWithdraw,
		Amount:        decimal.RequireFromString("12.50"),
		NewBalance:    decimal.RequireFromString("987.50"),
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestFanoutDeliversToAllAndJoinsErrors(t *testing.T) {
	ok := &recorder{}
	failing := &recorder{err: errors.New("broker down")}
	after := &recorder{}

	err := Fanout{ok, failing, after}.Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, ok.events, 1)
	assert.Len(t, after.events, 1, "a failing publisher must not stop the rest")
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.Publish(context.Background(), sampleEvent()))
}

func TestKafkaMessageKeyedByUser(t *testing.T) {
	msg, err := kafkaMessage(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, sampleEvent().OccurredAt, msg.Time)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "withdraw", decoded["kind"])
	assert.Equal(t, "987.5", decoded["new_balance"])
}

func TestRedisPublisherIntegration(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("set REDIS_ADDR to run this integration test")
	}
	ctx := context.Background()
	pub, err := NewRedisPublisher(ctx, addr, "balance:changed:test")
	require.NoError(t, err)
	defer pub.Close()

	sub := pub.client.Subscribe(ctx, "balance:changed:test")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(ctx, sampleEvent()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"event_id":"evt-1"`)
}
