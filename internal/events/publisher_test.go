package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"wallet_settlement/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	channel string
	payload []byte
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	r.channel = channel
	r.payload, _ = message.([]byte)
	return redis.NewIntResult(1, r.err)
}

func TestRedisPublisher_TransactionCommitted(t *testing.T) {
	rec := &recordingPublisher{}
	p := NewRedisPublisher(rec)

	p.TransactionCommitted(context.Background(), domain.Transaction{
		ID:       "01TX",
		UserID:   "u1",
		Type:     domain.TransactionWithdrawal,
		Status:   domain.StatusCompleted,
		Amount:   decimal.RequireFromString("-40"),
		Metadata: domain.Metadata{Gateway: "paypal"},
	}, decimal.RequireFromString("60"))

	assert.Equal(t, TransactionsChannel, rec.channel)
	var ev TransactionEvent
	require.NoError(t, json.Unmarshal(rec.payload, &ev))
	assert.Equal(t, "transaction.completed", ev.EventType)
	assert.Equal(t, "-40.00", ev.Amount)
	assert.Equal(t, "60.00", ev.BalanceAfter)
	assert.Equal(t, "paypal", ev.Gateway)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestRedisPublisher_PublishError(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("redis down")}
	p := NewRedisPublisher(rec)
	err := p.Publish(context.Background(), &TransactionEvent{EventType: "transaction.completed"})
	assert.ErrorContains(t, err, "redis down")
	assert.NotPanics(t, func() {
		p.TransactionCommitted(context.Background(), domain.Transaction{ID: "x"}, decimal.Zero)
	})
}
