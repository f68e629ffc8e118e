package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"wallet_settlement/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TransactionsChannel is the pub/sub channel carrying committed ledger postings.
const TransactionsChannel = "wallet:transactions"

// Publisher is the subset of the Redis client used here. *redis.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// TransactionEvent is the payload published for each committed posting.
type TransactionEvent struct {
	EventType         string    `json:"event_type"` // transaction.completed
	TransactionID     string    `json:"transaction_id"`
	UserID            string    `json:"user_id"`
	TransactionType   string    `json:"transaction_type"`
	Status            string    `json:"status"`
	Amount            string    `json:"amount"`
	BalanceAfter      string    `json:"balance_after"`
	Gateway           string    `json:"gateway,omitempty"`
	ExternalPaymentID string    `json:"external_payment_id,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// RedisPublisher fans committed postings out over Redis pub/sub.
type RedisPublisher struct {
	rdb     Publisher
	channel string
	log     *logrus.Entry
}

// NewRedisPublisher publishes on TransactionsChannel.
func NewRedisPublisher(rdb Publisher) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: TransactionsChannel, log: logrus.WithField("component", "events")}
}

// Publish sends one event.
func (p *RedisPublisher) Publish(ctx context.Context, event *TransactionEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// TransactionCommitted publishes a transaction.completed event. Failures are logged only.
func (p *RedisPublisher) TransactionCommitted(ctx context.Context, t domain.Transaction, balance decimal.Decimal) {
	event := &TransactionEvent{
		EventType:         "transaction." + string(t.Status),
		TransactionID:     t.ID,
		UserID:            t.UserID,
		TransactionType:   string(t.Type),
		Status:            string(t.Status),
		Amount:            t.Amount.StringFixed(domain.MoneyPlaces),
		BalanceAfter:      balance.StringFixed(domain.MoneyPlaces),
		Gateway:           t.Metadata.Gateway,
		ExternalPaymentID: t.Metadata.ExternalPaymentID,
	}
	if err := p.Publish(ctx, event); err != nil {
		p.log.WithFields(logrus.Fields{
			"transaction_id": t.ID,
			"error":          err.Error(),
		}).Warn("Transaction event not published")
	}
}
