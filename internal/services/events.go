package services

import (
	"context"
	"encoding/json"
	"log"

	"github.com/famledger/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

// EventQueue is the Redis list that notification consumers read posted
// entries from.
const EventQueue = "ledger:events"

// EventPublisher pushes posted ledger entries onto a Redis queue so
// out-of-process consumers (notifications, exports) can react to them.
// Publishing is best effort and happens after the database transaction
// commits; a publish failure never fails the ledger operation.
type EventPublisher struct {
	redis *redis.Client
}

// NewEventPublisher wraps the given Redis client. A nil client disables
// publishing entirely.
func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{redis: rdb}
}

// PublishEntry queues one posted entry. Errors are logged, not returned.
func (p *EventPublisher) PublishEntry(ctx context.Context, entry *models.LedgerEntry) {
	if p == nil || p.redis == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal entry %d: %v", entry.ID, err)
		return
	}

	if err := p.redis.RPush(ctx, EventQueue, data).Err(); err != nil {
		log.Printf("[EVENTS] Failed to publish entry %d: %v", entry.ID, err)
	}
}
