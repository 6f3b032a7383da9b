package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/studioflow-backend/pkg/redis"
)

// Manager tracks processed work IDs per consumer using Redis with a TTL.
// Keys follow the `sf:idempotency:processed:<consumer>:<id>` pattern.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

// NewManager builds an idempotency guard that remembers IDs for the given TTL.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{
		store: store,
		ttl:   ttl,
	}, nil
}

// CheckAndMarkProcessed returns true if the id was already claimed and
// otherwise claims it. Use it where claiming before the work is acceptable.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, id uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// IsProcessed reports whether MarkProcessed was called for id.
func (m *Manager) IsProcessed(ctx context.Context, consumer string, id uuid.UUID) (bool, error) {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Get(ctx, key); err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records id after the work succeeded, so a crash mid-work
// still leads to reprocessing on redelivery.
func (m *Manager) MarkProcessed(ctx context.Context, consumer string, id uuid.UUID) error {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return err
	}
	_, err = m.store.SetNX(ctx, key, "1", m.ttl)
	return err
}

func (m *Manager) Delete(ctx context.Context, consumer string, id uuid.UUID) error {
	key, err := m.processedKey(consumer, id)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer string, id uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if id == uuid.Nil {
		return "", errors.New("id is required")
	}
	scope := fmt.Sprintf("processed:%s", consumer)
	return m.store.IdempotencyKey(scope, id.String()), nil
}
