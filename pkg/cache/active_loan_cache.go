package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	activeLoansKey      = "active_loans"
	activeLoansBuiltKey = "active_loans_built"
	activeLoansGenKey   = "active_loans_gen"
)

// CachedLoan is one outstanding borrow inside a CachedLoanGroup.
type CachedLoan struct {
	UsageID          uuid.UUID  `json:"usage_id"`
	EquipmentID      uuid.UUID  `json:"equipment_id"`
	EquipmentName    string     `json:"equipment_name"`
	Quantity         int        `json:"quantity"`
	Purpose          string     `json:"purpose,omitempty"`
	BorrowedAt       time.Time  `json:"borrowed_at"`
	ExpectedReturnAt *time.Time `json:"expected_return_at,omitempty"`
}

// CachedLoanGroup is the active-loan read model of one user.
type CachedLoanGroup struct {
	UserID       string       `json:"user_id"`
	UserName     string       `json:"user_name"`
	LastActiveAt time.Time    `json:"last_active_at"`
	Loans        []CachedLoan `json:"loans"`
}

// ActiveLoanCache stores one JSON-encoded group per user in a single Redis
// hash. The read model is disposable: it can always be rebuilt from the ledger.
// A companion marker key records that a full build has happened, so an empty
// hash can be told apart from a cold cache.
//
// Every write bumps a generation counter. Writers take the generation before
// reading the ledger and pass it back; a write carrying an old generation is
// refused with ErrStaleSnapshot, so a slow rebuild never overwrites newer data.
type ActiveLoanCache struct {
	client *RedisClient
}

// NewActiveLoanCache creates a new ActiveLoanCache backed by the given RedisClient.
func NewActiveLoanCache(r *RedisClient) *ActiveLoanCache {
	return &ActiveLoanCache{client: r}
}

// All returns every cached group in no particular order. Returns redis.Nil
// when the read model has never been fully built.
func (c *ActiveLoanCache) All(ctx context.Context) ([]CachedLoanGroup, error) {
	rdb := c.client.Client()
	built, err := rdb.Exists(ctx, c.client.Key(activeLoansBuiltKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache exists: %w", err)
	}
	if built == 0 {
		return nil, redis.Nil
	}

	vals, err := rdb.HGetAll(ctx, c.client.Key(activeLoansKey)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	groups := make([]CachedLoanGroup, 0, len(vals))
	for user, raw := range vals {
		var g CachedLoanGroup
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return nil, fmt.Errorf("cache decode group %s: %w", user, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// Get returns the cached group of one user. Returns redis.Nil when the user
// has no cached group.
func (c *ActiveLoanCache) Get(ctx context.Context, userID string) (*CachedLoanGroup, error) {
	raw, err := c.client.Client().HGet(ctx, c.client.Key(activeLoansKey), userID).Result()
	if err != nil {
		return nil, err
	}
	var g CachedLoanGroup
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("cache decode group %s: %w", userID, err)
	}
	return &g, nil
}

// Generation returns the current write generation. Take it before reading
// the ledger and pass it to ReplaceUsers or ReplaceAll.
func (c *ActiveLoanCache) Generation(ctx context.Context) (int64, error) {
	return c.client.generation(ctx, c.client.Key(activeLoansGenKey))
}

// ReplaceUsers writes groups and removes the entries of emptied users in one
// MULTI/EXEC, provided gen is still current.
func (c *ActiveLoanCache) ReplaceUsers(ctx context.Context, gen int64, groups []CachedLoanGroup, emptied []string) error {
	if len(groups) == 0 && len(emptied) == 0 {
		return nil
	}
	fields, err := encodeGroups(groups)
	if err != nil {
		return err
	}
	key, genKey := c.client.Key(activeLoansKey), c.client.Key(activeLoansGenKey)
	err = c.client.writeAt(ctx, genKey, gen, func(pipe redis.Pipeliner) {
		if len(emptied) > 0 {
			pipe.HDel(ctx, key, emptied...)
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		pipe.Incr(ctx, genKey)
	})
	if err != nil {
		return fmt.Errorf("cache replace users: %w", err)
	}
	return nil
}

// ReplaceAll swaps the whole read model for groups and marks it built,
// provided gen is still current.
func (c *ActiveLoanCache) ReplaceAll(ctx context.Context, gen int64, groups []CachedLoanGroup) error {
	fields, err := encodeGroups(groups)
	if err != nil {
		return err
	}
	key, genKey := c.client.Key(activeLoansKey), c.client.Key(activeLoansGenKey)
	err = c.client.writeAt(ctx, genKey, gen, func(pipe redis.Pipeliner) {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		pipe.Set(ctx, c.client.Key(activeLoansBuiltKey), time.Now().UTC().Format(time.RFC3339), 0)
		pipe.Incr(ctx, genKey)
	})
	if err != nil {
		return fmt.Errorf("cache replace all: %w", err)
	}
	return nil
}

// Invalidate drops the read model so the next read rebuilds it. The
// generation moves on, so writes based on older snapshots are refused.
func (c *ActiveLoanCache) Invalidate(ctx context.Context) error {
	pipe := c.client.Client().TxPipeline()
	pipe.Del(ctx, c.client.Key(activeLoansKey), c.client.Key(activeLoansBuiltKey))
	pipe.Incr(ctx, c.client.Key(activeLoansGenKey))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

func encodeGroups(groups []CachedLoanGroup) ([]any, error) {
	fields := make([]any, 0, len(groups)*2)
	for _, g := range groups {
		raw, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("cache encode group %s: %w", g.UserID, err)
		}
		fields = append(fields, g.UserID, string(raw))
	}
	return fields, nil
}
