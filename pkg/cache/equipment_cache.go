package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// EquipmentCacheTTL is the time-to-live for cached equipment rows.
	EquipmentCacheTTL = 10 * time.Minute

	equipmentCacheKeyPrefix = "equipment"
	equipmentGenKeyPrefix   = "equipment_gen"

	// equipmentGenTTL outlives any cached row, so a warm that read the
	// database before an invalidation always sees the bumped counter.
	equipmentGenTTL = 2 * EquipmentCacheTTL
)

// CachedEquipment is the read model of one equipment row stored as a Redis hash.
// Quantities are only a hint for display; reservations always read Postgres.
type CachedEquipment struct {
	ID                uuid.UUID
	Name              string
	Category          string
	Location          string
	Unit              string
	Kind              string
	Status            string
	TotalQuantity     int
	AvailableQuantity int
	MinStock          int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// EquipmentCache provides read-through cache entries for equipment lookups.
// Key format: "{namespace}:equipment:{id}"
//
// Each row has an invalidation counter. Warmers read it before querying the
// database and write with SetAt, which refuses the write once Delete has
// bumped the counter, so a slow warm cannot bring back a superseded row.
type EquipmentCache struct {
	client *RedisClient
}

// NewEquipmentCache creates a new EquipmentCache backed by the given RedisClient.
func NewEquipmentCache(r *RedisClient) *EquipmentCache {
	return &EquipmentCache{client: r}
}

// Get retrieves a cached equipment record. Returns redis.Nil when the key does not exist
// or has expired.
func (c *EquipmentCache) Get(ctx context.Context, id uuid.UUID) (*CachedEquipment, error) {
	vals, err := c.client.Client().HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	if len(vals) == 0 {
		return nil, redis.Nil
	}

	eq := &CachedEquipment{
		ID:       id,
		Name:     vals["name"],
		Category: vals["category"],
		Location: vals["location"],
		Unit:     vals["unit"],
		Kind:     vals["kind"],
		Status:   vals["status"],
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"total_quantity", &eq.TotalQuantity},
		{"available_quantity", &eq.AvailableQuantity},
		{"min_stock", &eq.MinStock},
	}
	for _, f := range ints {
		n, err := strconv.Atoi(vals[f.field])
		if err != nil {
			return nil, fmt.Errorf("cache parse %s: %w", f.field, err)
		}
		*f.dst = n
	}
	if eq.CreatedAt, err = time.Parse(time.RFC3339Nano, vals["created_at"]); err != nil {
		return nil, fmt.Errorf("cache parse created_at: %w", err)
	}
	if eq.UpdatedAt, err = time.Parse(time.RFC3339Nano, vals["updated_at"]); err != nil {
		return nil, fmt.Errorf("cache parse updated_at: %w", err)
	}
	return eq, nil
}

// Generation returns the invalidation counter of one row. Take it before
// reading the database and pass it to SetAt.
func (c *EquipmentCache) Generation(ctx context.Context, id uuid.UUID) (int64, error) {
	return c.client.generation(ctx, c.genKey(id))
}

// SetAt writes a cached equipment record as a Redis hash with
// EquipmentCacheTTL, provided the row has not been invalidated since gen was
// read. Returns ErrStaleSnapshot otherwise.
func (c *EquipmentCache) SetAt(ctx context.Context, gen int64, eq *CachedEquipment) error {
	key := c.key(eq.ID)
	err := c.client.writeAt(ctx, c.genKey(eq.ID), gen, func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, key,
			"name", eq.Name,
			"category", eq.Category,
			"location", eq.Location,
			"unit", eq.Unit,
			"kind", eq.Kind,
			"status", eq.Status,
			"total_quantity", eq.TotalQuantity,
			"available_quantity", eq.AvailableQuantity,
			"min_stock", eq.MinStock,
			"created_at", eq.CreatedAt.UTC().Format(time.RFC3339Nano),
			"updated_at", eq.UpdatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, key, EquipmentCacheTTL)
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes cached equipment records and bumps their counters.
func (c *EquipmentCache) Delete(ctx context.Context, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := c.client.Client().TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, c.key(id))
		pipe.Incr(ctx, c.genKey(id))
		pipe.Expire(ctx, c.genKey(id), equipmentGenTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

func (c *EquipmentCache) genKey(id uuid.UUID) string {
	return c.client.Key(equipmentGenKeyPrefix, id.String())
}

func (c *EquipmentCache) key(id uuid.UUID) string {
	return c.client.Key(equipmentCacheKeyPrefix, id.String())
}
