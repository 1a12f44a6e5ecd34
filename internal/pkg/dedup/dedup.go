// Package dedup remembers which upstream objects a task has already ingested,
// so a collector that re-delivers the same Graph object does not create a
// second row.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "northsea:dedup:item:"

type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// Claim marks (taskID, externalID) as seen. It returns true when the pair was
// already claimed inside the window. A nil deduplicator or an empty external
// id never reports duplicates.
func (d *Deduplicator) Claim(ctx context.Context, taskID uint, externalID string) (bool, error) {
	if d == nil || d.rdb == nil || externalID == "" {
		return false, nil
	}
	ok, err := d.rdb.SetNX(ctx, itemKey(taskID, externalID), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Release forgets a claim, used when the insert that followed it failed.
func (d *Deduplicator) Release(ctx context.Context, taskID uint, externalID string) error {
	if d == nil || d.rdb == nil || externalID == "" {
		return nil
	}
	if err := d.rdb.Del(ctx, itemKey(taskID, externalID)).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

// ForgetTask drops every claim of a deleted task.
func (d *Deduplicator) ForgetTask(ctx context.Context, taskID uint) error {
	if d == nil || d.rdb == nil {
		return nil
	}
	pattern := keyPrefix + strconv.FormatUint(uint64(taskID), 10) + ":*"
	iter := d.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 200 {
			if err := d.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("dedup del: %w", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("dedup scan: %w", err)
	}
	if len(keys) > 0 {
		if err := d.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("dedup del: %w", err)
		}
	}
	return nil
}

func itemKey(taskID uint, externalID string) string {
	sum := sha256.Sum256([]byte(externalID))
	return keyPrefix + strconv.FormatUint(uint64(taskID), 10) + ":" + hex.EncodeToString(sum[:])
}
