package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/trialiq/console/internal/directory"
)

const defaultDirectoryPrefix = "console:directory"

// DirectoryCache stores directory snapshots as JSON, one key per session.
type DirectoryCache struct {
	client *red.Client
	prefix string
}

// NewDirectoryCache creates a directory.Cache on client.
func NewDirectoryCache(client *red.Client, keyPrefix string) *DirectoryCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultDirectoryPrefix
	}
	return &DirectoryCache{client: client, prefix: prefix}
}

// Get returns directory.ErrCacheMiss when the session has no snapshot.
func (c *DirectoryCache) Get(ctx context.Context, sessionID string) (*directory.Snapshot, error) {
	key, err := c.key(sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, directory.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get directory: %w", err)
	}
	var snap directory.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		// a snapshot written by another version is reloaded
		_ = c.client.Del(ctx, key).Err()
		return nil, directory.ErrCacheMiss
	}
	return &snap, nil
}

func (c *DirectoryCache) Set(ctx context.Context, sessionID string, snap *directory.Snapshot, ttl time.Duration) error {
	key, err := c.key(sessionID)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode directory: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set directory: %w", err)
	}
	return nil
}

func (c *DirectoryCache) Delete(ctx context.Context, sessionID string) error {
	key, err := c.key(sessionID)
	if err != nil {
		return err
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete directory: %w", err)
	}
	return nil
}

func (c *DirectoryCache) key(sessionID string) (string, error) {
	trimmed := strings.TrimSpace(sessionID)
	if trimmed == "" {
		return "", fmt.Errorf("session id is required")
	}
	return c.prefix + ":" + trimmed, nil
}

// Purge drops every snapshot under the prefix and returns the count.
func (c *DirectoryCache) Purge(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+":*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan directory: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis purge directory: %w", err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
