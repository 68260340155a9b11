// Copyright 2026 The TrialIQ Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package redis implements the console's Redis-backed caches.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/trialiq/console/internal/observability/logger"
)

// Config holds Redis connection settings.
type Config struct {
	Addr       string
	Password   string
	DB         int
	TLSEnabled bool
	PoolSize   int
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*red.Client, error) {
	opts := &red.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,

		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := red.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	slog.InfoContext(ctx, "redis connection established",
		logger.Component("redis"),
		logger.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
		slog.Bool("tls_enabled", cfg.TLSEnabled),
	)
	return client, nil
}
