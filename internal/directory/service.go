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

package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/trialiq/console/internal/observability/logger"
)

// DefaultTTL bounds how long a session reuses its snapshot.
const DefaultTTL = 30 * time.Minute

// loadTimeout bounds one shared load. The load outlives the caller that
// started it, so it cannot borrow that caller's deadline.
const loadTimeout = 30 * time.Second

// Service hands out one snapshot per admin session, loading it at most once
// until it is invalidated or expires.
type Service struct {
	cache       Cache
	ttl         time.Duration
	loadTimeout time.Duration
	loads       singleflight.Group
	logger      *slog.Logger
}

// NewService creates a directory service over cache.
func NewService(cache Cache, ttl time.Duration) *Service {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		cache:       cache,
		ttl:         ttl,
		loadTimeout: loadTimeout,
		logger:      slog.Default().With(logger.Component("directory")),
	}
}

// Get returns the session's snapshot, loading it from src on a miss.
func (s *Service) Get(ctx context.Context, sessionID string, src Source) (*Snapshot, error) {
	snap, err := s.cache.Get(ctx, sessionID)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.WarnContext(ctx, "directory cache read failed", logger.SessionID(sessionID), logger.Error(err))
	}

	// Waiters share one load; each gives up on its own context only.
	ch := s.loads.DoChan(sessionID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		snap, err := Load(lctx, src)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(lctx, sessionID, snap, s.ttl); err != nil {
			s.logger.WarnContext(lctx, "directory cache write failed", logger.SessionID(sessionID), logger.Error(err))
		}
		s.logger.DebugContext(lctx, "directory loaded",
			logger.SessionID(sessionID),
			slog.Int("modules", len(snap.Registry)),
		)
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Invalidate drops the session's snapshot so the next Get reloads it.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.loads.Forget(sessionID)
	return nil
}
