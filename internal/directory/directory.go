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

// Package directory holds the per-session read-only snapshot of the entity
// directory and the module registry used by role and user pickers.
package directory

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trialiq/console/internal/authz"
)

// Source lists the raw directory collections.
type Source interface {
	ListEntities(ctx context.Context, entityType authz.EntityType) ([]authz.EntityItem, error)
	ListModules(ctx context.Context) ([]authz.Module, error)
}

// Snapshot is an immutable directory view. Its fields are exported for
// cache serialization only.
type Snapshot struct {
	ByType   map[authz.EntityType][]authz.ExtractedRole `json:"entities"`
	Registry []authz.Module                             `json:"modules"`
	LoadedAt time.Time                                  `json:"loaded_at"`
}

// Load fetches every entity list and the module registry. Any failure fails
// the whole load.
func Load(ctx context.Context, src Source) (*Snapshot, error) {
	lists := make([][]authz.EntityItem, len(authz.EntityTypes))
	var modules []authz.Module

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range authz.EntityTypes {
		g.Go(func() error {
			items, err := src.ListEntities(gctx, t)
			if err != nil {
				return fmt.Errorf("failed to list %s entities: %w", t, err)
			}
			lists[i] = items
			return nil
		})
	}
	g.Go(func() error {
		m, err := src.ListModules(gctx)
		if err != nil {
			return fmt.Errorf("failed to list modules: %w", err)
		}
		modules = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ByType:   make(map[authz.EntityType][]authz.ExtractedRole, len(authz.EntityTypes)),
		Registry: modules,
		LoadedAt: time.Now().UTC(),
	}
	for i, t := range authz.EntityTypes {
		snap.ByType[t] = authz.ExtractRoles(lists[i])
	}
	return snap, nil
}

// Entities returns the references of exactly one entity type. Unknown types
// yield nothing.
func (s *Snapshot) Entities(entityType authz.EntityType) []authz.ExtractedRole {
	if s == nil {
		return nil
	}
	return s.ByType[entityType]
}

// Has reports whether an entity of the type with the given id exists.
func (s *Snapshot) Has(entityType authz.EntityType, id string) bool {
	for _, e := range s.Entities(entityType) {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Modules returns the module registry.
func (s *Snapshot) Modules() []authz.Module {
	if s == nil {
		return nil
	}
	return s.Registry
}

// Module looks a module up by exact, case-sensitive name.
func (s *Snapshot) Module(name string) (authz.Module, bool) {
	for _, m := range s.Modules() {
		if m.Name == name {
			return m, true
		}
	}
	return authz.Module{}, false
}
