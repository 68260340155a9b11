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

package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
)

var entityPaths = map[authz.EntityType]string{
	authz.EntityOrganization: "/organizations",
	authz.EntitySponsor:      "/sponsors",
	authz.EntitySite:         "/sites",
	authz.EntityProvider:     "/providers",
}

type wireEntityRole struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	EntityType  string `json:"entity_type"`
}

type wireEntityUser struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Role *wireEntityRole `json:"role"`
}

type wireEntity struct {
	ID     string          `json:"id"`
	UserID string          `json:"user_id"`
	User   *wireEntityUser `json:"user"`
}

func (w wireEntity) toItem() (authz.EntityItem, error) {
	if w.ID == "" {
		return authz.EntityItem{}, errors.New("entity without id")
	}
	item := authz.EntityItem{ID: w.ID, UserID: w.UserID}
	if w.User != nil {
		item.User = &authz.EmbeddedUser{ID: w.User.ID, Name: w.User.Name}
		if item.UserID == "" {
			item.UserID = w.User.ID
		}
		if r := w.User.Role; r != nil {
			er := &authz.EmbeddedRole{ID: r.ID, Name: r.Name, Description: r.Description}
			if r.EntityType != "" {
				et, err := authz.ParseEntityType(r.EntityType)
				if err != nil {
					return authz.EntityItem{}, err
				}
				er.EntityType = et
			}
			item.User.Role = er
		}
	}
	return item, nil
}

// ListEntities fetches the entity rows of one type with the embedded user
// and role.
func (a *API) ListEntities(ctx context.Context, entityType authz.EntityType) ([]authz.EntityItem, error) {
	path, ok := entityPaths[entityType]
	if !ok {
		return nil, apperr.Validation("entity_type", "no entity list for %q", entityType)
	}
	var wire []wireEntity
	if err := a.do(ctx, request{method: http.MethodGet, path: path}, &wire); err != nil {
		return nil, err
	}
	items := make([]authz.EntityItem, 0, len(wire))
	for _, w := range wire {
		item, err := w.toItem()
		if err != nil {
			return nil, &apperr.DecodeError{Target: path, Err: err}
		}
		items = append(items, item)
	}
	return items, nil
}
