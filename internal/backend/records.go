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
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/authz"
)

// Resource is a plain CRUD collection of the backend.
type Resource string

const (
	ResourceTrials        Resource = "trials"
	ResourceSites         Resource = "sites"
	ResourceSponsors      Resource = "sponsors"
	ResourceOrganizations Resource = "organizations"
	ResourcePatients      Resource = "patients"
	ResourceProviders     Resource = "providers"
)

var resourceModules = map[Resource]string{
	ResourceTrials:        authz.ModuleTrials,
	ResourceSites:         authz.ModuleSites,
	ResourceSponsors:      authz.ModuleSponsors,
	ResourceOrganizations: authz.ModuleOrganizations,
	ResourcePatients:      authz.ModulePatients,
	ResourceProviders:     authz.ModuleProviders,
}

// ParseResource returns the resource named s.
func ParseResource(s string) (Resource, error) {
	r := Resource(s)
	if _, ok := resourceModules[r]; !ok {
		return "", apperr.Validation("resource", "unknown resource %q", s)
	}
	return r, nil
}

// Module is the permission module that gates the resource.
func (r Resource) Module() string {
	return resourceModules[r]
}

// Record is an opaque resource body passed through to the caller.
type Record = json.RawMessage

func (r Resource) path(id string) string {
	if id == "" {
		return "/" + string(r)
	}
	return "/" + string(r) + "/" + url.PathEscape(id)
}

// ListRecords lists a resource. query is forwarded as-is.
func (a *API) ListRecords(ctx context.Context, r Resource, query url.Values) ([]Record, error) {
	if _, err := ParseResource(string(r)); err != nil {
		return nil, err
	}
	var out []Record
	if err := a.do(ctx, request{method: http.MethodGet, path: r.path(""), query: query}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRecord fetches one record.
func (a *API) GetRecord(ctx context.Context, r Resource, id string) (Record, error) {
	return a.record(ctx, http.MethodGet, r, id, nil)
}

// CreateRecord creates a record from body.
func (a *API) CreateRecord(ctx context.Context, r Resource, body Record) (Record, error) {
	return a.record(ctx, http.MethodPost, r, "", body)
}

// UpdateRecord replaces record id with body.
func (a *API) UpdateRecord(ctx context.Context, r Resource, id string, body Record) (Record, error) {
	return a.record(ctx, http.MethodPut, r, id, body)
}

// DeleteRecord deletes one record. The backend may answer with no body.
func (a *API) DeleteRecord(ctx context.Context, r Resource, id string) error {
	if _, err := ParseResource(string(r)); err != nil {
		return err
	}
	if id == "" {
		return apperr.Validation("id", "id is required")
	}
	return a.do(ctx, request{method: http.MethodDelete, path: r.path(id), raw: true, optional: true}, nil)
}

func (a *API) record(ctx context.Context, method string, r Resource, id string, body Record) (Record, error) {
	if _, err := ParseResource(string(r)); err != nil {
		return nil, err
	}
	if method != http.MethodPost && id == "" {
		return nil, apperr.Validation("id", "id is required")
	}
	if method != http.MethodGet && !json.Valid(body) {
		return nil, apperr.Validation("body", "body must be JSON")
	}

	req := request{method: method, path: r.path(id), optional: method != http.MethodGet}
	if body != nil {
		req.body = body
	}
	var out Record
	if err := a.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
