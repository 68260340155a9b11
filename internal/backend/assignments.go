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
	"net/http"
	"net/url"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/assignment"
)

type siteIDsBody struct {
	SiteIDs []string `json:"site_ids"`
}

type sponsorBody struct {
	SponsorID string `json:"sponsor_id"`
	CanEdit   *bool  `json:"can_edit,omitempty"`
}

// assign posts an assignment payload. A success body without a success flag
// counts as success.
func (a *API) assign(ctx context.Context, method, path string, body any) (assignment.Result, error) {
	res := struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}{}
	req := request{method: method, path: path, body: body, raw: true, optional: true}
	if err := a.do(ctx, req, &res); err != nil {
		return assignment.Result{}, err
	}
	out := assignment.Result{Success: true, Message: res.Message}
	if res.Success != nil {
		out.Success = *res.Success
	}
	return out, nil
}

// AssignSitesToTrial sends the full site selection for a trial.
func (a *API) AssignSitesToTrial(ctx context.Context, trialID string, siteIDs []string) (assignment.Result, error) {
	return a.assign(ctx, http.MethodPost, "/trials/"+url.PathEscape(trialID)+"/sites", siteIDsBody{SiteIDs: nonNil(siteIDs)})
}

// AssignSitesToSponsor sends the full site selection for a sponsor.
func (a *API) AssignSitesToSponsor(ctx context.Context, sponsorID string, siteIDs []string) (assignment.Result, error) {
	return a.assign(ctx, http.MethodPost, "/sponsors/"+url.PathEscape(sponsorID)+"/sites", siteIDsBody{SiteIDs: nonNil(siteIDs)})
}

// AssignSponsorToTrial links one sponsor to a trial with its can_edit flag.
func (a *API) AssignSponsorToTrial(ctx context.Context, trialID, sponsorID string, canEdit bool) (assignment.Result, error) {
	return a.assign(ctx, http.MethodPost, "/trials/"+url.PathEscape(trialID)+"/sponsors", sponsorBody{SponsorID: sponsorID, CanEdit: &canEdit})
}

// RemoveSponsorFromTrial deletes one sponsor-trial edge.
func (a *API) RemoveSponsorFromTrial(ctx context.Context, trialID, sponsorID string) (assignment.Result, error) {
	return a.assign(ctx, http.MethodDelete, "/trials/"+url.PathEscape(trialID)+"/sponsors", sponsorBody{SponsorID: sponsorID})
}

type wireLink struct {
	ID        string `json:"id"`
	SiteID    string `json:"site_id"`
	SponsorID string `json:"sponsor_id"`
}

type wireLinkedOwner struct {
	ID       string     `json:"id"`
	Sites    []wireLink `json:"sites"`
	Sponsors []wireLink `json:"sponsors"`
}

// LinkedIDs fetches the owner record and returns the ids embedded for rel.
func (a *API) LinkedIDs(ctx context.Context, rel assignment.Relation, ownerID string) ([]string, error) {
	var path string
	switch rel {
	case assignment.TrialSites, assignment.TrialSponsors:
		path = "/trials/" + url.PathEscape(ownerID)
	case assignment.SponsorSites:
		path = "/sponsors/" + url.PathEscape(ownerID)
	default:
		return nil, apperr.Validation("relation", "unknown relation %q", rel)
	}

	var owner wireLinkedOwner
	if err := a.do(ctx, request{method: http.MethodGet, path: path}, &owner); err != nil {
		return nil, err
	}

	links := owner.Sites
	if rel == assignment.TrialSponsors {
		links = owner.Sponsors
	}
	ids := make([]string, 0, len(links))
	for _, l := range links {
		id := l.ID
		switch {
		case rel == assignment.TrialSponsors && l.SponsorID != "":
			id = l.SponsorID
		case rel != assignment.TrialSponsors && l.SiteID != "":
			id = l.SiteID
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	return assignment.NewSelection(ids...).IDs(), nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
