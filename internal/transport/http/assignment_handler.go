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

package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/assignment"
	"github.com/trialiq/console/internal/authz"
	"github.com/trialiq/console/internal/notice"
)

// SitesRequest replaces an owner's site set.
type SitesRequest struct {
	SiteIDs []string `json:"site_ids"`
}

// SponsorRequest links one sponsor to a trial.
type SponsorRequest struct {
	SponsorID string `json:"sponsor_id"`
	CanEdit   bool   `json:"can_edit"`
}

// AssignmentView is an owner's linked set with the candidates to pick from.
type AssignmentView struct {
	Target     assignment.Target     `json:"target"`
	Candidates []authz.ExtractedRole `json:"candidates"`
}

// relationGates maps a relation to the owner module and the member entity type.
var relationGates = map[assignment.Relation]struct {
	module string
	member authz.EntityType
}{
	assignment.TrialSites:    {authz.ModuleTrials, authz.EntitySite},
	assignment.TrialSponsors: {authz.ModuleTrials, authz.EntitySponsor},
	assignment.SponsorSites:  {authz.ModuleSponsors, authz.EntitySite},
}

func (h *Handler) assignmentService(r *http.Request) *assignment.Service {
	return assignment.NewService(backendAPI(r.Context()), h.auditLogger)
}

// submitAssignment runs one dialog round: open on the owner's current
// linked set, select ids, submit the whole selection. Each request owns its
// dialog and generation scope, so concurrent requests of one session never
// supersede each other.
func (h *Handler) submitAssignment(w http.ResponseWriter, r *http.Request, rel assignment.Relation, ownerID string, ids []string, canEdit bool) {
	svc := h.assignmentService(r)
	target, err := svc.Target(r.Context(), rel, ownerID)
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}

	d := assignment.NewDialog(svc, nil, string(rel)+":"+ownerID, GetUserID(r.Context()))
	d.Open(target)
	if err := d.Select(ids); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	d.SetCanEdit(canEdit)

	out, err := d.Submit(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// GetAssignment returns an owner's linked set
// @Summary Get Assignment
// @Description The linked ids of trial_sites, trial_sponsors or sponsor_sites with the candidate entities
// @Tags Assignments
// @Produce json
// @Security CookieAuth
// @Param relation path string true "trial_sites, trial_sponsors or sponsor_sites"
// @Param ownerID path string true "Trial or sponsor id"
// @Success 200 {object} AssignmentView
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /assignments/{relation}/{ownerID} [get]
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	rel := assignment.Relation(chi.URLParam(r, "relation"))
	gate, ok := relationGates[rel]
	if !ok {
		h.respondFailure(w, r, apperr.Validation("relation", "unknown relation %q", rel))
		return
	}
	if !h.authorize(w, r, gate.module, authz.ActionView) {
		return
	}

	target, err := h.assignmentService(r).Target(r.Context(), rel, chi.URLParam(r, "ownerID"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	snap, err := h.snapshot(r.Context())
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, AssignmentView{Target: target, Candidates: snap.Entities(gate.member)})
}

// AssignSitesToTrial replaces a trial's sites
// @Summary Assign Sites to Trial
// @Description Sends the full selection; the backend replaces the trial's site set
// @Tags Assignments
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param trialID path string true "Trial ID"
// @Param request body SitesRequest true "Sites"
// @Success 200 {object} assignment.Outcome
// @Router /trials/{trialID}/sites [post]
func (h *Handler) AssignSitesToTrial(w http.ResponseWriter, r *http.Request) {
	var req SitesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.submitAssignment(w, r, assignment.TrialSites, chi.URLParam(r, "trialID"), req.SiteIDs, false)
}

// AssignSitesToSponsor replaces a sponsor's sites
// @Summary Assign Sites to Sponsor
// @Tags Assignments
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param sponsorID path string true "Sponsor ID"
// @Param request body SitesRequest true "Sites"
// @Success 200 {object} assignment.Outcome
// @Router /sponsors/{sponsorID}/sites [post]
func (h *Handler) AssignSitesToSponsor(w http.ResponseWriter, r *http.Request) {
	var req SitesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	h.submitAssignment(w, r, assignment.SponsorSites, chi.URLParam(r, "sponsorID"), req.SiteIDs, false)
}

// AssignSponsorToTrial links a sponsor to a trial
// @Summary Assign Sponsor to Trial
// @Description Re-assigning a linked sponsor updates can_edit
// @Tags Assignments
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param trialID path string true "Trial ID"
// @Param request body SponsorRequest true "Sponsor"
// @Success 200 {object} assignment.Outcome
// @Router /trials/{trialID}/sponsors [post]
func (h *Handler) AssignSponsorToTrial(w http.ResponseWriter, r *http.Request) {
	var req SponsorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondFailure(w, r, err)
		return
	}
	if req.SponsorID == "" {
		h.respondFailure(w, r, apperr.Validation("sponsor_id", "select exactly one sponsor"))
		return
	}
	h.submitAssignment(w, r, assignment.TrialSponsors, chi.URLParam(r, "trialID"), []string{req.SponsorID}, req.CanEdit)
}

// RemoveSponsorFromTrial unlinks a sponsor from a trial
// @Summary Remove Sponsor from Trial
// @Tags Assignments
// @Produce json
// @Security CookieAuth
// @Param X-CSRF-Token header string true "CSRF token"
// @Param trialID path string true "Trial ID"
// @Param sponsorID path string true "Sponsor ID"
// @Success 200 {object} NoticeResponse
// @Router /trials/{trialID}/sponsors/{sponsorID} [delete]
func (h *Handler) RemoveSponsorFromTrial(w http.ResponseWriter, r *http.Request) {
	res, err := h.assignmentService(r).RemoveSponsorFromTrial(r.Context(), GetUserID(r.Context()),
		chi.URLParam(r, "trialID"), chi.URLParam(r, "sponsorID"))
	if err != nil {
		h.respondFailure(w, r, err)
		return
	}
	respondNotice(w, http.StatusOK, notice.FromResult(res.Success, res.Message, "Sponsor removal"), res)
}
