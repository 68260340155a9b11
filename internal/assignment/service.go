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

// Package assignment implements the many-to-many assignment workflows
// between trials, sponsors and sites.
package assignment

import (
	"context"
	"fmt"
	"strings"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/audit"
)

// Relation names one many-to-many relation, owner first.
type Relation string

const (
	TrialSites    Relation = "trial_sites"
	TrialSponsors Relation = "trial_sponsors"
	SponsorSites  Relation = "sponsor_sites"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	switch r {
	case TrialSites, TrialSponsors, SponsorSites:
		return true
	}
	return false
}

// SingleSelect reports whether a submission carries exactly one member.
// Sponsor-to-trial assignment sends one sponsor with its can_edit flag.
func (r Relation) SingleSelect() bool {
	return r == TrialSponsors
}

// Target is the owner whose linked set a dialog edits, with the linked ids
// embedded on its freshly fetched record.
type Target struct {
	Relation Relation `json:"relation"`
	OwnerID  string   `json:"owner_id"`
	Linked   []string `json:"linked"`
}

func (t Target) sameAs(o Target) bool {
	return t.Relation == o.Relation && t.OwnerID == o.OwnerID && NewSelection(t.Linked...).Equal(NewSelection(o.Linked...))
}

// Result is the backend's answer to an assignment call.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Linker is the backend side of the assignment relations.
type Linker interface {
	AssignSitesToTrial(ctx context.Context, trialID string, siteIDs []string) (Result, error)
	AssignSitesToSponsor(ctx context.Context, sponsorID string, siteIDs []string) (Result, error)
	AssignSponsorToTrial(ctx context.Context, trialID, sponsorID string, canEdit bool) (Result, error)
	RemoveSponsorFromTrial(ctx context.Context, trialID, sponsorID string) (Result, error)
	LinkedIDs(ctx context.Context, rel Relation, ownerID string) ([]string, error)
}

// Service issues assignment calls.
type Service struct {
	linker      Linker
	auditLogger audit.Logger
}

// NewService creates an assignment service.
func NewService(linker Linker, auditLogger audit.Logger) *Service {
	return &Service{linker: linker, auditLogger: auditLogger}
}

// Target fetches the owner's current linked set.
func (s *Service) Target(ctx context.Context, rel Relation, ownerID string) (Target, error) {
	if !rel.Valid() {
		return Target{}, apperr.Validation("relation", "unknown relation %q", rel)
	}
	if strings.TrimSpace(ownerID) == "" {
		return Target{}, apperr.Validation("id", "owner id is required")
	}
	linked, err := s.linker.LinkedIDs(ctx, rel, ownerID)
	if err != nil {
		return Target{}, err
	}
	return Target{Relation: rel, OwnerID: ownerID, Linked: linked}, nil
}

// AssignSitesToTrial replaces the trial's site set with siteIDs.
func (s *Service) AssignSitesToTrial(ctx context.Context, actorID, trialID string, siteIDs []string) (Result, error) {
	if trialID == "" {
		return Result{}, apperr.Validation("trial_id", "trial id is required")
	}
	res, err := s.linker.AssignSitesToTrial(ctx, trialID, siteIDs)
	if err != nil {
		return Result{}, err
	}
	s.log(ctx, actorID, audit.TypeAssignment, "trial:"+trialID, map[string]any{"site_ids": siteIDs, "success": res.Success})
	return res, nil
}

// AssignSitesToSponsor replaces the sponsor's site set with siteIDs.
func (s *Service) AssignSitesToSponsor(ctx context.Context, actorID, sponsorID string, siteIDs []string) (Result, error) {
	if sponsorID == "" {
		return Result{}, apperr.Validation("sponsor_id", "sponsor id is required")
	}
	res, err := s.linker.AssignSitesToSponsor(ctx, sponsorID, siteIDs)
	if err != nil {
		return Result{}, err
	}
	s.log(ctx, actorID, audit.TypeAssignment, "sponsor:"+sponsorID, map[string]any{"site_ids": siteIDs, "success": res.Success})
	return res, nil
}

// AssignSponsorToTrial links one sponsor to a trial. Re-assigning an
// already linked sponsor updates its can_edit flag.
func (s *Service) AssignSponsorToTrial(ctx context.Context, actorID, trialID, sponsorID string, canEdit bool) (Result, error) {
	if trialID == "" || sponsorID == "" {
		return Result{}, apperr.Validation("sponsor_id", "trial id and sponsor id are required")
	}
	res, err := s.linker.AssignSponsorToTrial(ctx, trialID, sponsorID, canEdit)
	if err != nil {
		return Result{}, err
	}
	s.log(ctx, actorID, audit.TypeAssignment, "trial:"+trialID, map[string]any{"sponsor_id": sponsorID, "can_edit": canEdit, "success": res.Success})
	return res, nil
}

// RemoveSponsorFromTrial deletes the single sponsor-trial edge.
func (s *Service) RemoveSponsorFromTrial(ctx context.Context, actorID, trialID, sponsorID string) (Result, error) {
	if trialID == "" || sponsorID == "" {
		return Result{}, apperr.Validation("sponsor_id", "trial id and sponsor id are required")
	}
	res, err := s.linker.RemoveSponsorFromTrial(ctx, trialID, sponsorID)
	if err != nil {
		return Result{}, err
	}
	s.log(ctx, actorID, audit.TypeAssignmentRemoved, "trial:"+trialID, map[string]any{"sponsor_id": sponsorID, "success": res.Success})
	return res, nil
}

// submit sends the whole selection for t.Relation.
func (s *Service) submit(ctx context.Context, actorID string, t Target, ids []string, canEdit bool) (Result, error) {
	switch t.Relation {
	case TrialSites:
		return s.AssignSitesToTrial(ctx, actorID, t.OwnerID, ids)
	case SponsorSites:
		return s.AssignSitesToSponsor(ctx, actorID, t.OwnerID, ids)
	case TrialSponsors:
		if len(ids) != 1 {
			return Result{}, apperr.Validation("sponsor_id", "select exactly one sponsor")
		}
		return s.AssignSponsorToTrial(ctx, actorID, t.OwnerID, ids[0], canEdit)
	}
	return Result{}, fmt.Errorf("unknown relation %q", t.Relation)
}

func (s *Service) log(ctx context.Context, actorID, typ, resource string, meta map[string]any) {
	if s.auditLogger == nil {
		return
	}
	s.auditLogger.Log(ctx, audit.Event{Type: typ, ActorID: actorID, Resource: resource, Metadata: meta})
}
