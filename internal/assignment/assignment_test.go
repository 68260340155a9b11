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

package assignment

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trialiq/console/internal/apperr"
	"github.com/trialiq/console/internal/generation"
	"github.com/trialiq/console/internal/notice"
)

// memLinker keeps relation edges in memory and records every payload.
type memLinker struct {
	mu       sync.Mutex
	edges    map[Relation]map[string][]string
	canEdit  map[string]bool
	payloads [][]string
	fail     error
	before   func()
}

func newMemLinker() *memLinker {
	return &memLinker{
		edges: map[Relation]map[string][]string{
			TrialSites:    {},
			TrialSponsors: {},
			SponsorSites:  {},
		},
		canEdit: map[string]bool{},
	}
}

func (m *memLinker) replace(rel Relation, owner string, ids []string) (Result, error) {
	if m.before != nil {
		m.before()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, append([]string(nil), ids...))
	if m.fail != nil {
		return Result{}, m.fail
	}
	m.edges[rel][owner] = NewSelection(ids...).IDs()
	return Result{Success: true, Message: "Sites assigned"}, nil
}

func (m *memLinker) AssignSitesToTrial(ctx context.Context, trialID string, siteIDs []string) (Result, error) {
	return m.replace(TrialSites, trialID, siteIDs)
}

func (m *memLinker) AssignSitesToSponsor(ctx context.Context, sponsorID string, siteIDs []string) (Result, error) {
	return m.replace(SponsorSites, sponsorID, siteIDs)
}

func (m *memLinker) AssignSponsorToTrial(ctx context.Context, trialID, sponsorID string, canEdit bool) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Result{}, m.fail
	}
	set := NewSelection(m.edges[TrialSponsors][trialID]...)
	if !set.Has(sponsorID) {
		set.Toggle(sponsorID)
	}
	m.edges[TrialSponsors][trialID] = set.IDs()
	m.canEdit[trialID+"/"+sponsorID] = canEdit
	return Result{Success: true}, nil
}

func (m *memLinker) RemoveSponsorFromTrial(ctx context.Context, trialID, sponsorID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Result{}, m.fail
	}
	set := NewSelection(m.edges[TrialSponsors][trialID]...)
	if set.Has(sponsorID) {
		set.Toggle(sponsorID)
	}
	m.edges[TrialSponsors][trialID] = set.IDs()
	return Result{Success: true, Message: "Sponsor removed"}, nil
}

func (m *memLinker) LinkedIDs(ctx context.Context, rel Relation, ownerID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.edges[rel][ownerID]...), nil
}

func TestSelection_Toggle(t *testing.T) {
	s := NewSelection("b", "a")
	assert.False(t, s.Toggle("a"))
	assert.True(t, s.Toggle("c"))
	assert.Equal(t, []string{"b", "c"}, s.IDs())

	var zero Selection
	assert.True(t, zero.Toggle("x"))
	assert.Equal(t, 1, zero.Len())
}

// TestPurpose: Validates that the full new selection is sent and becomes the linked set.
// Scope: Unit Test
// Security: N/A
// Expected: Sponsor linked {s2,s3}; selecting {s1,s2} sends ["s1","s2"] and the linked set becomes exactly that.
// Test Case ID: ASG-01
func TestDialog_Submit_SendsFullSelection(t *testing.T) {
	linker := newMemLinker()
	linker.edges[SponsorSites]["sp-1"] = []string{"s2", "s3"}
	svc := NewService(linker, nil)
	ctx := context.Background()

	target, err := svc.Target(ctx, SponsorSites, "sp-1")
	require.NoError(t, err)

	d := NewDialog(svc, nil, "sess-1", "admin-1")
	d.Open(target)
	assert.Equal(t, []string{"s2", "s3"}, d.Selected())

	require.NoError(t, d.Toggle("s1"))
	require.NoError(t, d.Toggle("s3"))

	out, err := d.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, notice.VariantSuccess, out.Notice.Variant)
	assert.True(t, out.Changed)

	require.Len(t, linker.payloads, 1)
	assert.Equal(t, []string{"s1", "s2"}, linker.payloads[0])

	linked, _ := linker.LinkedIDs(ctx, SponsorSites, "sp-1")
	assert.Equal(t, []string{"s1", "s2"}, linked)

	assert.False(t, d.IsOpen())
	assert.Empty(t, d.Selected())
}

// TestPurpose: Validates that submitting the same selection twice leaves the linked set unchanged.
// Scope: Unit Test
// Security: No duplicate edges
// Expected: Identical linked set after each of two identical submissions.
// Test Case ID: ASG-02
func TestDialog_Submit_Idempotent(t *testing.T) {
	linker := newMemLinker()
	linker.edges[TrialSites]["t-1"] = []string{"s1"}
	svc := NewService(linker, nil)
	ctx := context.Background()

	var sets [][]string
	for i := 0; i < 2; i++ {
		target, err := svc.Target(ctx, TrialSites, "t-1")
		require.NoError(t, err)
		d := NewDialog(svc, nil, "sess-1", "admin-1")
		d.Open(target)
		require.NoError(t, d.Select([]string{"s1", "s2"}))
		_, err = d.Submit(ctx)
		require.NoError(t, err)
		linked, _ := linker.LinkedIDs(ctx, TrialSites, "t-1")
		sets = append(sets, linked)
	}

	assert.Equal(t, []string{"s1", "s2"}, sets[0])
	assert.Equal(t, sets[0], sets[1])
}

// TestPurpose: Validates that a failed submission keeps the dialog open with its selection.
// Scope: Unit Test
// Security: Failure leaves state exactly as before the attempt
// Expected: Error notice; dialog open; selection kept; changed not flipped; linked set unchanged.
// Test Case ID: ASG-03
func TestDialog_Submit_FailureKeepsState(t *testing.T) {
	linker := newMemLinker()
	linker.edges[TrialSites]["t-1"] = []string{"s1"}
	linker.fail = &apperr.NetworkError{Status: 503, Message: "unavailable"}
	svc := NewService(linker, nil)
	ctx := context.Background()

	target, err := svc.Target(ctx, TrialSites, "t-1")
	require.NoError(t, err)
	d := NewDialog(svc, nil, "sess-1", "admin-1")
	d.Open(target)
	require.NoError(t, d.Toggle("s2"))

	out, err := d.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, notice.VariantError, out.Notice.Variant)
	assert.True(t, d.IsOpen())
	assert.Equal(t, []string{"s1", "s2"}, d.Selected())
	assert.False(t, d.Changed())

	linked, _ := linker.LinkedIDs(ctx, TrialSites, "t-1")
	assert.Equal(t, []string{"s1"}, linked)
}

// TestPurpose: Validates that the selection is reseeded only when the target changes.
// Scope: Unit Test
// Security: N/A
// Expected: Reopening the same target keeps local toggles; a different target reseeds.
// Test Case ID: ASG-04
func TestDialog_Open_ReseedsOnTargetChange(t *testing.T) {
	d := NewDialog(NewService(newMemLinker(), nil), nil, "sess-1", "admin-1")

	d.Open(Target{Relation: TrialSites, OwnerID: "t-1", Linked: []string{"s1"}})
	require.NoError(t, d.Toggle("s9"))
	d.Close()
	assert.Error(t, d.Toggle("s8"))

	d.Open(Target{Relation: TrialSites, OwnerID: "t-1", Linked: []string{"s1"}})
	assert.Equal(t, []string{"s1", "s9"}, d.Selected())

	d.Open(Target{Relation: TrialSites, OwnerID: "t-2", Linked: []string{"s4"}})
	assert.Equal(t, []string{"s4"}, d.Selected())
}

// TestPurpose: Validates that a late response for a superseded target is not applied.
// Scope: Unit Test
// Security: Late responses must not mutate state for another target
// Expected: Submit reports the backend's success marked superseded; the new target's selection is untouched.
// Test Case ID: ASG-05
func TestDialog_Submit_StaleTargetDropped(t *testing.T) {
	linker := newMemLinker()
	svc := NewService(linker, nil)
	d := NewDialog(svc, generation.NewTracker(), "sess-1", "admin-1")

	d.Open(Target{Relation: TrialSites, OwnerID: "t-1"})
	require.NoError(t, d.Toggle("s1"))

	// the dialog is reused for another trial while the request is in flight
	linker.before = func() {
		d.Open(Target{Relation: TrialSites, OwnerID: "t-2", Linked: []string{"s7"}})
	}

	out, err := d.Submit(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Superseded)
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Success)
	assert.True(t, d.IsOpen())
	assert.Equal(t, []string{"s7"}, d.Selected())
	assert.False(t, d.Changed())

	linked, _ := linker.LinkedIDs(context.Background(), TrialSites, "t-1")
	assert.Equal(t, []string{"s1"}, linked)
}

// TestPurpose: Validates that one dialog reused across rounds reseeds from the current linked set.
// Scope: Unit Test
// Security: An untouched resubmission must never drop existing edges
// Expected: Two unchanged rounds on the same trial both send ["s1"]; the linked set stays ["s1"].
// Test Case ID: ASG-07
func TestDialog_ReusedAcrossRounds(t *testing.T) {
	linker := newMemLinker()
	linker.edges[TrialSites]["t-1"] = []string{"s1"}
	svc := NewService(linker, nil)
	ctx := context.Background()
	d := NewDialog(svc, nil, "sess-1", "admin-1")

	for round := 0; round < 2; round++ {
		target, err := svc.Target(ctx, TrialSites, "t-1")
		require.NoError(t, err)
		d.Open(target)
		assert.Equal(t, []string{"s1"}, d.Selected(), "round %d", round)

		_, err = d.Submit(ctx)
		require.NoError(t, err)
		assert.False(t, d.IsOpen())
	}

	require.Len(t, linker.payloads, 2)
	assert.Equal(t, []string{"s1"}, linker.payloads[0])
	assert.Equal(t, []string{"s1"}, linker.payloads[1])
	linked, _ := linker.LinkedIDs(ctx, TrialSites, "t-1")
	assert.Equal(t, []string{"s1"}, linked)
	assert.False(t, d.Changed(), "two successes flip the toggle back")
}

// TestPurpose: Validates that a write the backend applied is not reported as a failure when
// another dialog on the same view opens meanwhile.
// Scope: Unit Test
// Security: Failures must leave state unchanged, so a completed write cannot be one
// Expected: No error; the outcome carries the backend result marked superseded; the linked set holds the write.
// Test Case ID: ASG-08
func TestDialog_Submit_SharedViewKeepsCompletedWrite(t *testing.T) {
	linker := newMemLinker()
	svc := NewService(linker, nil)
	gens := generation.NewTracker()
	ctx := context.Background()

	d1 := NewDialog(svc, gens, "sess-1", "admin-1")
	d2 := NewDialog(svc, gens, "sess-1", "admin-1")
	d1.Open(Target{Relation: TrialSites, OwnerID: "t-1"})
	require.NoError(t, d1.Toggle("s1"))

	var once sync.Once
	linker.before = func() {
		once.Do(func() { d2.Open(Target{Relation: TrialSites, OwnerID: "t-1"}) })
	}

	out, err := d1.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, out.Superseded)
	assert.Equal(t, notice.VariantSuccess, out.Notice.Variant)

	linked, _ := linker.LinkedIDs(ctx, TrialSites, "t-1")
	assert.Equal(t, []string{"s1"}, linked)
	assert.True(t, d2.IsOpen())
}

// TestPurpose: Validates sponsor-to-trial assignment with can_edit and single-edge removal.
// Scope: Unit Test
// Security: N/A
// Expected: One sponsor selected at a time; can_edit stored; removal deletes only that edge.
// Test Case ID: ASG-06
func TestDialog_TrialSponsors(t *testing.T) {
	linker := newMemLinker()
	linker.edges[TrialSponsors]["t-1"] = []string{"sp-9"}
	svc := NewService(linker, nil)
	ctx := context.Background()

	d := NewDialog(svc, nil, "sess-1", "admin-1")
	d.Open(Target{Relation: TrialSponsors, OwnerID: "t-1"})
	require.NoError(t, d.Toggle("sp-1"))
	require.NoError(t, d.Toggle("sp-2"))
	assert.Equal(t, []string{"sp-2"}, d.Selected())
	d.SetCanEdit(true)

	_, err := d.Submit(ctx)
	require.NoError(t, err)
	assert.True(t, linker.canEdit["t-1/sp-2"])

	linked, _ := linker.LinkedIDs(ctx, TrialSponsors, "t-1")
	assert.Equal(t, []string{"sp-2", "sp-9"}, linked)

	res, err := svc.RemoveSponsorFromTrial(ctx, "admin-1", "t-1", "sp-9")
	require.NoError(t, err)
	assert.True(t, res.Success)
	linked, _ = linker.LinkedIDs(ctx, TrialSponsors, "t-1")
	assert.Equal(t, []string{"sp-2"}, linked)

	_, err = svc.RemoveSponsorFromTrial(ctx, "admin-1", "t-1", "")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
