package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

func addDecision(t *testing.T, f *testFixture, title string) *Decision {
	t.Helper()
	svc := NewDecisionService(f.Factory)
	d, err := svc.Record(context.Background(), f.ProjectID, f.PlanID, &Decision{
		Title:    title,
		Question: "which approach?",
		Decision: "go with " + title,
	})
	require.NoError(t, err)
	return d
}

func TestDecisionRecordValidatesAndDefaults(t *testing.T) {
	f := newFixture(t)
	d := addDecision(t, f, "use postgres")
	assert.Equal(t, DecisionActive, d.Status)
	assert.Equal(t, TypeDecision, d.Type)
}

func TestDecisionRecordRejectsMissingFields(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	_, err := svc.Record(context.Background(), f.ProjectID, f.PlanID, &Decision{Title: "x"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDecisionGetAndGetMany(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	d1 := addDecision(t, f, "one")
	d2 := addDecision(t, f, "two")

	got, err := svc.Get(context.Background(), f.ProjectID, f.PlanID, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, d1.Title, got.Title)

	many, err := svc.GetMany(context.Background(), f.ProjectID, f.PlanID, []string{d1.ID, d2.ID})
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestDecisionUpdateAllowedWhileActive(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	d := addDecision(t, f, "x")

	updated, err := svc.Update(context.Background(), f.ProjectID, f.PlanID, d.ID, map[string]any{"consequences": "slower writes"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "slower writes", updated.Consequences)
}

func TestDecisionUpdateBlockedOnceSuperseded(t *testing.T) {
	f := newFixture(t)
	decSvc := NewDecisionService(f.Factory)
	d := addDecision(t, f, "old choice")

	_, _, err := decSvc.Supersede(context.Background(), f.ProjectID, f.PlanID, d.ID, &Decision{
		Title: "new choice", Question: "which approach now?", Decision: "go with new choice",
	}, "requirements changed")
	require.NoError(t, err)

	_, err = decSvc.Update(context.Background(), f.ProjectID, f.PlanID, d.ID, map[string]any{"consequences": "blocked"}, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDecisionUpdateAllowsSupersededByFieldEvenWhenSuperseded(t *testing.T) {
	f := newFixture(t)
	decSvc := NewDecisionService(f.Factory)
	d := addDecision(t, f, "old choice")

	_, _, err := decSvc.Supersede(context.Background(), f.ProjectID, f.PlanID, d.ID, &Decision{
		Title: "new choice", Question: "q", Decision: "new",
	}, "")
	require.NoError(t, err)

	replacement := addDecision(t, f, "unrelated")
	_, err = decSvc.Update(context.Background(), f.ProjectID, f.PlanID, d.ID, map[string]any{"supersededBy": replacement.ID}, nil)
	assert.NoError(t, err)
}

func TestDecisionSupersedeCreatesFreshDecision(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	old := addDecision(t, f, "use mysql")

	oldAfter, replacement, err := svc.Supersede(context.Background(), f.ProjectID, f.PlanID, old.ID, &Decision{
		Title:    "use postgres instead",
		Question: "which database?",
		Decision: "use postgres",
	}, "needed better JSON support")
	require.NoError(t, err)

	assert.Equal(t, DecisionSuperseded, oldAfter.Status)
	assert.Equal(t, replacement.ID, oldAfter.SupersededBy)
	assert.Equal(t, old.ID, replacement.Supersedes)
	require.Len(t, replacement.AlternativesConsidered, 1)
	assert.Equal(t, old.Title, replacement.AlternativesConsidered[0].Option)
}

func TestDecisionSupersedeReusesExistingDecisionByID(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	old := addDecision(t, f, "use mysql")
	existingReplacement := addDecision(t, f, "use postgres")

	oldAfter, replacement, err := svc.Supersede(context.Background(), f.ProjectID, f.PlanID, old.ID, &Decision{
		Decision: existingReplacement.ID,
	}, "")
	require.NoError(t, err)

	assert.Equal(t, existingReplacement.ID, replacement.ID)
	assert.Equal(t, old.ID, replacement.Supersedes)
	assert.Equal(t, DecisionSuperseded, oldAfter.Status)

	all, err := svc.List(context.Background(), f.ProjectID, f.PlanID, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total, "reuse mode must not create a third decision record")
}

func TestDecisionSupersedeRejectsAlreadySuperseded(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	d := addDecision(t, f, "old")
	_, _, err := svc.Supersede(context.Background(), f.ProjectID, f.PlanID, d.ID, &Decision{
		Title: "new", Question: "q", Decision: "new",
	}, "")
	require.NoError(t, err)

	_, _, err = svc.Supersede(context.Background(), f.ProjectID, f.PlanID, d.ID, &Decision{
		Title: "newer", Question: "q", Decision: "newer",
	}, "")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestDecisionGetHistoryAndDiff(t *testing.T) {
	f := newFixture(t)
	svc := NewDecisionService(f.Factory)
	d := addDecision(t, f, "original")

	_, err := svc.Update(context.Background(), f.ProjectID, f.PlanID, d.ID, map[string]any{"consequences": "new consequence"}, nil)
	require.NoError(t, err)

	hist, err := svc.GetHistory(context.Background(), f.ProjectID, f.PlanID, d.ID)
	require.NoError(t, err)
	require.Len(t, hist.Versions, 1)

	changes, err := svc.Diff(context.Background(), f.ProjectID, f.PlanID, d.ID, 1, 2)
	require.NoError(t, err)
	found := false
	for _, c := range changes {
		if c.Field == "consequences" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDecisionListFields(t *testing.T) {
	f := newFixture(t)
	fields := NewDecisionService(f.Factory).ListFields()
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "decision")
}
