package domain

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

func TestRequirementAddValidatesAndDefaults(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ctx := context.Background()

	req, err := svc.Add(ctx, f.ProjectID, f.PlanID, &Requirement{
		Title:    "Users can sign in",
		Priority: PriorityHigh,
		Category: CategoryFunctional,
		Source:   RequirementSource{Type: SourceUserRequest},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, TypeRequirement, req.Type)
	assert.Equal(t, 1, req.Version)
}

func TestRequirementAddRejectsEmptyTitle(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	_, err := svc.Add(context.Background(), f.ProjectID, f.PlanID, &Requirement{Title: "  "})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestRequirementAddRejectsBadPriority(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	_, err := svc.Add(context.Background(), f.ProjectID, f.PlanID, &Requirement{Title: "x", Priority: "urgent"})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func addRequirement(t *testing.T, f *testFixture, title string) *Requirement {
	t.Helper()
	svc := NewRequirementService(f.Factory)
	req, err := svc.Add(context.Background(), f.ProjectID, f.PlanID, &Requirement{
		Title:    title,
		Priority: PriorityMedium,
		Category: CategoryFunctional,
	})
	require.NoError(t, err)
	return req
}

func TestRequirementVoteAndUnvote(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ctx := context.Background()
	req := addRequirement(t, f, "vote me")

	updated, err := svc.Vote(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Votes)

	updated, err = svc.Vote(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Votes)

	updated, err = svc.Unvote(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Votes)
}

func TestRequirementUnvoteFlooredAtZero(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ctx := context.Background()
	req := addRequirement(t, f, "never voted")

	updated, err := svc.Unvote(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Votes)
}

func TestRequirementResetAllVotes(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ctx := context.Background()
	r1 := addRequirement(t, f, "one")
	r2 := addRequirement(t, f, "two")

	_, err := svc.Vote(ctx, f.ProjectID, f.PlanID, r1.ID)
	require.NoError(t, err)
	_, err = svc.Vote(ctx, f.ProjectID, f.PlanID, r2.ID)
	require.NoError(t, err)
	_, err = svc.Vote(ctx, f.ProjectID, f.PlanID, r2.ID)
	require.NoError(t, err)

	n, err := svc.ResetAllVotes(ctx, f.ProjectID, f.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got1, err := svc.Get(ctx, f.ProjectID, f.PlanID, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got1.Votes)
	assert.Equal(t, 3, got1.Version, "reset is a normal mutation that bumps version")
}

func TestRequirementGetManyEnforcesCap(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ids := make([]string, 101)
	_, err := svc.GetMany(context.Background(), f.ProjectID, f.PlanID, ids)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestRequirementDeleteRemovesLinks(t *testing.T) {
	f := newFixture(t)
	reqSvc := NewRequirementService(f.Factory)
	linkSvc := NewLinkingService(f.Factory)
	ctx := context.Background()

	req := addRequirement(t, f, "to be deleted")
	other := addRequirement(t, f, "stays")

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, &Link{ID: uuid.NewString(), SourceID: other.ID, TargetID: req.ID, RelationType: RelReferences})
	require.NoError(t, err)

	require.NoError(t, reqSvc.Delete(ctx, f.ProjectID, f.PlanID, req.ID))

	links, err := linkSvc.ListForEntity(ctx, f.ProjectID, f.PlanID, req.ID, DirBoth)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestRequirementUpdateRecordsHistoryAndDiff(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	ctx := context.Background()
	req := addRequirement(t, f, "original title")

	updated, err := svc.Update(ctx, f.ProjectID, f.PlanID, req.ID, map[string]any{"title": "new title"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "new title", updated.Title)
	assert.Equal(t, 2, updated.Version)

	hist, err := svc.GetHistory(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	require.Len(t, hist.Versions, 1)

	changes, err := svc.Diff(ctx, f.ProjectID, f.PlanID, req.ID, 1, 2)
	require.NoError(t, err)
	found := false
	for _, c := range changes {
		if c.Field == "title" {
			found = true
			assert.Equal(t, "original title", c.From)
			assert.Equal(t, "new title", c.To)
		}
	}
	assert.True(t, found, "diff must surface the title change")
}

func TestRequirementListFields(t *testing.T) {
	f := newFixture(t)
	svc := NewRequirementService(f.Factory)
	fields := svc.ListFields()
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "priority")
}
