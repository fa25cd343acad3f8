package domain

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

func newLink(sourceID, targetID, relationType string) *Link {
	return &Link{ID: uuid.NewString(), SourceID: sourceID, TargetID: targetID, RelationType: relationType}
}

func addSolution(t *testing.T, f *testFixture, title, addressingReqID string) *Solution {
	t.Helper()
	svc := NewSolutionService(f.Factory)
	sol, err := svc.Propose(context.Background(), f.ProjectID, f.PlanID, &Solution{
		Title:      title,
		Addressing: []string{addressingReqID},
	})
	require.NoError(t, err)
	return sol
}

func TestLinkingCreateBetweenDifferentEntityTypes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "needs a login flow")
	sol := addSolution(t, f, "oauth provider", req.ID)
	linkSvc := NewLinkingService(f.Factory)

	created, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(sol.ID, req.ID, RelImplements))
	require.NoError(t, err)
	assert.Equal(t, RelImplements, created.RelationType)
}

func TestLinkingCreateRejectsSelfLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "alone")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(req.ID, req.ID, RelReferences))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestLinkingCreateRejectsUnknownSourceEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "target exists")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink("does-not-exist", req.ID, RelReferences))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestLinkingCreateRejectsUnknownTargetEntity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "source exists")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(req.ID, "does-not-exist", RelReferences))
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestLinkingCreateRejectsDirectCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelDependsOn))
	require.NoError(t, err)

	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(b.ID, a.ID, RelDependsOn))
	require.Error(t, err)
	assert.True(t, apperr.IsIntegrity(err))
}

func TestLinkingCreateRejectsTransitiveCycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	c := addRequirement(t, f, "c")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelDependsOn))
	require.NoError(t, err)
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(b.ID, c.ID, RelDependsOn))
	require.NoError(t, err)

	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(c.ID, a.ID, RelDependsOn))
	require.Error(t, err)
	assert.True(t, apperr.IsIntegrity(err))
}

func TestLinkingCreateAllowsNonCyclicChain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	c := addRequirement(t, f, "c")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelDependsOn))
	require.NoError(t, err)
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(b.ID, c.ID, RelDependsOn))
	require.NoError(t, err)

	// a also depends directly on c: not a cycle, just a shortcut edge.
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, c.ID, RelDependsOn))
	assert.NoError(t, err)
}

func TestLinkingGetAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	linkSvc := NewLinkingService(f.Factory)

	created, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelReferences))
	require.NoError(t, err)

	got, err := linkSvc.Get(ctx, f.ProjectID, f.PlanID, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	require.NoError(t, linkSvc.Delete(ctx, f.ProjectID, f.PlanID, created.ID))

	_, err = linkSvc.Get(ctx, f.ProjectID, f.PlanID, created.ID)
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestLinkingListForEntityDirectionFiltering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	c := addRequirement(t, f, "c")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelReferences))
	require.NoError(t, err)
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(c.ID, a.ID, RelReferences))
	require.NoError(t, err)

	out, err := linkSvc.ListForEntity(ctx, f.ProjectID, f.PlanID, a.ID, DirOutgoing)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].TargetID)

	in, err := linkSvc.ListForEntity(ctx, f.ProjectID, f.PlanID, a.ID, DirIncoming)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, c.ID, in[0].SourceID)

	both, err := linkSvc.ListForEntity(ctx, f.ProjectID, f.PlanID, a.ID, DirBoth)
	require.NoError(t, err)
	assert.Len(t, both, 2)
}

func TestLinkingListAllFiltersByRelationType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := addRequirement(t, f, "a")
	b := addRequirement(t, f, "b")
	c := addRequirement(t, f, "c")
	linkSvc := NewLinkingService(f.Factory)

	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(a.ID, b.ID, RelReferences))
	require.NoError(t, err)
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(b.ID, c.ID, RelDependsOn))
	require.NoError(t, err)

	refs, err := linkSvc.ListAll(ctx, f.ProjectID, f.PlanID, RelReferences)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, RelReferences, refs[0].RelationType)

	all, err := linkSvc.ListAll(ctx, f.ProjectID, f.PlanID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLinkingListFields(t *testing.T) {
	f := newFixture(t)
	fields := NewLinkingService(f.Factory).ListFields()
	assert.Contains(t, fields, "sourceId")
	assert.Contains(t, fields, "targetId")
	assert.Contains(t, fields, "relationType")
}
