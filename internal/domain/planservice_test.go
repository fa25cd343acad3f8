package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/lock"
	"github.com/cuemby/specvault/internal/storage/plan"
)

func newPlanServiceFixture(t *testing.T) (*PlanService, string) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	plans := plan.NewRepository(t.TempDir(), lock.Options{}, clock)
	return NewPlanService(plans), "proj-1"
}

func TestPlanServiceCreateAssignsIDWhenEmpty(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	created, err := svc.Create(context.Background(), projectID, &PlanManifest{Name: "first plan"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
}

func TestPlanServiceCreateRejectsHistoryDepthOutOfRange(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1", MaxHistoryDepth: 11})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestPlanServiceGetAndList(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1"})
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), projectID, &PlanManifest{ID: "p2"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), projectID, "p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ID)

	list, err := svc.List(context.Background(), projectID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPlanServiceUpdateValidatesHistoryDepth(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), projectID, "p1", map[string]any{"maxHistoryDepth": 20})
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	updated, err := svc.Update(context.Background(), projectID, "p1", map[string]any{"maxHistoryDepth": 3, "name": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 3, updated.MaxHistoryDepth)
}

func TestPlanServiceArchive(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1"})
	require.NoError(t, err)

	archived, err := svc.Archive(context.Background(), projectID, "p1")
	require.NoError(t, err)
	assert.Equal(t, plan.PlanArchived, archived.Status)
}

func TestPlanServiceSetActiveRequiresExistingPlan(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	err := svc.SetActive(context.Background(), projectID, "/workspace/a", "missing")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPlanServiceSetActiveAndGetActive(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1"})
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(context.Background(), projectID, "/workspace/a", "p1"))
	got, err := svc.GetActive(context.Background(), projectID, "/workspace/a")
	require.NoError(t, err)
	assert.Equal(t, "p1", got)
}

func TestPlanServiceGetActiveNotFoundWhenNeverSet(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.GetActive(context.Background(), projectID, "/workspace/never-set")
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPlanServiceGetSummaryDerivesFlags(t *testing.T) {
	svc, projectID := newPlanServiceFixture(t)
	_, err := svc.Create(context.Background(), projectID, &PlanManifest{ID: "p1"})
	require.NoError(t, err)

	summary, err := svc.GetSummary(context.Background(), projectID, "p1")
	require.NoError(t, err)
	assert.False(t, summary.HasPhases)
	assert.False(t, summary.HasUnselectedTopic)
}
