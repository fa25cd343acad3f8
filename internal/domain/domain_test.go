package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/specvault/internal/storage/lock"
	"github.com/cuemby/specvault/internal/storage/plan"
)

// testFixture bundles a Factory and Plan/Project services over a single
// temp-dir-backed plan, ready for a domain service test.
type testFixture struct {
	Factory   *Factory
	Plans     *plan.Repository
	ProjectID string
	PlanID    string
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	plans := plan.NewRepository(t.TempDir(), lock.Options{}, clock)
	factory := NewFactory(plans, 100, clock)

	const projectID = "proj-1"
	const planID = "plan-1"
	require.NoError(t, plans.CreatePlan(context.Background(), projectID, &plan.Manifest{
		ID:              planID,
		EnableHistory:   true,
		MaxHistoryDepth: 10,
	}))

	return &testFixture{Factory: factory, Plans: plans, ProjectID: projectID, PlanID: planID}
}
