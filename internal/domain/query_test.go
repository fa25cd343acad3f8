package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

func TestQuerySearchLikePatternMatchesCaseInsensitively(t *testing.T) {
	f := newFixture(t)
	addRequirement(t, f, "Users can reset their password")
	addRequirement(t, f, "Admins can view audit logs")
	svc := NewQueryService(f.Factory)

	hits, err := svc.Search(context.Background(), f.ProjectID, f.PlanID, "%PASSWORD%", []string{TypeRequirement})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, TypeRequirement, hits[0].EntityType)
}

func TestQuerySearchEmptyPatternMatchesEverything(t *testing.T) {
	f := newFixture(t)
	reqSvc := NewRequirementService(f.Factory)
	ctx := context.Background()
	_, err := reqSvc.Add(ctx, f.ProjectID, f.PlanID, &Requirement{
		Title: "one", Description: "first requirement", Priority: PriorityMedium, Category: CategoryFunctional,
	})
	require.NoError(t, err)
	_, err = reqSvc.Add(ctx, f.ProjectID, f.PlanID, &Requirement{
		Title: "two", Description: "second requirement", Priority: PriorityMedium, Category: CategoryFunctional,
	})
	require.NoError(t, err)
	svc := NewQueryService(f.Factory)

	hits, err := svc.Search(ctx, f.ProjectID, f.PlanID, "", []string{TypeRequirement})
	require.NoError(t, err)
	assert.Len(t, hits, 2, "an empty pattern must match entities even when both title and description are non-empty")
}

func TestQueryTraceWalksRequirementToArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "needs login")
	sol := addSolution(t, f, "oauth", req.ID)
	phase := addPhase(t, f, "implement login", 1, "")
	art := addArtifact(t, f, "login.go")

	linkSvc := NewLinkingService(f.Factory)
	_, err := linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(sol.ID, req.ID, RelImplements))
	require.NoError(t, err)
	_, err = linkSvc.Create(ctx, f.ProjectID, f.PlanID, newLink(phase.ID, sol.ID, RelAddresses))
	require.NoError(t, err)

	artSvc := NewArtifactService(f.Factory)
	_, err = artSvc.Update(ctx, f.ProjectID, f.PlanID, art.ID, map[string]any{"relatedPhaseId": phase.ID}, nil)
	require.NoError(t, err)

	svc := NewQueryService(f.Factory)
	trace, err := svc.Trace(ctx, f.ProjectID, f.PlanID, req.ID)
	require.NoError(t, err)
	require.Len(t, trace.Solutions, 1)
	assert.Equal(t, sol.ID, trace.Solutions[0].ID)
	require.Len(t, trace.Phases, 1)
	assert.Equal(t, phase.ID, trace.Phases[0].ID)
	require.Len(t, trace.Artifacts, 1)
	assert.Equal(t, art.ID, trace.Artifacts[0].ID)
}

func TestQueryValidateBasicDetectsMissingField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	store, err := f.Factory.Open(ctx, f.ProjectID, f.PlanID)
	require.NoError(t, err)

	noTitle := &Requirement{ID: "r-missing-title", Type: TypeRequirement, Priority: PriorityMedium}
	require.NoError(t, store.Requirements.Create(ctx, noTitle))

	svc := NewQueryService(f.Factory)
	issues, err := svc.Validate(ctx, f.ProjectID, f.PlanID, "basic")
	require.NoError(t, err)

	var sawMissingField bool
	for _, issue := range issues {
		if issue.Kind == "missing_field" && issue.EntityID == "r-missing-title" {
			sawMissingField = true
		}
	}
	assert.True(t, sawMissingField)
}

func TestQueryValidateStrictFlagsUncoveredRequirement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := addRequirement(t, f, "uncovered")
	other := addRequirement(t, f, "covered")
	addSolution(t, f, "covers other", other.ID)

	svc := NewQueryService(f.Factory)
	issues, err := svc.Validate(ctx, f.ProjectID, f.PlanID, "strict")
	require.NoError(t, err)

	var sawUncovered bool
	for _, issue := range issues {
		if issue.Kind == "uncovered_requirement" && issue.EntityID == req.ID {
			sawUncovered = true
		}
	}
	assert.True(t, sawUncovered)
}

func TestQueryValidateBasicDoesNotFlagUncoveredRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	addRequirement(t, f, "uncovered but that's fine at basic level")

	svc := NewQueryService(f.Factory)
	issues, err := svc.Validate(ctx, f.ProjectID, f.PlanID, "basic")
	require.NoError(t, err)
	for _, issue := range issues {
		assert.NotEqual(t, "uncovered_requirement", issue.Kind)
	}
}

func TestQueryExportJSON(t *testing.T) {
	f := newFixture(t)
	addRequirement(t, f, "exported req")
	svc := NewQueryService(f.Factory)

	out, err := svc.Export(context.Background(), f.ProjectID, f.PlanID, "json", nil)
	require.NoError(t, err)
	assert.Contains(t, out, "exported req")
	assert.Contains(t, out, `"requirements"`)
}

func TestQueryExportYAML(t *testing.T) {
	f := newFixture(t)
	addRequirement(t, f, "yaml req")
	svc := NewQueryService(f.Factory)

	out, err := svc.Export(context.Background(), f.ProjectID, f.PlanID, "yaml", nil)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "requirements")
}

func TestQueryExportMarkdown(t *testing.T) {
	f := newFixture(t)
	addRequirement(t, f, "markdown req")
	svc := NewQueryService(f.Factory)

	out, err := svc.Export(context.Background(), f.ProjectID, f.PlanID, "markdown", []string{"requirements"})
	require.NoError(t, err)
	assert.Contains(t, out, "## Requirements")
	assert.Contains(t, out, "markdown req")
	assert.NotContains(t, out, "## Solutions")
}

func TestQueryExportRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	svc := NewQueryService(f.Factory)
	_, err := svc.Export(context.Background(), f.ProjectID, f.PlanID, "xml", nil)
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
}

func TestQueryHealthReturnsStatisticsAndIssueCount(t *testing.T) {
	f := newFixture(t)
	addRequirement(t, f, "healthy")
	svc := NewQueryService(f.Factory)

	report, err := svc.Health(context.Background(), f.ProjectID, f.PlanID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Statistics.TotalRequirements)
	assert.GreaterOrEqual(t, report.IssueCount, 0)
}
