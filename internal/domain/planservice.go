package domain

import (
	"context"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/plan"
	"github.com/google/uuid"
)

// PlanService implements spec.md §4.7's plan actions: create, list, get,
// update, archive, set_active, get_active. It owns nothing but the Plan
// Repository; statistics are recomputed by the entity services, not
// here.
type PlanService struct {
	plans *plan.Repository
}

func NewPlanService(plans *plan.Repository) *PlanService {
	return &PlanService{plans: plans}
}

// Create validates and creates a new plan manifest.
func (s *PlanService) Create(ctx context.Context, projectID string, manifest *PlanManifest) (*PlanManifest, error) {
	if manifest.MaxHistoryDepth < 0 || manifest.MaxHistoryDepth > 10 {
		return nil, apperr.Validation("maxHistoryDepth", "must be between 0 and 10", manifest.MaxHistoryDepth)
	}
	if manifest.ID == "" {
		manifest.ID = uuid.NewString()
	}
	if err := s.plans.CreatePlan(ctx, projectID, manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (s *PlanService) Get(ctx context.Context, projectID, planID string) (*PlanManifest, error) {
	return s.plans.GetPlan(ctx, projectID, planID)
}

func (s *PlanService) List(ctx context.Context, projectID string) ([]*PlanManifest, error) {
	return s.plans.ListPlans(ctx, projectID)
}

func (s *PlanService) Update(ctx context.Context, projectID, planID string, patch map[string]any) (*PlanManifest, error) {
	if v, ok := patch["maxHistoryDepth"]; ok {
		depth, isInt := toInt(v)
		if !isInt || depth < 0 || depth > 10 {
			return nil, apperr.Validation("maxHistoryDepth", "must be between 0 and 10", v)
		}
	}
	return s.plans.UpdatePlan(ctx, projectID, planID, patch)
}

func (s *PlanService) Archive(ctx context.Context, projectID, planID string) (*PlanManifest, error) {
	return s.plans.ArchivePlan(ctx, projectID, planID)
}

// SetActive records planID as the active plan for workspacePath.
func (s *PlanService) SetActive(ctx context.Context, projectID, workspacePath, planID string) error {
	if _, err := s.plans.GetPlan(ctx, projectID, planID); err != nil {
		return err
	}
	return s.plans.SetActive(ctx, projectID, workspacePath, planID)
}

// GetActive reads the active plan recorded for workspacePath, falling
// back to NotFound if none has been set.
func (s *PlanService) GetActive(ctx context.Context, projectID, workspacePath string) (string, error) {
	planID, ok, err := s.plans.GetActive(ctx, projectID, workspacePath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", apperr.NotFound("active-plan", workspacePath)
	}
	return planID, nil
}

// PlanSummary is the get_summary view: the manifest plus a short health
// read-out, without walking the entire entity graph.
type PlanSummary struct {
	Manifest           *PlanManifest
	HasPhases          bool
	HasUnselectedTopic bool
}

// GetSummary returns a plan's manifest alongside a couple of derived
// flags useful for a quick status readout.
func (s *PlanService) GetSummary(ctx context.Context, projectID, planID string) (*PlanSummary, error) {
	manifest, err := s.plans.GetPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return &PlanSummary{
		Manifest:           manifest,
		HasPhases:          manifest.Statistics.TotalPhases > 0,
		HasUnselectedTopic: manifest.Statistics.TotalSolutions > 0 && manifest.Statistics.TotalDecisions == 0,
	}, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
