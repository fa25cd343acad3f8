package domain

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/cuemby/specvault/internal/storage/index"
	"github.com/cuemby/specvault/internal/storage/plan"
	"github.com/cuemby/specvault/internal/storage/repo"
)

// DefaultCacheSize is the per-entity-type LRU cache size used unless a
// Factory is configured otherwise.
const DefaultCacheSize = 500

// Store bundles every repository needed to serve one plan's domain
// operations.
type Store struct {
	ProjectID string
	PlanID    string

	Requirements *repo.Repository[Requirement, *Requirement]
	Solutions    *repo.Repository[Solution, *Solution]
	Decisions    *repo.Repository[Decision, *Decision]
	Phases       *repo.Repository[Phase, *Phase]
	Artifacts    *repo.Repository[Artifact, *Artifact]
	Links        *repo.LinkRepository
	History      *history.Service
	Plans        *plan.Repository
}

// Factory builds and caches a Store per (projectId, planId), mirroring
// the way plan.Repository caches one lock.Manager per plan: repository
// caches are process-local state that should persist across calls
// within a process, not be rebuilt per request.
type Factory struct {
	plans     *plan.Repository
	cacheSize int
	clock     repo.Clock

	mu     sync.Mutex
	stores map[string]*Store
}

// NewFactory creates a Factory backed by plans (the Plan Repository)
// and sized per-entity-type caches of cacheSize.
func NewFactory(plans *plan.Repository, cacheSize int, clock repo.Clock) *Factory {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	return &Factory{
		plans:     plans,
		cacheSize: cacheSize,
		clock:     clock,
		stores:    make(map[string]*Store),
	}
}

// Open returns the (lazily built, cached) Store for one plan, with every
// repository initialized (directories created, indexes loaded).
func (f *Factory) Open(ctx context.Context, projectID, planID string) (*Store, error) {
	key := projectID + "/" + planID
	f.mu.Lock()
	if s, ok := f.stores[key]; ok {
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()

	if _, err := f.plans.GetPlan(ctx, projectID, planID); err != nil {
		return nil, err
	}

	locks, err := f.plans.LockManagerForPlan(projectID, planID)
	if err != nil {
		return nil, fmt.Errorf("opening lock manager for plan %s: %w", planID, err)
	}
	layout := f.plans.Layout()

	reqIdx := index.New(layout.IndexPath(projectID, planID, TypeRequirement))
	requirements, err := repo.NewRepository[Requirement, *Requirement](TypeRequirement, layout.EntitiesDir(projectID, planID), reqIdx, locks, f.cacheSize, f.clock)
	if err != nil {
		return nil, err
	}

	solIdx := index.New(layout.IndexPath(projectID, planID, TypeSolution))
	solutions, err := repo.NewRepository[Solution, *Solution](TypeSolution, layout.EntitiesDir(projectID, planID), solIdx, locks, f.cacheSize, f.clock)
	if err != nil {
		return nil, err
	}

	decIdx := index.New(layout.IndexPath(projectID, planID, TypeDecision))
	decisions, err := repo.NewRepository[Decision, *Decision](TypeDecision, layout.EntitiesDir(projectID, planID), decIdx, locks, f.cacheSize, f.clock)
	if err != nil {
		return nil, err
	}

	phaseIdx := index.New(layout.IndexPath(projectID, planID, TypePhase))
	phases, err := repo.NewRepository[Phase, *Phase](TypePhase, layout.EntitiesDir(projectID, planID), phaseIdx, locks, f.cacheSize, f.clock)
	if err != nil {
		return nil, err
	}

	artIdx := index.New(layout.IndexPath(projectID, planID, TypeArtifact))
	artifacts, err := repo.NewRepository[Artifact, *Artifact](TypeArtifact, layout.EntitiesDir(projectID, planID), artIdx, locks, f.cacheSize, f.clock)
	if err != nil {
		return nil, err
	}

	linkIdx := index.New(layout.LinkIndexPath(projectID, planID))
	links := repo.NewLinkRepository(layout.LinksDir(projectID, planID), linkIdx, locks, f.clock)

	for _, initer := range []interface{ Initialize() error }{
		requirements, solutions, decisions, phases, artifacts, links,
	} {
		if err := initer.Initialize(); err != nil {
			return nil, err
		}
	}

	store := &Store{
		ProjectID:    projectID,
		PlanID:       planID,
		Requirements: requirements,
		Solutions:    solutions,
		Decisions:    decisions,
		Phases:       phases,
		Artifacts:    artifacts,
		Links:        links,
		History:      history.New(layout.HistoryDir(projectID, planID)),
		Plans:        f.plans,
	}

	f.mu.Lock()
	f.stores[key] = store
	f.mu.Unlock()
	return store, nil
}

// RecomputeStatistics recounts every entity type and the phase
// completion ratio, then persists the result into the plan manifest.
// Called by the entity services after every create/delete.
func (s *Store) RecomputeStatistics(ctx context.Context) error {
	reqs, err := s.Requirements.FindAll(ctx)
	if err != nil {
		return err
	}
	sols, err := s.Solutions.FindAll(ctx)
	if err != nil {
		return err
	}
	decs, err := s.Decisions.FindAll(ctx)
	if err != nil {
		return err
	}
	phases, err := s.Phases.FindAll(ctx)
	if err != nil {
		return err
	}
	arts, err := s.Artifacts.FindAll(ctx)
	if err != nil {
		return err
	}

	completion := 0.0
	if len(phases) > 0 {
		completed := 0
		for _, p := range phases {
			if p.Status == PhaseCompleted {
				completed++
			}
		}
		completion = 100 * float64(completed) / float64(len(phases))
	}

	return s.Plans.RecomputeStatistics(ctx, s.ProjectID, s.PlanID, Statistics{
		TotalRequirements:    len(reqs),
		TotalSolutions:       len(sols),
		TotalDecisions:       len(decs),
		TotalPhases:          len(phases),
		TotalArtifacts:       len(arts),
		CompletionPercentage: completion,
	})
}
