package domain

import (
	"context"
	"fmt"
	"sort"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/google/uuid"
)

// SolutionService implements spec.md §4.7's solution actions: propose,
// compare, select (with the cross-solution demotion invariant), update,
// list, delete, bulk_update.
type SolutionService struct {
	factory *Factory
}

func NewSolutionService(f *Factory) *SolutionService {
	return &SolutionService{factory: f}
}

func validateSolution(sol *Solution) error {
	if err := requireNonEmpty("title", sol.Title); err != nil {
		return err
	}
	if len(sol.Addressing) == 0 {
		return apperr.Validation("addressing", "must reference at least one requirement", sol.Addressing)
	}
	if sol.Status != "" && !validSolutionStatuses[sol.Status] {
		return apperr.Validation("status", "must be one of proposed, selected, rejected", sol.Status)
	}
	return nil
}

// Propose validates and creates a new solution.
func (s *SolutionService) Propose(ctx context.Context, projectID, planID string, sol *Solution) (*Solution, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if err := validateSolution(sol); err != nil {
		return nil, err
	}
	for _, reqID := range sol.Addressing {
		if !store.Requirements.Exists(ctx, reqID) {
			return nil, apperr.Validation("addressing", fmt.Sprintf("requirement %s does not exist", reqID), reqID)
		}
	}
	sol.Type = TypeSolution
	if sol.ID == "" {
		sol.ID = uuid.NewString()
	}
	if sol.Status == "" {
		sol.Status = SolutionProposed
	}
	if err := store.Solutions.Create(ctx, sol); err != nil {
		return nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, err
	}
	return sol, nil
}

func (s *SolutionService) Get(ctx context.Context, projectID, planID, id string) (*Solution, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Solutions.FindByID(ctx, id)
}

func (s *SolutionService) GetMany(ctx context.Context, projectID, planID string, ids []string) ([]*Solution, error) {
	if len(ids) > maxGetMany {
		return nil, apperr.Validation("ids", fmt.Sprintf("must not exceed %d ids", maxGetMany), len(ids))
	}
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Solutions.FindByIDs(ctx, ids)
}

func (s *SolutionService) List(ctx context.Context, projectID, planID string, filter *Filter, sortSpec *SortSpec, pagination *Pagination) (QueryResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := store.Solutions.Query(ctx, toQueryOptions(filter, sortSpec, pagination))
	if err != nil {
		return QueryResult{}, err
	}
	items := make([]any, len(res.Items))
	for i, v := range res.Items {
		items[i] = v
	}
	return QueryResult{Items: items, Total: res.Total, Offset: res.Offset, Limit: res.Limit, HasMore: res.HasMore}, nil
}

// ComparisonCell is one solution's pros/cons/score for one aspect.
type ComparisonCell struct {
	SolutionID string
	Pros       []string
	Cons       []string
	Score      float64
}

type ComparisonAspect struct {
	Aspect       string
	Cells        []ComparisonCell
	WinnerID     string
}

// Comparison is the full aspect × solution matrix compare() builds.
type Comparison struct {
	Aspects       []ComparisonAspect
	OverallWinner string
}

// Compare builds an aspect × solution matrix with pros/cons/score. The
// per-aspect winner is the solution with the max score for that aspect;
// the overall winner is the solution with the max mean score across all
// aspects it has a tradeoff row for.
func (s *SolutionService) Compare(ctx context.Context, projectID, planID string, solutionIDs []string, aspects []string) (*Comparison, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	sols, err := store.Solutions.FindByIDs(ctx, solutionIDs)
	if err != nil {
		return nil, err
	}

	aspectSet := aspects
	if len(aspectSet) == 0 {
		seen := map[string]bool{}
		for _, sol := range sols {
			for _, t := range sol.Tradeoffs {
				if !seen[t.Aspect] {
					seen[t.Aspect] = true
					aspectSet = append(aspectSet, t.Aspect)
				}
			}
		}
		sort.Strings(aspectSet)
	}

	totals := make(map[string]float64)
	counts := make(map[string]int)

	comparison := &Comparison{}
	for _, aspect := range aspectSet {
		row := ComparisonAspect{Aspect: aspect}
		bestScore := -1.0
		for _, sol := range sols {
			cell := ComparisonCell{SolutionID: sol.ID}
			scored := false
			for _, t := range sol.Tradeoffs {
				if t.Aspect != aspect {
					continue
				}
				cell.Pros = t.Pros
				cell.Cons = t.Cons
				if t.Score != nil {
					cell.Score = *t.Score
					scored = true
					totals[sol.ID] += *t.Score
					counts[sol.ID]++
				}
			}
			row.Cells = append(row.Cells, cell)
			if scored && cell.Score > bestScore {
				bestScore = cell.Score
				row.WinnerID = sol.ID
			}
		}
		comparison.Aspects = append(comparison.Aspects, row)
	}

	bestMean := -1.0
	for _, sol := range sols {
		if counts[sol.ID] == 0 {
			continue
		}
		mean := totals[sol.ID] / float64(counts[sol.ID])
		if mean > bestMean {
			bestMean = mean
			comparison.OverallWinner = sol.ID
		}
	}
	return comparison, nil
}

// Select marks id as the selected solution, demotes every other
// `selected` solution addressing any of the same requirements to
// `rejected`, and optionally records a Decision.
func (s *SolutionService) Select(ctx context.Context, projectID, planID, id, reason string, createDecisionRecord bool) (*Solution, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	selected, err := store.Solutions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	addressed := make(map[string]bool, len(selected.Addressing))
	for _, r := range selected.Addressing {
		addressed[r] = true
	}

	all, err := store.Solutions.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	var deselected []*Solution
	for _, other := range all {
		if other.ID == id || other.Status != SolutionSelected {
			continue
		}
		shared := false
		for _, r := range other.Addressing {
			if addressed[r] {
				shared = true
				break
			}
		}
		if !shared {
			continue
		}
		updated, err := store.Solutions.Update(ctx, other.ID, map[string]any{"status": SolutionRejected}, nil)
		if err != nil {
			return nil, err
		}
		deselected = append(deselected, updated)
	}

	patch := map[string]any{"status": SolutionSelected}
	if reason != "" {
		patch["selectionReason"] = reason
	}
	updated, err := store.Solutions.Update(ctx, id, patch, nil)
	if err != nil {
		return nil, err
	}

	if createDecisionRecord {
		decisions := NewDecisionService(s.factory)
		alternatives := make([]Alternative, 0, len(deselected))
		for _, d := range deselected {
			alternatives = append(alternatives, Alternative{Option: d.Title, WhyNotChosen: "superseded by selected solution"})
		}
		_, err := decisions.Record(ctx, projectID, planID, &Decision{
			Title:                  fmt.Sprintf("Select solution: %s", updated.Title),
			Question:               fmt.Sprintf("Which solution should address %v?", updated.Addressing),
			Context:                updated.Description,
			Decision:               updated.Title,
			AlternativesConsidered: alternatives,
		})
		if err != nil {
			return nil, err
		}
	}

	return updated, store.RecomputeStatistics(ctx)
}

func (s *SolutionService) Update(ctx context.Context, projectID, planID, id string, patch map[string]any, expectedVersion *int) (*Solution, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return updateWithHistory(ctx, store.Solutions, store.History, store.Plans, projectID, planID, TypeSolution, id, patch, expectedVersion)
}

func (s *SolutionService) Delete(ctx context.Context, projectID, planID, id string) error {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return err
	}
	if err := store.Solutions.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := store.Links.DeleteLinksForEntity(ctx, id); err != nil {
		return err
	}
	return store.RecomputeStatistics(ctx)
}

// BulkUpdateItem is one item of a BulkUpdate call.
type BulkUpdateItem struct {
	ID              string
	Patch           map[string]any
	ExpectedVersion *int
}

// BulkUpdate applies a list of patches. When atomic is true and any item
// fails, every change already applied in this call is rolled back by
// writing back each touched solution's pre-update title, description,
// approach, status and selectionReason (best-effort: rollback failures
// are swallowed); other patched fields keep their new values. When
// atomic is false, it behaves like UpdateMany: best-effort, per item.
func (s *SolutionService) BulkUpdate(ctx context.Context, projectID, planID string, items []BulkUpdateItem, atomic bool) ([]*Solution, []error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, []error{err}
	}

	if !atomic {
		var results []*Solution
		var errs []error
		for _, item := range items {
			v, err := store.Solutions.Update(ctx, item.ID, item.Patch, item.ExpectedVersion)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, v)
		}
		return results, errs
	}

	var undos []solutionUndo
	var results []*Solution
	for _, item := range items {
		before, err := store.Solutions.FindByID(ctx, item.ID)
		if err != nil {
			s.rollbackBulk(ctx, store, undos)
			return nil, []error{err}
		}
		snapshot := map[string]any{
			"title": before.Title, "description": before.Description, "approach": before.Approach,
			"status": before.Status, "selectionReason": before.SelectionReason,
		}
		v, err := store.Solutions.Update(ctx, item.ID, item.Patch, item.ExpectedVersion)
		if err != nil {
			s.rollbackBulk(ctx, store, undos)
			return nil, []error{err}
		}
		undos = append(undos, solutionUndo{id: item.ID, data: snapshot})
		results = append(results, v)
	}
	return results, nil
}

type solutionUndo struct {
	id   string
	data map[string]any
}

func (s *SolutionService) rollbackBulk(ctx context.Context, store *Store, undos []solutionUndo) {
	for i := len(undos) - 1; i >= 0; i-- {
		_, _ = store.Solutions.Update(ctx, undos[i].id, undos[i].data, nil)
	}
}

func (s *SolutionService) GetHistory(ctx context.Context, projectID, planID, id string) (*history.EntityHistory, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.History.GetHistory(TypeSolution, id)
}

func (s *SolutionService) Diff(ctx context.Context, projectID, planID, id string, v1, v2 int) ([]history.FieldChange, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Solutions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.History.Diff(TypeSolution, id, v1, v2, current.GetVersion(), current)
}

func (s *SolutionService) ListFields() []string {
	return FieldNames(Solution{})
}
