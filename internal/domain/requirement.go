package domain

import (
	"context"
	"fmt"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/google/uuid"
)

// maxGetMany is the ceiling spec.md §4.7 places on a single get_many
// call.
const maxGetMany = 100

// RequirementService enforces the cross-entity invariants and validation
// rules for requirements on top of the generic repository.
type RequirementService struct {
	factory *Factory
}

func NewRequirementService(f *Factory) *RequirementService {
	return &RequirementService{factory: f}
}

// Add validates and creates a new requirement, then recomputes plan
// statistics.
func (s *RequirementService) Add(ctx context.Context, projectID, planID string, req *Requirement) (*Requirement, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if err := validateRequirement(req); err != nil {
		return nil, err
	}
	req.Type = TypeRequirement
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := store.Requirements.Create(ctx, req); err != nil {
		return nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, err
	}
	return req, nil
}

func validateRequirement(req *Requirement) error {
	if err := requireNonEmpty("title", req.Title); err != nil {
		return err
	}
	if err := validatePriority(req.Priority); err != nil {
		return err
	}
	if err := validateCategory(req.Category); err != nil {
		return err
	}
	if err := validateSourceType(req.Source.Type); err != nil {
		return err
	}
	for _, t := range req.Metadata.Tags {
		if err := requireNonEmpty("metadata.tags.key", t.Key); err != nil {
			return err
		}
	}
	return nil
}

// Get loads one requirement by id.
func (s *RequirementService) Get(ctx context.Context, projectID, planID, id string) (*Requirement, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Requirements.FindByID(ctx, id)
}

// GetMany loads up to maxGetMany requirements by id.
func (s *RequirementService) GetMany(ctx context.Context, projectID, planID string, ids []string) ([]*Requirement, error) {
	if len(ids) > maxGetMany {
		return nil, apperr.Validation("ids", fmt.Sprintf("must not exceed %d ids", maxGetMany), len(ids))
	}
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Requirements.FindByIDs(ctx, ids)
}

// List queries requirements with the generic filter/sort/pagination
// contract.
func (s *RequirementService) List(ctx context.Context, projectID, planID string, filter *Filter, sortSpec *SortSpec, pagination *Pagination) (QueryResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := store.Requirements.Query(ctx, toQueryOptions(filter, sortSpec, pagination))
	if err != nil {
		return QueryResult{}, err
	}
	items := make([]any, len(res.Items))
	for i, v := range res.Items {
		items[i] = v
	}
	return QueryResult{Items: items, Total: res.Total, Offset: res.Offset, Limit: res.Limit, HasMore: res.HasMore}, nil
}

// Update patches a requirement.
func (s *RequirementService) Update(ctx context.Context, projectID, planID, id string, patch map[string]any, expectedVersion *int) (*Requirement, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return updateWithHistory(ctx, store.Requirements, store.History, store.Plans, projectID, planID, TypeRequirement, id, patch, expectedVersion)
}

// Delete removes a requirement and every link touching it, then
// recomputes statistics.
func (s *RequirementService) Delete(ctx context.Context, projectID, planID, id string) error {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return err
	}
	if err := store.Requirements.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := store.Links.DeleteLinksForEntity(ctx, id); err != nil {
		return err
	}
	return store.RecomputeStatistics(ctx)
}

// Vote increments votes by 1 atomically.
func (s *RequirementService) Vote(ctx context.Context, projectID, planID, id string) (*Requirement, error) {
	return s.adjustVotes(ctx, projectID, planID, id, 1)
}

// Unvote decrements votes by 1, floored at 0.
func (s *RequirementService) Unvote(ctx context.Context, projectID, planID, id string) (*Requirement, error) {
	return s.adjustVotes(ctx, projectID, planID, id, -1)
}

func (s *RequirementService) adjustVotes(ctx context.Context, projectID, planID, id string, delta int) (*Requirement, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Requirements.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	newVotes := current.Votes + delta
	if newVotes < 0 {
		newVotes = 0
	}
	// The version read above is the expected version, so a concurrent
	// change fails with a version conflict instead of being overwritten.
	expected := current.GetVersion()
	return store.Requirements.Update(ctx, id, map[string]any{"votes": newVotes}, &expected)
}

// ResetAllVotes zeroes votes on every requirement in the plan. Per
// spec.md §9's resolved open question, this is a normal mutation: each
// requirement with non-zero votes has its version incremented by 1 and
// updatedAt refreshed; requirements already at 0 are left untouched. The
// returned count is the number of requirements updated.
func (s *RequirementService) ResetAllVotes(ctx context.Context, projectID, planID string) (int, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return 0, err
	}
	all, err := store.Requirements.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, r := range all {
		if r.Votes == 0 {
			continue
		}
		if _, err := store.Requirements.Update(ctx, r.ID, map[string]any{"votes": 0}, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// GetHistory returns the recorded version history for a requirement.
func (s *RequirementService) GetHistory(ctx context.Context, projectID, planID, id string) (*history.EntityHistory, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.History.GetHistory(TypeRequirement, id)
}

// Diff returns the field-level difference between two recorded versions
// of a requirement.
func (s *RequirementService) Diff(ctx context.Context, projectID, planID, id string, v1, v2 int) ([]history.FieldChange, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Requirements.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.History.Diff(TypeRequirement, id, v1, v2, current.GetVersion(), current)
}

// ListFields returns the field names available for projection on a
// requirement.
func (s *RequirementService) ListFields() []string {
	return FieldNames(Requirement{})
}
