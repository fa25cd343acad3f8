package domain

import (
	"context"
	"fmt"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/google/uuid"
)

// DecisionService implements spec.md §4.7's decision actions: record,
// update, supersede, with the two-mode supersede semantics described
// there.
type DecisionService struct {
	factory *Factory
}

func NewDecisionService(f *Factory) *DecisionService {
	return &DecisionService{factory: f}
}

func validateDecision(d *Decision) error {
	if err := requireNonEmpty("title", d.Title); err != nil {
		return err
	}
	if err := requireNonEmpty("question", d.Question); err != nil {
		return err
	}
	if err := requireNonEmpty("decision", d.Decision); err != nil {
		return err
	}
	if d.Status != "" && !validDecisionStatuses[d.Status] {
		return apperr.Validation("status", "must be one of active, superseded, reversed", d.Status)
	}
	return nil
}

// Record validates and creates a new decision.
func (s *DecisionService) Record(ctx context.Context, projectID, planID string, d *Decision) (*Decision, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if err := validateDecision(d); err != nil {
		return nil, err
	}
	d.Type = TypeDecision
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = DecisionActive
	}
	if err := store.Decisions.Create(ctx, d); err != nil {
		return nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *DecisionService) Get(ctx context.Context, projectID, planID, id string) (*Decision, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Decisions.FindByID(ctx, id)
}

func (s *DecisionService) GetMany(ctx context.Context, projectID, planID string, ids []string) ([]*Decision, error) {
	if len(ids) > maxGetMany {
		return nil, apperr.Validation("ids", fmt.Sprintf("must not exceed %d ids", maxGetMany), len(ids))
	}
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Decisions.FindByIDs(ctx, ids)
}

func (s *DecisionService) List(ctx context.Context, projectID, planID string, filter *Filter, sortSpec *SortSpec, pagination *Pagination) (QueryResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := store.Decisions.Query(ctx, toQueryOptions(filter, sortSpec, pagination))
	if err != nil {
		return QueryResult{}, err
	}
	items := make([]any, len(res.Items))
	for i, v := range res.Items {
		items[i] = v
	}
	return QueryResult{Items: items, Total: res.Total, Offset: res.Offset, Limit: res.Limit, HasMore: res.HasMore}, nil
}

// Update patches a decision directly. Supersede requests must go through
// Supersede; a plain update is rejected once the decision is already
// superseded, since spec.md keeps superseded decisions immutable except
// for the supersededBy backpointer that Supersede itself sets.
func (s *DecisionService) Update(ctx context.Context, projectID, planID, id string, patch map[string]any, expectedVersion *int) (*Decision, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Decisions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status == DecisionSuperseded {
		if _, ok := patch["supersededBy"]; !ok || len(patch) > 1 {
			return nil, apperr.Validation("status", "superseded decision is immutable except supersededBy", current.Status)
		}
	}
	return updateWithHistory(ctx, store.Decisions, store.History, store.Plans, projectID, planID, TypeDecision, id, patch, expectedVersion)
}

// Supersede retires decisionID in favor of newDecision. When
// newDecision.Decision looks like an existing decision's UUID, that
// decision is reused: its supersedes pointer is set to decisionID and no
// third record is created. Otherwise a fresh decision is created with
// supersedes = decisionID and the old decision appended to its
// alternativesConsidered. Superseding an already-superseded decision
// fails.
func (s *DecisionService) Supersede(ctx context.Context, projectID, planID, decisionID string, newDecision *Decision, reason string) (old *Decision, replacement *Decision, err error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, nil, err
	}
	current, err := store.Decisions.FindByID(ctx, decisionID)
	if err != nil {
		return nil, nil, err
	}
	if current.Status == DecisionSuperseded {
		return nil, nil, apperr.Validation("status", "decision is already superseded", current.Status)
	}

	existing, ok, err := store.Decisions.FindByIDOrNull(ctx, newDecision.Decision)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		replacement, err = store.Decisions.Update(ctx, existing.ID, map[string]any{"supersedes": decisionID}, nil)
		if err != nil {
			return nil, nil, err
		}
	} else {
		if err := requireNonEmpty("title", newDecision.Title); err != nil {
			return nil, nil, err
		}
		if err := requireNonEmpty("question", newDecision.Question); err != nil {
			return nil, nil, err
		}
		if err := requireNonEmpty("decision", newDecision.Decision); err != nil {
			return nil, nil, err
		}
		newDecision.Type = TypeDecision
		newDecision.ID = uuid.NewString()
		newDecision.Status = DecisionActive
		newDecision.Supersedes = decisionID
		newDecision.AlternativesConsidered = append(newDecision.AlternativesConsidered, Alternative{
			Option:       current.Title,
			Reasoning:    current.Decision,
			WhyNotChosen: reason,
		})
		if err := store.Decisions.Create(ctx, newDecision); err != nil {
			return nil, nil, err
		}
		replacement = newDecision
	}

	old, err = store.Decisions.Update(ctx, decisionID, map[string]any{
		"status":       DecisionSuperseded,
		"supersededBy": replacement.ID,
	}, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, nil, err
	}
	return old, replacement, nil
}

func (s *DecisionService) GetHistory(ctx context.Context, projectID, planID, id string) (*history.EntityHistory, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.History.GetHistory(TypeDecision, id)
}

func (s *DecisionService) Diff(ctx context.Context, projectID, planID, id string, v1, v2 int) ([]history.FieldChange, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Decisions.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.History.Diff(TypeDecision, id, v1, v2, current.GetVersion(), current)
}

func (s *DecisionService) ListFields() []string {
	return FieldNames(Decision{})
}
