package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

// BatchOp is one operation in a batch: an entity-type tag, an optional
// tempId that later ops can reference via $0, $1, …, and an opaque
// create payload.
type BatchOp struct {
	EntityType string
	TempID     string
	Payload    map[string]any
}

// BatchResult is one op's outcome: the id it produced (real or,
// on failure, empty) and any error.
type BatchResult struct {
	TempID string
	ID     string
	Err    error
}

// tempIDPattern matches the $0, $1, … placeholders the batch executor
// resolves in ID-carrying fields.
var tempIDPattern = regexp.MustCompile(`^\$(\d+)$`)

// idFields are the top-level payload fields the executor scans for $N
// references; the nested source.parentId path is handled separately in
// resolveTempIDs.
var idFields = []string{"parentId", "sourceId", "targetId", "relatedPhaseId", "relatedSolutionId"}
var idListFields = []string{"addressing", "relatedRequirementIds"}

// BatchExecutor runs an ordered list of operations across entity types
// inside one plan, resolving $N temp-id references after each op
// produces its real id, and rolling back everything created so far (in
// reverse order) the moment one op fails.
type BatchExecutor struct {
	requirements *RequirementService
	solutions    *SolutionService
	decisions    *DecisionService
	phases       *PhaseService
	artifacts    *ArtifactService
	linking      *LinkingService
}

func NewBatchExecutor(requirements *RequirementService, solutions *SolutionService, decisions *DecisionService, phases *PhaseService, artifacts *ArtifactService, linking *LinkingService) *BatchExecutor {
	return &BatchExecutor{
		requirements: requirements,
		solutions:    solutions,
		decisions:    decisions,
		phases:       phases,
		artifacts:    artifacts,
		linking:      linking,
	}
}

type createdEntity struct {
	entityType string
	id         string
}

// Execute runs ops in order. On the first failure, every entity created
// so far in this call is deleted in reverse order (best-effort; a
// rollback failure is reported alongside the original error instead of
// masking it) and the results recorded up to and including the failing
// op are returned.
func (b *BatchExecutor) Execute(ctx context.Context, projectID, planID string, ops []BatchOp) ([]BatchResult, error) {
	ids := make(map[string]string, len(ops))
	var created []createdEntity
	results := make([]BatchResult, 0, len(ops))

	for i, op := range ops {
		payload := resolveTempIDs(op.Payload, ids)
		id, err := b.dispatch(ctx, projectID, planID, op.EntityType, payload)
		if err != nil {
			results = append(results, BatchResult{TempID: op.TempID, Err: err})
			rollbackErr := b.rollback(ctx, projectID, planID, created)
			if rollbackErr != nil {
				return results, apperr.Batch(fmt.Sprintf("op %d failed and rollback was incomplete: %v", i, rollbackErr), []error{err, rollbackErr})
			}
			return results, err
		}
		if op.TempID != "" {
			ids[op.TempID] = id
		}
		created = append(created, createdEntity{entityType: op.EntityType, id: id})
		results = append(results, BatchResult{TempID: op.TempID, ID: id})
	}
	return results, nil
}

// rollback deletes every entity created so far, most recent first.
// Decisions have no delete action in this system, so a decision created
// earlier in the batch cannot be reverted; that is reported as a
// rollback error rather than silently left in place.
func (b *BatchExecutor) rollback(ctx context.Context, projectID, planID string, created []createdEntity) error {
	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		c := created[i]
		var err error
		switch c.entityType {
		case TypeRequirement:
			err = b.requirements.Delete(ctx, projectID, planID, c.id)
		case TypeSolution:
			err = b.solutions.Delete(ctx, projectID, planID, c.id)
		case TypeDecision:
			err = fmt.Errorf("decision %s cannot be reverted: decisions have no delete operation", c.id)
		case TypePhase:
			err = b.phases.Delete(ctx, projectID, planID, c.id, true)
		case TypeArtifact:
			err = b.artifacts.Delete(ctx, projectID, planID, c.id)
		case "link":
			err = b.linking.Delete(ctx, projectID, planID, c.id)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (b *BatchExecutor) dispatch(ctx context.Context, projectID, planID, entityType string, payload map[string]any) (string, error) {
	switch entityType {
	case TypeRequirement:
		var req Requirement
		if err := decode(payload, &req); err != nil {
			return "", err
		}
		out, err := b.requirements.Add(ctx, projectID, planID, &req)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	case TypeSolution:
		var sol Solution
		if err := decode(payload, &sol); err != nil {
			return "", err
		}
		out, err := b.solutions.Propose(ctx, projectID, planID, &sol)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	case TypeDecision:
		var dec Decision
		if err := decode(payload, &dec); err != nil {
			return "", err
		}
		out, err := b.decisions.Record(ctx, projectID, planID, &dec)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	case TypePhase:
		var ph Phase
		if err := decode(payload, &ph); err != nil {
			return "", err
		}
		out, err := b.phases.Add(ctx, projectID, planID, &ph)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	case TypeArtifact:
		var art Artifact
		if err := decode(payload, &art); err != nil {
			return "", err
		}
		out, err := b.artifacts.Add(ctx, projectID, planID, &art)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	case "link":
		var l Link
		if err := decode(payload, &l); err != nil {
			return "", err
		}
		out, err := b.linking.Create(ctx, projectID, planID, &l)
		if err != nil {
			return "", err
		}
		return out.ID, nil
	default:
		return "", apperr.Validation("entityType", "unknown batch entity type", entityType)
	}
}

func decode(payload map[string]any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// resolveTempIDs returns a copy of payload with every $N reference in
// the known id-carrying fields (including the nested source.parentId
// path) replaced by the real id it resolved to in a prior op.
func resolveTempIDs(payload map[string]any, ids map[string]string) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for _, f := range idFields {
		if v, ok := out[f].(string); ok {
			out[f] = resolveOne(v, ids)
		}
	}
	for _, f := range idListFields {
		if v, ok := out[f].([]any); ok {
			resolved := make([]any, len(v))
			for i, item := range v {
				if s, ok := item.(string); ok {
					resolved[i] = resolveOne(s, ids)
				} else {
					resolved[i] = item
				}
			}
			out[f] = resolved
		}
	}
	if src, ok := out["source"].(map[string]any); ok {
		if parentID, ok := src["parentId"].(string); ok {
			srcCopy := make(map[string]any, len(src))
			for k, v := range src {
				srcCopy[k] = v
			}
			srcCopy["parentId"] = resolveOne(parentID, ids)
			out["source"] = srcCopy
		}
	}
	return out
}

func resolveOne(v string, ids map[string]string) string {
	if m := tempIDPattern.FindStringSubmatch(v); m != nil {
		if real, ok := ids[v]; ok {
			return real
		}
	}
	return v
}
