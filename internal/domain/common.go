package domain

import (
	"context"

	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/cuemby/specvault/internal/storage/plan"
	"github.com/cuemby/specvault/internal/storage/repo"
)

// Re-exported so callers of this package don't need to import
// internal/storage/repo directly for the filter/sort/pagination types
// every list-style service action accepts.
type (
	Filter        = repo.Filter
	Condition     = repo.Condition
	Op            = repo.Op
	Combinator    = repo.Combinator
	SortSpec      = repo.SortSpec
	Pagination    = repo.Pagination
	LinkDirection = repo.LinkDirection
	Link          = repo.Link
)

// Re-exported from internal/storage/plan so that package never needs to
// import this one back for its manifest and project-config types.
type (
	Tag           = plan.Tag
	Statistics    = plan.Statistics
	PlanManifest  = plan.Manifest
	ProjectConfig = plan.ProjectConfig
)

var ReservedOSNames = plan.ReservedOSNames

const (
	LegacyProjectSentinel = plan.LegacyProjectSentinel
	PlanActive            = plan.PlanActive
	PlanArchived          = plan.PlanArchived
	PlanCompleted         = plan.PlanCompleted
)

const (
	DirIncoming = repo.DirIncoming
	DirOutgoing = repo.DirOutgoing
	DirBoth     = repo.DirBoth
)

// Link relation types, re-exported from repo so every caller sees one
// vocabulary regardless of which package it imports.
const (
	RelImplements    = repo.RelImplements
	RelAddresses     = repo.RelAddresses
	RelDependsOn     = repo.RelDependsOn
	RelBlocks        = repo.RelBlocks
	RelAlternativeTo = repo.RelAlternativeTo
	RelSupersedes    = repo.RelSupersedes
	RelReferences    = repo.RelReferences
	RelDerivedFrom   = repo.RelDerivedFrom
	RelHasArtifact   = repo.RelHasArtifact
)

var RelationTypes = repo.RelationTypes

const (
	OpEq         = repo.OpEq
	OpNe         = repo.OpNe
	OpGt         = repo.OpGt
	OpGte        = repo.OpGte
	OpLt         = repo.OpLt
	OpLte        = repo.OpLte
	OpIn         = repo.OpIn
	OpNin        = repo.OpNin
	OpContains   = repo.OpContains
	OpStartsWith = repo.OpStartsWith
	OpEndsWith   = repo.OpEndsWith
	OpExists     = repo.OpExists
	OpRegex      = repo.OpRegex

	And = repo.And
	Or  = repo.Or
)

// QueryResult is the type-erased result of a service-level List call: the
// generic repo.QueryResult[PT] collapsed to []any so every entity
// service can share one return shape regardless of T.
type QueryResult struct {
	Items   []any
	Total   int
	Offset  int
	Limit   int
	HasMore bool
}

func toQueryOptions(filter *Filter, sortSpec *SortSpec, pagination *Pagination) repo.QueryOptions {
	return repo.QueryOptions{Filter: filter, Sort: sortSpec, Pagination: pagination}
}

// updateWithHistory updates an entity through repository, first
// snapshotting its pre-update state into hist if the owning plan has
// history tracking enabled.
func updateWithHistory[T any, PT repo.EntityPtr[T]](
	ctx context.Context,
	repository *repo.Repository[T, PT],
	hist *history.Service,
	plans *plan.Repository,
	projectID, planID, entityType, id string,
	patch map[string]any,
	expectedVersion *int,
) (PT, error) {
	manifest, err := plans.GetPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}

	var pre PT
	if manifest.EnableHistory {
		pre, err = repository.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
	}

	updated, err := repository.Update(ctx, id, patch, expectedVersion)
	if err != nil {
		return nil, err
	}

	if manifest.EnableHistory && pre != nil {
		_ = hist.RecordSnapshot(entityType, id, pre, pre.GetVersion(), pre.GetUpdatedAt(), "", "", manifest.MaxHistoryDepth)
	}
	return updated, nil
}
