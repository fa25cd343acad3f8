package domain

import (
	"context"
	"fmt"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/google/uuid"
)

const maxSlugLength = 100

// ArtifactService implements spec.md §4.7's artifact actions: add,
// update, list. It owns slug generation and the legacy fileTable →
// targets migration.
type ArtifactService struct {
	factory *Factory
}

func NewArtifactService(f *Factory) *ArtifactService {
	return &ArtifactService{factory: f}
}

func validateArtifact(a *Artifact) error {
	if err := requireNonEmpty("title", a.Title); err != nil {
		return err
	}
	if len(a.Slug) > maxSlugLength {
		return apperr.Validation("slug", fmt.Sprintf("must not exceed %d characters", maxSlugLength), a.Slug)
	}
	for _, t := range a.Targets {
		if t.Action != "create" && t.Action != "modify" && t.Action != "delete" {
			return apperr.Validation("targets.action", "must be one of create, modify, delete", t.Action)
		}
	}
	return nil
}

// Add validates, auto-generates a slug from the title when absent,
// verifies uniqueness within the plan, checks relatedPhaseId, and
// creates the artifact.
func (s *ArtifactService) Add(ctx context.Context, projectID, planID string, a *Artifact) (*Artifact, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if err := validateArtifact(a); err != nil {
		return nil, err
	}
	if a.Slug == "" {
		a.Slug = Slugify(a.Title)
	}
	unique, err := s.slugUnique(ctx, store, a.Slug, "")
	if err != nil {
		return nil, err
	}
	if !unique {
		return nil, apperr.Validation("slug", "must be unique within plan", a.Slug)
	}
	if a.RelatedPhaseID != "" && !store.Phases.Exists(ctx, a.RelatedPhaseID) {
		return nil, apperr.Validation("relatedPhaseId", "must reference an existing phase", a.RelatedPhaseID)
	}
	migrateFileTable(a)

	a.Type = TypeArtifact
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if err := store.Artifacts.Create(ctx, a); err != nil {
		return nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *ArtifactService) slugUnique(ctx context.Context, store *Store, slug, excludeID string) (bool, error) {
	all, err := store.Artifacts.FindAll(ctx)
	if err != nil {
		return false, err
	}
	for _, a := range all {
		if a.ID == excludeID {
			continue
		}
		if a.Slug == slug {
			return false, nil
		}
	}
	return true, nil
}

// migrateFileTable converts the legacy fileTable representation into
// targets when targets is empty and fileTable is populated.
func migrateFileTable(a *Artifact) {
	if len(a.Targets) > 0 || len(a.FileTable) == 0 {
		return
	}
	a.Targets = a.FileTable
	a.FileTable = nil
}

func (s *ArtifactService) Get(ctx context.Context, projectID, planID, id string) (*Artifact, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	a, err := store.Artifacts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	migrateFileTable(a)
	return a, nil
}

func (s *ArtifactService) GetMany(ctx context.Context, projectID, planID string, ids []string) ([]*Artifact, error) {
	if len(ids) > maxGetMany {
		return nil, apperr.Validation("ids", fmt.Sprintf("must not exceed %d ids", maxGetMany), len(ids))
	}
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	all, err := store.Artifacts.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, a := range all {
		migrateFileTable(a)
	}
	return all, nil
}

// List queries artifacts with the generic filter/sort/pagination
// contract. When includeSourceCode is false, content.sourceCode is
// stripped from each result so large blobs are loaded only on request.
func (s *ArtifactService) List(ctx context.Context, projectID, planID string, filter *Filter, sortSpec *SortSpec, pagination *Pagination, includeSourceCode bool) (QueryResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := store.Artifacts.Query(ctx, toQueryOptions(filter, sortSpec, pagination))
	if err != nil {
		return QueryResult{}, err
	}
	items := make([]any, len(res.Items))
	for i, v := range res.Items {
		migrateFileTable(v)
		if !includeSourceCode {
			stripped := *v
			stripped.Content.SourceCode = ""
			items[i] = &stripped
			continue
		}
		items[i] = v
	}
	return QueryResult{Items: items, Total: res.Total, Offset: res.Offset, Limit: res.Limit, HasMore: res.HasMore}, nil
}

// Update patches an artifact, re-checking slug uniqueness if the slug is
// being changed and relatedPhaseId if it's being set.
func (s *ArtifactService) Update(ctx context.Context, projectID, planID, id string, patch map[string]any, expectedVersion *int) (*Artifact, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if slug, ok := patch["slug"].(string); ok && slug != "" {
		unique, err := s.slugUnique(ctx, store, slug, id)
		if err != nil {
			return nil, err
		}
		if !unique {
			return nil, apperr.Validation("slug", "must be unique within plan", slug)
		}
	}
	if phaseID, ok := patch["relatedPhaseId"].(string); ok && phaseID != "" {
		if !store.Phases.Exists(ctx, phaseID) {
			return nil, apperr.Validation("relatedPhaseId", "must reference an existing phase", phaseID)
		}
	}
	return updateWithHistory(ctx, store.Artifacts, store.History, store.Plans, projectID, planID, TypeArtifact, id, patch, expectedVersion)
}

func (s *ArtifactService) Delete(ctx context.Context, projectID, planID, id string) error {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return err
	}
	if err := store.Artifacts.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := store.Links.DeleteLinksForEntity(ctx, id); err != nil {
		return err
	}
	return store.RecomputeStatistics(ctx)
}

func (s *ArtifactService) GetHistory(ctx context.Context, projectID, planID, id string) (*history.EntityHistory, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.History.GetHistory(TypeArtifact, id)
}

func (s *ArtifactService) Diff(ctx context.Context, projectID, planID, id string, v1, v2 int) ([]history.FieldChange, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Artifacts.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.History.Diff(TypeArtifact, id, v1, v2, current.GetVersion(), current)
}

func (s *ArtifactService) ListFields() []string {
	return FieldNames(Artifact{})
}
