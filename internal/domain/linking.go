package domain

import (
	"context"

	"github.com/cuemby/specvault/internal/storage/apperr"
)

// LinkingService implements spec.md §4.7's linking invariants that the
// repository layer, by itself, does not know about: endpoint existence
// across every entity type, self-link rejection, and depends_on cycle
// detection.
type LinkingService struct {
	factory *Factory
}

func NewLinkingService(f *Factory) *LinkingService {
	return &LinkingService{factory: f}
}

// Create verifies both endpoints exist, rejects self-links, runs cycle
// detection for depends_on edges, and delegates to the link repository.
func (s *LinkingService) Create(ctx context.Context, projectID, planID string, l *Link) (*Link, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if l.SourceID == l.TargetID {
		return nil, apperr.Validation("targetId", "link endpoints must differ", l.TargetID)
	}
	if !s.entityExists(ctx, store, l.SourceID) {
		return nil, apperr.Validation("sourceId", "must reference an existing entity", l.SourceID)
	}
	if !s.entityExists(ctx, store, l.TargetID) {
		return nil, apperr.Validation("targetId", "must reference an existing entity", l.TargetID)
	}

	if l.RelationType == RelDependsOn {
		cyclic, err := s.wouldCycle(ctx, store, l.SourceID, l.TargetID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, apperr.Integrity("Circular dependency detected")
		}
	}

	if err := store.Links.CreateLink(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *LinkingService) entityExists(ctx context.Context, store *Store, id string) bool {
	return store.Requirements.Exists(ctx, id) ||
		store.Solutions.Exists(ctx, id) ||
		store.Decisions.Exists(ctx, id) ||
		store.Phases.Exists(ctx, id) ||
		store.Artifacts.Exists(ctx, id)
}

// wouldCycle reports whether adding source -> target to the current
// depends_on subgraph would create a cycle: true iff target can already
// reach source.
func (s *LinkingService) wouldCycle(ctx context.Context, store *Store, source, target string) (bool, error) {
	edges, err := store.Links.FindAllLinks(ctx, RelDependsOn)
	if err != nil {
		return false, err
	}
	adjacency := make(map[string][]string, len(edges))
	for _, e := range edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
	}
	adjacency[source] = append(adjacency[source], target)

	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == source && visited[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range adjacency[node] {
			if next == source {
				return true
			}
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(target), nil
}

func (s *LinkingService) Delete(ctx context.Context, projectID, planID, id string) error {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return err
	}
	return store.Links.DeleteLink(ctx, id)
}

func (s *LinkingService) Get(ctx context.Context, projectID, planID, id string) (*Link, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Links.GetLinkByID(ctx, id)
}

func (s *LinkingService) ListForEntity(ctx context.Context, projectID, planID, entityID string, direction LinkDirection) ([]*Link, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Links.FindLinksByEntity(ctx, entityID, direction)
}

func (s *LinkingService) ListAll(ctx context.Context, projectID, planID, relationType string) ([]*Link, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Links.FindAllLinks(ctx, relationType)
}

func (s *LinkingService) ListFields() []string {
	return FieldNames(Link{})
}
