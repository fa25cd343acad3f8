package repo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/atomicio"
	"github.com/cuemby/specvault/internal/storage/index"
	"github.com/cuemby/specvault/internal/storage/lock"
)

// LinkDirection selects which end of a link to match in FindLinksByEntity.
type LinkDirection string

const (
	DirIncoming LinkDirection = "incoming"
	DirOutgoing LinkDirection = "outgoing"
	DirBoth     LinkDirection = "both"
)

// Link is a directed, typed edge between two entities in the same plan.
// It lives here, rather than in the domain package, so this package
// never needs to import domain back (domain imports this package for
// Filter/SortSpec/Pagination); domain re-exports it as domain.Link.
type Link struct {
	ID           string         `json:"id"`
	SourceID     string         `json:"sourceId"`
	TargetID     string         `json:"targetId"`
	RelationType string         `json:"relationType"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"createdAt"`
	CreatedBy    string         `json:"createdBy,omitempty"`
}

func (l *Link) GetID() string { return l.ID }

// The nine allowed relation types.
const (
	RelImplements    = "implements"
	RelAddresses     = "addresses"
	RelDependsOn     = "depends_on"
	RelBlocks        = "blocks"
	RelAlternativeTo = "alternative_to"
	RelSupersedes    = "supersedes"
	RelReferences    = "references"
	RelDerivedFrom   = "derived_from"
	RelHasArtifact   = "has_artifact"
)

// RelationTypes is the closed set of allowed link relation types.
var RelationTypes = map[string]bool{
	RelImplements:    true,
	RelAddresses:     true,
	RelDependsOn:     true,
	RelBlocks:        true,
	RelAlternativeTo: true,
	RelSupersedes:    true,
	RelReferences:    true,
	RelDerivedFrom:   true,
	RelHasArtifact:   true,
}

// LinkRepository is §4.5's variation of Repository specialized for
// relation edges: composite-key (sourceId, targetId, relationType)
// uniqueness instead of a single id, with the create and delete
// operations locked on the composite key (or on the link id for delete)
// to close the TOCTOU window between a duplicate/existence check and the
// write.
type LinkRepository struct {
	dir   string
	index *index.Manager
	locks *lock.Manager
	clock Clock
}

// NewLinkRepository creates a LinkRepository rooted at dir (the plan's
// `links/` directory).
func NewLinkRepository(dir string, idx *index.Manager, locks *lock.Manager, clock Clock) *LinkRepository {
	return &LinkRepository{dir: dir, index: idx, locks: locks, clock: clock}
}

// Initialize creates the links directory and loads the index.
func (r *LinkRepository) Initialize() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating links directory %s: %w", r.dir, err)
	}
	return r.index.Initialize()
}

func (r *LinkRepository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}

func compositeResource(sourceID, targetID, relationType string) string {
	return fmt.Sprintf("link:%s:%s:%s", sourceID, targetID, relationType)
}

// CreateLink validates relationType and endpoint non-emptiness, then
// creates the link under a lock keyed on the composite
// (sourceId,targetId,relationType) so a concurrent duplicate create
// cannot race the existence check.
func (r *LinkRepository) CreateLink(ctx context.Context, l *Link) error {
	if l.SourceID == "" || l.TargetID == "" {
		return apperr.Validation("sourceId/targetId", "link endpoints must not be empty", nil)
	}
	if !RelationTypes[l.RelationType] {
		return apperr.Validation("relationType", "unknown relation type", l.RelationType)
	}
	if l.SourceID == l.TargetID {
		return apperr.Validation("targetId", "self-links are forbidden", l.TargetID)
	}

	resource := compositeResource(l.SourceID, l.TargetID, l.RelationType)
	return r.locks.WithLock(ctx, resource, func() error {
		if r.linkExistsLocked(l.SourceID, l.TargetID, l.RelationType) {
			return apperr.Duplicate(fmt.Sprintf("link %s->%s[%s] already exists", l.SourceID, l.TargetID, l.RelationType))
		}
		if l.ID == "" {
			return apperr.Validation("id", "id must not be empty", l.ID)
		}
		if l.CreatedAt == "" {
			l.CreatedAt = isoNow(r.clock)
		}
		if err := atomicio.WriteJSON(r.path(l.ID), l); err != nil {
			return fmt.Errorf("writing link %s: %w", l.ID, err)
		}
		return r.index.Add(index.Record{
			ID: l.ID, Type: "link", FilePath: r.path(l.ID),
			UpdatedAt: l.CreatedAt, SourceID: l.SourceID, TargetID: l.TargetID, RelationType: l.RelationType,
		})
	})
}

func (r *LinkRepository) linkExistsLocked(sourceID, targetID, relationType string) bool {
	for _, rec := range r.index.GetAll() {
		if rec.SourceID == sourceID && rec.TargetID == targetID && rec.RelationType == relationType {
			return true
		}
	}
	return false
}

// LinkExists reports whether the composite key is already present.
func (r *LinkRepository) LinkExists(_ context.Context, sourceID, targetID, relationType string) bool {
	return r.linkExistsLocked(sourceID, targetID, relationType)
}

// GetLinkByID loads a link by id.
func (r *LinkRepository) GetLinkByID(_ context.Context, id string) (*Link, error) {
	if !r.index.Has(id) {
		return nil, apperr.NotFound("link", id)
	}
	var l Link
	if err := atomicio.ReadJSON(r.path(id), &l); err != nil {
		return nil, apperr.Integrity(fmt.Sprintf("reading link %s: %v", id, err))
	}
	return &l, nil
}

func (r *LinkRepository) loadAll() ([]*Link, error) {
	recs := r.index.GetAll()
	out := make([]*Link, 0, len(recs))
	for _, rec := range recs {
		var l Link
		if err := atomicio.ReadJSON(r.path(rec.ID), &l); err != nil {
			return nil, apperr.Integrity(fmt.Sprintf("reading link %s: %v", rec.ID, err))
		}
		out = append(out, &l)
	}
	return out, nil
}

// FindLinksBySource returns every link whose source is sourceID,
// optionally filtered to one relationType.
func (r *LinkRepository) FindLinksBySource(_ context.Context, sourceID string, relationType string) ([]*Link, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*Link, 0)
	for _, l := range all {
		if l.SourceID != sourceID {
			continue
		}
		if relationType != "" && l.RelationType != relationType {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// FindLinksByTarget is the target-side mirror of FindLinksBySource.
func (r *LinkRepository) FindLinksByTarget(_ context.Context, targetID string, relationType string) ([]*Link, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*Link, 0)
	for _, l := range all {
		if l.TargetID != targetID {
			continue
		}
		if relationType != "" && l.RelationType != relationType {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// FindLinksByEntity returns every link touching entityID in the given
// direction.
func (r *LinkRepository) FindLinksByEntity(_ context.Context, entityID string, direction LinkDirection) ([]*Link, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	out := make([]*Link, 0)
	for _, l := range all {
		switch direction {
		case DirIncoming:
			if l.TargetID == entityID {
				out = append(out, l)
			}
		case DirOutgoing:
			if l.SourceID == entityID {
				out = append(out, l)
			}
		default:
			if l.SourceID == entityID || l.TargetID == entityID {
				out = append(out, l)
			}
		}
	}
	return out, nil
}

// FindAllLinks returns every link, optionally filtered to one
// relationType.
func (r *LinkRepository) FindAllLinks(_ context.Context, relationType string) ([]*Link, error) {
	all, err := r.loadAll()
	if err != nil {
		return nil, err
	}
	if relationType == "" {
		return all, nil
	}
	out := make([]*Link, 0, len(all))
	for _, l := range all {
		if l.RelationType == relationType {
			out = append(out, l)
		}
	}
	return out, nil
}

// DeleteLink removes a link by id, locked on `link:<id>` with a re-check
// of existence inside the lock to close the TOCTOU window against a
// concurrent delete of the same id.
func (r *LinkRepository) DeleteLink(ctx context.Context, id string) error {
	resource := "link:" + id
	return r.locks.WithLock(ctx, resource, func() error {
		if !r.index.Has(id) {
			return apperr.NotFound("link", id)
		}
		_ = os.Remove(r.path(id))
		return r.index.Delete(id)
	})
}

// DeleteLinksForEntity deletes every link touching entityID, one at a
// time under its own lock, and returns the count actually removed.
func (r *LinkRepository) DeleteLinksForEntity(ctx context.Context, entityID string) (int, error) {
	links, err := r.FindLinksByEntity(ctx, entityID, DirBoth)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range links {
		if err := r.DeleteLink(ctx, l.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// DeleteMany deletes every id in ids, tolerating individual failures,
// returning the count of successes.
func (r *LinkRepository) DeleteMany(ctx context.Context, ids []string) int {
	n := 0
	for _, id := range ids {
		if err := r.DeleteLink(ctx, id); err == nil {
			n++
		}
	}
	return n
}
