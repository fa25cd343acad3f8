// Package repo implements the generic, per-plan, per-entity-type
// repository (spec.md §4.4) and the link repository (§4.5): file-backed
// CRUD with an on-disk index, a bounded LRU cache, optimistic
// concurrency via a version field, and resource-locked mutations.
//
// Grounded in shape on jra3-linear-fuse/internal/repo/repo.go's
// Repository interface (load/list/create/update contract over a storage
// backend) and on the teacher's CRUD method families in
// emergent-company-specmcp/internal/emergent/entities.go, generalized
// from "one remote object type" to "any entity type satisfying Entity"
// via Go generics.
package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/entitycache"
	"github.com/cuemby/specvault/internal/storage/index"
	"github.com/cuemby/specvault/internal/storage/atomicio"
	"github.com/cuemby/specvault/internal/storage/lock"
)

// Entity is the contract every repository-managed type satisfies,
// promoted from an embedded domain.Base.
type Entity interface {
	GetID() string
	GetType() string
	GetVersion() int
	SetVersion(int)
	GetCreatedAt() string
	SetCreatedAt(string)
	GetUpdatedAt() string
	SetUpdatedAt(string)
}

// EntityPtr expresses the "T's pointer type implements Entity" relation
// Go generics need to let a Repository work with *T while index and cache
// code that doesn't care about T's shape sees only Entity.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Clock is injected so tests can control timestamps; defaults to
// time.Now.
type Clock func() time.Time

func isoNow(c Clock) string {
	if c == nil {
		c = time.Now
	}
	return c().UTC().Format(time.RFC3339Nano)
}

// Repository is a generic, file-backed CRUD store for one entity type of
// one plan.
type Repository[T any, PT EntityPtr[T]] struct {
	entityType string
	dir        string
	index      *index.Manager
	cache      *entitycache.Cache[PT]
	locks      *lock.Manager
	clock      Clock
}

// NewRepository creates a Repository rooted at dir (the plan's
// `entities/` directory), backed by idx (already pointed at
// `indexes/<type>-index.json`) and serialized through locks.
func NewRepository[T any, PT EntityPtr[T]](entityType, dir string, idx *index.Manager, locks *lock.Manager, cacheSize int, clock Clock) (*Repository[T, PT], error) {
	cache, err := entitycache.New[PT](entityType, cacheSize)
	if err != nil {
		return nil, err
	}
	return &Repository[T, PT]{
		entityType: entityType,
		dir:        dir,
		index:      idx,
		cache:      cache,
		locks:      locks,
		clock:      clock,
	}, nil
}

// Initialize creates the entities directory and loads the index.
func (r *Repository[T, PT]) Initialize() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("creating entities directory %s: %w", r.dir, err)
	}
	return r.index.Initialize()
}

func (r *Repository[T, PT]) path(id string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s-%s.json", r.entityType, id))
}

func (r *Repository[T, PT]) resource(id string) string {
	return r.entityType + ":" + id
}

func (r *Repository[T, PT]) readFile(id string) (PT, error) {
	var v T
	if err := atomicio.ReadJSON(r.path(id), &v); err != nil {
		return nil, apperr.Integrity(fmt.Sprintf("reading %s %s: %v", r.entityType, id, err))
	}
	return PT(&v), nil
}

// FindByID loads an entity by id, consulting the cache first. Fails with
// NotFound if absent.
func (r *Repository[T, PT]) FindByID(_ context.Context, id string) (PT, error) {
	if v, ok := r.cache.Get(id); ok {
		return v, nil
	}
	if !r.index.Has(id) {
		return nil, apperr.NotFound(r.entityType, id)
	}
	v, err := r.readFile(id)
	if err != nil {
		return nil, err
	}
	r.cache.Set(id, v)
	return v, nil
}

// FindByIDOrNull is FindByID but returns (nil, false, nil) instead of a
// NotFound error when absent.
func (r *Repository[T, PT]) FindByIDOrNull(ctx context.Context, id string) (PT, bool, error) {
	v, err := r.FindByID(ctx, id)
	if apperr.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Exists reports whether id is present.
func (r *Repository[T, PT]) Exists(_ context.Context, id string) bool {
	return r.index.Has(id)
}

// FindByIDs loads every id present; missing ids are silently skipped.
func (r *Repository[T, PT]) FindByIDs(ctx context.Context, ids []string) ([]PT, error) {
	out := make([]PT, 0, len(ids))
	for _, id := range ids {
		v, ok, err := r.FindByIDOrNull(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// FindAll loads every entity of this type in the plan.
func (r *Repository[T, PT]) FindAll(ctx context.Context) ([]PT, error) {
	recs := r.index.GetAll()
	out := make([]PT, 0, len(recs))
	for _, rec := range recs {
		v, err := r.FindByID(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// Count returns the number of entities matching filter (nil matches
// everything).
func (r *Repository[T, PT]) Count(ctx context.Context, filter *Filter) (int, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		return len(all), nil
	}
	n := 0
	for _, v := range all {
		if filter.Matches(v) {
			n++
		}
	}
	return n, nil
}

// FindOne returns the first entity matching filter, in index order.
func (r *Repository[T, PT]) FindOne(ctx context.Context, filter Filter) (PT, bool, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, v := range all {
		if filter.Matches(v) {
			return v, true, nil
		}
	}
	return nil, false, nil
}

// QueryOptions is the filter/sort/paginate bundle accepted by Query.
type QueryOptions struct {
	Filter     *Filter
	Sort       *SortSpec
	Pagination *Pagination
}

// QueryResult is the paginated, post-filter result of Query.
type QueryResult[PT any] struct {
	Items   []PT
	Total   int
	Offset  int
	Limit   int
	HasMore bool
}

// Query applies options.Filter, sorts by options.Sort, and returns the
// options.Pagination window. Total is the post-filter count.
func (r *Repository[T, PT]) Query(ctx context.Context, opts QueryOptions) (QueryResult[PT], error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return QueryResult[PT]{}, err
	}

	filtered := all
	if opts.Filter != nil {
		filtered = make([]PT, 0, len(all))
		for _, v := range all {
			if opts.Filter.Matches(v) {
				filtered = append(filtered, v)
			}
		}
	}

	if opts.Sort != nil {
		sortEntities(filtered, *opts.Sort)
	}

	total := len(filtered)
	offset, limit := 0, total
	if opts.Pagination != nil {
		offset = opts.Pagination.Offset
		if opts.Pagination.Limit > 0 {
			limit = opts.Pagination.Limit
		}
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total || opts.Pagination == nil {
		end = total
	}
	if end < offset {
		end = offset
	}

	return QueryResult[PT]{
		Items:   filtered[offset:end],
		Total:   total,
		Offset:  offset,
		Limit:   limit,
		HasMore: end < total,
	}, nil
}

func sortEntities[PT any](items []PT, spec SortSpec) {
	sort.SliceStable(items, func(i, j int) bool {
		mi, _ := json.Marshal(items[i])
		mj, _ := json.Marshal(items[j])
		var a, b map[string]any
		json.Unmarshal(mi, &a)
		json.Unmarshal(mj, &b)
		fn, sn, _ := sortValue(a, spec.Field)
		fn2, sn2, _ := sortValue(b, spec.Field)

		var cmp int
		if sn == "" && sn2 == "" {
			switch {
			case fn < fn2:
				cmp = -1
			case fn > fn2:
				cmp = 1
			}
		} else {
			switch {
			case sn < sn2:
				cmp = -1
			case sn > sn2:
				cmp = 1
			}
		}
		if spec.Ascending {
			return cmp < 0
		}
		return cmp > 0
	})
}

// Create writes a new entity under its resource lock. Fails with
// Conflict{duplicate} if the id is already present.
func (r *Repository[T, PT]) Create(ctx context.Context, e PT) error {
	id := e.GetID()
	if id == "" {
		return apperr.Validation("id", "id must not be empty", id)
	}
	if e.GetType() == "" {
		return apperr.Validation("type", "type must not be empty", e.GetType())
	}
	if e.GetVersion() < 1 {
		e.SetVersion(1)
	}

	return r.locks.WithLock(ctx, r.resource(id), func() error {
		if r.index.Has(id) {
			return apperr.Duplicate(fmt.Sprintf("%s %s already exists", r.entityType, id))
		}
		now := isoNow(r.clock)
		if e.GetCreatedAt() == "" {
			e.SetCreatedAt(now)
		}
		e.SetUpdatedAt(now)

		if err := atomicio.WriteJSON(r.path(id), e); err != nil {
			return fmt.Errorf("writing %s %s: %w", r.entityType, id, err)
		}
		if err := r.index.Add(index.Record{
			ID: id, Type: r.entityType, FilePath: r.path(id),
			Version: e.GetVersion(), UpdatedAt: e.GetUpdatedAt(),
		}); err != nil {
			return err
		}
		r.cache.Set(id, e)
		return nil
	})
}

// Update loads the current entity, optionally checks expectedVersion,
// merges patch (minus any "version" key) over it, bumps version and
// updatedAt, and writes atomically. patch keys must match the entity's
// JSON field names.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, patch map[string]any, expectedVersion *int) (PT, error) {
	var result PT
	err := r.locks.WithLock(ctx, r.resource(id), func() error {
		if !r.index.Has(id) {
			return apperr.NotFound(r.entityType, id)
		}
		current, err := r.readFile(id)
		if err != nil {
			return err
		}
		if expectedVersion != nil && *expectedVersion != current.GetVersion() {
			return apperr.VersionConflict(*expectedVersion, current.GetVersion())
		}

		merged, err := mergePatch[T, PT](current, patch)
		if err != nil {
			return fmt.Errorf("merging patch for %s %s: %w", r.entityType, id, err)
		}
		merged.SetVersion(current.GetVersion() + 1)
		merged.SetUpdatedAt(isoNow(r.clock))

		if err := atomicio.WriteJSON(r.path(id), merged); err != nil {
			return fmt.Errorf("writing %s %s: %w", r.entityType, id, err)
		}
		if err := r.index.Update(index.Record{
			ID: id, Type: r.entityType, FilePath: r.path(id),
			Version: merged.GetVersion(), UpdatedAt: merged.GetUpdatedAt(),
		}); err != nil {
			return err
		}
		r.cache.Invalidate(id)
		r.cache.Set(id, merged)
		result = merged
		return nil
	})
	return result, err
}

func mergePatch[T any, PT EntityPtr[T]](current PT, patch map[string]any) (PT, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "version" {
			continue
		}
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return PT(&out), nil
}

// Delete removes an entity under its resource lock. Fails with NotFound
// if absent. A missing entity file (already removed out of band) is
// tolerated.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) error {
	return r.locks.WithLock(ctx, r.resource(id), func() error {
		if !r.index.Has(id) {
			return apperr.NotFound(r.entityType, id)
		}
		_ = os.Remove(r.path(id))
		if err := r.index.Delete(id); err != nil {
			return err
		}
		r.cache.Invalidate(id)
		return nil
	})
}

// CreateMany creates entities sequentially. On the first failure, every
// entity already created by this call is deleted in reverse order
// (rollback failures are swallowed); the returned error set has one
// entry per failed entity.
func (r *Repository[T, PT]) CreateMany(ctx context.Context, entities []PT) ([]PT, []error) {
	created := make([]PT, 0, len(entities))
	var errs []error
	for _, e := range entities {
		if err := r.Create(ctx, e); err != nil {
			errs = append(errs, err)
			for i := len(created) - 1; i >= 0; i-- {
				_ = r.Delete(ctx, created[i].GetID())
			}
			return nil, errs
		}
		created = append(created, e)
	}
	return created, nil
}

// UpdateSpec is one item of an UpdateMany call.
type UpdateSpec struct {
	ID              string
	Patch           map[string]any
	ExpectedVersion *int
}

// UpdateMany applies each update independently; a version mismatch or
// NotFound on one item does not prevent the rest from applying
// (non-atomic, per spec.md §9's decision for upsertMany/updateMany-style
// bulk operations).
func (r *Repository[T, PT]) UpdateMany(ctx context.Context, updates []UpdateSpec) ([]PT, []error) {
	results := make([]PT, 0, len(updates))
	var errs []error
	for _, u := range updates {
		v, err := r.Update(ctx, u.ID, u.Patch, u.ExpectedVersion)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, v)
	}
	return results, errs
}

// DeleteMany deletes every id, tolerating individual failures, and
// returns the count of successful deletions.
func (r *Repository[T, PT]) DeleteMany(ctx context.Context, ids []string) (int, []error) {
	n := 0
	var errs []error
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errs
}

// UpsertSpec is one item of an UpsertMany call: Entity is used to create
// when ID is absent from the index, Patch+ExpectedVersion are used to
// update when present.
type UpsertSpec[T any, PT EntityPtr[T]] struct {
	ID              string
	Entity          PT
	Patch           map[string]any
	ExpectedVersion *int
}

// UpsertMany is best-effort and non-atomic per item (spec.md §9, open
// question 1): each item either creates or updates independently, and
// one item's conflict does not roll back or block any other item.
func (r *Repository[T, PT]) UpsertMany(ctx context.Context, items []UpsertSpec[T, PT]) ([]PT, []error) {
	results := make([]PT, 0, len(items))
	var errs []error
	for _, item := range items {
		if r.index.Has(item.ID) {
			v, err := r.Update(ctx, item.ID, item.Patch, item.ExpectedVersion)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			results = append(results, v)
			continue
		}
		if err := r.Create(ctx, item.Entity); err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, item.Entity)
	}
	return results, errs
}
