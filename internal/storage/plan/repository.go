package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/atomicio"
	"github.com/cuemby/specvault/internal/storage/lock"
)

// Clock is injected so tests can control timestamps; defaults to
// time.Now.
type Clock func() time.Time

func isoNow(c Clock) string {
	if c == nil {
		c = time.Now
	}
	return c().UTC().Format(time.RFC3339Nano)
}

// Repository owns plan directory lifecycle, manifest persistence, and
// the active-plan index. It lazily creates and caches one lock.Manager
// per plan (rooted at that plan's `.locks/`) and one per project (rooted
// at the project's own `.locks/`, guarding the active-plan index).
type Repository struct {
	layout Layout
	clock  Clock
	opts   lock.Options

	mu           sync.Mutex
	planLocks    map[string]*lock.Manager
	projectLocks map[string]*lock.Manager
}

// NewRepository creates a Repository rooted at baseDir.
func NewRepository(baseDir string, opts lock.Options, clock Clock) *Repository {
	return &Repository{
		layout:       Layout{BaseDir: baseDir},
		clock:        clock,
		opts:         opts,
		planLocks:    make(map[string]*lock.Manager),
		projectLocks: make(map[string]*lock.Manager),
	}
}

// Layout exposes the path-computation helper for callers (repositories,
// domain services) that need to locate a plan's entities/indexes/links
// directories.
func (r *Repository) Layout() Layout { return r.layout }

// LockManagerForPlan returns the (lazily initialized) lock manager for
// one plan's `.locks/` directory.
func (r *Repository) LockManagerForPlan(projectID, planID string) (*lock.Manager, error) {
	key := projectID + "/" + planID
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.planLocks[key]; ok {
		return m, nil
	}
	m := lock.New(r.layout.LocksDir(projectID, planID), r.opts)
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	r.planLocks[key] = m
	return m, nil
}

// LockManagerForProject returns the lock manager guarding project-scoped
// resources (the active-plan index).
func (r *Repository) LockManagerForProject(projectID string) (*lock.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.projectLocks[projectID]; ok {
		return m, nil
	}
	m := lock.New(r.layout.ProjectLocksDir(projectID), r.opts)
	if err := m.Initialize(); err != nil {
		return nil, err
	}
	r.projectLocks[projectID] = m
	return m, nil
}

// CreatePlan creates a new plan's directory tree and writes its initial
// manifest. Fails if projectID is the legacy sentinel (new plans must
// not be created in the legacy layout) or the plan already exists.
func (r *Repository) CreatePlan(ctx context.Context, projectID string, manifest *Manifest) error {
	if IsLegacy(projectID) {
		return apperr.Validation("projectId", "new plans must not be created in the legacy layout", projectID)
	}
	if manifest.ID == "" {
		return apperr.Validation("id", "plan id must not be empty", manifest.ID)
	}

	planDir := r.layout.PlanDir(projectID, manifest.ID)
	if atomicio.Exists(r.layout.ManifestPath(projectID, manifest.ID)) {
		return apperr.Duplicate(fmt.Sprintf("plan %s already exists", manifest.ID))
	}

	for _, dir := range []string{
		planDir,
		r.layout.EntitiesDir(projectID, manifest.ID),
		r.layout.IndexesDir(projectID, manifest.ID),
		r.layout.LinksDir(projectID, manifest.ID),
		r.layout.HistoryDir(projectID, manifest.ID),
		r.layout.LocksDir(projectID, manifest.ID),
		r.layout.ExportsDir(projectID, manifest.ID),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	now := isoNow(r.clock)
	manifest.ProjectID = projectID
	if manifest.Status == "" {
		manifest.Status = PlanActive
	}
	manifest.CreatedAt = now
	manifest.UpdatedAt = now

	return atomicio.WriteJSON(r.layout.ManifestPath(projectID, manifest.ID), manifest)
}

// GetPlan loads a plan's manifest.
func (r *Repository) GetPlan(_ context.Context, projectID, planID string) (*Manifest, error) {
	path := r.layout.ManifestPath(projectID, planID)
	if !atomicio.Exists(path) {
		return nil, apperr.NotFound("plan", planID)
	}
	var m Manifest
	if err := atomicio.ReadJSON(path, &m); err != nil {
		return nil, apperr.Integrity(fmt.Sprintf("reading plan manifest %s: %v", planID, err))
	}
	return &m, nil
}

// ListPlans lists every plan manifest under projectID.
func (r *Repository) ListPlans(_ context.Context, projectID string) ([]*Manifest, error) {
	plansDir := r.layout.PlansDir(projectID)
	entries, err := os.ReadDir(plansDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing plans under %s: %w", plansDir, err)
	}
	out := make([]*Manifest, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := r.layout.ManifestPath(projectID, e.Name())
		if !atomicio.Exists(path) {
			continue
		}
		var m Manifest
		if err := atomicio.ReadJSON(path, &m); err != nil {
			continue
		}
		out = append(out, &m)
	}
	return out, nil
}

// UpdatePlan merges patch over the current manifest (plans carry no
// version field; freshness is tracked by updatedAt alone) and persists
// it.
func (r *Repository) UpdatePlan(ctx context.Context, projectID, planID string, patch map[string]any) (*Manifest, error) {
	current, err := r.GetPlan(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "id" || k == "projectId" || k == "createdAt" {
			continue
		}
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out Manifest
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	out.UpdatedAt = isoNow(r.clock)
	if err := atomicio.WriteJSON(r.layout.ManifestPath(projectID, planID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ArchivePlan sets a plan's status to archived.
func (r *Repository) ArchivePlan(ctx context.Context, projectID, planID string) (*Manifest, error) {
	return r.UpdatePlan(ctx, projectID, planID, map[string]any{"status": PlanArchived})
}

// RecomputeStatistics overwrites a plan manifest's statistics block,
// called by domain services after any entity create/delete.
func (r *Repository) RecomputeStatistics(ctx context.Context, projectID, planID string, stats Statistics) error {
	current, err := r.GetPlan(ctx, projectID, planID)
	if err != nil {
		return err
	}
	current.Statistics = stats
	current.UpdatedAt = isoNow(r.clock)
	return atomicio.WriteJSON(r.layout.ManifestPath(projectID, planID), current)
}

// activePlanIndexResource is the dedicated lock resource name for
// read-modify-write access to the active-plan index file.
const activePlanIndexResource = "active-plan-index"

func (r *Repository) loadActiveIndex(projectID string) (map[string]string, error) {
	path := r.layout.ActivePlanIndexPath(projectID)
	if !atomicio.Exists(path) {
		return make(map[string]string), nil
	}
	var m map[string]string
	if err := atomicio.ReadJSON(path, &m); err != nil {
		return nil, fmt.Errorf("reading active-plan index for %s: %w", projectID, err)
	}
	return m, nil
}

// SetActive records planID as the active plan for workspacePath under
// projectID. Concurrent calls for different workspace paths race
// last-writer-wins under the dedicated active-plan-index lock, per
// spec.md §9's own stated fallback; no tombstone or merge is attempted.
func (r *Repository) SetActive(ctx context.Context, projectID, workspacePath, planID string) error {
	locks, err := r.LockManagerForProject(projectID)
	if err != nil {
		return err
	}
	return locks.WithLock(ctx, activePlanIndexResource, func() error {
		m, err := r.loadActiveIndex(projectID)
		if err != nil {
			return err
		}
		m[workspacePath] = planID
		dir := r.layout.ProjectDir(projectID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating project directory %s: %w", dir, err)
		}
		return atomicio.WriteJSON(r.layout.ActivePlanIndexPath(projectID), m)
	})
}

// GetActive reads the active plan recorded for workspacePath.
func (r *Repository) GetActive(_ context.Context, projectID, workspacePath string) (string, bool, error) {
	m, err := r.loadActiveIndex(projectID)
	if err != nil {
		return "", false, err
	}
	planID, ok := m[workspacePath]
	return planID, ok, nil
}
