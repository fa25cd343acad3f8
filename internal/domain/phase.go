package domain

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/history"
	"github.com/google/uuid"
)

// PhaseService implements spec.md §4.7's phase actions, including the
// tree-shaped parent/child invariants (path, depth, reparent-on-delete,
// move-to-end-of-siblings) and the get_next_actions/complete_and_advance
// workflow helpers.
type PhaseService struct {
	factory *Factory
}

func NewPhaseService(f *Factory) *PhaseService {
	return &PhaseService{factory: f}
}

func validatePhase(p *Phase) error {
	if err := requireNonEmpty("title", p.Title); err != nil {
		return err
	}
	if err := validateOrder(p.Order); err != nil {
		return err
	}
	if p.Status != "" && !validPhaseStatuses[p.Status] {
		return apperr.Validation("status", "must be one of planned, in_progress, completed, blocked, skipped", p.Status)
	}
	if p.Progress != 0 {
		if err := validateProgress(p.Progress); err != nil {
			return err
		}
	}
	return nil
}

// Add validates, computes path/depth from the parent chain, and creates
// a new phase.
func (s *PhaseService) Add(ctx context.Context, projectID, planID string, p *Phase) (*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if err := validatePhase(p); err != nil {
		return nil, err
	}
	if p.ParentID != "" {
		parent, err := store.Phases.FindByID(ctx, p.ParentID)
		if err != nil {
			return nil, err
		}
		p.Path = parent.Path + "." + strconv.Itoa(p.Order)
		p.Depth = parent.Depth + 1
	} else {
		p.Path = strconv.Itoa(p.Order)
		p.Depth = 0
	}
	p.Type = TypePhase
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = PhasePlanned
	}
	if err := store.Phases.Create(ctx, p); err != nil {
		return nil, err
	}
	if err := store.RecomputeStatistics(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PhaseService) Get(ctx context.Context, projectID, planID, id string) (*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Phases.FindByID(ctx, id)
}

func (s *PhaseService) GetMany(ctx context.Context, projectID, planID string, ids []string) ([]*Phase, error) {
	if len(ids) > maxGetMany {
		return nil, apperr.Validation("ids", fmt.Sprintf("must not exceed %d ids", maxGetMany), len(ids))
	}
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.Phases.FindByIDs(ctx, ids)
}

// PhaseNode is one node of the tree get_tree returns.
type PhaseNode struct {
	Phase    *Phase
	Children []*PhaseNode
}

// GetTree builds the full parent/child tree for the plan's phases,
// rooted at every phase with no parent.
func (s *PhaseService) GetTree(ctx context.Context, projectID, planID string) ([]*PhaseNode, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	all, err := store.Phases.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]*PhaseNode, len(all))
	for _, p := range all {
		nodes[p.ID] = &PhaseNode{Phase: p}
	}
	var roots []*PhaseNode
	for _, p := range all {
		node := nodes[p.ID]
		if p.ParentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[p.ParentID]
		if !ok {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	sortNodesByOrder(roots)
	for _, n := range nodes {
		sortNodesByOrder(n.Children)
	}
	return roots, nil
}

func sortNodesByOrder(nodes []*PhaseNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Phase.Order < nodes[j].Phase.Order })
}

func (s *PhaseService) List(ctx context.Context, projectID, planID string, filter *Filter, sortSpec *SortSpec, pagination *Pagination) (QueryResult, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return QueryResult{}, err
	}
	res, err := store.Phases.Query(ctx, toQueryOptions(filter, sortSpec, pagination))
	if err != nil {
		return QueryResult{}, err
	}
	items := make([]any, len(res.Items))
	for i, v := range res.Items {
		items[i] = v
	}
	return QueryResult{Items: items, Total: res.Total, Offset: res.Offset, Limit: res.Limit, HasMore: res.HasMore}, nil
}

func (s *PhaseService) Update(ctx context.Context, projectID, planID, id string, patch map[string]any, expectedVersion *int) (*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return updateWithHistory(ctx, store.Phases, store.History, store.Plans, projectID, planID, TypePhase, id, patch, expectedVersion)
}

// UpdateStatus sets status and optionally progress, then recomputes plan
// statistics (completion tracks completed phases). notes and actualEffort
// are accepted but not stored: Phase has no fields for them.
func (s *PhaseService) UpdateStatus(ctx context.Context, projectID, planID, id, status string, progress *int, notes, actualEffort string) (*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	if !validPhaseStatuses[status] {
		return nil, apperr.Validation("status", "must be one of planned, in_progress, completed, blocked, skipped", status)
	}
	patch := map[string]any{"status": status}
	if progress != nil {
		if err := validateProgress(*progress); err != nil {
			return nil, err
		}
		patch["progress"] = *progress
	}
	updated, err := updateWithHistory(ctx, store.Phases, store.History, store.Plans, projectID, planID, TypePhase, id, patch, nil)
	if err != nil {
		return nil, err
	}
	return updated, store.RecomputeStatistics(ctx)
}

// Move reparents a phase and/or reorders it among siblings, recomputing
// path/depth for it and every descendant.
func (s *PhaseService) Move(ctx context.Context, projectID, planID, id string, newParentID *string, newOrder *int) (*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	all, err := store.Phases.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*Phase, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	target, ok := byID[id]
	if !ok {
		return nil, apperr.NotFound(TypePhase, id)
	}

	parentID := target.ParentID
	if newParentID != nil {
		parentID = *newParentID
	}
	if parentID != "" && isDescendant(byID, parentID, id) {
		return nil, apperr.Validation("newParentId", "a phase cannot be moved under itself or one of its own descendants", parentID)
	}

	order := target.Order
	if newOrder != nil {
		if err := validateOrder(*newOrder); err != nil {
			return nil, err
		}
		order = *newOrder
	} else if newParentID != nil {
		order = maxSiblingOrder(all, parentID) + 1
	}

	var parentPath string
	var parentDepth int
	if parentID != "" {
		parent, ok := byID[parentID]
		if !ok {
			return nil, apperr.NotFound(TypePhase, parentID)
		}
		parentPath = parent.Path
		parentDepth = parent.Depth
	}

	path := strconv.Itoa(order)
	if parentPath != "" {
		path = parentPath + "." + strconv.Itoa(order)
	}
	depth := 0
	if parentID != "" {
		depth = parentDepth + 1
	}

	patch := map[string]any{"parentId": parentID, "order": order, "path": path, "depth": depth}
	updated, err := store.Phases.Update(ctx, id, patch, nil)
	if err != nil {
		return nil, err
	}

	if err := s.recomputeDescendantPaths(ctx, store, all, id, path, depth); err != nil {
		return nil, err
	}
	return updated, nil
}

// isDescendant reports whether id appears in startID's ancestor chain,
// i.e. whether startID is id or one of id's descendants.
func isDescendant(byID map[string]*Phase, startID, id string) bool {
	visited := make(map[string]bool)
	for cur := startID; cur != ""; {
		if cur == id {
			return true
		}
		if visited[cur] {
			break
		}
		visited[cur] = true
		p, ok := byID[cur]
		if !ok {
			break
		}
		cur = p.ParentID
	}
	return false
}

func maxSiblingOrder(all []*Phase, parentID string) int {
	max := 0
	for _, p := range all {
		if p.ParentID == parentID && p.Order > max {
			max = p.Order
		}
	}
	return max
}

func (s *PhaseService) recomputeDescendantPaths(ctx context.Context, store *Store, all []*Phase, parentID, parentPath string, parentDepth int) error {
	for _, child := range all {
		if child.ParentID != parentID {
			continue
		}
		path := parentPath + "." + strconv.Itoa(child.Order)
		depth := parentDepth + 1
		if _, err := store.Phases.Update(ctx, child.ID, map[string]any{"path": path, "depth": depth}, nil); err != nil {
			return err
		}
		if err := s.recomputeDescendantPaths(ctx, store, all, child.ID, path, depth); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a phase. When deleteChildren is false, each direct
// child is reparented to the deleted phase's parent (root if none) and
// given a fresh order, never the deleted phase's own order.
func (s *PhaseService) Delete(ctx context.Context, projectID, planID, id string, deleteChildren bool) error {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return err
	}
	all, err := store.Phases.FindAll(ctx)
	if err != nil {
		return err
	}
	target, err := store.Phases.FindByID(ctx, id)
	if err != nil {
		return err
	}

	var children []*Phase
	for _, p := range all {
		if p.ParentID == id {
			children = append(children, p)
		}
	}

	if deleteChildren {
		for _, c := range children {
			if err := s.Delete(ctx, projectID, planID, c.ID, true); err != nil {
				return err
			}
		}
	} else {
		newParentID := target.ParentID
		var newParentPath string
		var newParentDepth int
		if newParentID != "" {
			if p, ok := findPhase(all, newParentID); ok {
				newParentPath = p.Path
				newParentDepth = p.Depth
			}
		}
		next := maxSiblingOrder(all, newParentID)
		for _, c := range children {
			next++
			order := next
			if order > 10000 {
				order = 10000
			}
			path := strconv.Itoa(order)
			depth := 0
			if newParentID != "" {
				path = newParentPath + "." + strconv.Itoa(order)
				depth = newParentDepth + 1
			}
			if _, err := store.Phases.Update(ctx, c.ID, map[string]any{
				"parentId": newParentID, "order": order, "path": path, "depth": depth,
			}, nil); err != nil {
				return err
			}
			if err := s.recomputeDescendantPaths(ctx, store, all, c.ID, path, depth); err != nil {
				return err
			}
		}
	}

	if err := store.Phases.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := store.Links.DeleteLinksForEntity(ctx, id); err != nil {
		return err
	}
	return store.RecomputeStatistics(ctx)
}

func findPhase(all []*Phase, id string) (*Phase, bool) {
	for _, p := range all {
		if p.ID == id {
			return p, true
		}
	}
	return nil, false
}

// GetNextActions returns leaf phases (no children) whose status is
// planned or in_progress, sorted by priority then order.
func (s *PhaseService) GetNextActions(ctx context.Context, projectID, planID string) ([]*Phase, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	all, err := store.Phases.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	hasChildren := make(map[string]bool)
	for _, p := range all {
		if p.ParentID != "" {
			hasChildren[p.ParentID] = true
		}
	}
	var leaves []*Phase
	for _, p := range all {
		if hasChildren[p.ID] {
			continue
		}
		if p.Status != PhasePlanned && p.Status != PhaseInProgress {
			continue
		}
		leaves = append(leaves, p)
	}
	sort.Slice(leaves, func(i, j int) bool {
		ri, rj := PriorityRank(leaves[i].Priority), PriorityRank(leaves[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return leaves[i].Order < leaves[j].Order
	})
	return leaves, nil
}

// CompleteAndAdvance marks id completed and returns the next actions
// that become relevant afterward.
func (s *PhaseService) CompleteAndAdvance(ctx context.Context, projectID, planID, id string) (*Phase, []*Phase, error) {
	completed, err := s.UpdateStatus(ctx, projectID, planID, id, PhaseCompleted, intPtr(100), "", "")
	if err != nil {
		return nil, nil, err
	}
	next, err := s.GetNextActions(ctx, projectID, planID)
	if err != nil {
		return nil, nil, err
	}
	return completed, next, nil
}

func intPtr(v int) *int { return &v }

func (s *PhaseService) GetHistory(ctx context.Context, projectID, planID, id string) (*history.EntityHistory, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	return store.History.GetHistory(TypePhase, id)
}

func (s *PhaseService) Diff(ctx context.Context, projectID, planID, id string, v1, v2 int) ([]history.FieldChange, error) {
	store, err := s.factory.Open(ctx, projectID, planID)
	if err != nil {
		return nil, err
	}
	current, err := store.Phases.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return store.History.Diff(TypePhase, id, v1, v2, current.GetVersion(), current)
}

func (s *PhaseService) ListFields() []string {
	return FieldNames(Phase{})
}
