// Package plan implements the Plan Repository (spec.md §4.6): plan
// directory lifecycle, manifest persistence, the legacy read-only
// layout sentinel, and the active-plan-per-workspace index.
package plan

import (
	"path/filepath"
)

// Layout computes every path under a base directory for a given
// (projectId, planId), honoring the legacy-layout sentinel.
type Layout struct {
	BaseDir string
}

// IsLegacy reports whether projectID is the reserved sentinel that
// routes access to the legacy, read-only `<baseDir>/plans/<planId>/…`
// tree instead of the per-project `<baseDir>/<projectId>/plans/<planId>/…`
// tree.
func IsLegacy(projectID string) bool {
	return projectID == LegacyProjectSentinel
}

// ProjectDir is the root directory for projectID's plans and
// active-plan index.
func (l Layout) ProjectDir(projectID string) string {
	if IsLegacy(projectID) {
		return l.BaseDir
	}
	return filepath.Join(l.BaseDir, projectID)
}

// PlansDir is the directory holding every plan for projectID.
func (l Layout) PlansDir(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), "plans")
}

// PlanDir is the root directory of one plan.
func (l Layout) PlanDir(projectID, planID string) string {
	return filepath.Join(l.PlansDir(projectID), planID)
}

func (l Layout) ManifestPath(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "manifest.json")
}

func (l Layout) EntitiesDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "entities")
}

func (l Layout) IndexesDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "indexes")
}

func (l Layout) IndexPath(projectID, planID, entityType string) string {
	return filepath.Join(l.IndexesDir(projectID, planID), entityType+"-index.json")
}

func (l Layout) LinkIndexPath(projectID, planID string) string {
	return filepath.Join(l.IndexesDir(projectID, planID), "link-index.json")
}

func (l Layout) LinksDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "links")
}

func (l Layout) HistoryDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "history")
}

func (l Layout) LocksDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), ".locks")
}

func (l Layout) ExportsDir(projectID, planID string) string {
	return filepath.Join(l.PlanDir(projectID, planID), "exports")
}

// ActivePlanIndexPath is the single active-plan index file for a
// project: a `workspacePath -> planId` map.
func (l Layout) ActivePlanIndexPath(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), "active-plans.json")
}

// ProjectLocksDir is where project-scoped resources (currently just the
// active-plan index) are locked, distinct from any individual plan's
// `.locks/` directory.
func (l Layout) ProjectLocksDir(projectID string) string {
	return filepath.Join(l.ProjectDir(projectID), ".locks")
}
