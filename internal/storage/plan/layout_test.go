package plan

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLayoutRegularProject(t *testing.T) {
	l := Layout{BaseDir: "/data"}
	assert.Equal(t, filepath.Join("/data", "proj-1"), l.ProjectDir("proj-1"))
	assert.Equal(t, filepath.Join("/data", "proj-1", "plans"), l.PlansDir("proj-1"))
	assert.Equal(t, filepath.Join("/data", "proj-1", "plans", "plan-1"), l.PlanDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join("/data", "proj-1", "plans", "plan-1", "manifest.json"), l.ManifestPath("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join("/data", "proj-1", "active-plans.json"), l.ActivePlanIndexPath("proj-1"))
}

func TestLayoutLegacySentinelRoutesToBaseDir(t *testing.T) {
	l := Layout{BaseDir: "/data"}
	assert.True(t, IsLegacy(LegacyProjectSentinel))
	assert.Equal(t, "/data", l.ProjectDir(LegacyProjectSentinel))
	assert.Equal(t, filepath.Join("/data", "plans", "plan-1"), l.PlanDir(LegacyProjectSentinel, "plan-1"))
}

func TestLayoutSubdirectories(t *testing.T) {
	l := Layout{BaseDir: "/data"}
	root := l.PlanDir("proj-1", "plan-1")
	assert.Equal(t, filepath.Join(root, "entities"), l.EntitiesDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, "indexes"), l.IndexesDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, "indexes", "requirement-index.json"), l.IndexPath("proj-1", "plan-1", "requirement"))
	assert.Equal(t, filepath.Join(root, "indexes", "link-index.json"), l.LinkIndexPath("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, "links"), l.LinksDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, "history"), l.HistoryDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, ".locks"), l.LocksDir("proj-1", "plan-1"))
	assert.Equal(t, filepath.Join(root, "exports"), l.ExportsDir("proj-1", "plan-1"))
}
