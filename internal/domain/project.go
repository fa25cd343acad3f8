package domain

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/plan"
)

// ProjectService implements spec.md §4.7's project actions: init, get,
// list, delete. A project is just a projectId-rooted directory plus a
// workspace-local config file; it owns no entities of its own.
type ProjectService struct {
	baseDir string
	layout  plan.Layout
}

func NewProjectService(baseDir string) *ProjectService {
	return &ProjectService{baseDir: baseDir, layout: plan.Layout{BaseDir: baseDir}}
}

// Init validates projectID, writes the workspace's `.mcp-config.json`,
// and creates the project's root directory under baseDir.
func (s *ProjectService) Init(ctx context.Context, workspacePath string, cfg *ProjectConfig) (*ProjectConfig, error) {
	if err := plan.ValidateProjectID(cfg.ProjectID); err != nil {
		return nil, err
	}
	if err := plan.SaveProjectConfig(workspacePath, cfg); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.layout.ProjectDir(cfg.ProjectID), 0o755); err != nil {
		return nil, fmt.Errorf("creating project directory: %w", err)
	}
	return cfg, nil
}

// Get reads the workspace's `.mcp-config.json`.
func (s *ProjectService) Get(ctx context.Context, workspacePath string) (*ProjectConfig, error) {
	return plan.LoadProjectConfig(workspacePath)
}

// List enumerates every projectId directory under baseDir (excluding
// the legacy sentinel, which is not a real project).
func (s *ProjectService) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing projects under %s: %w", s.baseDir, err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == "plans" {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Delete removes a project's entire directory tree. Refuses the legacy
// sentinel, which is never owned by this implementation.
func (s *ProjectService) Delete(ctx context.Context, projectID string) error {
	if plan.IsLegacy(projectID) {
		return apperr.Validation("projectId", "legacy project layout is read-only", projectID)
	}
	dir := s.layout.ProjectDir(projectID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return apperr.NotFound("project", projectID)
	}
	return os.RemoveAll(dir)
}
