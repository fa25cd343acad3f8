package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/specvault/internal/storage/apperr"
	"github.com/cuemby/specvault/internal/storage/atomicio"
)

// configFileName is the workspace-local config file spec.md §6 names.
const configFileName = ".mcp-config.json"

// ValidateProjectID enforces spec.md §3's projectId constraints.
func ValidateProjectID(id string) error {
	if len(id) < 1 || len(id) > 50 {
		return apperr.Validation("projectId", "must be 1-50 characters", id)
	}
	for _, r := range id {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '_' || r == '-'
		if !ok {
			return apperr.Validation("projectId", "must be alphanumeric plus '._-'", id)
		}
	}
	if strings.HasPrefix(id, ".") || strings.HasPrefix(id, "_") || strings.HasPrefix(id, "-") {
		return apperr.Validation("projectId", "must not start with '.', '_' or '-'", id)
	}
	if strings.Contains(id, "..") {
		return apperr.Validation("projectId", "must not contain consecutive dots", id)
	}
	if strings.HasSuffix(id, ".") || strings.HasSuffix(id, "-") {
		return apperr.Validation("projectId", "must not end with '.' or '-'", id)
	}
	if strings.ContainsAny(id, "/\\") {
		return apperr.Validation("projectId", "must not contain path separators", id)
	}
	if ReservedOSNames[strings.ToUpper(id)] {
		return apperr.Validation("projectId", "must not be a reserved OS device name", id)
	}
	return nil
}

// LoadProjectConfig reads `.mcp-config.json` from workspacePath. A
// missing or malformed config is reported as a fatal error including the
// absolute working directory, per spec.md §6.
func LoadProjectConfig(workspacePath string) (*ProjectConfig, error) {
	abs, err := filepath.Abs(workspacePath)
	if err != nil {
		abs = workspacePath
	}
	path := filepath.Join(workspacePath, configFileName)
	if !atomicio.Exists(path) {
		return nil, fmt.Errorf("missing %s in workspace %s", configFileName, abs)
	}
	var cfg ProjectConfig
	if err := atomicio.ReadJSON(path, &cfg); err != nil {
		return nil, fmt.Errorf("malformed %s in workspace %s: %w", configFileName, abs, err)
	}
	if err := ValidateProjectID(cfg.ProjectID); err != nil {
		return nil, fmt.Errorf("invalid projectId in %s in workspace %s: %w", configFileName, abs, err)
	}
	return &cfg, nil
}

// SaveProjectConfig writes `.mcp-config.json` into workspacePath.
// Symlinked workspace paths are rejected.
func SaveProjectConfig(workspacePath string, cfg *ProjectConfig) error {
	if err := ValidateProjectID(cfg.ProjectID); err != nil {
		return err
	}
	info, err := os.Lstat(workspacePath)
	if err == nil && info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("workspace path %s is a symlink, refusing to save config", workspacePath)
	}
	if err := os.MkdirAll(workspacePath, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory %s: %w", workspacePath, err)
	}
	return atomicio.WriteJSON(filepath.Join(workspacePath, configFileName), cfg)
}
