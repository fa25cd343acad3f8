package cmd

import (
	"fmt"

	"github.com/cuemby/specvault/internal/domain"
	"github.com/spf13/cobra"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectInitCmd = &cobra.Command{
	Use:   "init [projectId]",
	Short: "Initialize a project and its workspace config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace, _ := cmd.Flags().GetString("workspace")
		name, _ := cmd.Flags().GetString("name")
		svc := domain.NewProjectService(cfg.Storage.BaseDir)
		got, err := svc.Init(cmd.Context(), workspace, &domain.ProjectConfig{ProjectID: args[0], Name: name})
		if err != nil {
			return err
		}
		fmt.Printf("initialized project %s at %s\n", got.ProjectID, workspace)
		return nil
	},
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := domain.NewProjectService(cfg.Storage.BaseDir)
		ids, err := svc.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectInitCmd, projectListCmd)

	projectInitCmd.Flags().String("workspace", ".", "workspace directory the project config is written into")
	projectInitCmd.Flags().String("name", "", "human-readable project name")
}
