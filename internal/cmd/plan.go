package cmd

import (
	"fmt"

	"github.com/cuemby/specvault/internal/domain"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Manage plans within a project",
}

var planCreateCmd = &cobra.Command{
	Use:   "create [projectId] [name]",
	Short: "Create a plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enableHistory, _ := cmd.Flags().GetBool("enable-history")
		maxDepth, _ := cmd.Flags().GetInt("max-history-depth")
		if !cmd.Flags().Changed("max-history-depth") && cfg.Storage.MaxHistoryDepth > 0 {
			maxDepth = cfg.Storage.MaxHistoryDepth
		}
		svc := domain.NewPlanService(plans)
		manifest, err := svc.Create(cmd.Context(), args[0], &domain.PlanManifest{
			ProjectID:       args[0],
			Name:            args[1],
			Status:          domain.PlanActive,
			EnableHistory:   enableHistory,
			MaxHistoryDepth: maxDepth,
		})
		if err != nil {
			return err
		}
		fmt.Printf("created plan %s (%s)\n", manifest.ID, manifest.Name)
		return nil
	},
}

var planListCmd = &cobra.Command{
	Use:   "list [projectId]",
	Short: "List a project's plans",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := domain.NewPlanService(plans)
		list, err := svc.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, m := range list {
			fmt.Printf("%s\t%s\t%s\n", m.ID, m.Status, m.Name)
		}
		return nil
	},
}

var planArchiveCmd = &cobra.Command{
	Use:   "archive [projectId] [planId]",
	Short: "Archive a plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := domain.NewPlanService(plans)
		_, err := svc.Archive(cmd.Context(), args[0], args[1])
		return err
	},
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planCreateCmd, planListCmd, planArchiveCmd)

	planCreateCmd.Flags().Bool("enable-history", false, "record version history for this plan's entities")
	planCreateCmd.Flags().Int("max-history-depth", 5, "snapshots retained per entity when history is enabled")
}
