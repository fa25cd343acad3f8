package cmd

import (
	"fmt"

	"github.com/cuemby/specvault/internal/domain"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health [projectId] [planId]",
	Short: "Print entity counts and completion percentage for a plan",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := domain.NewQueryService(factory)
		report, err := svc.Health(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("requirements=%d solutions=%d decisions=%d phases=%d artifacts=%d completion=%.1f%% issues=%d\n",
			report.Statistics.TotalRequirements, report.Statistics.TotalSolutions,
			report.Statistics.TotalDecisions, report.Statistics.TotalPhases,
			report.Statistics.TotalArtifacts, report.Statistics.CompletionPercentage, report.IssueCount)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [projectId] [planId]",
	Short: "Export a plan's entities as markdown, json or yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		svc := domain.NewQueryService(factory)
		out, err := svc.Export(cmd.Context(), args[0], args[1], format, nil)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd, exportCmd)
	exportCmd.Flags().String("format", "markdown", "output format: markdown, json or yaml")
}
