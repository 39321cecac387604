package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/spinneyio/lambdaconnect-go/internal/client"
	"github.com/spinneyio/lambdaconnect-go/internal/view"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show replica state and per-entity counts",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	registry := view.NewRegistry(logger)
	if err := db.Initialize(ctx, registry, nil, client.InitOptions{}); err != nil {
		printError("Initialization failed: %v", err)
		return err
	}

	report, err := db.Report(ctx)
	if err != nil {
		printError("Status failed: %v", err)
		return err
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	printInfo("Status: %s", report.Status)
	if !report.LastSync.IsZero() {
		printInfo("Last sync: %s", report.LastSync.Format("2006-01-02 15:04:05"))
	}
	if report.LastError != "" {
		printError("Last error: %s", report.LastError)
	}
	for _, e := range report.Entities {
		printInfo("  %-24s rows=%-6d dirty=%-6d revision=%d",
			e.Name, e.Rows, e.DirtyRows, e.MaxRevision)
	}
	return nil
}
