package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spinneyio/lambdaconnect-go/internal/client"
	"github.com/spinneyio/lambdaconnect-go/internal/syncer"
	"github.com/spinneyio/lambdaconnect-go/internal/view"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a push-then-pull cycle against the server",
	Long: `Sync pushes locally changed records, then pulls server deltas
past the last known revision and merges them into the replica.

With --watch, sync keeps running: cycles fire on the configured
interval and whenever the server announces a change.`,
	Example: `  lcsync sync
  lcsync sync --full
  lcsync sync --watch`,
	RunE: runSync,
}

var (
	syncSkipPush bool
	syncSkipPull bool
	syncFull     bool
	syncTruncate bool
	syncWatch    bool
)

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().BoolVar(&syncSkipPush, "skip-push", false,
		"Pull only, leave local changes unpushed")
	syncCmd.Flags().BoolVar(&syncSkipPull, "skip-pull", false,
		"Push only, do not merge server changes")
	syncCmd.Flags().BoolVarP(&syncFull, "full", "f", false,
		"Force a full pull from revision 0")
	syncCmd.Flags().BoolVar(&syncTruncate, "truncate", false,
		"Wipe the local replica before syncing")
	syncCmd.Flags().BoolVarP(&syncWatch, "watch", "w", false,
		"Keep syncing on the configured interval and change feed")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	registry := view.NewRegistry(logger)
	if err := db.Initialize(ctx, registry, nil, client.InitOptions{Truncate: syncTruncate}); err != nil {
		printError("Initialization failed: %v", err)
		return err
	}

	opts := syncer.Options{
		SkipPush:      syncSkipPush,
		SkipPull:      syncSkipPull,
		ForceFullPull: syncFull,
	}

	result, err := db.Sync(ctx, opts)
	if err != nil {
		printError("Sync failed: %v", err)
		return err
	}
	reportResult(result)

	if !syncWatch {
		return nil
	}

	interval := cfg.Sync.AutoSyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if err := db.StartAutoSync(ctx, interval); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	db.StopAutoSync()
	printInfo("Stopped")
	return nil
}

func reportResult(result *syncer.Result) {
	if jsonOutput {
		printJSON(result)
		return
	}
	switch {
	case result.TryLater:
		printInfo("Server busy, changes will be resent next cycle")
	default:
		printSuccess("Pushed %d, pulled %d records", result.Pushed, result.Pulled)
	}
}
