package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/spinneyio/lambdaconnect-go/internal/client"
	"github.com/spinneyio/lambdaconnect-go/internal/config"
	"github.com/spinneyio/lambdaconnect-go/internal/events"
)

var (
	cfgPath    string
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger *events.Logger
	db     *client.Client
)

var rootCmd = &cobra.Command{
	Use:   "lcsync",
	Short: "Offline-first data synchronization client",
	Long: `lcsync keeps a local replica of server data in sync: it pushes
locally changed records, pulls server deltas past the last known
revision, and rebuilds the replica when the server schema changes.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.NewLoader(cfgPath).Load()
		if err != nil {
			return err
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if err := cfg.EnsureDirectories(); err != nil {
			return err
		}

		out := os.Stderr
		logger = events.New(cfg.Log.Level, cfg.Log.Format, out)
		if cfg.Log.File != "" {
			f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			logger = events.New(cfg.Log.Level, cfg.Log.Format, f)
		}

		db = client.New(cfg, logger)
		if token := loadToken(); token != "" {
			db.SetToken(token)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			_ = db.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "",
		"Config file path (default: ./lambdaconnect.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Machine-readable JSON output")
}

func tokenPath() string {
	return filepath.Join(cfg.Storage.StateDir, "token")
}

func loadToken() string {
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveToken(token string) error {
	return os.WriteFile(tokenPath(), []byte(token+"\n"), 0600)
}

func printSuccess(format string, args ...any) {
	color.New(color.FgGreen).FprintfFunc()(os.Stdout, "✓ "+format+"\n", args...)
}

func printError(format string, args ...any) {
	color.New(color.FgRed).FprintfFunc()(os.Stderr, "✗ "+format+"\n", args...)
}

func printInfo(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(os.Stdout, string(data))
}
